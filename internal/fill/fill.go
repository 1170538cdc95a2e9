package fill

import (
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Params controls temporal filling.
type Params struct {
	// MaxSearchFrames bounds the donor search distance in each
	// direction.
	MaxSearchFrames int
	// SceneThreshold is the minimum scene similarity for a neighbor to
	// donate pixels.
	SceneThreshold float64
	// HistWeight and DiffWeight blend the two scene similarity terms.
	HistWeight float64
	DiffWeight float64
	// InpaintRadius is the classical inpaint radius for residual gaps.
	InpaintRadius float32
}

// DefaultParams returns the fill defaults.
func DefaultParams() Params {
	return Params{
		MaxSearchFrames: 30,
		SceneThreshold:  0.5,
		HistWeight:      0.6,
		DiffWeight:      0.4,
		InpaintRadius:   2,
	}
}

// Neighborhood supplies the frames and cached masks around the frame
// being filled. Returned Mats are owned by the caller of the getter.
type Neighborhood interface {
	// Frame returns the BGR frame at index, or false when unavailable.
	Frame(index int) (gocv.Mat, bool)
	// Mask returns the cached removal mask for a frame. false means the
	// frame has no mask, making every pixel usable as a donor.
	Mask(index int) (gocv.Mat, bool)
	// FrameCount is the total number of frames.
	FrameCount() int
}

// Result is a successful fill.
type Result struct {
	// Image is the filled BGR frame, owned by the caller.
	Image gocv.Mat
	// Donors counts the neighbors that contributed pixels.
	Donors int
	// Residual is true when a classical inpaint pass completed the
	// regions no donor could provide.
	Residual bool
}

// Fill reconstructs the masked pixels of one frame:
//  1. Walk neighbors backward then forward, nearest first, up to
//     MaxSearchFrames in each direction.
//  2. Gate every neighbor on scene similarity so pixels never cross a
//     cut.
//  3. From accepted donors copy only pixels still missing and not
//     masked in the donor's own cached mask.
//  4. Stop as soon as the mask is fully covered; classical-inpaint any
//     residual after the search is exhausted.
//
// Returns nil when no donor contributed and no residual pass ran, in
// which case the caller falls back to whole-mask inpainting.
func Fill(n Neighborhood, index int, frame, mask gocv.Mat, p Params) *Result {
	rows := frame.Rows()
	cols := frame.Cols()
	if mask.Rows() != rows || mask.Cols() != cols || mask.Type() != gocv.MatTypeCV8UC1 {
		log.Warn().Int("frame", index).Msg("mask does not match frame geometry, not filling")
		return nil
	}

	needed := mask.ToBytes()
	remaining := 0
	for _, v := range needed {
		if v > 0 {
			remaining++
		}
	}
	if remaining == 0 {
		return &Result{Image: frame.Clone()}
	}

	out := frame.ToBytes()
	donors := 0

	for _, dir := range []int{-1, +1} {
		if remaining == 0 {
			break
		}
		for dist := 1; dist <= p.MaxSearchFrames && remaining > 0; dist++ {
			idx := index + dir*dist
			if idx < 0 || idx >= n.FrameCount() {
				break
			}
			remaining, donors = copyFromDonor(n, idx, frame, needed, out, remaining, donors, p)
		}
	}

	if donors == 0 && remaining > 0 {
		return nil
	}

	filled, err := gocv.NewMatFromBytes(rows, cols, frame.Type(), out)
	if err != nil {
		log.Warn().Int("frame", index).Err(err).Msg("assembling filled frame failed")
		return nil
	}

	if remaining == 0 {
		return &Result{Image: filled, Donors: donors}
	}

	// Residual pass: inpaint only what the search could not provide.
	residual, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, needed)
	if err != nil {
		return &Result{Image: filled, Donors: donors}
	}
	defer residual.Close()

	patched := gocv.NewMat()
	gocv.Inpaint(filled, residual, &patched, p.InpaintRadius, gocv.Telea)
	filled.Close()
	log.Debug().Int("frame", index).Int("residual_px", remaining).Msg("residual gap inpainted")
	return &Result{Image: patched, Donors: donors, Residual: true}
}

// copyFromDonor pulls usable pixels from one candidate neighbor into
// out, clearing needed as it goes.
func copyFromDonor(n Neighborhood, idx int, frame gocv.Mat, needed, out []byte, remaining, donors int, p Params) (int, int) {
	donor, ok := n.Frame(idx)
	if !ok {
		return remaining, donors
	}
	defer donor.Close()
	if donor.Rows() != frame.Rows() || donor.Cols() != frame.Cols() {
		log.Warn().Int("donor", idx).Msg("donor frame size mismatch, skipped")
		return remaining, donors
	}

	score := SceneSimilarity(frame, donor, p)
	if score < p.SceneThreshold {
		log.Debug().Int("donor", idx).Float64("scene", score).Msg("donor rejected as different scene")
		return remaining, donors
	}

	var donorMasked []byte
	if dm, ok := n.Mask(idx); ok {
		if dm.Rows() == frame.Rows() && dm.Cols() == frame.Cols() {
			donorMasked = dm.ToBytes()
		}
		dm.Close()
	}

	donorBytes := donor.ToBytes()
	ch := frame.Channels()
	copied := false
	for i, need := range needed {
		if need == 0 {
			continue
		}
		if donorMasked != nil && donorMasked[i] > 0 {
			continue
		}
		copy(out[i*ch:(i+1)*ch], donorBytes[i*ch:(i+1)*ch])
		needed[i] = 0
		remaining--
		copied = true
	}
	if copied {
		donors++
	}
	return remaining, donors
}

// InpaintWhole is the last-resort reconstruction: classical inpainting
// over the entire mask.
func InpaintWhole(frame, mask gocv.Mat, radius float32) gocv.Mat {
	out := gocv.NewMat()
	gocv.Inpaint(frame, mask, &out, radius, gocv.Telea)
	return out
}
