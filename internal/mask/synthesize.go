// Package mask turns a detection box into a full-frame removal mask.
// With trueforms available the mask hugs the cursor's actual
// silhouette; otherwise it is the dilated detection rectangle.
package mask

import (
	"image"
	"image/color"
	"math"

	"cursor-scrub/internal/trueform"
	"cursor-scrub/pkg/geometry"

	"gocv.io/x/gocv"
)

// Params controls mask synthesis.
type Params struct {
	// DilatePx grows the rectangle fallback on every side. Zero keeps
	// the bare rectangle.
	DilatePx int
	// UseTrueforms enables silhouette masks when variants exist.
	UseTrueforms bool
}

// DefaultParams returns the synthesis defaults.
func DefaultParams() Params {
	return Params{DilatePx: 4, UseTrueforms: true}
}

// Synthesize builds a full-frame binary mask for one detection. frame
// is the BGR frame the detection came from; its pixels are only read
// when a trueform variant has to be selected. The caller owns the
// returned mask. A bbox with no on-frame area yields an all-zero mask.
func Synthesize(frame gocv.Mat, bbox geometry.RectInt, forms map[trueform.Bin]trueform.Trueform, p Params) gocv.Mat {
	if p.UseTrueforms && len(forms) > 0 {
		full := gocv.NewMatWithSize(frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC1)
		clipped := bbox.ClipTo(frame.Cols(), frame.Rows())
		if clipped.Empty() {
			return full
		}
		if pasteVariant(&full, frame, bbox, clipped, forms) {
			return full
		}
		full.Close()
	}
	return BoxMask(frame.Cols(), frame.Rows(), bbox, p.DilatePx)
}

// BoxMask builds the rectangle mask without needing frame pixels, so
// callers that only know a detection box (donor frames during fill)
// avoid a decode.
func BoxMask(width, height int, bbox geometry.RectInt, dilatePx int) gocv.Mat {
	full := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)

	clipped := bbox.ClipTo(width, height)
	if clipped.Empty() {
		return full
	}

	gocv.Rectangle(&full, image.Rect(clipped.X, clipped.Y, clipped.X+clipped.Width, clipped.Y+clipped.Height), color.RGBA{R: 255, G: 255, B: 255}, -1)
	if dilatePx > 0 {
		side := 2*dilatePx + 1
		kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: side, Y: side})
		gocv.Dilate(full, &full, kernel)
		kernel.Close()
	}
	return full
}

// pasteVariant picks the orientation variant whose median image best
// matches the live crop and pastes its silhouette at the detection
// box. Returns false when no variant produces a usable score, leaving
// the caller on the rectangle fallback.
func pasteVariant(full *gocv.Mat, frame gocv.Mat, bbox, clipped geometry.RectInt, forms map[trueform.Bin]trueform.Trueform) bool {
	crop := frame.Region(image.Rect(clipped.X, clipped.Y, clipped.X+clipped.Width, clipped.Y+clipped.Height))
	defer crop.Close()

	best, ok := selectVariant(crop, forms)
	if !ok {
		return false
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(best.Mask, &resized, image.Point{X: bbox.Width, Y: bbox.Height}, 0, 0, gocv.InterpolationNearestNeighbor)

	srcRect := image.Rect(clipped.X-bbox.X, clipped.Y-bbox.Y, clipped.X-bbox.X+clipped.Width, clipped.Y-bbox.Y+clipped.Height)
	src := resized.Region(srcRect)
	defer src.Close()
	dst := full.Region(image.Rect(clipped.X, clipped.Y, clipped.X+clipped.Width, clipped.Y+clipped.Height))
	defer dst.Close()
	src.CopyTo(&dst)
	return true
}

// selectVariant scores every variant's median image against the live
// crop with normalized cross-correlation and returns the best.
func selectVariant(crop gocv.Mat, forms map[trueform.Bin]trueform.Trueform) (trueform.Trueform, bool) {
	var best trueform.Trueform
	bestScore := math.Inf(-1)
	found := false

	for _, bin := range trueform.Bins() {
		tf, ok := forms[bin]
		if !ok || tf.Median.Empty() {
			continue
		}

		resized := gocv.NewMat()
		gocv.Resize(tf.Median, &resized, image.Point{X: crop.Cols(), Y: crop.Rows()}, 0, 0, gocv.InterpolationLinear)

		result := gocv.NewMat()
		matchMask := gocv.NewMat()
		gocv.MatchTemplate(crop, resized, &result, gocv.TmCcoeffNormed, matchMask)
		_, maxVal, _, _ := gocv.MinMaxLoc(result)
		matchMask.Close()
		result.Close()
		resized.Close()

		score := float64(maxVal)
		if math.IsNaN(score) || score <= bestScore {
			continue
		}
		bestScore = score
		best = tf
		found = true
	}
	return best, found
}
