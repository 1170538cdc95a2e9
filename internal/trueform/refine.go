package trueform

import (
	"image"

	"gocv.io/x/gocv"
)

// refineMask tightens a consensus mask with graph-cut segmentation
// against the median image's color edges. The eroded mask core seeds
// certain foreground, the rest of the mask probable foreground and
// everything else probable background. The caller keeps ownership of
// mask; the returned mask is new. Whenever the cut cannot run or
// returns nothing, the consensus mask is kept unchanged.
func refineMask(median, mask gocv.Mat) gocv.Mat {
	rows := mask.Rows()
	cols := mask.Cols()
	if rows < 16 || cols < 16 || median.Channels() != 3 {
		return mask.Clone()
	}

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{3, 3})
	defer kernel.Close()
	core := gocv.NewMat()
	defer core.Close()
	gocv.Erode(mask, &core, kernel)
	gocv.Erode(core, &core, kernel)

	maskArea := gocv.CountNonZero(mask)
	if gocv.CountNonZero(core) == 0 || maskArea == 0 || maskArea == rows*cols {
		return mask.Clone()
	}

	// Seed values follow the graph-cut convention: 0 background,
	// 1 foreground, 2 probable background, 3 probable foreground.
	maskBytes := mask.ToBytes()
	coreBytes := core.ToBytes()
	seedBytes := make([]byte, len(maskBytes))
	for i := range seedBytes {
		switch {
		case coreBytes[i] > 0:
			seedBytes[i] = 1
		case maskBytes[i] > 0:
			seedBytes[i] = 3
		default:
			seedBytes[i] = 2
		}
	}
	seed, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, seedBytes)
	if err != nil {
		return mask.Clone()
	}
	defer seed.Close()

	bgdModel := gocv.NewMat()
	defer bgdModel.Close()
	fgdModel := gocv.NewMat()
	defer fgdModel.Close()
	gocv.GrabCut(median, &seed, image.Rectangle{}, &bgdModel, &fgdModel, 3, gocv.GCInitWithMask)

	outBytes := make([]byte, len(maskBytes))
	cut := seed.ToBytes()
	found := 0
	for i, v := range cut {
		if v == 1 || v == 3 {
			outBytes[i] = 255
			found++
		}
	}
	if found == 0 {
		return mask.Clone()
	}
	out, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, outBytes)
	if err != nil {
		return mask.Clone()
	}
	return out
}
