// Package fill reconstructs masked frame regions, preferring pixels
// from temporally adjacent frames of the same scene and falling back
// to classical inpainting only for what no neighbor can provide.
package fill

import (
	"image"

	"gocv.io/x/gocv"
)

// Scene comparison resolution. Coarse on purpose: the score should
// change on a cut, not on cursor motion.
const (
	diffW = 128
	diffH = 72
)

// SceneSimilarity scores how likely two frames belong to the same shot,
// blending global color distribution with coarse spatial structure:
//
//	HistWeight x HSV histogram correlation +
//	DiffWeight x (1 - clamped grayscale MSE at 128x72)
//
// Identical frames score close to 1; frames from differently lit or
// colored shots fall well below typical thresholds.
func SceneSimilarity(a, b gocv.Mat, p Params) float64 {
	corr := histCorrelation(a, b)
	diff := structureSimilarity(a, b)
	return p.HistWeight*corr + p.DiffWeight*diff
}

// histCorrelation compares hue/saturation distributions on a 16x16
// two-dimensional histogram.
func histCorrelation(a, b gocv.Mat) float64 {
	ha := hsvHist(a)
	defer ha.Close()
	hb := hsvHist(b)
	defer hb.Close()
	return float64(gocv.CompareHist(ha, hb, gocv.HistCmpCorrel))
}

func hsvHist(m gocv.Mat) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(m, &hsv, gocv.ColorBGRToHSV)

	hist := gocv.NewMat()
	histMask := gocv.NewMat()
	defer histMask.Close()
	gocv.CalcHist([]gocv.Mat{hsv}, []int{0, 1}, histMask, &hist, []int{16, 16}, []float64{0, 180, 0, 256}, false)
	return hist
}

// structureSimilarity compares downscaled grayscale copies. The mean
// squared error is scaled so that uniform frames a few dozen gray
// levels apart already read as structurally different, which keeps
// cross-cut copying out even when histograms are degenerate.
func structureSimilarity(a, b gocv.Mat) float64 {
	ga := smallGray(a)
	defer ga.Close()
	gb := smallGray(b)
	defer gb.Close()

	da := ga.ToBytes()
	db := gb.ToBytes()
	if len(da) != len(db) || len(da) == 0 {
		return 0
	}

	var sum float64
	for i := range da {
		d := float64(da[i]) - float64(db[i])
		sum += d * d
	}
	mse := sum / float64(len(da))

	norm := mse / 255.0
	if norm > 1 {
		norm = 1
	}
	return 1 - norm
}

func smallGray(m gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if m.Channels() == 1 {
		m.CopyTo(&gray)
	} else {
		gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	}
	small := gocv.NewMat()
	gocv.Resize(gray, &small, image.Point{X: diffW, Y: diffH}, 0, 0, gocv.InterpolationArea)
	gray.Close()
	return small
}
