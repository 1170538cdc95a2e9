package trueform

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// alignToReference registers a color sample against the bin reference.
// The sample is first resized to the reference footprint, then an
// intensity-based warp is estimated on the grayscale pair: Euclidean
// motion first, translation-only when that fails to converge. When no
// warp can be estimated the resized sample is used as-is; a noisy
// sample still beats a discarded one.
func alignToReference(ref, sample gocv.Mat) aligned {
	resized := gocv.NewMat()
	gocv.Resize(sample, &resized, image.Point{X: ref.Cols(), Y: ref.Rows()}, 0, 0, gocv.InterpolationLinear)

	refGray := grayOf(ref)
	defer refGray.Close()
	curGray := grayOf(resized)
	defer curGray.Close()

	for _, motion := range []int{gocv.MotionEuclidean, gocv.MotionTranslation} {
		warp := gocv.Eye(2, 3, gocv.MatTypeCV32F)
		criteria := gocv.NewTermCriteria(gocv.Count+gocv.EPS, 80, 1e-4)
		eccMask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), refGray.Rows(), refGray.Cols(), gocv.MatTypeCV8UC1)
		ecc := gocv.FindTransformECC(refGray, curGray, &warp, motion, criteria, eccMask, 5)
		eccMask.Close()
		if ecc <= 0 {
			warp.Close()
			continue
		}

		warped := gocv.NewMat()
		gocv.WarpAffineWithParams(resized, &warped, warp, image.Pt(ref.Cols(), ref.Rows()),
			gocv.InterpolationLinear+gocv.WarpInverseMap, gocv.BorderConstant, color.RGBA{})
		warp.Close()
		if warped.Empty() {
			warped.Close()
			continue
		}

		resized.Close()
		return aligned{image: warped, registered: true}
	}
	return aligned{image: resized, registered: false}
}

// grayOf returns a caller-owned grayscale copy.
func grayOf(m gocv.Mat) gocv.Mat {
	if m.Channels() == 1 {
		return m.Clone()
	}
	gray := gocv.NewMat()
	gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	return gray
}
