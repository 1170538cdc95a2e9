//go:build cuda

package cursor

import (
	"image"

	"cursor-scrub/pkg/geometry"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/cuda"
)

// gpuMatcher scores templates on a single CUDA stream. Pairs are
// evaluated sequentially; the device provides the parallelism, so no
// goroutine pool is layered on top.
type gpuMatcher struct {
	tm     cuda.TemplateMatching
	stream cuda.Stream
}

func newGPUMatcher() (Matcher, error) {
	return &gpuMatcher{
		tm:     cuda.NewTemplateMatching(gocv.MatTypeCV8UC1, gocv.TmCcoeffNormed),
		stream: cuda.NewStream(),
	}, nil
}

func (m *gpuMatcher) Close() {
	m.tm.Close()
	m.stream.Close()
}

func (m *gpuMatcher) Detect(frameGray gocv.Mat, templates map[string]gocv.Mat, params MatchParams, roi *geometry.RectInt) *Result {
	p := params.sanitized()
	return detectRegionFirst(frameGray, roi, func(search gocv.Mat, offsetX, offsetY int) *Result {
		r := m.scan(search, templates, p)
		if r != nil {
			r.BBox.X += offsetX
			r.BBox.Y += offsetY
		}
		return r
	})
}

func (m *gpuMatcher) scan(search gocv.Mat, templates map[string]gocv.Mat, p MatchParams) *Result {
	if search.Empty() || len(templates) == 0 {
		return nil
	}

	work, ownsWork, p := downscaledSearch(search, p)
	if ownsWork {
		defer work.Close()
	}

	// One upload per scan; every pair matches against the same device image.
	gpuSearch := cuda.NewGpuMat()
	defer gpuSearch.Close()
	gpuSearch.Upload(work)

	var best *Result
	for _, pr := range pairList(templates, p.Scales) {
		r := m.scoreOnDevice(gpuSearch, work, pr, p)
		if r == nil {
			continue
		}
		if best == nil || r.Score > best.Score {
			best = r
			if best.Score >= p.EarlyStop {
				break
			}
		}
	}

	if best == nil || best.Score < p.Threshold {
		return nil
	}
	return best
}

func (m *gpuMatcher) scoreOnDevice(gpuSearch cuda.GpuMat, search gocv.Mat, pr matchPair, p MatchParams) *Result {
	eff := pr.scale * p.Downscale
	tw := int(float64(pr.tmpl.Cols())*eff + 0.5)
	th := int(float64(pr.tmpl.Rows())*eff + 0.5)
	if tw < p.MinTemplatePx || th < p.MinTemplatePx {
		return nil
	}
	if tw > search.Cols() || th > search.Rows() {
		return nil
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(pr.tmpl, &scaled, image.Point{X: tw, Y: th}, 0, 0, gocv.InterpolationLinear)

	gpuTmpl := cuda.NewGpuMat()
	defer gpuTmpl.Close()
	gpuTmpl.Upload(scaled)

	gpuResult := cuda.NewGpuMat()
	defer gpuResult.Close()
	m.tm.Match(gpuSearch, gpuTmpl, &gpuResult, m.stream)
	m.stream.WaitForCompletion()

	result := gocv.NewMat()
	defer result.Close()
	gpuResult.Download(&result)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)

	inv := 1.0 / p.Downscale
	return &Result{
		BBox: geometry.RectInt{
			X:      int(float64(maxLoc.X)*inv + 0.5),
			Y:      int(float64(maxLoc.Y)*inv + 0.5),
			Width:  int(float64(pr.tmpl.Cols())*pr.scale + 0.5),
			Height: int(float64(pr.tmpl.Rows())*pr.scale + 0.5),
		},
		Score:    float64(maxVal),
		Template: pr.name,
		Scale:    pr.scale,
	}
}
