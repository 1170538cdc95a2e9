package cursor

import (
	"image"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"cursor-scrub/pkg/geometry"

	"gocv.io/x/gocv"
)

// Matcher scores reference templates against a frame and returns the
// best match, or nil when nothing reaches the threshold. The CPU and
// GPU implementations honor the identical contract; which one runs is
// decided once, at construction.
type Matcher interface {
	// Detect matches every (template, scale) pair against the frame.
	// When roi is non-nil the padded prior region is searched first and
	// the full frame only if that search comes up empty. Returned
	// coordinates are always in full-resolution frame space.
	Detect(frameGray gocv.Mat, templates map[string]gocv.Mat, params MatchParams, roi *geometry.RectInt) *Result

	// Close releases any backend resources.
	Close()
}

// Options configures matcher construction.
type Options struct {
	// UseGPU selects the CUDA matcher. Construction fails if the binary
	// was built without it.
	UseGPU bool
	// Workers bounds the CPU scoring pool. Zero means one per CPU.
	Workers int
}

// NewMatcher builds a matcher for the given options.
func NewMatcher(opts Options) (Matcher, error) {
	if opts.UseGPU {
		return newGPUMatcher()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &cpuMatcher{workers: workers}, nil
}

// cpuMatcher scores (template, scale) pairs on a bounded goroutine pool.
type cpuMatcher struct {
	workers int
}

func (m *cpuMatcher) Detect(frameGray gocv.Mat, templates map[string]gocv.Mat, params MatchParams, roi *geometry.RectInt) *Result {
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

func (m *cpuMatcher) Close() {}

// detectRegionFirst searches the prior region before falling back to
// the whole frame. The scan callback receives the search image and the
// offset of its origin in frame space.
func detectRegionFirst(frame gocv.Mat, roi *geometry.RectInt, scan func(search gocv.Mat, offsetX, offsetY int) *Result) *Result {
	if roi != nil {
		clipped := roi.ClipTo(frame.Cols(), frame.Rows())
		if !clipped.Empty() {
			region := frame.Region(image.Rect(clipped.X, clipped.Y, clipped.X+clipped.Width, clipped.Y+clipped.Height))
			r := scan(region, clipped.X, clipped.Y)
			region.Close()
			if r != nil {
				return r
			}
		}
	}
	return scan(frame, 0, 0)
}

// scan runs the (template, scale) sweep over one search image. The
// result is in full-resolution coordinates relative to the search
// origin; callers add any region offset.
func (m *cpuMatcher) scan(search gocv.Mat, templates map[string]gocv.Mat, p MatchParams) *Result {
	if search.Empty() || len(templates) == 0 {
		return nil
	}

	work, ownsWork, p := downscaledSearch(search, p)
	if ownsWork {
		defer work.Close()
	}

	pairs := pairList(templates, p.Scales)

	var (
		mu   sync.Mutex
		best *Result
		stop atomic.Bool
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, m.workers)

	for _, pr := range pairs {
		if stop.Load() {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(pr matchPair) {
			defer wg.Done()
			defer func() { <-sem }()
			if stop.Load() {
				return
			}
			r := scorePair(work, pr.tmpl, pr.name, pr.scale, p)
			if r == nil {
				return
			}
			mu.Lock()
			if best == nil || r.Score > best.Score {
				best = r
				if r.Score >= p.EarlyStop {
					stop.Store(true)
				}
			}
			mu.Unlock()
		}(pr)
	}
	wg.Wait()

	if best == nil || best.Score < p.Threshold {
		return nil
	}
	return best
}

// matchPair is one (template, scale) candidate.
type matchPair struct {
	name  string
	tmpl  gocv.Mat
	scale float64
}

// pairList enumerates candidates in deterministic order: templates by
// name, scales in their configured priority order.
func pairList(templates map[string]gocv.Mat, scales []float64) []matchPair {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]matchPair, 0, len(names)*len(scales))
	for _, name := range names {
		tmpl := templates[name]
		if tmpl.Empty() {
			continue
		}
		for _, s := range scales {
			pairs = append(pairs, matchPair{name: name, tmpl: tmpl, scale: s})
		}
	}
	return pairs
}

// downscaledSearch returns the search image at the configured internal
// resolution. When the reduction would leave nothing to match against,
// the downscale is dropped instead.
func downscaledSearch(search gocv.Mat, p MatchParams) (gocv.Mat, bool, MatchParams) {
	if p.Downscale >= 1 {
		return search, false, p
	}
	w := int(float64(search.Cols())*p.Downscale + 0.5)
	h := int(float64(search.Rows())*p.Downscale + 0.5)
	if w < p.MinTemplatePx || h < p.MinTemplatePx {
		p.Downscale = 1
		return search, false, p
	}
	scaled := gocv.NewMat()
	gocv.Resize(search, &scaled, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)
	return scaled, true, p
}

// scorePair matches one template at one scale and returns the best
// location, already mapped back to full-resolution coordinates.
func scorePair(search gocv.Mat, tmpl gocv.Mat, name string, scale float64, p MatchParams) *Result {
	eff := scale * p.Downscale
	tw := int(float64(tmpl.Cols())*eff + 0.5)
	th := int(float64(tmpl.Rows())*eff + 0.5)
	if tw < p.MinTemplatePx || th < p.MinTemplatePx {
		return nil
	}
	if tw > search.Cols() || th > search.Rows() {
		return nil
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(tmpl, &scaled, image.Point{X: tw, Y: th}, 0, 0, gocv.InterpolationLinear)

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(search, scaled, &result, gocv.TmCcoeffNormed, mask)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)

	inv := 1.0 / p.Downscale
	return &Result{
		BBox: geometry.RectInt{
			X:      int(float64(maxLoc.X)*inv + 0.5),
			Y:      int(float64(maxLoc.Y)*inv + 0.5),
			Width:  int(float64(tmpl.Cols())*scale + 0.5),
			Height: int(float64(tmpl.Rows())*scale + 0.5),
		},
		Score:    float64(maxVal),
		Template: name,
		Scale:    scale,
	}
}
