package cursor

import (
	"cursor-scrub/pkg/geometry"

	"gocv.io/x/gocv"
)

// Detector runs template matching with prior-guided search and
// rejection-aware re-search. It is the layer the session talks to; the
// Matcher underneath knows nothing about history.
type Detector struct {
	matcher    Matcher
	params     MatchParams
	roiPadFrac float64
	filter     RejectFilter
}

// NewDetector wraps a matcher with search policy. filter may be nil
// when no rejection history exists yet.
func NewDetector(matcher Matcher, params MatchParams, roiPadFrac float64, filter RejectFilter) *Detector {
	if roiPadFrac < 0 {
		roiPadFrac = 0
	}
	return &Detector{
		matcher:    matcher,
		params:     params.sanitized(),
		roiPadFrac: roiPadFrac,
		filter:     filter,
	}
}

// Params returns the matching parameters the detector was built with.
func (d *Detector) Params() MatchParams {
	return d.params
}

// Detect locates the cursor in one frame using the following strategy:
//  1. If a prior box is given (usually the previous frame's hit), pad
//     it by the configured fraction and search that region first. The
//     cursor rarely jumps far between adjacent frames, so the region
//     search resolves the common case at a fraction of the cost.
//  2. Fall back to a full-frame sweep when the region search finds
//     nothing above threshold.
//  3. If the best hit overlaps a rejected box for this frame, the hit
//     is suppressed. A suppressed region hit triggers one full-frame
//     re-search so the cursor can still be found elsewhere; a
//     suppressed full-frame hit ends the search.
//
// Returns nil when no acceptable match exists. gray must be a
// single-channel frame.
func (d *Detector) Detect(frameIdx int, gray gocv.Mat, templates map[string]gocv.Mat, prior *geometry.RectInt) *Result {
	var roi *geometry.RectInt
	if prior != nil && !prior.Empty() {
		padded := prior.PadFrac(d.roiPadFrac)
		roi = &padded
	}

	r := d.matcher.Detect(gray, templates, d.params, roi)
	if r == nil {
		return nil
	}
	if !d.rejected(frameIdx, r) {
		return r
	}

	// The hit overlaps rejection history. If it came out of the prior
	// region, the rest of the frame is still unexplored.
	if roi != nil && insideRegion(*roi, gray, r.BBox) {
		r = d.matcher.Detect(gray, templates, d.params, nil)
		if r != nil && !d.rejected(frameIdx, r) {
			return r
		}
	}
	return nil
}

func (d *Detector) rejected(frameIdx int, r *Result) bool {
	return d.filter != nil && d.filter.IsRejected(frameIdx, r.BBox)
}

// insideRegion reports whether the box lies entirely within the region
// as clipped to the frame, meaning it could have been produced by the
// region search rather than the full-frame fallback.
func insideRegion(roi geometry.RectInt, frame gocv.Mat, box geometry.RectInt) bool {
	clipped := roi.ClipTo(frame.Cols(), frame.Rows())
	return clipped.Intersect(box) == box
}
