package cursor

// MatchParams holds parameters for one multi-scale matching pass.
type MatchParams struct {
	// Threshold is the minimum correlation score to accept a match.
	Threshold float64

	// Scales are the template scale factors tried, in priority order.
	// Scales that would shrink a template below MinTemplatePx on either
	// side are skipped.
	Scales []float64

	// EarlyStop short-circuits remaining (template, scale) pairs once a
	// score this high is seen. Scores above it are near-certain hits and
	// further scanning only burns latency.
	EarlyStop float64

	// Downscale matches against a reduced-resolution copy of the search
	// image. Coordinates are mapped back to full resolution before
	// returning. 1 means full resolution.
	Downscale float64

	// MinTemplatePx is the minimum scaled template side length.
	MinTemplatePx int
}

// DefaultMatchParams returns matching defaults tuned for cursor-sized
// artwork on game footage.
func DefaultMatchParams() MatchParams {
	return MatchParams{
		Threshold:     0.80,
		Scales:        []float64{0.6, 0.7, 0.8, 0.9, 1.0, 1.1, 1.25},
		EarlyStop:     0.985,
		Downscale:     1.0,
		MinTemplatePx: 3,
	}
}

// WithThreshold returns a copy of params with a new accept threshold.
func (p MatchParams) WithThreshold(threshold float64) MatchParams {
	p.Threshold = threshold
	return p
}

// WithScales returns a copy of params with a new scale set.
func (p MatchParams) WithScales(scales []float64) MatchParams {
	p.Scales = scales
	return p
}

// WithDownscale returns a copy of params matching at reduced search
// resolution.
func (p MatchParams) WithDownscale(factor float64) MatchParams {
	p.Downscale = factor
	return p
}

func (p MatchParams) sanitized() MatchParams {
	if p.MinTemplatePx < 3 {
		p.MinTemplatePx = 3
	}
	if p.Downscale <= 0 || p.Downscale > 1 {
		p.Downscale = 1
	}
	if len(p.Scales) == 0 {
		p.Scales = []float64{1.0}
	}
	if p.EarlyStop <= 0 {
		p.EarlyStop = DefaultMatchParams().EarlyStop
	}
	return p
}
