package trueform

// BuildParams controls trueform construction.
type BuildParams struct {
	// CannyLow and CannyHigh are the edge detector thresholds used both
	// for orientation binning and edge consensus.
	CannyLow  float32
	CannyHigh float32

	// MinEdgePixels is the minimum edge count for a crop to carry
	// orientation evidence. Below it the crop defaults to the right
	// bin.
	MinEdgePixels int

	// MinSamples is the evidence floor per bin. Bins with fewer samples
	// are dropped.
	MinSamples int

	// EdgeGamma raises edge consensus to a power below one so a pixel
	// seen as an edge in only some samples still contributes.
	EdgeGamma float64

	// ProbFloor and PercentileFrac shape the adaptive mask threshold:
	// max(ProbFloor, PercentileWeight x percentile(PercentileFrac)).
	ProbFloor        float64
	PercentileFrac   float64
	PercentileWeight float64
}

// DefaultBuildParams returns the parameters trueform training runs
// with.
func DefaultBuildParams() BuildParams {
	return BuildParams{
		CannyLow:         50,
		CannyHigh:        150,
		MinEdgePixels:    20,
		MinSamples:       2,
		EdgeGamma:        0.7,
		ProbFloor:        0.2,
		PercentileFrac:   0.7,
		PercentileWeight: 0.7,
	}
}

// WithMinSamples returns a copy of params with a new per-bin floor.
func (p BuildParams) WithMinSamples(n int) BuildParams {
	p.MinSamples = n
	return p
}

func (p BuildParams) sanitized() BuildParams {
	d := DefaultBuildParams()
	if p.CannyLow <= 0 || p.CannyHigh <= p.CannyLow {
		p.CannyLow, p.CannyHigh = d.CannyLow, d.CannyHigh
	}
	if p.MinEdgePixels <= 0 {
		p.MinEdgePixels = d.MinEdgePixels
	}
	if p.MinSamples < 2 {
		p.MinSamples = d.MinSamples
	}
	if p.EdgeGamma <= 0 || p.EdgeGamma > 1 {
		p.EdgeGamma = d.EdgeGamma
	}
	if p.ProbFloor <= 0 || p.ProbFloor >= 1 {
		p.ProbFloor = d.ProbFloor
	}
	if p.PercentileFrac <= 0 || p.PercentileFrac >= 1 {
		p.PercentileFrac = d.PercentileFrac
	}
	if p.PercentileWeight <= 0 || p.PercentileWeight > 1 {
		p.PercentileWeight = d.PercentileWeight
	}
	return p
}
