package cursor

import (
	"math"
	"testing"

	"cursor-scrub/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// testFrame builds a grayscale frame with a mild gradient so normalized
// correlation stays well-defined in every window.
func testFrame(t *testing.T, width, height int) gocv.Mat {
	t.Helper()
	data := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = byte(40 + (x*40)/width + (y*20)/height)
		}
	}
	m, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, data)
	require.NoError(t, err)
	return m
}

// testPattern builds a high-contrast checkerboard patch.
func testPattern(t *testing.T, size int) gocv.Mat {
	t.Helper()
	data := make([]byte, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := byte(230)
			if (x/4+y/4)%2 == 0 {
				v = 20
			}
			data[y*size+x] = v
		}
	}
	m, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC1, data)
	require.NoError(t, err)
	return m
}

// testBlob builds a smooth radial patch that survives resampling, for
// tests that match at reduced resolution.
func testBlob(t *testing.T, size int) gocv.Mat {
	t.Helper()
	data := make([]byte, size*size)
	c := float64(size-1) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)-c, float64(y)-c) / c
			if d > 1 {
				d = 1
			}
			data[y*size+x] = byte(250 - 230*d)
		}
	}
	m, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC1, data)
	require.NoError(t, err)
	return m
}

func pasteAt(frame, patch gocv.Mat, x, y int) {
	for r := 0; r < patch.Rows(); r++ {
		for c := 0; c < patch.Cols(); c++ {
			frame.SetUCharAt(y+r, x+c, patch.GetUCharAt(r, c))
		}
	}
}

func newCPUMatcher(t *testing.T) Matcher {
	t.Helper()
	m, err := NewMatcher(Options{})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestMatcherExactScale(t *testing.T) {
	frame := testFrame(t, 320, 180)
	defer frame.Close()
	pat := testPattern(t, 20)
	defer pat.Close()
	pasteAt(frame, pat, 150, 80)

	m := newCPUMatcher(t)
	params := DefaultMatchParams().WithScales([]float64{1.0})
	r := m.Detect(frame, map[string]gocv.Mat{"gauntlet_a": pat}, params, nil)

	require.NotNil(t, r)
	assert.Equal(t, 150, r.BBox.X)
	assert.Equal(t, 80, r.BBox.Y)
	assert.Equal(t, 20, r.BBox.Width)
	assert.Equal(t, 20, r.BBox.Height)
	assert.Equal(t, "gauntlet_a", r.Template)
	assert.Equal(t, 1.0, r.Scale)
	assert.Greater(t, r.Score, 0.99)
}

func TestMatcherMultiScaleCenter(t *testing.T) {
	frame := testFrame(t, 320, 180)
	defer frame.Close()
	pat := testPattern(t, 20)
	defer pat.Close()
	pasteAt(frame, pat, 203, 47)

	m := newCPUMatcher(t)
	r := m.Detect(frame, map[string]gocv.Mat{"gauntlet_a": pat}, DefaultMatchParams(), nil)

	require.NotNil(t, r)
	center := r.BBox.Center()
	assert.InDelta(t, 213.0, center.X, 2.0)
	assert.InDelta(t, 57.0, center.Y, 2.0)
}

func TestMatcherNoTemplates(t *testing.T) {
	frame := testFrame(t, 160, 90)
	defer frame.Close()

	m := newCPUMatcher(t)
	r := m.Detect(frame, nil, DefaultMatchParams(), nil)
	assert.Nil(t, r)

	r = m.Detect(frame, map[string]gocv.Mat{}, DefaultMatchParams(), nil)
	assert.Nil(t, r)
}

func TestMatcherAbsentPattern(t *testing.T) {
	frame := testFrame(t, 320, 180)
	defer frame.Close()
	pat := testPattern(t, 20)
	defer pat.Close()

	m := newCPUMatcher(t)
	r := m.Detect(frame, map[string]gocv.Mat{"gauntlet_a": pat}, DefaultMatchParams(), nil)
	assert.Nil(t, r, "checkerboard should not correlate with a smooth gradient")
}

func TestMatcherTemplateLargerThanSearch(t *testing.T) {
	frame := testFrame(t, 40, 40)
	defer frame.Close()
	pat := testPattern(t, 50)
	defer pat.Close()

	m := newCPUMatcher(t)
	r := m.Detect(frame, map[string]gocv.Mat{"big": pat}, DefaultMatchParams().WithScales([]float64{1.0}), nil)
	assert.Nil(t, r)
}

func TestMatcherSkipsTinyScaledTemplates(t *testing.T) {
	frame := testFrame(t, 160, 90)
	defer frame.Close()
	pat := testPattern(t, 4)
	defer pat.Close()
	pasteAt(frame, pat, 60, 40)

	// 4px at scale 0.5 is below the minimum side length, so the only
	// candidate pair is skipped and nothing matches.
	m := newCPUMatcher(t)
	r := m.Detect(frame, map[string]gocv.Mat{"tiny": pat}, DefaultMatchParams().WithScales([]float64{0.5}), nil)
	assert.Nil(t, r)
}

func TestMatcherDownscaledSearch(t *testing.T) {
	frame := testFrame(t, 320, 180)
	defer frame.Close()
	blob := testBlob(t, 24)
	defer blob.Close()
	pasteAt(frame, blob, 100, 60)

	m := newCPUMatcher(t)
	params := DefaultMatchParams().WithScales([]float64{1.0}).WithDownscale(0.5)
	r := m.Detect(frame, map[string]gocv.Mat{"blob": blob}, params, nil)

	require.NotNil(t, r)
	center := r.BBox.Center()
	assert.InDelta(t, 112.0, center.X, 3.0)
	assert.InDelta(t, 72.0, center.Y, 3.0)
	assert.Equal(t, 24, r.BBox.Width)
	assert.Equal(t, 24, r.BBox.Height)
}

func TestMatcherRegionOffset(t *testing.T) {
	frame := testFrame(t, 320, 180)
	defer frame.Close()
	pat := testPattern(t, 20)
	defer pat.Close()
	pasteAt(frame, pat, 200, 120)

	m := newCPUMatcher(t)
	roi := geometry.RectInt{X: 170, Y: 90, Width: 100, Height: 80}
	r := m.Detect(frame, map[string]gocv.Mat{"gauntlet_a": pat}, DefaultMatchParams().WithScales([]float64{1.0}), &roi)

	require.NotNil(t, r)
	assert.Equal(t, 200, r.BBox.X)
	assert.Equal(t, 120, r.BBox.Y)
}

func TestMatcherRegionFallsBackToFullFrame(t *testing.T) {
	frame := testFrame(t, 320, 180)
	defer frame.Close()
	pat := testPattern(t, 20)
	defer pat.Close()
	pasteAt(frame, pat, 250, 130)

	// The region holds nothing above threshold; the full-frame sweep
	// must still find the pattern.
	m := newCPUMatcher(t)
	roi := geometry.RectInt{X: 10, Y: 10, Width: 60, Height: 60}
	r := m.Detect(frame, map[string]gocv.Mat{"gauntlet_a": pat}, DefaultMatchParams().WithScales([]float64{1.0}), &roi)

	require.NotNil(t, r)
	assert.Equal(t, 250, r.BBox.X)
	assert.Equal(t, 130, r.BBox.Y)
}

func TestPairListDeterministicOrder(t *testing.T) {
	a := testPattern(t, 8)
	defer a.Close()
	b := testPattern(t, 8)
	defer b.Close()

	pairs := pairList(map[string]gocv.Mat{"zeta": a, "alpha": b}, []float64{0.8, 1.0})
	require.Len(t, pairs, 4)
	assert.Equal(t, "alpha", pairs[0].name)
	assert.Equal(t, 0.8, pairs[0].scale)
	assert.Equal(t, "alpha", pairs[1].name)
	assert.Equal(t, 1.0, pairs[1].scale)
	assert.Equal(t, "zeta", pairs[2].name)
	assert.Equal(t, "zeta", pairs[3].name)
}

func TestMatchParamsSanitized(t *testing.T) {
	p := MatchParams{}.sanitized()
	assert.Equal(t, 3, p.MinTemplatePx)
	assert.Equal(t, 1.0, p.Downscale)
	assert.Equal(t, []float64{1.0}, p.Scales)
	assert.Equal(t, DefaultMatchParams().EarlyStop, p.EarlyStop)

	p = DefaultMatchParams().WithDownscale(4.0).sanitized()
	assert.Equal(t, 1.0, p.Downscale, "upscale factors are rejected")
}

func TestGPUMatcherUnavailableWithoutBuildTag(t *testing.T) {
	m, err := NewMatcher(Options{UseGPU: true})
	if err == nil {
		// Built with the cuda tag; the backend exists and that is all
		// this test can claim without a device.
		m.Close()
		t.Skip("cuda build, gpu backend constructed")
	}
	assert.Nil(t, m)
}
