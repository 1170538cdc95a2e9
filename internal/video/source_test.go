package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func solidFrame(rows, cols int, value uint8) gocv.Mat {
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	v := float64(value)
	m.SetTo(gocv.NewScalar(v, v, v, 0))
	return m
}

func TestMemorySourceReportsGeometry(t *testing.T) {
	src := NewMemorySource([]gocv.Mat{solidFrame(24, 32, 10), solidFrame(24, 32, 20)}, 30)
	defer src.Close()

	assert.Equal(t, 2, src.FrameCount())
	assert.Equal(t, 32, src.Width())
	assert.Equal(t, 24, src.Height())
	assert.InDelta(t, 30.0, src.FPS(), 1e-9)
}

func TestMemorySourceReadsAreIsolated(t *testing.T) {
	src := NewMemorySource([]gocv.Mat{solidFrame(16, 16, 40)}, 25)
	defer src.Close()

	first, ok := src.ReadFrame(0)
	require.True(t, ok)
	first.SetTo(gocv.NewScalar(0, 0, 0, 0))
	first.Close()

	second, ok := src.ReadFrame(0)
	require.True(t, ok)
	defer second.Close()
	assert.EqualValues(t, 40, second.GetUCharAt(8, 8*3))
}

func TestMemorySourceRejectsOutOfRange(t *testing.T) {
	src := NewMemorySource([]gocv.Mat{solidFrame(8, 8, 1)}, 25)
	defer src.Close()

	_, ok := src.ReadFrame(-1)
	assert.False(t, ok)
	_, ok = src.ReadFrame(1)
	assert.False(t, ok)
}
