package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// recordingWriter keeps the first byte of every frame it receives, in
// write order.
type recordingWriter struct {
	values []uint8
}

func (w *recordingWriter) Write(m gocv.Mat) error {
	w.values = append(w.values, m.GetUCharAt(0, 0))
	return nil
}

// holedSource fails reads for one frame index.
type holedSource struct {
	Source
	hole int
}

func (s holedSource) ReadFrame(index int) (gocv.Mat, bool) {
	if index == s.hole {
		return gocv.Mat{}, false
	}
	return s.Source.ReadFrame(index)
}

func TestWriteFramesOrdersChunksAndSubstitutes(t *testing.T) {
	frames := make([]gocv.Mat, 7)
	for i := range frames {
		frames[i] = solidFrame(8, 8, uint8(i+1))
	}
	src := NewMemorySource(frames, 25)
	defer src.Close()

	resolver := func(index int) (gocv.Mat, bool) {
		if index%2 == 1 {
			return solidFrame(8, 8, uint8(100+index)), true
		}
		return gocv.Mat{}, false
	}

	w := &recordingWriter{}
	require.NoError(t, writeFrames(w, src, resolver, 3))

	assert.Equal(t, []uint8{1, 101, 3, 103, 5, 105, 7}, w.values)
}

func TestWriteFramesFillsUnreadableWithBlack(t *testing.T) {
	frames := []gocv.Mat{solidFrame(8, 8, 9), solidFrame(8, 8, 9), solidFrame(8, 8, 9)}
	src := NewMemorySource(frames, 25)
	defer src.Close()

	noResolve := func(int) (gocv.Mat, bool) { return gocv.Mat{}, false }

	w := &recordingWriter{}
	require.NoError(t, writeFrames(w, holedSource{Source: src, hole: 1}, noResolve, 2))

	assert.Equal(t, []uint8{9, 0, 9}, w.values)
}
