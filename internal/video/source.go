// Package video provides frame-indexed access to video files and the
// export writer for cleaned clips.
package video

import (
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Source provides random access to the frames of one video. Returned
// Mats are BGR and owned by the caller, which must Close them. A false
// second return means the frame does not exist or could not be decoded,
// never a hard failure.
type Source interface {
	ReadFrame(index int) (gocv.Mat, bool)
	FrameCount() int
	FPS() float64
	Width() int
	Height() int
	Close() error
}

// Capture is a Source backed by a gocv.VideoCapture. Seeking is
// stateful in the underlying decoder, so all reads go through one lock.
type Capture struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture

	frameCount int
	fps        float64
	width      int
	height     int
}

// Open opens a video file for frame-indexed reads.
func Open(path string) (*Capture, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open video %s", path)
	}

	c := &Capture{
		cap:        cap,
		frameCount: int(cap.Get(gocv.VideoCaptureFrameCount)),
		fps:        cap.Get(gocv.VideoCaptureFPS),
		width:      int(cap.Get(gocv.VideoCaptureFrameWidth)),
		height:     int(cap.Get(gocv.VideoCaptureFrameHeight)),
	}
	if c.frameCount <= 0 || c.width <= 0 || c.height <= 0 {
		cap.Close()
		return nil, errors.Errorf("video %s reports no frames (%dx%d, %d frames)",
			path, c.width, c.height, c.frameCount)
	}
	return c, nil
}

// ReadFrame seeks to the frame index and decodes it.
func (c *Capture) ReadFrame(index int) (gocv.Mat, bool) {
	if index < 0 || index >= c.frameCount {
		return gocv.Mat{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cap.Set(gocv.VideoCapturePosFrames, float64(index))
	frame := gocv.NewMat()
	if ok := c.cap.Read(&frame); !ok || frame.Empty() {
		frame.Close()
		return gocv.Mat{}, false
	}
	return frame, true
}

// FrameCount returns the number of frames in the video.
func (c *Capture) FrameCount() int { return c.frameCount }

// FPS returns the frame rate reported by the container.
func (c *Capture) FPS() float64 { return c.fps }

// Width returns the frame width in pixels.
func (c *Capture) Width() int { return c.width }

// Height returns the frame height in pixels.
func (c *Capture) Height() int { return c.height }

// Close releases the underlying decoder.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cap.Close()
}

// MemorySource is a Source over preloaded frames. It backs short clips
// that fit in memory and the synthetic clips used in tests.
type MemorySource struct {
	frames []gocv.Mat
	fps    float64
	width  int
	height int
}

// NewMemorySource wraps a slice of BGR frames. The source takes
// ownership of the Mats and closes them on Close. All frames must share
// the dimensions of the first.
func NewMemorySource(frames []gocv.Mat, fps float64) *MemorySource {
	s := &MemorySource{frames: frames, fps: fps}
	if len(frames) > 0 {
		s.width = frames[0].Cols()
		s.height = frames[0].Rows()
	}
	return s
}

// ReadFrame returns a clone of the stored frame.
func (s *MemorySource) ReadFrame(index int) (gocv.Mat, bool) {
	if index < 0 || index >= len(s.frames) {
		return gocv.Mat{}, false
	}
	return s.frames[index].Clone(), true
}

// FrameCount returns the number of stored frames.
func (s *MemorySource) FrameCount() int { return len(s.frames) }

// FPS returns the nominal frame rate.
func (s *MemorySource) FPS() float64 { return s.fps }

// Width returns the frame width in pixels.
func (s *MemorySource) Width() int { return s.width }

// Height returns the frame height in pixels.
func (s *MemorySource) Height() int { return s.height }

// Close releases all stored frames.
func (s *MemorySource) Close() error {
	for i := range s.frames {
		s.frames[i].Close()
	}
	s.frames = nil
	return nil
}
