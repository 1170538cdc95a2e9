// Package cache stores per-frame PNG artifacts, one file per frame
// number. Masks and fills each get their own cache directory; a file's
// presence is the only state, so instances carry no locks and are safe
// to share.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FrameCache reads and writes frame-numbered PNGs under one directory.
type FrameCache struct {
	dir       string
	readFlags gocv.IMReadFlag
}

// New opens a cache directory, creating it if needed. readFlags
// controls how cached images are decoded on Read; masks load
// grayscale, fills load color.
func New(dir string, readFlags gocv.IMReadFlag) (*FrameCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating cache directory %s", dir)
	}
	return &FrameCache{dir: dir, readFlags: readFlags}, nil
}

// Dir returns the cache directory.
func (c *FrameCache) Dir() string {
	return c.dir
}

// Path returns the file path for a frame.
func (c *FrameCache) Path(frame int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%06d.png", frame))
}

// Has reports whether the frame is cached.
func (c *FrameCache) Has(frame int) bool {
	_, err := os.Stat(c.Path(frame))
	return err == nil
}

// Write stores an image for a frame, replacing any previous one.
func (c *FrameCache) Write(frame int, m gocv.Mat) error {
	if m.Empty() {
		return errors.Errorf("refusing to cache empty image for frame %d", frame)
	}
	if ok := gocv.IMWrite(c.Path(frame), m); !ok {
		return errors.Errorf("writing %s failed", c.Path(frame))
	}
	return nil
}

// Read loads the cached image for a frame. The caller owns the Mat.
// Returns false when the frame is not cached or the file is unreadable.
func (c *FrameCache) Read(frame int) (gocv.Mat, bool) {
	m := gocv.IMRead(c.Path(frame), c.readFlags)
	if m.Empty() {
		return gocv.Mat{}, false
	}
	return m, true
}

// Invalidate removes the cached file for a frame. Removing an uncached
// frame is a no-op.
func (c *FrameCache) Invalidate(frame int) error {
	err := os.Remove(c.Path(frame))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing cached frame %d", frame)
	}
	return nil
}

// Frames returns the cached frame numbers in ascending order. Files
// not matching the frame naming pattern are ignored.
func (c *FrameCache) Frames() []int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	var frames []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var frame int
		if n, err := fmt.Sscanf(e.Name(), "%06d.png", &frame); err != nil || n != 1 {
			continue
		}
		frames = append(frames, frame)
	}
	sort.Ints(frames)
	return frames
}
