// Package cursor locates the recurring cursor artwork in video frames
// using multi-scale template correlation.
package cursor

import (
	"fmt"

	"cursor-scrub/pkg/geometry"
)

// Result is one accepted match in full-resolution frame coordinates.
type Result struct {
	BBox     geometry.RectInt
	Score    float64 // raw correlation; may exceed 1 slightly, clamp at use sites
	Template string
	Scale    float64
}

// ClampedScore returns the score clamped to [0, 1]. Normalized
// cross-correlation can drift just past 1 on low-variance patches.
func (r Result) ClampedScore() float64 {
	if r.Score > 1 {
		return 1
	}
	if r.Score < 0 {
		return 0
	}
	return r.Score
}

func (r Result) String() string {
	return fmt.Sprintf("Result{%s@%.2fx score=%.3f bbox=(%d,%d %dx%d)}",
		r.Template, r.Scale, r.Score, r.BBox.X, r.BBox.Y, r.BBox.Width, r.BBox.Height)
}

// RejectFilter reports whether a bounding box falls on a permanently
// rejected region of a frame. The detection store implements this.
type RejectFilter interface {
	IsRejected(frame int, bbox geometry.RectInt) bool
}
