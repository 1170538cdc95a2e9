package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectIntIoU(t *testing.T) {
	a := NewRectInt(0, 0, 40, 40)

	assert.InDelta(t, 1.0, a.IoU(a), 1e-9, "identical boxes overlap fully")
	assert.Equal(t, 0.0, a.IoU(NewRectInt(100, 100, 40, 40)), "disjoint boxes")
	assert.Equal(t, 0.0, a.IoU(NewRectInt(40, 0, 40, 40)), "edge-adjacent boxes do not overlap")

	// Half-shifted box: intersection 20x40=800, union 1600+1600-800=2400.
	half := a.IoU(NewRectInt(20, 0, 40, 40))
	assert.InDelta(t, 800.0/2400.0, half, 1e-9)

	// IoU is symmetric.
	b := NewRectInt(10, 5, 30, 50)
	assert.InDelta(t, a.IoU(b), b.IoU(a), 1e-12)
}

func TestRectIntIoUEmpty(t *testing.T) {
	a := NewRectInt(0, 0, 40, 40)
	assert.Equal(t, 0.0, a.IoU(RectInt{}))
	assert.Equal(t, 0.0, RectInt{}.IoU(RectInt{}))
}

func TestRectIntPadFrac(t *testing.T) {
	r := NewRectInt(100, 100, 40, 40)
	padded := r.PadFrac(0.75)

	assert.Equal(t, 70, padded.X)
	assert.Equal(t, 70, padded.Y)
	assert.Equal(t, 100, padded.Width)
	assert.Equal(t, 100, padded.Height)
	assert.Equal(t, r.Center(), padded.Center(), "padding preserves the center")
}

func TestRectIntClipTo(t *testing.T) {
	r := NewRectInt(-10, -10, 40, 40)
	clipped := r.ClipTo(100, 100)
	assert.Equal(t, NewRectInt(0, 0, 30, 30), clipped)

	// Fully outside the image clips to empty.
	assert.True(t, NewRectInt(200, 200, 10, 10).ClipTo(100, 100).Empty())

	// Fully inside is untouched.
	in := NewRectInt(10, 20, 30, 30)
	assert.Equal(t, in, in.ClipTo(100, 100))
}

func TestRectIntIntersectUnion(t *testing.T) {
	a := NewRectInt(0, 0, 50, 50)
	b := NewRectInt(25, 25, 50, 50)

	assert.Equal(t, NewRectInt(25, 25, 25, 25), a.Intersect(b))
	assert.Equal(t, NewRectInt(0, 0, 75, 75), a.Union(b))
	assert.Equal(t, a, a.Union(RectInt{}))
}

func TestRectToInt(t *testing.T) {
	r := NewRect(1.2, 2.7, 10.1, 9.6)
	ri := r.ToInt()
	assert.Equal(t, 1, ri.X)
	assert.Equal(t, 2, ri.Y)
	// Covers the float rect: ceil(1.2+10.1)=12, ceil(2.7+9.6)=13.
	assert.Equal(t, 11, ri.Width)
	assert.Equal(t, 11, ri.Height)
}

func TestAffineTransformRoundTrip(t *testing.T) {
	tr := Translation(5, -3).Compose(Rotation(math.Pi / 6))
	inv, ok := tr.Inverse()
	assert.True(t, ok)

	p := NewPoint2D(12.5, 7.25)
	back := inv.Apply(tr.Apply(p))
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
}

func TestAffineTransformMatrixRoundTrip(t *testing.T) {
	tr := AffineTransform{A: 0.9, B: -0.1, TX: 4, C: 0.1, D: 0.9, TY: -2}
	assert.Equal(t, tr, FromMatrix(tr.ToMatrix()))
}

func TestPointDistance(t *testing.T) {
	assert.InDelta(t, 5.0, NewPoint2D(0, 0).Distance(NewPoint2D(3, 4)), 1e-12)
}
