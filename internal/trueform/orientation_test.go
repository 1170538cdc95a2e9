package trueform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// wedgeCrop draws a bright filled triangle spanning most of a dark
// square crop: a wide base on the left tapering to a point on the
// right. Its edge cloud has an unambiguous principal axis.
func wedgeCrop(t *testing.T, size int) gocv.Mat {
	t.Helper()
	data := make([]byte, size*size)
	for i := range data {
		data[i] = 15
	}
	x0 := size / 8
	x1 := size - size/8
	mid := size / 2
	for x := x0; x < x1; x++ {
		half := (x1 - x) * (size / 3) / (x1 - x0)
		for y := mid - half; y <= mid+half; y++ {
			if y >= 0 && y < size {
				data[y*size+x] = 220
			}
		}
	}
	m, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC1, data)
	require.NoError(t, err)
	return m
}

func nextClockwise(b Bin) Bin {
	switch b {
	case BinRight:
		return BinDown
	case BinDown:
		return BinLeft
	case BinLeft:
		return BinUp
	default:
		return BinRight
	}
}

func TestOrientationRotationConsistency(t *testing.T) {
	crop := wedgeCrop(t, 64)
	defer crop.Close()

	p := DefaultBuildParams()
	bin := OrientationOf(crop, p)

	// Rotating the crop by 90 degrees must advance the bin by exactly
	// one step each time, whatever the starting bin is.
	current := crop.Clone()
	for i := 0; i < 3; i++ {
		rotated := gocv.NewMat()
		gocv.Rotate(current, &rotated, gocv.Rotate90Clockwise)
		current.Close()
		current = rotated

		bin = nextClockwise(bin)
		assert.Equal(t, bin, OrientationOf(current, p), "after %d quarter turns", i+1)
	}
	current.Close()
}

func TestOrientationFlatCropDefaultsRight(t *testing.T) {
	flat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 0, 0, 0), 48, 48, gocv.MatTypeCV8UC1)
	defer flat.Close()

	assert.Equal(t, BinRight, OrientationOf(flat, DefaultBuildParams()))
}

func TestPrincipalAngleAxes(t *testing.T) {
	// A horizontal cloud with its mass packed to the left: the heavier
	// tail points right, so the directed axis does too.
	var xs, ys []float64
	for i := 0; i < 40; i++ {
		xs = append(xs, float64(i%5))
		ys = append(ys, float64(i%3))
	}
	for i := 0; i < 10; i++ {
		xs = append(xs, 30+float64(i))
		ys = append(ys, 1)
	}
	angle, ok := principalAngle(xs, ys)
	require.True(t, ok)
	assert.InDelta(t, 0, angle, 0.2)

	// The transposed cloud points down (image y grows downward).
	angle, ok = principalAngle(ys, xs)
	require.True(t, ok)
	assert.InDelta(t, math.Pi/2, angle, 0.2)
}

func TestBinForAngle(t *testing.T) {
	deg := func(d float64) float64 { return d * math.Pi / 180 }

	assert.Equal(t, BinRight, binForAngle(deg(0)))
	assert.Equal(t, BinRight, binForAngle(deg(-44)))
	assert.Equal(t, BinDown, binForAngle(deg(45)))
	assert.Equal(t, BinDown, binForAngle(deg(90)))
	assert.Equal(t, BinLeft, binForAngle(deg(135)))
	assert.Equal(t, BinLeft, binForAngle(deg(180)))
	assert.Equal(t, BinLeft, binForAngle(deg(-180)))
	assert.Equal(t, BinUp, binForAngle(deg(-90)))
	assert.Equal(t, BinUp, binForAngle(deg(-46)))
}
