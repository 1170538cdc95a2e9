package trueform

import (
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// OrientationOf assigns a grayscale crop to an orientation bin:
//  1. Detect edges and collect their pixel coordinates.
//  2. Fit the principal axis of the coordinate cloud from the
//     eigenvectors of its covariance.
//  3. Point the axis toward the heavier tail of the cloud so opposite
//     directions along the same axis stay distinguishable.
//  4. Map the axis angle to one of four 90-degree bins. Image y grows
//     downward, so positive angles point down.
//
// Crops with too little edge evidence default to BinRight.
func OrientationOf(gray gocv.Mat, p BuildParams) Bin {
	p = p.sanitized()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, p.CannyLow, p.CannyHigh)

	xs, ys := edgeCoords(edges)
	if len(xs) < p.MinEdgePixels {
		return BinRight
	}
	angle, ok := principalAngle(xs, ys)
	if !ok {
		return BinRight
	}
	return binForAngle(angle)
}

// edgeCoords returns the coordinates of all nonzero pixels in a binary
// edge map.
func edgeCoords(edges gocv.Mat) ([]float64, []float64) {
	data := edges.ToBytes()
	cols := edges.Cols()
	var xs, ys []float64
	for i, v := range data {
		if v == 0 {
			continue
		}
		xs = append(xs, float64(i%cols))
		ys = append(ys, float64(i/cols))
	}
	return xs, ys
}

// principalAngle fits the dominant axis of a point cloud and returns
// its direction in radians.
func principalAngle(xs, ys []float64) (float64, bool) {
	n := float64(len(xs))
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= n
	my /= n

	var cxx, cxy, cyy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		cxx += dx * dx
		cxy += dx * dy
		cyy += dy * dy
	}
	cxx /= n
	cxy /= n
	cyy /= n

	var eig mat.EigenSym
	if !eig.Factorize(mat.NewSymDense(2, []float64{cxx, cxy, cxy, cyy}), true) {
		return 0, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues come back ascending; the principal axis is the last
	// column.
	vx := vecs.At(0, 1)
	vy := vecs.At(1, 1)

	// The eigenvector sign is arbitrary. Orient the axis toward the
	// heavier tail of the projections so direction carries meaning.
	var skew float64
	for i := range xs {
		t := (xs[i]-mx)*vx + (ys[i]-my)*vy
		skew += t * t * t
	}
	if skew < 0 {
		vx, vy = -vx, -vy
	}
	return math.Atan2(vy, vx), true
}

func binForAngle(angle float64) Bin {
	deg := angle * 180 / math.Pi
	switch {
	case deg >= -45 && deg < 45:
		return BinRight
	case deg >= 45 && deg < 135:
		return BinDown
	case deg >= -135 && deg < -45:
		return BinUp
	default:
		return BinLeft
	}
}
