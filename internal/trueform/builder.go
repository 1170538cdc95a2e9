package trueform

import (
	"image"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Build constructs the consensus trueform for every orientation bin
// with enough evidence. crops are color sample images; they are neither
// modified nor retained. Bins below the evidence floor are absent from
// the result, and an empty map means no bin had enough samples.
//
// Pipeline:
//  1. Group crops by principal edge orientation.
//  2. Drop bins below the evidence floor.
//  3. Register every crop in a bin against the bin's first crop.
//  4. Fuse per-pixel median color, intensity MAD and edge consensus
//     into a shape probability, thresholded adaptively into a mask.
//  5. Tighten the mask with graph-cut segmentation against the median
//     image's color edges.
//  6. Crop median and mask to the mask bounding box.
func Build(crops []gocv.Mat, p BuildParams) map[Bin]Trueform {
	p = p.sanitized()

	// Step 1: orientation binning.
	binned := make(map[Bin][]gocv.Mat)
	for _, crop := range crops {
		if crop.Empty() {
			continue
		}
		gray := grayOf(crop)
		bin := OrientationOf(gray, p)
		gray.Close()
		binned[bin] = append(binned[bin], crop)
	}

	forms := make(map[Bin]Trueform)
	for _, bin := range Bins() {
		samples := binned[bin]

		// Step 2: evidence floor.
		if len(samples) < p.MinSamples {
			if len(samples) > 0 {
				log.Debug().Str("bin", string(bin)).Int("samples", len(samples)).Msg("orientation bin below evidence floor")
			}
			continue
		}

		tf, ok := buildBin(samples, p)
		if !ok {
			log.Warn().Str("bin", string(bin)).Int("samples", len(samples)).Msg("consensus produced no shape for bin")
			continue
		}
		forms[bin] = tf
	}
	return forms
}

// buildBin runs steps 3 through 6 for the samples of one bin.
func buildBin(samples []gocv.Mat, p BuildParams) (Trueform, bool) {
	ref := samples[0]

	// Step 3: registration against the first sample.
	stack := make([]gocv.Mat, 0, len(samples))
	stack = append(stack, ref.Clone())
	registered := 0
	for _, s := range samples[1:] {
		a := alignToReference(ref, s)
		if a.registered {
			registered++
		}
		stack = append(stack, a.image)
	}
	defer func() {
		for _, m := range stack {
			m.Close()
		}
	}()
	if registered < len(samples)-1 {
		log.Debug().Int("unaligned", len(samples)-1-registered).Msg("using unaligned samples in consensus")
	}

	// Step 4: consensus shape.
	median, prob := consensus(stack, p)
	mask := probabilityMask(prob, ref.Cols(), ref.Rows(), p)
	if gocv.CountNonZero(mask) == 0 {
		median.Close()
		mask.Close()
		return Trueform{}, false
	}

	// Step 5: graph-cut refinement.
	refined := refineMask(median, mask)
	mask.Close()

	// Step 6: tight crop.
	bounds, ok := maskBounds(refined)
	if !ok {
		median.Close()
		refined.Close()
		return Trueform{}, false
	}
	tightMedian := median.Region(bounds)
	tightMask := refined.Region(bounds)
	tf := Trueform{Median: tightMedian.Clone(), Mask: tightMask.Clone()}
	tightMedian.Close()
	tightMask.Close()
	median.Close()
	refined.Close()
	return tf, true
}

// consensus computes the per-pixel median color image and the shape
// probability map over a stack of equally sized color samples.
func consensus(stack []gocv.Mat, p BuildParams) (gocv.Mat, []float64) {
	n := len(stack)
	rows := stack[0].Rows()
	cols := stack[0].Cols()
	px := rows * cols

	colors := make([][]byte, n)
	grays := make([][]byte, n)
	edges := make([][]byte, n)
	for i, m := range stack {
		colors[i] = m.ToBytes()

		gray := grayOf(m)
		grays[i] = gray.ToBytes()

		edge := gocv.NewMat()
		gocv.Canny(gray, &edge, p.CannyLow, p.CannyHigh)
		edges[i] = edge.ToBytes()
		edge.Close()
		gray.Close()
	}

	medColor := make([]byte, px*3)
	mad := make([]float64, px)
	edgeFrac := make([]float64, px)
	scratch := make([]byte, n)

	for i := 0; i < px; i++ {
		for c := 0; c < 3; c++ {
			for s := 0; s < n; s++ {
				scratch[s] = colors[s][i*3+c]
			}
			medColor[i*3+c] = medianByte(scratch)
		}

		for s := 0; s < n; s++ {
			scratch[s] = grays[s][i]
		}
		med := medianByte(scratch)
		for s := 0; s < n; s++ {
			d := int(grays[s][i]) - int(med)
			if d < 0 {
				d = -d
			}
			scratch[s] = byte(d)
		}
		mad[i] = float64(medianByte(scratch))

		active := 0
		for s := 0; s < n; s++ {
			if edges[s][i] > 0 {
				active++
			}
		}
		edgeFrac[i] = float64(active) / float64(n)
	}

	maxMAD := 0.0
	for _, v := range mad {
		if v > maxMAD {
			maxMAD = v
		}
	}

	prob := make([]float64, px)
	for i := 0; i < px; i++ {
		agreement := 1.0
		if maxMAD > 0 {
			agreement = 1.0 - mad[i]/maxMAD
		}
		prob[i] = agreement * math.Pow(edgeFrac[i], p.EdgeGamma)
	}

	median, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC3, medColor)
	if err != nil {
		// Cannot happen with a well-formed stack; keep the contract
		// total anyway.
		median = gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	}
	return median, prob
}

// probabilityMask thresholds the probability map adaptively and cleans
// the result with a median blur and an open/close pass.
func probabilityMask(prob []float64, cols, rows int, p BuildParams) gocv.Mat {
	sorted := make([]float64, len(prob))
	copy(sorted, prob)
	sort.Float64s(sorted)
	pct := sorted[int(p.PercentileFrac*float64(len(sorted)-1))]

	thr := p.PercentileWeight * pct
	if thr < p.ProbFloor {
		thr = p.ProbFloor
	}

	bytes := make([]byte, len(prob))
	for i, v := range prob {
		if v >= thr {
			bytes[i] = 255
		}
	}
	mask, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, bytes)
	if err != nil {
		return gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	}

	gocv.MedianBlur(mask, &mask, 5)
	openKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{3, 3})
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, openKernel)
	openKernel.Close()
	closeKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{5, 5})
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, closeKernel)
	closeKernel.Close()
	return mask
}

// medianByte returns the median of a small byte slice. The slice is
// reordered in place.
func medianByte(vals []byte) byte {
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return vals[len(vals)/2]
}

// maskBounds returns the bounding rectangle of the nonzero mask
// pixels.
func maskBounds(mask gocv.Mat) (image.Rectangle, bool) {
	data := mask.ToBytes()
	cols := mask.Cols()
	minX, minY := mask.Cols(), mask.Rows()
	maxX, maxY := -1, -1
	for i, v := range data {
		if v == 0 {
			continue
		}
		x := i % cols
		y := i / cols
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
