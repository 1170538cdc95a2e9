// Package trueform builds canonical cursor shapes from hand-curated
// sample crops. A trueform is the robust per-pixel consensus of several
// noisy crops of the same pose: a median color image plus a tight
// binary mask of the shape itself. Samples are grouped by principal
// orientation first so visually distinct poses never average together.
package trueform

import "gocv.io/x/gocv"

// Bin is one of the four orientation groups a sample can fall into.
type Bin string

const (
	BinRight Bin = "right"
	BinDown  Bin = "down"
	BinLeft  Bin = "left"
	BinUp    Bin = "up"
)

// Bins lists the orientation groups in canonical order.
func Bins() []Bin {
	return []Bin{BinRight, BinDown, BinLeft, BinUp}
}

// Trueform is the consensus shape for one orientation bin.
type Trueform struct {
	// Median is the per-pixel median color image, BGR.
	Median gocv.Mat
	// Mask marks shape pixels with 255, background with 0. Same size
	// as Median.
	Mask gocv.Mat
}

// Close releases both images.
func (tf *Trueform) Close() {
	tf.Median.Close()
	tf.Mask.Close()
}

// CloseAll releases every trueform in a bin map.
func CloseAll(forms map[Bin]Trueform) {
	for _, tf := range forms {
		tf.Close()
	}
}

// aligned is one sample after registration to the bin reference.
type aligned struct {
	image      gocv.Mat
	registered bool
}
