package trueform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// FileName returns the on-disk name for one trueform variant.
func FileName(preset string, bin Bin) string {
	return fmt.Sprintf("%s_%s_trueform.png", preset, bin)
}

// Save writes each bin's trueform into dir as a four-channel PNG: the
// color channels carry the median image, alpha carries the mask.
func Save(dir, preset string, forms map[Bin]Trueform) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating trueform directory %s", dir)
	}
	for bin, tf := range forms {
		channels := gocv.Split(tf.Median)
		merged := gocv.NewMat()
		gocv.Merge([]gocv.Mat{channels[0], channels[1], channels[2], tf.Mask}, &merged)
		for _, ch := range channels {
			ch.Close()
		}

		path := filepath.Join(dir, FileName(preset, bin))
		ok := gocv.IMWrite(path, merged)
		merged.Close()
		if !ok {
			return errors.Errorf("writing trueform %s failed", path)
		}
	}
	return nil
}

// Load reads the persisted trueform variants for a preset. Missing
// variants are simply absent; unreadable files are skipped with a
// warning. An empty map is a valid result.
func Load(dir, preset string) map[Bin]Trueform {
	forms := make(map[Bin]Trueform)
	for _, bin := range Bins() {
		path := filepath.Join(dir, FileName(preset, bin))
		img := gocv.IMRead(path, gocv.IMReadUnchanged)
		if img.Empty() {
			continue
		}
		if img.Channels() != 4 {
			log.Warn().Str("path", path).Int("channels", img.Channels()).Msg("trueform file has no alpha channel, skipping")
			img.Close()
			continue
		}

		channels := gocv.Split(img)
		img.Close()
		median := gocv.NewMat()
		gocv.Merge([]gocv.Mat{channels[0], channels[1], channels[2]}, &median)
		mask := channels[3].Clone()
		for _, ch := range channels {
			ch.Close()
		}
		forms[bin] = Trueform{Median: median, Mask: mask}
	}
	return forms
}
