// Command trueformtrain builds orientation-binned trueform templates
// from a curated crop dataset and writes them next to the crops.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"cursor-scrub/internal/dataset"
	"cursor-scrub/internal/trueform"
)

func main() {
	datasetDir := flag.String("dataset", "", "Crop dataset directory")
	preset := flag.String("preset", "", "Preset to build (empty builds every preset)")
	minSamples := flag.Int("min-samples", 2, "Minimum samples per orientation")
	debug := flag.Bool("debug", false, "Debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *datasetDir == "" {
		fmt.Println("Usage: trueformtrain -dataset <dir> [-preset name] [-min-samples 2]")
		os.Exit(1)
	}

	lib, err := dataset.LoadLibrary(*datasetDir)
	if err != nil {
		log.Fatal().Err(err).Msg("loading dataset")
	}
	defer lib.Close()

	presets := lib.Presets()
	if *preset != "" {
		presets = []string{*preset}
	}
	if len(presets) == 0 {
		fmt.Println("Dataset holds no crops")
		os.Exit(1)
	}

	outDir, err := lib.TrueformDir()
	if err != nil {
		log.Fatal().Err(err).Msg("creating output directory")
	}

	params := trueform.DefaultBuildParams().WithMinSamples(*minSamples)
	built := 0

	for _, p := range presets {
		samples, err := lib.SamplesFor(p)
		if err != nil {
			log.Fatal().Err(err).Str("preset", p).Msg("loading samples")
		}
		crops := make([]gocv.Mat, len(samples))
		for i, smp := range samples {
			crops[i] = smp.Image
		}

		fmt.Printf("Preset %s: %d samples\n", p, len(samples))
		forms := trueform.Build(crops, params)
		for i := range samples {
			samples[i].Image.Close()
		}
		if len(forms) == 0 {
			fmt.Printf("  no orientation gathered %d consistent samples, nothing written\n", *minSamples)
			continue
		}

		if err := trueform.Save(outDir, p, forms); err != nil {
			trueform.CloseAll(forms)
			log.Fatal().Err(err).Str("preset", p).Msg("writing trueforms")
		}

		for _, bin := range trueform.Bins() {
			tf, ok := forms[bin]
			if !ok {
				continue
			}
			area := tf.Mask.Rows() * tf.Mask.Cols()
			coverage := 0.0
			if area > 0 {
				coverage = 100 * float64(gocv.CountNonZero(tf.Mask)) / float64(area)
			}
			fmt.Printf("  %-5s %dx%d mask %.0f%% -> %s\n",
				bin, tf.Median.Cols(), tf.Median.Rows(), coverage, trueform.FileName(p, bin))
			built++
		}
		trueform.CloseAll(forms)
	}

	fmt.Printf("\n%d variants written to %s\n", built, outDir)
}
