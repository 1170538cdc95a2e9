// Command detecttest runs cursor detection on a frame range and prints
// the raw results without touching any persisted state. Useful for
// tuning thresholds and checking a dataset against new footage.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"cursor-scrub/internal/config"
	"cursor-scrub/internal/cursor"
	"cursor-scrub/internal/dataset"
	"cursor-scrub/internal/video"
	"cursor-scrub/pkg/geometry"
)

func main() {
	videoPath := flag.String("video", "", "Path to the video file")
	datasetDir := flag.String("dataset", "", "Crop dataset directory")
	configPath := flag.String("config", "", "Optional YAML tunables file")
	from := flag.Int("from", 0, "First frame (inclusive)")
	to := flag.Int("to", 0, "Last frame (exclusive, 0 means from+1)")
	chain := flag.Bool("chain", true, "Seed each frame's region search with the previous hit")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *videoPath == "" || *datasetDir == "" {
		fmt.Println("Usage: detecttest -video <path> -dataset <dir> [-from N] [-to N] [-chain=false]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	src, err := video.Open(*videoPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open video: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	lib, err := dataset.LoadLibrary(*datasetDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load dataset: %v\n", err)
		os.Exit(1)
	}
	defer lib.Close()

	matcher, err := cursor.NewMatcher(cursor.Options{UseGPU: cfg.Match.UseGPU, Workers: cfg.Match.Workers})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create matcher: %v\n", err)
		os.Exit(1)
	}
	defer matcher.Close()

	params := cursor.DefaultMatchParams()
	params.Threshold = cfg.Match.Threshold
	params.Scales = cfg.Match.Scales
	params.EarlyStop = cfg.Match.EarlyStop
	detector := cursor.NewDetector(matcher, params, cfg.Match.ROIPadFrac, nil)

	fmt.Printf("Video: %dx%d, %d frames\n", src.Width(), src.Height(), src.FrameCount())
	fmt.Printf("Templates: %d (%v)\n", lib.Count(), lib.Names())
	fmt.Printf("Threshold %.2f, scales %v\n\n", params.Threshold, params.Scales)

	first, last := *from, *to
	if last <= first {
		last = first + 1
	}
	if last > src.FrameCount() {
		last = src.FrameCount()
	}

	fmt.Printf("%-8s %-24s %8s %8s %-20s\n", "Frame", "Template", "Scale", "Score", "BBox")

	var prior *geometry.RectInt
	found := 0
	for f := first; f < last; f++ {
		img, ok := src.ReadFrame(f)
		if !ok {
			fmt.Printf("%-8d unreadable\n", f)
			prior = nil
			continue
		}
		gray := gocv.NewMat()
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
		img.Close()

		r := detector.Detect(f, gray, lib.Templates(), prior)
		gray.Close()

		if r == nil {
			fmt.Printf("%-8d no match\n", f)
			prior = nil
			continue
		}
		found++
		fmt.Printf("%-8d %-24s %8.2f %8.3f (%d,%d %dx%d)\n",
			f, r.Template, r.Scale, r.Score, r.BBox.X, r.BBox.Y, r.BBox.Width, r.BBox.Height)
		if *chain {
			box := r.BBox
			prior = &box
		}
	}

	fmt.Printf("\nMatched %d of %d frames\n", found, last-first)
}
