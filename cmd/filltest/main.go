// Command filltest runs the removal pipeline on a single frame and
// writes each intermediate artifact as an image for inspection.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"cursor-scrub/internal/config"
	"cursor-scrub/internal/session"
	"cursor-scrub/pkg/geometry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

func main() {
	videoPath := flag.String("video", "", "Path to the source video")
	cacheRoot := flag.String("cache", ".", "Directory holding per-video state")
	datasetDir := flag.String("dataset", "", "Template dataset directory")
	configPath := flag.String("config", "", "Optional YAML config file")
	frame := flag.Int("frame", 0, "Frame index to process")
	outDir := flag.String("out", "filltest_out", "Directory for preview images")
	force := flag.Bool("force", false, "Recompute even when cached artifacts exist")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *videoPath == "" || *datasetDir == "" {
		fmt.Println("Usage: filltest -video <path> -dataset <dir> [-frame N] [-out <dir>] [-force]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	s, err := session.Open(*videoPath, *cacheRoot, *datasetDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open session: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	if *frame < 0 || *frame >= s.Source().FrameCount() {
		fmt.Fprintf(os.Stderr, "Frame %d out of range (video has %d frames)\n",
			*frame, s.Source().FrameCount())
		os.Exit(1)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output dir: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Detect frame %d ===\n", *frame)
	start := time.Now()
	rec, outcome, err := s.Detect(*frame, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Outcome: %s (%.0f ms)\n", outcome, time.Since(start).Seconds()*1000)
	if rec == nil {
		fmt.Println("No detection recorded; nothing to remove on this frame.")
		return
	}
	fmt.Printf("BBox: (%d,%d) %dx%d\n", rec.BBox[0], rec.BBox[1], rec.BBox[2], rec.BBox[3])
	fmt.Printf("Score: %.4f  Source: %s  Template: %s\n", rec.Score, rec.Source, rec.Template)
	writeOverlay(s, *frame, rec.Rect(), *outDir)

	fmt.Printf("\n=== Synthesize mask ===\n")
	start = time.Now()
	outcome, err = s.SynthesizeMask(*frame, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Mask synthesis failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Outcome: %s (%.0f ms)\n", outcome, time.Since(start).Seconds()*1000)
	if m, ok := s.Mask(*frame); ok {
		writeArtifact(m, filepath.Join(*outDir, fmt.Sprintf("%06d_mask.png", *frame)))
		m.Close()
	}

	fmt.Printf("\n=== Fill ===\n")
	start = time.Now()
	outcome, err = s.Fill(*frame, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fill failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Outcome: %s (%.0f ms)\n", outcome, time.Since(start).Seconds()*1000)
	if m, ok := s.Filled(*frame); ok {
		writeArtifact(m, filepath.Join(*outDir, fmt.Sprintf("%06d_filled.png", *frame)))
		m.Close()
	}
}

// writeOverlay saves the frame with the detection box drawn on it.
func writeOverlay(s *session.Session, frame int, r geometry.RectInt, outDir string) {
	img, ok := s.Source().ReadFrame(frame)
	if !ok {
		return
	}
	defer img.Close()

	gocv.Rectangle(&img, image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height),
		color.RGBA{G: 255}, 2)
	writeArtifact(img, filepath.Join(outDir, fmt.Sprintf("%06d_box.png", frame)))
}

func writeArtifact(m gocv.Mat, path string) {
	if !gocv.IMWrite(path, m) {
		fmt.Fprintf(os.Stderr, "Failed to write %s\n", path)
		return
	}
	fmt.Printf("Wrote %s\n", path)
}
