// Command cursor-scrub runs the cursor removal pipeline over a video:
// locate the cursor on every frame, synthesize removal masks,
// reconstruct the covered pixels, and optionally export the cleaned
// clip. State persists under the cache root, so corrections made
// elsewhere (rejections, good-frame marks, manual boxes) are honored
// on the next run.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cursor-scrub/internal/config"
	"cursor-scrub/internal/session"
	"cursor-scrub/internal/version"
)

func main() {
	videoPath := flag.String("video", "", "Path to the video file")
	cacheRoot := flag.String("cache", ".", "Root directory for per-video pipeline state")
	datasetDir := flag.String("dataset", "", "Crop dataset directory")
	configPath := flag.String("config", "", "Optional YAML tunables file")
	stage := flag.String("stage", "fill", "Run through this stage: detect, mask, or fill")
	from := flag.Int("from", -1, "First frame (inclusive)")
	to := flag.Int("to", 0, "Last frame (exclusive, 0 means end of video)")
	force := flag.Bool("force", false, "Recompute artifacts even when cached")
	exportPath := flag.String("export", "", "Write the cleaned video to this path after filling")
	debug := flag.Bool("debug", false, "Debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cursor-scrub %s\n", version.String())
		return
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *videoPath == "" || *datasetDir == "" {
		fmt.Println("Usage: cursor-scrub -video <path> -dataset <dir> [-cache dir] [-config file]")
		fmt.Println("                    [-stage detect|mask|fill] [-from N] [-to N] [-force]")
		fmt.Println("                    [-export out.mp4]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	s, err := session.Open(*videoPath, *cacheRoot, *datasetDir, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening session")
	}
	defer s.Close()

	src := s.Source()
	fmt.Printf("Video: %s (%dx%d, %d frames @ %.2f fps)\n",
		*videoPath, src.Width(), src.Height(), src.FrameCount(), src.FPS())
	fmt.Printf("Dataset: %s (%d templates)\n", *datasetDir, s.Library().Count())
	fmt.Printf("Cache: %s\n\n", s.Dir())

	stages := []string{"detect"}
	switch *stage {
	case "detect":
	case "mask":
		stages = append(stages, "mask")
	case "fill":
		stages = append(stages, "mask", "fill")
	default:
		log.Fatal().Str("stage", *stage).Msg("unknown stage")
	}

	for _, st := range stages {
		start := time.Now()
		var reports []session.FrameReport
		switch st {
		case "detect":
			reports = s.DetectAll(*from, *to, *force)
		case "mask":
			reports = s.MaskAll(*from, *to, *force)
		case "fill":
			reports = s.FillAll(*from, *to, *force)
		}
		printSummary(st, reports, time.Since(start))
	}

	if *exportPath != "" {
		start := time.Now()
		if err := s.Export(*exportPath); err != nil {
			log.Fatal().Err(err).Msg("export failed")
		}
		fmt.Printf("\nExported %s in %s\n", *exportPath, time.Since(start).Round(time.Millisecond))
	}
}

func printSummary(stage string, reports []session.FrameReport, elapsed time.Duration) {
	counts := session.Summarize(reports)

	outcomes := make([]session.Outcome, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })

	fmt.Printf("%-8s %d frames in %s:", stage, len(reports), elapsed.Round(time.Millisecond))
	for _, o := range outcomes {
		fmt.Printf(" %s=%d", o, counts[o])
	}
	fmt.Println()

	for _, r := range reports {
		if r.Err != nil {
			fmt.Printf("  frame %d: %v\n", r.Frame, r.Err)
		}
	}
}
