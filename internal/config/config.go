// Package config loads the engine tunables from an optional YAML file.
//
// Every value here is an empirically chosen knob rather than a structural
// constant, so it is exposed as configuration with a sensible default.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all engine tunables.
type Config struct {
	Match MatchConfig `yaml:"match"`
	Scene SceneConfig `yaml:"scene"`
	Fill  FillConfig  `yaml:"fill"`
	Mask  MaskConfig  `yaml:"mask"`
}

// MatchConfig tunes the multi-scale template matcher.
type MatchConfig struct {
	// Threshold is the minimum correlation score for a detection.
	Threshold float64 `yaml:"threshold"`
	// Scales are the template scale factors tried per frame.
	Scales []float64 `yaml:"scales"`
	// EarlyStop short-circuits scanning once a pair scores this high.
	EarlyStop float64 `yaml:"early_stop"`
	// ROIPadFrac pads the prior bounding box by this fraction of its own
	// size before the region-of-interest search.
	ROIPadFrac float64 `yaml:"roi_pad_frac"`
	// IoUReject discards candidates overlapping a rejected box above this.
	IoUReject float64 `yaml:"iou_reject"`
	// Workers bounds the (template, scale) scoring pool. Zero means one
	// worker per CPU.
	Workers int `yaml:"workers"`
	// UseGPU selects the CUDA matcher when the binary was built with it.
	UseGPU bool `yaml:"use_gpu"`
}

// SceneConfig tunes the scene-similarity score used by temporal fill.
type SceneConfig struct {
	// HistWeight and DiffWeight blend the HSV-histogram correlation and
	// the inverted grayscale difference. They should sum to 1.
	HistWeight float64 `yaml:"hist_weight"`
	DiffWeight float64 `yaml:"diff_weight"`
	// Threshold below which a neighbor frame is treated as a cut.
	Threshold float64 `yaml:"threshold"`
}

// FillConfig tunes the temporal fill engine.
type FillConfig struct {
	// MaxSearchFrames bounds the donor search in each direction.
	MaxSearchFrames int `yaml:"max_search_frames"`
	// TeleaRadius is the classical-inpaint radius for residual gaps.
	TeleaRadius int `yaml:"telea_radius"`
	// ChunkSize is the frame batch size for export-time writers.
	ChunkSize int `yaml:"chunk_size"`
}

// MaskConfig tunes mask synthesis.
type MaskConfig struct {
	// DilatePx grows the rectangle mask by this many pixels when no
	// trueform is available.
	DilatePx int `yaml:"dilate_px"`
	// UseTrueforms disables silhouette masks when false.
	UseTrueforms bool `yaml:"use_trueforms"`
}

// Default returns the built-in tunables.
func Default() Config {
	return Config{
		Match: MatchConfig{
			Threshold:  0.80,
			Scales:     []float64{0.6, 0.7, 0.8, 0.9, 1.0, 1.1, 1.25},
			EarlyStop:  0.985,
			ROIPadFrac: 0.75,
			IoUReject:  0.30,
			Workers:    0,
			UseGPU:     false,
		},
		Scene: SceneConfig{
			HistWeight: 0.6,
			DiffWeight: 0.4,
			Threshold:  0.5,
		},
		Fill: FillConfig{
			MaxSearchFrames: 30,
			TeleaRadius:     2,
			ChunkSize:       16,
		},
		Mask: MaskConfig{
			DilatePx:     4,
			UseTrueforms: true,
		},
	}
}

// Load reads tunables from a YAML file. A missing file yields the
// defaults; a malformed file is a hard error because silently running
// with half-applied tunables would be worse than failing.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}

	return cfg.sanitized(), nil
}

// sanitized clamps values a hand-edited file can plausibly get wrong.
func (c Config) sanitized() Config {
	if len(c.Match.Scales) == 0 {
		c.Match.Scales = Default().Match.Scales
	}
	if c.Match.Threshold <= 0 || c.Match.Threshold > 1 {
		c.Match.Threshold = Default().Match.Threshold
	}
	if c.Match.ROIPadFrac < 0 {
		c.Match.ROIPadFrac = 0
	}
	if c.Fill.MaxSearchFrames < 1 {
		c.Fill.MaxSearchFrames = 1
	}
	if c.Fill.TeleaRadius < 1 {
		c.Fill.TeleaRadius = 1
	}
	if c.Fill.ChunkSize < 1 {
		c.Fill.ChunkSize = Default().Fill.ChunkSize
	}
	if c.Mask.DilatePx < 0 {
		c.Mask.DilatePx = 0
	}
	total := c.Scene.HistWeight + c.Scene.DiffWeight
	if total <= 0 {
		c.Scene = Default().Scene
	}
	return c
}
