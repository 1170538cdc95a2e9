// Package dataset manages the user-curated crop folder: the grayscale
// template library used for matching and the color samples consumed by
// trueform building.
//
// Files follow the `<preset>_<id>.png` naming convention. Everything
// before the first underscore is the preset; a file with no underscore
// is its own preset. The trueforms/ subdirectory holds build output and
// is never scanned as samples.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// TrueformDirName is the subdirectory for trueform build output.
const TrueformDirName = "trueforms"

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true}

// Library holds the grayscale reference templates loaded from a crop
// folder. Template names are file stems without extension.
type Library struct {
	mu        sync.RWMutex
	dir       string
	templates map[string]gocv.Mat
}

// LoadLibrary scans a dataset directory and loads every image file as a
// grayscale template. A missing directory is a hard error; an
// unreadable file inside it is logged and skipped.
func LoadLibrary(dir string) (*Library, error) {
	l := &Library{dir: dir, templates: make(map[string]gocv.Mat)}
	if err := l.Refresh(); err != nil {
		return nil, err
	}
	return l, nil
}

// Refresh re-reads the dataset directory, replacing the in-memory
// template set. It must not run while a detection is in flight; the
// session serializes refreshes with detection work.
func (l *Library) Refresh() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return errors.Wrapf(err, "read dataset dir %s", l.dir)
	}

	fresh := make(map[string]gocv.Mat)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		m := gocv.IMRead(path, gocv.IMReadGrayScale)
		if m.Empty() {
			m.Close()
			log.Warn().Str("file", path).Msg("unreadable template skipped")
			continue
		}
		fresh[stem(e.Name())] = m
	}

	l.mu.Lock()
	old := l.templates
	l.templates = fresh
	l.mu.Unlock()

	for _, m := range old {
		m.Close()
	}
	return nil
}

// Dir returns the dataset directory.
func (l *Library) Dir() string { return l.dir }

// Count returns the number of loaded templates.
func (l *Library) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.templates)
}

// Names returns the loaded template names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets returns the distinct preset prefixes present, sorted.
func (l *Library) Presets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]bool)
	for name := range l.templates {
		seen[PresetOf(name)] = true
	}
	presets := make([]string, 0, len(seen))
	for p := range seen {
		presets = append(presets, p)
	}
	sort.Strings(presets)
	return presets
}

// Templates returns a snapshot of name to template Mat. The Mats stay
// owned by the library; callers must not Close them and must not hold
// them across a Refresh.
func (l *Library) Templates() map[string]gocv.Mat {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := make(map[string]gocv.Mat, len(l.templates))
	for name, m := range l.templates {
		snap[name] = m
	}
	return snap
}

// Sample is one curated crop loaded in color for trueform building.
// The caller owns and closes Image.
type Sample struct {
	Name  string
	Image gocv.Mat
}

// SamplesFor loads the color crops of one preset from disk. Unreadable
// files are logged and skipped.
func (l *Library) SamplesFor(preset string) ([]Sample, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset dir %s", l.dir)
	}

	var samples []Sample
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		if PresetOf(stem(e.Name())) != preset {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		m := gocv.IMRead(path, gocv.IMReadColor)
		if m.Empty() {
			m.Close()
			log.Warn().Str("file", path).Msg("unreadable sample skipped")
			continue
		}
		samples = append(samples, Sample{Name: stem(e.Name()), Image: m})
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples, nil
}

// AddSample writes a new crop into the dataset under a fresh
// `<preset>_<id>.png` name and loads it into the template set.
// Returns the new template name.
func (l *Library) AddSample(preset string, crop gocv.Mat) (string, error) {
	if crop.Empty() {
		return "", errors.New("empty crop")
	}
	if strings.Contains(preset, "_") {
		return "", errors.Errorf("preset %q must not contain underscores", preset)
	}

	name := fmt.Sprintf("%s_%s", preset, uuid.NewString()[:8])
	path := filepath.Join(l.dir, name+".png")
	if ok := gocv.IMWrite(path, crop); !ok {
		return "", errors.Errorf("write sample %s", path)
	}

	gray := gocv.NewMat()
	gocv.CvtColor(crop, &gray, gocv.ColorBGRToGray)

	l.mu.Lock()
	if old, exists := l.templates[name]; exists {
		old.Close()
	}
	l.templates[name] = gray
	l.mu.Unlock()

	return name, nil
}

// TrueformDir returns the trueform output directory for this dataset,
// creating it if needed.
func (l *Library) TrueformDir() (string, error) {
	dir := filepath.Join(l.dir, TrueformDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create trueform dir %s", dir)
	}
	return dir, nil
}

// Close releases all loaded templates.
func (l *Library) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.templates {
		m.Close()
	}
	l.templates = make(map[string]gocv.Mat)
}

func stem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// PresetOf extracts the preset prefix from a template name.
func PresetOf(name string) string {
	if i := strings.Index(name, "_"); i > 0 {
		return name[:i]
	}
	return name
}
