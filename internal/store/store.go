// Package store persists per-video detection state: the detection
// ledger, the rejection ledger, and the set of frames marked clean.
// Ledgers are append-only JSONL so every correction keeps its history;
// the detection ledger is additionally rewritten when an entry is
// rejected so a replay never resurrects a known-bad box.
package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cursor-scrub/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Sources recorded on ledger entries.
const (
	SourceAuto     = "auto"      // full-frame automatic match
	SourceGuided   = "guided"    // match found via the previous frame's region
	SourceManual   = "manual"    // operator-supplied box
	SourceBadClick = "bad_click" // operator rejected the detection
	SourceAutoGood = "auto_good" // detection displaced by marking the frame clean
)

const (
	detectionsFile = "detections.jsonl"
	badFile        = "bad_detections.jsonl"
	goodFile       = "good_frames.json"
)

// ErrNoDetection is returned when an operation targets a frame with no
// recorded detection.
var ErrNoDetection = errors.New("no detection recorded for frame")

// Record is one ledger entry. The same shape serves both ledgers; only
// Source distinguishes how the entry came to be.
type Record struct {
	Frame    int     `json:"frame"`
	BBox     [4]int  `json:"bbox"` // x, y, width, height
	Score    float64 `json:"score"`
	Template string  `json:"template,omitempty"`
	Source   string  `json:"source"`
}

// Rect returns the bounding box as a rectangle.
func (r Record) Rect() geometry.RectInt {
	return geometry.RectInt{X: r.BBox[0], Y: r.BBox[1], Width: r.BBox[2], Height: r.BBox[3]}
}

// BoxOf converts a rectangle to the ledger bbox shape.
func BoxOf(r geometry.RectInt) [4]int {
	return [4]int{r.X, r.Y, r.Width, r.Height}
}

// Store is the on-disk detection state for one video. Safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	dir       string
	iouReject float64

	detections map[int]Record   // latest accepted detection per frame
	bad        map[int][]Record // all rejected boxes per frame
	good       map[int]bool     // frames marked clean
}

// Open loads (or initializes) the store rooted at dir. Ledger lines
// that fail to parse are logged and skipped rather than aborting the
// load; corruption loses one correction, not the whole history.
func Open(dir string, iouReject float64) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "detections"), 0755); err != nil {
		return nil, errors.Wrapf(err, "creating store directory %s", dir)
	}

	s := &Store{
		dir:        dir,
		iouReject:  iouReject,
		detections: make(map[int]Record),
		bad:        make(map[int][]Record),
		good:       make(map[int]bool),
	}

	for _, rec := range replayLedger(s.detectionsPath()) {
		// Latest entry per frame wins.
		s.detections[rec.Frame] = rec
	}
	for _, rec := range replayLedger(s.badPath()) {
		s.bad[rec.Frame] = append(s.bad[rec.Frame], rec)
	}
	if err := s.loadGood(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) detectionsPath() string {
	return filepath.Join(s.dir, "detections", detectionsFile)
}

func (s *Store) badPath() string {
	return filepath.Join(s.dir, "detections", badFile)
}

func (s *Store) goodPath() string {
	return filepath.Join(s.dir, goodFile)
}

// Detection returns the accepted detection for a frame, if any.
func (s *Store) Detection(frame int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.detections[frame]
	return rec, ok
}

// Detections returns all accepted detections ordered by frame.
func (s *Store) Detections() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.detections))
	for _, rec := range s.detections {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out
}

// SetDetection records a detection, appending to the ledger and
// replacing any previous entry for the frame.
func (s *Store) SetDetection(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendRecord(s.detectionsPath(), rec); err != nil {
		return err
	}
	s.detections[rec.Frame] = rec
	return nil
}

// Reject moves the frame's detection to the rejection ledger under the
// given source and rewrites the detection ledger without it. Returns
// the displaced record, or ErrNoDetection.
func (s *Store) Reject(frame int, source string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.detections[frame]
	if !ok {
		return Record{}, errors.Wrapf(ErrNoDetection, "frame %d", frame)
	}

	badRec := rec
	badRec.Source = source
	if err := appendRecord(s.badPath(), badRec); err != nil {
		return Record{}, err
	}
	s.bad[frame] = append(s.bad[frame], badRec)

	delete(s.detections, frame)
	if err := s.rewriteDetections(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// IsRejected reports whether the box overlaps any rejected box for the
// frame beyond the configured IoU threshold. Implements the detector's
// rejection filter.
func (s *Store) IsRejected(frame int, bbox geometry.RectInt) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.bad[frame] {
		if rec.Rect().IoU(bbox) > s.iouReject {
			return true
		}
	}
	return false
}

// Rejected returns the rejection history for a frame.
func (s *Store) Rejected(frame int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.bad[frame]))
	copy(out, s.bad[frame])
	return out
}

// MarkGood records the frame as clean.
func (s *Store) MarkGood(frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.good[frame] {
		return nil
	}
	s.good[frame] = true
	return s.saveGood()
}

// UnmarkGood removes the clean flag from a frame.
func (s *Store) UnmarkGood(frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.good[frame] {
		return nil
	}
	delete(s.good, frame)
	return s.saveGood()
}

// IsGood reports whether the frame is marked clean.
func (s *Store) IsGood(frame int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.good[frame]
}

// GoodFrames returns the clean frames in ascending order.
func (s *Store) GoodFrames() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.good))
	for frame := range s.good {
		out = append(out, frame)
	}
	sort.Ints(out)
	return out
}

// rewriteDetections replaces the detection ledger with the current
// accepted set. Caller holds the write lock.
func (s *Store) rewriteDetections() error {
	frames := make([]int, 0, len(s.detections))
	for frame := range s.detections {
		frames = append(frames, frame)
	}
	sort.Ints(frames)

	var buf []byte
	for _, frame := range frames {
		line, err := json.Marshal(s.detections[frame])
		if err != nil {
			return errors.Wrap(err, "encoding detection record")
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := os.WriteFile(s.detectionsPath(), buf, 0644); err != nil {
		return errors.Wrap(err, "rewriting detection ledger")
	}
	return nil
}

func (s *Store) loadGood() error {
	data, err := os.ReadFile(s.goodPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading good-frame set")
	}
	var frames []int
	if err := json.Unmarshal(data, &frames); err != nil {
		log.Warn().Str("path", s.goodPath()).Err(err).Msg("good-frame set unreadable, starting empty")
		return nil
	}
	for _, frame := range frames {
		s.good[frame] = true
	}
	return nil
}

// saveGood persists the clean set. Caller holds the write lock.
func (s *Store) saveGood() error {
	frames := make([]int, 0, len(s.good))
	for frame := range s.good {
		frames = append(frames, frame)
	}
	sort.Ints(frames)

	data, err := json.MarshalIndent(frames, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding good-frame set")
	}
	if err := os.WriteFile(s.goodPath(), data, 0644); err != nil {
		return errors.Wrap(err, "writing good-frame set")
	}
	return nil
}

// appendRecord adds one line to a JSONL ledger.
func appendRecord(path string, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encoding ledger record")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening ledger %s", path)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrapf(err, "appending to ledger %s", path)
	}
	return nil
}

// replayLedger reads every parseable record from a JSONL file. A
// missing file is an empty ledger.
func replayLedger(path string) []Record {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var records []Record
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warn().Str("path", path).Int("line", lineNo).Err(err).Msg("skipping malformed ledger record")
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("ledger read stopped early")
	}
	return records
}
