// Package session ties the engine together for one video: the frame
// source, the crop dataset, the detection store, the mask and fill
// caches, and the trueform variants, all rooted in a per-video cache
// directory.
//
// Pipeline state lives on disk so a session can be closed and reopened
// without losing work. Corrections flow through here so every
// invalidation (reject, mark-good, redetect) also drops the stale
// downstream artifacts.
package session

import (
	"image"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"cursor-scrub/internal/cache"
	"cursor-scrub/internal/config"
	"cursor-scrub/internal/cursor"
	"cursor-scrub/internal/dataset"
	"cursor-scrub/internal/fill"
	"cursor-scrub/internal/mask"
	"cursor-scrub/internal/store"
	"cursor-scrub/internal/trueform"
	"cursor-scrub/internal/video"
	"cursor-scrub/pkg/geometry"
)

// CacheDirName is the top-level directory created under the cache root.
const CacheDirName = "cursor_cache"

// Outcome classifies what a per-frame operation did.
type Outcome int

const (
	// OutcomeDone means the artifact was computed fresh.
	OutcomeDone Outcome = iota
	// OutcomeCached means an existing artifact was reused.
	OutcomeCached
	// OutcomeSkippedGood means the frame is marked clean.
	OutcomeSkippedGood
	// OutcomeNoDetection means the frame has no detection to work from.
	OutcomeNoDetection
	// OutcomeFallback means the whole mask was classically inpainted
	// because no temporal donor was usable.
	OutcomeFallback
	// OutcomeFailed means the operation errored.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeCached:
		return "cached"
	case OutcomeSkippedGood:
		return "good"
	case OutcomeNoDetection:
		return "no_detection"
	case OutcomeFallback:
		return "fallback"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Session is the per-video working state. All mutating operations
// serialize on one lock; reads of persisted artifacts are safe
// concurrently.
type Session struct {
	mu sync.Mutex

	src      video.Source
	lib      *dataset.Library
	store    *store.Store
	masks    *cache.FrameCache
	filled   *cache.FrameCache
	matcher  cursor.Matcher
	detector *cursor.Detector
	forms    map[string]map[trueform.Bin]trueform.Trueform
	cfg      config.Config
	dir      string
}

// Open opens a session for a video file. The cache directory is
// derived from the video filename so each video keeps its own state.
func Open(videoPath, cacheRoot, datasetDir string, cfg config.Config) (*Session, error) {
	src, err := video.Open(videoPath)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	return OpenWithSource(src, name, cacheRoot, datasetDir, cfg)
}

// OpenWithSource opens a session over an already-open frame source.
// The session takes ownership of src and closes it even when opening
// fails.
func OpenWithSource(src video.Source, name, cacheRoot, datasetDir string, cfg config.Config) (*Session, error) {
	dir := filepath.Join(cacheRoot, CacheDirName, name)

	st, err := store.Open(dir, cfg.Match.IoUReject)
	if err != nil {
		src.Close()
		return nil, err
	}
	masks, err := cache.New(filepath.Join(dir, "masks"), gocv.IMReadGrayScale)
	if err != nil {
		src.Close()
		return nil, err
	}
	filled, err := cache.New(filepath.Join(dir, "inpainted"), gocv.IMReadColor)
	if err != nil {
		src.Close()
		return nil, err
	}

	lib, err := dataset.LoadLibrary(datasetDir)
	if err != nil {
		src.Close()
		return nil, err
	}
	if lib.Count() == 0 {
		log.Warn().Str("dataset", datasetDir).Msg("dataset holds no templates, detection will find nothing")
	}

	matcher, err := cursor.NewMatcher(cursor.Options{UseGPU: cfg.Match.UseGPU, Workers: cfg.Match.Workers})
	if err != nil {
		// The GPU path is an optimization, never a reason to refuse work.
		log.Warn().Err(err).Msg("gpu matcher unavailable, using cpu")
		matcher, err = cursor.NewMatcher(cursor.Options{Workers: cfg.Match.Workers})
		if err != nil {
			lib.Close()
			src.Close()
			return nil, err
		}
	}

	params := cursor.DefaultMatchParams()
	params.Threshold = cfg.Match.Threshold
	params.Scales = cfg.Match.Scales
	params.EarlyStop = cfg.Match.EarlyStop

	s := &Session{
		src:      src,
		lib:      lib,
		store:    st,
		masks:    masks,
		filled:   filled,
		matcher:  matcher,
		detector: cursor.NewDetector(matcher, params, cfg.Match.ROIPadFrac, st),
		forms:    make(map[string]map[trueform.Bin]trueform.Trueform),
		cfg:      cfg,
		dir:      dir,
	}
	s.loadTrueforms()
	return s, nil
}

func (s *Session) loadTrueforms() {
	tfDir, err := s.lib.TrueformDir()
	if err != nil {
		log.Warn().Err(err).Msg("trueform directory unavailable, masks fall back to rectangles")
		return
	}
	for _, preset := range s.lib.Presets() {
		if forms := trueform.Load(tfDir, preset); len(forms) > 0 {
			s.forms[preset] = forms
		}
	}
}

// Dir returns the per-video cache directory.
func (s *Session) Dir() string { return s.dir }

// Source returns the underlying frame source.
func (s *Session) Source() video.Source { return s.src }

// Store returns the detection store.
func (s *Session) Store() *store.Store { return s.store }

// Library returns the crop dataset.
func (s *Session) Library() *dataset.Library { return s.lib }

// Mask returns the cached removal mask for a frame, if present. The
// caller owns the Mat.
func (s *Session) Mask(frame int) (gocv.Mat, bool) { return s.masks.Read(frame) }

// Filled returns the cached reconstructed frame, if present. The
// caller owns the Mat.
func (s *Session) Filled(frame int) (gocv.Mat, bool) { return s.filled.Read(frame) }

// Close releases the engines, the dataset, and the frame source.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.matcher.Close()
	s.lib.Close()
	for _, forms := range s.forms {
		trueform.CloseAll(forms)
	}
	s.forms = make(map[string]map[trueform.Bin]trueform.Trueform)
	return s.src.Close()
}

// Detect locates the cursor in one frame and persists the result.
// The previous frame's detection, when present, seeds the region
// search. With force false an existing detection is returned as-is.
func (s *Session) Detect(frame int, force bool) (*store.Record, Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detect(frame, force)
}

func (s *Session) detect(frame int, force bool) (*store.Record, Outcome, error) {
	if s.store.IsGood(frame) {
		return nil, OutcomeSkippedGood, nil
	}
	if rec, ok := s.store.Detection(frame); ok && !force {
		return &rec, OutcomeCached, nil
	}

	img, ok := s.src.ReadFrame(frame)
	if !ok {
		return nil, OutcomeFailed, errors.Errorf("frame %d unreadable", frame)
	}
	defer img.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	var prior *geometry.RectInt
	if prev, ok := s.store.Detection(frame - 1); ok {
		box := prev.Rect()
		prior = &box
	}

	r := s.detector.Detect(frame, gray, s.lib.Templates(), prior)
	if r == nil {
		// A forced redetect that finds nothing keeps the old record;
		// removal is an explicit correction, not a side effect.
		return nil, OutcomeNoDetection, nil
	}

	rec := store.Record{
		Frame:    frame,
		BBox:     store.BoxOf(r.BBox),
		Score:    r.ClampedScore(),
		Template: r.Template,
		Source:   s.sourceOf(prior, gray, r.BBox),
	}

	old, had := s.store.Detection(frame)
	if err := s.store.SetDetection(rec); err != nil {
		return nil, OutcomeFailed, err
	}
	if !had || old.BBox != rec.BBox {
		s.invalidate(frame)
	}
	return &rec, OutcomeDone, nil
}

func (s *Session) sourceOf(prior *geometry.RectInt, gray gocv.Mat, box geometry.RectInt) string {
	if prior == nil {
		return store.SourceAuto
	}
	region := prior.PadFrac(s.cfg.Match.ROIPadFrac).ClipTo(gray.Cols(), gray.Rows())
	if region.Intersect(box) == box {
		return store.SourceGuided
	}
	return store.SourceAuto
}

// SetManual records an operator-supplied bounding box. A manual box on
// a frame marked clean also revokes the mark, since the operator has
// just pointed at a cursor there.
func (s *Session) SetManual(frame int, box geometry.RectInt) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if box.Empty() {
		return store.Record{}, errors.New("manual box has no area")
	}
	rec := store.Record{
		Frame:  frame,
		BBox:   store.BoxOf(box),
		Score:  1,
		Source: store.SourceManual,
	}
	if err := s.store.SetDetection(rec); err != nil {
		return store.Record{}, err
	}
	if s.store.IsGood(frame) {
		if err := s.store.UnmarkGood(frame); err != nil {
			return store.Record{}, err
		}
	}
	s.invalidate(frame)
	return rec, nil
}

// Reject marks the frame's current detection as wrong. The box moves
// to the bad ledger and suppresses future matches at that location.
func (s *Session) Reject(frame int) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Reject(frame, store.SourceBadClick)
	if err != nil {
		return store.Record{}, err
	}
	s.invalidate(frame)
	return rec, nil
}

// MarkGood declares a frame cursor-free. Any current detection is
// displaced into the bad ledger and downstream artifacts are dropped.
func (s *Session) MarkGood(frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.Reject(frame, store.SourceAutoGood); err != nil && !errors.Is(err, store.ErrNoDetection) {
		return err
	}
	if err := s.store.MarkGood(frame); err != nil {
		return err
	}
	s.invalidate(frame)
	return nil
}

// UnmarkGood reverses MarkGood. The displaced detection stays in the
// bad ledger; rerun Detect to search the frame again.
func (s *Session) UnmarkGood(frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.UnmarkGood(frame)
}

// AddSample crops a region from a frame into the dataset, making it
// both a matching template and a trueform sample. Returns the new
// template name.
func (s *Session) AddSample(frame int, box geometry.RectInt, preset string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.src.ReadFrame(frame)
	if !ok {
		return "", errors.Errorf("frame %d unreadable", frame)
	}
	defer img.Close()

	clipped := box.ClipTo(img.Cols(), img.Rows())
	if clipped.Empty() {
		return "", errors.New("crop box has no on-frame area")
	}
	region := img.Region(image.Rect(clipped.X, clipped.Y, clipped.X+clipped.Width, clipped.Y+clipped.Height))
	defer region.Close()
	crop := region.Clone()
	defer crop.Close()

	return s.lib.AddSample(preset, crop)
}

// RefreshLibrary re-reads the dataset directory, picking up crops the
// operator added or deleted outside this process.
func (s *Session) RefreshLibrary() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lib.Refresh()
}

// BuildTrueforms rebuilds the orientation variants for one preset from
// its dataset samples, persists them, and drops every cached mask and
// fill built on the previous variants. Returns the number of variants
// built.
func (s *Session) BuildTrueforms(preset string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples, err := s.lib.SamplesFor(preset)
	if err != nil {
		return 0, err
	}
	defer func() {
		for i := range samples {
			samples[i].Image.Close()
		}
	}()
	if len(samples) == 0 {
		return 0, errors.Errorf("no samples for preset %q", preset)
	}

	crops := make([]gocv.Mat, len(samples))
	for i, smp := range samples {
		crops[i] = smp.Image
	}

	forms := trueform.Build(crops, trueform.DefaultBuildParams())
	if len(forms) == 0 {
		return 0, errors.Errorf("no orientation gathered enough consistent samples for %q", preset)
	}

	dir, err := s.lib.TrueformDir()
	if err != nil {
		trueform.CloseAll(forms)
		return 0, err
	}
	if err := trueform.Save(dir, preset, forms); err != nil {
		trueform.CloseAll(forms)
		return 0, err
	}

	if old, ok := s.forms[preset]; ok {
		trueform.CloseAll(old)
	}
	s.forms[preset] = forms
	s.invalidateAllArtifacts()
	return len(forms), nil
}

// SynthesizeMask builds and caches the removal mask for one frame.
func (s *Session) SynthesizeMask(frame int, force bool) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synthesizeMask(frame, force)
}

func (s *Session) synthesizeMask(frame int, force bool) (Outcome, error) {
	if s.store.IsGood(frame) {
		return OutcomeSkippedGood, nil
	}
	if !force && s.masks.Has(frame) {
		return OutcomeCached, nil
	}
	rec, ok := s.store.Detection(frame)
	if !ok {
		return OutcomeNoDetection, nil
	}

	img, ok := s.src.ReadFrame(frame)
	if !ok {
		return OutcomeFailed, errors.Errorf("frame %d unreadable", frame)
	}
	defer img.Close()

	m := mask.Synthesize(img, rec.Rect(), s.formsFor(rec.Template), s.maskParams())
	defer m.Close()
	if err := s.masks.Write(frame, m); err != nil {
		return OutcomeFailed, err
	}
	if err := s.filled.Invalidate(frame); err != nil {
		log.Warn().Int("frame", frame).Err(err).Msg("fill cache invalidation failed")
	}
	return OutcomeDone, nil
}

// formsFor picks the trueform set for a detection. Manual records
// carry no template name; with a single preset loaded the choice is
// unambiguous, otherwise the mask falls back to the rectangle.
func (s *Session) formsFor(template string) map[trueform.Bin]trueform.Trueform {
	if template != "" {
		if f, ok := s.forms[dataset.PresetOf(template)]; ok {
			return f
		}
		return nil
	}
	if len(s.forms) == 1 {
		for _, f := range s.forms {
			return f
		}
	}
	return nil
}

// Fill reconstructs the masked region of one frame and caches the
// result. The mask is synthesized first if missing.
func (s *Session) Fill(frame int, force bool) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fill(frame, force)
}

func (s *Session) fill(frame int, force bool) (Outcome, error) {
	if s.store.IsGood(frame) {
		return OutcomeSkippedGood, nil
	}
	if !force && s.filled.Has(frame) {
		return OutcomeCached, nil
	}

	out, err := s.synthesizeMask(frame, false)
	if err != nil {
		return out, err
	}
	if out == OutcomeNoDetection {
		return OutcomeNoDetection, nil
	}

	maskMat, ok := s.masks.Read(frame)
	if !ok {
		return OutcomeFailed, errors.Errorf("mask for frame %d missing after synthesis", frame)
	}
	defer maskMat.Close()

	img, ok := s.src.ReadFrame(frame)
	if !ok {
		return OutcomeFailed, errors.Errorf("frame %d unreadable", frame)
	}
	defer img.Close()

	res := fill.Fill(donorHood{s: s}, frame, img, maskMat, s.fillParams())
	if res == nil {
		patched := fill.InpaintWhole(img, maskMat, float32(s.cfg.Fill.TeleaRadius))
		defer patched.Close()
		if err := s.filled.Write(frame, patched); err != nil {
			return OutcomeFailed, err
		}
		log.Info().Int("frame", frame).Msg("no usable donors, whole-mask inpaint")
		return OutcomeFallback, nil
	}
	defer res.Image.Close()
	if err := s.filled.Write(frame, res.Image); err != nil {
		return OutcomeFailed, err
	}
	log.Debug().Int("frame", frame).Int("donors", res.Donors).Bool("residual", res.Residual).Msg("frame filled")
	return OutcomeDone, nil
}

// Export writes the cleaned video: reconstructed frames where cached,
// source frames for good and untouched frames.
func (s *Session) Export(outPath string) error {
	resolver := func(i int) (gocv.Mat, bool) {
		if s.store.IsGood(i) {
			return gocv.Mat{}, false
		}
		return s.filled.Read(i)
	}
	return video.Export(s.src, resolver, outPath, s.cfg.Fill.ChunkSize)
}

// donorHood adapts the session to the fill engine's neighbor view.
// Donor masks come from the cache when present; a detection without a
// cached mask gets the cheap box mask, which is enough to keep cursor
// pixels out of donations.
type donorHood struct {
	s *Session
}

func (h donorHood) Frame(i int) (gocv.Mat, bool) { return h.s.src.ReadFrame(i) }

func (h donorHood) Mask(i int) (gocv.Mat, bool) {
	if h.s.store.IsGood(i) {
		return gocv.Mat{}, false
	}
	if m, ok := h.s.masks.Read(i); ok {
		return m, true
	}
	rec, ok := h.s.store.Detection(i)
	if !ok {
		return gocv.Mat{}, false
	}
	return mask.BoxMask(h.s.src.Width(), h.s.src.Height(), rec.Rect(), h.s.cfg.Mask.DilatePx), true
}

func (h donorHood) FrameCount() int { return h.s.src.FrameCount() }

func (s *Session) invalidate(frame int) {
	if err := s.masks.Invalidate(frame); err != nil {
		log.Warn().Int("frame", frame).Err(err).Msg("mask cache invalidation failed")
	}
	if err := s.filled.Invalidate(frame); err != nil {
		log.Warn().Int("frame", frame).Err(err).Msg("fill cache invalidation failed")
	}
}

func (s *Session) invalidateAllArtifacts() {
	seen := make(map[int]bool)
	for _, f := range s.masks.Frames() {
		seen[f] = true
	}
	for _, f := range s.filled.Frames() {
		seen[f] = true
	}
	for f := range seen {
		s.invalidate(f)
	}
	if len(seen) > 0 {
		log.Info().Int("frames", len(seen)).Msg("cached artifacts dropped after trueform rebuild")
	}
}

func (s *Session) maskParams() mask.Params {
	return mask.Params{DilatePx: s.cfg.Mask.DilatePx, UseTrueforms: s.cfg.Mask.UseTrueforms}
}

func (s *Session) fillParams() fill.Params {
	return fill.Params{
		MaxSearchFrames: s.cfg.Fill.MaxSearchFrames,
		SceneThreshold:  s.cfg.Scene.Threshold,
		HistWeight:      s.cfg.Scene.HistWeight,
		DiffWeight:      s.cfg.Scene.DiffWeight,
		InpaintRadius:   float32(s.cfg.Fill.TeleaRadius),
	}
}
