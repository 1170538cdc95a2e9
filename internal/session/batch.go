package session

import (
	"github.com/rs/zerolog/log"
)

// FrameReport is the outcome of a batch operation on one frame.
type FrameReport struct {
	Frame   int
	Outcome Outcome
	Err     error
}

// Summarize counts reports by outcome.
func Summarize(reports []FrameReport) map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, r := range reports {
		counts[r.Outcome]++
	}
	return counts
}

const progressEvery = 100

// DetectAll runs detection over [from, to). Frames run in order so
// each frame's hit seeds the next frame's region search. Negative from
// and zero to mean the whole video.
func (s *Session) DetectAll(from, to int, force bool) []FrameReport {
	from, to = s.clampRange(from, to)
	reports := make([]FrameReport, 0, to-from)
	for f := from; f < to; f++ {
		_, out, err := s.Detect(f, force)
		if err != nil {
			out = OutcomeFailed
			log.Warn().Int("frame", f).Err(err).Msg("detect failed")
		}
		reports = append(reports, FrameReport{Frame: f, Outcome: out, Err: err})
		s.progress("detect", f, to)
	}
	return reports
}

// MaskAll synthesizes removal masks over [from, to).
func (s *Session) MaskAll(from, to int, force bool) []FrameReport {
	from, to = s.clampRange(from, to)
	reports := make([]FrameReport, 0, to-from)
	for f := from; f < to; f++ {
		out, err := s.SynthesizeMask(f, force)
		if err != nil {
			log.Warn().Int("frame", f).Err(err).Msg("mask synthesis failed")
		}
		reports = append(reports, FrameReport{Frame: f, Outcome: out, Err: err})
		s.progress("mask", f, to)
	}
	return reports
}

// FillAll reconstructs masked frames over [from, to).
func (s *Session) FillAll(from, to int, force bool) []FrameReport {
	from, to = s.clampRange(from, to)
	reports := make([]FrameReport, 0, to-from)
	for f := from; f < to; f++ {
		out, err := s.Fill(f, force)
		if err != nil {
			log.Warn().Int("frame", f).Err(err).Msg("fill failed")
		}
		reports = append(reports, FrameReport{Frame: f, Outcome: out, Err: err})
		s.progress("fill", f, to)
	}
	return reports
}

func (s *Session) clampRange(from, to int) (int, int) {
	count := s.src.FrameCount()
	if from < 0 {
		from = 0
	}
	if to <= 0 || to > count {
		to = count
	}
	if from > to {
		from = to
	}
	return from, to
}

func (s *Session) progress(stage string, frame, total int) {
	if (frame+1)%progressEvery == 0 {
		log.Info().Str("stage", stage).Int("frame", frame+1).Int("of", total).Msg("batch progress")
	}
}
