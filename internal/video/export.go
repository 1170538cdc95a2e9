package video

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// FrameResolver returns a replacement frame for an index, or false to
// use the source frame verbatim. The returned Mat is owned by the
// caller of the resolver.
type FrameResolver func(index int) (gocv.Mat, bool)

// frameWriter is the ordered sink for export frames. gocv.VideoWriter
// satisfies it.
type frameWriter interface {
	Write(m gocv.Mat) error
}

// Export writes a video to outPath, substituting resolver-provided
// frames (typically cached inpainted frames) where available and source
// frames elsewhere.
//
// Frames are resolved in fixed-size chunks with parallel per-chunk work,
// then written sequentially so the output ordering is exact. Resolver
// failures fall back to the source frame; a frame missing from both is
// written as black rather than aborting the export.
func Export(src Source, resolver FrameResolver, outPath string, chunkSize int) error {
	writer, err := gocv.VideoWriterFile(outPath, "mp4v", src.FPS(), src.Width(), src.Height(), true)
	if err != nil {
		return errors.Wrapf(err, "open video writer %s", outPath)
	}
	defer writer.Close()
	return writeFrames(writer, src, resolver, chunkSize)
}

func writeFrames(writer frameWriter, src Source, resolver FrameResolver, chunkSize int) error {
	if chunkSize < 1 {
		chunkSize = 1
	}

	total := src.FrameCount()
	blackCount := 0

	for start := 0; start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}

		// Resolve the chunk in parallel. Source reads serialize behind
		// the capture lock; the win is decoding cached frames.
		chunk := make([]gocv.Mat, end-start)
		ok := make([]bool, end-start)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				if m, found := resolver(idx); found {
					chunk[idx-start] = m
					ok[idx-start] = true
					return
				}
				if m, found := src.ReadFrame(idx); found {
					chunk[idx-start] = m
					ok[idx-start] = true
				}
			}(i)
		}
		wg.Wait()

		// Ordered writes.
		for i := range chunk {
			if !ok[i] {
				log.Warn().Int("frame", start+i).Msg("frame unreadable, writing black")
				black := gocv.NewMatWithSize(src.Height(), src.Width(), gocv.MatTypeCV8UC3)
				chunk[i] = black
				blackCount++
			}
			if err := writer.Write(chunk[i]); err != nil {
				for j := i; j < len(chunk); j++ {
					chunk[j].Close()
				}
				return errors.Wrapf(err, "write frame %d", start+i)
			}
			chunk[i].Close()
		}
	}

	if blackCount > 0 {
		log.Warn().Int("frames", blackCount).Msg("export substituted black frames")
	}
	return nil
}
