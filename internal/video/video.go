// Package video redacts a frame sequence with a bounded decode -> detect/redact -> encode pipeline.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/detect"
	"github.com/andresmejia3/obscura/internal/redact"
	"github.com/andresmejia3/obscura/internal/types"
	"golang.org/x/sync/errgroup"
)

// Source yields frames in temporal order and returns io.EOF after the last one.
type Source interface {
	Next(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// Sink receives frames in temporal order. Close finalises the output.
type Sink interface {
	Write(frame *image.RGBA) error
	Close() error
}

// SinkOpener creates the sink once the first frame fixes the output geometry.
type SinkOpener func(width, height int) (Sink, error)

// Recycler is implemented by sources that pool frame buffers.
type Recycler interface {
	Recycle(frame *image.RGBA)
}

// Stats summarises one run.
type Stats struct {
	Frames  int
	Regions int
	Width   int
	Height  int
	Elapsed time.Duration
}

// Pipeline runs a Detector and Redactor over every frame independently.
type Pipeline struct {
	Detector detect.Detector
	Redactor *redact.Redactor
	// Workers is the number of concurrent detect/redact goroutines.
	Workers int
	// MaxInFlight caps decoded frames not yet written to the sink.
	MaxInFlight int
	Logger      *slog.Logger
	// Progress, if set, is called after each frame is written.
	Progress func(written int)
}

type redactResult struct {
	Index   int
	Frame   *image.RGBA
	Regions int
}

func (p *Pipeline) workers() (int, int) {
	n := p.Workers
	if n < 1 {
		n = 1
	}
	inflight := p.MaxInFlight
	if inflight < 1 {
		inflight = n * 2
	}
	return n, inflight
}

// Run decodes src, redacts every frame and writes the frames to the sink in source order.
// A source without frames fails with DecodeFailure before any sink is opened.
func (p *Pipeline) Run(ctx context.Context, src Source, open SinkOpener) (*Stats, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redactor := p.Redactor
	if redactor == nil {
		redactor = redact.Default()
	}
	start := time.Now()

	first, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, apperr.Newf(apperr.DecodeFailure, "video has no frames")
	}
	if err != nil {
		return nil, asKind(apperr.DecodeFailure, "decode frame 0", err)
	}
	size := first.Bounds().Size()

	sink, err := open(size.X, size.Y)
	if err != nil {
		return nil, asKind(apperr.EncodeFailure, "open encoder", err)
	}

	numWorkers, maxInFlight := p.workers()
	g, gctx := errgroup.WithContext(ctx)
	taskChan := make(chan types.FrameTask, numWorkers)
	resultsChan := make(chan redactResult, numWorkers)
	slots := make(chan struct{}, maxInFlight)

	// Producer: bounded by slots, released once a frame reaches the sink.
	g.Go(func() error {
		defer close(taskChan)
		frame, idx := first, 0
		for {
			select {
			case slots <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			if got := frame.Bounds().Size(); got != size {
				return apperr.Newf(apperr.DecodeFailure, "frame %d is %dx%d, expected %dx%d", idx, got.X, got.Y, size.X, size.Y)
			}
			select {
			case taskChan <- types.FrameTask{Index: idx, Frame: frame}:
				idx++
			case <-gctx.Done():
				return gctx.Err()
			}

			var err error
			frame, err = src.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return asKind(apperr.DecodeFailure, fmt.Sprintf("decode frame %d", idx), err)
			}
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for task := range taskChan {
				regions, err := p.Detector.Detect(gctx, task.Frame)
				if err != nil {
					return asKind(apperr.ModelFailure, fmt.Sprintf("detect frame %d", task.Index), err)
				}
				n := redactor.Apply(task.Frame, regions)
				select {
				case resultsChan <- redactResult{Index: task.Index, Frame: task.Frame, Regions: n}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	stats := &Stats{Width: size.X, Height: size.Y}
	recycler, _ := src.(Recycler)

	// Consumer: reorder buffer keyed by frame index.
	g.Go(func() error {
		buffer := make(map[int]redactResult)
		nextFrame := 0
		for res := range resultsChan {
			buffer[res.Index] = res
			for {
				frame, ok := buffer[nextFrame]
				if !ok {
					break
				}
				delete(buffer, nextFrame)

				if err := sink.Write(frame.Frame); err != nil {
					return asKind(apperr.EncodeFailure, fmt.Sprintf("encode frame %d", nextFrame), err)
				}
				if recycler != nil {
					recycler.Recycle(frame.Frame)
				}
				<-slots

				stats.Frames++
				stats.Regions += frame.Regions
				nextFrame++
				if p.Progress != nil {
					p.Progress(stats.Frames)
				}
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		sink.Close()
		return nil, err
	}
	if err := sink.Close(); err != nil {
		return nil, asKind(apperr.EncodeFailure, "finalise video", err)
	}
	stats.Elapsed = time.Since(start)
	logger.Info("video redacted", "frames", stats.Frames, "regions", stats.Regions,
		"width", stats.Width, "height", stats.Height, "elapsed", stats.Elapsed)
	return stats, nil
}

// asKind wraps err with kind unless it already carries one.
func asKind(kind apperr.Kind, op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.New(kind, op, err)
}
