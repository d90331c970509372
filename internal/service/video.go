package service

import (
	"context"
	"path/filepath"
	"time"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/events"
	"github.com/andresmejia3/obscura/internal/redact"
	"github.com/andresmejia3/obscura/internal/source"
	"github.com/andresmejia3/obscura/internal/storage"
	"github.com/andresmejia3/obscura/internal/utils"
	"github.com/andresmejia3/obscura/internal/video"
)

// Default output names per mode.
const (
	DefaultEyesVideo   = "blurred_eyes_video.mp4"
	DefaultFacesVideo  = "blurred_video.mp4"
	DefaultPersonVideo = "blurred_person_video.mp4"
)

// DefaultVideoName returns the output name used when the caller gives none.
func DefaultVideoName(mode Mode) string {
	switch mode {
	case Eyes:
		return DefaultEyesVideo
	case Person:
		return DefaultPersonVideo
	}
	return DefaultFacesVideo
}

// VideoRequest redacts one video.
type VideoRequest struct {
	Mode       Mode
	Source     source.Request
	OutputName string
	Person     PersonRef
	Redactor   *redact.Redactor
	// Progress receives the number of frames written so far.
	Progress func(int)
	// Started, if set, is called with the probed source before decoding begins.
	Started func(*video.Info)
}

// VideoResult describes the stored output.
type VideoResult struct {
	RequestID  string  `json:"request_id"`
	Message    string  `json:"message"`
	OutputFile string  `json:"output_file"`
	Frames     int     `json:"frames"`
	Regions    int     `json:"regions"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// RedactVideo resolves the source, redacts every frame and stores the encoded result.
func (s *Service) RedactVideo(ctx context.Context, req VideoRequest) (res *VideoResult, err error) {
	ctx, id := requestID(ctx)
	start := time.Now()
	name := utils.BaseName(req.OutputName, DefaultVideoName(req.Mode))
	defer func() {
		e := events.Event{RequestID: id, Operation: "blur-" + string(req.Mode)}
		if res != nil {
			e.Output = res.OutputFile
			e.Frames = res.Frames
		}
		s.publish(ctx, e, start, err)
	}()
	log := s.log(ctx).With("mode", req.Mode, "source", req.Source.Kind)

	if s.Media == nil || s.Fetcher == nil || s.Storage == nil {
		return nil, apperr.Newf(apperr.EncodeFailure, "video processing is not configured")
	}
	ws, cleanup, err := s.newWorkspace(id)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	det, err := s.detector(ctx, req.Mode, req.Person, ws)
	if err != nil {
		return nil, err
	}
	downloads, err := ws.sub(downloadDir)
	if err != nil {
		return nil, err
	}
	outputs, err := ws.sub(outputDir)
	if err != nil {
		return nil, err
	}
	path, err := s.Fetcher.Resolve(ctx, req.Source, downloads)
	if err != nil {
		return nil, err
	}
	info, err := s.Media.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	fps := video.ResolveFPS(s.Options.FPSMode, s.Options.FixedFPS, info)
	log.Info("processing video", "width", info.Width, "height", info.Height,
		"source_fps", info.FPS, "output_fps", fps, "frames", info.Frames)
	if req.Started != nil {
		req.Started(info)
	}

	src, err := s.Media.Open(ctx, path, info)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	out := filepath.Join(outputs, name)
	p := &video.Pipeline{
		Detector:    det,
		Redactor:    req.Redactor,
		Workers:     s.Options.Concurrency,
		MaxInFlight: s.Options.MaxInFlight,
		Logger:      log,
		Progress:    req.Progress,
	}
	stats, err := p.Run(ctx, src, s.Media.Encoder(ctx, out, fps, s.Options.Codec))
	if err != nil {
		return nil, err
	}

	location, err := s.Storage.Store(ctx, storage.Key(id, name), out)
	if err != nil {
		return nil, apperr.New(apperr.EncodeFailure, "store output", err)
	}
	log.Info("video redacted", "frames", stats.Frames, "regions", stats.Regions,
		"elapsed", stats.Elapsed, "output", location)

	return &VideoResult{
		RequestID:  id,
		Message:    "Video processed successfully",
		OutputFile: location,
		Frames:     stats.Frames,
		Regions:    stats.Regions,
		FPS:        fps,
		Width:      stats.Width,
		Height:     stats.Height,
	}, nil
}
