package service

import (
	"context"

	"github.com/andresmejia3/obscura/internal/video"
)

// FFmpeg decodes and encodes through the ffmpeg and ffprobe binaries.
type FFmpeg struct{}

func (FFmpeg) Probe(ctx context.Context, path string) (*video.Info, error) {
	return video.Probe(ctx, path)
}

func (FFmpeg) Open(ctx context.Context, path string, info *video.Info) (video.Source, error) {
	return video.OpenSource(ctx, path, info)
}

func (FFmpeg) Encoder(ctx context.Context, path string, fps float64, codec string) video.SinkOpener {
	return video.NewSinkOpener(ctx, path, fps, codec)
}
