// Package source materialises a video reference (local path or remote URL) as a local file.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/utils"
)

// Kind identifies where a video comes from.
type Kind string

const (
	Local   Kind = "local"
	YouTube Kind = "youtube"
	Vimeo   Kind = "vimeo"
)

// ParseKind validates a source kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Local, YouTube, Vimeo:
		return k, nil
	}
	return "", apperr.Newf(apperr.SourceUnavailable, "invalid source type %q", s)
}

// Remote reports whether k needs a download.
func (k Kind) Remote() bool { return k == YouTube || k == Vimeo }

// Request references one video.
type Request struct {
	Kind     Kind
	Location string
}

// Fetcher resolves Requests. Downloads land in the caller's scratch directory.
type Fetcher struct {
	HTTP   *http.Client
	YTDLP  string
	Logger *slog.Logger
}

// NewFetcher returns a Fetcher using yt-dlp from PATH and a client with timeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		HTTP:   &http.Client{Timeout: timeout},
		YTDLP:  "yt-dlp",
		Logger: logger.With("component", "source"),
	}
}

// Resolve returns a local path for req. Remote videos are downloaded into workDir.
func (f *Fetcher) Resolve(ctx context.Context, req Request, workDir string) (string, error) {
	if strings.TrimSpace(req.Location) == "" {
		return "", apperr.Newf(apperr.MissingInput, "no source path or URL provided")
	}
	switch req.Kind {
	case Local:
		return resolveLocal(req.Location)
	case YouTube:
		f.Logger.Info("downloading stream video", "url", req.Location)
		return f.downloadStream(ctx, req.Location, filepath.Join(workDir, "source.mp4"))
	case Vimeo:
		f.Logger.Info("downloading video over HTTP", "url", req.Location)
		return f.downloadHTTP(ctx, req.Location, filepath.Join(workDir, "source.mp4"))
	}
	return "", apperr.Newf(apperr.SourceUnavailable, "invalid source type %q", req.Kind)
}

func resolveLocal(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.Newf(apperr.SourceUnavailable, "local file not found: %s", path)
		}
		return "", apperr.New(apperr.SourceUnavailable, "stat local file", err)
	}
	if info.IsDir() {
		return "", apperr.Newf(apperr.SourceUnavailable, "%s is a directory, expected a video file", path)
	}
	return path, nil
}

func (f *Fetcher) downloadStream(ctx context.Context, url, dest string) (string, error) {
	cmd := utils.NewSafeCommand(ctx, f.YTDLP, "--quiet", "--no-playlist",
		"-f", "mp4/bestvideo[ext=mp4]/best", "-o", dest, url)
	if err := cmd.Run(); err != nil {
		if logs := cmd.Logs(); logs != "" {
			err = fmt.Errorf("%w: %s", err, logs)
		}
		return "", apperr.Remote("stream download", err)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", apperr.Remote("stream download", fmt.Errorf("no valid video stream found"))
	}
	return dest, nil
}

func (f *Fetcher) downloadHTTP(ctx context.Context, url, dest string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperr.New(apperr.SourceUnavailable, "build request", err)
	}
	resp, err := f.HTTP.Do(req)
	if err != nil {
		return "", apperr.Remote("http download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Remote("http download", fmt.Errorf("unexpected status %s", resp.Status))
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", apperr.New(apperr.EncodeFailure, "create download file", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", apperr.Remote("http download", err)
	}
	if err := out.Close(); err != nil {
		return "", apperr.New(apperr.EncodeFailure, "close download file", err)
	}
	return dest, nil
}
