// Package service runs redaction requests end to end: scratch workspace,
// detector selection, pipeline execution, output persistence and events.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/archive"
	"github.com/andresmejia3/obscura/internal/detect"
	"github.com/andresmejia3/obscura/internal/events"
	"github.com/andresmejia3/obscura/internal/identity"
	"github.com/andresmejia3/obscura/internal/logger"
	"github.com/andresmejia3/obscura/internal/pipeline"
	"github.com/andresmejia3/obscura/internal/source"
	"github.com/andresmejia3/obscura/internal/storage"
	"github.com/andresmejia3/obscura/internal/textredact"
	"github.com/andresmejia3/obscura/internal/video"
	"github.com/google/uuid"
)

// Mode selects what gets redacted in pictures and videos.
type Mode string

const (
	Eyes   Mode = "eyes"
	Faces  Mode = "faces"
	Person Mode = "person"
)

// ParseMode validates a redaction mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Eyes, Faces, Person:
		return m, nil
	}
	return "", apperr.Newf(apperr.MissingInput, "unknown redaction mode %q", s)
}

// Models are the loaded detection capabilities, shared by every request.
type Models struct {
	Eyes    detect.Detector
	Faces   detect.Detector
	Encoder identity.Encoder
}

// Documents are the text capabilities used by PDF redaction.
type Documents struct {
	Extractor  textredact.TextExtractor
	Recognizer textredact.Recognizer
	Editor     textredact.Editor
}

// Identities is the optional enrolled-identity store.
type Identities interface {
	IdentityEmbeddings(ctx context.Context, name string) ([]identity.Embedding, error)
	CreateIdentity(ctx context.Context, name string, embeddings []identity.Embedding) (int, error)
}

// Fetcher materialises a video reference as a local file.
type Fetcher interface {
	Resolve(ctx context.Context, req source.Request, workDir string) (string, error)
}

// MediaIO opens decoders and encoders for video files.
type MediaIO interface {
	Probe(ctx context.Context, path string) (*video.Info, error)
	Open(ctx context.Context, path string, info *video.Info) (video.Source, error)
	Encoder(ctx context.Context, path string, fps float64, codec string) video.SinkOpener
}

// Options are the per-process pipeline settings.
type Options struct {
	TempDir         string
	Policy          pipeline.FailurePolicy
	Concurrency     int
	FPSMode         video.FPSMode
	FixedFPS        float64
	Codec           string
	MaxInFlight     int
	MaxArchiveBytes int64
}

// Service wires models, pipelines and collaborators together. It holds no
// per-request state; every call gets its own workspace.
type Service struct {
	Models     Models
	Documents  Documents
	Identities Identities
	Fetcher    Fetcher
	Media      MediaIO
	Storage    storage.Storage
	Events     events.Publisher
	Options    Options
	Logger     *slog.Logger
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	base := s.Logger
	if base == nil {
		base = slog.Default()
	}
	return logger.FromContext(ctx, base)
}

func (s *Service) policy(override pipeline.FailurePolicy) pipeline.FailurePolicy {
	if override != "" {
		return override
	}
	if s.Options.Policy != "" {
		return s.Options.Policy
	}
	return pipeline.Abort
}

func (s *Service) maxArchiveBytes() int64 {
	if s.Options.MaxArchiveBytes > 0 {
		return s.Options.MaxArchiveBytes
	}
	return archive.DefaultMaxBytes
}

// requestID returns the ID carried by ctx or a fresh one.
func requestID(ctx context.Context) (context.Context, string) {
	if id := logger.RequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.New().String()
	return logger.ContextWithRequestID(ctx, id), id
}

// workspace is the scratch directory of one request.
type workspace struct {
	Dir string
}

// newWorkspace creates a uniquely named scratch directory. Callers must call cleanup on every path.
func (s *Service) newWorkspace(id string) (*workspace, func(), error) {
	dir, err := os.MkdirTemp(s.Options.TempDir, "obscura-"+safeID(id)+"-")
	if err != nil {
		return nil, func() {}, apperr.New(apperr.EncodeFailure, "create workspace", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log(context.Background()).Warn("failed to remove workspace", "dir", dir, "error", err)
		}
	}
	return &workspace{Dir: dir}, cleanup, nil
}

// Reserved workspace subdirectories. Downloads and encoded outputs never share a
// directory, so a caller-chosen output name cannot overwrite the source.
const (
	downloadDir = "download"
	outputDir   = "output"
)

// sub creates and returns the named subdirectory of the workspace.
func (w *workspace) sub(name string) (string, error) {
	dir := filepath.Join(w.Dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.New(apperr.EncodeFailure, "create workspace", err)
	}
	return dir, nil
}

func safeID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		if r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			sb.WriteRune(r)
		}
		if sb.Len() >= 36 {
			break
		}
	}
	return sb.String()
}

func (s *Service) publish(ctx context.Context, e events.Event, start time.Time, err error) {
	if s.Events == nil {
		return
	}
	e.DurationMS = time.Since(start).Milliseconds()
	e.Timestamp = time.Now().UTC()
	e.Status = "completed"
	if err != nil {
		e.Status = "failed"
		e.Error = err.Error()
		e.ErrorCode = apperr.KindOf(err).String()
	}
	// Events for cancelled requests are still published.
	pctx := context.WithoutCancel(ctx)
	if perr := s.Events.Publish(pctx, e); perr != nil {
		s.log(ctx).Warn("failed to publish event", "operation", e.Operation, "error", perr)
	}
}

// Health reports which optional collaborators are configured.
type Health struct {
	Status     string `json:"status"`
	Identities bool   `json:"identities"`
	Storage    string `json:"storage"`
}

func (s *Service) Health() Health {
	h := Health{Status: "ok", Identities: s.Identities != nil, Storage: "none"}
	switch s.Storage.(type) {
	case *storage.Local:
		h.Storage = "local"
	case *storage.S3:
		h.Storage = "s3"
	case nil:
	default:
		h.Storage = fmt.Sprintf("%T", s.Storage)
	}
	return h
}
