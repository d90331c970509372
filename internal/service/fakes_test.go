package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/andresmejia3/obscura/internal/events"
	"github.com/andresmejia3/obscura/internal/identity"
	"github.com/andresmejia3/obscura/internal/logger"
	"github.com/andresmejia3/obscura/internal/source"
	"github.com/andresmejia3/obscura/internal/storage"
	"github.com/andresmejia3/obscura/internal/store"
	"github.com/andresmejia3/obscura/internal/types"
	"github.com/andresmejia3/obscura/internal/video"
	"github.com/stretchr/testify/require"
)

// cornerDetector reports the top-left 8x8 block of every image.
type cornerDetector struct{}

func (cornerDetector) Detect(context.Context, *image.RGBA) ([]types.Region, error) {
	return []types.Region{{Rect: image.Rect(0, 0, 8, 8), Confidence: types.NoConfidence}}, nil
}

type noneDetector struct{}

func (noneDetector) Detect(context.Context, *image.RGBA) ([]types.Region, error) { return nil, nil }

// colorEncoder finds one face on images whose top-left pixel is not black and
// embeds it as the normalised RGB of that pixel.
type colorEncoder struct{}

func (colorEncoder) Locate(_ context.Context, img *image.RGBA) ([]image.Rectangle, error) {
	c := img.RGBAAt(0, 0)
	if c.R == 0 && c.G == 0 && c.B == 0 {
		return nil, nil
	}
	return []image.Rectangle{image.Rect(0, 0, 8, 8)}, nil
}

func (colorEncoder) Embed(_ context.Context, img *image.RGBA, boxes []image.Rectangle) ([]identity.Embedding, error) {
	c := img.RGBAAt(0, 0)
	out := make([]identity.Embedding, len(boxes))
	for i := range boxes {
		out[i] = identity.Embedding{float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255}
	}
	return out, nil
}

type memIdentities struct {
	known   map[string][]identity.Embedding
	created map[string]int
}

func (m *memIdentities) IdentityEmbeddings(_ context.Context, name string) ([]identity.Embedding, error) {
	embs, ok := m.known[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return embs, nil
}

func (m *memIdentities) CreateIdentity(_ context.Context, name string, embs []identity.Embedding) (int, error) {
	if m.created == nil {
		m.created = map[string]int{}
	}
	m.created[name] += len(embs)
	return 7, nil
}

type localFetcher struct{}

func (localFetcher) Resolve(_ context.Context, req source.Request, _ string) (string, error) {
	return req.Location, nil
}

// memMedia serves in-memory frames for any path and writes encoded frame
// counts to the output file so storage has something to copy.
type memMedia struct {
	frames []*image.RGBA
	fps    float64
	sink   *memSink
	// opened is the path handed to Open.
	opened string
}

func (m *memMedia) Probe(context.Context, string) (*video.Info, error) {
	info := &video.Info{FPS: m.fps, Frames: len(m.frames)}
	if len(m.frames) > 0 {
		info.Width, info.Height = m.frames[0].Bounds().Dx(), m.frames[0].Bounds().Dy()
	}
	return info, nil
}

func (m *memMedia) Open(_ context.Context, path string, _ *video.Info) (video.Source, error) {
	m.opened = path
	return &sliceSource{frames: m.frames}, nil
}

func (m *memMedia) Encoder(_ context.Context, path string, fps float64, _ string) video.SinkOpener {
	return func(w, h int) (video.Sink, error) {
		m.sink = &memSink{path: path, fps: fps}
		return m.sink, nil
	}
}

type sliceSource struct {
	frames []*image.RGBA
	pos    int
}

func (s *sliceSource) Next(context.Context) (*image.RGBA, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceSource) Close() error { return nil }

type memSink struct {
	path   string
	fps    float64
	frames []*image.RGBA
}

func (m *memSink) Write(f *image.RGBA) error {
	cp := *f
	cp.Pix = append([]byte(nil), f.Pix...)
	m.frames = append(m.frames, &cp)
	return nil
}

func (m *memSink) Close() error {
	return os.WriteFile(m.path, []byte("encoded"), 0o644)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fakeDoc struct {
	pages []string
}

func (f *fakeDoc) Text(context.Context, []byte) ([]string, error) { return f.pages, nil }

func (f *fakeDoc) Locate(_ context.Context, _ []byte, targets []string) ([]types.TextOccurrence, error) {
	var occ []types.TextOccurrence
	for i, p := range f.pages {
		for _, t := range targets {
			if bytes.Contains([]byte(p), []byte(t)) {
				occ = append(occ, types.TextOccurrence{Page: i, Target: t})
			}
		}
	}
	return occ, nil
}

func (f *fakeDoc) Redact(_ context.Context, _ []byte, occ []types.TextOccurrence, _ [3]float64) ([]byte, error) {
	return []byte("redacted"), nil
}

type fakeNER struct {
	entities []types.Entity
	err      error
}

func (f fakeNER) Analyze(context.Context, string) ([]types.Entity, error) { return f.entities, f.err }

// newTestService returns a Service backed by fakes, its scratch root and its event recorder.
func newTestService(t *testing.T) (*Service, string, *recordingEvents) {
	t.Helper()
	tmp := t.TempDir()
	out, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	rec := &recordingEvents{}
	return &Service{
		Models: Models{Eyes: cornerDetector{}, Faces: noneDetector{}, Encoder: colorEncoder{}},
		Identities: &memIdentities{known: map[string][]identity.Embedding{
			"red": {{1, 0, 0}},
		}},
		Fetcher: localFetcher{},
		Media:   &memMedia{},
		Storage: out,
		Events:  rec,
		Options: Options{TempDir: tmp, Concurrency: 2, FPSMode: video.FPSSource, FixedFPS: 30, Codec: "mp4v", MaxInFlight: 4},
		Logger:  logger.Discard(),
	}, tmp, rec
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "scratch directories must be removed")
}

var errBoom = errors.New("boom")
