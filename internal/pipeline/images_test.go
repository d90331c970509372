package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoFacesOnWide reports two faces on 64px-wide images and none otherwise.
type twoFacesOnWide struct{}

func (twoFacesOnWide) Detect(_ context.Context, img *image.RGBA) ([]types.Region, error) {
	if img.Bounds().Dx() != 64 {
		return nil, nil
	}
	return []types.Region{
		{Rect: image.Rect(0, 0, 20, 20), Confidence: 0.9},
		{Rect: image.Rect(30, 10, 60, 40), Confidence: 0.8},
	}, nil
}

func pattern(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 5), uint8((x + y) * 3), 255})
		}
	}
	return img
}

// writeBatch creates faces.jpg (2 faces), empty.png (0 faces), broken.jpg (undecodable) and notes.txt.
func writeBatch(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()

	f, err := os.Create(filepath.Join(dir, "faces.jpg"))
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, pattern(64, 48), nil))
	f.Close()

	f, err = os.Create(filepath.Join(dir, "empty.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, pattern(32, 32)))
	f.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return dir, paths
}

func TestImages_AbortPolicy(t *testing.T) {
	_, inputs := writeBatch(t)
	out := t.TempDir()

	p := &Images{Detector: twoFacesOnWide{}, Policy: Abort, Concurrency: 3}
	report, err := p.Run(context.Background(), inputs, out)

	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, apperr.Is(err, apperr.DecodeFailure))
	left, _ := os.ReadDir(out)
	assert.Empty(t, left, "no partial output may survive an aborted batch")
}

func TestImages_SkipPolicy(t *testing.T) {
	_, inputs := writeBatch(t)
	out := t.TempDir()

	p := &Images{Detector: twoFacesOnWide{}, Policy: Skip, Concurrency: 2}
	report, err := p.Run(context.Background(), inputs, out)

	require.NoError(t, err)
	require.Len(t, report.Results, 3, "notes.txt is ignored")
	ok := report.Succeeded()
	require.Len(t, ok, 2)
	assert.Equal(t, filepath.Join(out, "empty_blur.png"), ok[0].Output)
	assert.Equal(t, filepath.Join(out, "faces_blur.jpg"), ok[1].Output)
	assert.Equal(t, 0, ok[0].Regions)
	assert.Equal(t, 2, ok[1].Regions)

	failed := report.Failures()
	require.Len(t, failed, 1)
	assert.Equal(t, "broken.jpg", filepath.Base(failed[0].Input))
	assert.Contains(t, report.ErrorNote(), "broken.jpg: ")
}

func TestImages_ZeroDetectionsIsLossless(t *testing.T) {
	_, inputs := writeBatch(t)
	out := t.TempDir()

	p := &Images{Detector: twoFacesOnWide{}, Policy: Skip}
	_, err := p.Run(context.Background(), inputs, out)
	require.NoError(t, err)

	var in string
	for _, p := range inputs {
		if filepath.Base(p) == "empty.png" {
			in = p
		}
	}
	before, _, err := Load(in)
	require.NoError(t, err)
	after, format, err := Load(filepath.Join(out, "empty_blur.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, before.Pix, after.Pix)
}

func TestImages_CaseSensitiveExtensions(t *testing.T) {
	assert.True(t, IsImage("a.jpg"))
	assert.True(t, IsImage("dir/a.jpeg"))
	assert.True(t, IsImage("a.png"))
	assert.False(t, IsImage("a.JPG"))
	assert.False(t, IsImage("a.gif"))
	assert.False(t, IsImage("jpg"))
}

func TestOutputName(t *testing.T) {
	tests := map[string]string{
		"a.jpg":           "a_blur.jpg",
		"/x/y/photo.jpeg": "photo_blur.jpeg",
		"my.pic.png":      "my.pic_blur.png",
	}
	for in, want := range tests {
		assert.Equal(t, want, OutputName(in))
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Abort, p)

	p, err = ParsePolicy("SKIP")
	require.NoError(t, err)
	assert.Equal(t, Skip, p)

	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}

type noFaces struct{}

func (noFaces) Detect(context.Context, *image.RGBA) ([]types.Region, error) { return nil, nil }

// oneFace reports a single face in the top-left corner of every image.
type oneFace struct{}

func (oneFace) Detect(context.Context, *image.RGBA) ([]types.Region, error) {
	return []types.Region{{Rect: image.Rect(2, 2, 12, 12), Confidence: 0.9}}, nil
}

// writeDeepBatch creates a translucent png, a 16-bit png and a jpeg.
func writeDeepBatch(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()

	alpha := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	deep := image.NewRGBA64(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			alpha.SetNRGBA(x, y, color.NRGBA{uint8(x * 7), uint8(y * 5), uint8(x * y), 60})
			deep.SetRGBA64(x, y, color.RGBA64{uint16(x*2000 + 1), uint16(y*2000 + 3), uint16(x*y*60 + 7), 0xffff})
		}
	}

	write := func(name string, enc func(f *os.File) error) string {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, enc(f))
		require.NoError(t, f.Close())
		return path
	}
	return []string{
		write("alpha.png", func(f *os.File) error { return png.Encode(f, alpha) }),
		write("deep.png", func(f *os.File) error { return png.Encode(f, deep) }),
		write("photo.jpg", func(f *os.File) error { return jpeg.Encode(f, pattern(32, 24), &jpeg.Options{Quality: 70}) }),
	}
}

func decodeFile(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, _, err := image.Decode(f)
	require.NoError(t, err)
	return img
}

func TestImages_ZeroDetectionsKeepsOriginalEncoding(t *testing.T) {
	inputs := writeDeepBatch(t)
	out := t.TempDir()

	report, err := (&Images{Detector: noFaces{}}).Run(context.Background(), inputs, out)
	require.NoError(t, err)
	require.Len(t, report.Succeeded(), 3)

	for _, in := range inputs {
		want, err := os.ReadFile(in)
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(out, OutputName(in)))
		require.NoError(t, err)
		assert.Equal(t, want, got, filepath.Base(in))
	}
}

func TestImages_PNGKeepsPixelsOutsideRegions(t *testing.T) {
	inputs := writeDeepBatch(t)[:2]
	out := t.TempDir()

	_, err := (&Images{Detector: oneFace{}}).Run(context.Background(), inputs, out)
	require.NoError(t, err)

	face := image.Rect(2, 2, 12, 12)
	for _, in := range inputs {
		before := decodeFile(t, in)
		after := decodeFile(t, filepath.Join(out, OutputName(in)))
		assert.IsType(t, before, after, "%s keeps its color model", filepath.Base(in))

		changedInside := 0
		b := before.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				if image.Pt(x, y).In(face) {
					if before.At(x, y) != after.At(x, y) {
						changedInside++
					}
					continue
				}
				require.Equal(t, before.At(x, y), after.At(x, y), "%s pixel (%d,%d)", filepath.Base(in), x, y)
			}
		}
		assert.Positive(t, changedInside, "%s region was redacted", filepath.Base(in))
	}
}
