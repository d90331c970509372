package redact

import (
	"bytes"
	"image"
	"math/rand"
	"testing"

	"github.com/andresmejia3/obscura/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noise(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

func variance(img *image.RGBA, rect image.Rectangle) float64 {
	var sum, sq, n float64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			off := img.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float64(img.Pix[off+c])
				sum += v
				sq += v * v
				n++
			}
		}
	}
	mean := sum / n
	return sq/n - mean*mean
}

func TestApply_NoRegionsLeavesPixelsUntouched(t *testing.T) {
	img := noise(64, 48, 1)
	before := append([]byte(nil), img.Pix...)

	n := Default().Apply(img, nil)

	assert.Equal(t, 0, n)
	assert.True(t, bytes.Equal(before, img.Pix), "pixels changed with zero regions")
}

func TestApply_GaussReducesVariance(t *testing.T) {
	img := noise(200, 160, 2)
	rect := image.Rect(40, 30, 140, 120)
	before := variance(img, rect)

	n := Default().Apply(img, []types.Region{{Rect: rect, Confidence: 0.9}})

	require.Equal(t, 1, n)
	after := variance(img, rect)
	assert.Less(t, after, before)
}

func TestApply_OnlyTouchesRegion(t *testing.T) {
	img := noise(100, 100, 3)
	before := append([]byte(nil), img.Pix...)
	rect := image.Rect(20, 20, 50, 50)

	Default().Apply(img, []types.Region{{Rect: rect}})

	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if (image.Point{X: x, Y: y}).In(rect) {
				continue
			}
			off := img.PixOffset(x, y)
			require.Equal(t, before[off:off+4], img.Pix[off:off+4], "pixel (%d,%d) outside region changed", x, y)
		}
	}
}

func TestApply_ClampsOutOfBounds(t *testing.T) {
	img := noise(40, 30, 4)
	regions := []types.Region{
		{Rect: image.Rect(-20, -20, 10, 10)},
		{Rect: image.Rect(35, 25, 80, 90)},
		{Rect: image.Rect(100, 100, 120, 120)}, // fully outside
		{Rect: image.Rect(30, 20, 10, 5)},      // inverted corners
	}

	var n int
	assert.NotPanics(t, func() { n = Default().Apply(img, regions) })
	assert.Equal(t, 3, n)
}

func TestRegion_Styles(t *testing.T) {
	rect := image.Rect(10, 10, 30, 30)

	t.Run("black", func(t *testing.T) {
		img := noise(40, 40, 5)
		New(StyleBlack, 0).Region(img, rect)
		off := img.PixOffset(15, 15)
		assert.Equal(t, []uint8{0, 0, 0, 255}, img.Pix[off:off+4])
	})

	t.Run("secure", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 40, 40))
		for i := 0; i < len(img.Pix); i += 4 {
			copy(img.Pix[i:i+4], []uint8{10, 20, 30, 255})
		}
		New(StyleSecure, 0).Region(img, rect)
		off := img.PixOffset(20, 20)
		assert.Equal(t, []uint8{10, 20, 30, 255}, img.Pix[off:off+4])
	})

	t.Run("pixel", func(t *testing.T) {
		img := noise(40, 40, 6)
		New(StylePixel, 5).Region(img, rect)
		a := img.PixOffset(10, 10)
		b := img.PixOffset(14, 14)
		assert.Equal(t, img.Pix[a:a+4], img.Pix[b:b+4])
	})
}

func TestParseStyle(t *testing.T) {
	tests := []struct {
		in      string
		want    Style
		wantErr bool
	}{
		{"", StyleGauss, false},
		{"gauss", StyleGauss, false},
		{"pixel", StylePixel, false},
		{"black", StyleBlack, false},
		{"secure", StyleSecure, false},
		{"smudge", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStyle(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReflect101(t *testing.T) {
	tests := []struct {
		i, n, want int
	}{
		{0, 5, 0},
		{4, 5, 4},
		{-1, 5, 1},
		{-2, 5, 2},
		{5, 5, 3},
		{6, 5, 2},
		{-49, 3, 1},
		{49, 1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reflect101(tt.i, tt.n), "reflect101(%d, %d)", tt.i, tt.n)
	}
}

func TestKernelIsNormalised(t *testing.T) {
	var sum float32
	for _, w := range gaussKernel {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
	assert.Len(t, gaussKernel, KernelSize)
	assert.Greater(t, gaussKernel[KernelSize/2], gaussKernel[0])
}
