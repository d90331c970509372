//go:build gocv

package redact

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGocvGaussianMatchesSeparable(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			src.SetRGBA(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), uint8((x ^ y) * 3), 200})
		}
	}
	rect := image.Rect(5, 4, 50, 40)

	native := image.NewRGBA(src.Bounds())
	copy(native.Pix, src.Pix)
	require.True(t, gocvGaussian(native, rect))

	pure := image.NewRGBA(src.Bounds())
	copy(pure.Pix, src.Pix)
	separableGaussian(pure, rect)

	for i := range pure.Pix {
		if i%4 == 3 {
			assert.Equal(t, src.Pix[i], native.Pix[i], "alpha at byte %d", i)
			continue
		}
		diff := int(native.Pix[i]) - int(pure.Pix[i])
		assert.LessOrEqual(t, diff*diff, 4, "byte %d: gocv %d, separable %d", i, native.Pix[i], pure.Pix[i])
	}
}
