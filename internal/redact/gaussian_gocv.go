//go:build gocv

package redact

import (
	"image"

	"gocv.io/x/gocv"
)

// gaussian runs OpenCV's GaussianBlur over the RGB channels of rect. Alpha is
// left untouched. If the region cannot be wrapped in a Mat the pure Go kernel is used.
func gaussian(img *image.RGBA, rect image.Rectangle) {
	if !gocvGaussian(img, rect) {
		separableGaussian(img, rect)
	}
}

func gocvGaussian(img *image.RGBA, rect image.Rectangle) bool {
	w, h := rect.Dx(), rect.Dy()
	rgb := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		off := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		for x := 0; x < w; x++ {
			o := (y*w + x) * 3
			rgb[o], rgb[o+1], rgb[o+2] = img.Pix[off], img.Pix[off+1], img.Pix[off+2]
			off += 4
		}
	}

	src, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, rgb)
	if err != nil {
		return false
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	// Reflect101 matches the border handling of separableGaussian.
	gocv.GaussianBlur(src, &dst, image.Pt(KernelSize, KernelSize), Sigma, Sigma, gocv.BorderReflect101)
	out := dst.ToBytes()
	if len(out) != len(rgb) {
		return false
	}

	for y := 0; y < h; y++ {
		off := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		for x := 0; x < w; x++ {
			o := (y*w + x) * 3
			img.Pix[off], img.Pix[off+1], img.Pix[off+2] = out[o], out[o+1], out[o+2]
			off += 4
		}
	}
	return true
}
