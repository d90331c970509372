//go:build !gocv

package redact

import "image"

func gaussian(img *image.RGBA, rect image.Rectangle) {
	separableGaussian(img, rect)
}
