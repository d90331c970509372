// Package redact applies irreversible obscuring to rectangular regions of an RGBA buffer.
package redact

import (
	"fmt"
	"image"

	"github.com/andresmejia3/obscura/internal/types"
)

// Style selects how a region is obscured.
type Style string

const (
	StyleGauss  Style = "gauss"
	StylePixel  Style = "pixel"
	StyleBlack  Style = "black"
	StyleSecure Style = "secure"
)

// Gaussian parameters used for every gauss redaction.
const (
	KernelSize = 99
	Sigma      = 30.0
)

// ParseStyle validates a style name. The empty string selects StyleGauss.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case "":
		return StyleGauss, nil
	case StyleGauss, StylePixel, StyleBlack, StyleSecure:
		return Style(s), nil
	}
	return "", fmt.Errorf("invalid style '%s'. Must be one of: gauss, pixel, black, secure", s)
}

// Redactor obscures regions in place. Strength is the block size for StylePixel.
type Redactor struct {
	Style    Style
	Strength int
}

// New returns a Redactor using style. strength is only read by StylePixel.
func New(style Style, strength int) *Redactor {
	if style == "" {
		style = StyleGauss
	}
	return &Redactor{Style: style, Strength: strength}
}

// Default returns the gauss Redactor used by the HTTP service.
func Default() *Redactor {
	return New(StyleGauss, 0)
}

// Apply obscures every region of img in the order given and returns how many regions
// intersected the image. Regions are clamped to img.Bounds(); overlapping regions are
// processed sequentially so later regions see earlier output.
func (r *Redactor) Apply(img *image.RGBA, regions []types.Region) int {
	applied := 0
	for _, reg := range regions {
		if r.Region(img, reg.Rect) {
			applied++
		}
	}
	return applied
}

// Region obscures one rectangle and reports whether anything was touched.
func (r *Redactor) Region(img *image.RGBA, rect image.Rectangle) bool {
	rect = rect.Canon().Intersect(img.Bounds())
	if rect.Empty() {
		return false
	}

	switch r.Style {
	case StyleBlack:
		fill(img, rect, 0, 0, 0)
	case StyleSecure:
		cr, cg, cb := borderAverage(img, rect)
		fill(img, rect, cr, cg, cb)
	case StylePixel:
		pixelate(img, rect, r.Strength)
	default:
		gaussian(img, rect)
	}
	return true
}

func fill(img *image.RGBA, rect image.Rectangle, cr, cg, cb uint8) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := img.PixOffset(rect.Min.X, y)
		for x := 0; x < rect.Dx(); x++ {
			img.Pix[off] = cr
			img.Pix[off+1] = cg
			img.Pix[off+2] = cb
			img.Pix[off+3] = 255
			off += 4
		}
	}
}

// borderAverage averages the one-pixel ring just outside rect. Black when the rect covers the image.
func borderAverage(img *image.RGBA, rect image.Rectangle) (uint8, uint8, uint8) {
	var r, g, b, n uint64
	add := func(x, y int) {
		if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
			return
		}
		off := img.PixOffset(x, y)
		r += uint64(img.Pix[off])
		g += uint64(img.Pix[off+1])
		b += uint64(img.Pix[off+2])
		n++
	}
	for x := rect.Min.X; x < rect.Max.X; x++ {
		add(x, rect.Min.Y-1)
		add(x, rect.Max.Y)
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		add(rect.Min.X-1, y)
		add(rect.Max.X, y)
	}
	if n == 0 {
		return 0, 0, 0
	}
	return uint8(r / n), uint8(g / n), uint8(b / n)
}

func pixelate(img *image.RGBA, rect image.Rectangle, block int) {
	if block < 1 {
		block = 1
	}
	for y := rect.Min.Y; y < rect.Max.Y; y += block {
		for x := rect.Min.X; x < rect.Max.X; x += block {
			src := img.PixOffset(x, y)
			c := [4]uint8{img.Pix[src], img.Pix[src+1], img.Pix[src+2], img.Pix[src+3]}
			cell := image.Rect(x, y, x+block, y+block).Intersect(rect)
			for by := cell.Min.Y; by < cell.Max.Y; by++ {
				off := img.PixOffset(cell.Min.X, by)
				for bx := cell.Min.X; bx < cell.Max.X; bx++ {
					copy(img.Pix[off:off+4], c[:])
					off += 4
				}
			}
		}
	}
}
