package detect

import (
	"image"

	"golang.org/x/image/draw"
)

// Blob is a float32 tensor in NCHW layout.
type Blob struct {
	Data  []float32
	Shape [4]int
}

// Grayscale converts img to 8-bit luma.
func Grayscale(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// NewBlob resizes img to size x size (bilinear) and lays it out as a 1x3xHxW BGR tensor
// with mean subtracted per channel.
func NewBlob(img *image.RGBA, size int, mean [3]float32) *Blob {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := dst.PixOffset(x, y)
			i := y*size + x
			// planes are B, G, R
			data[i] = float32(dst.Pix[off+2]) - mean[0]
			data[plane+i] = float32(dst.Pix[off+1]) - mean[1]
			data[2*plane+i] = float32(dst.Pix[off]) - mean[2]
		}
	}
	return &Blob{Data: data, Shape: [4]int{1, 3, size, size}}
}
