package redact

import (
	"image"
	"math"
	"sync"
)

// gaussKernel holds the normalised 1-D weights for KernelSize and Sigma.
var gaussKernel = func() []float32 {
	k := make([]float32, KernelSize)
	radius := KernelSize / 2
	var sum float64
	w := make([]float64, KernelSize)
	for i := range w {
		d := float64(i - radius)
		w[i] = math.Exp(-(d * d) / (2 * Sigma * Sigma))
		sum += w[i]
	}
	for i := range w {
		k[i] = float32(w[i] / sum)
	}
	return k
}()

// scratchPool recycles the float buffer holding the horizontal pass.
var scratchPool = sync.Pool{
	New: func() interface{} { return make([]float32, 0, 256*256*3) },
}

// reflect101 maps i into [0,n) mirroring around the edge pixels (dcb|abcd|cba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// separableGaussian blurs rect in place with a separable KernelSize x KernelSize kernel.
// Only pixels inside rect are sampled; the border is reflected inside the region.
func separableGaussian(img *image.RGBA, rect image.Rectangle) {
	w, h := rect.Dx(), rect.Dy()
	radius := KernelSize / 2

	need := w * h * 3
	buf := scratchPool.Get().([]float32)
	if cap(buf) < need {
		buf = make([]float32, need)
	}
	buf = buf[:need]
	defer scratchPool.Put(buf[:0])

	// Horizontal: image -> buf
	for y := 0; y < h; y++ {
		row := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		for x := 0; x < w; x++ {
			var r, g, b float32
			for k, wt := range gaussKernel {
				off := row + reflect101(x+k-radius, w)*4
				r += wt * float32(img.Pix[off])
				g += wt * float32(img.Pix[off+1])
				b += wt * float32(img.Pix[off+2])
			}
			o := (y*w + x) * 3
			buf[o], buf[o+1], buf[o+2] = r, g, b
		}
	}

	// Vertical: buf -> image
	for y := 0; y < h; y++ {
		dst := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		for x := 0; x < w; x++ {
			var r, g, b float32
			for k, wt := range gaussKernel {
				o := (reflect101(y+k-radius, h)*w + x) * 3
				r += wt * buf[o]
				g += wt * buf[o+1]
				b += wt * buf[o+2]
			}
			img.Pix[dst] = clamp8(r)
			img.Pix[dst+1] = clamp8(g)
			img.Pix[dst+2] = clamp8(b)
			dst += 4
		}
	}
}

func clamp8(v float32) uint8 {
	v += 0.5
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
