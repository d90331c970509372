//go:build gocv

package detect

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// GocvCascade runs a Haar cascade in-process.
type GocvCascade struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewGocvCascade loads the cascade XML at path.
func NewGocvCascade(path string) (*GocvCascade, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("failed to load cascade %s", path)
	}
	return &GocvCascade{classifier: c}, nil
}

func (g *GocvCascade) DetectMultiScale(ctx context.Context, gray *image.Gray, scaleFactor float64, minNeighbors int) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.classifier.DetectMultiScaleWithParams(mat, scaleFactor, minNeighbors, 0, image.Point{}, image.Point{}), nil
}

func (g *GocvCascade) Close() error {
	return g.classifier.Close()
}

// GocvNet runs a Caffe SSD face detector in-process.
type GocvNet struct {
	mu  sync.Mutex
	net gocv.Net
}

// NewGocvNet loads the topology and weights files.
func NewGocvNet(prototxt, caffemodel string) (*GocvNet, error) {
	net := gocv.ReadNetFromCaffe(prototxt, caffemodel)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network %s / %s", prototxt, caffemodel)
	}
	return &GocvNet{net: net}, nil
}

func (g *GocvNet) Forward(ctx context.Context, blob *Blob) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw := make([]byte, 4*len(blob.Data))
	for i, v := range blob.Data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	in, err := gocv.NewMatWithSizesFromBytes(blob.Shape[:], gocv.MatTypeCV32F, raw)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	g.mu.Lock()
	g.net.SetInput(in, "")
	out := g.net.Forward("")
	g.mu.Unlock()
	defer out.Close()

	// rows of 7: image id, class, confidence, x0, y0, x1, y1
	var preds []Prediction
	for i := 0; i+6 < out.Total(); i += 7 {
		preds = append(preds, Prediction{
			Confidence: float64(out.GetFloatAt(0, i+2)),
			Box: [4]float64{
				float64(out.GetFloatAt(0, i+3)),
				float64(out.GetFloatAt(0, i+4)),
				float64(out.GetFloatAt(0, i+5)),
				float64(out.GetFloatAt(0, i+6)),
			},
		})
	}
	return preds, nil
}

func (g *GocvNet) Close() error {
	return g.net.Close()
}
