// Package detect adapts the cascade, box-classifier and identity models to one Detector interface.
package detect

import (
	"context"
	"image"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/identity"
	"github.com/andresmejia3/obscura/internal/types"
)

// Detector returns the regions to redact on one media unit.
type Detector interface {
	Detect(ctx context.Context, img *image.RGBA) ([]types.Region, error)
}

// CascadeModel is a classical multi-scale detector without confidence scores.
type CascadeModel interface {
	DetectMultiScale(ctx context.Context, gray *image.Gray, scaleFactor float64, minNeighbors int) ([]image.Rectangle, error)
}

// Prediction is one box-classifier output. Box is x0, y0, x1, y1 normalised to [0,1].
type Prediction struct {
	Confidence float64
	Box        [4]float64
}

// BoxModel runs a forward pass over a preprocessed blob.
type BoxModel interface {
	Forward(ctx context.Context, blob *Blob) ([]Prediction, error)
}

// Cascade defaults.
const (
	DefaultScaleFactor  = 1.1
	DefaultMinNeighbors = 4
)

// Cascade detects eyes. Every candidate is returned.
type Cascade struct {
	Model        CascadeModel
	ScaleFactor  float64
	MinNeighbors int
}

// NewCascade returns an eye detector with the default scale factor and neighbour count.
func NewCascade(m CascadeModel) *Cascade {
	return &Cascade{Model: m, ScaleFactor: DefaultScaleFactor, MinNeighbors: DefaultMinNeighbors}
}

func (c *Cascade) Detect(ctx context.Context, img *image.RGBA) ([]types.Region, error) {
	rects, err := c.Model.DetectMultiScale(ctx, Grayscale(img), c.ScaleFactor, c.MinNeighbors)
	if err != nil {
		return nil, apperr.New(apperr.ModelFailure, "cascade detect", err)
	}
	regions := make([]types.Region, 0, len(rects))
	for _, r := range rects {
		regions = append(regions, types.Region{Rect: r, Confidence: types.NoConfidence})
	}
	return regions, nil
}

// Classifier defaults.
const (
	DefaultInputSize  = 300
	DefaultConfidence = 0.5
)

// DefaultMean is the per-channel BGR mean subtracted before the forward pass.
var DefaultMean = [3]float32{104, 177, 123}

// Classifier detects generic faces with a box classifier.
type Classifier struct {
	Model     BoxModel
	InputSize int
	Threshold float64
	Mean      [3]float32
}

// NewClassifier returns a face detector with 300x300 input and a 0.5 confidence cut.
func NewClassifier(m BoxModel) *Classifier {
	return &Classifier{Model: m, InputSize: DefaultInputSize, Threshold: DefaultConfidence, Mean: DefaultMean}
}

func (c *Classifier) Detect(ctx context.Context, img *image.RGBA) ([]types.Region, error) {
	preds, err := c.Model.Forward(ctx, NewBlob(img, c.InputSize, c.Mean))
	if err != nil {
		return nil, apperr.New(apperr.ModelFailure, "classifier forward", err)
	}
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	var regions []types.Region
	for _, p := range preds {
		if p.Confidence <= c.Threshold {
			continue
		}
		rect := image.Rect(
			int(p.Box[0]*w), int(p.Box[1]*h),
			int(p.Box[2]*w), int(p.Box[3]*h),
		).Add(b.Min)
		regions = append(regions, types.Region{Rect: rect, Confidence: p.Confidence})
	}
	return regions, nil
}

// Identity detects the faces of one person. Only faces matching the reference set are returned.
type Identity struct {
	Encoder identity.Encoder
	Known   *identity.ReferenceSet
	Matcher identity.Matcher
}

// NewIdentity returns a detector for the people in known, using the default tolerance.
func NewIdentity(enc identity.Encoder, known *identity.ReferenceSet) *Identity {
	return &Identity{Encoder: enc, Known: known, Matcher: identity.NewMatcher()}
}

func (d *Identity) Detect(ctx context.Context, img *image.RGBA) ([]types.Region, error) {
	if d.Known.Len() == 0 {
		return nil, nil
	}
	boxes, err := d.Encoder.Locate(ctx, img)
	if err != nil {
		return nil, apperr.New(apperr.ModelFailure, "locate faces", err)
	}
	if len(boxes) == 0 {
		return nil, nil
	}
	vecs, err := d.Encoder.Embed(ctx, img, boxes)
	if err != nil {
		return nil, apperr.New(apperr.ModelFailure, "embed faces", err)
	}

	var regions []types.Region
	for i, v := range vecs {
		if i >= len(boxes) {
			break
		}
		if d.Matcher.Matches(d.Known.Embeddings, v) {
			regions = append(regions, types.Region{Rect: boxes[i], Confidence: types.NoConfidence})
		}
	}
	return regions, nil
}
