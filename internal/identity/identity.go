// Package identity decides whether a face embedding belongs to a known person.
package identity

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
)

// Embedding is a fixed-length face descriptor (128-d for the default encoder).
type Embedding []float64

// DefaultTolerance is the encoder's default matching distance.
const DefaultTolerance = 0.6

// Encoder locates faces and computes one embedding per location.
type Encoder interface {
	Locate(ctx context.Context, img *image.RGBA) ([]image.Rectangle, error)
	Embed(ctx context.Context, img *image.RGBA, boxes []image.Rectangle) ([]Embedding, error)
}

// Distance returns the Euclidean distance between a and b.
// Vectors of different length never match, so the distance is +Inf.
func Distance(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Matcher applies the existential match rule: a candidate matches when it is within
// Tolerance of at least one known embedding.
type Matcher struct {
	Tolerance float64
}

// NewMatcher returns a Matcher using DefaultTolerance.
func NewMatcher() Matcher {
	return Matcher{Tolerance: DefaultTolerance}
}

// Matches reports whether candidate is within tolerance of any known embedding.
func (m Matcher) Matches(known []Embedding, candidate Embedding) bool {
	tol := m.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	for _, k := range known {
		if Distance(k, candidate) <= tol {
			return true
		}
	}
	return false
}

// Reference is one caller-supplied reference image.
type Reference struct {
	Name  string
	Image *image.RGBA
}

// ReferenceSet holds the known embeddings for one request.
type ReferenceSet struct {
	Embeddings []Embedding
	// Skipped lists reference images where no face was found.
	Skipped []string
}

// Len returns the number of known embeddings.
func (s *ReferenceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Embeddings)
}

// BuildReferenceSet embeds the first detected face of every reference image.
// Images without a face contribute nothing and are recorded in Skipped.
func BuildReferenceSet(ctx context.Context, enc Encoder, refs []Reference, logger *slog.Logger) (*ReferenceSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	set := &ReferenceSet{}
	for _, ref := range refs {
		boxes, err := enc.Locate(ctx, ref.Image)
		if err != nil {
			return nil, fmt.Errorf("locate faces in %s: %w", ref.Name, err)
		}
		if len(boxes) == 0 {
			logger.Debug("reference image has no face", "image", ref.Name)
			set.Skipped = append(set.Skipped, ref.Name)
			continue
		}
		vecs, err := enc.Embed(ctx, ref.Image, boxes[:1])
		if err != nil {
			return nil, fmt.Errorf("embed face in %s: %w", ref.Name, err)
		}
		if len(vecs) == 0 {
			set.Skipped = append(set.Skipped, ref.Name)
			continue
		}
		set.Embeddings = append(set.Embeddings, vecs[0])
	}
	logger.Info("reference set built", "embeddings", len(set.Embeddings), "skipped", len(set.Skipped))
	return set, nil
}
