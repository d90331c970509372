package identity

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a    Embedding
		b    Embedding
		want float64
	}{
		{"Identical vectors", Embedding{1, 0}, Embedding{1, 0}, 0},
		{"Unit apart", Embedding{1, 0}, Embedding{0, 0}, 1},
		{"3-4-5 triangle", Embedding{0, 0}, Embedding{3, 4}, 5},
		{"Length mismatch", Embedding{1}, Embedding{1, 0}, math.Inf(1)},
		{"Empty vectors", Embedding{}, Embedding{}, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.IsInf(tt.want, 1) {
				assert.True(t, math.IsInf(got, 1))
				return
			}
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestMatcher_Reflexive(t *testing.T) {
	known := []Embedding{{0.1, 0.2, 0.3}, {0.9, 0.8, 0.7}}
	m := NewMatcher()
	for _, k := range known {
		assert.True(t, m.Matches(known, k))
	}
}

func TestMatcher_Existential(t *testing.T) {
	m := NewMatcher()
	known := []Embedding{{5, 5}, {0, 0}}

	assert.True(t, m.Matches(known, Embedding{0.3, 0.3}), "one close reference is enough")
	assert.False(t, m.Matches(known, Embedding{2, 2}))
	assert.False(t, m.Matches(nil, Embedding{0, 0}), "empty known set never matches")
	assert.True(t, Matcher{Tolerance: 1}.Matches(known, Embedding{1, 0}), "tolerance boundary is inclusive")
}

type fakeEncoder struct {
	boxes map[*image.RGBA][]image.Rectangle
	vecs  map[*image.RGBA]Embedding
	err   error
}

func (f *fakeEncoder) Locate(_ context.Context, img *image.RGBA) ([]image.Rectangle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.boxes[img], nil
}

func (f *fakeEncoder) Embed(_ context.Context, img *image.RGBA, boxes []image.Rectangle) ([]Embedding, error) {
	out := make([]Embedding, 0, len(boxes))
	for range boxes {
		out = append(out, f.vecs[img])
	}
	return out, nil
}

func TestBuildReferenceSet(t *testing.T) {
	withFace := image.NewRGBA(image.Rect(0, 0, 4, 4))
	noFace := image.NewRGBA(image.Rect(0, 0, 4, 4))
	enc := &fakeEncoder{
		boxes: map[*image.RGBA][]image.Rectangle{
			withFace: {image.Rect(0, 0, 2, 2), image.Rect(2, 2, 4, 4)},
		},
		vecs: map[*image.RGBA]Embedding{withFace: {1, 2, 3}},
	}

	set, err := BuildReferenceSet(context.Background(), enc, []Reference{
		{Name: "a.jpg", Image: withFace},
		{Name: "empty.jpg", Image: noFace},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, set.Len(), "only the first face of an image is used")
	assert.Equal(t, []string{"empty.jpg"}, set.Skipped)
}

func TestBuildReferenceSet_EncoderFailure(t *testing.T) {
	enc := &fakeEncoder{err: errors.New("model offline")}
	_, err := BuildReferenceSet(context.Background(), enc, []Reference{{Name: "a.jpg", Image: image.NewRGBA(image.Rect(0, 0, 1, 1))}}, nil)
	assert.ErrorContains(t, err, "model offline")
}
