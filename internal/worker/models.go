package worker

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/obscura/internal/detect"
	"github.com/andresmejia3/obscura/internal/identity"
	"github.com/andresmejia3/obscura/internal/types"
)

// Operation names understood by the model worker.
const (
	OpDetectEyes   = "detect_eyes"
	OpForwardFaces = "forward_faces"
	OpLocateFaces  = "locate_faces"
	OpEmbedFaces   = "embed_faces"
	OpNER          = "ner"
	OpPDFText      = "pdf_text"
	OpPDFLocate    = "pdf_locate"
	OpPDFRedact    = "pdf_redact"
)

// Models exposes the worker's vision and language operations as detector capabilities.
type Models struct {
	c Caller
}

func NewModels(c Caller) *Models {
	return &Models{c: c}
}

type frameArgs struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Format string  `json:"format"`
	Scale  float64 `json:"scale_factor,omitempty"`
	MinN   int     `json:"min_neighbors,omitempty"`
	Boxes  [][]int `json:"boxes,omitempty"` // [top, right, bottom, left]
}

// packed returns rows of rowBytes without stride padding.
func packed(pix []byte, stride, rowBytes, h int) []byte {
	if stride == rowBytes {
		return pix[:rowBytes*h]
	}
	out := make([]byte, 0, rowBytes*h)
	for y := 0; y < h; y++ {
		out = append(out, pix[y*stride:y*stride+rowBytes]...)
	}
	return out
}

func (m *Models) DetectMultiScale(ctx context.Context, gray *image.Gray, scaleFactor float64, minNeighbors int) ([]image.Rectangle, error) {
	b := gray.Bounds()
	args := frameArgs{Width: b.Dx(), Height: b.Dy(), Format: "gray", Scale: scaleFactor, MinN: minNeighbors}
	resp, err := m.c.Call(ctx, OpDetectEyes, args, packed(gray.Pix, gray.Stride, b.Dx(), b.Dy()))
	if err != nil {
		return nil, err
	}
	var out struct {
		Rects [][4]int `json:"rects"` // x, y, w, h
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	rects := make([]image.Rectangle, 0, len(out.Rects))
	for _, r := range out.Rects {
		rects = append(rects, image.Rect(r[0], r[1], r[0]+r[2], r[1]+r[3]))
	}
	return rects, nil
}

func (m *Models) Forward(ctx context.Context, blob *detect.Blob) ([]detect.Prediction, error) {
	raw := make([]byte, 4*len(blob.Data))
	for i, v := range blob.Data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	args := struct {
		Shape [4]int `json:"shape"`
		DType string `json:"dtype"`
	}{blob.Shape, "<f4"}
	resp, err := m.c.Call(ctx, OpForwardFaces, args, raw)
	if err != nil {
		return nil, err
	}
	var out struct {
		Detections [][5]float64 `json:"detections"` // confidence, x0, y0, x1, y1
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	preds := make([]detect.Prediction, 0, len(out.Detections))
	for _, d := range out.Detections {
		preds = append(preds, detect.Prediction{Confidence: d[0], Box: [4]float64{d[1], d[2], d[3], d[4]}})
	}
	return preds, nil
}

func rgbaArgs(img *image.RGBA) (frameArgs, []byte) {
	b := img.Bounds()
	return frameArgs{Width: b.Dx(), Height: b.Dy(), Format: "rgba"},
		packed(img.Pix, img.Stride, b.Dx()*4, b.Dy())
}

func (m *Models) Locate(ctx context.Context, img *image.RGBA) ([]image.Rectangle, error) {
	args, body := rgbaArgs(img)
	resp, err := m.c.Call(ctx, OpLocateFaces, args, body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Faces []types.FaceResult `json:"faces"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	boxes := make([]image.Rectangle, 0, len(out.Faces))
	for _, f := range out.Faces {
		boxes = append(boxes, f.Rect().Add(img.Bounds().Min))
	}
	return boxes, nil
}

func (m *Models) Embed(ctx context.Context, img *image.RGBA, boxes []image.Rectangle) ([]identity.Embedding, error) {
	args, body := rgbaArgs(img)
	origin := img.Bounds().Min
	for _, r := range boxes {
		r = r.Sub(origin)
		args.Boxes = append(args.Boxes, []int{r.Min.Y, r.Max.X, r.Max.Y, r.Min.X})
	}
	resp, err := m.c.Call(ctx, OpEmbedFaces, args, body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Faces []types.FaceResult `json:"faces"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Faces) != len(boxes) {
		return nil, fmt.Errorf("worker returned %d embeddings for %d faces", len(out.Faces), len(boxes))
	}
	vecs := make([]identity.Embedding, 0, len(out.Faces))
	for _, f := range out.Faces {
		vecs = append(vecs, identity.Embedding(f.Vec))
	}
	return vecs, nil
}

// Analyze runs named-entity recognition over text.
func (m *Models) Analyze(ctx context.Context, text string) ([]types.Entity, error) {
	resp, err := m.c.Call(ctx, OpNER, nil, []byte(text))
	if err != nil {
		return nil, err
	}
	var out struct {
		Entities []types.Entity `json:"entities"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// Documents exposes the worker's PDF operations.
type Documents struct {
	c Caller
}

func NewDocuments(c Caller) *Documents {
	return &Documents{c: c}
}

// Text returns the plain text of every page.
func (d *Documents) Text(ctx context.Context, pdf []byte) ([]string, error) {
	resp, err := d.c.Call(ctx, OpPDFText, nil, pdf)
	if err != nil {
		return nil, err
	}
	var out struct {
		Pages []string `json:"pages"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Pages, nil
}

// Locate finds every exact occurrence of each target on every page.
func (d *Documents) Locate(ctx context.Context, pdf []byte, targets []string) ([]types.TextOccurrence, error) {
	resp, err := d.c.Call(ctx, OpPDFLocate, map[string]any{"targets": targets}, pdf)
	if err != nil {
		return nil, err
	}
	var out struct {
		Occurrences []types.TextOccurrence `json:"occurrences"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Occurrences, nil
}

// Redact covers each occurrence with an opaque fill and removes the text beneath it.
func (d *Documents) Redact(ctx context.Context, pdf []byte, occ []types.TextOccurrence, fill [3]float64) ([]byte, error) {
	args := map[string]any{"occurrences": occ, "fill": fill}
	resp, err := d.c.Call(ctx, OpPDFRedact, args, pdf)
	if err != nil {
		return nil, err
	}
	if len(resp.Blob) == 0 {
		return nil, fmt.Errorf("worker returned an empty document")
	}
	return resp.Blob, nil
}
