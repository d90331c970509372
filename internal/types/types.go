package types

import "image"

// FrameTask represents a single decoded frame handed to a redaction worker
type FrameTask struct {
	Index int
	Frame *image.RGBA
}

// Region is one detection on a media unit. Confidence is -1 when the detector emits no score.
type Region struct {
	Rect       image.Rectangle
	Confidence float64
}

// NoConfidence marks regions produced by detectors that emit no score (cascade detectors).
const NoConfidence = -1.0

// FaceResult matches the JSON structure coming back from the model worker
type FaceResult struct {
	Loc []int     `json:"loc"` // [top, right, bottom, left]
	Vec []float64 `json:"vec"` // 128-d face encoding
}

// Rect converts the worker's [top, right, bottom, left] location into a rectangle.
func (f FaceResult) Rect() image.Rectangle {
	if len(f.Loc) != 4 {
		return image.Rectangle{}
	}
	return image.Rect(f.Loc[3], f.Loc[0], f.Loc[1], f.Loc[2])
}

// ErrorResult captures the error object returned by the worker on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// Entity is one named entity reported by the NER collaborator.
type Entity struct {
	Text     string `json:"text"`
	Category string `json:"label"`
}

// TextOccurrence is one located instance of a redaction target on a PDF page.
type TextOccurrence struct {
	Page   int        `json:"page"`
	Target string     `json:"target"`
	Rect   [4]float64 `json:"rect"` // x0, y0, x1, y1 in PDF points
}
