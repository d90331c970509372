// Package pipeline redacts batches of still images.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/detect"
	"github.com/andresmejia3/obscura/internal/redact"
	"github.com/andresmejia3/obscura/internal/types"
	"golang.org/x/sync/errgroup"
)

// imageExts are the processed extensions, matched case-sensitively.
var imageExts = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
}

// IsImage reports whether name has a processed extension.
func IsImage(name string) bool {
	_, ok := imageExts[filepath.Ext(name)]
	return ok
}

// OutputName inserts the _blur suffix before the extension: a.jpg -> a_blur.jpg.
func OutputName(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_blur" + ext
}

// FilterImages keeps paths with a processed extension and drops everything else.
func FilterImages(paths []string) []string {
	var out []string
	for _, p := range paths {
		if IsImage(p) {
			out = append(out, p)
		}
	}
	return out
}

// DetectionResult is the outcome of running a detector on one unit.
type DetectionResult struct {
	Regions []types.Region
	Err     error
}

// RedactionResult is the outcome for one input image.
type RedactionResult struct {
	Input   string
	Output  string
	Regions int
	Err     error
}

// Failed reports whether the unit failed.
func (r RedactionResult) Failed() bool { return r.Err != nil }

// BatchReport collects every unit outcome in input order.
type BatchReport struct {
	Results []RedactionResult
}

// Succeeded returns the units that produced an output.
func (b *BatchReport) Succeeded() []RedactionResult {
	var out []RedactionResult
	for _, r := range b.Results {
		if !r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// Failures returns the units that failed.
func (b *BatchReport) Failures() []RedactionResult {
	var out []RedactionResult
	for _, r := range b.Results {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// ErrorNote renders failures as "<file>: <reason>" lines.
func (b *BatchReport) ErrorNote() string {
	var sb strings.Builder
	for _, r := range b.Failures() {
		fmt.Fprintf(&sb, "%s: %v\n", filepath.Base(r.Input), r.Err)
	}
	return sb.String()
}

// Images runs load -> detect -> redact -> persist for every image of a batch.
type Images struct {
	Detector    detect.Detector
	Redactor    *redact.Redactor
	Policy      FailurePolicy
	Concurrency int
	Logger      *slog.Logger
	// Progress, if set, is called once per finished unit.
	Progress func(RedactionResult)
}

// Run redacts inputs into outDir. Inputs that are not jpg, jpeg or png are ignored.
// With Abort the first failure is returned and the partial outputs are removed.
func (p *Images) Run(ctx context.Context, inputs []string, outDir string) (*BatchReport, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inputs = FilterImages(inputs)
	sort.Strings(inputs)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, apperr.New(apperr.EncodeFailure, "create output directory", err)
	}

	report := &BatchReport{Results: make([]RedactionResult, len(inputs))}
	g, gctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := p.one(gctx, in, outDir)
			report.Results[i] = res
			if p.Progress != nil {
				p.Progress(res)
			}
			if res.Failed() {
				logger.Warn("image failed", "file", filepath.Base(in), "error", res.Err)
				if p.Policy != Skip {
					return res.Err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, r := range report.Results {
			if r.Output != "" {
				os.Remove(r.Output)
			}
		}
		return nil, err
	}

	logger.Info("image batch redacted", "images", len(inputs),
		"succeeded", len(report.Succeeded()), "failed", len(report.Failures()))
	return report, nil
}

func (p *Images) one(ctx context.Context, in, outDir string) RedactionResult {
	res := RedactionResult{Input: in}

	data, err := os.ReadFile(in)
	if err != nil {
		res.Err = apperr.New(apperr.DecodeFailure, filepath.Base(in), err)
		return res
	}
	src, img, format, err := decode(data, filepath.Base(in))
	if err != nil {
		res.Err = err
		return res
	}

	det := p.detect(ctx, img)
	if det.Err != nil {
		res.Err = det.Err
		return res
	}

	redactor := p.Redactor
	if redactor == nil {
		redactor = redact.Default()
	}
	res.Regions = redactor.Apply(img, det.Regions)

	out := filepath.Join(outDir, OutputName(in))
	if res.Regions == 0 {
		// Untouched pictures keep their original encoding byte for byte.
		if err := os.WriteFile(out, data, 0o644); err != nil {
			os.Remove(out)
			res.Err = apperr.New(apperr.EncodeFailure, filepath.Base(out), err)
			return res
		}
		res.Output = out
		return res
	}

	if err := Save(out, restore(src, img, det.Regions, format), format); err != nil {
		res.Err = err
		return res
	}
	res.Output = out
	return res
}

// restore copies the redacted regions of img back onto the decoded png source so
// pixels outside the regions keep their alpha and bit depth. Other formats are
// encoded from img.
func restore(src image.Image, img *image.RGBA, regions []types.Region, format string) image.Image {
	dst, ok := src.(draw.Image)
	if format != "png" || !ok || src == image.Image(img) {
		return img
	}
	off := src.Bounds().Min
	for _, r := range regions {
		rect := r.Rect.Canon().Intersect(img.Bounds())
		if rect.Empty() {
			continue
		}
		draw.Draw(dst, rect.Add(off), img, rect.Min, draw.Src)
	}
	return dst
}

func (p *Images) detect(ctx context.Context, img *image.RGBA) DetectionResult {
	regions, err := p.Detector.Detect(ctx, img)
	if err != nil && apperr.KindOf(err) == apperr.KindUnknown && !errors.Is(err, context.Canceled) {
		err = apperr.New(apperr.ModelFailure, "detect", err)
	}
	return DetectionResult{Regions: regions, Err: err}
}

// Load decodes a jpeg or png file into an RGBA buffer.
func Load(path string) (*image.RGBA, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", apperr.New(apperr.DecodeFailure, filepath.Base(path), err)
	}
	return Decode(data, filepath.Base(path))
}

// Decode decodes jpeg or png bytes into an RGBA buffer.
func Decode(data []byte, name string) (*image.RGBA, string, error) {
	_, rgba, format, err := decode(data, name)
	return rgba, format, err
}

// decode returns the image as decoded alongside an RGBA copy of it. When the
// decoder already produced RGBA both results are the same buffer.
func decode(data []byte, name string) (image.Image, *image.RGBA, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, "", apperr.New(apperr.DecodeFailure, name, err)
	}
	if rgba, ok := src.(*image.RGBA); ok {
		return src, rgba, format, nil
	}
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	return src, rgba, format, nil
}

// Save encodes img in format ("jpeg" or "png") to path.
func Save(path string, img image.Image, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return apperr.New(apperr.EncodeFailure, filepath.Base(path), err)
	}
	if format == "png" {
		err = png.Encode(f, img)
	} else {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return apperr.New(apperr.EncodeFailure, filepath.Base(path), err)
	}
	return nil
}
