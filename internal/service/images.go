package service

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/archive"
	"github.com/andresmejia3/obscura/internal/detect"
	"github.com/andresmejia3/obscura/internal/events"
	"github.com/andresmejia3/obscura/internal/pipeline"
	"github.com/andresmejia3/obscura/internal/redact"
)

// ErrorNoteName is the archive entry listing skipped images.
const ErrorNoteName = "errors.txt"

// ImageRequest redacts a batch of pictures.
type ImageRequest struct {
	Mode   Mode
	Person PersonRef
	// Policy overrides the configured failure policy when set.
	Policy   pipeline.FailurePolicy
	Redactor *redact.Redactor
	Progress func(pipeline.RedactionResult)
}

// ImageSummary describes a finished batch.
type ImageSummary struct {
	RequestID string
	Processed int
	Failed    int
	Report    *pipeline.BatchReport
}

// RedactArchive extracts the zip in upload, redacts every picture and writes a zip of
// the outputs to w. Nothing is written to w when the batch fails.
func (s *Service) RedactArchive(ctx context.Context, req ImageRequest, upload *Upload, w io.Writer) (sum *ImageSummary, err error) {
	ctx, id := requestID(ctx)
	start := time.Now()
	defer func() {
		e := events.Event{RequestID: id, Operation: "blur-" + string(req.Mode) + "-in-pictures"}
		if sum != nil {
			e.Files = sum.Processed
		}
		s.publish(ctx, e, start, err)
	}()

	if upload == nil || upload.Reader == nil {
		return nil, apperr.Newf(apperr.MissingInput, "an image archive is required")
	}
	ws, cleanup, err := s.newWorkspace(id)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	det, err := s.detector(ctx, req.Mode, req.Person, ws)
	if err != nil {
		return nil, err
	}
	inputs, err := archive.ExtractReader(upload.Reader, upload.Size, filepath.Join(ws.Dir, "input"), s.maxArchiveBytes())
	if err != nil {
		return nil, err
	}

	report, err := s.images(ctx, req, det, inputs, filepath.Join(ws.Dir, "output"))
	if err != nil {
		return nil, err
	}

	entries := make([]archive.Entry, 0, len(report.Results)+1)
	for _, r := range report.Succeeded() {
		entries = append(entries, archive.Entry{Name: filepath.Base(r.Output), Path: r.Output})
	}
	if note := report.ErrorNote(); note != "" {
		entries = append(entries, archive.Entry{Name: ErrorNoteName, Data: []byte(note)})
	}
	if err := archive.Write(w, entries); err != nil {
		return nil, err
	}
	return summarize(id, report), nil
}

// RedactDirectory redacts the pictures under dir into outDir.
func (s *Service) RedactDirectory(ctx context.Context, req ImageRequest, dir, outDir string) (sum *ImageSummary, err error) {
	ctx, id := requestID(ctx)
	start := time.Now()
	defer func() {
		e := events.Event{RequestID: id, Operation: "redact-directory"}
		if sum != nil {
			e.Files = sum.Processed
		}
		s.publish(ctx, e, start, err)
	}()

	inputs, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	ws, cleanup, err := s.newWorkspace(id)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	det, err := s.detector(ctx, req.Mode, req.Person, ws)
	if err != nil {
		return nil, err
	}
	report, err := s.images(ctx, req, det, inputs, outDir)
	if err != nil {
		return nil, err
	}
	if note := report.ErrorNote(); note != "" {
		if err := os.WriteFile(filepath.Join(outDir, ErrorNoteName), []byte(note), 0o644); err != nil {
			return nil, apperr.New(apperr.EncodeFailure, "write error note", err)
		}
	}
	return summarize(id, report), nil
}

func (s *Service) images(ctx context.Context, req ImageRequest, det detect.Detector, inputs []string, outDir string) (*pipeline.BatchReport, error) {
	p := &pipeline.Images{
		Detector:    det,
		Redactor:    req.Redactor,
		Policy:      s.policy(req.Policy),
		Concurrency: s.Options.Concurrency,
		Logger:      s.log(ctx),
		Progress:    req.Progress,
	}
	return p.Run(ctx, inputs, outDir)
}

func summarize(id string, report *pipeline.BatchReport) *ImageSummary {
	return &ImageSummary{
		RequestID: id,
		Processed: len(report.Succeeded()),
		Failed:    len(report.Failures()),
		Report:    report,
	}
}

// listFiles returns every regular file under dir, sorted.
func listFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperr.New(apperr.MissingInput, "open input directory", err)
	}
	if !info.IsDir() {
		return nil, apperr.Newf(apperr.MissingInput, "%s is not a directory", dir)
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.DecodeFailure, "walk input directory", err)
	}
	sort.Strings(files)
	return files, nil
}
