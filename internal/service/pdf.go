package service

import (
	"context"
	"strings"
	"time"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/events"
	"github.com/andresmejia3/obscura/internal/textredact"
	"github.com/andresmejia3/obscura/internal/utils"
)

// PDFRequest redacts named entities from one document.
type PDFRequest struct {
	Name        string
	Data        []byte
	Instruction string
}

// PDFResult is the redacted document and what was removed from it.
type PDFResult struct {
	RequestID   string
	Name        string
	PDF         []byte
	Targets     []string
	Occurrences int
}

// RedactedName is the download name for a redacted document.
func RedactedName(name string) string {
	return "redacted_" + utils.BaseName(name, "document.pdf")
}

// RedactPDF removes every entity the instruction selects.
func (s *Service) RedactPDF(ctx context.Context, req PDFRequest) (res *PDFResult, err error) {
	ctx, id := requestID(ctx)
	start := time.Now()
	defer func() {
		e := events.Event{RequestID: id, Operation: "redact-pdf"}
		if res != nil {
			e.Output = res.Name
		}
		s.publish(ctx, e, start, err)
	}()

	if len(req.Data) == 0 {
		return nil, apperr.Newf(apperr.MissingInput, "a PDF file is required")
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, apperr.Newf(apperr.MissingInput, "an instruction is required")
	}
	if s.Documents.Extractor == nil || s.Documents.Recognizer == nil || s.Documents.Editor == nil {
		return nil, apperr.Newf(apperr.ModelFailure, "document models are not loaded")
	}

	p := &textredact.Pipeline{
		Extractor:  s.Documents.Extractor,
		Recognizer: s.Documents.Recognizer,
		Editor:     s.Documents.Editor,
		Fill:       textredact.Black,
		Logger:     s.log(ctx),
	}
	out, err := p.Run(ctx, req.Data, req.Instruction)
	if err != nil {
		return nil, err
	}
	return &PDFResult{
		RequestID:   id,
		Name:        RedactedName(req.Name),
		PDF:         out.PDF,
		Targets:     out.Targets,
		Occurrences: len(out.Occurrences),
	}, nil
}
