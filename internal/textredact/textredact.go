// Package textredact selects named entities from document text and removes them from a PDF.
package textredact

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/types"
)

// Recognizer is the named-entity collaborator.
type Recognizer interface {
	Analyze(ctx context.Context, text string) ([]types.Entity, error)
}

// TextExtractor returns the plain text of every page.
type TextExtractor interface {
	Text(ctx context.Context, pdf []byte) ([]string, error)
}

// Editor locates text on pages and applies redactions that remove the underlying text.
type Editor interface {
	Locate(ctx context.Context, pdf []byte, targets []string) ([]types.TextOccurrence, error)
	Redact(ctx context.Context, pdf []byte, occ []types.TextOccurrence, fill [3]float64) ([]byte, error)
}

// Black is the redaction fill colour (RGB in [0,1]).
var Black = [3]float64{0, 0, 0}

// Result is the outcome of one document redaction.
type Result struct {
	PDF         []byte
	Targets     []string
	Occurrences []types.TextOccurrence
	Categories  CategorySet
}

// Pipeline runs extract -> recognise -> select -> locate -> redact.
type Pipeline struct {
	Extractor  TextExtractor
	Recognizer Recognizer
	Editor     Editor
	Fill       [3]float64
	Logger     *slog.Logger
}

// SelectTargets returns the distinct entity texts whose category the instruction selects.
// Deduplication is by exact, case-sensitive text. The result is sorted.
func SelectTargets(entities []types.Entity, cats CategorySet) []string {
	seen := make(map[string]struct{})
	var targets []string
	for _, e := range entities {
		if strings.TrimSpace(e.Text) == "" || !cats.Contains(e.Category) {
			continue
		}
		if _, dup := seen[e.Text]; dup {
			continue
		}
		seen[e.Text] = struct{}{}
		targets = append(targets, e.Text)
	}
	sort.Strings(targets)
	return targets
}

// Targets extracts text from pdf and returns the redaction targets for instruction.
func (p *Pipeline) Targets(ctx context.Context, pdf []byte, instruction string) ([]string, CategorySet, error) {
	cats := ResolveCategories(instruction)
	if cats.Empty() {
		return nil, cats, nil
	}

	pages, err := p.Extractor.Text(ctx, pdf)
	if err != nil {
		return nil, cats, kind(apperr.DecodeFailure, "extract text", err)
	}
	text := strings.Join(pages, "\n")
	if strings.TrimSpace(text) == "" {
		return nil, cats, nil
	}

	entities, err := p.Recognizer.Analyze(ctx, text)
	if err != nil {
		return nil, cats, kind(apperr.ModelFailure, "named-entity recognition", err)
	}
	return SelectTargets(entities, cats), cats, nil
}

// Run redacts every occurrence of every selected entity. With no targets the input is
// returned unchanged.
func (p *Pipeline) Run(ctx context.Context, pdf []byte, instruction string) (*Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	targets, cats, err := p.Targets(ctx, pdf, instruction)
	if err != nil {
		return nil, err
	}
	res := &Result{PDF: pdf, Targets: targets, Categories: cats}
	if len(targets) == 0 {
		logger.Info("no redaction targets", "instruction", instruction)
		return res, nil
	}

	occ, err := p.Editor.Locate(ctx, pdf, targets)
	if err != nil {
		return nil, kind(apperr.ModelFailure, "locate targets", err)
	}
	res.Occurrences = occ
	if len(occ) == 0 {
		return res, nil
	}

	out, err := p.Editor.Redact(ctx, pdf, occ, p.Fill)
	if err != nil {
		return nil, kind(apperr.EncodeFailure, "apply redactions", err)
	}
	res.PDF = out
	logger.Info("document redacted", "targets", len(targets), "occurrences", len(occ))
	return res, nil
}

func kind(k apperr.Kind, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.New(k, op, err)
}
