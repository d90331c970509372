package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/pipeline"
	"github.com/andresmejia3/obscura/internal/service"
	"github.com/andresmejia3/obscura/internal/source"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/h2non/filetype"
)

// ArchiveName is the download name of every image batch response.
const ArchiveName = "blurred_images.zip"

// Redactor is the service surface the handlers call.
type Redactor interface {
	RedactArchive(ctx context.Context, req service.ImageRequest, upload *service.Upload, w io.Writer) (*service.ImageSummary, error)
	RedactVideo(ctx context.Context, req service.VideoRequest) (*service.VideoResult, error)
	RedactPDF(ctx context.Context, req service.PDFRequest) (*service.PDFResult, error)
	Health() service.Health
}

type Handler struct {
	svc      Redactor
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(svc Redactor, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, validate: validator.New(), logger: logger}
}

// VideoRequest is the JSON body of /blur-eyes and /blur-faces.
type VideoRequest struct {
	Type           string `json:"type" form:"type" validate:"required"`
	Path           string `json:"path" form:"path" validate:"required_without=URL"`
	URL            string `json:"url" form:"url" validate:"required_without=Path"`
	OutputFilename string `json:"output_filename" form:"output_filename"`
}

func (r VideoRequest) source() (source.Request, error) {
	kind, err := source.ParseKind(r.Type)
	if err != nil {
		return source.Request{}, err
	}
	loc := r.Path
	if loc == "" {
		loc = r.URL
	}
	return source.Request{Kind: kind, Location: loc}, nil
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return SuccessResponse(c, h.svc.Health())
}

// BlurEyesInPictures handles POST /blur-eyes-in-pictures.
func (h *Handler) BlurEyesInPictures(c *fiber.Ctx) error {
	return h.pictures(c, service.Eyes)
}

// BlurFacesInPictures handles POST /blur-faces-in-pictures.
func (h *Handler) BlurFacesInPictures(c *fiber.Ctx) error {
	return h.pictures(c, service.Faces)
}

// BlurPersonInPictures handles POST /blur-specific-person-in-pictures.
func (h *Handler) BlurPersonInPictures(c *fiber.Ctx) error {
	return h.pictures(c, service.Person)
}

func (h *Handler) pictures(c *fiber.Ctx, mode service.Mode) error {
	// An empty policy defers to the configured default.
	var policy pipeline.FailurePolicy
	if v := c.FormValue("failure_policy"); v != "" {
		var err error
		if policy, err = pipeline.ParsePolicy(v); err != nil {
			return apperr.New(apperr.MissingInput, "failure_policy", err)
		}
	}

	field := "zip_file"
	req := service.ImageRequest{Mode: mode, Policy: policy}
	if mode == service.Person {
		field = "target_zip_file"
		ref, closeRef, err := h.personRef(c, "reference_zip_file")
		if err != nil {
			return err
		}
		defer closeRef()
		req.Person = ref
	}

	upload, closeUpload, err := openUpload(c, field, "zip")
	if err != nil {
		return err
	}
	defer closeUpload()

	var buf bytes.Buffer
	sum, err := h.svc.RedactArchive(c.UserContext(), req, upload, &buf)
	if err != nil {
		return err
	}
	c.Set("X-Obscura-Processed", fmt.Sprint(sum.Processed))
	c.Set("X-Obscura-Failed", fmt.Sprint(sum.Failed))
	c.Attachment(ArchiveName)
	c.Type("zip")
	return c.Send(buf.Bytes())
}

// BlurEyes handles POST /blur-eyes.
func (h *Handler) BlurEyes(c *fiber.Ctx) error {
	return h.videoJSON(c, service.Eyes)
}

// BlurFaces handles POST /blur-faces.
func (h *Handler) BlurFaces(c *fiber.Ctx) error {
	return h.videoJSON(c, service.Faces)
}

func (h *Handler) videoJSON(c *fiber.Ctx, mode service.Mode) error {
	var body VideoRequest
	if err := c.BodyParser(&body); err != nil {
		return apperr.New(apperr.MissingInput, "parse request body", err)
	}
	return h.video(c, mode, body, service.PersonRef{})
}

// BlurPerson handles POST /blur-person (multipart form).
func (h *Handler) BlurPerson(c *fiber.Ctx) error {
	var body VideoRequest
	if err := c.BodyParser(&body); err != nil {
		return apperr.New(apperr.MissingInput, "parse form", err)
	}
	ref, closeRef, err := h.personRef(c, "zip_file")
	if err != nil {
		return err
	}
	defer closeRef()
	return h.video(c, service.Person, body, ref)
}

func (h *Handler) video(c *fiber.Ctx, mode service.Mode, body VideoRequest, ref service.PersonRef) error {
	if err := h.validate.Struct(body); err != nil {
		return validationError(err)
	}
	src, err := body.source()
	if err != nil {
		return err
	}
	res, err := h.svc.RedactVideo(c.UserContext(), service.VideoRequest{
		Mode:       mode,
		Source:     src,
		OutputName: body.OutputFilename,
		Person:     ref,
	})
	if err != nil {
		return err
	}
	return SuccessResponse(c, res)
}

// RedactPDF handles POST /redact-pdf.
func (h *Handler) RedactPDF(c *fiber.Ctx) error {
	instruction := strings.TrimSpace(c.FormValue("instruction"))
	if instruction == "" {
		return apperr.Newf(apperr.MissingInput, "instruction is required")
	}
	upload, closeUpload, err := openUpload(c, "pdf_file", "pdf")
	if err != nil {
		return err
	}
	defer closeUpload()

	data := make([]byte, upload.Size)
	if _, err := upload.Reader.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.DecodeFailure, "read pdf_file", err)
	}
	res, err := h.svc.RedactPDF(c.UserContext(), service.PDFRequest{Name: upload.Name, Data: data, Instruction: instruction})
	if err != nil {
		return err
	}
	c.Set("X-Obscura-Targets", fmt.Sprint(len(res.Targets)))
	c.Attachment(res.Name)
	c.Type("pdf")
	return c.Send(res.PDF)
}

// personRef reads the reference archive from field, or the identity form value.
func (h *Handler) personRef(c *fiber.Ctx, field string) (service.PersonRef, func(), error) {
	if name := strings.TrimSpace(c.FormValue("identity")); name != "" {
		return service.PersonRef{Identity: name}, func() {}, nil
	}
	upload, closeUpload, err := openUpload(c, field, "zip")
	if err != nil {
		return service.PersonRef{}, nil, err
	}
	return service.PersonRef{References: upload}, closeUpload, nil
}

// openUpload opens a multipart file and checks its content type by magic number.
func openUpload(c *fiber.Ctx, field, ext string) (*service.Upload, func(), error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, nil, apperr.Newf(apperr.MissingInput, "%s is required", field)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, apperr.New(apperr.DecodeFailure, "open "+field, err)
	}
	if err := sniff(f, ext); err != nil {
		f.Close()
		return nil, nil, apperr.New(apperr.DecodeFailure, field, err)
	}
	return &service.Upload{Name: fh.Filename, Reader: f, Size: fh.Size}, func() { f.Close() }, nil
}

func sniff(f multipart.File, ext string) error {
	head := make([]byte, 262)
	n, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if filetype.Is(head[:n], ext) {
		return nil
	}
	got := "unknown"
	if kind, _ := filetype.Match(head[:n]); kind != filetype.Unknown {
		got = kind.Extension
	}
	return fmt.Errorf("expected a %s file, got %s", ext, got)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.New(apperr.MissingInput, "validate request", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return apperr.Newf(apperr.MissingInput, "missing or invalid fields: %s", strings.Join(fields, ", "))
}
