package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/archive"
	"github.com/andresmejia3/obscura/internal/detect"
	"github.com/andresmejia3/obscura/internal/identity"
	"github.com/andresmejia3/obscura/internal/pipeline"
	"github.com/andresmejia3/obscura/internal/store"
)

// Upload is a client-supplied file.
type Upload struct {
	Name   string
	Reader io.ReaderAt
	Size   int64
}

// PersonRef names who to redact in person mode: either a reference archive or an enrolled identity.
type PersonRef struct {
	References *Upload
	Identity   string
	// Dir is a local directory of reference images, used by the CLI.
	Dir string
}

func (p PersonRef) empty() bool {
	return p.References == nil && p.Identity == "" && p.Dir == ""
}

// detector returns the detector for mode. Person mode builds its known set
// inside ws from the reference archive, directory or stored identity.
func (s *Service) detector(ctx context.Context, mode Mode, ref PersonRef, ws *workspace) (detect.Detector, error) {
	switch mode {
	case Eyes:
		if s.Models.Eyes == nil {
			return nil, apperr.Newf(apperr.ModelFailure, "eye detector is not loaded")
		}
		return s.Models.Eyes, nil
	case Faces:
		if s.Models.Faces == nil {
			return nil, apperr.Newf(apperr.ModelFailure, "face detector is not loaded")
		}
		return s.Models.Faces, nil
	case Person:
		if s.Models.Encoder == nil {
			return nil, apperr.Newf(apperr.ModelFailure, "face encoder is not loaded")
		}
		known, err := s.knownSet(ctx, ref, ws)
		if err != nil {
			return nil, err
		}
		return detect.NewIdentity(s.Models.Encoder, known), nil
	}
	return nil, apperr.Newf(apperr.MissingInput, "unknown redaction mode %q", mode)
}

func (s *Service) knownSet(ctx context.Context, ref PersonRef, ws *workspace) (*identity.ReferenceSet, error) {
	log := s.log(ctx)
	if ref.empty() {
		return nil, apperr.Newf(apperr.MissingInput, "reference images or an identity name are required")
	}

	if ref.Identity != "" && ref.References == nil && ref.Dir == "" {
		if s.Identities == nil {
			return nil, apperr.Newf(apperr.MissingInput, "identity %q requested but no identity store is configured", ref.Identity)
		}
		embs, err := s.Identities.IdentityEmbeddings(ctx, ref.Identity)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Newf(apperr.MissingInput, "unknown identity %q", ref.Identity)
		}
		if err != nil {
			return nil, apperr.New(apperr.ModelFailure, "load identity", err)
		}
		log.Info("using enrolled identity", "identity", ref.Identity, "embeddings", len(embs))
		return &identity.ReferenceSet{Embeddings: embs}, nil
	}

	dir := ref.Dir
	var files []string
	if ref.References != nil {
		dir = filepath.Join(ws.Dir, "references")
		var err error
		files, err = archive.ExtractReader(ref.References.Reader, ref.References.Size, dir, s.maxArchiveBytes())
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		files, err = listFiles(dir)
		if err != nil {
			return nil, err
		}
	}

	refs, err := loadReferences(files)
	if err != nil {
		return nil, err
	}
	set, err := identity.BuildReferenceSet(ctx, s.Models.Encoder, refs, log)
	if err != nil {
		return nil, apperr.New(apperr.ModelFailure, "build reference set", err)
	}
	if set.Len() == 0 {
		log.Warn("no faces found in reference images, nothing will be redacted", "images", len(refs))
	}
	return set, nil
}

func loadReferences(files []string) ([]identity.Reference, error) {
	var refs []identity.Reference
	for _, f := range pipeline.FilterImages(files) {
		img, _, err := pipeline.Load(f)
		if err != nil {
			return nil, err
		}
		refs = append(refs, identity.Reference{Name: filepath.Base(f), Image: img})
	}
	return refs, nil
}

// Enroll stores the reference embeddings found in dir under name.
func (s *Service) Enroll(ctx context.Context, name, dir string) (int, *identity.ReferenceSet, error) {
	if name == "" {
		return 0, nil, apperr.Newf(apperr.MissingInput, "identity name is required")
	}
	if s.Identities == nil {
		return 0, nil, apperr.Newf(apperr.MissingInput, "no identity store is configured")
	}
	if s.Models.Encoder == nil {
		return 0, nil, apperr.Newf(apperr.ModelFailure, "face encoder is not loaded")
	}
	set, err := s.knownSet(ctx, PersonRef{Dir: dir}, nil)
	if err != nil {
		return 0, nil, err
	}
	if set.Len() == 0 {
		return 0, set, apperr.Newf(apperr.DecodeFailure, "no faces found in %s", dir)
	}
	id, err := s.Identities.CreateIdentity(ctx, name, set.Embeddings)
	if err != nil {
		return 0, set, apperr.New(apperr.EncodeFailure, "store identity", err)
	}
	return id, set, nil
}
