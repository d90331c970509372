// Package storage persists finished outputs to a local directory or an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/obscura/internal/apperr"
)

// Storage persists a finished file and returns where it ended up.
type Storage interface {
	Store(ctx context.Context, key, localPath string) (string, error)
}

// Key joins a request ID and a file name into an object key.
func Key(requestID, name string) string {
	return path.Join(requestID, normalize(name))
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// Local copies outputs under Dir.
type Local struct {
	Dir string
}

// NewLocal creates dir if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{Dir: dir}, nil
}

func (l *Local) Store(ctx context.Context, key, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest := filepath.Join(l.Dir, filepath.FromSlash(normalize(key)))
	if err := copyFile(localPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// File stores the output at a fixed path regardless of key. The CLI uses it
// to honour an explicit --output.
type File struct {
	Path string
}

func (f File) Store(ctx context.Context, _ string, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := copyFile(localPath, f.Path); err != nil {
		return "", err
	}
	return f.Path, nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return apperr.New(apperr.EncodeFailure, "create output directory", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return apperr.New(apperr.EncodeFailure, "open output", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return apperr.New(apperr.EncodeFailure, "create output", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return apperr.New(apperr.EncodeFailure, "write output", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return apperr.New(apperr.EncodeFailure, "close output", err)
	}
	return nil
}
