// Package archive unpacks uploaded zip archives and builds result archives.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/obscura/internal/apperr"
)

// DefaultMaxBytes caps the total uncompressed size of one archive.
const DefaultMaxBytes = 2 << 30

// ErrUnsafePath is returned for entries that would land outside the extraction root.
var ErrUnsafePath = errors.New("archive entry escapes extraction directory")

// Extract unpacks the zip file at src into dest and returns the extracted regular files, sorted.
func Extract(src, dest string, maxBytes int64) ([]string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, apperr.New(apperr.DecodeFailure, "open archive", err)
	}
	if zr == nil {
		return nil, apperr.New(apperr.DecodeFailure, "open archive", err)
	}
	defer zr.Close()
	return extract(&zr.Reader, dest, maxBytes)
}

// ExtractReader unpacks a zip held in r.
func ExtractReader(r io.ReaderAt, size int64, dest string, maxBytes int64) ([]string, error) {
	// ErrInsecurePath still returns a usable reader; entries are checked below.
	zr, err := zip.NewReader(r, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, apperr.New(apperr.DecodeFailure, "open archive", err)
	}
	return extract(zr, dest, maxBytes)
}

func extract(zr *zip.Reader, dest string, maxBytes int64) ([]string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.New(apperr.EncodeFailure, "create extraction directory", err)
	}

	var files []string
	var total int64
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		if strings.HasPrefix(name, "__MACOSX/") {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, apperr.New(apperr.DecodeFailure, f.Name, ErrUnsafePath)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, apperr.New(apperr.EncodeFailure, "create directory", err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}

		n, err := writeEntry(f, target, maxBytes-total)
		if err != nil {
			return nil, err
		}
		total += n
		files = append(files, target)
	}
	sort.Strings(files)
	return files, nil
}

func writeEntry(f *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, apperr.New(apperr.EncodeFailure, "create directory", err)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, apperr.New(apperr.DecodeFailure, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, apperr.New(apperr.EncodeFailure, f.Name, err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return n, apperr.New(apperr.DecodeFailure, f.Name, err)
	}
	if n > budget {
		return n, apperr.Newf(apperr.DecodeFailure, "archive exceeds %d uncompressed bytes", budget)
	}
	return n, nil
}

// Entry is one file of an output archive. Data wins over Path when both are set.
type Entry struct {
	Name string
	Path string
	Data []byte
}

// Write streams entries as a zip to w.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := addEntry(zw, e); err != nil {
			zw.Close()
			return apperr.New(apperr.EncodeFailure, "write archive", err)
		}
	}
	if err := zw.Close(); err != nil {
		return apperr.New(apperr.EncodeFailure, "finalise archive", err)
	}
	return nil
}

func addEntry(zw *zip.Writer, e Entry) error {
	dst, err := zw.Create(e.Name)
	if err != nil {
		return err
	}
	if e.Data != nil {
		_, err = dst.Write(e.Data)
		return err
	}
	src, err := os.Open(e.Path)
	if err != nil {
		return fmt.Errorf("%s: %w", e.Name, err)
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}
