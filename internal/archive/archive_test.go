package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractReader_NestedEntries(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a.jpg":              "A",
		"photos/b.png":       "B",
		"__MACOSX/._a.jpg":   "junk",
		"photos/deep/c.jpeg": "C",
	})
	dest := t.TempDir()

	files, err := ExtractReader(bytes.NewReader(data), int64(len(data)), dest, 0)

	require.NoError(t, err)
	require.Len(t, files, 3)
	got, err := os.ReadFile(filepath.Join(dest, "photos", "deep", "c.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "C", string(got))
}

func TestExtractReader_RejectsZipSlip(t *testing.T) {
	data := buildZip(t, map[string]string{"../../evil.jpg": "x"})
	dest := t.TempDir()

	_, err := ExtractReader(bytes.NewReader(data), int64(len(data)), dest, 0)

	require.ErrorIs(t, err, ErrUnsafePath)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(dest)), "evil.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractReader_SizeLimit(t *testing.T) {
	data := buildZip(t, map[string]string{"big.png": string(make([]byte, 1024))})
	_, err := ExtractReader(bytes.NewReader(data), int64(len(data)), t.TempDir(), 100)
	assert.True(t, apperr.Is(err, apperr.DecodeFailure))
}

func TestExtractReader_Corrupt(t *testing.T) {
	data := []byte("definitely not a zip")
	_, err := ExtractReader(bytes.NewReader(data), int64(len(data)), t.TempDir(), 0)
	assert.True(t, apperr.Is(err, apperr.DecodeFailure))
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "x_blur.png")
	require.NoError(t, os.WriteFile(onDisk, []byte("png-bytes"), 0o644))

	var buf bytes.Buffer
	err := Write(&buf, []Entry{
		{Name: "x_blur.png", Path: onDisk},
		{Name: "errors.txt", Data: []byte("y.jpg: decode failed\n")},
	})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "x_blur.png", zr.File[0].Name)
	assert.Equal(t, "errors.txt", zr.File[1].Name)
}

func TestWrite_MissingFile(t *testing.T) {
	err := Write(&bytes.Buffer{}, []Entry{{Name: "gone.png", Path: "/nonexistent/gone.png"}})
	assert.True(t, apperr.Is(err, apperr.EncodeFailure))
}
