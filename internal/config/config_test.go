package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "abort", cfg.Pipeline.FailurePolicy)
	assert.Equal(t, "source", cfg.Video.FPSMode)
	assert.Equal(t, 30.0, cfg.Video.FixedFPS)
	assert.Equal(t, "mp4v", cfg.Video.Codec)
	assert.Equal(t, 60*time.Second, cfg.Models.Timeout)
	assert.Equal(t, "worker", cfg.Models.Backend)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Events.NATSURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OBSCURA_SERVER_PORT", "9090")
	t.Setenv("OBSCURA_PIPELINE_FAILURE_POLICY", "SKIP")
	t.Setenv("OBSCURA_MODELS_TIMEOUT", "5s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "skip", cfg.Pipeline.FailurePolicy)
	assert.Equal(t, 5*time.Second, cfg.Models.Timeout)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obscura.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
video:
  fps_mode: fixed
  fixed_fps: 25
storage:
  type: s3
  s3:
    endpoint: localhost:9000
    bucket: redacted
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fixed", cfg.Video.FPSMode)
	assert.Equal(t, 25.0, cfg.Video.FixedFPS)
	assert.Equal(t, "redacted", cfg.Storage.S3.Bucket)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsBadEnums(t *testing.T) {
	tests := map[string]string{
		"OBSCURA_PIPELINE_FAILURE_POLICY": "retry",
		"OBSCURA_VIDEO_FPS_MODE":          "variable",
		"OBSCURA_MODELS_BACKEND":          "onnx",
		"OBSCURA_STORAGE_TYPE":            "gcs",
		"OBSCURA_LOG_FORMAT":              "xml",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load("")
			assert.ErrorContains(t, err, "invalid configuration")
		})
	}
}

func TestValidate_S3NeedsBucket(t *testing.T) {
	t.Setenv("OBSCURA_STORAGE_TYPE", "s3")
	_, err := Load("")
	assert.ErrorContains(t, err, "storage.s3.bucket")
}
