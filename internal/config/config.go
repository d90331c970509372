// Package config loads obscura settings from defaults, an optional config file, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OBSCURA_SERVER_PORT.
const EnvPrefix = "OBSCURA"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Work     WorkConfig     `mapstructure:"work"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Video    VideoConfig    `mapstructure:"video"`
	Models   ModelsConfig   `mapstructure:"models"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Events   EventsConfig   `mapstructure:"events"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port        int `mapstructure:"port" validate:"min=1,max=65535"`
	BodyLimitMB int `mapstructure:"body_limit_mb" validate:"min=1"`
}

type WorkConfig struct {
	TempDir   string `mapstructure:"temp_dir"`
	OutputDir string `mapstructure:"output_dir" validate:"required"`
}

type PipelineConfig struct {
	FailurePolicy string `mapstructure:"failure_policy" validate:"oneof=abort skip"`
	Concurrency   int    `mapstructure:"concurrency" validate:"min=1"`
}

type VideoConfig struct {
	FPSMode     string  `mapstructure:"fps_mode" validate:"oneof=source fixed"`
	FixedFPS    float64 `mapstructure:"fixed_fps" validate:"gt=0"`
	Codec       string  `mapstructure:"codec" validate:"required"`
	MaxInFlight int     `mapstructure:"max_inflight" validate:"min=1"`
}

type ModelsConfig struct {
	Python         string        `mapstructure:"python" validate:"required"`
	Script         string        `mapstructure:"script" validate:"required"`
	Workers        int           `mapstructure:"workers" validate:"min=1"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Backend        string        `mapstructure:"backend" validate:"oneof=worker gocv"`
	CascadePath    string        `mapstructure:"cascade_path"`
	PrototxtPath   string        `mapstructure:"prototxt_path"`
	CaffemodelPath string        `mapstructure:"caffemodel_path"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type StorageConfig struct {
	Type string   `mapstructure:"type" validate:"oneof=local s3"`
	S3   S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PublicURL string `mapstructure:"public_url"`
}

type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	Output     string `mapstructure:"output" validate:"oneof=stdout stderr file both"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.body_limit_mb", 1024)

	v.SetDefault("work.temp_dir", os.TempDir())
	v.SetDefault("work.output_dir", "outputs")

	v.SetDefault("pipeline.failure_policy", "abort")
	v.SetDefault("pipeline.concurrency", 4)

	v.SetDefault("video.fps_mode", "source")
	v.SetDefault("video.fixed_fps", 30.0)
	v.SetDefault("video.codec", "mp4v")
	v.SetDefault("video.max_inflight", 16)

	v.SetDefault("models.python", "python3")
	v.SetDefault("models.script", "python/worker.py")
	v.SetDefault("models.workers", 2)
	v.SetDefault("models.timeout", "60s")
	v.SetDefault("models.backend", "worker")
	v.SetDefault("models.cascade_path", "models/haarcascade_eye.xml")
	v.SetDefault("models.prototxt_path", "models/deploy.prototxt")
	v.SetDefault("models.caffemodel_path", "models/res10_300x300_ssd_iter_140000_fp16.caffemodel")

	v.SetDefault("database.url", "")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("storage.s3.public_url", "")

	v.SetDefault("events.nats_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file", "logs/obscura.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

// NewViper returns a viper instance with defaults, environment overrides and,
// when configFile is set, the contents of that file. A .env file in the working
// directory is loaded into the environment first.
func NewViper(configFile string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is NewViper followed by Decode.
func Load(configFile string) (*Config, error) {
	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

func (c *Config) normalize() {
	c.Pipeline.FailurePolicy = strings.ToLower(strings.TrimSpace(c.Pipeline.FailurePolicy))
	c.Video.FPSMode = strings.ToLower(strings.TrimSpace(c.Video.FPSMode))
	c.Models.Backend = strings.ToLower(strings.TrimSpace(c.Models.Backend))
	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

var validate = validator.New()

// Validate checks enums and ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Storage.Type == "s3" && (c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "") {
		return errors.New("invalid configuration: storage.s3.endpoint and storage.s3.bucket are required for s3 storage")
	}
	if c.Models.Backend == "gocv" && (c.Models.CascadePath == "" || c.Models.PrototxtPath == "" || c.Models.CaffemodelPath == "") {
		return errors.New("invalid configuration: the gocv backend needs models.cascade_path, models.prototxt_path and models.caffemodel_path")
	}
	return nil
}
