package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/obscura/internal/detect"
	"github.com/andresmejia3/obscura/internal/events"
	"github.com/andresmejia3/obscura/internal/pdftext"
	"github.com/andresmejia3/obscura/internal/pipeline"
	"github.com/andresmejia3/obscura/internal/service"
	"github.com/andresmejia3/obscura/internal/source"
	"github.com/andresmejia3/obscura/internal/storage"
	"github.com/andresmejia3/obscura/internal/utils"
	"github.com/andresmejia3/obscura/internal/video"
	"github.com/andresmejia3/obscura/internal/worker"
)

// downloadTimeout bounds a single remote video download.
const downloadTimeout = 30 * time.Minute

// closers releases resources in reverse order of acquisition.
type closers []func()

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// loadModels starts the model workers and, with the gocv backend, the in-process detectors.
func loadModels(ctx context.Context) (service.Models, service.Documents, closers, error) {
	var done closers
	fmt.Fprintln(os.Stderr, "🚀 Warming up engines...")

	pool, err := worker.NewPool(ctx, Cfg.Models.Workers, worker.Config{
		Python:      Cfg.Models.Python,
		Script:      Cfg.Models.Script,
		ReadTimeout: Cfg.Models.Timeout,
	}, Log)
	if err != nil {
		return service.Models{}, service.Documents{}, done, err
	}
	done = append(done, pool.Close)

	m := worker.NewModels(pool)
	docs := worker.NewDocuments(pool)
	models := service.Models{
		Eyes:    detect.NewCascade(m),
		Faces:   detect.NewClassifier(m),
		Encoder: m,
	}
	if Cfg.Models.Backend == "gocv" {
		cascade, net, closeNative, err := nativeModels()
		if err != nil {
			done.Close()
			return service.Models{}, service.Documents{}, nil, err
		}
		done = append(done, closeNative)
		models.Eyes = detect.NewCascade(cascade)
		models.Faces = detect.NewClassifier(net)
		Log.Info("using in-process detectors", "cascade", Cfg.Models.CascadePath, "model", Cfg.Models.CaffemodelPath)
	}

	documents := service.Documents{
		Extractor:  pdftext.WithFallback{Primary: pdftext.Native{}, Fallback: docs, Logger: Log},
		Recognizer: m,
		Editor:     docs,
	}
	return models, documents, done, nil
}

// newService assembles the redaction service from the loaded configuration.
// out overrides the configured storage when set.
func newService(ctx context.Context, out storage.Storage) (*service.Service, closers, error) {
	models, docs, done, err := loadModels(ctx)
	if err != nil {
		return nil, nil, err
	}

	if out == nil {
		out, err = openStorage(ctx)
		if err != nil {
			done.Close()
			return nil, nil, err
		}
	}

	pub, err := events.New(Cfg.Events.NATSURL, Log)
	if err != nil {
		done.Close()
		return nil, nil, err
	}
	done = append(done, func() { pub.Close() })

	policy, err := pipeline.ParsePolicy(Cfg.Pipeline.FailurePolicy)
	if err != nil {
		done.Close()
		return nil, nil, err
	}

	svc := &service.Service{
		Models:    models,
		Documents: docs,
		Fetcher:   source.NewFetcher(downloadTimeout, Log),
		Media:     service.FFmpeg{},
		Storage:   out,
		Events:    pub,
		Options: service.Options{
			TempDir:     Cfg.Work.TempDir,
			Policy:      policy,
			Concurrency: Cfg.Pipeline.Concurrency,
			FPSMode:     video.FPSMode(Cfg.Video.FPSMode),
			FixedFPS:    Cfg.Video.FixedFPS,
			Codec:       Cfg.Video.Codec,
			MaxInFlight: Cfg.Video.MaxInFlight,
		},
		Logger: Log,
	}
	if DB != nil {
		svc.Identities = DB
	}
	return svc, done, nil
}

func openStorage(ctx context.Context) (storage.Storage, error) {
	if Cfg.Storage.Type == "s3" {
		s3 := Cfg.Storage.S3
		return storage.NewS3(ctx, storage.S3Config{
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Bucket:    s3.Bucket,
			Region:    s3.Region,
			UseSSL:    s3.UseSSL,
			PublicURL: s3.PublicURL,
		})
	}
	return storage.NewLocal(Cfg.Work.OutputDir)
}

// requireVideoTools checks for the ffmpeg binaries before a video run.
func requireVideoTools() error {
	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		if err := utils.RequireTool(tool); err != nil {
			return err
		}
	}
	return nil
}
