package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/obscura/internal/pipeline"
	"github.com/andresmejia3/obscura/internal/redact"
	"github.com/andresmejia3/obscura/internal/service"
	"github.com/andresmejia3/obscura/internal/source"
	"github.com/andresmejia3/obscura/internal/storage"
	"github.com/andresmejia3/obscura/internal/utils"
	"github.com/andresmejia3/obscura/internal/video"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	redactInput    string
	redactOutput   string
	redactMode     string
	redactStyle    string
	redactStrength int
	redactRefs     string
	redactIdentity string
)

var redactCmd = &cobra.Command{
	Use:   "redact",
	Short: "Redact eyes, faces or a specific person in a video or a directory of pictures",
	Long: `Redact a single video file or every picture under a directory.

Videos are written to --output. Directories are redacted into the --output
directory, one <name>_blur<ext> per picture.`,
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		mode, style, err := validateRedactFlags()
		if err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}

		info, err := os.Stat(redactInput)
		if err != nil {
			utils.ShowError("Unable to access input", err, nil)
			return err
		}

		req := redactRequest{
			mode:     mode,
			redactor: redact.New(style, redactStrength),
			person:   service.PersonRef{Dir: redactRefs, Identity: redactIdentity},
		}
		if info.IsDir() {
			return runRedactDirectory(cmd, req)
		}
		return runRedactVideo(cmd, req)
	},
}

func init() {
	redactCmd.Flags().StringVarP(&redactInput, "input", "i", "", "Path to an input video or a directory of pictures")
	redactCmd.Flags().StringVarP(&redactOutput, "output", "o", "", "Output video path or output directory")
	redactCmd.Flags().StringVarP(&redactMode, "mode", "m", "faces", "Redaction mode: eyes, faces, person")
	redactCmd.Flags().StringVar(&redactStyle, "style", "gauss", "Redaction style: gauss, pixel, black, secure")
	redactCmd.Flags().IntVarP(&redactStrength, "strength", "s", 15, "Pixelation block size (pixel style only)")
	redactCmd.Flags().StringVar(&redactRefs, "refs", "", "Directory of reference pictures of the person to redact (person mode)")
	redactCmd.Flags().StringVar(&redactIdentity, "identity", "", "Enrolled identity to redact (person mode)")

	redactCmd.Flags().String("failure-policy", "abort", "What a failing picture does to the batch: abort, skip")
	redactCmd.Flags().IntP("engines", "e", 2, "Number of model workers")
	redactCmd.Flags().Int("concurrency", 4, "Pictures processed in parallel")
	redactCmd.Flags().String("fps-mode", "source", "Output frame rate: source, fixed")
	redactCmd.Flags().Float64("fps", 30, "Output frame rate when --fps-mode=fixed")
	redactCmd.Flags().String("backend", "worker", "Detector backend: worker, gocv")

	redactCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(redactCmd)
}

type redactRequest struct {
	mode     service.Mode
	redactor *redact.Redactor
	person   service.PersonRef
}

func validateRedactFlags() (service.Mode, redact.Style, error) {
	mode, err := service.ParseMode(redactMode)
	if err != nil {
		return "", "", err
	}
	style, err := redact.ParseStyle(redactStyle)
	if err != nil {
		return "", "", err
	}
	if mode == service.Person && redactRefs == "" && redactIdentity == "" {
		return "", "", fmt.Errorf("person mode requires --refs or --identity")
	}
	if redactIdentity != "" && DB == nil {
		return "", "", fmt.Errorf("--identity requires a database: set --db or OBSCURA_DATABASE_URL")
	}
	if redactStrength < 1 {
		redactStrength = 1
	}

	// Safety Check: Prevent overwriting input which causes corruption
	if redactOutput != "" {
		inAbs, _ := filepath.Abs(redactInput)
		outAbs, _ := filepath.Abs(redactOutput)
		if inAbs == outAbs {
			return "", "", fmt.Errorf("input and output paths must be different to prevent file corruption")
		}
	}
	return mode, style, nil
}

func runRedactDirectory(cmd *cobra.Command, req redactRequest) error {
	ctx := cmd.Context()
	outDir := redactOutput
	if outDir == "" {
		outDir = Cfg.Work.OutputDir
	}

	total := 0
	filepath.WalkDir(redactInput, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && pipeline.IsImage(path) {
			total++
		}
		return nil
	})

	svc, done, err := newService(ctx, nil)
	if err != nil {
		utils.ShowError("Failed to start AI engine", err, nil)
		return err
	}
	defer done.Close()

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Redacting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	sum, err := svc.RedactDirectory(ctx, service.ImageRequest{
		Mode:     req.mode,
		Person:   req.person,
		Redactor: req.redactor,
		Progress: func(pipeline.RedactionResult) { bar.Add(1) },
	}, redactInput, outDir)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		utils.ShowError("Redaction failed", err, nil)
		return err
	}

	fmt.Printf("✅ Redacted %d picture(s) into %s\n", sum.Processed, outDir)
	if sum.Failed > 0 {
		fmt.Printf("⚠️  %d picture(s) skipped, see %s\n", sum.Failed, filepath.Join(outDir, service.ErrorNoteName))
	}
	return nil
}

func runRedactVideo(cmd *cobra.Command, req redactRequest) error {
	ctx := cmd.Context()
	if err := requireVideoTools(); err != nil {
		utils.ShowError("Missing video tooling", err, nil)
		return err
	}

	output := redactOutput
	if output == "" {
		output = service.DefaultVideoName(req.mode)
	}

	svc, done, err := newService(ctx, storage.File{Path: output})
	if err != nil {
		utils.ShowError("Failed to start AI engine", err, nil)
		return err
	}
	defer done.Close()

	var bar *progressbar.ProgressBar
	res, err := svc.RedactVideo(ctx, service.VideoRequest{
		Mode:       req.mode,
		Source:     source.Request{Kind: source.Local, Location: redactInput},
		OutputName: filepath.Base(output),
		Person:     req.person,
		Redactor:   req.redactor,
		Started: func(info *video.Info) {
			total := int64(info.Frames)
			if total <= 0 {
				total = int64(video.CountFrames(ctx, redactInput))
			}
			if total <= 0 {
				total = -1 // Trigger spinner mode
			}
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetDescription("Redacting"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
			)
		},
		Progress: func(written int) {
			if bar != nil {
				bar.Set(written)
			}
		},
	})
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		utils.ShowError("Redaction failed", err, nil)
		return err
	}

	fmt.Printf("✅ %s: %s (%d frames, %d regions, %.2f fps)\n", res.Message, res.OutputFile, res.Frames, res.Regions, res.FPS)
	return nil
}
