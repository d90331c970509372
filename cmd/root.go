package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/obscura/internal/config"
	"github.com/andresmejia3/obscura/internal/logger"
	"github.com/andresmejia3/obscura/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// dbAnnotation marks how a command uses the identity database.
const dbAnnotation = "database"

const (
	dbRequired = "required"
	dbOptional = "optional"
)

var (
	// Cfg is the loaded configuration shared by subcommands
	Cfg *config.Config
	// Log is the process logger
	Log *slog.Logger
	// DB is the identity store, nil when the command does not use one
	DB *store.Store

	cfgFile string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "obscura",
	Short:   "Redact eyes, faces, specific people and named entities from pictures, videos and PDFs",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(cfgFile)
		if err != nil {
			return err
		}
		if err := bindFlags(v, cmd); err != nil {
			return err
		}
		if Cfg, err = config.Decode(v); err != nil {
			return err
		}

		Log, err = logger.Init(logger.Config{
			Level:      Cfg.Log.Level,
			Format:     Cfg.Log.Format,
			Output:     Cfg.Log.Output,
			FilePath:   Cfg.Log.File,
			MaxSize:    Cfg.Log.MaxSize,
			MaxBackups: Cfg.Log.MaxBackups,
			MaxAge:     Cfg.Log.MaxAge,
			Compress:   Cfg.Log.Compress,
		})
		if err != nil {
			return fmt.Errorf("failed to initialise logger: %w", err)
		}

		switch cmd.Annotations[dbAnnotation] {
		case dbRequired:
			if Cfg.Database.URL == "" {
				return fmt.Errorf("%s needs a database: set --db or OBSCURA_DATABASE_URL", cmd.Name())
			}
		case dbOptional:
			if Cfg.Database.URL == "" {
				Log.Info("no database configured, enrolled identities are unavailable")
				return nil
			}
		default:
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

// bindFlags lets explicitly set flags override file and environment values.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	bindings := map[string]string{
		"db":             "database.url",
		"log-level":      "log.level",
		"log-format":     "log.format",
		"failure-policy": "pipeline.failure_policy",
		"engines":        "models.workers",
		"concurrency":    "pipeline.concurrency",
		"fps-mode":       "video.fps_mode",
		"fps":            "video.fixed_fps",
		"port":           "server.port",
		"backend":        "models.backend",
	}
	for name, key := range bindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("db", "", "PostgreSQL connection string for the identity store")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text, json")
}
