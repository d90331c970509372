package cmd

import (
	"fmt"
	"time"

	"github.com/andresmejia3/obscura/internal/api"
	"github.com/andresmejia3/obscura/internal/utils"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Start the redaction HTTP API",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		if err := requireVideoTools(); err != nil {
			Log.Warn("video endpoints will fail", "error", err)
		}

		svc, done, err := newService(ctx, nil)
		if err != nil {
			utils.ShowError("Failed to start redaction service", err, nil)
			return err
		}
		defer done.Close()

		app := api.NewApp(svc, api.Config{BodyLimitMB: Cfg.Server.BodyLimitMB}, Log)
		addr := fmt.Sprintf(":%d", Cfg.Server.Port)

		errChan := make(chan error, 1)
		go func() {
			Log.Info("HTTP server listening", "addr", addr, "storage", svc.Health().Storage)
			errChan <- app.Listen(addr)
		}()

		select {
		case err := <-errChan:
			return err
		case <-ctx.Done():
			Log.Info("shutting down HTTP server")
			if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
				return err
			}
			return nil
		}
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP listen port")
	rootCmd.AddCommand(serveCmd)
}
