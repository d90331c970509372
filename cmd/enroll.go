package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/obscura/internal/utils"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:         "enroll <name> <reference_dir>",
	Short:       "Store the faces in a directory of reference pictures as a named identity",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		name, dir := args[0], args[1]

		svc, done, err := newService(cmd.Context(), nil)
		if err != nil {
			utils.ShowError("Failed to start AI engine", err, nil)
			return err
		}
		defer done.Close()

		fmt.Fprintln(os.Stderr, "🔍 Embedding reference faces...")
		id, set, err := svc.Enroll(cmd.Context(), name, dir)
		if err != nil {
			utils.ShowError("Enrollment failed", err, nil)
			return err
		}

		fmt.Printf("✅ Enrolled '%s' (ID: %d) from %d face(s)\n", name, id, set.Len())
		if len(set.Skipped) > 0 {
			fmt.Printf("⚠️  No face found in: %s\n", strings.Join(set.Skipped, ", "))
		}
		return nil
	},
}

func init() {
	enrollCmd.Flags().Int("engines", 1, "Number of model workers")
	rootCmd.AddCommand(enrollCmd)
}
