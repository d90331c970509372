package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/obscura/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
	resetTemp  bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (Database, Outputs, Scratch Directories)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles && !resetTemp {
			resetDB = true
			resetFiles = true
			resetTemp = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if DB == nil {
				fmt.Println("⏭️  No database configured, skipping.")
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all outputs in %s?", Cfg.Work.OutputDir)) {
				fmt.Println("🗑️  Clearing Output Files...")
				removeDir(Cfg.Work.OutputDir)
			}
		}

		if resetTemp {
			leftovers, _ := filepath.Glob(filepath.Join(Cfg.Work.TempDir, "obscura-*"))
			if len(leftovers) > 0 && confirm(reader, fmt.Sprintf("⚠️  Delete %d leftover scratch director(ies)?", len(leftovers))) {
				fmt.Println("🗑️  Clearing Scratch Directories...")
				for _, dir := range leftovers {
					removeDir(dir)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "identities", false, "Clear the identity database")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear the local output directory")
	resetCmd.Flags().BoolVar(&resetTemp, "temp", false, "Clear scratch directories left by interrupted requests")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
