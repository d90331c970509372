package cmd

import (
	"fmt"
	"strconv"

	"github.com/andresmejia3/obscura/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <identity_id> <name>",
	Short:       "Rename an enrolled identity",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			utils.Die("Invalid identity ID", err, nil)
		}
		name := args[1]

		if err := DB.RenameIdentity(cmd.Context(), id, name); err != nil {
			utils.Die("Failed to label identity", err, nil)
		}

		fmt.Printf("✅ Identity %d labeled as '%s'\n", id, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
