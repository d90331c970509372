package cmd

import (
	"fmt"
	"image"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/obscura/internal/identity"
	"github.com/andresmejia3/obscura/internal/pipeline"
	"github.com/andresmejia3/obscura/internal/utils"
	"github.com/spf13/cobra"
)

var findThreshold float64

var findCmd = &cobra.Command{
	Use:         "find <image_path>",
	Short:       "Search the enrolled identities for the face in a picture",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd, args[0])
	},
}

func init() {
	findCmd.Flags().Float64VarP(&findThreshold, "threshold", "t", identity.DefaultTolerance, "Face matching threshold")
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, imagePath string) error {
	ctx := cmd.Context()
	if findThreshold <= 0 {
		err := fmt.Errorf("must be positive, got %f", findThreshold)
		utils.ShowError("Invalid match threshold", err, nil)
		return err
	}

	img, _, err := pipeline.Load(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	models, _, done, err := loadModels(ctx)
	if err != nil {
		utils.ShowError("Failed to start AI engine", err, nil)
		return err
	}
	defer done.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	boxes, err := models.Encoder.Locate(ctx, img)
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}
	if len(boxes) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	best := largest(boxes)
	if len(boxes) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(boxes))
	}

	embs, err := models.Encoder.Embed(ctx, img, []image.Rectangle{best})
	if err != nil || len(embs) == 0 {
		if err == nil {
			err = fmt.Errorf("encoder returned no embedding")
		}
		utils.ShowError("AI processing failed", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
	id, name, dist, err := DB.FindClosestIdentity(ctx, embs[0], findThreshold)
	if err != nil {
		utils.ShowError("Database search failed", err, nil)
		return err
	}
	if id == -1 {
		fmt.Println("❌ No match found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDISTANCE")
	fmt.Fprintln(w, "--\t----\t--------")
	fmt.Fprintf(w, "%d\t%s\t%.4f\n", id, name, dist)
	return w.Flush()
}

// largest returns the box with the greatest area.
func largest(boxes []image.Rectangle) image.Rectangle {
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Dx()*b.Dy() > best.Dx()*best.Dy() {
			best = b
		}
	}
	return best
}
