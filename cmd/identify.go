package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <course> <semester> <image_path>",
	Short: "Match the face in a still image against the enrolled class",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentify(cmd.Context(), args[0], args[1], args[2])
	},
}

func init() {
	identifyCmd.Flags().Float64P("threshold", "t", match.DefaultThreshold, "Maximum Euclidean distance for a match")
	identifyCmd.Flags().Int("downscale-width", 0, "Shrink the image to this width before recognition (0 keeps it)")
	configFlag(identifyCmd, "threshold", "threshold")
	configFlag(identifyCmd, "downscale-width", "downscale_width")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, course, semester, imagePath string) error {
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	w, gallery, err := startEngine(ctx, course, semester, false)
	if err != nil {
		return err
	}
	defer w.Close()

	if small, err := utils.Downscale(imgData, Conf.DownscaleWidth); err == nil {
		imgData = small
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := w.Embed(ctx, imgData)
	if len(faces) > 1 {
		fmt.Fprintf(os.Stderr, "⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}

	res := match.Matcher{Threshold: Conf.Threshold}.Classify(faces, err, gallery)
	switch res.Outcome {
	case match.Recognized:
		roll := ""
		if res.Identity.Roll != "" {
			roll = fmt.Sprintf(" [%s]", res.Identity.Roll)
		}
		fmt.Printf("✅ Found Match: %s%s (distance %.3f)\n", res.Identity.Label, roll, res.Distance)
	case match.Unknown:
		fmt.Printf("❌ No match. Nearest is %s at distance %.3f (threshold %.2f)\n", res.Identity.Label, res.Distance, Conf.Threshold)
	case match.NoFace:
		fmt.Println("❌ No faces detected in the provided image.")
	default:
		utils.ShowError("AI processing failed", res.Err, w.Cmd)
		return res.Err
	}
	return nil
}
