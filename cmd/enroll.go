package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var enrollRebuild bool

var enrollCmd = &cobra.Command{
	Use:   "enroll <course> <semester>",
	Short: "Embed the reference images of a course and refresh the cache",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		w, gallery, err := startEngine(cmd.Context(), args[0], args[1], enrollRebuild)
		if err != nil {
			return err
		}
		defer w.Close()

		out := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(out, "LABEL\tROLL\tDIM")
		fmt.Fprintln(out, "-----\t----\t---")
		for _, id := range gallery.Identities() {
			roll := id.Roll
			if roll == "" {
				roll = "-"
			}
			fmt.Fprintf(out, "%s\t%s\t%d\n", id.Label, roll, len(id.Embedding))
		}
		return out.Flush()
	},
}

func init() {
	enrollCmd.Flags().BoolVar(&enrollRebuild, "rebuild", false, "Ignore the embedding cache and re-embed every reference image")
	rootCmd.AddCommand(enrollCmd)
}
