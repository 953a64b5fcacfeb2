package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>",
	Short: "Read the text of a parking sign without deciding",
	Long: `Run only the vision stage: print the sign text and the extraction
confidence. Use "-" to read the image from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := readInput(args[0])
		if err != nil {
			return err
		}
		if _, err := overridesFromFlags(); err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := a.timeoutContext(cmd.Context())
		defer cancel()
		res, err := a.orch.Extract(ctx, img)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if flagOutput == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Extraction)
		}
		fmt.Fprintln(out, res.Extraction.Text)
		fmt.Fprintf(out, "\nconfidence: %s (%s)\n", res.Extraction.Confidence, res.VisionProvider)
		return nil
	},
}

func init() {
	addOutputFlags(extractCmd)
	rootCmd.AddCommand(extractCmd)
}
