package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagText     string
	flagTextFile string
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Decide from sign text you already have",
	Long: `Run only the decision stage on sign text given with --text or
--text-file ("-" reads stdin). Useful for testing decision providers
without a photo.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		text := flagText
		if flagTextFile != "" {
			data, err := readInput(flagTextFile)
			if err != nil {
				return err
			}
			text = string(data)
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("sign text is required (--text or --text-file)")
		}
		ov, err := overridesFromFlags()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := a.timeoutContext(cmd.Context())
		defer cancel()
		res, err := a.orch.Decide(ctx, text, ov)
		return printResult(cmd.OutOrStdout(), res, err)
	},
}

func init() {
	addOutputFlags(decideCmd)
	decideCmd.Flags().StringVar(&flagText, "text", "", "sign text")
	decideCmd.Flags().StringVar(&flagTextFile, "text-file", "", `file holding the sign text ("-" for stdin)`)
	rootCmd.AddCommand(decideCmd)
}
