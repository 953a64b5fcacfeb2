package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/orchestrator"
	"github.com/timvw/park-patrol/internal/parkcontext"
	"github.com/timvw/park-patrol/internal/tui"
)

var (
	flagOutput string
	flagPlain  bool
	flagTheme  string
	flagAt     string
)

var checkCmd = &cobra.Command{
	Use:   "check <image>",
	Short: "Decide whether you can park, from a photo of the sign",
	Long: `Read a parking sign photo and decide whether you may park there.

The image is read by the vision provider, combined with the current time,
your vehicle type and the holiday calendar, and interpreted by the decision
provider. Use "-" to read the image from stdin.

On a terminal the check shows live progress and a result card. Use
--output json for machine-readable output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := readInput(args[0])
		if err != nil {
			return err
		}
		ov, err := overridesFromFlags()
		if err != nil {
			return err
		}

		var progress *tui.Progress
		var extra []orchestrator.Option
		interactive := flagOutput == "text" && !flagPlain && isatty.IsTerminal(os.Stdout.Fd())
		if interactive {
			progress = tui.NewProgress()
			extra = append(extra, orchestrator.WithObserver(progress))
		}

		a, err := newApp(cmd.Context(), cfg, extra...)
		if err != nil {
			return err
		}
		defer a.close()

		check := func(ctx context.Context) (*orchestrator.Result, error) {
			ctx, cancel := a.timeoutContext(ctx)
			defer cancel()
			return a.orch.Run(ctx, orchestrator.Request{Image: img, Overrides: ov})
		}

		if interactive {
			view := &tui.View{Progress: progress, ThemeName: flagTheme}
			_, err := view.Run(cmd.Context(), check)
			return err
		}
		res, err := check(cmd.Context())
		return printResult(cmd.OutOrStdout(), res, err)
	},
}

func init() {
	addOutputFlags(checkCmd)
	checkCmd.Flags().BoolVar(&flagPlain, "plain", false, "print the result card without live progress")
	checkCmd.Flags().StringVar(&flagTheme, "theme", "dark", "color theme: dark, light")
	rootCmd.AddCommand(checkCmd)
}

// addOutputFlags registers the flags shared by check, extract and decide.
func addOutputFlags(c *cobra.Command) {
	c.Flags().StringVarP(&flagOutput, "output", "o", "text", "output format: text or json")
	c.Flags().StringVar(&flagAt, "at", "", "evaluate at this RFC 3339 time instead of now")
}

// overridesFromFlags builds per-request context overrides.
func overridesFromFlags() (parkcontext.Overrides, error) {
	var ov parkcontext.Overrides
	switch flagOutput {
	case "text", "json":
	default:
		return ov, fmt.Errorf("unsupported output %q (supported: text, json)", flagOutput)
	}
	if flagAt != "" {
		t, err := time.Parse(time.RFC3339, flagAt)
		if err != nil {
			return ov, fmt.Errorf("--at must be RFC 3339, e.g. 2025-03-10T08:30:00-08:00: %w", err)
		}
		ov.At = t
	}
	return ov, nil
}

// printResult writes a result, or the failure, in the selected format.
// A failure is still returned so the exit code is non-zero.
func printResult(w io.Writer, res *orchestrator.Result, err error) error {
	theme := tui.ThemeByName(flagTheme)
	if flagOutput == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err != nil {
			_ = enc.Encode(map[string]string{
				"error":   string(model.KindOf(err)),
				"message": err.Error(),
			})
			return err
		}
		return enc.Encode(res)
	}
	if err != nil {
		fmt.Fprintln(w, tui.ErrorCard(err, theme, 0))
		return err
	}
	fmt.Fprintln(w, tui.Card(res, theme, 0))
	return nil
}
