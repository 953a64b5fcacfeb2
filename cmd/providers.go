package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/timvw/park-patrol/internal/llm"
	"github.com/timvw/park-patrol/internal/orchestrator"
)

var (
	flagProbe        bool
	flagProbeTimeout time.Duration
)

// probeResult is the reachability of one backend.
type probeResult struct {
	Name      string `json:"name"`
	Model     string `json:"model,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// providersReport is the JSON output of the providers command.
type providersReport struct {
	Status orchestrator.Status `json:"status"`
	Probes []probeResult       `json:"probes,omitempty"`
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show which vision and decision providers are active",
	Long: `Show the requested and active provider for each stage. With --probe,
also check that the OCR engine, the local model server and the remote API
are reachable. Probes run in parallel and never spend completion tokens.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := overridesFromFlags(); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		report := providersReport{Status: a.orch.Status()}
		if flagProbe {
			report.Probes = a.probe(cmd.Context(), flagProbeTimeout)
		}

		out := cmd.OutOrStdout()
		if flagOutput == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STAGE\tREQUESTED\tACTIVE\tPROVIDER\tERROR")
		for _, row := range []struct {
			stage string
			st    orchestrator.CapabilityStatus
		}{
			{"vision", report.Status.Vision},
			{"decision", report.Status.Decision},
		} {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.stage, row.st.Requested, dash(string(row.st.Active)), dash(row.st.Provider), dash(row.st.Error))
		}
		_ = tw.Flush()
		if report.Status.LastSwitchError != "" {
			fmt.Fprintf(out, "\nlast switch failed: %s\n", report.Status.LastSwitchError)
		}

		if len(report.Probes) > 0 {
			fmt.Fprintln(out)
			tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BACKEND\tMODEL\tAVAILABLE\tLATENCY\tERROR")
			for _, p := range report.Probes {
				latency := "-"
				if p.Available {
					latency = fmt.Sprintf("%dms", p.LatencyMs)
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", p.Name, dash(p.Model), p.Available, latency, dash(p.Error))
			}
			_ = tw.Flush()
		}
		return nil
	},
}

func init() {
	providersCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "output format: text or json")
	providersCmd.Flags().BoolVar(&flagProbe, "probe", false, "check that each backend is reachable")
	providersCmd.Flags().DurationVar(&flagProbeTimeout, "probe-timeout", 10*time.Second, "timeout per probe")
	rootCmd.AddCommand(providersCmd)
}

// probe checks every configured backend concurrently. Results keep a fixed
// order regardless of completion order.
func (a *app) probe(ctx context.Context, timeout time.Duration) []probeResult {
	type target struct {
		name  string
		model string
		run   func(context.Context) error
	}
	var targets []target

	s := a.registry.Settings()
	if s.Recognizer != nil {
		targets = append(targets, target{name: "ocr/" + s.Recognizer.Name(), run: func(context.Context) error { return nil }})
	} else {
		targets = append(targets, target{name: "ocr", run: func(context.Context) error {
			return fmt.Errorf("no OCR engine installed (ocr: %s)", a.cfg.OCR)
		}})
	}

	if local := a.registry.LocalClient(); local != nil {
		targets = append(targets, target{name: "local/" + local.Provider(), model: local.Model(), run: pingFunc(local)})
	} else {
		targets = append(targets, target{name: "local", run: func(context.Context) error {
			return fmt.Errorf("no local model configured (local_model)")
		}})
	}

	remoteName := "remote/" + s.Backend
	if remote, err := a.registry.RemoteClient(a.prefs.Snapshot().Credential); err != nil {
		targets = append(targets, target{name: remoteName, model: a.registry.RemoteModel(), run: func(context.Context) error { return err }})
	} else {
		targets = append(targets, target{name: remoteName, model: remote.Model(), run: pingFunc(remote)})
	}

	results := make([]probeResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			start := time.Now()
			err := t.run(pctx)
			results[i] = probeResult{Name: t.name, Model: t.model, Available: err == nil}
			if err != nil {
				results[i].Error = firstLine(err.Error())
			} else {
				results[i].LatencyMs = time.Since(start).Milliseconds()
			}
			// A failed probe must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func pingFunc(c llm.Client) func(context.Context) error {
	p, ok := c.(llm.Pinger)
	if !ok {
		return func(context.Context) error { return nil }
	}
	return p.Ping
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
