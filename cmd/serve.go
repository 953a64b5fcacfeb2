package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/timvw/park-patrol/internal/server"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve parking checks over HTTP",
	Long: `Start an HTTP server exposing parking checks:

  POST /v1/decisions        image body or multipart field "image"
  POST /v1/decisions/text   {"sign_text": "..."}
  POST /v1/extractions      image body or multipart field "image"
  GET  /v1/providers        requested and active providers
  PUT  /v1/providers        {"vision": "local", "decision": "remote"}
  GET  /v1/history          recent checks
  GET  /healthz
  GET  /metrics             Prometheus metrics

With --prefs, edits to the preferences file switch providers without a
restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("listen") {
			cfg.Listen = flagListen
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		srv := server.New(cfg.Listen, a.orch,
			server.WithLogger(logger),
			server.WithHistory(a.history),
			server.WithMetrics(server.NewMetrics(reg), reg),
			server.WithRequestTimeout(cfg.TimeoutDuration),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			// Bind providers at startup and report what was bound.
			st := a.orch.Status()
			logger.Info("providers bound", "vision", st.Vision, "decision", st.Decision)
			if snap := a.prefs.Snapshot(); snap.NeedsCredential() && !snap.HasCredential() {
				logger.Warn("remote provider selected but no API key is set")
			}
			return nil
		})
		err = g.Wait()
		logger.Info("server stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}
