package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"crmsync/internal/app"
	"crmsync/internal/metrics"
	"crmsync/internal/utils"
)

// newDaemonCmd creates the daemon command
func newDaemonCmd(c *cli) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep the queue in sync until interrupted",
		Long: `Run in the foreground, probing HubSpot every sync.probe_interval. Queued
changes are pushed as soon as HubSpot becomes reachable and whenever new
changes are queued while online.

With --metrics-addr (or metrics.addr) Prometheus metrics are served on
/metrics and a JSON status on /status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if res, err := a.SyncManager().Reconcile(ctx); err != nil {
				utils.Warnf("Startup reconcile failed: %v", err)
			} else if res.Reset > 0 || len(res.Requeued) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d interrupted items, requeued %d orphaned records\n",
					res.Reset, len(res.Requeued))
			}

			if _, err := a.StartCoordinator(ctx); err != nil {
				return err
			}

			addr := metricsAddr
			if addr == "" {
				addr = a.Config().Metrics.Addr
			}
			var server *http.Server
			if addr != "" {
				server, err = serveMetrics(a, addr)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s/metrics\n", server.Addr)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "✓ Sync daemon running, press Ctrl+C to stop")
			<-ctx.Done()

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					utils.Warnf("Metrics server shutdown failed: %v", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stopping, waiting for the current pass to finish")
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")
	return cmd
}

// newMetricsHandler serves /metrics and the coordinator state on /status.
func newMetricsHandler(a *app.App) http.Handler {
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		sc := a.Coordinator()
		if sc == nil {
			http.Error(w, "sync coordinator not running", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sc.State())
	})
	return mux
}

// serveMetrics listens on addr and serves in the background. The returned
// server's Addr is the bound address.
func serveMetrics(a *app.App, addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           newMetricsHandler(a),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Warnf("Metrics server stopped: %v", err)
		}
	}()
	return server, nil
}
