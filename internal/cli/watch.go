package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rare-Specie/authkeeper"
	"github.com/Rare-Specie/authkeeper/metrics/export/prometheus"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

func newWatchCmd(f *rootFlags) *cobra.Command {
	var duration time.Duration
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and print state changes",
		Long:  "Run the session monitor in the foreground: the credential is extended before it expires, the profile is refetched periodically and every state change is printed as a JSON line. Stops on interrupt or after --duration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withSession(cmd, func(ctx context.Context, s *session) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}

				if metricsAddr != "" {
					srv, err := serveMetrics(metricsAddr, prometheus.NewPrometheusExporter(s.ctrl).Handler())
					if err != nil {
						return err
					}
					defer srv.Close()
					s.logger.Info("authkeeper: serving metrics", "addr", metricsAddr)
				}

				events, cancel := s.ctrl.Subscribe(64)
				defer cancel()

				if s.ctrl.HasStoredToken() && !s.ctrl.Init(ctx) {
					return errors.New("stored session is no longer valid, please log in again")
				}
				s.ctrl.StartMonitor()
				defer s.ctrl.StopMonitor()

				sink := authkeeper.NewJSONWriterSink(s.out)
				for {
					select {
					case <-ctx.Done():
						s.ctrl.BeforeUnload(context.WithoutCancel(ctx))
						return nil
					case ev, ok := <-events:
						if !ok {
							return nil
						}
						sink.Emit(ctx, ev)
						if err := sink.Err(); err != nil {
							return err
						}
					}
				}
			})
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func serveMetrics(addr string, h http.Handler) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", h)
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
