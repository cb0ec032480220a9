package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/client"
	"github.com/meszmate/mailcore/client/pool"
)

// idleWindow is the longest single IDLE; servers may drop a client that has
// been idle for 30 minutes.
const idleWindow = 29 * time.Minute

func newIdleCmd(a *app) *cobra.Command {
	var (
		duration    time.Duration
		follow      bool
		metricsAddr string
		backoff     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "idle MAILBOX",
		Short: "Watch a mailbox for new and expunged messages",
		Long: `Idle selects MAILBOX and prints EXISTS and EXPUNGE notifications as they
arrive. With --follow it keeps watching, re-issuing IDLE periodically and
reconnecting after a lost connection, until interrupted.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if metricsAddr != "" {
				stop, err := a.serveMetrics(metricsAddr)
				if err != nil {
					return err
				}
				defer stop()
			}

			mailbox := args[0]
			p := pool.New(1, func(ctx context.Context) (*client.Client, error) {
				c, err := a.dialIMAP(ctx)
				if err != nil {
					return nil, err
				}
				if _, err := c.SelectMailbox(ctx, mailbox); err != nil {
					_ = c.Close()
					return nil, err
				}
				return c, nil
			})
			defer p.Close()

			onEvent := func(ev mailcore.IdleEvent) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d\n", time.Now().Format(time.RFC3339), ev.Kind, ev.Num)
			}
			window := duration
			if follow && (window == 0 || window > idleWindow) {
				window = idleWindow
			}

			for {
				c, err := p.Get(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				err = c.Idle(ctx, onEvent, window)
				p.Put(c)

				switch {
				case ctx.Err() != nil:
					return nil
				case !follow:
					return err
				case errors.Is(err, mailcore.ErrClosed) || mailcore.IsTimeout(err):
					a.logger.Warn("connection lost, reconnecting", "error", err, "backoff", backoff)
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(backoff):
					}
				case err != nil:
					return err
				}
			}
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 waits until interrupted)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep watching and reconnect after errors")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().DurationVar(&backoff, "reconnect-delay", 5*time.Second, "Delay before reconnecting")
	return cmd
}

// serveMetrics exposes the command metrics on addr/metrics until stop is
// called.
func (a *app) serveMetrics(addr string) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
