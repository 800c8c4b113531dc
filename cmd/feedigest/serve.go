package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"feedigest/config"
	"feedigest/internal/sched"
	"feedigest/internal/telemetry"
)

func serveCMD() *cobra.Command {
	var cfgPath string

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the digest pipeline on the configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := telemetry.NewLogger("SERVE")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics, reg := newMetrics(cfg)
			if reg != nil {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv := &http.Server{
					Addr:    fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
					Handler: mux,
				}
				go func() {
					logger.Printf("metrics on %s/metrics", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Printf("metrics server: %v", err)
					}
				}()
				defer srv.Close()
			}

			scheduler, err := sched.New(cfg.Schedule)
			if err != nil {
				return err
			}
			logger.Printf("scheduling runs: %s", cfg.Schedule)

			err = scheduler.Run(ctx, func(ctx context.Context) error {
				p, cleanup, err := buildPipeline(ctx, cfg, metrics)
				if err != nil {
					return err
				}
				defer cleanup()
				_, err = p.Run(ctx)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return serve
}
