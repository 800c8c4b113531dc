package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"feedigest/config"
	"feedigest/internal/digest"
)

func runCMD() *cobra.Command {
	var cfgPath string

	var run = &cobra.Command{
		Use:   "run",
		Short: "Execute one digest pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			metrics, _ := newMetrics(cfg)
			p, cleanup, err := buildPipeline(ctx, cfg, metrics)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := p.Run(ctx)
			if err != nil {
				return err
			}
			if result.Status == digest.RunFailed {
				return fmt.Errorf("run %s failed: no articles survived", result.ID)
			}
			return nil
		},
	}
	run.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return run
}
