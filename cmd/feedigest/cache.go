package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"feedigest/config"
	"feedigest/internal/cache"
)

func cacheCMD() *cobra.Command {
	var cfgPath string
	var stage string

	var clear = &cobra.Command{
		Use:   "clear",
		Short: "Invalidate cached classifier decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if !cfg.Storage.Redis.Enabled() {
				return fmt.Errorf("cache clear needs storage.redis configured (the in-memory cache dies with the process)")
			}

			ctx := context.Background()
			store, err := cache.NewRedisStore(ctx, cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Clear(ctx, stage)
			if err != nil {
				return err
			}
			if stage == "" {
				fmt.Printf("cleared %d cached decisions\n", removed)
			} else {
				fmt.Printf("cleared %d cached %s decisions\n", removed, stage)
			}
			return nil
		},
	}
	clear.Flags().StringVar(&stage, "stage", "", "limit to one stage: relevance, summary, category or rank (default all)")

	var root = &cobra.Command{
		Use:   "cache",
		Short: "Decision cache maintenance",
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	root.AddCommand(clear)
	return root
}
