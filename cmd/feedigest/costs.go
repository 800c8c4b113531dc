package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"feedigest/config"
	"feedigest/internal/costs"
)

func costsCMD() *cobra.Command {
	var cfgPath string
	var days int
	var groupBy string

	var cmd = &cobra.Command{
		Use:   "costs",
		Short: "Report classifier spend from the cost ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if !cfg.Storage.Postgres.Enabled() {
				return fmt.Errorf("cost reports need storage.postgres configured")
			}

			ctx := context.Background()
			sink, err := costs.NewPostgresSink(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer sink.Close()

			lines, err := sink.Summary(ctx, days, costs.GroupBy(groupBy))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "%s\tcalls\ttokens\tcost\n", groupBy)
			var total float64
			for _, line := range lines {
				fmt.Fprintf(w, "%s\t%d\t%d\t$%.4f\n", line.Key, line.Calls, line.Tokens, line.Cost)
				total += line.Cost
			}
			fmt.Fprintf(w, "total\t\t\t$%.4f\n", total)
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	cmd.Flags().IntVar(&days, "days", 7, "report window in days")
	cmd.Flags().StringVar(&groupBy, "group-by", "agent", "agent or day")
	return cmd
}
