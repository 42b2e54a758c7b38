package main

import (
	"fmt"

	"github.com/caseline/ledgermatch/internal/engine"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show matching statistics for the tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			tenant, err := requireTenant()
			if err != nil {
				return err
			}

			store, cleanup, err := getStorage()
			if err != nil {
				return err
			}
			defer cleanup()

			cfg, err := engineConfig()
			if err != nil {
				return err
			}

			stats := engine.NewWithConfig(store, cfg).MatchingStats(ctx, tenant)

			fmt.Printf("Matching statistics for tenant %s\n", tenant)
			fmt.Printf("  transactions:    %d\n", stats.TotalTransactions)
			fmt.Printf("  matched:         %d\n", stats.MatchedCount)
			fmt.Printf("  auto-confirmed:  %d\n", stats.AutoConfirmed)
			fmt.Printf("  confirmed:       %d\n", stats.Confirmed)
			fmt.Printf("  suggested:       %d\n", stats.Suggested)
			fmt.Printf("  rejected:        %d\n", stats.Rejected)
			fmt.Printf("  auto-match rate: %.1f%%\n", stats.AutoMatchRate*100)
			return nil
		},
	}
}
