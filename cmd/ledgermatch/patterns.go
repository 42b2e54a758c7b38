package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/caseline/ledgermatch/internal/engine"
	"github.com/caseline/ledgermatch/internal/model"
	"github.com/caseline/ledgermatch/internal/service"

	"github.com/spf13/cobra"
)

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patterns",
		Aliases: []string{"pattern"},
		Short:   "Inspect and maintain learned matching patterns",
	}

	cmd.AddCommand(patternsListCmd())
	cmd.AddCommand(patternsStatsCmd())
	cmd.AddCommand(patternsCleanupCmd())

	return cmd
}

func patternsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active patterns, strongest first",
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

			candType, _ := cmd.Flags().GetString("type")
			minStrength, _ := cmd.Flags().GetFloat64("min-strength")
			limit, _ := cmd.Flags().GetInt("limit")

			patterns, err := store.GetActivePatterns(ctx, tenant, service.PatternFilter{
				Type:        model.CandidateType(candType),
				MinStrength: minStrength,
				Limit:       limit,
			})
			if err != nil {
				return fmt.Errorf("failed to get patterns: %w", err)
			}

			if len(patterns) == 0 {
				fmt.Println("No active patterns.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "COUNTERPARTY\tTYPE\tSTRENGTH\tCONFIRMATIONS\tLAST SEEN")
			for _, p := range patterns {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%s\n",
					truncateString(p.CounterpartyKey, 30),
					p.CandidateType,
					p.Strength,
					p.ConfirmationCount,
					p.LastSeenAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("type", "", "filter by candidate type")
	cmd.Flags().Float64("min-strength", 0, "minimum pattern strength")
	cmd.Flags().Int("limit", 50, "maximum patterns to show")
	return cmd
}

func patternsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pattern store statistics",
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

			stats := engine.NewWithConfig(store, cfg).PatternStatistics(ctx, tenant)

			fmt.Printf("Pattern store for tenant %s\n", tenant)
			fmt.Printf("  active:            %d\n", stats.ActivePatterns)
			fmt.Printf("  inactive:          %d\n", stats.InactivePatterns)
			fmt.Printf("  confirmations:     %d\n", stats.TotalConfirmations)
			fmt.Printf("  average strength:  %.2f\n", stats.AverageStrength)
			fmt.Printf("  strongest:         %.2f\n", stats.MaxStrength)
			return nil
		},
	}
}

func patternsCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Enforce pattern retention bounds",
		Long: `Deactivate patterns with no recent reinforcement and trim the tenant's
active set to the configured ceiling, discarding the weakest first.`,
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

			maxAgeDays, _ := cmd.Flags().GetInt("max-age-days")
			maxPatterns, _ := cmd.Flags().GetInt("max-patterns")

			result := engine.NewWithConfig(store, cfg).CleanupPatterns(ctx, tenant, service.CleanupOptions{
				MaxAgeDays:  maxAgeDays,
				MaxPatterns: maxPatterns,
			})

			fmt.Printf("Cleanup complete: %d deactivated, %d removed, %d active remaining\n",
				result.Deactivated, result.Removed, result.Remaining)
			return nil
		},
	}

	cmd.Flags().Int("max-age-days", 180, "deactivate patterns not reinforced within this many days")
	cmd.Flags().Int("max-patterns", 1000, "maximum active patterns to retain per tenant")
	return cmd
}
