package main

import (
	"fmt"

	"github.com/caseline/ledgermatch/internal/engine"
	"github.com/caseline/ledgermatch/internal/service"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [transaction-id...]",
		Short: "Match a batch of transactions",
		Long: `Evaluate a set of transactions against their candidates. With no
arguments, all unmatched transactions for the tenant are evaluated (bounded
by --limit). Each transaction is processed independently: one failure never
aborts the batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			apply, _ := cmd.Flags().GetBool("apply")
			appliedBy, _ := cmd.Flags().GetString("by")
			limit, _ := cmd.Flags().GetInt("limit")

			ids := args
			if len(ids) == 0 {
				transactions, err := store.GetTransactions(ctx, service.TransactionFilter{
					TenantID:      tenant,
					UnmatchedOnly: true,
					Limit:         limit,
				})
				if err != nil {
					return fmt.Errorf("failed to list unmatched transactions: %w", err)
				}
				for _, txn := range transactions {
					ids = append(ids, txn.ID)
				}
			}

			if len(ids) == 0 {
				fmt.Println("No transactions to match.")
				return nil
			}

			eng := engine.NewWithConfig(store, cfg)
			opts := engine.FindOptions{AutoApply: apply, AppliedBy: appliedBy}

			bar := progressbar.Default(int64(len(ids)), "matching")
			totals := engine.BatchStats{}

			// The engine bounds each batch; larger runs go through in chunks.
			for start := 0; start < len(ids); start += cfg.MaxBatchSize {
				end := start + cfg.MaxBatchSize
				if end > len(ids) {
					end = len(ids)
				}

				report, err := eng.BatchMatch(ctx, tenant, ids[start:end], opts)
				if err != nil {
					return fmt.Errorf("batch failed: %w", err)
				}

				totals.Total += report.Stats.Total
				totals.AutoMatched += report.Stats.AutoMatched
				totals.Suggested += report.Stats.Suggested
				totals.Unmatched += report.Stats.Unmatched
				totals.Failed += report.Stats.Failed
				totals.CandidatesEvaluated += report.Stats.CandidatesEvaluated

				for i := range report.Items {
					if report.Items[i].Error != "" {
						fmt.Printf("  %s: %s\n", report.Items[i].TransactionID, report.Items[i].Error)
					}
				}
				_ = bar.Add(end - start)
			}
			_ = bar.Finish()

			if totals.Total > 0 {
				totals.AutoMatchRate = float64(totals.AutoMatched) / float64(totals.Total)
			}

			fmt.Printf("\nEvaluated %d transactions (%d candidates)\n",
				totals.Total, totals.CandidatesEvaluated)
			fmt.Printf("  auto-matched: %d (%.0f%%)\n", totals.AutoMatched, totals.AutoMatchRate*100)
			fmt.Printf("  suggested:    %d\n", totals.Suggested)
			fmt.Printf("  unmatched:    %d\n", totals.Unmatched)
			if totals.Failed > 0 {
				fmt.Printf("  failed:       %d\n", totals.Failed)
			}
			return nil
		},
	}

	cmd.Flags().Bool("apply", false, "apply auto-match decisions")
	cmd.Flags().String("by", "", "actor recorded on applied matches")
	cmd.Flags().Int("limit", 500, "maximum unmatched transactions to evaluate")
	return cmd
}
