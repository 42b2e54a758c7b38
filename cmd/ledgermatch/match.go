package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/caseline/ledgermatch/internal/engine"
	"github.com/caseline/ledgermatch/internal/model"

	"github.com/spf13/cobra"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <transaction-id>",
		Short: "Find matches for a single transaction",
		Long: `Score all plausible candidates for a transaction and show the ranked
results with the engine's decision. With --apply, an unambiguous winner is
auto-applied.`,
		Args: cobra.ExactArgs(1),
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

			eng := engine.NewWithConfig(store, cfg)
			outcome, err := eng.FindMatches(ctx, tenant, args[0], engine.FindOptions{
				AutoApply: apply,
				AppliedBy: appliedBy,
			})
			if err != nil {
				return fmt.Errorf("failed to find matches: %w", err)
			}

			return printOutcome(outcome)
		},
	}

	cmd.Flags().Bool("apply", false, "apply the auto-match decision")
	cmd.Flags().String("by", "", "actor recorded on an applied match")
	return cmd
}

func printOutcome(outcome *engine.MatchOutcome) error {
	txn := outcome.Transaction
	fmt.Printf("Transaction %s  %s %s  %s  %q\n\n",
		txn.ID, txn.Amount.StringFixed(2), txn.Currency,
		txn.Date.Format("2006-01-02"), truncateString(txn.CounterpartyName, 30))

	if len(outcome.Results) == 0 {
		fmt.Println("No plausible candidates found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CANDIDATE\tTYPE\tAMOUNT\tDUE\tSCORE\tCONFIDENCE\tREASONS")
	for i := range outcome.Results {
		r := &outcome.Results[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Candidate.ID,
			r.Candidate.Type,
			r.Candidate.Amount.StringFixed(2),
			r.Candidate.DueDate.Format("2006-01-02"),
			r.Score,
			r.Confidence,
			truncateString(r.ReasonSummary(), 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	switch {
	case outcome.AutoMatchApplied:
		fmt.Printf("\nAuto-match applied: candidate %s (score %d)\n",
			outcome.AppliedMatch.CandidateID, outcome.AppliedMatch.Score)
	case outcome.Decision.AutoApply:
		fmt.Printf("\nDecision: auto-match candidate %s (run with --apply to record it)\n",
			outcome.Decision.Best.Candidate.ID)
	case len(outcome.Decision.Suggestions) > 0:
		fmt.Printf("\nDecision: %d suggestion(s), none auto-applied\n",
			len(outcome.Decision.Suggestions))
	default:
		fmt.Println("\nDecision: unmatched")
	}
	return nil
}

func confirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <transaction-id> <candidate-id>",
		Short: "Confirm a transaction-candidate match",
		Args:  cobra.ExactArgs(2),
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

			confirmedBy, _ := cmd.Flags().GetString("by")
			score, _ := cmd.Flags().GetInt("score")

			eng := engine.NewWithConfig(store, cfg)
			match, err := eng.Feedback().RecordConfirmation(ctx, engine.ConfirmationEvent{
				TenantID:      tenant,
				TransactionID: args[0],
				CandidateID:   args[1],
				ConfirmedBy:   confirmedBy,
				Method:        model.MethodManual,
				Score:         score,
			})
			if err != nil {
				return fmt.Errorf("failed to confirm match: %w", err)
			}

			fmt.Printf("Confirmed match %s: transaction %s -> %s %s\n",
				match.ID, match.TransactionID, match.CandidateType, match.CandidateID)
			return nil
		},
	}

	cmd.Flags().String("by", "", "actor recorded on the confirmation")
	cmd.Flags().Int("score", 0, "score to record when confirming an unsuggested candidate")
	return cmd
}

func rejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <transaction-id> <candidate-id>",
		Short: "Reject a suggested match",
		Args:  cobra.ExactArgs(2),
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

			rejectedBy, _ := cmd.Flags().GetString("by")
			reason, _ := cmd.Flags().GetString("reason")

			eng := engine.NewWithConfig(store, cfg)
			if err := eng.Feedback().RecordRejection(ctx, engine.RejectionEvent{
				TenantID:      tenant,
				TransactionID: args[0],
				CandidateID:   args[1],
				RejectedBy:    rejectedBy,
				Reason:        reason,
			}); err != nil {
				return fmt.Errorf("failed to reject match: %w", err)
			}

			fmt.Printf("Rejected match: transaction %s -> %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().String("by", "", "actor recorded on the rejection")
	cmd.Flags().String("reason", "", "free-text rejection reason")
	return cmd
}

func unmatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmatch <transaction-id>",
		Short: "Release a transaction's match for re-evaluation",
		Args:  cobra.ExactArgs(1),
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

			eng := engine.NewWithConfig(store, cfg)
			if err := eng.Unmatch(ctx, tenant, args[0]); err != nil {
				return fmt.Errorf("failed to unmatch transaction: %w", err)
			}

			fmt.Printf("Transaction %s unmatched\n", args[0])
			return nil
		},
	}
}
