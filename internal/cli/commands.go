package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRepairCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "repair [account-id...]",
		Short: "Recompute access flags from stored subscription records",
		Long: `Recompute the access flag of the given accounts from their stored subscription
record. With no arguments every account that has a record or currently holds
access is repaired.`,
		RunE: rt.withApp(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				n, err := rt.app.Sync.RepairAll(ctx)
				fmt.Fprintf(out, "repaired %d accounts\n", n)
				return err
			}

			for _, id := range args {
				flag, err := rt.app.Sync.RepairAccess(ctx, id)
				if err != nil {
					return fmt.Errorf("repair %s: %w", id, err)
				}
				fmt.Fprintf(out, "%s\taccess=%t\tstatus=%s\ttier=%s\n", id, flag.HasActiveAccess, flag.Status, flag.Tier)
			}
			return nil
		}),
	}
}

func newAccessCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "access <account-id>",
		Short: "Show the stored access flag for an account",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, args []string) error {
			flag, err := rt.app.Access.Access(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(flag)
		}),
	}
}

func newRedriveCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "redrive",
		Short: "Retry webhook events whose backoff has elapsed",
		Args:  cobra.NoArgs,
		RunE: rt.withApp(func(cmd *cobra.Command, args []string) error {
			n, err := rt.app.Webhooks.RedriveDue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "redriven %d events\n", n)
			return nil
		}),
	}
}
