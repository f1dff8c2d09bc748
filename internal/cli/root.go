// Package cli implements billingctl, the operator tool for repairing access
// flags and draining the webhook inbox.
package cli

import (
	"context"
	"fmt"
	"os"

	"donation-platform/internal/app"
	"donation-platform/internal/config"
	"donation-platform/internal/logger"

	"github.com/spf13/cobra"
)

type runtime struct {
	app *app.App
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the donation billing store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRepairCmd(rt))
	root.AddCommand(newAccessCmd(rt))
	root.AddCommand(newRedriveCmd(rt))
	return root
}

func (rt *runtime) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger.NewWithWriter(cfg.Log, os.Stderr))
	if err != nil {
		return fmt.Errorf("open billing store: %w", err)
	}
	rt.app = a
	return nil
}

func (rt *runtime) close() error {
	if rt.app == nil {
		return nil
	}
	err := rt.app.Close()
	rt.app = nil
	return err
}

// withApp opens the store for the duration of one command, closing it even
// when the command fails.
func (rt *runtime) withApp(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := rt.open(cmd.Context()); err != nil {
			return err
		}
		defer func() {
			if closeErr := rt.close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, args)
	}
}

// Execute runs billingctl against the process arguments.
func Execute(version string) error {
	root := NewRootCmd()
	root.Version = version
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
