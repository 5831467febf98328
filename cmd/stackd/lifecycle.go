// lifecycle.go implements operation-mode and observer commands.
package main

import (
	"fmt"

	"github.com/example/stackd/internal/config"
	"github.com/example/stackd/internal/deployment"
	"github.com/spf13/cobra"
)

func newModeCommand(opts *config.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Inspect or change a deployment's operation mode",
	}

	var reason string
	set := &cobra.Command{
		Use:   "set DEPLOYMENT_ID MODE",
		Short: "Request an operation mode transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := deployment.ParseMode(args[1])
			if err != nil {
				return err
			}
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			return printResult(cmd, a.service.ChangeOperationMode(cmd.Context(), args[0], mode, reason))
		},
	}
	set.Flags().StringVar(&reason, "reason", "manual request", "Reason recorded with the transition")

	get := &cobra.Command{
		Use:   "get DEPLOYMENT_ID",
		Short: "Print the current operation mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			rec, err := a.service.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.Deployment.OperationMode)
			return nil
		},
	}

	cmd.AddCommand(set, get)
	return cmd
}

func newObserversCommand(opts *config.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "observers",
		Short: "Toggle a deployment's maintenance observers",
	}
	for _, sub := range []struct {
		use     string
		short   string
		enabled bool
	}{
		{"enable DEPLOYMENT_ID", "Enable and start all observers", true},
		{"disable DEPLOYMENT_ID", "Disable all observers (manual control only)", false},
	} {
		sub := sub
		cmd.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(opts)
				if err != nil {
					return err
				}
				defer a.close()
				return printResult(cmd, a.service.SetObserversEnabled(cmd.Context(), args[0], sub.enabled))
			},
		})
	}
	return cmd
}
