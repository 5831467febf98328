// main.go bootstraps stackd: it builds the root Cobra command and executes it
// with a signal-aware context.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/stackd/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.NewOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:           "stackd",
		Short:         "Declarative container stack deployment and lifecycle control",
		Long:          "stackd compiles stack manifests into dependency-ordered deployment plans, applies them against a container runtime, and manages operation modes and maintenance observers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.BindEnv(viper.New(), configFile); err != nil {
				return err
			}
			return opts.Validate()
		},
	}
	opts.BindFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to an optional config file")

	cmd.AddCommand(
		newDeployCommand(opts),
		newUpgradeCommand(opts),
		newRedeployCommand(opts),
		newRemoveCommand(opts),
		newModeCommand(opts),
		newObserversCommand(opts),
		newListCommand(opts),
		newPlanCommand(opts),
		newVersionCommand(),
	)
	return cmd
}
