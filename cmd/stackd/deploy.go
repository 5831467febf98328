// deploy.go implements `stackd deploy` and `stackd upgrade`.
package main

import (
	"fmt"

	"github.com/example/stackd/internal/config"
	"github.com/example/stackd/internal/control"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newDeployCommand(opts *config.Options) *cobra.Command {
	var (
		stackName string
		stackKey  string
		varPairs  []string
	)
	cmd := &cobra.Command{
		Use:   "deploy MANIFEST",
		Short: "Deploy a stack manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readManifest(args[0])
			if err != nil {
				return err
			}
			vars, err := parseVariables(varPairs)
			if err != nil {
				return err
			}
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.service.Deploy(cmd.Context(), control.DeployRequest{
				StackID:       args[0],
				StackName:     stackName,
				EnvironmentID: opts.EnvironmentID,
				Document:      doc,
				BaseLocation:  args[0],
				StackKey:      stackKey,
				Variables:     vars,
			})
			return printResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&stackName, "name", "", "Name the deployed stack (required; scopes networks and volumes)")
	cmd.Flags().StringVar(&stackKey, "stack", "", "Stack key to deploy from a multi-stack manifest")
	cmd.Flags().StringArrayVar(&varPairs, "var", nil, "Variable value as KEY=VALUE; repeat for multiple")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newUpgradeCommand(opts *config.Options) *cobra.Command {
	var (
		stackKey string
		varPairs []string
	)
	cmd := &cobra.Command{
		Use:   "upgrade DEPLOYMENT_ID MANIFEST",
		Short: "Migrate an existing deployment to a new manifest version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readManifest(args[1])
			if err != nil {
				return err
			}
			vars, err := parseVariables(varPairs)
			if err != nil {
				return err
			}
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.service.Upgrade(cmd.Context(), control.UpgradeRequest{
				DeploymentID: args[0],
				Document:     doc,
				BaseLocation: args[1],
				StackKey:     stackKey,
				Variables:    vars,
			})
			return printResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&stackKey, "stack", "", "Stack key to deploy from a multi-stack manifest")
	cmd.Flags().StringArrayVar(&varPairs, "var", nil, "Variable value as KEY=VALUE; repeat for multiple")
	return cmd
}

func newRedeployCommand(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "redeploy DEPLOYMENT_ID",
		Short: "Re-execute the stored plan of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			return printResult(cmd, a.service.Redeploy(cmd.Context(), args[0]))
		},
	}
}

func newRemoveCommand(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove DEPLOYMENT_ID",
		Short: "Remove a deployment's containers and mark it removed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			return printResult(cmd, a.service.Remove(cmd.Context(), args[0]))
		},
	}
}

func printResult(cmd *cobra.Command, res control.CommandResult) error {
	out := cmd.OutOrStdout()
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "%s %s\n", color.YellowString("Warning:"), w)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "%s %s\n", color.RedString("Failed:"), e)
	}
	if !res.OK {
		return fmt.Errorf("%s", res.Message)
	}
	fmt.Fprintln(out, res.Message)
	if res.DeploymentID != "" {
		fmt.Fprintf(out, "deployment id: %s\n", res.DeploymentID)
	}
	return nil
}
