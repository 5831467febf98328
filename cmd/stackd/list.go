// list.go implements `stackd list` and `stackd plan`.
package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/example/stackd/internal/config"
	"github.com/example/stackd/internal/plan"
	"github.com/example/stackd/pkg/manifest"
	"github.com/spf13/cobra"
)

func newListCommand(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			recs, err := a.service.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTACK\tVERSION\tSTATUS\tMODE\tUPDATED")
			for _, rec := range recs {
				d := rec.Deployment
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.StackName, d.StackVersion, d.Status, d.OperationMode,
					d.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newPlanCommand(opts *config.Options) *cobra.Command {
	var (
		stackName string
		stackKey  string
		varPairs  []string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "plan MANIFEST",
		Short: "Compile a manifest into a deployment plan without executing it",
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
			resolved, err := manifest.NewResolver(nil).Resolve(doc, args[0])
			if err != nil {
				return err
			}
			rs, err := resolved.Stack(stackKey)
			if err != nil {
				return err
			}
			values := manifest.ResolveValues(rs.Variables, vars)
			if err := manifest.ValidateValues(rs.Variables, values); err != nil {
				return err
			}
			p, err := plan.Compile(rs, values, stackName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			fmt.Fprintf(out, "stack %s (%d steps)\n", p.StackName, len(p.Steps))
			for name, nw := range p.Networks {
				fmt.Fprintf(out, "network %s -> %s (external=%v)\n", name, nw.ResolvedName, nw.External)
			}
			for _, step := range p.Steps {
				fmt.Fprintf(out, "%3d %s image=%s container=%s deps=%v\n",
					step.Order, step.ContextName, step.Image, step.ContainerName, step.DependsOn)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stackName, "name", "preview", "Stack name used for resource scoping")
	cmd.Flags().StringVar(&stackKey, "stack", "", "Stack key to compile from a multi-stack manifest")
	cmd.Flags().StringArrayVar(&varPairs, "var", nil, "Variable value as KEY=VALUE; repeat for multiple")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	return cmd
}
