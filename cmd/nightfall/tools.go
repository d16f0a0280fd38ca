package main

import (
	"fmt"
	"text/tabwriter"

	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"
	"github.com/spf13/cobra"

	"github.com/xingyang1991/nightfall/spec"
	"github.com/xingyang1991/nightfall/toolspec"
)

func (a *app) newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools [name...]",
		Short: "Print tool bus descriptors",
		Long: `Prints the descriptor of every tool a skill may be granted, or of the
named tools only. JSON output includes the argument schemas.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tools := toolspec.Tools()
			if len(args) > 0 {
				tools = tools[:0:0]
				for _, name := range args {
					t, ok := toolspec.Lookup(spec.ToolName(name))
					if !ok {
						return fmt.Errorf("%w: unknown tool %q", spec.ErrInvalidArgument, name)
					}
					tools = append(tools, t)
				}
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), tools)
			}
			return writeToolTable(cmd, tools)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print descriptors as JSON")
	return cmd
}

func writeToolTable(cmd *cobra.Command, tools []llmtoolsgoSpec.Tool) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROVIDER\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Slug, spec.ToolName(t.Slug).Provider(), t.Description)
	}
	return tw.Flush()
}
