package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xingyang1991/nightfall/internal/catalog"
	"github.com/xingyang1991/nightfall/spec"
)

func (a *app) newSkillsCmd() *cobra.Command {
	var (
		asJSON bool
		origin string
		prefix string
		stage  string
		tool   string
	)
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List registered skills",
		Long:  `Lists the builtin skills and every valid skill found in the configured skills directories.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := a.buildCatalog(cmd.Context())
			if err != nil {
				return err
			}
			f := catalog.Filter{
				IDPrefix: prefix,
				Stage:    spec.Stage(stage),
				Tool:     spec.ToolName(tool),
			}
			if origin != "" {
				f.Origins = []catalog.Origin{catalog.Origin(origin)}
			}
			recs := cat.List(f)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			return writeSkillTable(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	cmd.Flags().StringVar(&origin, "origin", "", "Only skills of this origin (builtin, fs)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only skills whose id has this prefix")
	cmd.Flags().StringVar(&stage, "stage", "", "Only skills declaring this stage (candidate, finalize)")
	cmd.Flags().StringVar(&tool, "tool", "", "Only skills allowed to call this tool")
	return cmd
}

func writeSkillTable(w io.Writer, recs []catalog.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tORIGIN\tSTAGES\tTOOLS\tTITLE")
	for _, r := range recs {
		m := r.Manifest
		stages := make([]string, len(m.Stages))
		for i, s := range m.Stages {
			stages[i] = string(s)
		}
		tools := make([]string, len(m.Permissions.Tools))
		for i, t := range m.Permissions.Tools {
			tools[i] = string(t)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.Version, r.Origin,
			strings.Join(stages, ","),
			strings.Join(tools, ","),
			m.Title,
		)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
