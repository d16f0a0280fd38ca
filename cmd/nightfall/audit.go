package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xingyang1991/nightfall/internal/audit"
)

// auditSource reads persisted records either from the database or from a
// JSON-lines mirror.
type auditSource struct {
	a    *app
	file string
}

func (s auditSource) load(ctx context.Context, query func(ctx context.Context, st auditQuerier) ([]audit.Record, error), keep func(audit.Record) bool) ([]audit.Record, error) {
	if s.file != "" {
		f, err := os.Open(s.file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		all, err := audit.ReadJSONL(f)
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, r := range all {
			if keep(r) {
				out = append(out, r)
			}
		}
		return out, nil
	}

	st, err := s.a.openStore()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("durable storage is disabled; set storage.databasePath or pass --file")
	}
	defer st.Close()
	return query(ctx, st)
}

type auditQuerier interface {
	AuditTail(ctx context.Context, n int) ([]audit.Record, error)
	AuditTrace(ctx context.Context, traceID string) ([]audit.Record, error)
	AuditSession(ctx context.Context, sessionID string) ([]audit.Record, error)
}

func (a *app) newAuditCmd() *cobra.Command {
	var (
		asJSON bool
		src    = auditSource{a: a}
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the persisted audit trail",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print one JSON record per line")
	cmd.PersistentFlags().StringVar(&src.file, "file", "", "Read a JSON-lines audit file instead of the database")

	show := func(cmd *cobra.Command, recs []audit.Record) error {
		if asJSON {
			return writeRecordLines(cmd.OutOrStdout(), recs)
		}
		return writeRecordTable(cmd.OutOrStdout(), recs)
	}

	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := src.load(cmd.Context(),
				func(ctx context.Context, st auditQuerier) ([]audit.Record, error) { return st.AuditTail(ctx, n) },
				func(audit.Record) bool { return true },
			)
			if err != nil {
				return err
			}
			if n > 0 && len(recs) > n {
				recs = recs[len(recs)-n:]
			}
			return show(cmd, recs)
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "Number of records (0 for all)")

	trace := &cobra.Command{
		Use:   "trace <traceId>",
		Short: "Show every record of one action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			recs, err := src.load(cmd.Context(),
				func(ctx context.Context, st auditQuerier) ([]audit.Record, error) { return st.AuditTrace(ctx, id) },
				func(r audit.Record) bool { return r.TraceID == id },
			)
			if err != nil {
				return err
			}
			return show(cmd, recs)
		},
	}

	session := &cobra.Command{
		Use:   "session <sessionId>",
		Short: "Show every record of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			recs, err := src.load(cmd.Context(),
				func(ctx context.Context, st auditQuerier) ([]audit.Record, error) { return st.AuditSession(ctx, id) },
				func(r audit.Record) bool { return r.SessionID == id },
			)
			if err != nil {
				return err
			}
			return show(cmd, recs)
		},
	}

	cmd.AddCommand(tail, trace, session)
	return cmd
}

func writeRecordLines(w io.Writer, recs []audit.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func writeRecordTable(w io.Writer, recs []audit.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tAT\tKIND\tTRACE\tSESSION\tDETAIL")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.At.Format(time.RFC3339), r.Event.Kind(), r.TraceID, r.SessionID, describeEvent(r.Event))
	}
	return tw.Flush()
}

func describeEvent(ev audit.Event) string {
	switch e := ev.(type) {
	case audit.SkillStart:
		return fmt.Sprintf("%s %s", e.SkillID, e.Stage)
	case audit.SkillEnd:
		if !e.OK {
			return fmt.Sprintf("%s %s failed in %s: %s", e.SkillID, e.Stage, e.Duration, e.Error)
		}
		return fmt.Sprintf("%s %s in %s", e.SkillID, e.Stage, e.Duration)
	case audit.ToolCall:
		status := "ok"
		if !e.OK {
			status = "failed: " + e.Error
		}
		if e.Replayed {
			status += " (replayed)"
		}
		return fmt.Sprintf("%s %s in %s", e.Tool, status, e.Duration)
	case audit.PolicyClip:
		return fmt.Sprintf("%s clipped: %s", e.Field, e.Reason)
	case audit.PolicyViolation:
		return fmt.Sprintf("%s %s", e.Code, e.Detail)
	default:
		b, err := json.Marshal(ev)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
