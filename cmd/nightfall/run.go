package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xingyang1991/nightfall"
	"github.com/xingyang1991/nightfall/spec"
)

const maxRequestBytes = 1 << 20

// request is one line of the run protocol.
type request struct {
	Op          string               `json:"op"`
	SessionID   spec.SessionID       `json:"sessionId,omitempty"`
	Text        string               `json:"text,omitempty"`
	Label       string               `json:"label,omitempty"`
	CandidateID string               `json:"candidateId,omitempty"`
	Ending      nightfall.EndingRef  `json:"ending,omitempty"`
	Signals     *spec.ContextSignals `json:"signals,omitempty"`
}

// reply carries either the response or the error of one request.
type reply struct {
	Response *nightfall.Response `json:"response,omitempty"`
	Error    string              `json:"error,omitempty"`
	Code     string              `json:"code,omitempty"`
}

func (a *app) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve JSON-lines requests on stdin",
		Long: `Reads one JSON request per line and writes one JSON reply per line.

Request fields: op (submit, choose, select, refresh, reset, save, whisper,
act), sessionId, text, label, candidateId, ending (primary, plan_b) and
signals. Missing signals default to the current local time.

Example:
  {"op":"submit","text":"hungry"}
  {"op":"select","sessionId":"...","candidateId":"pl_congee"}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			return serve(cmd.Context(), rt.orch, cmd.InOrStdin(), cmd.OutOrStdout(), time.Now)
		},
	}
}

// serve answers requests from r until EOF or cancellation. A malformed or
// failing request produces an error reply; only I/O errors stop the loop.
func serve(ctx context.Context, o *nightfall.Orchestrator, r io.Reader, w io.Writer, now func() time.Time) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)
	enc := json.NewEncoder(w)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var out reply
		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			out = errorReply(fmt.Errorf("%w: malformed request: %w", spec.ErrInvalidArgument, err))
		} else if resp, err := dispatch(ctx, o, req, now); err != nil {
			out = errorReply(err)
		} else {
			out = reply{Response: resp}
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
	return sc.Err()
}

func dispatch(ctx context.Context, o *nightfall.Orchestrator, req request, now func() time.Time) (*nightfall.Response, error) {
	signals := spec.NewContextSignals(now(), spec.Location{}, spec.Mobility{}, spec.UserState{})
	if req.Signals != nil {
		signals = req.Signals.Normalize()
	}

	switch strings.ToLower(req.Op) {
	case "submit":
		return o.Submit(ctx, req.SessionID, req.Text, signals)
	case "choose":
		return o.Choose(ctx, req.SessionID, req.Label, signals)
	case "select":
		return o.Select(ctx, req.SessionID, req.CandidateID, signals)
	case "refresh":
		return o.Refresh(ctx, req.SessionID, signals)
	case "reset":
		return o.Reset(ctx, req.SessionID)
	case "save":
		return o.Save(ctx, req.SessionID, signals)
	case "whisper":
		return o.Whisper(ctx, req.SessionID, req.Text)
	case "act":
		ending := req.Ending
		if ending == "" {
			ending = nightfall.EndingPrimary
		}
		return o.Act(ctx, req.SessionID, ending, signals)
	default:
		return nil, fmt.Errorf("%w: unknown op %q", spec.ErrInvalidArgument, req.Op)
	}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{spec.ErrInvalidArgument, "invalid_argument"},
	{spec.ErrSessionNotFound, "session_not_found"},
	{spec.ErrTryAgain, "try_again"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "deadline_exceeded"},
}

func errorReply(err error) reply {
	out := reply{Error: err.Error(), Code: "internal"}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			out.Code = ec.code
			break
		}
	}
	return out
}
