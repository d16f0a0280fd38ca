package integration

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xingyang1991/nightfall"
	"github.com/xingyang1991/nightfall/protocol"
	"github.com/xingyang1991/nightfall/spec"
)

// blockingSkill parks inside Run until released.
type blockingSkill struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSkill) Manifest() spec.SkillManifest {
	return spec.SkillManifest{
		ID:              "slow",
		Version:         "0.1.0",
		Title:           "Slow",
		Stages:          []spec.Stage{spec.StageFinalize},
		AllowedSurfaces: []string{protocol.SurfaceResult},
	}
}

func (s *blockingSkill) Run(ctx context.Context, _ spec.SkillRequest, _ spec.RunEnv, _ spec.ToolBus) (spec.SkillResult, error) {
	close(s.started)
	select {
	case <-s.release:
	case <-ctx.Done():
		return spec.SkillResult{}, ctx.Err()
	}
	return spec.SkillResult{Output: spec.BundleOutput{Bundle: &spec.CuratorialBundle{
		PrimaryEnding: &spec.Ending{
			Title:       "Stay in",
			Reason:      "Rain on the window.",
			Action:      spec.ActionPlay,
			ActionLabel: "Play",
			Payload:     &spec.ActionPayload{Channel: "rain"},
		},
		PlanB: &spec.Ending{
			Title:       "Lights out",
			Reason:      "Sleep is also a plan.",
			Action:      spec.ActionStartFocus,
			ActionLabel: "Wind down",
			Payload:     &spec.ActionPayload{DurationMin: 15},
		},
	}}}, nil
}

func TestBlockedSessionDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	t.Cleanup(cancel)

	slow := &blockingSkill{started: make(chan struct{}), release: make(chan struct{})}
	st := mustOpenStore(t, filepath.Join(t.TempDir(), "nightfall.db"))
	s := newStack(t, st, stackConfig{extra: []spec.Skill{slow}})

	first, err := s.o.Reset(ctx, "")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	sidA := first.SessionID

	var (
		wg      sync.WaitGroup
		slowRes *nightfall.Response
		slowErr error
	)
	wg.Go(func() {
		slowRes, slowErr = s.o.Submit(ctx, sidA, "/skill slow", walking())
	})
	<-slow.started

	// A second action on the same session queues behind the first.
	whispered := make(chan error, 1)
	wg.Go(func() {
		_, err := s.o.Whisper(ctx, sidA, "still up")
		whispered <- err
	})

	// Other sessions keep moving, and the catalog can change underneath.
	other, err := s.o.Submit(ctx, "", "/skill focus_session", walking())
	if err != nil || other.Stage != spec.FlowResult {
		t.Fatalf("other session blocked or failed: %v %+v", err, other)
	}
	if _, ok := s.cat.Remove("slow"); !ok {
		t.Fatalf("remove slow")
	}
	if _, err := s.o.Submit(ctx, other.SessionID, "/skill slow", walking()); !errors.Is(err, spec.ErrTryAgain) {
		t.Fatalf("removed skill: expected ErrTryAgain, got %v", err)
	}

	select {
	case err := <-whispered:
		t.Fatalf("whisper finished while the session was busy: %v", err)
	default:
	}

	close(slow.release)
	wg.Wait()

	if slowErr != nil || slowRes.Stage != spec.FlowResult {
		t.Fatalf("in-flight skill: %v %+v", slowErr, slowRes)
	}
	if err := <-whispered; err != nil {
		t.Fatalf("Whisper: %v", err)
	}
	whispers, err := st.Journal().Whispers(ctx, string(sidA))
	if err != nil || len(whispers) != 1 {
		t.Fatalf("whispers = %v, %v", whispers, err)
	}
}

func TestManySessionsInParallel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Second)
	t.Cleanup(cancel)

	st := mustOpenStore(t, filepath.Join(t.TempDir(), "nightfall.db"))
	s := newStack(t, st, stackConfig{skillDir: writeSkillsDir(t)})

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for range n {
		wg.Go(func() {
			resp, err := s.o.Submit(ctx, "", "noodles please", walking())
			if err != nil {
				errs <- err
				return
			}
			if _, err := s.o.Select(ctx, resp.SessionID, "pl_dumpling", walking()); err != nil {
				errs <- err
				return
			}
			_, err = s.o.Save(ctx, resp.SessionID, walking())
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("session flow: %v", err)
		}
	}
	if got := s.o.SessionCount(); got != n {
		t.Fatalf("sessions = %d", got)
	}

	recs, err := st.AuditTail(ctx, 0)
	if err != nil {
		t.Fatalf("AuditTail: %v", err)
	}
	if len(recs) != s.log.Len() {
		t.Fatalf("persisted %d, in memory %d", len(recs), s.log.Len())
	}
}
