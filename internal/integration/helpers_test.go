package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xingyang1991/nightfall"
	"github.com/xingyang1991/nightfall/fsskill"
	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/internal/catalog"
	"github.com/xingyang1991/nightfall/internal/providers"
	"github.com/xingyang1991/nightfall/internal/router"
	"github.com/xingyang1991/nightfall/internal/skills"
	"github.com/xingyang1991/nightfall/internal/store"
	"github.com/xingyang1991/nightfall/internal/toolbus"
	"github.com/xingyang1991/nightfall/spec"
)

const noodleSkillMD = `---
id: noodle_run
version: 1.0.0
title: Noodle run
description: Find a warm bowl of noodles nearby.
stages: [candidate, finalize]
keywords: [noodles, ramen]
allowedSurfaces: [candidates, result]
permissions:
  tools: [places.search, weather.forecast]
rateLimit:
  perMinute: 5
---
# Noodle run

Pick somewhere warm and quick.
`

var evening = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func walking() spec.ContextSignals {
	return spec.NewContextSignals(evening, spec.Location{}, spec.Mobility{Mode: spec.MobilityWalking}, spec.UserState{})
}

func writeSkillsDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "noodle_run")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir skill dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(noodleSkillMD), 0o600); err != nil {
		t.Fatalf("write SKILL.md: %v", err)
	}
	return root
}

func mustOpenStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// stack is a fully wired orchestrator persisting audit, fixtures and the
// journal to one sqlite store.
type stack struct {
	o     *nightfall.Orchestrator
	log   *audit.Log
	st    *store.Store
	cat   *catalog.Catalog
	calls atomic.Int32
}

type stackConfig struct {
	mode     toolbus.Mode
	skillDir string
	dead     bool
	extra    []spec.Skill
}

func newStack(t *testing.T, st *store.Store, cfg stackConfig) *stack {
	t.Helper()
	ctx := t.Context()
	s := &stack{st: st, cat: catalog.New()}

	log, err := audit.New(5000, audit.WithSink(st.AuditSink()))
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	s.log = log

	mode := cfg.mode
	if mode == "" {
		mode = toolbus.ModeLive
	}
	hub, err := toolbus.NewHub(
		toolbus.WithMode(mode),
		toolbus.WithFixtures(st.Fixtures()),
		toolbus.WithAudit(log),
	)
	if err != nil {
		t.Fatalf("hub: %v", err)
	}
	if cfg.dead {
		// Every live call is counted and fails.
		for _, tool := range spec.AllTools() {
			hd := toolbus.HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
				s.calls.Add(1)
				return nil, spec.ErrUpstreamUnavailable
			})
			if err := hub.Register(tool, hd); err != nil {
				t.Fatalf("register %s: %v", tool, err)
			}
		}
	} else {
		set := providers.Defaults()
		set.Journal = st.Journal()
		if err := set.Register(hub); err != nil {
			t.Fatalf("providers: %v", err)
		}
	}

	if err := skills.Register(ctx, s.cat); err != nil {
		t.Fatalf("builtins: %v", err)
	}
	if cfg.skillDir != "" {
		if _, err := fsskill.Register(ctx, s.cat, cfg.skillDir); err != nil {
			t.Fatalf("fs skills: %v", err)
		}
	}
	for _, sk := range cfg.extra {
		if _, err := s.cat.Add(ctx, sk, catalog.OriginBuiltin, ""); err != nil {
			t.Fatalf("add %s: %v", sk.Manifest().ID, err)
		}
	}

	rules := []router.Rule{{Skill: "noodle_run", Phrases: []string{"noodles please"}}}
	s.o, err = nightfall.New(s.cat, hub, log, nightfall.WithRules(rules))
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return s
}
