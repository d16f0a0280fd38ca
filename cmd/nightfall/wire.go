package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/xingyang1991/nightfall"
	"github.com/xingyang1991/nightfall/fsskill"
	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/internal/catalog"
	"github.com/xingyang1991/nightfall/internal/generate"
	"github.com/xingyang1991/nightfall/internal/providers"
	"github.com/xingyang1991/nightfall/internal/skills"
	"github.com/xingyang1991/nightfall/internal/store"
	"github.com/xingyang1991/nightfall/internal/toolbus"
)

// runtime is a fully wired orchestrator plus what has to be closed after it.
type runtime struct {
	orch  *nightfall.Orchestrator
	log   *audit.Log
	store *store.Store

	closers []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// openStore opens the configured database, or returns nil when durable
// storage is disabled.
func (a *app) openStore() (*store.Store, error) {
	if a.cfg.Storage.DatabasePath == "" {
		return nil, nil
	}
	st, err := store.Open(a.cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

// buildCatalog registers the builtin skills and every configured skills
// directory. Broken fs skills are logged and skipped.
func (a *app) buildCatalog(ctx context.Context) (*catalog.Catalog, error) {
	cat := catalog.New()
	if err := skills.Register(ctx, cat); err != nil {
		return nil, err
	}

	opts := []fsskill.Option{
		fsskill.WithLogger(a.logger),
		fsskill.WithSearchLimit(a.cfg.Skills.SearchLimit),
	}
	if a.cfg.GeneratorEnabled() {
		gen, err := generate.NewGemini(ctx, a.cfg.Generator.APIKey,
			generate.WithModel(a.cfg.Generator.Model),
			generate.WithTimeout(a.cfg.GetGeneratorTimeout()),
			generate.WithTemperature(a.cfg.Generator.Temperature),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
		opts = append(opts, fsskill.WithGenerator(gen))
		a.logger.Debug("generator enabled", "provider", a.cfg.Generator.Provider, "model", gen.Model())
	}

	for _, dir := range a.cfg.Skills.Dirs {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			a.logger.Debug("skills directory missing", "dir", dir)
			continue
		}
		recs, err := fsskill.Register(ctx, cat, dir, opts...)
		if err != nil {
			a.logger.Warn("some skills failed to load", "dir", dir, "error", err)
		}
		for _, rec := range recs {
			a.logger.Debug("skill loaded", "id", rec.Manifest.ID, "location", rec.Location)
		}
	}
	return cat, nil
}

// buildRuntime wires storage, audit, the tool hub, providers, the catalog
// and the orchestrator from the loaded configuration.
func (a *app) buildRuntime(ctx context.Context) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			err = errors.Join(err, rt.Close())
		}
	}()

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	if st != nil {
		rt.store = st
		rt.closers = append(rt.closers, st.Close)
	}

	auditOpts := []audit.Option{audit.WithLogger(a.logger)}
	if st != nil {
		auditOpts = append(auditOpts, audit.WithSink(st.AuditSink()))
	}
	if a.cfg.Audit.JSONLPath != "" {
		sink, err := audit.OpenJSONL(a.cfg.Audit.JSONLPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		auditOpts = append(auditOpts, audit.WithSink(sink))
		// Closed by the log from here on.
		defer func() {
			if rt.log == nil {
				_ = sink.Close()
			}
		}()
	}
	log, err := audit.New(a.cfg.Audit.Capacity, auditOpts...)
	if err != nil {
		return nil, err
	}
	rt.log = log
	rt.closers = append(rt.closers, log.Close)

	hubOpts := []toolbus.Option{
		toolbus.WithConfig(a.cfg.ToolBusOptions()),
		toolbus.WithMode(a.cfg.ToolMode()),
		toolbus.WithAudit(log),
		toolbus.WithLogger(a.logger),
	}
	set := providers.Defaults()
	if st != nil {
		hubOpts = append(hubOpts, toolbus.WithFixtures(st.Fixtures()))
		set.Journal = st.Journal()
	}
	hub, err := toolbus.NewHub(hubOpts...)
	if err != nil {
		return nil, err
	}
	if err := set.Register(hub); err != nil {
		return nil, err
	}

	cat, err := a.buildCatalog(ctx)
	if err != nil {
		return nil, err
	}

	rt.orch, err = nightfall.New(cat, hub, log,
		nightfall.WithLogger(a.logger),
		nightfall.WithRouterConfig(a.cfg.Router),
		nightfall.WithRules(a.cfg.Rules),
		nightfall.WithLimits(a.cfg.Policy),
		nightfall.WithBudgetIntervals(a.cfg.BudgetIntervals()),
		nightfall.WithSessionTTL(a.cfg.GetSessionTTL()),
		nightfall.WithMaxSessions(a.cfg.Session.MaxSessions),
	)
	if err != nil {
		return nil, err
	}
	a.logger.Info("nightfall ready",
		"skills", cat.Len(),
		"mode", hub.Mode(),
		"store", a.cfg.Storage.DatabasePath,
	)
	return rt, nil
}
