package nightfall

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/xingyang1991/nightfall/internal/budget"
	"github.com/xingyang1991/nightfall/internal/policy"
	"github.com/xingyang1991/nightfall/internal/router"
)

type orchestratorOptions struct {
	logger *slog.Logger
	now    func() time.Time

	routerConfig router.Config
	rules        []router.Rule
	limits       policy.Limits
	intervals    map[string]time.Duration

	sessionTTL  time.Duration
	maxSessions int
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		logger:       slog.Default(),
		now:          time.Now,
		routerConfig: router.DefaultConfig(),
		limits:       policy.DefaultLimits(),
		intervals:    budget.DefaultIntervals(),
	}
}

type Option func(*orchestratorOptions) error

func WithLogger(l *slog.Logger) Option {
	return func(o *orchestratorOptions) error {
		if l != nil {
			o.logger = l
		}
		return nil
	}
}

// WithClock replaces time.Now for rate limits, budgets and session expiry.
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorOptions) error {
		if now == nil {
			return errors.New("nil clock")
		}
		o.now = now
		return nil
	}
}

func WithRouterConfig(cfg router.Config) Option {
	return func(o *orchestratorOptions) error {
		o.routerConfig = cfg
		return nil
	}
}

// WithRules sets the phrase rules consulted before semantic ranking.
func WithRules(rules []router.Rule) Option {
	return func(o *orchestratorOptions) error {
		o.rules = slices.Clone(rules)
		return nil
	}
}

func WithLimits(l policy.Limits) Option {
	return func(o *orchestratorOptions) error {
		o.limits = l
		return nil
	}
}

// WithBudgetIntervals replaces the per-surface re-push intervals.
func WithBudgetIntervals(m map[string]time.Duration) Option {
	return func(o *orchestratorOptions) error {
		for surface, d := range m {
			if d < 0 {
				return errors.New("negative budget interval for surface " + surface)
			}
		}
		o.intervals = maps.Clone(m)
		return nil
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(o *orchestratorOptions) error {
		o.sessionTTL = ttl
		return nil
	}
}

func WithMaxSessions(maxSessions int) Option {
	return func(o *orchestratorOptions) error {
		o.maxSessions = maxSessions
		return nil
	}
}
