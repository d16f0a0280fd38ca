package toolbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/spec"
)

type Config struct {
	// Timeout bounds every single attempt.
	Timeout     time.Duration
	MaxAttempts int
	// Backoff is multiplied by the attempt number between attempts.
	Backoff time.Duration
	Breaker BreakerConfig
}

func DefaultConfig() Config {
	return Config{
		Timeout:     3 * time.Second,
		MaxAttempts: 2,
		Backoff:     150 * time.Millisecond,
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Window:           time.Minute,
			Cooldown:         30 * time.Second,
		},
	}
}

type Option func(*Hub) error

func WithConfig(cfg Config) Option {
	return func(h *Hub) error {
		if cfg.Timeout <= 0 {
			return fmt.Errorf("%w: tool timeout must be positive", spec.ErrInvalidArgument)
		}
		if cfg.MaxAttempts < 1 {
			return fmt.Errorf("%w: tool max attempts must be >= 1", spec.ErrInvalidArgument)
		}
		if cfg.Backoff < 0 {
			return fmt.Errorf("%w: tool backoff must not be negative", spec.ErrInvalidArgument)
		}
		h.cfg = cfg
		return nil
	}
}

func WithMode(m Mode) Option {
	return func(h *Hub) error {
		if !m.Valid() {
			return fmt.Errorf("%w: unknown tool mode %q", spec.ErrInvalidArgument, m)
		}
		h.mode = m
		return nil
	}
}

func WithFixtures(f Fixtures) Option {
	return func(h *Hub) error {
		if f == nil {
			return fmt.Errorf("%w: nil fixtures", spec.ErrInvalidArgument)
		}
		h.fixtures = f
		return nil
	}
}

func WithAudit(l *audit.Log) Option {
	return func(h *Hub) error {
		if l == nil {
			return fmt.Errorf("%w: nil audit log", spec.ErrInvalidArgument)
		}
		h.audit = l
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) error {
		if logger != nil {
			h.logger = logger
		}
		return nil
	}
}

// WithClock replaces the clock used for breaker windows and call durations.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) error {
		if now == nil {
			return fmt.Errorf("%w: nil clock", spec.ErrInvalidArgument)
		}
		h.now = now
		return nil
	}
}

// WithHandler registers a provider for tool.
func WithHandler(tool spec.ToolName, hd Handler) Option {
	return func(h *Hub) error { return h.Register(tool, hd) }
}

// Hub owns the provider handlers and the shared resilience state. Skills
// never see the hub; they get a Bus from Scope.
type Hub struct {
	mu       sync.RWMutex
	handlers map[spec.ToolName]Handler

	cfg      Config
	mode     Mode
	fixtures Fixtures
	breakers *Breakers
	audit    *audit.Log
	logger   *slog.Logger
	now      func() time.Time
}

func NewHub(opts ...Option) (*Hub, error) {
	h := &Hub{
		handlers: map[spec.ToolName]Handler{},
		cfg:      DefaultConfig(),
		mode:     ModeLive,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(h); err != nil {
			return nil, err
		}
	}
	if h.audit == nil {
		l, err := audit.New(0)
		if err != nil {
			return nil, err
		}
		h.audit = l
	}
	if h.fixtures == nil {
		h.fixtures = NewMemoryFixtures()
	}
	h.breakers = NewBreakers(h.cfg.Breaker, h.now)
	return h, nil
}

func (h *Hub) Register(tool spec.ToolName, hd Handler) error {
	if !tool.Known() {
		return fmt.Errorf("%w: unknown tool %q", spec.ErrInvalidArgument, tool)
	}
	if hd == nil {
		return fmt.Errorf("%w: nil handler for %q", spec.ErrInvalidArgument, tool)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[tool] = hd
	return nil
}

// Tools lists the tools that have a registered handler, sorted.
func (h *Hub) Tools() []spec.ToolName {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.handlers))
}

func (h *Hub) Mode() Mode { return h.mode }

func (h *Hub) Breakers() *Breakers { return h.breakers }

func (h *Hub) handler(tool spec.ToolName) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hd, ok := h.handlers[tool]
	return hd, ok
}

// Scope returns a bus confined to allowed. sess, when non-nil, receives the
// last-seen places from successful places.search calls.
func (h *Hub) Scope(allowed []spec.ToolName, sess *spec.Session) *Bus {
	set := make(map[spec.ToolName]struct{}, len(allowed))
	for _, t := range allowed {
		set[t] = struct{}{}
	}
	return &Bus{hub: h, allowed: set, session: sess}
}

type result struct {
	raw json.RawMessage
	err error
}

// invoke runs the retry loop. It returns the number of attempts made.
func (h *Hub) invoke(ctx context.Context, tool spec.ToolName, hd Handler, args json.RawMessage) (json.RawMessage, int, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if attempt > 1 && h.cfg.Backoff > 0 {
			wait := time.Duration(attempt-1) * h.cfg.Backoff
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, attempts, ctx.Err()
			case <-timer.C:
			}
		}
		attempts = attempt
		raw, err := h.attempt(ctx, hd, args)
		if err == nil {
			return raw, attempts, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
		h.logger.Debug("tool attempt failed", "tool", tool, "attempt", attempt, "error", err)
	}
	if ctx.Err() != nil || errors.Is(lastErr, spec.ErrInvalidArgument) || errors.Is(lastErr, spec.ErrCapabilityDenied) {
		return nil, attempts, lastErr
	}
	if errors.Is(lastErr, spec.ErrUpstreamUnavailable) {
		return nil, attempts, lastErr
	}
	return nil, attempts, fmt.Errorf("%w: %w", spec.ErrUpstreamUnavailable, lastErr)
}

// attempt runs one handler call under its own timeout. The handler runs on
// its own goroutine so a handler that ignores ctx cannot stall the caller.
func (h *Hub) attempt(ctx context.Context, hd Handler, args json.RawMessage) (json.RawMessage, error) {
	actx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		raw, err := hd.Invoke(actx, args)
		ch <- result{raw: raw, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", spec.ErrUpstreamUnavailable, h.cfg.Timeout)
		}
		return r.raw, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: timed out after %s", spec.ErrUpstreamUnavailable, h.cfg.Timeout)
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, spec.ErrInvalidArgument) && !errors.Is(err, spec.ErrCapabilityDenied)
}

func classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case ctx.Err() != nil, errors.Is(err, spec.ErrInvalidArgument), errors.Is(err, spec.ErrCapabilityDenied):
		return outcomeNeutral
	default:
		return outcomeFailure
	}
}
