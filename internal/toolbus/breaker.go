package toolbus

import (
	"sync"
	"time"

	"github.com/xingyang1991/nightfall/spec"
)

type BreakerConfig struct {
	// FailureThreshold consecutive failures within Window open the circuit.
	FailureThreshold int
	Window           time.Duration
	// Cooldown is how long an open circuit rejects calls before a single
	// trial call is let through.
	Cooldown time.Duration
}

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeNeutral says nothing about provider health (caller errors,
	// caller cancellation).
	outcomeNeutral
)

type breaker struct {
	state     BreakerState
	failures  int
	firstFail time.Time
	openedAt  time.Time
	trial     bool
}

// Breakers holds one circuit breaker per provider.
type Breakers struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time
	m   map[string]*breaker
}

func NewBreakers(cfg BreakerConfig, now func() time.Time) *Breakers {
	if now == nil {
		now = time.Now
	}
	return &Breakers{cfg: cfg, now: now, m: map[string]*breaker{}}
}

func (b *Breakers) get(provider string) *breaker {
	br, ok := b.m[provider]
	if !ok {
		br = &breaker{state: BreakerClosed}
		b.m[provider] = br
	}
	return br
}

// Allow reports whether a call to provider may proceed. An open circuit
// whose cool-down elapsed admits exactly one trial call.
func (b *Breakers) Allow(provider string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	br := b.get(provider)
	switch br.state {
	case BreakerOpen:
		if b.now().Sub(br.openedAt) < b.cfg.Cooldown {
			return spec.ErrCircuitOpen
		}
		br.state = BreakerHalfOpen
		br.trial = true
		return nil
	case BreakerHalfOpen:
		if br.trial {
			return spec.ErrCircuitOpen
		}
		br.trial = true
		return nil
	default:
		return nil
	}
}

func (b *Breakers) report(provider string, o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	br := b.get(provider)
	now := b.now()
	switch o {
	case outcomeSuccess:
		*br = breaker{state: BreakerClosed}
	case outcomeNeutral:
		br.trial = false
	case outcomeFailure:
		if br.state == BreakerHalfOpen {
			br.state = BreakerOpen
			br.openedAt = now
			br.trial = false
			return
		}
		if br.failures == 0 || (b.cfg.Window > 0 && now.Sub(br.firstFail) > b.cfg.Window) {
			br.failures = 0
			br.firstFail = now
		}
		br.failures++
		if b.cfg.FailureThreshold > 0 && br.failures >= b.cfg.FailureThreshold {
			br.state = BreakerOpen
			br.openedAt = now
		}
	}
}

// State returns the current state of provider's circuit.
func (b *Breakers) State(provider string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.m[provider]; ok {
		return br.state
	}
	return BreakerClosed
}
