package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const DefaultCapacity = 200

// Sink durably persists records. Write is called under the log's lock, in
// seq order.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

type Option func(*Log) error

func WithSink(s Sink) Option {
	return func(l *Log) error {
		if s == nil {
			return errors.New("nil audit sink")
		}
		l.sinks = append(l.sinks, s)
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) error {
		if logger != nil {
			l.logger = logger
		}
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) error {
		if now == nil {
			return errors.New("nil clock")
		}
		l.now = now
		return nil
	}
}

// Log is an in-memory ring of the most recent records with optional durable
// sinks. Safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	buf    []Record
	start  int
	size   int
	seq    uint64
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// New builds a log holding at most capacity records (DefaultCapacity if <= 0).
func New(capacity int, opts ...Option) (*Log, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		buf:    make([]Record, capacity),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Emit appends ev stamped with the trace carried by ctx and returns the
// stored record. Sink failures are logged and never fail the caller.
func (l *Log) Emit(ctx context.Context, ev Event) Record {
	tr, _ := TraceFrom(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rec := Record{
		Seq:       l.seq,
		At:        l.now().UTC(),
		TraceID:   tr.TraceID,
		SessionID: tr.SessionID,
		Event:     ev,
	}
	idx := (l.start + l.size) % len(l.buf)
	l.buf[idx] = rec
	if l.size < len(l.buf) {
		l.size++
	} else {
		l.start = (l.start + 1) % len(l.buf)
	}

	for _, s := range l.sinks {
		if err := s.Write(context.WithoutCancel(ctx), rec); err != nil {
			l.logger.Warn("audit sink write failed", "seq", rec.Seq, "kind", ev.Kind(), "error", err)
		}
	}
	return rec
}

// Tail returns up to n most recent records, oldest first. n <= 0 returns all.
func (l *Log) Tail(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Record, 0, n)
	for i := l.size - n; i < l.size; i++ {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}

// ByTrace returns the buffered records of one trace in seq order.
func (l *Log) ByTrace(traceID string) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Record
	for i := range l.size {
		r := l.buf[(l.start+i)%len(l.buf)]
		if r.TraceID == traceID {
			out = append(out, r)
		}
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Close closes every sink, joining their errors.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, s := range l.sinks {
		errs = append(errs, s.Close())
	}
	l.sinks = nil
	return errors.Join(errs...)
}
