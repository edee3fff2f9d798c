package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recorder is what services call after a privileged mutation. Recording never
// blocks the caller and never reports failure.
type Recorder interface {
	Record(ctx context.Context, action, details string, actor uuid.UUID)
}

// LoggerConfig tunes the background writer.
type LoggerConfig struct {
	QueueSize    int
	MaxAttempts  int
	Backoff      time.Duration
	WriteTimeout time.Duration
}

// Stats counts what happened to recorded entries.
type Stats struct {
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// Logger queues audit entries and writes them from a single worker goroutine
// with bounded retries.
type Logger struct {
	repo   Repository
	cfg    LoggerConfig
	logger zerolog.Logger
	queue  chan *Entry
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewLogger(repo Repository, cfg LoggerConfig, logger zerolog.Logger) *Logger {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Logger{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With().Str("component", "audit").Logger(),
		queue:  make(chan *Entry, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the writer. It is safe to call more than once.
func (l *Logger) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Record enqueues an entry. A nil actor is stored as NULL. The request context
// is not used for the write, which outlives the request.
func (l *Logger) Record(_ context.Context, action, details string, actor uuid.UUID) {
	e := &Entry{ID: uuid.New(), Action: action, Details: details, CreatedAt: time.Now()}
	if actor != uuid.Nil {
		e.PerformedBy = &actor
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.drop(e, "logger closed")
		return
	}
	select {
	case l.queue <- e:
	default:
		l.drop(e, "queue full")
	}
}

func (l *Logger) drop(e *Entry, reason string) {
	l.dropped.Add(1)
	l.logger.Warn().
		Str("action", e.Action).
		Str("details", e.Details).
		Str("reason", reason).
		Msg("audit entry dropped")
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.queue {
		l.write(e)
	}
}

func (l *Logger) write(e *Entry) {
	var err error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
		err = l.repo.Create(ctx, e)
		cancel()
		if err == nil {
			l.written.Add(1)
			return
		}
		if attempt < l.cfg.MaxAttempts {
			time.Sleep(l.cfg.Backoff * time.Duration(attempt))
		}
	}

	l.failed.Add(1)
	ev := l.logger.Error().Err(err).
		Str("audit_id", e.ID.String()).
		Str("action", e.Action).
		Str("details", e.Details).
		Int("attempts", l.cfg.MaxAttempts)
	if e.PerformedBy != nil {
		ev = ev.Str("performed_by", e.PerformedBy.String())
	}
	ev.Msg("audit entry could not be written")
}

// Stats returns counters since construction.
func (l *Logger) Stats() Stats {
	return Stats{
		Written: l.written.Load(),
		Failed:  l.failed.Load(),
		Dropped: l.dropped.Load(),
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to
// expire. The writer is started if it never was, so queued entries are not
// lost.
func (l *Logger) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	l.Start()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard is a Recorder that drops everything. Useful where auditing is not
// wired, such as CLI commands.
type Discard struct{}

func (Discard) Record(context.Context, string, string, uuid.UUID) {}
