package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/offload-core/internal/events"
	"github.com/nerrad567/offload-core/internal/infrastructure/database"
)

// Defaults for Options.
const (
	defaultBufferSize    = 4096
	defaultBatchSize     = 256
	defaultFlushInterval = time.Second
)

// Logger defines the logging interface used by the writer.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options tunes the writer. Zero values take defaults.
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Logger        Logger
}

// Stats reports writer counters.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Ledger is an asynchronous SQLite events.Sink.
type Ledger struct {
	db   *database.DB
	opts Options

	mu     sync.RWMutex
	ch     chan events.Event
	closed bool
	done   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a ledger over an already migrated database.
func New(db *database.DB, opts Options) *Ledger {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Ledger{
		db:   db,
		opts: opts,
		ch:   make(chan events.Event, opts.BufferSize),
		done: make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (l *Ledger) Start() {
	go l.run()
}

// Emit implements events.Sink. It drops the event if the buffer is full or
// the ledger is closed.
func (l *Ledger) Emit(ev events.Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.ch <- ev:
	default:
		l.dropped.Add(1)
	}
}

// Close stops accepting events and waits for the writer to flush what is
// buffered, or for ctx to expire.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flushing ledger: %w", ctx.Err())
	}
}

// Stats returns writer counters.
func (l *Ledger) Stats() Stats {
	return Stats{
		Written: l.written.Load(),
		Dropped: l.dropped.Load(),
		Failed:  l.failed.Load(),
	}
}

func (l *Ledger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]events.Event, 0, l.opts.BatchSize)
	for {
		select {
		case ev, ok := <-l.ch:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= l.opts.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

const insertEvent = `
	INSERT INTO message_events (kind, message_id, worker, device, duration_us, error, state, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (l *Ledger) flush(batch []events.Event) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertEvent)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for _, ev := range batch {
			if _, err := stmt.ExecContext(ctx,
				string(ev.Kind),
				nullString(ev.MessageID),
				ev.Worker,
				ev.Device,
				ev.Duration.Microseconds(),
				nullString(ev.Error),
				nullString(ev.State),
				ev.Time.UTC().Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("inserting event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		l.failed.Add(uint64(len(batch)))
		l.opts.Logger.Error("ledger write failed", "events", len(batch), "error", err)
		return
	}
	l.written.Add(uint64(len(batch)))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
