package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/offload-core/internal/events"
)

// KindSummary aggregates events of one kind.
type KindSummary struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	AvgDurationUS float64 `json:"avg_duration_us"`
}

// Summary aggregates the whole ledger.
type Summary struct {
	Kinds       map[events.Kind]KindSummary `json:"kinds"`
	DeviceCount map[int]int64               `json:"device_dispatches"`
}

// Summary returns per-kind totals and per-device dispatch counts.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	kinds, err := l.kindSummary(ctx)
	if err != nil {
		return Summary{}, err
	}
	devices, err := l.deviceSummary(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Kinds: kinds, DeviceCount: devices}, nil
}

// The pool holds a single connection, so each query must release its rows
// before the next one runs.
func (l *Ledger) kindSummary(ctx context.Context) (map[events.Kind]KindSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT kind, COUNT(*), COUNT(error), COALESCE(AVG(duration_us), 0)
		FROM message_events
		GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("querying kind summary: %w", err)
	}
	defer rows.Close()

	out := make(map[events.Kind]KindSummary)
	for rows.Next() {
		var kind string
		var ks KindSummary
		if err := rows.Scan(&kind, &ks.Count, &ks.Errors, &ks.AvgDurationUS); err != nil {
			return nil, fmt.Errorf("scanning kind summary: %w", err)
		}
		out[events.Kind(kind)] = ks
	}
	return out, rows.Err()
}

func (l *Ledger) deviceSummary(ctx context.Context) (map[int]int64, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT device, COUNT(*)
		FROM message_events
		WHERE kind = ? AND device >= 0
		GROUP BY device`, string(events.KindDispatched))
	if err != nil {
		return nil, fmt.Errorf("querying device summary: %w", err)
	}
	defer rows.Close()

	out := make(map[int]int64)
	for rows.Next() {
		var dev int
		var n int64
		if err := rows.Scan(&dev, &n); err != nil {
			return nil, fmt.Errorf("scanning device summary: %w", err)
		}
		out[dev] = n
	}
	return out, rows.Err()
}

// History returns every event recorded for a message, oldest first.
func (l *Ledger) History(ctx context.Context, messageID string) ([]events.Event, error) {
	return l.query(ctx, `
		SELECT kind, message_id, worker, device, duration_us, error, state, created_at
		FROM message_events
		WHERE message_id = ?
		ORDER BY id`, messageID)
}

// Recent returns the newest events, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.query(ctx, `
		SELECT kind, message_id, worker, device, duration_us, error, state, created_at
		FROM message_events
		ORDER BY id DESC
		LIMIT ?`, limit)
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]events.Event, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			ev                   events.Event
			kind, created        string
			msgID, errStr, state sql.NullString
			durationUS           int64
		)
		if err := rows.Scan(&kind, &msgID, &ev.Worker, &ev.Device, &durationUS, &errStr, &state, &created); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Kind = events.Kind(kind)
		ev.MessageID = msgID.String
		ev.Error = errStr.String
		ev.State = state.String
		ev.Duration = time.Duration(durationUS) * time.Microsecond
		ev.Time, _ = time.Parse(time.RFC3339Nano, created) //nolint:errcheck // format is written by us
		out = append(out, ev)
	}
	return out, rows.Err()
}
