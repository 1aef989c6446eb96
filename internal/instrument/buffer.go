package instrument

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// EventBuffer collects events in memory and periodically flushes them to the
// _events table in a batch insert. The placeholder function comes from the
// store dialect so the buffer works unchanged on postgres and sqlite.
type EventBuffer struct {
	mu          sync.Mutex
	events      []Event
	db          *sql.DB
	placeholder func(index int) string
	maxSize     int
	ticker      *time.Ticker
	done        chan struct{}
}

// NewEventBuffer creates a buffer that flushes on a timer or when full.
func NewEventBuffer(db *sql.DB, placeholder func(int) string, maxSize int, flushIntervalMs int) *EventBuffer {
	eb := &EventBuffer{
		db:          db,
		placeholder: placeholder,
		maxSize:     maxSize,
		done:        make(chan struct{}),
	}
	eb.ticker = time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush()
		}
	}
}

// Enqueue adds an event to the buffer. If the buffer is full, a flush is
// triggered asynchronously.
func (eb *EventBuffer) Enqueue(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	shouldFlush := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if shouldFlush {
		go eb.Flush()
	}
}

// Flush writes all buffered events to the database in a single batch insert.
func (eb *EventBuffer) Flush() {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("INSERT INTO _events (trace_id, span_id, parent_span_id, event_type, source, component, action, entity, record_id, duration_ms, status, metadata, created_at) VALUES ")
	args := make([]any, 0, len(batch)*13)
	idx := 1
	for i, ev := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < 13; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(eb.placeholder(idx))
			idx++
		}
		sb.WriteString(")")

		meta, err := json.Marshal(ev.Metadata)
		if err != nil {
			meta = []byte("{}")
		}
		args = append(args,
			ev.TraceID, ev.SpanID, ev.ParentSpanID, ev.EventType,
			ev.Source, ev.Component, ev.Action, ev.Entity, ev.RecordID,
			ev.DurationMs, ev.Status, string(meta), ev.CreatedAt,
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := eb.db.ExecContext(ctx, sb.String(), args...); err != nil {
		log.Printf("ERROR: event buffer flush %d events: %v", len(batch), err)
	}
}

// Close stops the ticker and flushes whatever remains.
func (eb *EventBuffer) Close() {
	eb.ticker.Stop()
	close(eb.done)
	eb.Flush()
}

// Prune deletes events older than the retention window.
func (eb *EventBuffer) Prune(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	if _, err := eb.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM _events WHERE created_at < %s", eb.placeholder(1)), cutoff); err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	return nil
}
