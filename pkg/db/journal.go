package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/callcore/pkg/call"
)

const journalLogPrefix = "db:journal"

const (
	defaultJournalBatchSize     = 100
	defaultJournalBufferSize    = 1000
	defaultJournalFlushInterval = 500 * time.Millisecond
	defaultJournalWriteTimeout  = 5 * time.Second
)

// InvocationWriter persists journal batches. *Repository implements it.
type InvocationWriter interface {
	InsertInvocations(ctx context.Context, records []InvocationRecord) (int64, error)
}

// JournalOptions tunes a Journal. Zero values select the defaults.
type JournalOptions struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
}

// Journal is a call.Observer that records every invocation event. Events
// are buffered and written in batches from a single goroutine; when the
// buffer is full new events are dropped rather than blocking the caller.
type Journal struct {
	writer        InvocationWriter
	records       chan InvocationRecord
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewJournal starts a Journal writing to w.
func NewJournal(w InvocationWriter, opts JournalOptions) *Journal {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultJournalBatchSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultJournalBufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultJournalFlushInterval
	}
	j := &Journal{
		writer:        w,
		records:       make(chan InvocationRecord, opts.BufferSize),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		done:          make(chan struct{}),
	}
	go j.run()
	return j
}

// ObserveInvocation enqueues ev.
func (j *Journal) ObserveInvocation(ev call.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.records <- RecordFromEvent(ev):
	default:
		j.dropped.Add(1)
		slog.Warn(fmt.Sprintf("%s - Dropping journal record %s for %s.%s: buffer full", journalLogPrefix, ev.ID, ev.ServiceID, ev.Method))
	}
}

// Dropped returns the number of events not recorded.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns the number of rows written.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Close flushes buffered records and stops the writer. It waits until ctx
// is done at most.
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.records)
	}
	j.mu.Unlock()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		slog.Warn(fmt.Sprintf("%s - Timed out waiting for journal flush", journalLogPrefix))
		return ctx.Err()
	}
}

func (j *Journal) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	batch := make([]InvocationRecord, 0, j.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultJournalWriteTimeout)
		defer cancel()
		n, err := j.writer.InsertInvocations(ctx, batch)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to persist %d journal records: %v", journalLogPrefix, len(batch), err))
		}
		if n > 0 {
			j.written.Add(uint64(n))
		}
		batch = make([]InvocationRecord, 0, j.batchSize)
	}

	for {
		select {
		case rec, ok := <-j.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// RecordFromEvent converts an invocation event into a journal row.
func RecordFromEvent(ev call.Event) InvocationRecord {
	rec := InvocationRecord{
		ID:         ev.ID,
		ServiceID:  ev.ServiceID,
		Method:     ev.Method,
		Mode:       string(ev.Mode),
		Status:     ev.Status,
		Started:    ev.Started.UTC(),
		DurationMs: float64(ev.Duration.Microseconds()) / 1000,
	}
	if ev.Code != "" {
		code := ev.Code
		rec.Code = &code
	}
	if ev.Host != "" {
		host := ev.Host
		rec.Host = &host
	}
	if ev.Err != nil {
		msg := ev.Err.Error()
		rec.Error = &msg
	}
	if rec.Started.IsZero() {
		rec.Started = time.Now().UTC()
	}
	return rec
}
