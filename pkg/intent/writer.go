// Package intent implements the Intent Log (C11): an append-only, async
// record of every state-changing action the control plane takes, plus the
// CostLedger that tallies sandbox-minutes spent per owner.
package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/CoderRahul01/unideploy/internal/db"
)

// Entry is one recorded action (§4.11).
type Entry struct {
	ActorSubject string
	Action       string
	ProjectID    int64
	DeploymentID int64
	Result       string
	Detail       json.RawMessage
}

// Result values for Entry.Result (§3 data model).
const (
	ResultSuccess  = "SUCCESS"
	ResultRejected = "REJECTED"
	ResultFailed   = "FAILED"
)

// Detail marshals v to a json.RawMessage for Entry.Detail, returning nil on
// a marshal failure rather than propagating it: a malformed detail blob
// should never be the reason an intent goes unrecorded.
func Detail(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Writer is an async, buffered, batched intent log writer, modeled on the
// reference platform's audit log writer: callers never block on a database
// round trip to record an intent.
type Writer struct {
	dbtx    db.DBTX
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an intent Writer. Call Start to begin processing.
func NewWriter(dbtx db.DBTX, logger *slog.Logger) *Writer {
	return &Writer{
		dbtx:    dbtx,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start launches the background flush loop in its own goroutine and returns
// immediately. The loop exits, after flushing what is buffered, once ctx is
// cancelled or Close is called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting new entries and waits for the background loop to
// drain and flush everything buffered.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an entry without blocking. A full buffer drops the entry and
// logs a warning rather than stalling the caller — the intent log is a
// record of intent, not a transactional ledger callers depend on for
// correctness.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("intent log buffer full, dropping entry", "action", entry.Action)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO intent_log (actor_subject, action, project_id, deployment_id, result, detail)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ActorSubject, e.Action, nullIfZero(e.ProjectID), nullIfZero(e.DeploymentID), e.Result, e.Detail,
		)
	}

	br := w.dbtx.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			w.logger.Error("writing intent log entry", "error", err)
		}
	}
}

func nullIfZero(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
