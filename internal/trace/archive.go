package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/storage"
)

// ArchiveRecorder batches trace events per session and writes each
// batch to the object store when it reaches flushEvery events or the
// session finishes. Archive failures are logged, never propagated; a
// run must not fail because its trace could not be persisted.
type ArchiveRecorder struct {
	store      storage.ObjectStore
	logger     *slog.Logger
	format     string
	flushEvery int

	mu      sync.Mutex
	pending map[string][]Event
	batches map[string]int
}

func NewArchiveRecorder(store storage.ObjectStore, logger *slog.Logger, format string, flushEvery int) *ArchiveRecorder {
	if flushEvery <= 0 {
		flushEvery = 32
	}
	return &ArchiveRecorder{
		store:      store,
		logger:     logger,
		format:     format,
		flushEvery: flushEvery,
		pending:    map[string][]Event{},
		batches:    map[string]int{},
	}
}

func (r *ArchiveRecorder) Record(ctx context.Context, event Event) {
	r.mu.Lock()
	r.pending[event.SessionID] = append(r.pending[event.SessionID], event)
	full := len(r.pending[event.SessionID]) >= r.flushEvery
	r.mu.Unlock()

	if full {
		r.flush(ctx, event.SessionID)
	}
}

func (r *ArchiveRecorder) RunFinished(ctx context.Context, sessionID string) {
	r.flush(ctx, sessionID)
	r.mu.Lock()
	delete(r.pending, sessionID)
	delete(r.batches, sessionID)
	r.mu.Unlock()
}

func (r *ArchiveRecorder) flush(ctx context.Context, sessionID string) {
	r.mu.Lock()
	events := r.pending[sessionID]
	r.pending[sessionID] = nil
	if len(events) == 0 {
		// An empty flush must not consume a batch number, or the
		// archived sequence for the session would have gaps.
		r.mu.Unlock()
		return
	}
	batch := r.batches[sessionID]
	r.batches[sessionID] = batch + 1
	r.mu.Unlock()

	data, contentType, err := encodeEvents(events, r.format)
	if err != nil {
		r.logger.Error("encoding trace batch failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	key, err := storage.BuildTraceArchivePath(sessionID, batch, time.Now(), r.format)
	if err != nil {
		r.logger.Error("building trace archive key failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := r.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: contentType}); err != nil {
		r.logger.Error("archiving trace batch failed",
			slog.String("session_id", sessionID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}

	r.logger.Debug("trace batch archived",
		slog.String("session_id", sessionID),
		slog.String("key", key),
		slog.Int("events", len(events)),
	)
}

type parquetEvent struct {
	SessionID string `parquet:"session_id"`
	Seq       int64  `parquet:"seq"`
	Kind      string `parquet:"kind"`
	Tool      string `parquet:"tool"`
	Detail    string `parquet:"detail"`
	AtUnixMs  int64  `parquet:"at_unix_ms"`
}

func encodeEvents(events []Event, format string) ([]byte, string, error) {
	switch format {
	case "parquet":
		data, err := encodeParquet(events)
		return data, "application/octet-stream", err
	case "json":
		data, err := json.Marshal(events)
		return data, "application/json", err
	default:
		return nil, "", fmt.Errorf("unsupported archive format: %q", format)
	}
}

func encodeParquet(events []Event) ([]byte, error) {
	rows := make([]parquetEvent, 0, len(events))
	for _, event := range events {
		rows = append(rows, parquetEvent{
			SessionID: event.SessionID,
			Seq:       int64(event.Seq),
			Kind:      string(event.Kind),
			Tool:      event.Tool,
			Detail:    event.Detail,
			AtUnixMs:  event.At.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEvent](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
