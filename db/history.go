package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// timeLayout keeps created_at lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// GenerationRecord is one row of generation_history.
type GenerationRecord struct {
	ID            string    `json:"id"`
	Operation     string    `json:"operation"`
	Prompt        string    `json:"prompt"`
	Strength      float64   `json:"strength"`
	GuidanceScale float64   `json:"guidance_scale"`
	Steps         int       `json:"steps"`
	Seed          *int64    `json:"seed"`
	EnhanceFaces  bool      `json:"enhance_faces"`
	Upscale       bool      `json:"upscale"`
	UpscaleScale  int       `json:"upscale_scale"`
	Status        string    `json:"status"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	Message       string    `json:"message,omitempty"`
	Device        string    `json:"device,omitempty"`
	Model         string    `json:"model,omitempty"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	DurationMS    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// ErrClosed is returned once the store has been closed.
var ErrClosed = errors.New("db: history store closed")

const insertGeneration = `
	INSERT INTO generation_history (
		id, operation, prompt, strength, guidance_scale, steps, seed,
		enhance_faces, upscale, upscale_scale, status, failure_kind, message,
		device, model, width, height, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// History reads and writes generation_history. Inserts go through an
// AsyncWriter when one is running.
type History struct {
	store  *Database
	writer *AsyncWriter
	logger *zap.Logger
}

// NewHistory wraps store. Call Start to enable asynchronous inserts.
func NewHistory(store *Database, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &History{store: store, logger: logger.Named("history")}
	h.writer = NewAsyncWriter(h.writeHandler, DefaultChannelCapacity, h.logger)
	return h
}

// Start launches the background writer.
func (h *History) Start() {
	h.writer.Start()
}

// Writer exposes the background writer for draining at shutdown.
func (h *History) Writer() *AsyncWriter {
	return h.writer
}

// Record queues rec for insertion. When the queue is full or stopped, rec
// is dropped and logged rather than blocking the caller.
func (h *History) Record(rec GenerationRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if !h.writer.Write(rec) {
		h.logger.Warn("history record dropped",
			zap.String("id", rec.ID),
			zap.Int("pending", h.writer.Pending()))
	}
}

func (h *History) writeHandler(ctx context.Context, op WriteOperation) error {
	rec, ok := op.Data.(GenerationRecord)
	if !ok {
		return fmt.Errorf("invalid operation type %T: expected GenerationRecord", op.Data)
	}
	return h.Insert(ctx, rec)
}

// Insert writes rec synchronously.
func (h *History) Insert(ctx context.Context, rec GenerationRecord) error {
	conn := h.store.DB()
	if conn == nil {
		return ErrClosed
	}
	if rec.ID == "" {
		return fmt.Errorf("history record id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var seed sql.NullInt64
	if rec.Seed != nil {
		seed = sql.NullInt64{Int64: *rec.Seed, Valid: true}
	}
	_, err := conn.ExecContext(ctx, insertGeneration,
		rec.ID, rec.Operation, rec.Prompt, rec.Strength, rec.GuidanceScale, rec.Steps, seed,
		rec.EnhanceFaces, rec.Upscale, rec.UpscaleScale, rec.Status,
		nullString(rec.FailureKind), nullString(rec.Message),
		nullString(rec.Device), nullString(rec.Model),
		rec.Width, rec.Height, rec.DurationMS,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A limit of 0 or less
// means 20.
func (h *History) Recent(ctx context.Context, limit int) ([]GenerationRecord, error) {
	conn := h.store.DB()
	if conn == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, operation, prompt, strength, guidance_scale, steps, seed,
			   enhance_faces, upscale, upscale_scale, status,
			   COALESCE(failure_kind, ''), COALESCE(message, ''),
			   COALESCE(device, ''), COALESCE(model, ''),
			   width, height, duration_ms, created_at
		FROM generation_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation history: %w", err)
	}
	defer rows.Close()

	records := []GenerationRecord{}
	for rows.Next() {
		var (
			rec       GenerationRecord
			seed      sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Operation, &rec.Prompt, &rec.Strength, &rec.GuidanceScale, &rec.Steps, &seed,
			&rec.EnhanceFaces, &rec.Upscale, &rec.UpscaleScale, &rec.Status,
			&rec.FailureKind, &rec.Message, &rec.Device, &rec.Model,
			&rec.Width, &rec.Height, &rec.DurationMS, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan generation history row: %w", err)
		}
		if seed.Valid {
			v := seed.Int64
			rec.Seed = &v
		}
		rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation history rows: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (h *History) Count(ctx context.Context) (int64, error) {
	conn := h.store.DB()
	if conn == nil {
		return 0, ErrClosed
	}
	var n int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM generation_history").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count generation history: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
