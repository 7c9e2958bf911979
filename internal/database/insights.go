package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Processing statuses. Transitions are monotonic within a run:
// pending → processing → completed|failed, never back out of a terminal state.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Insight is one audio file's processing record as stored.
type Insight struct {
	ID               string
	Filename         string
	FilePath         string
	ProcessingStatus string
	Transcription    *string
	Topic            *string
	Sentiment        *string
	Language         *string
	ActionItems      *string // JSON-encoded []string; nil = not yet analyzed
	Summary          string
	ConfidenceScore  *float64
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

// InsightAPI is the insight representation for API responses.
type InsightAPI struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	FilePath         string     `json:"file_path"`
	ProcessingStatus string     `json:"processing_status"`
	Transcription    *string    `json:"transcription"`
	Topic            *string    `json:"topic"`
	Sentiment        *string    `json:"sentiment"`
	Language         *string    `json:"language"`
	ActionItems      []string   `json:"action_items"`
	Summary          string     `json:"summary"`
	ConfidenceScore  *float64   `json:"confidence_score"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at"`
}

// API converts a stored insight to its response projection. The action items
// column is decoded here; a missing or corrupt value reads back as an empty
// list, never null.
func (in *Insight) API() InsightAPI {
	return InsightAPI{
		ID:               in.ID,
		Filename:         in.Filename,
		FilePath:         in.FilePath,
		ProcessingStatus: in.ProcessingStatus,
		Transcription:    in.Transcription,
		Topic:            in.Topic,
		Sentiment:        in.Sentiment,
		Language:         in.Language,
		ActionItems:      DecodeActionItems(in.ActionItems),
		Summary:          in.Summary,
		ConfidenceScore:  in.ConfidenceScore,
		CreatedAt:        in.CreatedAt,
		UpdatedAt:        in.UpdatedAt,
	}
}

// InsightUpdate is a partial field set for UpdateInsight. Nil fields are left
// untouched, so concurrent partial updates to different fields don't clobber
// each other. ActionItems uses a pointer to distinguish "not provided" (nil)
// from "set to the empty list".
type InsightUpdate struct {
	ProcessingStatus *string
	Transcription    *string
	Topic            *string
	Sentiment        *string
	Language         *string
	ActionItems      *[]string
	Summary          *string
	ConfidenceScore  *float64
}

// EncodeActionItems serializes action items for storage. A nil slice encodes
// as the empty list, keeping "analyzed, nothing to do" representable.
func EncodeActionItems(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeActionItems parses a stored action items value. Nil input and decode
// failures both yield the empty list.
func DecodeActionItems(raw *string) []string {
	if raw == nil || *raw == "" {
		return []string{}
	}
	var items []string
	if err := json.Unmarshal([]byte(*raw), &items); err != nil || items == nil {
		return []string{}
	}
	return items
}

const insightColumns = `id, filename, file_path, processing_status, transcription,
	topic, sentiment, language, action_items, summary, confidence_score,
	created_at, updated_at`

func scanInsight(row pgx.Row) (*Insight, error) {
	var in Insight
	err := row.Scan(
		&in.ID, &in.Filename, &in.FilePath, &in.ProcessingStatus, &in.Transcription,
		&in.Topic, &in.Sentiment, &in.Language, &in.ActionItems, &in.Summary,
		&in.ConfidenceScore, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// CreateInsight inserts a new pending record for an uploaded file and returns it.
// The id is assigned here and never changes.
func (db *DB) CreateInsight(ctx context.Context, filename, filePath string) (*Insight, error) {
	id := uuid.NewString()
	in, err := scanInsight(db.Pool.QueryRow(ctx, `
		INSERT INTO insights (id, filename, file_path, processing_status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+insightColumns,
		id, filename, filePath, StatusPending,
	))
	if err != nil {
		return nil, fmt.Errorf("insert insight: %w", err)
	}
	return in, nil
}

// UpdateInsight applies a partial update. Only the fields set on upd enter the
// SET clause; updated_at is always bumped. Returns nil (no error) if the
// record does not exist.
func (db *DB) UpdateInsight(ctx context.Context, id string, upd InsightUpdate) (*Insight, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.ProcessingStatus != nil {
		add("processing_status", *upd.ProcessingStatus)
	}
	if upd.Transcription != nil {
		add("transcription", *upd.Transcription)
	}
	if upd.Topic != nil {
		add("topic", *upd.Topic)
	}
	if upd.Sentiment != nil {
		add("sentiment", *upd.Sentiment)
	}
	if upd.Language != nil {
		add("language", *upd.Language)
	}
	if upd.ActionItems != nil {
		add("action_items", EncodeActionItems(*upd.ActionItems))
	}
	if upd.Summary != nil {
		add("summary", *upd.Summary)
	}
	if upd.ConfidenceScore != nil {
		add("confidence_score", *upd.ConfidenceScore)
	}

	query := fmt.Sprintf(`UPDATE insights SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(sets, ", "), insightColumns)

	in, err := scanInsight(db.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update insight: %w", err)
	}
	return in, nil
}

// GetInsight returns a record by id, or nil if it does not exist.
func (db *DB) GetInsight(ctx context.Context, id string) (*Insight, error) {
	in, err := scanInsight(db.Pool.QueryRow(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get insight: %w", err)
	}
	return in, nil
}

// ListInsights returns all records, newest first.
func (db *DB) ListInsights(ctx context.Context) ([]Insight, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+insightColumns+` FROM insights ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *in)
	}
	if result == nil {
		result = []Insight{}
	}
	return result, rows.Err()
}

// DeleteInsight removes a record. Returns false if no record had that id.
func (db *DB) DeleteInsight(ctx context.Context, id string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM insights WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete insight: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DemoteStaleProcessing marks processing records that have not been touched
// since the cutoff as failed. There is no automatic retry: a record stuck in
// processing means the process died mid-run, and the diagnostic goes into the
// transcription field like any other pipeline failure. Summaries already
// written are kept.
func (db *DB) DemoteStaleProcessing(ctx context.Context, olderThan time.Duration, diagnostic, fallbackSummary string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE insights SET
			processing_status = $1,
			transcription = $2,
			summary = CASE WHEN summary = '' THEN $3 ELSE summary END,
			updated_at = now()
		WHERE processing_status = $4
		  AND COALESCE(updated_at, created_at) < now() - $5::interval
	`, StatusFailed, diagnostic, fallbackSummary, StatusProcessing,
		fmt.Sprintf("%f seconds", olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("demote stale processing: %w", err)
	}
	return tag.RowsAffected(), nil
}
