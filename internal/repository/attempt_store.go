package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/ledger"
)

const uniqueViolation = "23505"

// PostgresStore implements ledger.Remote using PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL attempt store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping runs a trivial read
func (r *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return r.pool.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

// CountAttempts returns the number of attempts a user made at a resource
func (r *PostgresStore) CountAttempts(ctx context.Context, resourceID, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE resource_id = $1 AND user_id = $2`,
		resourceID, userID,
	).Scan(&n)
	return n, err
}

// LatestAttempt returns the highest numbered attempt, or nil
func (r *PostgresStore) LatestAttempt(ctx context.Context, resourceID, userID string) (*domain.Attempt, error) {
	query := `
		SELECT id::text, resource_id, user_id, attempt_number, started_at, completed_at
		FROM attempts WHERE resource_id = $1 AND user_id = $2
		ORDER BY attempt_number DESC
		LIMIT 1
	`
	a, err := scanAttempt(r.pool.QueryRow(ctx, query, resourceID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// InsertAttempt creates an attempt row
func (r *PostgresStore) InsertAttempt(ctx context.Context, a *domain.Attempt) error {
	query := `
		INSERT INTO attempts (id, resource_id, user_id, attempt_number, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, a.ID, a.ResourceID, a.UserID, a.AttemptNumber, a.StartedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateAttempt, pgErr.ConstraintName)
	}
	return err
}

// GetAttempt retrieves an attempt by ID
func (r *PostgresStore) GetAttempt(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	if _, err := uuid.Parse(attemptID); err != nil {
		return nil, domain.ErrAttemptNotFound
	}
	query := `
		SELECT id::text, resource_id, user_id, attempt_number, started_at, completed_at
		FROM attempts WHERE id = $1
	`
	a, err := scanAttempt(r.pool.QueryRow(ctx, query, attemptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAttemptNotFound
	}
	return a, err
}

// CompleteAttempt stamps the completion time
func (r *PostgresStore) CompleteAttempt(ctx context.Context, attemptID string, at time.Time) error {
	if _, err := uuid.Parse(attemptID); err != nil {
		return domain.ErrAttemptNotFound
	}
	result, err := r.pool.Exec(ctx, `UPDATE attempts SET completed_at = $2 WHERE id = $1`, attemptID, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

// ListAttempts returns a user's attempts at a resource with their scores
func (r *PostgresStore) ListAttempts(ctx context.Context, resourceID, userID string) ([]domain.Attempt, error) {
	query := `
		SELECT a.id::text, a.resource_id, a.user_id, a.attempt_number, a.started_at, a.completed_at, s.score
		FROM attempts a
		LEFT JOIN scores s ON s.attempt_id = a.id
		WHERE a.resource_id = $1 AND a.user_id = $2
		ORDER BY a.attempt_number
	`
	rows, err := r.pool.Query(ctx, query, resourceID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		if err := rows.Scan(&a.ID, &a.ResourceID, &a.UserID, &a.AttemptNumber, &a.StartedAt, &a.CompletedAt, &a.FinalScore); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// UpsertScore writes the one score row of an attempt
func (r *PostgresStore) UpsertScore(ctx context.Context, rec domain.ScoreRecord) error {
	query := `
		INSERT INTO scores (attempt_id, resource_id, user_id, score, progress_pct, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attempt_id) DO UPDATE SET
			score = EXCLUDED.score,
			progress_pct = EXCLUDED.progress_pct,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		rec.AttemptID, rec.ResourceID, rec.UserID, rec.Score, rec.ProgressPct, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// ReplaceElementScores swaps the element rows of an attempt in one transaction
func (r *PostgresStore) ReplaceElementScores(ctx context.Context, attemptID string, rows []domain.ElementScore) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM element_scores WHERE attempt_id = $1`, attemptID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(`
				INSERT INTO element_scores (attempt_id, segment, total_items, correct_items, points, confirmed)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				attemptID, string(row.Segment), row.TotalItems, row.CorrectItems, row.Points, row.Confirmed,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ReplaceItemScores swaps the item rows of an attempt in one transaction
func (r *PostgresStore) ReplaceItemScores(ctx context.Context, attemptID string, rows []domain.ItemScore) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM item_scores WHERE attempt_id = $1`, attemptID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(`
				INSERT INTO item_scores (attempt_id, segment, item_index, correct, points)
				VALUES ($1, $2, $3, $4, $5)`,
				attemptID, string(row.Segment), row.ItemIndex, row.Correct, row.Points,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ElementScores returns the element rows of an attempt
func (r *PostgresStore) ElementScores(ctx context.Context, attemptID string) ([]domain.ElementScore, error) {
	query := `
		SELECT attempt_id::text, segment, total_items, correct_items, points, confirmed
		FROM element_scores WHERE attempt_id = $1
		ORDER BY segment
	`
	rows, err := r.pool.Query(ctx, query, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ElementScore
	for rows.Next() {
		var e domain.ElementScore
		var segment string
		if err := rows.Scan(&e.AttemptID, &segment, &e.TotalItems, &e.CorrectItems, &e.Points, &e.Confirmed); err != nil {
			return nil, err
		}
		e.Segment = domain.SegmentID(segment)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertSummary stores the serialized summary of an attempt
func (r *PostgresStore) UpsertSummary(ctx context.Context, attemptID string, summary domain.ScoreSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	query := `
		INSERT INTO attempt_summaries (attempt_id, summary, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (attempt_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query, attemptID, data)
	return err
}

// Summary returns the stored summary of an attempt, or nil
func (r *PostgresStore) Summary(ctx context.Context, attemptID string) (*domain.ScoreSummary, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT summary FROM attempt_summaries WHERE attempt_id = $1`, attemptID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary domain.ScoreSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}

func scanAttempt(row pgx.Row) (*domain.Attempt, error) {
	var a domain.Attempt
	if err := row.Scan(&a.ID, &a.ResourceID, &a.UserID, &a.AttemptNumber, &a.StartedAt, &a.CompletedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// Ensure PostgresStore implements ledger.Remote
var _ ledger.Remote = (*PostgresStore)(nil)
