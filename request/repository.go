package request

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the request does not exist on this conflict.
	ErrNotFound = errors.New("request: not found")
)

// Repository defines data access for the request ledger. Mutations run in
// the caller's transaction alongside the conflict row lock.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, conflictID, requestID string) (Record, error)
	SetAccepted(ctx context.Context, tx pgx.Tx, requestID string) error
	SetFulfilled(ctx context.Context, tx pgx.Tx, requestID string) error
	ListByConflict(ctx context.Context, conflictID string) ([]Record, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const query = `
		INSERT INTO requests (id, conflict_id, requester_id, body, category)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, conflict_id, requester_id, body, category, accepted, fulfilled, created_at
	`
	var out Record
	err := tx.QueryRow(ctx, query, rec.ID, rec.ConflictID, rec.RequesterID, rec.Body, rec.Category).
		Scan(&out.ID, &out.ConflictID, &out.RequesterID, &out.Body, &out.Category, &out.Accepted, &out.Fulfilled, &out.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("request: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, conflictID, requestID string) (Record, error) {
	const query = `
		SELECT id, conflict_id, requester_id, body, category, accepted, fulfilled, created_at
		FROM requests
		WHERE id = $1 AND conflict_id = $2
		FOR UPDATE
	`
	var rec Record
	err := tx.QueryRow(ctx, query, requestID, conflictID).
		Scan(&rec.ID, &rec.ConflictID, &rec.RequesterID, &rec.Body, &rec.Category, &rec.Accepted, &rec.Fulfilled, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("request: lock: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) SetAccepted(ctx context.Context, tx pgx.Tx, requestID string) error {
	if _, err := tx.Exec(ctx, `UPDATE requests SET accepted = true WHERE id = $1`, requestID); err != nil {
		return fmt.Errorf("request: set accepted: %w", err)
	}
	return nil
}

func (r *PGRepository) SetFulfilled(ctx context.Context, tx pgx.Tx, requestID string) error {
	// accepted in the predicate keeps the fulfilled-implies-accepted
	// invariant even if the caller's precondition check raced.
	tag, err := tx.Exec(ctx, `UPDATE requests SET fulfilled = true WHERE id = $1 AND accepted`, requestID)
	if err != nil {
		return fmt.Errorf("request: set fulfilled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotAccepted
	}
	return nil
}

func (r *PGRepository) ListByConflict(ctx context.Context, conflictID string) ([]Record, error) {
	const query = `
		SELECT id, conflict_id, requester_id, body, category, accepted, fulfilled, created_at
		FROM requests
		WHERE conflict_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, conflictID)
	if err != nil {
		return nil, fmt.Errorf("request: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ConflictID, &rec.RequesterID, &rec.Body, &rec.Category, &rec.Accepted, &rec.Fulfilled, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("request: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate: %w", err)
	}
	return out, nil
}
