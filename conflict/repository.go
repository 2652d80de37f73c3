package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines the data access the conflict service needs. Mutating
// methods run inside the caller's transaction; reads go straight to the pool.
type Repository interface {
	InsertConflict(ctx context.Context, tx pgx.Tx, rec Record, memberA, memberB string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, conflictID, memberID string) (Record, Slot, error)
	GetAs(ctx context.Context, conflictID, memberID string) (Record, Slot, error)
	ListByMember(ctx context.Context, memberID string) ([]Record, error)
	SetPhase(ctx context.Context, tx pgx.Tx, conflictID string, phase Phase) error

	SaveDraft(ctx context.Context, tx pgx.Tx, conflictID, memberID, body string) error
	MarkSubmitted(ctx context.Context, tx pgx.Tx, conflictID, memberID, body string) (time.Time, error)
	SubmittedCount(ctx context.Context, tx pgx.Tx, conflictID string) (int, error)
	Perspectives(ctx context.Context, conflictID string) ([]Perspective, error)

	SetAccepted(ctx context.Context, tx pgx.Tx, conflictID string, slot Slot) (aAccepted, bAccepted bool, err error)
	RejectSynthesis(ctx context.Context, tx pgx.Tx, conflictID, feedback string) error
	CommitSynthesis(ctx context.Context, tx pgx.Tx, conflictID, text string) error
	SetResolved(ctx context.Context, tx pgx.Tx, conflictID, notes string) (time.Time, error)

	InsertMessage(ctx context.Context, tx pgx.Tx, msg Message) (Message, error)
	ListMessages(ctx context.Context, conflictID string) ([]Message, error)
	SetMessagePinned(ctx context.Context, tx pgx.Tx, conflictID, messageID string, pinned bool) error

	AppendTimeline(ctx context.Context, tx pgx.Tx, conflictID, eventType string, actorID *string, payload map[string]any) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const recordColumns = `c.id, c.couple_id, c.title, c.category, c.phase, c.synthesis,
	c.a_accepted, c.b_accepted, c.rejection_feedback, c.resolution_notes, c.created_at, c.resolved_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.CoupleID,
		&rec.Title,
		&rec.Category,
		&rec.Phase,
		&rec.Synthesis,
		&rec.AAccepted,
		&rec.BAccepted,
		&rec.RejectionFeedback,
		&rec.ResolutionNotes,
		&rec.CreatedAt,
		&rec.ResolvedAt,
	)
	return rec, err
}

func (r *PGRepository) InsertConflict(ctx context.Context, tx pgx.Tx, rec Record, memberA, memberB string) (Record, error) {
	const insertSQL = `
		INSERT INTO conflicts (id, couple_id, title, category, phase)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, couple_id, title, category, phase, synthesis,
			a_accepted, b_accepted, rejection_feedback, resolution_notes, created_at, resolved_at
	`
	created, err := scanRecord(tx.QueryRow(ctx, insertSQL, rec.ID, rec.CoupleID, rec.Title, rec.Category, rec.Phase))
	if err != nil {
		return Record{}, fmt.Errorf("conflict: insert: %w", err)
	}

	// Both perspective rows are created with the record so the two-rows
	// invariant holds from the first moment the conflict is visible.
	const perspectiveSQL = `
		INSERT INTO perspectives (conflict_id, member_id)
		VALUES ($1, $2), ($1, $3)
	`
	if _, err := tx.Exec(ctx, perspectiveSQL, created.ID, memberA, memberB); err != nil {
		return Record{}, fmt.Errorf("conflict: insert perspectives: %w", err)
	}

	return created, nil
}

// slotQuery yields the caller's slot via the couple's seat columns. A caller
// outside the couple matches no row, which callers must surface as ErrNotFound.
const slotExpr = `CASE WHEN k.member_a_id = $2 THEN 0 ELSE 1 END`

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, conflictID, memberID string) (Record, Slot, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM conflicts c
		JOIN couples k ON k.id = c.couple_id
		WHERE c.id = $1 AND (k.member_a_id = $2 OR k.member_b_id = $2)
		FOR UPDATE OF c
	`, recordColumns, slotExpr)

	rec, slot, err := scanRecordSlot(tx.QueryRow(ctx, query, conflictID, memberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, 0, ErrNotFound
		}
		return Record{}, 0, fmt.Errorf("conflict: lock record: %w", err)
	}
	return rec, slot, nil
}

func (r *PGRepository) GetAs(ctx context.Context, conflictID, memberID string) (Record, Slot, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM conflicts c
		JOIN couples k ON k.id = c.couple_id
		WHERE c.id = $1 AND (k.member_a_id = $2 OR k.member_b_id = $2)
	`, recordColumns, slotExpr)

	rec, slot, err := scanRecordSlot(r.pool.QueryRow(ctx, query, conflictID, memberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, 0, ErrNotFound
		}
		return Record{}, 0, fmt.Errorf("conflict: get record: %w", err)
	}
	return rec, slot, nil
}

func scanRecordSlot(row pgx.Row) (Record, Slot, error) {
	var (
		rec     Record
		slotInt int
	)
	err := row.Scan(
		&rec.ID,
		&rec.CoupleID,
		&rec.Title,
		&rec.Category,
		&rec.Phase,
		&rec.Synthesis,
		&rec.AAccepted,
		&rec.BAccepted,
		&rec.RejectionFeedback,
		&rec.ResolutionNotes,
		&rec.CreatedAt,
		&rec.ResolvedAt,
		&slotInt,
	)
	if err != nil {
		return Record{}, 0, err
	}
	return rec, Slot(slotInt), nil
}

func (r *PGRepository) ListByMember(ctx context.Context, memberID string) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM conflicts c
		JOIN couples k ON k.id = c.couple_id
		WHERE k.member_a_id = $1 OR k.member_b_id = $1
		ORDER BY c.created_at DESC
	`, recordColumns)

	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("conflict: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("conflict: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conflict: iterate records: %w", err)
	}
	return out, nil
}

func (r *PGRepository) SetPhase(ctx context.Context, tx pgx.Tx, conflictID string, phase Phase) error {
	if _, err := tx.Exec(ctx, `UPDATE conflicts SET phase = $2 WHERE id = $1`, conflictID, phase); err != nil {
		return fmt.Errorf("conflict: set phase: %w", err)
	}
	return nil
}

func (r *PGRepository) SaveDraft(ctx context.Context, tx pgx.Tx, conflictID, memberID, body string) error {
	// submitted = false in the predicate backs up the service-level check:
	// a submitted perspective is immutable no matter what raced in between.
	const query = `
		UPDATE perspectives
		SET body = $3
		WHERE conflict_id = $1 AND member_id = $2 AND submitted = false
	`
	tag, err := tx.Exec(ctx, query, conflictID, memberID, body)
	if err != nil {
		return fmt.Errorf("conflict: save draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadySubmitted
	}
	return nil
}

func (r *PGRepository) MarkSubmitted(ctx context.Context, tx pgx.Tx, conflictID, memberID, body string) (time.Time, error) {
	const query = `
		UPDATE perspectives
		SET body = $3, submitted = true, submitted_at = now()
		WHERE conflict_id = $1 AND member_id = $2 AND submitted = false
		RETURNING submitted_at
	`
	var at time.Time
	if err := tx.QueryRow(ctx, query, conflictID, memberID, body).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrAlreadySubmitted
		}
		return time.Time{}, fmt.Errorf("conflict: mark submitted: %w", err)
	}
	return at, nil
}

func (r *PGRepository) SubmittedCount(ctx context.Context, tx pgx.Tx, conflictID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM perspectives WHERE conflict_id = $1 AND submitted`, conflictID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("conflict: count submitted: %w", err)
	}
	return n, nil
}

func (r *PGRepository) Perspectives(ctx context.Context, conflictID string) ([]Perspective, error) {
	const query = `
		SELECT conflict_id, member_id, body, submitted, submitted_at
		FROM perspectives
		WHERE conflict_id = $1
		ORDER BY member_id
	`
	rows, err := r.pool.Query(ctx, query, conflictID)
	if err != nil {
		return nil, fmt.Errorf("conflict: perspectives: %w", err)
	}
	defer rows.Close()

	out := make([]Perspective, 0, 2)
	for rows.Next() {
		var p Perspective
		if err := rows.Scan(&p.ConflictID, &p.MemberID, &p.Body, &p.Submitted, &p.SubmittedAt); err != nil {
			return nil, fmt.Errorf("conflict: scan perspective: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conflict: iterate perspectives: %w", err)
	}
	return out, nil
}

// Per-slot acceptance queries. Each flips exactly one column so two members
// accepting concurrently can never overwrite each other's flag with a stale
// in-memory copy.
const (
	acceptSlotA = `UPDATE conflicts SET a_accepted = true WHERE id = $1 RETURNING a_accepted, b_accepted`
	acceptSlotB = `UPDATE conflicts SET b_accepted = true WHERE id = $1 RETURNING a_accepted, b_accepted`
)

func (r *PGRepository) SetAccepted(ctx context.Context, tx pgx.Tx, conflictID string, slot Slot) (bool, bool, error) {
	query := acceptSlotA
	if slot == SlotB {
		query = acceptSlotB
	}
	var a, b bool
	if err := tx.QueryRow(ctx, query, conflictID).Scan(&a, &b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, ErrNotFound
		}
		return false, false, fmt.Errorf("conflict: set accepted: %w", err)
	}
	return a, b, nil
}

func (r *PGRepository) RejectSynthesis(ctx context.Context, tx pgx.Tx, conflictID, feedback string) error {
	const query = `
		UPDATE conflicts
		SET rejection_feedback = $2,
		    a_accepted = false,
		    b_accepted = false,
		    phase = 'review'
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, conflictID, feedback); err != nil {
		return fmt.Errorf("conflict: reject synthesis: %w", err)
	}
	return nil
}

func (r *PGRepository) CommitSynthesis(ctx context.Context, tx pgx.Tx, conflictID, text string) error {
	const query = `
		UPDATE conflicts
		SET synthesis = $2,
		    rejection_feedback = NULL,
		    a_accepted = false,
		    b_accepted = false,
		    phase = 'synthesis'
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, conflictID, text); err != nil {
		return fmt.Errorf("conflict: commit synthesis: %w", err)
	}
	return nil
}

func (r *PGRepository) SetResolved(ctx context.Context, tx pgx.Tx, conflictID, notes string) (time.Time, error) {
	// resolved_at IS NULL in the predicate makes sealing exactly-once even if
	// two resolvers race past the service check.
	const query = `
		UPDATE conflicts
		SET resolution_notes = $2, resolved_at = now(), phase = 'resolved'
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING resolved_at
	`
	var at time.Time
	if err := tx.QueryRow(ctx, query, conflictID, notes).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrAlreadyResolved
		}
		return time.Time{}, fmt.Errorf("conflict: set resolved: %w", err)
	}
	return at, nil
}

func (r *PGRepository) InsertMessage(ctx context.Context, tx pgx.Tx, msg Message) (Message, error) {
	const query = `
		INSERT INTO messages (id, conflict_id, sender_member_id, body, pinned)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, conflict_id, sender_member_id, body, pinned, created_at
	`
	var out Message
	err := tx.QueryRow(ctx, query, msg.ID, msg.ConflictID, msg.SenderMemberID, msg.Body, msg.Pinned).
		Scan(&out.ID, &out.ConflictID, &out.SenderMemberID, &out.Body, &out.Pinned, &out.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("conflict: insert message: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListMessages(ctx context.Context, conflictID string) ([]Message, error) {
	const query = `
		SELECT id, conflict_id, sender_member_id, body, pinned, created_at
		FROM messages
		WHERE conflict_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, conflictID)
	if err != nil {
		return nil, fmt.Errorf("conflict: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConflictID, &m.SenderMemberID, &m.Body, &m.Pinned, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conflict: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conflict: iterate messages: %w", err)
	}
	return out, nil
}

func (r *PGRepository) SetMessagePinned(ctx context.Context, tx pgx.Tx, conflictID, messageID string, pinned bool) error {
	const query = `
		UPDATE messages SET pinned = $3 WHERE id = $1 AND conflict_id = $2
	`
	tag, err := tx.Exec(ctx, query, messageID, conflictID, pinned)
	if err != nil {
		return fmt.Errorf("conflict: pin message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) AppendTimeline(ctx context.Context, tx pgx.Tx, conflictID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("conflict: marshal timeline payload: %w", err)
	}

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}

	const query = `
		INSERT INTO timeline_events (conflict_id, seq, type, actor_id, payload)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::uuid, $4::jsonb
		FROM timeline_events
		WHERE conflict_id = $1
	`
	if _, err := tx.Exec(ctx, query, conflictID, eventType, actor, body); err != nil {
		return fmt.Errorf("conflict: append timeline: %w", err)
	}
	return nil
}
