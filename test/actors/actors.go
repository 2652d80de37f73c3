package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// appendEvent inserts the next timeline event for a conflict inside tx.
// Callers that hold the conflict row lock are serialized; callers that do not
// may collide on the (conflict_id, seq) unique constraint.
func appendEvent(ctx context.Context, tx pgx.Tx, conflictID, eventType string) error {
	var seq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM timeline_events WHERE conflict_id=$1`, conflictID).Scan(&seq); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `INSERT INTO timeline_events (conflict_id, seq, type, payload) VALUES ($1,$2,$3,'{}'::jsonb)`, conflictID, seq, eventType)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Submitter races to submit one member's perspective. The conditional
// submitted=false update makes repeats no-ops, and the phase only advances to
// submitted once both rows carry the flag.
func Submitter(ctx context.Context, pool *pgxpool.Pool, conflictID, memberID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var phase string
		err = tx.QueryRow(ctx, `SELECT phase FROM conflicts WHERE id=$1 FOR UPDATE`, conflictID).Scan(&phase)
		if err == nil && (phase == "created" || phase == "perspectives") {
			tag, uerr := tx.Exec(ctx, `UPDATE perspectives SET body=$3, submitted=TRUE, submitted_at=now()
                                        WHERE conflict_id=$1 AND member_id=$2 AND submitted=FALSE`,
				conflictID, memberID, fmt.Sprintf("perspective of %s", memberID))
			if uerr == nil && tag.RowsAffected() == 1 {
				var submitted int
				_ = tx.QueryRow(ctx, `SELECT COUNT(*) FROM perspectives WHERE conflict_id=$1 AND submitted`, conflictID).Scan(&submitted)
				next := "perspectives"
				if submitted == 2 {
					next = "submitted"
				}
				_, _ = tx.Exec(ctx, `UPDATE conflicts SET phase=$2 WHERE id=$1`, conflictID, next)
				_ = appendEvent(ctx, tx, conflictID, "PERSPECTIVE_SUBMITTED")
				_ = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Synthesizer commits a synthesis whenever the record is ready for one, both
// for the first pass out of submitted and for regenerations after a rejection.
func Synthesizer(ctx context.Context, pool *pgxpool.Pool, conflictID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var (
			phase    string
			feedback *string
		)
		err = tx.QueryRow(ctx, `SELECT phase, rejection_feedback FROM conflicts WHERE id=$1 FOR UPDATE`, conflictID).Scan(&phase, &feedback)
		ready := phase == "submitted" || (phase == "review" && feedback != nil)
		if err == nil && ready {
			_, uerr := tx.Exec(ctx, `UPDATE conflicts SET synthesis=$2, phase='synthesis',
                                      a_accepted=FALSE, b_accepted=FALSE, rejection_feedback=NULL WHERE id=$1`,
				conflictID, fmt.Sprintf("synthesis %d", rand.Int63()))
			if uerr == nil {
				_ = appendEvent(ctx, tx, conflictID, "SYNTHESIS_COMMITTED")
				_ = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Accepter flips one seat's acceptance flag over and over. The first verdict
// moves the record into review; once both flags are up the record advances to
// discussion.
func Accepter(ctx context.Context, pool *pgxpool.Pool, conflictID string, slotA bool, stop <-chan struct{}) error {
	col := "b_accepted"
	if slotA {
		col = "a_accepted"
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var (
			phase     string
			synthesis *string
			resolved  *time.Time
		)
		err = tx.QueryRow(ctx, `SELECT phase, synthesis, resolved_at FROM conflicts WHERE id=$1 FOR UPDATE`, conflictID).Scan(&phase, &synthesis, &resolved)
		if err == nil && resolved == nil && synthesis != nil && (phase == "synthesis" || phase == "review") {
			_, _ = tx.Exec(ctx, fmt.Sprintf(`UPDATE conflicts SET phase='review', %s=TRUE WHERE id=$1`, col), conflictID)
			var a, b bool
			_ = tx.QueryRow(ctx, `SELECT a_accepted, b_accepted FROM conflicts WHERE id=$1`, conflictID).Scan(&a, &b)
			if a && b {
				_, _ = tx.Exec(ctx, `UPDATE conflicts SET phase='discussion' WHERE id=$1`, conflictID)
			}
			_ = appendEvent(ctx, tx, conflictID, "SYNTHESIS_ACCEPTED")
			_ = tx.Commit(ctx)
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Rejector occasionally sends the synthesis back. Both flags drop so the
// regenerated text must be re-reviewed by both seats.
func Rejector(ctx context.Context, pool *pgxpool.Pool, conflictID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(4) == 0 {
			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}
			var (
				phase     string
				synthesis *string
				resolved  *time.Time
			)
			err = tx.QueryRow(ctx, `SELECT phase, synthesis, resolved_at FROM conflicts WHERE id=$1 FOR UPDATE`, conflictID).Scan(&phase, &synthesis, &resolved)
			if err == nil && resolved == nil && synthesis != nil && (phase == "synthesis" || phase == "review") {
				_, _ = tx.Exec(ctx, `UPDATE conflicts SET phase='review', a_accepted=FALSE, b_accepted=FALSE,
                                      rejection_feedback='misses the point' WHERE id=$1`, conflictID)
				_ = appendEvent(ctx, tx, conflictID, "SYNTHESIS_REJECTED")
				_ = tx.Commit(ctx)
			}
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// Messenger appends discussion messages while the record allows them.
func Messenger(ctx context.Context, pool *pgxpool.Pool, conflictID, memberID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var (
			phase    string
			resolved *time.Time
		)
		err = tx.QueryRow(ctx, `SELECT phase, resolved_at FROM conflicts WHERE id=$1 FOR UPDATE`, conflictID).Scan(&phase, &resolved)
		if err == nil && resolved == nil && (phase == "discussion" || phase == "commitments") {
			_, uerr := tx.Exec(ctx, `INSERT INTO messages (id, conflict_id, sender_member_id, body)
                                      VALUES (gen_random_uuid(), $1, $2, $3)`,
				conflictID, memberID, fmt.Sprintf("note %d", rand.Int63()))
			if uerr == nil {
				_ = appendEvent(ctx, tx, conflictID, "MESSAGE_APPENDED")
				_ = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

// Requester files commitments. The first request moves a discussion into the
// commitments phase.
func Requester(ctx context.Context, pool *pgxpool.Pool, conflictID, memberID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var (
			phase    string
			resolved *time.Time
		)
		err = tx.QueryRow(ctx, `SELECT phase, resolved_at FROM conflicts WHERE id=$1 FOR UPDATE`, conflictID).Scan(&phase, &resolved)
		if err == nil && resolved == nil && (phase == "discussion" || phase == "commitments") {
			_, uerr := tx.Exec(ctx, `INSERT INTO requests (id, conflict_id, requester_id, body)
                                      VALUES (gen_random_uuid(), $1, $2, $3)`,
				conflictID, memberID, fmt.Sprintf("please %d", rand.Int63()))
			if uerr == nil {
				if phase == "discussion" {
					_, _ = tx.Exec(ctx, `UPDATE conflicts SET phase='commitments' WHERE id=$1`, conflictID)
				}
				_ = appendEvent(ctx, tx, conflictID, "REQUEST_CREATED")
				_ = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(80+rand.Intn(80)) * time.Millisecond)
	}
}

// RequestActor accepts and fulfills pending requests as the addressee would.
// Fulfillment only ever lands on an already accepted request.
func RequestActor(ctx context.Context, pool *pgxpool.Pool, conflictID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = pool.Exec(ctx, `UPDATE requests SET accepted=TRUE
                                WHERE id = (SELECT id FROM requests WHERE conflict_id=$1 AND accepted=FALSE LIMIT 1)`, conflictID)
		_, _ = pool.Exec(ctx, `UPDATE requests SET fulfilled=TRUE
                                WHERE id = (SELECT id FROM requests WHERE conflict_id=$1 AND accepted AND fulfilled=FALSE LIMIT 1)
                                  AND accepted`, conflictID)
		time.Sleep(time.Duration(60+rand.Intn(60)) * time.Millisecond)
	}
}

// Resolver tries to seal the conflict once both members stand behind the
// synthesis. Exactly one attempt can win; the resolved_at guard makes the
// rest no-ops.
func Resolver(ctx context.Context, pool *pgxpool.Pool, conflictID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var (
			phase    string
			a, b     bool
			resolved *time.Time
		)
		err = tx.QueryRow(ctx, `SELECT phase, a_accepted, b_accepted, resolved_at FROM conflicts WHERE id=$1 FOR UPDATE`, conflictID).Scan(&phase, &a, &b, &resolved)
		if err == nil && resolved == nil && a && b && (phase == "discussion" || phase == "commitments") {
			_, uerr := tx.Exec(ctx, `UPDATE conflicts SET phase='resolved', resolved_at=now(),
                                      resolution_notes='we talked it through' WHERE id=$1 AND resolved_at IS NULL`, conflictID)
			if uerr == nil {
				_ = appendEvent(ctx, tx, conflictID, "RESOLVED")
				_ = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(150+rand.Intn(150)) * time.Millisecond)
	}
}

// TimelineWriter appends events without taking the conflict row lock, so it
// collides with the locked writers on (conflict_id, seq). Collisions roll
// back and retry; the dense sequence must survive them.
func TimelineWriter(ctx context.Context, pool *pgxpool.Pool, conflictID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		// unique violations are the interesting case here; chaos can also
		// kill the connection mid-append, which is just noise
		if err := appendEvent(ctx, tx, conflictID, "HEARTBEAT"); err == nil {
			_ = tx.Commit(ctx)
		} else if !isUniqueViolation(err) && !errors.Is(err, context.Canceled) {
			time.Sleep(50 * time.Millisecond)
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}
