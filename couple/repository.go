package couple

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals no couple matches the lookup.
	ErrNotFound = errors.New("couple: not found")
	// ErrDuplicateCode signals a join-code collision on insert.
	ErrDuplicateCode = errors.New("couple: join code already exists")
)

// Repository provides data access for couples.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, p Profile) (Profile, error)
	GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, joinCode string) (Profile, error)
	GetByMember(ctx context.Context, memberID string) (Profile, error)
	SetMemberB(ctx context.Context, tx pgx.Tx, coupleID, memberID string) error
	SetMemberCouple(ctx context.Context, tx pgx.Tx, memberID, coupleID string) error
	MemberHasCouple(ctx context.Context, tx pgx.Tx, memberID string) (bool, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const profileColumns = `id, join_code, member_a_id, member_b_id, created_at`

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.JoinCode, &p.MemberAID, &p.MemberBID, &p.CreatedAt)
	return p, err
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, p Profile) (Profile, error) {
	const query = `
		INSERT INTO couples (id, join_code, member_a_id)
		VALUES ($1, $2, $3)
		RETURNING id, join_code, member_a_id, member_b_id, created_at
	`
	created, err := scanProfile(tx.QueryRow(ctx, query, p.ID, p.JoinCode, p.MemberAID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Profile{}, ErrDuplicateCode
		}
		return Profile{}, fmt.Errorf("couple: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, joinCode string) (Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM couples WHERE join_code = $1 FOR UPDATE`, profileColumns)
	p, err := scanProfile(tx.QueryRow(ctx, query, joinCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("couple: get by code: %w", err)
	}
	return p, nil
}

func (r *PGRepository) GetByMember(ctx context.Context, memberID string) (Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM couples WHERE member_a_id = $1 OR member_b_id = $1`, profileColumns)
	p, err := scanProfile(r.pool.QueryRow(ctx, query, memberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("couple: get by member: %w", err)
	}
	return p, nil
}

func (r *PGRepository) SetMemberB(ctx context.Context, tx pgx.Tx, coupleID, memberID string) error {
	// member_b_id IS NULL keeps the second seat from being stolen in a race.
	const query = `
		UPDATE couples SET member_b_id = $2 WHERE id = $1 AND member_b_id IS NULL
	`
	tag, err := tx.Exec(ctx, query, coupleID, memberID)
	if err != nil {
		return fmt.Errorf("couple: set member b: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFull
	}
	return nil
}

func (r *PGRepository) SetMemberCouple(ctx context.Context, tx pgx.Tx, memberID, coupleID string) error {
	tag, err := tx.Exec(ctx, `UPDATE members SET couple_id = $2, updated_at = now() WHERE id = $1`, memberID, coupleID)
	if err != nil {
		return fmt.Errorf("couple: link member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) MemberHasCouple(ctx context.Context, tx pgx.Tx, memberID string) (bool, error) {
	var has bool
	err := tx.QueryRow(ctx, `SELECT couple_id IS NOT NULL FROM members WHERE id = $1`, memberID).Scan(&has)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("couple: check member: %w", err)
	}
	return has, nil
}

// Seats implements the conflict package's CoupleDirectory: it reports the
// caller's couple id and both seat occupants, empty strings for empty seats.
func (r *PGRepository) Seats(ctx context.Context, memberID string) (string, string, string, error) {
	p, err := r.GetByMember(ctx, memberID)
	if err != nil {
		return "", "", "", err
	}
	var a, b string
	if p.MemberAID != nil {
		a = *p.MemberAID
	}
	if p.MemberBID != nil {
		b = *p.MemberBID
	}
	return p.ID, a, b, nil
}
