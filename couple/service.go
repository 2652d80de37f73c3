package couple

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrAlreadyPaired signals the member already belongs to a couple.
	ErrAlreadyPaired = errors.New("couple: member already paired")
	// ErrFull signals both seats are taken.
	ErrFull = errors.New("couple: already has two members")
	// ErrCodeRequired signals a join call with a blank code.
	ErrCodeRequired = errors.New("couple: join code required")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service handles couple formation: create-with-code and join-by-code.
type Service struct {
	pool    TxBeginner
	repo    Repository
	idGen   func() string
	codeGen func() string
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:    pool,
		repo:    repo,
		idGen:   func() string { return uuid.NewString() },
		codeGen: defaultJoinCode,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithCodeGenerator(gen func() string) *Service {
	s.codeGen = gen
	return s
}

// defaultJoinCode derives a short shareable code. Uniqueness is enforced by
// the database; collisions surface as ErrDuplicateCode and are retried once.
func defaultJoinCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:8])
}

// Create opens a couple with the caller in seat A and returns the join code
// the partner uses to take seat B.
func (s *Service) Create(ctx context.Context, memberID string) (Profile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Profile{}, fmt.Errorf("couple: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	paired, err := s.repo.MemberHasCouple(ctx, tx, memberID)
	if err != nil {
		return Profile{}, err
	}
	if paired {
		return Profile{}, ErrAlreadyPaired
	}

	var created Profile
	for attempt := 0; attempt < 2; attempt++ {
		created, err = s.repo.Insert(ctx, tx, Profile{
			ID:        s.idGen(),
			JoinCode:  s.codeGen(),
			MemberAID: &memberID,
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return Profile{}, err
		}
	}
	if err != nil {
		return Profile{}, err
	}

	if err := s.repo.SetMemberCouple(ctx, tx, memberID, created.ID); err != nil {
		return Profile{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Profile{}, fmt.Errorf("couple: commit create: %w", err)
	}
	return created, nil
}

// Join fills seat B of the couple matching the join code. A member can join
// exactly one couple, and a couple takes exactly one joiner.
func (s *Service) Join(ctx context.Context, memberID, joinCode string) (Profile, error) {
	joinCode = strings.ToUpper(strings.TrimSpace(joinCode))
	if joinCode == "" {
		return Profile{}, ErrCodeRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Profile{}, fmt.Errorf("couple: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	paired, err := s.repo.MemberHasCouple(ctx, tx, memberID)
	if err != nil {
		return Profile{}, err
	}
	if paired {
		return Profile{}, ErrAlreadyPaired
	}

	p, err := s.repo.GetByCodeForUpdate(ctx, tx, joinCode)
	if err != nil {
		return Profile{}, err
	}
	if p.MemberAID != nil && *p.MemberAID == memberID {
		return Profile{}, ErrAlreadyPaired
	}

	if err := s.repo.SetMemberB(ctx, tx, p.ID, memberID); err != nil {
		return Profile{}, err
	}
	if err := s.repo.SetMemberCouple(ctx, tx, memberID, p.ID); err != nil {
		return Profile{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Profile{}, fmt.Errorf("couple: commit join: %w", err)
	}

	p.MemberBID = &memberID
	return p, nil
}

// Get returns the caller's couple.
func (s *Service) Get(ctx context.Context, memberID string) (Profile, error) {
	return s.repo.GetByMember(ctx, memberID)
}
