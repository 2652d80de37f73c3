package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"accord/conflict"
)

var (
	// ErrNotAddressee signals the requester tried to act on their own ask;
	// only the other member may accept or fulfill.
	ErrNotAddressee = errors.New("request: only the addressee may act on a request")
	// ErrNotAccepted signals fulfillment of a request that was never accepted.
	ErrNotAccepted = errors.New("request: not accepted yet")
	// ErrBodyRequired signals a create call with a blank body.
	ErrBodyRequired = errors.New("request: body required")
)

// Service manages the ask/commitment ledger of the discussion phase. The
// first request on a conflict advances it to commitments.
type Service struct {
	pool      conflict.TxBeginner
	repo      Repository
	conflicts conflict.Repository
	notify    conflict.Notifier
	idGen     func() string
}

func NewService(pool conflict.TxBeginner, repo Repository, conflicts conflict.Repository) *Service {
	return &Service{
		pool:      pool,
		repo:      repo,
		conflicts: conflicts,
		idGen:     func() string { return uuid.NewString() },
	}
}

func (s *Service) WithNotifier(n conflict.Notifier) *Service {
	s.notify = n
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) emit(coupleID, conflictID, action, actorID string) {
	if s.notify != nil {
		s.notify.Changed(coupleID, conflictID, action, actorID)
	}
}

// Create adds a new ask addressed to the partner. Allowed once the conflict
// has reached discussion.
func (s *Service) Create(ctx context.Context, memberID, conflictID, body, category string) (Record, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Record{}, ErrBodyRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, _, err := s.conflicts.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return Record{}, err
	}
	if rec.ResolvedAt != nil {
		return Record{}, conflict.ErrAlreadyResolved
	}
	if !rec.Phase.AtLeast(conflict.PhaseDiscussion) {
		return Record{}, conflict.ErrBadPhase
	}

	created, err := s.repo.Insert(ctx, tx, Record{
		ID:          s.idGen(),
		ConflictID:  conflictID,
		RequesterID: memberID,
		Body:        body,
		Category:    string(conflict.NormalizeCategory(category)),
	})
	if err != nil {
		return Record{}, err
	}

	if rec.Phase == conflict.PhaseDiscussion {
		if err := s.conflicts.SetPhase(ctx, tx, conflictID, conflict.PhaseCommitments); err != nil {
			return Record{}, err
		}
		if err := s.conflicts.AppendTimeline(ctx, tx, conflictID, "PHASE_ADVANCED", &memberID, map[string]any{
			"previous_phase": rec.Phase,
			"next_phase":     conflict.PhaseCommitments,
		}); err != nil {
			return Record{}, err
		}
	}

	if err := s.conflicts.AppendTimeline(ctx, tx, conflictID, "REQUEST_CREATED", &memberID, map[string]any{
		"request_id": created.ID,
		"category":   created.Category,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("request: commit create: %w", err)
	}

	s.emit(rec.CoupleID, conflictID, "request.created", memberID)
	return created, nil
}

// Accept marks the partner's ask as accepted. Only the member who did not
// create the request may call it; repeat calls are no-ops.
func (s *Service) Accept(ctx context.Context, memberID, conflictID, requestID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, req, err := s.lockPair(ctx, tx, memberID, conflictID, requestID)
	if err != nil {
		return Record{}, err
	}
	if req.Accepted {
		return req, nil
	}

	if err := s.repo.SetAccepted(ctx, tx, req.ID); err != nil {
		return Record{}, err
	}
	if err := s.conflicts.AppendTimeline(ctx, tx, conflictID, "REQUEST_ACCEPTED", &memberID, map[string]any{
		"request_id": req.ID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("request: commit accept: %w", err)
	}

	req.Accepted = true
	s.emit(rec.CoupleID, conflictID, "request.accepted", memberID)
	return req, nil
}

// Fulfill marks an accepted ask as done. Irreversible; repeat calls are
// no-ops.
func (s *Service) Fulfill(ctx context.Context, memberID, conflictID, requestID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, req, err := s.lockPair(ctx, tx, memberID, conflictID, requestID)
	if err != nil {
		return Record{}, err
	}
	if req.Fulfilled {
		return req, nil
	}
	if !req.Accepted {
		return Record{}, ErrNotAccepted
	}

	if err := s.repo.SetFulfilled(ctx, tx, req.ID); err != nil {
		return Record{}, err
	}
	if err := s.conflicts.AppendTimeline(ctx, tx, conflictID, "REQUEST_FULFILLED", &memberID, map[string]any{
		"request_id": req.ID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("request: commit fulfill: %w", err)
	}

	req.Fulfilled = true
	s.emit(rec.CoupleID, conflictID, "request.fulfilled", memberID)
	return req, nil
}

// lockPair locks the conflict row and the request row, verifying membership,
// the resolved guard, and that the caller is the addressee, not the author.
func (s *Service) lockPair(ctx context.Context, tx pgx.Tx, memberID, conflictID, requestID string) (conflict.Record, Record, error) {
	rec, _, err := s.conflicts.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return conflict.Record{}, Record{}, err
	}
	if rec.ResolvedAt != nil {
		return conflict.Record{}, Record{}, conflict.ErrAlreadyResolved
	}

	req, err := s.repo.GetForUpdate(ctx, tx, conflictID, requestID)
	if err != nil {
		return conflict.Record{}, Record{}, err
	}
	if req.RequesterID == memberID {
		return conflict.Record{}, Record{}, ErrNotAddressee
	}
	return rec, req, nil
}

// List returns all requests on the conflict, partitioned by authorship.
func (s *Service) List(ctx context.Context, memberID, conflictID string) (Partitioned, error) {
	if _, _, err := s.conflicts.GetAs(ctx, conflictID, memberID); err != nil {
		return Partitioned{}, err
	}

	all, err := s.repo.ListByConflict(ctx, conflictID)
	if err != nil {
		return Partitioned{}, err
	}

	out := Partitioned{
		Mine:        make([]Record, 0, len(all)),
		FromPartner: make([]Record, 0, len(all)),
	}
	for _, rec := range all {
		if rec.RequesterID == memberID {
			out.Mine = append(out.Mine, rec)
		} else {
			out.FromPartner = append(out.FromPartner, rec)
		}
	}
	return out, nil
}
