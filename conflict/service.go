package conflict

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Notifier receives a best-effort invalidation signal after each committed
// mutation. Implementations must not block or fail the calling operation;
// the signal carries identity, never state. Subscribers whose member id
// equals actorID drop the event, since their own response already reflects
// the change.
type Notifier interface {
	Changed(coupleID, conflictID, action, actorID string)
}

// CoupleDirectory reports the caller's couple and both seat occupants. An
// empty memberB means the second seat is unfilled.
type CoupleDirectory interface {
	Seats(ctx context.Context, memberID string) (coupleID, memberA, memberB string, err error)
}

// Service owns the conflict workflow: record creation, the perspective
// visibility gate, the accept/reject review loop, the message log, and
// resolution. Every mutation runs in one transaction and re-checks the
// resolved guard under a row lock before acting.
type Service struct {
	pool   TxBeginner
	repo   Repository
	seats  CoupleDirectory
	notify Notifier
	idGen  func() string
}

func NewService(pool TxBeginner, repo Repository, seats CoupleDirectory) *Service {
	return &Service{
		pool:  pool,
		repo:  repo,
		seats: seats,
		idGen: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithNotifier(n Notifier) *Service {
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

// Create opens a conflict record for the caller's couple. Both perspective
// rows come into existence with it, unsubmitted and empty.
func (s *Service) Create(ctx context.Context, memberID, title, category string) (Record, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Record{}, ErrTitleRequired
	}

	coupleID, memberA, memberB, err := s.seats.Seats(ctx, memberID)
	if err != nil {
		return Record{}, err
	}
	if memberA == "" || memberB == "" {
		return Record{}, ErrCoupleIncomplete
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("conflict: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec := Record{
		ID:       s.idGen(),
		CoupleID: coupleID,
		Title:    title,
		Category: NormalizeCategory(category),
		Phase:    PhaseCreated,
	}
	created, err := s.repo.InsertConflict(ctx, tx, rec, memberA, memberB)
	if err != nil {
		return Record{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, created.ID, "CONFLICT_CREATED", &memberID, map[string]any{
		"title":    created.Title,
		"category": created.Category,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("conflict: commit create: %w", err)
	}

	s.emit(coupleID, created.ID, "conflict.created", memberID)
	return created, nil
}

// Get returns the record as visible to the caller. Non-members get ErrNotFound.
func (s *Service) Get(ctx context.Context, memberID, conflictID string) (Record, error) {
	rec, _, err := s.repo.GetAs(ctx, conflictID, memberID)
	return rec, err
}

// List returns the caller's couple's conflicts, newest first.
func (s *Service) List(ctx context.Context, memberID string) ([]Record, error) {
	return s.repo.ListByMember(ctx, memberID)
}

// Perspectives returns both perspective rows with the visibility rule
// applied: the partner's text is withheld until both rows are submitted;
// the caller's own text is always returned.
func (s *Service) Perspectives(ctx context.Context, memberID, conflictID string) ([]Perspective, error) {
	if _, _, err := s.repo.GetAs(ctx, conflictID, memberID); err != nil {
		return nil, err
	}

	list, err := s.repo.Perspectives(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	bothSubmitted := len(list) == 2 && list[0].Submitted && list[1].Submitted
	for i := range list {
		if list[i].MemberID != memberID && !bothSubmitted {
			list[i].Body = nil
		}
	}
	return list, nil
}

// SaveDraft overwrites the caller's unsubmitted perspective text. Repeatable
// any number of times; never affects the phase.
func (s *Service) SaveDraft(ctx context.Context, memberID, conflictID, body string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conflict: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, _, err := s.repo.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return err
	}
	if rec.ResolvedAt != nil {
		return ErrAlreadyResolved
	}
	if rec.Phase != PhaseCreated && rec.Phase != PhasePerspectives {
		return ErrBadPhase
	}

	if err := s.repo.SaveDraft(ctx, tx, conflictID, memberID, body); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conflict: commit draft: %w", err)
	}

	s.emit(rec.CoupleID, conflictID, "perspective.saved", memberID)
	return nil
}

// SubmitPerspective finalizes the caller's perspective. The first submission
// moves the record from created to perspectives; the second moves it to
// submitted in the same transaction, so clients polling after the response
// always observe the advanced phase.
func (s *Service) SubmitPerspective(ctx context.Context, memberID, conflictID, body string) (Perspective, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Perspective{}, fmt.Errorf("conflict: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, _, err := s.repo.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return Perspective{}, err
	}
	if rec.ResolvedAt != nil {
		return Perspective{}, ErrAlreadyResolved
	}
	if rec.Phase != PhaseCreated && rec.Phase != PhasePerspectives {
		return Perspective{}, ErrBadPhase
	}

	submittedAt, err := s.repo.MarkSubmitted(ctx, tx, conflictID, memberID, body)
	if err != nil {
		return Perspective{}, err
	}

	phase := rec.Phase
	if phase == PhaseCreated {
		if err := s.advance(ctx, tx, conflictID, phase, PhasePerspectives, memberID); err != nil {
			return Perspective{}, err
		}
		phase = PhasePerspectives
	}

	n, err := s.repo.SubmittedCount(ctx, tx, conflictID)
	if err != nil {
		return Perspective{}, err
	}
	if n == 2 {
		if err := s.advance(ctx, tx, conflictID, phase, PhaseSubmitted, memberID); err != nil {
			return Perspective{}, err
		}
	}

	if err := s.repo.AppendTimeline(ctx, tx, conflictID, "PERSPECTIVE_SUBMITTED", &memberID, map[string]any{
		"submitted_count": n,
	}); err != nil {
		return Perspective{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Perspective{}, fmt.Errorf("conflict: commit submit: %w", err)
	}

	s.emit(rec.CoupleID, conflictID, "perspective.submitted", memberID)

	return Perspective{
		ConflictID:  conflictID,
		MemberID:    memberID,
		Body:        &body,
		Submitted:   true,
		SubmittedAt: &submittedAt,
	}, nil
}

// Review records the caller's verdict on the current synthesis. Accepting
// flips only the caller's flag; when both flags are set the record advances
// to discussion. Rejecting requires feedback and clears both flags, so the
// regenerated synthesis must be re-reviewed by both members.
func (s *Service) Review(ctx context.Context, memberID, conflictID string, accept bool, feedback string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("conflict: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, slot, err := s.repo.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return Record{}, err
	}
	if rec.ResolvedAt != nil {
		return Record{}, ErrAlreadyResolved
	}
	if rec.Synthesis == nil {
		return Record{}, ErrNoSynthesis
	}

	if !accept {
		return s.reject(ctx, tx, rec, memberID, feedback)
	}

	// An accept after the record already advanced past review is a no-op,
	// not an error.
	if rec.Phase.AtLeast(PhaseDiscussion) && rec.Accepted(slot) {
		if err := tx.Commit(ctx); err != nil {
			return Record{}, fmt.Errorf("conflict: commit review: %w", err)
		}
		return rec, nil
	}
	if rec.Phase != PhaseSynthesis && rec.Phase != PhaseReview {
		return Record{}, ErrBadPhase
	}

	// The first verdict moves the record into review.
	if rec.Phase == PhaseSynthesis {
		if err := s.advance(ctx, tx, conflictID, rec.Phase, PhaseReview, memberID); err != nil {
			return Record{}, err
		}
		rec.Phase = PhaseReview
	}

	a, b, err := s.repo.SetAccepted(ctx, tx, conflictID, slot)
	if err != nil {
		return Record{}, err
	}
	rec.AAccepted, rec.BAccepted = a, b

	if err := s.repo.AppendTimeline(ctx, tx, conflictID, "SYNTHESIS_ACCEPTED", &memberID, map[string]any{
		"both_accepted": a && b,
	}); err != nil {
		return Record{}, err
	}

	if a && b {
		if err := s.advance(ctx, tx, conflictID, rec.Phase, PhaseDiscussion, memberID); err != nil {
			return Record{}, err
		}
		rec.Phase = PhaseDiscussion
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("conflict: commit review: %w", err)
	}

	s.emit(rec.CoupleID, conflictID, "review.accepted", memberID)
	return rec, nil
}

func (s *Service) reject(ctx context.Context, tx pgx.Tx, rec Record, memberID, feedback string) (Record, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return Record{}, ErrFeedbackRequired
	}
	if rec.Phase != PhaseSynthesis && rec.Phase != PhaseReview {
		return Record{}, ErrBadPhase
	}

	// Clears both flags even when the partner had already accepted: a new
	// synthesis must be re-reviewed by both members.
	if err := s.repo.RejectSynthesis(ctx, tx, rec.ID, feedback); err != nil {
		return Record{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, "SYNTHESIS_REJECTED", &memberID, map[string]any{
		"feedback": feedback,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("conflict: commit reject: %w", err)
	}

	rec.Phase = PhaseReview
	rec.AAccepted, rec.BAccepted = false, false
	rec.RejectionFeedback = &feedback

	s.emit(rec.CoupleID, rec.ID, "review.rejected", memberID)
	return rec, nil
}

// Resolve seals the record. Exactly one Resolve succeeds per conflict; the
// record is read-only from then on.
func (s *Service) Resolve(ctx context.Context, memberID, conflictID, notes string) (Record, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return Record{}, ErrNotesRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("conflict: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, _, err := s.repo.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return Record{}, err
	}
	if rec.ResolvedAt != nil {
		return Record{}, ErrAlreadyResolved
	}
	if !rec.Phase.AtLeast(PhaseDiscussion) {
		return Record{}, ErrBadPhase
	}

	resolvedAt, err := s.repo.SetResolved(ctx, tx, conflictID, notes)
	if err != nil {
		return Record{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, conflictID, "CONFLICT_RESOLVED", &memberID, map[string]any{
		"previous_phase": rec.Phase,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("conflict: commit resolve: %w", err)
	}

	rec.Phase = PhaseResolved
	rec.ResolutionNotes = &notes
	rec.ResolvedAt = &resolvedAt

	s.emit(rec.CoupleID, conflictID, "conflict.resolved", memberID)
	return rec, nil
}

// AppendMessage adds a member message to the discussion log.
func (s *Service) AppendMessage(ctx context.Context, memberID, conflictID, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, ErrBodyRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("conflict: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, _, err := s.repo.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return Message{}, err
	}
	if rec.ResolvedAt != nil {
		return Message{}, ErrAlreadyResolved
	}
	if !rec.Phase.AtLeast(PhaseDiscussion) {
		return Message{}, ErrBadPhase
	}

	msg, err := s.repo.InsertMessage(ctx, tx, Message{
		ID:             s.idGen(),
		ConflictID:     conflictID,
		SenderMemberID: &memberID,
		Body:           body,
	})
	if err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("conflict: commit message: %w", err)
	}

	s.emit(rec.CoupleID, conflictID, "message.created", memberID)
	return msg, nil
}

// Messages returns the full ordered log for a conflict the caller belongs to.
func (s *Service) Messages(ctx context.Context, memberID, conflictID string) ([]Message, error) {
	if _, _, err := s.repo.GetAs(ctx, conflictID, memberID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, conflictID)
}

// PinMessage flips the pinned flag, the one mutable field on a message.
func (s *Service) PinMessage(ctx context.Context, memberID, conflictID, messageID string, pinned bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conflict: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, _, err := s.repo.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return err
	}
	if rec.ResolvedAt != nil {
		return ErrAlreadyResolved
	}

	if err := s.repo.SetMessagePinned(ctx, tx, conflictID, messageID, pinned); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conflict: commit pin: %w", err)
	}

	s.emit(rec.CoupleID, conflictID, "message.pinned", memberID)
	return nil
}

func (s *Service) advance(ctx context.Context, tx pgx.Tx, conflictID string, from, to Phase, actorID string) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadPhase, from, to)
	}
	if err := s.repo.SetPhase(ctx, tx, conflictID, to); err != nil {
		return err
	}
	return s.repo.AppendTimeline(ctx, tx, conflictID, "PHASE_ADVANCED", &actorID, map[string]any{
		"previous_phase": from,
		"next_phase":     to,
	})
}
