package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"accord/conflict"
)

var (
	// ErrMediator signals the stream failed before completing. Nothing was
	// persisted; the same call can be retried.
	ErrMediator = errors.New("synthesis: mediator stream failed")
	// ErrEmpty signals the mediator completed without producing any text.
	ErrEmpty = errors.New("synthesis: mediator produced no text")
)

// Orchestrator drives mediator generation. Deltas are forwarded to the
// caller as they arrive, but the database sees nothing until the stream has
// fully completed: only then does one transaction persist the text and the
// phase transition. A caller that disconnects mid-stream changes nothing;
// the operation should be run on a context that outlives the request.
type Orchestrator struct {
	pool     conflict.TxBeginner
	repo     conflict.Repository
	mediator Mediator
	notify   conflict.Notifier
	idGen    func() string
}

func NewOrchestrator(pool conflict.TxBeginner, repo conflict.Repository, mediator Mediator) *Orchestrator {
	return &Orchestrator{
		pool:     pool,
		repo:     repo,
		mediator: mediator,
		idGen:    func() string { return uuid.NewString() },
	}
}

func (o *Orchestrator) WithNotifier(n conflict.Notifier) *Orchestrator {
	o.notify = n
	return o
}

func (o *Orchestrator) WithIDGenerator(gen func() string) *Orchestrator {
	o.idGen = gen
	return o
}

// Generate produces (or regenerates) the synthesis for a conflict. Allowed
// when the record is in submitted, or in review with rejection feedback
// present. deliver receives each delta for live relay; it must not block.
func (o *Orchestrator) Generate(ctx context.Context, memberID, conflictID string, deliver func(delta string)) (string, error) {
	rec, _, err := o.repo.GetAs(ctx, conflictID, memberID)
	if err != nil {
		return "", err
	}
	if rec.ResolvedAt != nil {
		return "", conflict.ErrAlreadyResolved
	}
	regenerating := rec.Phase == conflict.PhaseReview && rec.RejectionFeedback != nil
	if rec.Phase != conflict.PhaseSubmitted && !regenerating {
		return "", conflict.ErrBadPhase
	}

	perspectives, err := o.repo.Perspectives(ctx, conflictID)
	if err != nil {
		return "", err
	}
	req, err := buildRequest(perspectives)
	if err != nil {
		return "", err
	}
	if regenerating {
		req.PriorSynthesis = rec.Synthesis
		req.Feedback = rec.RejectionFeedback
	}

	text, err := o.consume(ctx, req, deliver)
	if err != nil {
		return "", err
	}

	if err := o.commitSynthesis(ctx, memberID, conflictID, text); err != nil {
		return "", err
	}

	if o.notify != nil {
		o.notify.Changed(rec.CoupleID, conflictID, "synthesis.completed", memberID)
	}
	return text, nil
}

// Reply streams a mediator response into the discussion log. The full
// transcript plus the accepted synthesis form the mediator's context; the
// completed text lands as a mediator-authored message.
func (o *Orchestrator) Reply(ctx context.Context, memberID, conflictID string, deliver func(delta string)) (conflict.Message, error) {
	rec, _, err := o.repo.GetAs(ctx, conflictID, memberID)
	if err != nil {
		return conflict.Message{}, err
	}
	if rec.ResolvedAt != nil {
		return conflict.Message{}, conflict.ErrAlreadyResolved
	}
	if !rec.Phase.AtLeast(conflict.PhaseDiscussion) {
		return conflict.Message{}, conflict.ErrBadPhase
	}

	perspectives, err := o.repo.Perspectives(ctx, conflictID)
	if err != nil {
		return conflict.Message{}, err
	}
	req, err := buildRequest(perspectives)
	if err != nil {
		return conflict.Message{}, err
	}
	req.PriorSynthesis = rec.Synthesis

	messages, err := o.repo.ListMessages(ctx, conflictID)
	if err != nil {
		return conflict.Message{}, err
	}
	req.Transcript = transcript(messages)

	text, err := o.consume(ctx, req, deliver)
	if err != nil {
		return conflict.Message{}, err
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return conflict.Message{}, fmt.Errorf("synthesis: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, _, err := o.repo.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return conflict.Message{}, err
	}
	if locked.ResolvedAt != nil {
		return conflict.Message{}, conflict.ErrAlreadyResolved
	}

	msg, err := o.repo.InsertMessage(ctx, tx, conflict.Message{
		ID:         o.idGen(),
		ConflictID: conflictID,
		Body:       text,
	})
	if err != nil {
		return conflict.Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return conflict.Message{}, fmt.Errorf("synthesis: commit reply: %w", err)
	}

	if o.notify != nil {
		o.notify.Changed(rec.CoupleID, conflictID, "message.created", memberID)
	}
	return msg, nil
}

// consume drains the mediator stream, relaying deltas and accumulating the
// full text. Any stream error discards everything.
func (o *Orchestrator) consume(ctx context.Context, req Request, deliver func(delta string)) (string, error) {
	stream, err := o.mediator.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMediator, err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMediator, err)
		}
		full.WriteString(delta)
		if deliver != nil {
			deliver(delta)
		}
	}

	text := full.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func (o *Orchestrator) commitSynthesis(ctx context.Context, memberID, conflictID, text string) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("synthesis: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, _, err := o.repo.GetForUpdate(ctx, tx, conflictID, memberID)
	if err != nil {
		return err
	}
	if locked.ResolvedAt != nil {
		return conflict.ErrAlreadyResolved
	}
	// A concurrent generation may have landed first (phase already synthesis);
	// committing over it converges both callers on the later text. Anything
	// past review means review concluded and this result is stale.
	if locked.Phase.AtLeast(conflict.PhaseDiscussion) {
		return conflict.ErrBadPhase
	}

	if err := o.repo.CommitSynthesis(ctx, tx, conflictID, text); err != nil {
		return err
	}

	if err := o.repo.AppendTimeline(ctx, tx, conflictID, "SYNTHESIS_COMMITTED", &memberID, map[string]any{
		"previous_phase": locked.Phase,
		"chars":          len(text),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("synthesis: commit: %w", err)
	}
	return nil
}

func buildRequest(perspectives []conflict.Perspective) (Request, error) {
	if len(perspectives) != 2 {
		return Request{}, fmt.Errorf("synthesis: expected 2 perspectives, have %d", len(perspectives))
	}
	var req Request
	for i, p := range perspectives {
		if !p.Submitted || p.Body == nil {
			return Request{}, conflict.ErrBadPhase
		}
		if i == 0 {
			req.PerspectiveA = *p.Body
		} else {
			req.PerspectiveB = *p.Body
		}
	}
	return req, nil
}

func transcript(messages []conflict.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		speaker := "mediator"
		if m.SenderMemberID != nil {
			speaker = *m.SenderMemberID
		}
		out = append(out, speaker+": "+m.Body)
	}
	return out
}
