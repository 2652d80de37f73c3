package conflict

import "errors"

var (
	// ErrNotFound covers both a missing conflict and a conflict owned by a
	// different couple. Non-members get the same answer as everyone else so
	// the record's existence is never confirmed.
	ErrNotFound = errors.New("conflict: not found")
	// ErrCoupleIncomplete signals the couple has an empty seat; the workflow
	// needs both members before a conflict can be opened.
	ErrCoupleIncomplete = errors.New("conflict: couple incomplete")
	// ErrAlreadySubmitted signals a second submit of the same perspective.
	ErrAlreadySubmitted = errors.New("conflict: perspective already submitted")
	// ErrAlreadyResolved signals a mutation on a sealed record.
	ErrAlreadyResolved = errors.New("conflict: already resolved")
	// ErrNoSynthesis signals a review action before any synthesis exists.
	ErrNoSynthesis = errors.New("conflict: no synthesis to review")
	// ErrFeedbackRequired signals a rejection without feedback text.
	ErrFeedbackRequired = errors.New("conflict: rejection feedback required")
	// ErrBadPhase signals an operation attempted outside its allowed phases.
	ErrBadPhase = errors.New("conflict: operation not allowed in current phase")
	// ErrTitleRequired signals a create call with a blank title.
	ErrTitleRequired = errors.New("conflict: title required")
	// ErrNotesRequired signals a resolve call with blank notes.
	ErrNotesRequired = errors.New("conflict: resolution notes required")
	// ErrBodyRequired signals a message append with a blank body.
	ErrBodyRequired = errors.New("conflict: message body required")
)
