package conflict

import "time"

// Category is the closed set of conflict topics. Unknown input falls back to
// CategoryOther rather than erroring.
type Category string

const (
	CategoryCommunication Category = "communication"
	CategoryFinances      Category = "finances"
	CategoryHousehold     Category = "household"
	CategoryIntimacy      Category = "intimacy"
	CategoryParenting     Category = "parenting"
	CategoryOther         Category = "other"
)

// NormalizeCategory maps arbitrary input onto the closed category set.
func NormalizeCategory(raw string) Category {
	switch Category(raw) {
	case CategoryCommunication, CategoryFinances, CategoryHousehold, CategoryIntimacy, CategoryParenting, CategoryOther:
		return Category(raw)
	default:
		return CategoryOther
	}
}

// Slot identifies which of the couple's two seats a member occupies. The
// acceptance flags on a conflict are keyed by slot so each member's flag can
// be flipped without touching the other's.
type Slot int

const (
	SlotA Slot = iota
	SlotB
)

func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// Record mirrors the conflicts table.
type Record struct {
	ID                string
	CoupleID          string
	Title             string
	Category          Category
	Phase             Phase
	Synthesis         *string
	AAccepted         bool
	BAccepted         bool
	RejectionFeedback *string
	ResolutionNotes   *string
	CreatedAt         time.Time
	ResolvedAt        *time.Time
}

// Accepted returns the acceptance flag for the given slot.
func (r Record) Accepted(s Slot) bool {
	if s == SlotA {
		return r.AAccepted
	}
	return r.BAccepted
}

// Perspective is one member's private account of the conflict. Exactly two
// rows exist per conflict, created with the record itself.
type Perspective struct {
	ConflictID  string
	MemberID    string
	Body        *string
	Submitted   bool
	SubmittedAt *time.Time
}

// Message is an ordered, append-only log entry on a conflict. A nil sender
// means the mediator authored it. The pinned flag is the only mutable field.
type Message struct {
	ID             string
	ConflictID     string
	SenderMemberID *string
	Body           string
	Pinned         bool
	CreatedAt      time.Time
}
