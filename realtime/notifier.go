package realtime

import "log"

// Broadcaster is the outbound pub/sub contract: fire-and-forget, at-most-once,
// no retry. Hub satisfies it; a hosted pub/sub service could too.
type Broadcaster interface {
	Emit(channel string, ev Event)
}

// Notifier translates committed mutations into invalidation events. It
// implements the conflict package's Notifier. Emission happens after the
// transaction commit and is best-effort: a failure here is logged and never
// surfaced to the caller, whose mutation already succeeded.
type Notifier struct {
	b Broadcaster
}

func NewNotifier(b Broadcaster) *Notifier {
	return &Notifier{b: b}
}

// CoupleChannel is the channel every member of a couple subscribes to.
func CoupleChannel(coupleID string) string { return "couple:" + coupleID }

// ConflictChannel is the per-record channel for clients viewing one conflict.
func ConflictChannel(conflictID string) string { return "conflict:" + conflictID }

// Changed emits one event on the couple channel and one on the record
// channel. The payload identifies what changed, never what it changed to.
func (n *Notifier) Changed(coupleID, conflictID, action, actorID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("realtime: emit %s for conflict %s failed: %v", action, conflictID, r)
		}
	}()

	ev := Event{
		Action:     action,
		ResourceID: conflictID,
		ActorID:    actorID,
	}
	n.b.Emit(CoupleChannel(coupleID), ev)
	n.b.Emit(ConflictChannel(conflictID), ev)
}
