package conflict

// Phase is the position of a conflict in its resolution workflow. Ordering is
// defined by Rank, not by declaration order or any array position.
type Phase string

const (
	PhaseCreated      Phase = "created"
	PhasePerspectives Phase = "perspectives"
	PhaseSubmitted    Phase = "submitted"
	PhaseSynthesis    Phase = "synthesis"
	PhaseReview       Phase = "review"
	PhaseDiscussion   Phase = "discussion"
	PhaseCommitments  Phase = "commitments"
	PhaseResolved     Phase = "resolved"
)

var phaseRanks = map[Phase]int{
	PhaseCreated:      0,
	PhasePerspectives: 1,
	PhaseSubmitted:    2,
	PhaseSynthesis:    3,
	PhaseReview:       4,
	PhaseDiscussion:   5,
	PhaseCommitments:  6,
	PhaseResolved:     7,
}

// Rank returns the total-order position of the phase, or -1 for an unknown value.
func (p Phase) Rank() int {
	r, ok := phaseRanks[p]
	if !ok {
		return -1
	}
	return r
}

func (p Phase) Valid() bool {
	_, ok := phaseRanks[p]
	return ok
}

// AtLeast reports whether p is other or a later phase.
func (p Phase) AtLeast(other Phase) bool {
	return p.Valid() && other.Valid() && p.Rank() >= other.Rank()
}

// CanTransition reports whether moving from p to next is legal. Forward moves
// go one step at a time; the single backward edge is review -> synthesis,
// taken when a rejected synthesis is regenerated.
func (p Phase) CanTransition(next Phase) bool {
	if !p.Valid() || !next.Valid() {
		return false
	}
	if p == PhaseReview && next == PhaseSynthesis {
		return true
	}
	return next.Rank() == p.Rank()+1
}
