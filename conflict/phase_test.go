package conflict

import "testing"

func TestPhaseRankOrdering(t *testing.T) {
	ordered := []Phase{
		PhaseCreated,
		PhasePerspectives,
		PhaseSubmitted,
		PhaseSynthesis,
		PhaseReview,
		PhaseDiscussion,
		PhaseCommitments,
		PhaseResolved,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("expected %s to rank above %s", ordered[i], ordered[i-1])
		}
	}
}

func TestPhaseRank_Unknown(t *testing.T) {
	if Phase("archived").Rank() != -1 {
		t.Errorf("unknown phase should rank -1")
	}
	if Phase("archived").Valid() {
		t.Errorf("unknown phase should not be valid")
	}
}

func TestPhaseAtLeast(t *testing.T) {
	if !PhaseDiscussion.AtLeast(PhaseDiscussion) {
		t.Errorf("phase should be at least itself")
	}
	if !PhaseResolved.AtLeast(PhaseCreated) {
		t.Errorf("resolved should be at least created")
	}
	if PhaseSubmitted.AtLeast(PhaseReview) {
		t.Errorf("submitted should not be at least review")
	}
	if PhaseSubmitted.AtLeast(Phase("archived")) {
		t.Errorf("comparison against an unknown phase should fail")
	}
}

func TestPhaseCanTransition_Forward(t *testing.T) {
	cases := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseCreated, PhasePerspectives, true},
		{PhasePerspectives, PhaseSubmitted, true},
		{PhaseSubmitted, PhaseSynthesis, true},
		{PhaseSynthesis, PhaseReview, true},
		{PhaseReview, PhaseDiscussion, true},
		{PhaseDiscussion, PhaseCommitments, true},
		{PhaseCommitments, PhaseResolved, true},
		{PhaseCreated, PhaseSubmitted, false},
		{PhaseSubmitted, PhaseCreated, false},
		{PhaseDiscussion, PhaseSynthesis, false},
		{PhaseResolved, PhaseCreated, false},
		{Phase("archived"), PhaseCreated, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestPhaseCanTransition_RegenerationEdge(t *testing.T) {
	if !PhaseReview.CanTransition(PhaseSynthesis) {
		t.Fatalf("review -> synthesis must be allowed for regeneration")
	}
	if PhaseDiscussion.CanTransition(PhaseReview) {
		t.Errorf("no backward edge out of discussion")
	}
}

func TestNormalizeCategory(t *testing.T) {
	if NormalizeCategory("finances") != CategoryFinances {
		t.Errorf("known category should pass through")
	}
	if NormalizeCategory("astrology") != CategoryOther {
		t.Errorf("unknown category should fall back to other")
	}
	if NormalizeCategory("") != CategoryOther {
		t.Errorf("empty category should fall back to other")
	}
}
