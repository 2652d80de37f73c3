package couple

import "time"

// Profile mirrors the couples table. Seats fill in order: the creator takes
// seat A, the joiner seat B. Conflict workflow operations require both seats
// to be occupied.
type Profile struct {
	ID        string
	JoinCode  string
	MemberAID *string
	MemberBID *string
	CreatedAt time.Time
}

// Complete reports whether both seats are filled.
func (p Profile) Complete() bool {
	return p.MemberAID != nil && p.MemberBID != nil
}

// PartnerOf returns the other seat's occupant, or nil when the seat is empty
// or the member is not in this couple.
func (p Profile) PartnerOf(memberID string) *string {
	switch {
	case p.MemberAID != nil && *p.MemberAID == memberID:
		return p.MemberBID
	case p.MemberBID != nil && *p.MemberBID == memberID:
		return p.MemberAID
	default:
		return nil
	}
}
