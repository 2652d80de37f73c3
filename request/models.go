package request

import "time"

// Record is a unilateral ask created by one member and addressed implicitly
// to the other. fulfilled can only become true after accepted is.
type Record struct {
	ID          string
	ConflictID  string
	RequesterID string
	Body        string
	Category    string
	Accepted    bool
	Fulfilled   bool
	CreatedAt   time.Time
}

// Partitioned groups a conflict's requests by authorship relative to the
// caller. Requests carry no visibility hiding; both members see all fields.
type Partitioned struct {
	Mine        []Record
	FromPartner []Record
}
