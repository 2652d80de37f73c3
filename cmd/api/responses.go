package main

import (
	"time"

	"accord/auth"
	"accord/conflict"
	"accord/couple"
	"accord/request"
)

type memberResponse struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FullName  string  `json:"fullName"`
	CoupleID  *string `json:"coupleId"`
	CreatedAt string  `json:"createdAt"`
}

func toMemberResponse(m auth.Member) memberResponse {
	return memberResponse{
		ID:        m.ID,
		Email:     m.Email,
		FullName:  m.FullName,
		CoupleID:  m.CoupleID,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

type coupleResponse struct {
	ID        string  `json:"id"`
	JoinCode  string  `json:"joinCode"`
	MemberAID *string `json:"memberAId"`
	MemberBID *string `json:"memberBId"`
	CreatedAt string  `json:"createdAt"`
}

func toCoupleResponse(p couple.Profile) coupleResponse {
	return coupleResponse{
		ID:        p.ID,
		JoinCode:  p.JoinCode,
		MemberAID: p.MemberAID,
		MemberBID: p.MemberBID,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

type conflictResponse struct {
	ID                string  `json:"id"`
	CoupleID          string  `json:"coupleId"`
	Title             string  `json:"title"`
	Category          string  `json:"category"`
	Phase             string  `json:"phase"`
	Synthesis         *string `json:"synthesis"`
	AAccepted         bool    `json:"aAccepted"`
	BAccepted         bool    `json:"bAccepted"`
	RejectionFeedback *string `json:"rejectionFeedback"`
	ResolutionNotes   *string `json:"resolutionNotes"`
	CreatedAt         string  `json:"createdAt"`
	ResolvedAt        *string `json:"resolvedAt"`
}

func toConflictResponse(rec conflict.Record) conflictResponse {
	return conflictResponse{
		ID:                rec.ID,
		CoupleID:          rec.CoupleID,
		Title:             rec.Title,
		Category:          string(rec.Category),
		Phase:             string(rec.Phase),
		Synthesis:         rec.Synthesis,
		AAccepted:         rec.AAccepted,
		BAccepted:         rec.BAccepted,
		RejectionFeedback: rec.RejectionFeedback,
		ResolutionNotes:   rec.ResolutionNotes,
		CreatedAt:         rec.CreatedAt.Format(time.RFC3339),
		ResolvedAt:        optTime(rec.ResolvedAt),
	}
}

type perspectiveResponse struct {
	MemberID    string  `json:"memberId"`
	Body        *string `json:"body"`
	Submitted   bool    `json:"submitted"`
	SubmittedAt *string `json:"submittedAt"`
}

func toPerspectiveResponse(p conflict.Perspective) perspectiveResponse {
	return perspectiveResponse{
		MemberID:    p.MemberID,
		Body:        p.Body,
		Submitted:   p.Submitted,
		SubmittedAt: optTime(p.SubmittedAt),
	}
}

type messageResponse struct {
	ID             string  `json:"id"`
	SenderMemberID *string `json:"senderMemberId"`
	Body           string  `json:"body"`
	Pinned         bool    `json:"pinned"`
	CreatedAt      string  `json:"createdAt"`
}

func toMessageResponse(m conflict.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		SenderMemberID: m.SenderMemberID,
		Body:           m.Body,
		Pinned:         m.Pinned,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

type requestResponse struct {
	ID          string `json:"id"`
	ConflictID  string `json:"conflictId"`
	RequesterID string `json:"requesterId"`
	Body        string `json:"body"`
	Category    string `json:"category"`
	Accepted    bool   `json:"accepted"`
	Fulfilled   bool   `json:"fulfilled"`
	CreatedAt   string `json:"createdAt"`
}

func toRequestResponse(r request.Record) requestResponse {
	return requestResponse{
		ID:          r.ID,
		ConflictID:  r.ConflictID,
		RequesterID: r.RequesterID,
		Body:        r.Body,
		Category:    r.Category,
		Accepted:    r.Accepted,
		Fulfilled:   r.Fulfilled,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
}

func toRequestResponses(recs []request.Record) []requestResponse {
	out := make([]requestResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, toRequestResponse(r))
	}
	return out
}

func optTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
