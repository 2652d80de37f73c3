package main

import (
	"context"
	"net/http"
	"strings"

	"accord/auth"
	"accord/request"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	member, err := s.authService.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(*member))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  result.Token,
		"member": toMemberResponse(result.Member),
	})
}

func (s *Server) handleCouples(w http.ResponseWriter, r *http.Request) {
	memberID, ok := memberIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	switch r.Method {
	case http.MethodPost:
		profile, err := s.coupleService.Create(r.Context(), memberID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCoupleResponse(profile))
	case http.MethodGet:
		profile, err := s.coupleService.Get(r.Context(), memberID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCoupleResponse(profile))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleJoinCouple(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	memberID, ok := memberIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	var req struct {
		JoinCode string `json:"joinCode"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := s.coupleService.Join(r.Context(), memberID, req.JoinCode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupleResponse(profile))
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	memberID, ok := memberIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	switch r.Method {
	case http.MethodGet:
		records, err := s.conflictService.List(r.Context(), memberID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		items := make([]conflictResponse, 0, len(records))
		for _, rec := range records {
			items = append(items, toConflictResponse(rec))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req struct {
			Title    string `json:"title"`
			Category string `json:"category"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		record, err := s.conflictService.Create(r.Context(), memberID, req.Title, req.Category)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toConflictResponse(record))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleConflictDetail routes everything under /api/conflicts/{id}/...
func (s *Server) handleConflictDetail(w http.ResponseWriter, r *http.Request) {
	memberID, ok := memberIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/conflicts/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "conflict id required")
		return
	}
	conflictID := parts[0]
	parts = parts[1:]

	switch {
	case len(parts) == 0:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		record, err := s.conflictService.Get(r.Context(), memberID, conflictID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConflictResponse(record))

	case len(parts) == 1 && parts[0] == "perspectives":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		perspectives, err := s.conflictService.Perspectives(r.Context(), memberID, conflictID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		items := make([]perspectiveResponse, 0, len(perspectives))
		for _, p := range perspectives {
			items = append(items, toPerspectiveResponse(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case len(parts) == 1 && parts[0] == "perspective":
		s.handleSaveDraft(w, r, memberID, conflictID)

	case len(parts) == 2 && parts[0] == "perspective" && parts[1] == "submit":
		s.handleSubmitPerspective(w, r, memberID, conflictID)

	case len(parts) == 1 && parts[0] == "synthesis":
		s.handleSynthesis(w, r, memberID, conflictID)

	case len(parts) == 1 && parts[0] == "review":
		s.handleReview(w, r, memberID, conflictID)

	case len(parts) == 1 && parts[0] == "resolve":
		s.handleResolve(w, r, memberID, conflictID)

	case len(parts) == 1 && parts[0] == "messages":
		s.handleMessages(w, r, memberID, conflictID)

	case len(parts) == 2 && parts[0] == "messages" && parts[1] == "reply":
		s.handleMediatorReply(w, r, memberID, conflictID)

	case len(parts) == 3 && parts[0] == "messages" && parts[2] == "pin":
		s.handlePinMessage(w, r, memberID, conflictID, parts[1])

	case len(parts) == 1 && parts[0] == "requests":
		s.handleRequests(w, r, memberID, conflictID)

	case len(parts) == 3 && parts[0] == "requests" && parts[2] == "accept":
		s.handleRequestAction(w, r, memberID, conflictID, parts[1], s.requestService.Accept)

	case len(parts) == 3 && parts[0] == "requests" && parts[2] == "fulfill":
		s.handleRequestAction(w, r, memberID, conflictID, parts[1], s.requestService.Fulfill)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request, memberID, conflictID string) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.conflictService.SaveDraft(r.Context(), memberID, conflictID, req.Body); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitPerspective(w http.ResponseWriter, r *http.Request, memberID, conflictID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	perspective, err := s.conflictService.SubmitPerspective(r.Context(), memberID, conflictID, req.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPerspectiveResponse(perspective))
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, memberID, conflictID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Accept   bool   `json:"accept"`
		Feedback string `json:"feedback"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	record, err := s.conflictService.Review(r.Context(), memberID, conflictID, req.Accept, req.Feedback)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConflictResponse(record))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, memberID, conflictID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	record, err := s.conflictService.Resolve(r.Context(), memberID, conflictID, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConflictResponse(record))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, memberID, conflictID string) {
	switch r.Method {
	case http.MethodGet:
		messages, err := s.conflictService.Messages(r.Context(), memberID, conflictID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		items := make([]messageResponse, 0, len(messages))
		for _, m := range messages {
			items = append(items, toMessageResponse(m))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req struct {
			Body string `json:"body"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		message, err := s.conflictService.AppendMessage(r.Context(), memberID, conflictID, req.Body)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMessageResponse(message))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePinMessage(w http.ResponseWriter, r *http.Request, memberID, conflictID, messageID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Pinned bool `json:"pinned"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.conflictService.PinMessage(r.Context(), memberID, conflictID, messageID, req.Pinned); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request, memberID, conflictID string) {
	switch r.Method {
	case http.MethodGet:
		partitioned, err := s.requestService.List(r.Context(), memberID, conflictID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"mine":        toRequestResponses(partitioned.Mine),
			"fromPartner": toRequestResponses(partitioned.FromPartner),
		})
	case http.MethodPost:
		var req struct {
			Body     string `json:"body"`
			Category string `json:"category"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		record, err := s.requestService.Create(r.Context(), memberID, conflictID, req.Body, req.Category)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequestResponse(record))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type requestAction func(ctx context.Context, memberID, conflictID, requestID string) (request.Record, error)

func (s *Server) handleRequestAction(w http.ResponseWriter, r *http.Request, memberID, conflictID, requestID string, act requestAction) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	record, err := act(r.Context(), memberID, conflictID, requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(record))
}
