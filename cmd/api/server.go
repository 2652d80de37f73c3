package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"accord/auth"
	"accord/conflict"
	"accord/couple"
	"accord/realtime"
	"accord/request"
	"accord/synthesis"
)

type ctxKey string

const ctxKeyMemberID ctxKey = "memberID"

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Member, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, error)
}

type coupleService interface {
	Create(ctx context.Context, memberID string) (couple.Profile, error)
	Join(ctx context.Context, memberID, joinCode string) (couple.Profile, error)
	Get(ctx context.Context, memberID string) (couple.Profile, error)
}

type conflictService interface {
	Create(ctx context.Context, memberID, title, category string) (conflict.Record, error)
	Get(ctx context.Context, memberID, conflictID string) (conflict.Record, error)
	List(ctx context.Context, memberID string) ([]conflict.Record, error)
	Perspectives(ctx context.Context, memberID, conflictID string) ([]conflict.Perspective, error)
	SaveDraft(ctx context.Context, memberID, conflictID, body string) error
	SubmitPerspective(ctx context.Context, memberID, conflictID, body string) (conflict.Perspective, error)
	Review(ctx context.Context, memberID, conflictID string, accept bool, feedback string) (conflict.Record, error)
	Resolve(ctx context.Context, memberID, conflictID, notes string) (conflict.Record, error)
	AppendMessage(ctx context.Context, memberID, conflictID, body string) (conflict.Message, error)
	Messages(ctx context.Context, memberID, conflictID string) ([]conflict.Message, error)
	PinMessage(ctx context.Context, memberID, conflictID, messageID string, pinned bool) error
}

type mediatorService interface {
	Generate(ctx context.Context, memberID, conflictID string, deliver func(delta string)) (string, error)
	Reply(ctx context.Context, memberID, conflictID string, deliver func(delta string)) (conflict.Message, error)
}

type requestService interface {
	Create(ctx context.Context, memberID, conflictID, body, category string) (request.Record, error)
	Accept(ctx context.Context, memberID, conflictID, requestID string) (request.Record, error)
	Fulfill(ctx context.Context, memberID, conflictID, requestID string) (request.Record, error)
	List(ctx context.Context, memberID, conflictID string) (request.Partitioned, error)
}

// Server carries the service interfaces behind the HTTP surface. Handlers
// translate wire shapes to service calls and sentinel errors to status codes.
type Server struct {
	authService     authService
	coupleService   coupleService
	conflictService conflictService
	mediator        mediatorService
	requestService  requestService
	ws              http.Handler
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.Handle("/api/couples", s.requireAuth(s.handleCouples))
	mux.Handle("/api/couples/join", s.requireAuth(s.handleJoinCouple))
	mux.Handle("/api/conflicts", s.requireAuth(s.handleConflicts))
	mux.Handle("/api/conflicts/", s.requireAuth(s.handleConflictDetail))
	if s.ws != nil {
		mux.Handle("/ws", s.requireAuth(s.ws.ServeHTTP))
	}
	return mux
}

func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing credentials")
			return
		}
		memberID, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyMemberID, memberID)
		next(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header, falling back to a token query
// parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func memberIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyMemberID).(string)
	return id, ok && id != ""
}

// channelAllowed gates websocket channel joins to the caller's own couple
// and its conflicts.
func (s *Server) channelAllowed(r *http.Request, channel string) bool {
	memberID, ok := memberIDFrom(r.Context())
	if !ok {
		return false
	}
	switch {
	case strings.HasPrefix(channel, "couple:"):
		profile, err := s.coupleService.Get(r.Context(), memberID)
		return err == nil && realtime.CoupleChannel(profile.ID) == channel
	case strings.HasPrefix(channel, "conflict:"):
		id := strings.TrimPrefix(channel, "conflict:")
		_, err := s.conflictService.Get(r.Context(), memberID, id)
		return err == nil
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeDomainError maps package sentinels onto HTTP statuses. Anything
// unrecognized is a 500 and gets logged.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conflict.ErrNotFound),
		errors.Is(err, request.ErrNotFound),
		errors.Is(err, couple.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	// validation and precondition failures both surface as 400
	case errors.Is(err, conflict.ErrTitleRequired),
		errors.Is(err, conflict.ErrNotesRequired),
		errors.Is(err, conflict.ErrBodyRequired),
		errors.Is(err, conflict.ErrFeedbackRequired),
		errors.Is(err, request.ErrBodyRequired),
		errors.Is(err, couple.ErrCodeRequired),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, conflict.ErrAlreadySubmitted),
		errors.Is(err, conflict.ErrAlreadyResolved),
		errors.Is(err, conflict.ErrNoSynthesis),
		errors.Is(err, conflict.ErrBadPhase),
		errors.Is(err, conflict.ErrCoupleIncomplete),
		errors.Is(err, request.ErrNotAccepted),
		errors.Is(err, request.ErrNotAddressee):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, couple.ErrAlreadyPaired),
		errors.Is(err, couple.ErrFull),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, synthesis.ErrMediator), errors.Is(err, synthesis.ErrEmpty):
		writeError(w, http.StatusBadGateway, "mediator unavailable")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
