package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"accord/auth"
	"accord/conflict"
	"accord/couple"
	"accord/request"
)

type stubAuthService struct {
	member    *auth.Member
	login     auth.LoginResult
	verifyID  string
	verifyErr error
	err       error
}

func (s *stubAuthService) Register(context.Context, auth.RegisterRequest) (*auth.Member, error) {
	return s.member, s.err
}

func (s *stubAuthService) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return s.login, s.err
}

func (s *stubAuthService) VerifyToken(string) (string, error) {
	return s.verifyID, s.verifyErr
}

type stubCoupleService struct {
	profile couple.Profile
	err     error
}

func (s *stubCoupleService) Create(context.Context, string) (couple.Profile, error) {
	return s.profile, s.err
}

func (s *stubCoupleService) Join(context.Context, string, string) (couple.Profile, error) {
	return s.profile, s.err
}

func (s *stubCoupleService) Get(context.Context, string) (couple.Profile, error) {
	return s.profile, s.err
}

type stubConflictService struct {
	record       conflict.Record
	records      []conflict.Record
	perspectives []conflict.Perspective
	perspective  conflict.Perspective
	message      conflict.Message
	messages     []conflict.Message
	err          error
}

func (s *stubConflictService) Create(context.Context, string, string, string) (conflict.Record, error) {
	return s.record, s.err
}

func (s *stubConflictService) Get(context.Context, string, string) (conflict.Record, error) {
	return s.record, s.err
}

func (s *stubConflictService) List(context.Context, string) ([]conflict.Record, error) {
	return s.records, s.err
}

func (s *stubConflictService) Perspectives(context.Context, string, string) ([]conflict.Perspective, error) {
	return s.perspectives, s.err
}

func (s *stubConflictService) SaveDraft(context.Context, string, string, string) error {
	return s.err
}

func (s *stubConflictService) SubmitPerspective(context.Context, string, string, string) (conflict.Perspective, error) {
	return s.perspective, s.err
}

func (s *stubConflictService) Review(context.Context, string, string, bool, string) (conflict.Record, error) {
	return s.record, s.err
}

func (s *stubConflictService) Resolve(context.Context, string, string, string) (conflict.Record, error) {
	return s.record, s.err
}

func (s *stubConflictService) AppendMessage(context.Context, string, string, string) (conflict.Message, error) {
	return s.message, s.err
}

func (s *stubConflictService) Messages(context.Context, string, string) ([]conflict.Message, error) {
	return s.messages, s.err
}

func (s *stubConflictService) PinMessage(context.Context, string, string, string, bool) error {
	return s.err
}

type stubMediatorService struct {
	deltas  []string
	text    string
	message conflict.Message
	err     error
}

func (s *stubMediatorService) Generate(_ context.Context, _, _ string, deliver func(string)) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for _, d := range s.deltas {
		deliver(d)
	}
	return s.text, nil
}

func (s *stubMediatorService) Reply(_ context.Context, _, _ string, deliver func(string)) (conflict.Message, error) {
	if s.err != nil {
		return conflict.Message{}, s.err
	}
	for _, d := range s.deltas {
		deliver(d)
	}
	return s.message, nil
}

type stubRequestService struct {
	record request.Record
	list   request.Partitioned
	err    error
}

func (s *stubRequestService) Create(context.Context, string, string, string, string) (request.Record, error) {
	return s.record, s.err
}

func (s *stubRequestService) Accept(context.Context, string, string, string) (request.Record, error) {
	return s.record, s.err
}

func (s *stubRequestService) Fulfill(context.Context, string, string, string) (request.Record, error) {
	return s.record, s.err
}

func (s *stubRequestService) List(context.Context, string, string) (request.Partitioned, error) {
	return s.list, s.err
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), ctxKeyMemberID, "m1"))
}

func TestRequireAuth_MissingToken(t *testing.T) {
	server := &Server{authService: &stubAuthService{}}
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/conflicts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_QueryTokenAccepted(t *testing.T) {
	server := &Server{
		authService:     &stubAuthService{verifyID: "m1"},
		conflictService: &stubConflictService{},
	}
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/conflicts?token=tok", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleRegister_DuplicateEmail(t *testing.T) {
	server := &Server{authService: &stubAuthService{err: auth.ErrDuplicateEmail}}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"a@b.c","password":"longenough","fullName":"A"}`))
	rec := httptest.NewRecorder()
	server.handleRegister(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	server := &Server{authService: &stubAuthService{
		login: auth.LoginResult{
			Token:  "tok",
			Member: auth.Member{ID: "m1", Email: "a@b.c", FullName: "A", CreatedAt: now},
		},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"a@b.c","password":"pw"}`))
	rec := httptest.NewRecorder()
	server.handleLogin(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Token  string         `json:"token"`
		Member memberResponse `json:"member"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Token != "tok" || payload.Member.ID != "m1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Member.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), payload.Member.CreatedAt)
	}
}

func TestHandleConflicts_List(t *testing.T) {
	now := time.Now().UTC()
	server := &Server{conflictService: &stubConflictService{
		records: []conflict.Record{
			{ID: "c1", CoupleID: "k1", Title: "dishes", Category: conflict.CategoryHousehold, Phase: conflict.PhaseCreated, CreatedAt: now},
		},
	}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/conflicts", nil))
	rec := httptest.NewRecorder()
	server.handleConflicts(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []conflictResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].ID != "c1" || payload.Items[0].Phase != "created" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleConflicts_WrongMethod(t *testing.T) {
	server := &Server{conflictService: &stubConflictService{}}

	req := authed(httptest.NewRequest(http.MethodDelete, "/api/conflicts", nil))
	rec := httptest.NewRecorder()
	server.handleConflicts(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleConflictDetail_NotFound(t *testing.T) {
	server := &Server{conflictService: &stubConflictService{err: conflict.ErrNotFound}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/conflicts/missing", nil))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleSaveDraft_NoContent(t *testing.T) {
	server := &Server{conflictService: &stubConflictService{}}

	req := authed(httptest.NewRequest(http.MethodPut, "/api/conflicts/c1/perspective",
		strings.NewReader(`{"body":"my side"}`)))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestHandleSaveDraft_AfterSubmit(t *testing.T) {
	server := &Server{conflictService: &stubConflictService{err: conflict.ErrAlreadySubmitted}}

	req := authed(httptest.NewRequest(http.MethodPut, "/api/conflicts/c1/perspective",
		strings.NewReader(`{"body":"x"}`)))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleResolve_BadPhase(t *testing.T) {
	server := &Server{conflictService: &stubConflictService{err: conflict.ErrBadPhase}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/conflicts/c1/resolve",
		strings.NewReader(`{"notes":"done"}`)))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleReview_FeedbackRequired(t *testing.T) {
	server := &Server{conflictService: &stubConflictService{err: conflict.ErrFeedbackRequired}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/conflicts/c1/review",
		strings.NewReader(`{"accept":false}`)))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleRequestAccept_NotAddressee(t *testing.T) {
	server := &Server{requestService: &stubRequestService{err: request.ErrNotAddressee}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/conflicts/c1/requests/r1/accept", nil))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSynthesis_StreamsAndTerminates(t *testing.T) {
	server := &Server{mediator: &stubMediatorService{
		deltas: []string{"Hello ", "world"},
		text:   "Hello world",
	}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/conflicts/c1/synthesis", nil))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `data: {"text":"Hello "}`) || !strings.Contains(body, `data: {"text":"world"}`) {
		t.Fatalf("deltas missing from stream: %q", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Fatalf("stream must end with [DONE]: %q", body)
	}
}

func TestHandleSynthesis_PreconditionKeepsStatusCode(t *testing.T) {
	server := &Server{mediator: &stubMediatorService{err: conflict.ErrBadPhase}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/conflicts/c1/synthesis", nil))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before any delta, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "[DONE]") {
		t.Fatalf("failed stream must not emit [DONE]")
	}
}

func TestHandleMediatorReply_Streams(t *testing.T) {
	server := &Server{mediator: &stubMediatorService{
		deltas:  []string{"Take a breath."},
		message: conflict.Message{ID: "msg-1", ConflictID: "c1", Body: "Take a breath."},
	}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/conflicts/c1/messages/reply", nil))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Take a breath.") {
		t.Fatalf("reply text missing from stream: %q", rec.Body.String())
	}
}

func TestHandleJoinCouple_Full(t *testing.T) {
	server := &Server{coupleService: &stubCoupleService{err: couple.ErrFull}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/couples/join",
		strings.NewReader(`{"joinCode":"ABCD1234"}`)))
	rec := httptest.NewRecorder()
	server.handleJoinCouple(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleConflictDetail_UnknownSubpath(t *testing.T) {
	server := &Server{conflictService: &stubConflictService{}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/conflicts/c1/timeline/extra/deep", nil))
	rec := httptest.NewRecorder()
	server.handleConflictDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestChannelAllowed(t *testing.T) {
	server := &Server{
		coupleService:   &stubCoupleService{profile: couple.Profile{ID: "k1"}},
		conflictService: &stubConflictService{record: conflict.Record{ID: "c1"}},
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if !server.channelAllowed(req, "couple:k1") {
		t.Errorf("member should join their own couple channel")
	}
	if server.channelAllowed(req, "couple:other") {
		t.Errorf("member must not join another couple's channel")
	}
	if !server.channelAllowed(req, "conflict:c1") {
		t.Errorf("member should join their conflict's channel")
	}
	if server.channelAllowed(req, "weird:zone") {
		t.Errorf("unknown channel prefixes are denied")
	}
}

func TestChannelAllowed_UnknownConflict(t *testing.T) {
	server := &Server{
		conflictService: &stubConflictService{err: conflict.ErrNotFound},
	}
	req := authed(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if server.channelAllowed(req, "conflict:someone-elses") {
		t.Errorf("conflict lookup failure must deny the join")
	}
}
