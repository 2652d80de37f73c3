package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter relays mediator deltas to the client as server-sent events. The
// response status is held back until the first delta so precondition failures
// can still surface as plain HTTP errors.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    <-chan struct{}
	started bool
	gone    bool
}

func newSSEWriter(w http.ResponseWriter, r *http.Request) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &sseWriter{w: w, flusher: flusher, done: r.Context().Done()}, nil
}

func (s *sseWriter) deliver(delta string) {
	select {
	case <-s.done:
		// The client left. Generation keeps running so the result still
		// commits; there is just nobody to relay deltas to.
		s.gone = true
		return
	default:
	}
	if s.gone {
		return
	}
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	payload, err := json.Marshal(map[string]string{"text": delta})
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}

func (s *sseWriter) finish() {
	if !s.started || s.gone {
		return
	}
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

func (s *sseWriter) fail(message string) {
	if !s.started || s.gone {
		return
	}
	payload, _ := json.Marshal(map[string]string{"error": message})
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}

func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request, memberID, conflictID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sse, err := newSSEWriter(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Detached context: once generation starts, a dropped connection must
	// not abort it. The synthesis either commits whole or not at all.
	ctx := context.WithoutCancel(r.Context())
	if _, err := s.mediator.Generate(ctx, memberID, conflictID, sse.deliver); err != nil {
		if sse.started {
			sse.fail("synthesis failed")
			return
		}
		writeDomainError(w, err)
		return
	}
	sse.finish()
}

func (s *Server) handleMediatorReply(w http.ResponseWriter, r *http.Request, memberID, conflictID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sse, err := newSSEWriter(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if _, err := s.mediator.Reply(ctx, memberID, conflictID, sse.deliver); err != nil {
		if sse.started {
			sse.fail("reply failed")
			return
		}
		writeDomainError(w, err)
		return
	}
	sse.finish()
}
