package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rudnitski/HealthUp-sub005/internal/config"
	"github.com/rudnitski/HealthUp-sub005/internal/model/chat"
	sessionService "github.com/rudnitski/HealthUp-sub005/internal/service/session"
)

// fakeRunner stands in for the orchestrator. When release is non-nil the run
// blocks until it is closed, which lets tests hold a session busy.
type fakeRunner struct {
	release chan struct{}
	turn    chat.Turn
}

func (f *fakeRunner) RunTurn(_ context.Context, _ string) chat.Turn {
	if f.release != nil {
		<-f.release
	}
	return f.turn
}

func newTestRouter(guard *sessionService.Service, runner TurnRunner) http.Handler {
	r := chi.NewRouter()
	New(guard, runner, config.AgentConfig{TurnTimeout: time.Second}).RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, h http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestCreateSession(t *testing.T) {
	guard := sessionService.NewService(time.Hour)
	h := newTestRouter(guard, &fakeRunner{})

	rec := postJSON(t, h, "/sessions", map[string]string{"patientId": "patient-3"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["sessionId"] == "" {
		t.Fatal("missing sessionId")
	}

	scope, err := guard.PatientScope(resp["sessionId"])
	if err != nil || scope != "patient-3" {
		t.Fatalf("patient scope = %q, %v", scope, err)
	}
}

func TestSendMessageAccepted(t *testing.T) {
	guard := sessionService.NewService(time.Hour)
	sess := guard.Create(context.Background(), "")
	runner := &fakeRunner{turn: chat.Turn{MessageID: "a1", Role: "assistant", Status: chat.TurnCompleted}}
	h := newTestRouter(guard, runner)

	rec := postJSON(t, h, "/sessions/"+sess.ID+"/messages", map[string]string{"text": "show my results"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["messageId"] == "" || resp["status"] != "accepted" {
		t.Fatalf("unexpected response: %v", resp)
	}

	// the turn runs detached; once sealed the transcript holds both turns
	waitFor(t, func() bool {
		turns, err := guard.History(sess.ID)
		return err == nil && len(turns) == 2
	})
}

func TestSendMessageBusySession(t *testing.T) {
	guard := sessionService.NewService(time.Hour)
	sess := guard.Create(context.Background(), "")
	runner := &fakeRunner{release: make(chan struct{}), turn: chat.Turn{MessageID: "a1", Role: "assistant"}}
	h := newTestRouter(guard, runner)

	first := postJSON(t, h, "/sessions/"+sess.ID+"/messages", map[string]string{"text": "question one"})
	if first.Code != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", first.Code)
	}

	events, detach, err := guard.Subscribe(sess.ID)
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	defer detach()
	for len(events) > 0 { // discard session_start
		<-events
	}

	second := postJSON(t, h, "/sessions/"+sess.ID+"/messages", map[string]string{"text": "question two"})
	if second.Code != http.StatusConflict {
		t.Fatalf("second status = %d, want 409", second.Code)
	}

	// a rejected message produces no events on the stream
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after busy rejection: %+v", ev)
	default:
	}

	// the rejected message must not have entered the transcript
	turns, err := guard.History(sess.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("transcript has %d turns, want only the accepted one", len(turns))
	}

	close(runner.release)
	waitFor(t, func() bool {
		return guard.Begin(sess.ID) == nil
	})
}

func TestSendMessageUnknownSession(t *testing.T) {
	guard := sessionService.NewService(time.Hour)
	h := newTestRouter(guard, &fakeRunner{})

	rec := postJSON(t, h, "/sessions/nope/messages", map[string]string{"text": "hello"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSendMessageEmptyText(t *testing.T) {
	guard := sessionService.NewService(time.Hour)
	sess := guard.Create(context.Background(), "")
	h := newTestRouter(guard, &fakeRunner{})

	rec := postJSON(t, h, "/sessions/"+sess.ID+"/messages", map[string]string{"text": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestNewSession(t *testing.T) {
	guard := sessionService.NewService(time.Hour)
	sess := guard.Create(context.Background(), "patient-5")
	h := newTestRouter(guard, &fakeRunner{})

	rec := postJSON(t, h, "/sessions/"+sess.ID+"/new", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["sessionId"] == "" || resp["sessionId"] == sess.ID {
		t.Fatalf("expected a fresh session id, got %q", resp["sessionId"])
	}

	scope, err := guard.PatientScope(resp["sessionId"])
	if err != nil || scope != "patient-5" {
		t.Fatalf("patient scope = %q, %v", scope, err)
	}
}

func TestDeleteSession(t *testing.T) {
	guard := sessionService.NewService(time.Hour)
	sess := guard.Create(context.Background(), "")
	h := newTestRouter(guard, &fakeRunner{})

	req := httptest.NewRequest(http.MethodDelete, "/sessions/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}
