package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rudnitski/HealthUp-sub005/internal/model/event"
	sessionService "github.com/rudnitski/HealthUp-sub005/internal/service/session"
)

func readFrame(t *testing.T, r *bufio.Reader) event.Event {
	t.Helper()

	var data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse frame: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if data != "" {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	var ev event.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode sse payload %q: %v", data, err)
	}
	return ev
}

func TestStreamReplaysBufferedEvents(t *testing.T) {
	guard := sessionService.NewService(time.Hour)
	sess := guard.Create(context.Background(), "")
	guard.Publish(sess.ID, event.MessageStart("m1"))
	guard.Publish(sess.ID, event.Text("m1", "hello"))

	r := chi.NewRouter()
	New(guard).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions/" + sess.ID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	first := readFrame(t, reader)
	if first.Type != event.TypeSessionStart || first.SessionID != sess.ID {
		t.Fatalf("unexpected first frame: %+v", first)
	}
	second := readFrame(t, reader)
	if second.Type != event.TypeMessageStart || second.MessageID != "m1" {
		t.Fatalf("unexpected second frame: %+v", second)
	}
	third := readFrame(t, reader)
	if third.Type != event.TypeText || third.Content != "hello" {
		t.Fatalf("unexpected third frame: %+v", third)
	}

	// live event published while the stream is attached
	guard.Publish(sess.ID, event.MessageEnd("m1"))
	fourth := readFrame(t, reader)
	if fourth.Type != event.TypeMessageEnd {
		t.Fatalf("unexpected fourth frame: %+v", fourth)
	}

	// tearing the session down ends the response
	if err := guard.Delete(sess.ID); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if _, err := io.Copy(io.Discard, reader); err != nil {
		t.Fatalf("drain stream: %v", err)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	guard := sessionService.NewService(time.Hour)

	r := chi.NewRouter()
	New(guard).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/sessions/nope/stream", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
