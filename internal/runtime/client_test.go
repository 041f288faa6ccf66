package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"minibridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/routes/resolve" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		var req routeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Channel != domain.ChannelID || req.PeerID != "alice" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(routeResponse{
			SessionKey:     "agent:ops:dm:alice",
			MainSessionKey: "agent:ops:main",
			AgentID:        "ops",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", testLogger())
	route, err := c.ResolveRoute(context.Background(), "acct-1", domain.Peer{Kind: "dm", ID: "alice"})
	if err != nil {
		t.Fatalf("resolve route: %v", err)
	}
	if route.SessionKey != "agent:ops:dm:alice" || route.AgentID != "ops" {
		t.Errorf("unexpected route: %+v", route)
	}
	if !route.FromRouter {
		t.Error("expected FromRouter true")
	}
}

func TestResolveRouteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no route", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "", testLogger())
	if _, err := c.ResolveRoute(context.Background(), "acct-1", domain.Peer{Kind: "dm", ID: "x"}); err == nil {
		t.Fatal("expected error for HTTP 404")
	}
}

func TestDispatchStreamsFinalChunksOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages/dispatch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"kind":"progress","text":"thinking"}`+"\n")
		io.WriteString(w, `{"kind":"final","text":"part one"}`+"\n")
		io.WriteString(w, "\n")
		io.WriteString(w, `not json at all`+"\n")
		io.WriteString(w, `{"kind":"final","text":"part two","media_urls":["https://cdn/a.jpg"],"media_types":["image/jpeg"]}`+"\n")
	}))
	defer srv.Close()

	c := New(srv.URL, "", testLogger())
	chunks, err := c.Dispatch(context.Background(), domain.MsgContext{Body: "hi", AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var got []domain.ReplyChunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 final chunks, got %d", len(got))
	}
	if got[0].Text != "part one" {
		t.Errorf("unexpected first chunk: %+v", got[0])
	}
	if got[1].Text != "part two" || len(got[1].MediaURLs) != 1 {
		t.Errorf("unexpected second chunk: %+v", got[1])
	}
}

func TestDispatchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session locked", http.StatusConflict)
	}))
	defer srv.Close()

	c := New(srv.URL, "", testLogger())
	if _, err := c.Dispatch(context.Background(), domain.MsgContext{}); err == nil {
		t.Fatal("expected error for HTTP 409")
	}
}

func TestRecordInbound(t *testing.T) {
	var recorded recordRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/record" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&recorded)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "", testLogger())
	msg := domain.MsgContext{Body: "hello", SessionKey: "agent:main:main", AccountID: "acct-1"}
	route := domain.Route{AgentID: "main"}
	if err := c.RecordInbound(context.Background(), msg, route); err != nil {
		t.Fatalf("record inbound: %v", err)
	}
	if recorded.Body != "hello" || recorded.AgentID != "main" {
		t.Errorf("unexpected record: %+v", recorded)
	}
}
