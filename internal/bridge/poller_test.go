package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"minibridge/internal/bus"
	"minibridge/internal/media"
	"minibridge/internal/metrics"
	"minibridge/internal/relay"
	"minibridge/internal/session"
	"minibridge/internal/state"
)

type fakeRelay struct {
	updatesJSON string
	failFetch   bool
	markedIDs   []int64
}

func (f *fakeRelay) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if f.failFetch {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok":true,"result":` + f.updatesJSON + `}`))
		case strings.HasSuffix(r.URL.Path, "/markProcessed"):
			raw, _ := io.ReadAll(r.Body)
			var body struct {
				MessageIDs []int64 `json:"message_ids"`
			}
			json.Unmarshal(raw, &body)
			f.markedIDs = body.MessageIDs
			w.Write([]byte(`{"ok":true}`))
		default:
			w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
		}
	}
}

func newPollerHarness(t *testing.T, f *fakeRelay, rt *fakeRuntime) (*Poller, *state.Store) {
	t.Helper()

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := relay.NewClient(srv.URL, "123:abc", 5*time.Second, testLogger())
	stats := metrics.New()
	events := bus.New(testLogger())

	inj := NewInjector(InjectorParams{
		AccountID: "acct-1",
		Workspace: t.TempDir(),
		Client:    client,
		Runtime:   rt,
		Resolver:  session.NewResolver(""),
		Transfer:  media.NewTransfer(t.TempDir(), 1<<20, nil, testLogger()),
		Events:    events,
		Stats:     stats,
		Logger:    testLogger(),
	})

	p := NewPoller("acct-1", 10*time.Millisecond, client, inj, store, events, stats, testLogger())
	return p, store
}

func TestPollOnceAdvancesCursorPastSkipped(t *testing.T) {
	f := &fakeRelay{updatesJSON: `[
		{"update_id":10,"message":{"message_id":1,"text":"hi","from":{"id":7,"username":"alice"}}},
		{"update_id":11},
		{"update_id":12,"message":{"message_id":2,"text":"there","from":{"id":7,"username":"alice"}}}
	]`}
	p, store := newPollerHarness(t, f, &fakeRuntime{})

	next, err := p.pollOnce(context.Background(), 10)
	if err != nil {
		t.Fatalf("poll once: %v", err)
	}
	if next != 13 {
		t.Errorf("expected cursor 13 (max+1 over whole batch), got %d", next)
	}

	persisted, err := store.Cursor(context.Background(), "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if persisted != 13 {
		t.Errorf("expected persisted cursor 13, got %d", persisted)
	}

	if len(f.markedIDs) != 3 {
		t.Fatalf("expected all 3 update ids acked, got %v", f.markedIDs)
	}
	if f.markedIDs[1] != 11 {
		t.Errorf("expected skipped update acked too, got %v", f.markedIDs)
	}
}

func TestPollOnceEmptyBatchKeepsCursor(t *testing.T) {
	f := &fakeRelay{updatesJSON: `[]`}
	p, store := newPollerHarness(t, f, &fakeRuntime{})

	next, err := p.pollOnce(context.Background(), 42)
	if err != nil {
		t.Fatalf("poll once: %v", err)
	}
	if next != 42 {
		t.Errorf("expected cursor unchanged at 42, got %d", next)
	}
	persisted, _ := store.Cursor(context.Background(), "acct-1")
	if persisted != 0 {
		t.Errorf("expected no cursor write on empty batch, got %d", persisted)
	}
}

func TestPollOnceFetchErrorHoldsCursor(t *testing.T) {
	f := &fakeRelay{failFetch: true}
	p, _ := newPollerHarness(t, f, &fakeRuntime{})

	next, err := p.pollOnce(context.Background(), 20)
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if next != 20 {
		t.Errorf("expected cursor held at 20, got %d", next)
	}
}

func TestPollOnceItemFailureStillAdvances(t *testing.T) {
	f := &fakeRelay{updatesJSON: `[
		{"update_id":30,"message":{"message_id":1,"text":"hi","from":{"id":7,"username":"alice"}}}
	]`}
	rt := &fakeRuntime{err: errDispatch}
	p, store := newPollerHarness(t, f, rt)

	next, err := p.pollOnce(context.Background(), 30)
	if err != nil {
		t.Fatalf("item failure must not fail the cycle: %v", err)
	}
	if next != 31 {
		t.Errorf("expected cursor 31 past the failed update, got %d", next)
	}
	persisted, _ := store.Cursor(context.Background(), "acct-1")
	if persisted != 31 {
		t.Errorf("expected persisted cursor 31, got %d", persisted)
	}
}

var errDispatch = errTest("dispatch failed")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestRunRestoresCursorFromStore(t *testing.T) {
	var gotOffset string
	f := &fakeRelay{updatesJSON: `[]`}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/getUpdates") && gotOffset == "" {
			gotOffset = r.URL.Query().Get("offset")
		}
		f.handler()(w, r)
	}))
	defer srv.Close()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.SetCursor(context.Background(), "acct-1", 77); err != nil {
		t.Fatal(err)
	}

	client := relay.NewClient(srv.URL, "123:abc", 5*time.Second, testLogger())
	stats := metrics.New()
	events := bus.New(testLogger())
	inj := NewInjector(InjectorParams{
		AccountID: "acct-1",
		Client:    client,
		Runtime:   &fakeRuntime{},
		Resolver:  session.NewResolver(""),
		Transfer:  media.NewTransfer(t.TempDir(), 1<<20, nil, testLogger()),
		Events:    events,
		Stats:     stats,
		Logger:    testLogger(),
	})
	p := NewPoller("acct-1", 5*time.Millisecond, client, inj, store, events, stats, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if gotOffset != "77" {
		t.Errorf("expected first poll at restored offset 77, got %q", gotOffset)
	}
}

func TestCycleWaitBacksOffOnFailure(t *testing.T) {
	f := &fakeRelay{updatesJSON: `[]`}
	p, _ := newPollerHarness(t, f, &fakeRuntime{})

	if got := p.cycleWait(false); got != 10*time.Millisecond {
		t.Errorf("expected normal interval, got %v", got)
	}
	if got := p.cycleWait(true); got != 50*time.Millisecond {
		t.Errorf("expected 5x backoff, got %v", got)
	}
}

func TestSupervisorSingleInstancePerAccount(t *testing.T) {
	f := &fakeRelay{updatesJSON: `[]`}
	p1, _ := newPollerHarness(t, f, &fakeRuntime{})
	p2, _ := newPollerHarness(t, f, &fakeRuntime{})

	events := bus.New(testLogger())
	var lifecycle []string
	events.On(bus.EventAccountStarted, func(ev bus.Event) {
		lifecycle = append(lifecycle, "started:"+ev.AccountID)
	})
	events.On(bus.EventAccountStopped, func(ev bus.Event) {
		lifecycle = append(lifecycle, "stopped:"+ev.AccountID)
	})

	s := NewSupervisor(events, testLogger())
	ctx := context.Background()

	if gen := s.Start(ctx, "acct-1", p1); gen != 1 {
		t.Errorf("expected generation 1, got %d", gen)
	}
	if gen := s.Start(ctx, "acct-1", p2); gen != 2 {
		t.Errorf("expected generation 2 after restart, got %d", gen)
	}
	if gen := s.Generation("acct-1"); gen != 2 {
		t.Errorf("expected active generation 2, got %d", gen)
	}

	s.Stop("acct-1")
	if gen := s.Generation("acct-1"); gen != 0 {
		t.Errorf("expected generation 0 after stop, got %d", gen)
	}

	// Stop on an unknown account is a no-op.
	s.Stop("nope")

	s.Start(ctx, "acct-1", p1)
	s.Start(ctx, "acct-2", p2)
	s.StopAll()
	if s.Generation("acct-1") != 0 || s.Generation("acct-2") != 0 {
		t.Error("expected all loops stopped")
	}

	started, stopped := 0, 0
	for _, ev := range lifecycle {
		if strings.HasPrefix(ev, "started:") {
			started++
		} else {
			stopped++
		}
	}
	if started != 4 {
		t.Errorf("expected 4 started events, got %d", started)
	}
	if stopped != 4 {
		t.Errorf("expected 4 stopped events (restart, Stop, two StopAll), got %d", stopped)
	}
}
