package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/internal/evaluation"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/recognition"
	"github.com/MrWong99/voxtutor/pkg/types"
)

type recognizerFunc func(ctx context.Context) (recognition.Result, error)

func (f recognizerFunc) Start(ctx context.Context) (recognition.Result, error) { return f(ctx) }

func heard(transcript string) recognizerFunc {
	return func(context.Context) (recognition.Result, error) {
		return recognition.Result{
			RunID:        "run",
			Transcript:   transcript,
			Alternatives: []types.Alternative{{Transcript: transcript, Confidence: 0.9}},
		}, nil
	}
}

func newOrchestrator(t *testing.T, rec evaluation.Recognizer, opts ...evaluation.Option) *evaluation.Orchestrator {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	base := []evaluation.Option{
		evaluation.WithLogger(slog.New(slog.DiscardHandler)),
		evaluation.WithMetrics(m),
	}
	o := evaluation.New(rec, append(base, opts...)...)
	t.Cleanup(o.Close)
	return o
}

func newMux(tutor api.Tutor, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	opts = append([]api.Option{api.WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	api.New(tutor, opts...).Register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestListen_Accepted(t *testing.T) {
	t.Parallel()
	mux := newMux(newOrchestrator(t, heard("banana")))

	rec := do(t, mux, "POST", "/v1/listen", `{"expected":"banana"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode[api.WordResponse](t, rec)
	if !resp.Accepted || resp.Word != "banana" {
		t.Errorf("response = %+v, want banana accepted", resp)
	}
	if resp.State.Phase != evaluation.PhaseAccepted {
		t.Errorf("phase = %q, want %q", resp.State.Phase, evaluation.PhaseAccepted)
	}
}

func TestListen_NoMatch(t *testing.T) {
	t.Parallel()
	mux := newMux(newOrchestrator(t, heard("cucumber")))

	resp := decode[api.WordResponse](t, do(t, mux, "POST", "/v1/listen", `{"expected":"banana"}`))
	if resp.Accepted || resp.Word != "" {
		t.Errorf("response = %+v, want no word", resp)
	}
	if resp.State.Phase != evaluation.PhaseRejected || !resp.State.Error {
		t.Errorf("state = %+v, want rejected error", resp.State)
	}
	if resp.State.Heard != "cucumber" {
		t.Errorf("heard = %q", resp.State.Heard)
	}
}

func TestListen_BadRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"expected":`},
		{"missing expected", `{}`},
		{"blank expected", `{"expected":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			rec := recognizerFunc(func(context.Context) (recognition.Result, error) {
				calls.Add(1)
				return recognition.Result{}, recognition.ErrNoSpeech
			})
			mux := newMux(newOrchestrator(t, rec))

			if got := do(t, mux, "POST", "/v1/listen", tt.body); got.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", got.Code)
			}
			if calls.Load() != 0 {
				t.Error("recognizer started for an invalid request")
			}
		})
	}
}

func TestListen_BusyIsConflict(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	o := newOrchestrator(t, recognizerFunc(func(ctx context.Context) (recognition.Result, error) {
		close(started)
		<-ctx.Done()
		return recognition.Result{}, recognition.ErrAborted
	}))
	mux := newMux(o)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		r := httptest.NewRequest("POST", "/v1/listen", strings.NewReader(`{"expected":"banana"}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, r)
		first <- rec
	}()
	<-started

	busy := do(t, mux, "POST", "/v1/listen", `{"expected":"apple"}`)
	if busy.Code != http.StatusConflict {
		t.Errorf("second listen status = %d, want 409", busy.Code)
	}
	if st := decode[api.WordResponse](t, busy).State; !st.IsListening || st.Expected != "banana" {
		t.Errorf("conflict state = %+v, want the running attempt", st)
	}

	if got := do(t, mux, "POST", "/v1/stop", ""); got.Code != http.StatusOK {
		t.Errorf("stop status = %d, want 200", got.Code)
	}

	select {
	case rec := <-first:
		resp := decode[api.WordResponse](t, rec)
		if resp.Accepted {
			t.Errorf("stopped listen accepted: %+v", resp)
		}
		if resp.State.Phase != evaluation.PhaseIdle || resp.State.Message != "" {
			t.Errorf("state after stop = %+v, want silent idle", resp.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return after stop")
	}
}

func TestListen_ConcurrentCallsConflict(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, recognizerFunc(func(ctx context.Context) (recognition.Result, error) {
		<-ctx.Done()
		return recognition.Result{}, recognition.ErrAborted
	}))
	mux := newMux(o)

	const n = 8
	codes := make(chan int, n)
	var ready sync.WaitGroup
	ready.Add(n)
	gate := make(chan struct{})
	for range n {
		go func() {
			r := httptest.NewRequest("POST", "/v1/listen", strings.NewReader(`{"expected":"banana"}`))
			rec := httptest.NewRecorder()
			ready.Done()
			<-gate
			mux.ServeHTTP(rec, r)
			codes <- rec.Code
		}()
	}
	ready.Wait()
	close(gate)

	// Every listen but the one holding the capture is refused.
	for i := range n - 1 {
		select {
		case code := <-codes:
			if code != http.StatusConflict {
				t.Errorf("listen %d status = %d, want 409", i, code)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d refused listens returned", i, n-1)
		}
	}

	do(t, mux, "POST", "/v1/stop", "")
	select {
	case code := <-codes:
		if code != http.StatusOK {
			t.Errorf("capturing listen status = %d, want 200", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capturing listen did not return after stop")
	}
}

func TestListen_ClosedIsUnavailable(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, heard("banana"))
	mux := newMux(o)
	o.Close()

	if got := do(t, mux, "POST", "/v1/listen", `{"expected":"banana"}`); got.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", got.Code)
	}
}

func TestConfirmFlow(t *testing.T) {
	t.Parallel()
	// Exact matches land in the confirmation tier with these thresholds.
	o := newOrchestrator(t, heard("banana"), evaluation.WithTiers(evaluation.Tiers{AutoAccept: 1.1, Confirm: 0.5}))
	mux := newMux(o)

	resp := decode[api.WordResponse](t, do(t, mux, "POST", "/v1/listen", `{"expected":"banana"}`))
	if resp.Accepted || !resp.State.NeedsConfirmation || resp.State.SuggestedWord != "banana" {
		t.Fatalf("listen = %+v, want pending confirmation", resp)
	}

	confirm := decode[api.WordResponse](t, do(t, mux, "POST", "/v1/confirm", ""))
	if !confirm.Accepted || confirm.Word != "banana" || confirm.State.Phase != evaluation.PhaseConfirmed {
		t.Errorf("confirm = %+v, want banana confirmed", confirm)
	}

	again := decode[api.WordResponse](t, do(t, mux, "POST", "/v1/confirm", ""))
	if again.Accepted || again.Word != "" {
		t.Errorf("second confirm = %+v, want nothing pending", again)
	}
}

func TestRejectFlow(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, heard("banana"), evaluation.WithTiers(evaluation.Tiers{AutoAccept: 1.1, Confirm: 0.5}))
	mux := newMux(o)

	_ = do(t, mux, "POST", "/v1/listen", `{"expected":"banana"}`)
	resp := decode[api.StateResponse](t, do(t, mux, "POST", "/v1/reject", ""))
	if resp.State.Phase != evaluation.PhaseRejected || resp.State.NeedsConfirmation {
		t.Errorf("state = %+v, want rejected without pending confirmation", resp.State)
	}
	if resp.State.Failures != 1 {
		t.Errorf("failures = %d, want 1", resp.State.Failures)
	}
}

func TestState(t *testing.T) {
	t.Parallel()
	mux := newMux(newOrchestrator(t, heard("banana")))

	rec := do(t, mux, "GET", "/v1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if st := decode[evaluation.Attempt](t, rec); st.Phase != evaluation.PhaseIdle {
		t.Errorf("phase = %q, want idle", st.Phase)
	}
	if got := do(t, mux, "POST", "/v1/state", ""); got.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /v1/state status = %d, want 405", got.Code)
	}
}

func TestEvents(t *testing.T) {
	t.Parallel()
	events := api.NewEvents(nil, slog.New(slog.DiscardHandler))
	t.Cleanup(events.Close)
	o := newOrchestrator(t, heard("banana"), evaluation.WithStateHook(events.Publish))

	srv := httptest.NewServer(newMux(o, api.WithEvents(events)))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var first evaluation.Attempt
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Phase != evaluation.PhaseIdle {
		t.Errorf("initial phase = %q, want idle", first.Phase)
	}

	resp, err := http.Post(srv.URL+"/v1/listen", "application/json", strings.NewReader(`{"expected":"banana"}`))
	if err != nil {
		t.Fatalf("POST /v1/listen: %v", err)
	}
	resp.Body.Close()

	var seen []evaluation.Attempt
	for len(seen) == 0 || seen[len(seen)-1].Phase != evaluation.PhaseAccepted {
		var a evaluation.Attempt
		if err := wsjson.Read(ctx, conn, &a); err != nil {
			t.Fatalf("read event after %d snapshots: %v", len(seen), err)
		}
		seen = append(seen, a)
	}
	if !seen[0].IsListening || seen[0].Phase != evaluation.PhaseListening {
		t.Errorf("first event = %+v, want listening", seen[0])
	}
	if got := seen[len(seen)-1]; got.Heard != "banana" {
		t.Errorf("final event = %+v, want banana heard", got)
	}
}

func TestEvents_CloseDisconnectsSubscribers(t *testing.T) {
	t.Parallel()
	events := api.NewEvents(nil, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(events)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var a evaluation.Attempt
	if err := wsjson.Read(ctx, conn, &a); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	events.Close()

	err = wsjson.Read(ctx, conn, &a)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("read after Close: err = %v, want going away", err)
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after Close = %d, want 503", resp.StatusCode)
	}
}
