package wsrelay_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxtutor/internal/audiogate"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/recognition"
	"github.com/MrWong99/voxtutor/pkg/provider/recognizer"
	"github.com/MrWong99/voxtutor/pkg/provider/recognizer/wsrelay"
	"github.com/MrWong99/voxtutor/pkg/types"
)

type browserEvents struct {
	results chan [][]types.Alternative
	errors  chan string
	ends    chan struct{}
}

func recordHandlers(b *wsrelay.Browser) *browserEvents {
	ev := &browserEvents{
		results: make(chan [][]types.Alternative, 4),
		errors:  make(chan string, 4),
		ends:    make(chan struct{}, 4),
	}
	b.SetHandlers(recognizer.Handlers{
		OnResult: func(r [][]types.Alternative) { ev.results <- r },
		OnError:  func(code string) { ev.errors <- code },
		OnEnd:    func() { ev.ends <- struct{}{} },
	})
	return ev
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s received", what)
		var zero T
		return zero
	}
}

func TestBrowser_StartAndEvents(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	pg := connectPage(t, url, map[string]responder{
		wsrelay.TypeRecognizerStart: ok,
		wsrelay.TypeRecognizerStop:  ok,
	})
	waitConnected(t, slot)

	b := wsrelay.NewBrowser(slot)
	t.Cleanup(b.Close)
	b.Configure(recognizer.Settings{Lang: "fr-FR", MaxAlternatives: 3})
	ev := recordHandlers(b)

	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	req := pg.expect(t, wsrelay.TypeRecognizerStart)
	if req.Settings == nil {
		t.Fatal("start request carries no settings")
	}
	if req.Settings.Lang != "fr-FR" || req.Settings.MaxAlternatives != 3 || req.Settings.Continuous {
		t.Errorf("settings = %+v", *req.Settings)
	}

	pg.send(t, wsrelay.Frame{
		Type:    wsrelay.TypeRecognizerResult,
		Results: [][]types.Alternative{{{Transcript: "pomme", Confidence: 0.8}}},
	})
	got := receive(t, ev.results, "result")
	if len(got) != 1 || len(got[0]) != 1 || got[0][0].Transcript != "pomme" {
		t.Errorf("results = %+v", got)
	}

	pg.send(t, wsrelay.Frame{Type: wsrelay.TypeRecognizerError, Error: "no-speech"})
	if code := receive(t, ev.errors, "error"); code != "no-speech" {
		t.Errorf("error code = %q, want no-speech", code)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	pg.expect(t, wsrelay.TypeRecognizerStop)
	pg.send(t, wsrelay.Frame{Type: wsrelay.TypeRecognizerEnd})
	receive(t, ev.ends, "end")
}

func TestBrowser_StartWithoutPage(t *testing.T) {
	t.Parallel()
	b := wsrelay.NewBrowser(wsrelay.NewSlot())
	if err := b.Start(); !errors.Is(err, wsrelay.ErrNoPeer) {
		t.Fatalf("err = %v, want ErrNoPeer", err)
	}
}

func TestBrowser_PageDisconnectReportsNetworkError(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	pg := connectPage(t, url, map[string]responder{wsrelay.TypeRecognizerStart: ok})
	waitConnected(t, slot)

	b := wsrelay.NewBrowser(slot)
	t.Cleanup(b.Close)
	ev := recordHandlers(b)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pg.close()
	if code := receive(t, ev.errors, "error"); code != "network" {
		t.Errorf("error code = %q, want network", code)
	}
	receive(t, ev.ends, "end")
}

func TestBridge_Commands(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	pg := connectPage(t, url, map[string]responder{
		wsrelay.TypeBridgeAvailable: func(wsrelay.Frame) wsrelay.Frame {
			return wsrelay.Frame{OK: true, Available: true}
		},
		wsrelay.TypeBridgePermissions: func(wsrelay.Frame) wsrelay.Frame {
			return wsrelay.Frame{OK: true, Permission: "granted"}
		},
		wsrelay.TypeBridgeStart: ok,
		wsrelay.TypeBridgeStop:  ok,
	})
	waitConnected(t, slot)

	b := wsrelay.NewBridge(slot)
	t.Cleanup(b.Close)
	ctx := context.Background()

	available, err := b.Available(ctx)
	if err != nil || !available {
		t.Fatalf("Available = %v, %v; want true, nil", available, err)
	}
	perm, err := b.RequestPermissions(ctx)
	if err != nil || perm != recognizer.PermissionGranted {
		t.Fatalf("RequestPermissions = %q, %v; want granted, nil", perm, err)
	}
	cfg := recognizer.BridgeConfig{Language: "es-ES", MaxResults: 5, PartialResults: true}
	if err := b.Start(ctx, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	req := pg.expect(t, wsrelay.TypeBridgeStart)
	if req.Config == nil || req.Config.Language != "es-ES" || req.Config.MaxResults != 5 || !req.Config.PartialResults || req.Config.Popup {
		t.Errorf("bridge config = %+v", req.Config)
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	pg.expect(t, wsrelay.TypeBridgeStop)
}

func TestBridge_Events(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	pg := connectPage(t, url, map[string]responder{wsrelay.TypeBridgeStart: ok})
	waitConnected(t, slot)

	b := wsrelay.NewBridge(slot)
	t.Cleanup(b.Close)

	partials := make(chan []string, 4)
	states := make(chan recognizer.ListeningStatus, 4)
	subP := b.OnPartialResults(func(m []string) { partials <- m })
	subS := b.OnListeningState(func(s recognizer.ListeningStatus) { states <- s })
	defer subS.Remove()

	if err := b.Start(context.Background(), recognizer.BridgeConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pg.send(t, wsrelay.Frame{Type: wsrelay.TypeBridgePartialResults, Matches: []string{"hola", "ola"}})
	if m := receive(t, partials, "partial results"); len(m) != 2 || m[0] != "hola" {
		t.Errorf("matches = %v", m)
	}

	// A removed listener gets nothing; the state event acts as a barrier.
	subP.Remove()
	pg.send(t, wsrelay.Frame{Type: wsrelay.TypeBridgePartialResults, Matches: []string{"late"}})
	pg.send(t, wsrelay.Frame{Type: wsrelay.TypeBridgeListeningState, Status: "stopped"})
	if s := receive(t, states, "listening state"); s != recognizer.ListeningStopped {
		t.Errorf("status = %q, want stopped", s)
	}
	select {
	case m := <-partials:
		t.Errorf("removed listener received %v", m)
	default:
	}

	// Losing the companion ends the capture.
	pg.close()
	if s := receive(t, states, "disconnect state"); s != recognizer.ListeningStopped {
		t.Errorf("status after disconnect = %q, want stopped", s)
	}
}

func TestBridge_UnreachableCompanionIsUnavailable(t *testing.T) {
	t.Parallel()
	b := wsrelay.NewBridge(wsrelay.NewSlot())
	available, err := b.Available(context.Background())
	if err != nil || available {
		t.Fatalf("Available = %v, %v; want false, nil", available, err)
	}
	if _, err := b.RequestPermissions(context.Background()); !errors.Is(err, wsrelay.ErrNoPeer) {
		t.Errorf("RequestPermissions err = %v, want ErrNoPeer", err)
	}
}

func TestAudioContext(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	pg := connectPage(t, url, map[string]responder{
		wsrelay.TypeAudioState: func(wsrelay.Frame) wsrelay.Frame {
			return wsrelay.Frame{OK: true, State: "suspended"}
		},
		wsrelay.TypeAudioResume: ok,
	})
	waitConnected(t, slot)

	audio, err := wsrelay.AudioFactory(slot)(context.Background())
	if err != nil {
		t.Fatalf("AudioFactory: %v", err)
	}
	state, err := audio.State(context.Background())
	if err != nil || state != audiogate.StateSuspended {
		t.Fatalf("State = %q, %v; want suspended, nil", state, err)
	}

	gate := audiogate.New(wsrelay.AudioFactory(slot), audiogate.WithLogger(slog.New(slog.DiscardHandler)))
	gate.UnlockOnce(context.Background())
	pg.expect(t, wsrelay.TypeAudioResume)
}

// The relayed browser drives a full recognition run end to end.
func TestBrowser_DrivesRecognitionRun(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	pg := connectPage(t, url, map[string]responder{wsrelay.TypeRecognizerStart: ok})
	waitConnected(t, slot)

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	browser := wsrelay.NewBrowser(slot)
	t.Cleanup(browser.Close)
	ctrl := recognition.New(
		recognition.WithBrowserFactory(func() (recognizer.Browser, error) { return browser, nil }),
		recognition.WithLogger(slog.New(slog.DiscardHandler)),
		recognition.WithMetrics(metrics),
	)

	type outcome struct {
		res recognition.Result
		err error
	}
	done := make(chan outcome, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() {
		res, err := ctrl.Start(ctx)
		done <- outcome{res, err}
	}()

	pg.expect(t, wsrelay.TypeRecognizerStart)
	pg.send(t, wsrelay.Frame{
		Type:    wsrelay.TypeRecognizerResult,
		Results: [][]types.Alternative{{{Transcript: " banana ", Confidence: 0.9}}},
	})
	pg.send(t, wsrelay.Frame{Type: wsrelay.TypeRecognizerEnd})

	got := receive(t, done, "recognition outcome")
	if got.err != nil {
		t.Fatalf("Start: %v", got.err)
	}
	if got.res.Transcript != "banana" || got.res.Backend != recognition.BackendBrowser {
		t.Errorf("result = %+v, want browser transcript banana", got.res)
	}
}
