package wsrelay_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxtutor/internal/resilience"
	"github.com/MrWong99/voxtutor/pkg/provider/recognizer/wsrelay"
)

func TestPeer_RequestReply(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	connectPage(t, url, map[string]responder{
		wsrelay.TypeAudioState: func(wsrelay.Frame) wsrelay.Frame {
			return wsrelay.Frame{OK: true, State: "suspended"}
		},
	})
	p := livePeer(t, slot)

	reply, err := p.Request(context.Background(), wsrelay.Frame{Type: wsrelay.TypeAudioState})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if reply.Type != wsrelay.TypeReply || reply.State != "suspended" {
		t.Errorf("reply = %+v, want reply with state suspended", reply)
	}
	if reply.ID == "" {
		t.Error("reply carries no id")
	}
}

func TestPeer_RemoteError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   wsrelay.Frame
		wantMsg string
	}{
		{name: "with message", reply: wsrelay.Frame{Error: "already started"}, wantMsg: "already started"},
		{name: "without message", reply: wsrelay.Frame{}, wantMsg: "request failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			slot, url := newRelay(t)
			connectPage(t, url, map[string]responder{
				wsrelay.TypeRecognizerStart: func(wsrelay.Frame) wsrelay.Frame { return tt.reply },
			})
			p := livePeer(t, slot)

			_, err := p.Request(context.Background(), wsrelay.Frame{Type: wsrelay.TypeRecognizerStart})
			var remote *wsrelay.RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("err = %v, want *RemoteError", err)
			}
			if remote.Op != wsrelay.TypeRecognizerStart || remote.Message != tt.wantMsg {
				t.Errorf("remote = %+v, want op %q message %q", remote, wsrelay.TypeRecognizerStart, tt.wantMsg)
			}
		})
	}
}

func TestPeer_RequestTimeout(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t, wsrelay.WithPeerOptions(wsrelay.WithRequestTimeout(50*time.Millisecond)))
	connectPage(t, url, nil)
	p := livePeer(t, slot)

	start := time.Now()
	_, err := p.Request(context.Background(), wsrelay.Frame{Type: wsrelay.TypeAudioResume})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request took %v, want about 50ms", elapsed)
	}
}

func TestPeer_DisconnectFailsPendingRequest(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	pg := connectPage(t, url, nil)
	p := livePeer(t, slot)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Request(context.Background(), wsrelay.Frame{Type: wsrelay.TypeBridgeStop})
		errc <- err
	}()
	pg.expect(t, wsrelay.TypeBridgeStop)
	pg.close()

	select {
	case err := <-errc:
		if !errors.Is(err, wsrelay.ErrPeerClosed) {
			t.Fatalf("err = %v, want ErrPeerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not failed")
	}

	<-p.Done()
	if !errors.Is(p.Err(), wsrelay.ErrPeerClosed) {
		t.Errorf("Err() = %v, want ErrPeerClosed", p.Err())
	}
	if _, err := p.Request(context.Background(), wsrelay.Frame{Type: wsrelay.TypeBridgeStop}); !errors.Is(err, wsrelay.ErrPeerClosed) {
		t.Errorf("request after close: err = %v, want ErrPeerClosed", err)
	}
}

func TestPeer_SubscribeSkipsMalformedFrames(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	pg := connectPage(t, url, nil)
	p := livePeer(t, slot)

	got := make(chan wsrelay.Frame, 1)
	remove := p.Subscribe(wsrelay.TypeRecognizerEnd, func(f wsrelay.Frame) { got <- f })
	defer remove()

	ctx := context.Background()
	if err := pg.conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	pg.send(t, wsrelay.Frame{Type: wsrelay.TypeRecognizerEnd})

	select {
	case f := <-got:
		if f.Type != wsrelay.TypeRecognizerEnd {
			t.Errorf("type = %q, want %q", f.Type, wsrelay.TypeRecognizerEnd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event after malformed frame was not delivered")
	}
	select {
	case <-p.Done():
		t.Fatal("peer closed on a malformed frame")
	default:
	}
}

func TestSlot_NoPeer(t *testing.T) {
	t.Parallel()
	slot := wsrelay.NewSlot()
	if slot.Connected() {
		t.Fatal("empty slot reports connected")
	}
	if _, err := slot.Peer(context.Background()); !errors.Is(err, wsrelay.ErrNoPeer) {
		t.Fatalf("err = %v, want ErrNoPeer", err)
	}
}

func TestSlot_NewConnectionReplacesPrevious(t *testing.T) {
	t.Parallel()

	var sum, calls atomic.Int64
	slot, url := newRelay(t, wsrelay.WithConnectionHook(func(delta int64) {
		sum.Add(delta)
		calls.Add(1)
	}))

	connectPage(t, url, nil)
	first := livePeer(t, slot)

	connectPage(t, url, nil)
	waitFor(t, "replacement peer", func() bool {
		p, err := slot.Peer(context.Background())
		return err == nil && p != first
	})

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("previous peer was not closed")
	}
	waitFor(t, "connection hook", func() bool { return calls.Load() == 3 })
	if got := sum.Load(); got != 1 {
		t.Errorf("connected count = %d, want 1", got)
	}
}

func TestSlot_DisconnectEmptiesSlot(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	pg := connectPage(t, url, nil)
	waitConnected(t, slot)

	pg.close()
	waitFor(t, "disconnect", func() bool { return !slot.Connected() })
}

func TestDialer_ReusesConnection(t *testing.T) {
	t.Parallel()
	slot, url := newRelay(t)
	// Here the server side plays the companion: the slot accepts the dialer.
	d := wsrelay.NewDialer(url, nil)
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	a, err := d.Peer(ctx)
	if err != nil {
		t.Fatalf("first Peer: %v", err)
	}
	b, err := d.Peer(ctx)
	if err != nil {
		t.Fatalf("second Peer: %v", err)
	}
	if a != b {
		t.Error("Dialer dialed twice for a live connection")
	}
	waitConnected(t, slot)

	// Once the companion drops, the next call dials again.
	_ = slot.Close()
	<-a.Done()
	c, err := d.Peer(ctx)
	if err != nil {
		t.Fatalf("redial: %v", err)
	}
	if c == a {
		t.Error("Dialer reused a closed connection")
	}
}

func TestDialer_BreakerOpensOnUnreachableCompanion(t *testing.T) {
	t.Parallel()
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "companion",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	// Nothing listens on port 1.
	d := wsrelay.NewDialer("ws://127.0.0.1:1/relay", breaker)

	ctx := context.Background()
	for i := range 2 {
		if _, err := d.Peer(ctx); err == nil || errors.Is(err, resilience.ErrCircuitOpen) {
			t.Fatalf("dial %d: err = %v, want a dial error", i, err)
		}
	}
	if _, err := d.Peer(ctx); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if d.Breaker().State() != resilience.StateOpen {
		t.Errorf("breaker state = %v, want open", d.Breaker().State())
	}
}
