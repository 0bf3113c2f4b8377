package wsrelay_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxtutor/pkg/provider/recognizer/wsrelay"
)

// responder builds the reply to a request. The frame type and id are filled
// in by the page.
type responder func(req wsrelay.Frame) wsrelay.Frame

func ok(wsrelay.Frame) wsrelay.Frame { return wsrelay.Frame{OK: true} }

// page is a scripted relay client standing in for the browser page or the
// device companion.
type page struct {
	conn     *websocket.Conn
	replies  map[string]responder
	requests chan wsrelay.Frame
}

// newRelay serves a fresh Slot over httptest and returns it with its ws URL.
func newRelay(t *testing.T, opts ...wsrelay.SlotOption) (*wsrelay.Slot, string) {
	t.Helper()
	slot := wsrelay.NewSlot(opts...)
	srv := httptest.NewServer(slot)
	t.Cleanup(func() {
		_ = slot.Close()
		srv.Close()
	})
	return slot, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// connectPage dials url and answers requests from replies. Requests without
// a responder stay unanswered.
func connectPage(t *testing.T, url string, replies map[string]responder) *page {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	p := &page{
		conn:     conn,
		replies:  replies,
		requests: make(chan wsrelay.Frame, 64),
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	go p.loop()
	return p
}

func (p *page) loop() {
	ctx := context.Background()
	for {
		var f wsrelay.Frame
		if err := wsjson.Read(ctx, p.conn, &f); err != nil {
			return
		}
		select {
		case p.requests <- f:
		default:
		}
		if fn, ok := p.replies[f.Type]; ok {
			r := fn(f)
			r.Type = wsrelay.TypeReply
			r.ID = f.ID
			if err := wsjson.Write(ctx, p.conn, r); err != nil {
				return
			}
		}
	}
}

// send pushes an unsolicited event frame.
func (p *page) send(t *testing.T, f wsrelay.Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, p.conn, f); err != nil {
		t.Fatalf("send %s: %v", f.Type, err)
	}
}

// expect returns the next request of type typ, skipping others.
func (p *page) expect(t *testing.T, typ string) wsrelay.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-p.requests:
			if f.Type == typ {
				return f
			}
		case <-timeout:
			t.Fatalf("no %s request received", typ)
			return wsrelay.Frame{}
		}
	}
}

func (p *page) close() {
	_ = p.conn.Close(websocket.StatusNormalClosure, "bye")
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitConnected(t *testing.T, slot *wsrelay.Slot) {
	t.Helper()
	waitFor(t, "client connection", slot.Connected)
}

func livePeer(t *testing.T, slot *wsrelay.Slot) *wsrelay.Peer {
	t.Helper()
	waitConnected(t, slot)
	p, err := slot.Peer(context.Background())
	if err != nil {
		t.Fatalf("slot.Peer: %v", err)
	}
	return p
}
