package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avelar/feedgate/internal/connection"
	"github.com/avelar/feedgate/internal/state"
)

type fakeHandle struct {
	id string

	mu      sync.Mutex
	open    bool
	sendErr error
	frames  [][]byte
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, open: true}
}

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeHandle) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeHandle) close() {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
}

func (f *fakeHandle) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, data := range f.frames {
		out[i] = string(data)
	}
	return out
}

type fakeRelay struct {
	err  error
	subs []connection.Subscription
	mu   sync.Mutex
}

func (r *fakeRelay) Subscribe(sub connection.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.subs = append(r.subs, sub)
	return nil
}

func (r *fakeRelay) Unsubscribe(sub connection.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func TestBroadcastReachesAllOpenSubscribers(t *testing.T) {
	h := New(&fakeRelay{}, nil, nil)

	a := newFakeHandle("a")
	b := newFakeHandle("b")
	h.Register(a)
	h.Register(b)

	h.Broadcast([]byte(`{"type":"tickers"}`))

	for _, handle := range []*fakeHandle{a, b} {
		got := handle.received()
		if len(got) != 1 || got[0] != `{"type":"tickers"}` {
			t.Errorf("handle %s received %v", handle.id, got)
		}
	}
}

func TestBroadcastSkipsClosedHandleWithoutRemoving(t *testing.T) {
	h := New(&fakeRelay{}, nil, nil)

	a := newFakeHandle("a")
	b := newFakeHandle("b")
	h.Register(a)
	h.Register(b)

	a.close()
	h.Broadcast([]byte(`frame-1`))

	if got := a.received(); len(got) != 0 {
		t.Errorf("closed handle received %v", got)
	}
	if got := b.received(); len(got) != 1 {
		t.Errorf("open handle received %v, want 1 frame", got)
	}
	if h.Subscribers() != 2 {
		t.Errorf("Subscribers = %d, want 2 (closed handle stays registered)", h.Subscribers())
	}
}

func TestBroadcastSendErrorDoesNotBlockOthers(t *testing.T) {
	h := New(&fakeRelay{}, nil, nil)

	broken := newFakeHandle("broken")
	broken.sendErr = errors.New("write: broken pipe")
	ok := newFakeHandle("ok")
	h.Register(broken)
	h.Register(ok)

	h.Broadcast([]byte(`frame-1`))

	if got := ok.received(); len(got) != 1 {
		t.Errorf("healthy handle received %v, want 1 frame", got)
	}
}

func TestUnregister(t *testing.T) {
	h := New(&fakeRelay{}, nil, nil)

	a := newFakeHandle("a")
	h.Register(a)
	h.Unregister("a")
	h.Unregister("never-registered")

	h.Broadcast([]byte(`frame-1`))

	if got := a.received(); len(got) != 0 {
		t.Errorf("unregistered handle received %v", got)
	}
	if h.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", h.Subscribers())
	}
}

func TestRelayErrorsSurfaceToCaller(t *testing.T) {
	relay := &fakeRelay{err: connection.ErrNoUpstream}
	h := New(relay, nil, nil)

	err := h.RelaySubscribe(connection.Subscription{Channel: "tickers"})
	if !errors.Is(err, connection.ErrNoUpstream) {
		t.Errorf("RelaySubscribe = %v, want ErrNoUpstream", err)
	}
	err = h.RelayUnsubscribe(connection.Subscription{Channel: "tickers"})
	if !errors.Is(err, connection.ErrNoUpstream) {
		t.Errorf("RelayUnsubscribe = %v, want ErrNoUpstream", err)
	}
}

func TestHandleFrameFoldsAccountStateAndBroadcasts(t *testing.T) {
	rec := state.New(nil)
	h := New(&fakeRelay{}, rec, nil)

	sub := newFakeHandle("a")
	h.Register(sub)

	frames := []string{
		`{"type":"margins","payload":{"asset":"USD","total":1000,"available":800}}`,
		`{"type":"positions","payload":{"symbol":"BTCUSD","size":0.5,"entry_price":64000}}`,
		`{"type":"orders","payload":{"id":"o1","symbol":"BTCUSD","side":"buy","price":63000,"size":1,"status":"open"}}`,
		`{"type":"trades","payload":{"symbol":"BTCUSD"}}`,
	}
	for _, raw := range frames {
		frame := parseFrame(t, raw)
		h.HandleFrame(frame, connection.TimestampedMessage{Data: []byte(raw), ReceivedAt: time.Now()})
	}

	if got := sub.received(); len(got) != len(frames) {
		t.Fatalf("broadcast %d frames, want %d", len(got), len(frames))
	}
	for i, raw := range frames {
		if sub.received()[i] != raw {
			t.Errorf("frame %d altered in transit: %q", i, sub.received()[i])
		}
	}

	if b, ok := rec.Balances()["USD"]; !ok || b.Total != 1000 {
		t.Errorf("balance not reconciled: %+v", rec.Balances())
	}
	if p, ok := rec.Positions()["BTCUSD"]; !ok || p.Size != 0.5 {
		t.Errorf("position not reconciled: %+v", rec.Positions())
	}
	if o, ok := rec.Orders()["o1"]; !ok || o.Status != "open" {
		t.Errorf("order not reconciled: %+v", rec.Orders())
	}
}

func TestHandleFrameUnreadablePayloadStillBroadcasts(t *testing.T) {
	rec := state.New(nil)
	h := New(&fakeRelay{}, rec, nil)

	sub := newFakeHandle("a")
	h.Register(sub)

	raw := `{"type":"margins","payload":"not an object"}`
	h.HandleFrame(parseFrame(t, raw), connection.TimestampedMessage{Data: []byte(raw), ReceivedAt: time.Now()})

	if len(rec.Balances()) != 0 {
		t.Errorf("unreadable payload reached the reconciler: %+v", rec.Balances())
	}
	if got := sub.received(); len(got) != 1 || got[0] != raw {
		t.Errorf("frame not broadcast verbatim: %v", got)
	}
}

func parseFrame(t *testing.T, raw string) connection.Frame {
	t.Helper()
	var frame connection.Frame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	return frame
}
