package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avelar/feedgate/internal/auth"
)

// fakeClient stands in for the websocket client so manager tests can drive
// connects, frames, and transport failures deterministically.
type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	block      chan struct{}
	ignoreCtx  bool
	connected  bool
	sendErr    error
	sent       [][]byte

	messages chan TimestampedMessage
	errors   chan error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(chan TimestampedMessage, 16),
		errors:   make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.block != nil {
		if f.ignoreCtx {
			<-f.block
		} else {
			select {
			case <-f.block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeClient) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errors }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) sentFrames(t *testing.T) []Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	frames := make([]Frame, 0, len(f.sent))
	for _, data := range f.sent {
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("sent frame is not valid JSON: %v", err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func (f *fakeClient) push(raw string) {
	f.messages <- TimestampedMessage{Data: []byte(raw), ReceivedAt: time.Now()}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stopManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestManager_StartOpensConnection(t *testing.T) {
	fake := newFakeClient()
	m := NewManager(ManagerConfig{}, nil, nil)
	m.newClient = func() Client { return fake }

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	if got := m.State(); got != StateOpen {
		t.Errorf("State = %v, want open", got)
	}
	if !fake.IsConnected() {
		t.Error("expected client to be connected")
	}
}

func TestManager_ConnectInProgress(t *testing.T) {
	fake := newFakeClient()
	fake.block = make(chan struct{})
	m := NewManager(ManagerConfig{}, nil, nil)
	m.newClient = func() Client { return fake }

	go m.Start(context.Background())
	defer stopManager(t, m)

	waitFor(t, time.Second, "connecting state", func() bool {
		return m.State() == StateConnecting
	})

	if err := m.Connect(); !errors.Is(err, ErrConnectInProgress) {
		t.Errorf("Connect during attempt = %v, want ErrConnectInProgress", err)
	}

	close(fake.block)
	waitFor(t, time.Second, "open state", func() bool {
		return m.State() == StateOpen
	})

	// Connecting while already open is a no-op.
	if err := m.Connect(); err != nil {
		t.Errorf("Connect while open = %v, want nil", err)
	}
}

func TestManager_ReconnectDelayGrowsLinearly(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 15 * time.Second},
		{10, 50 * time.Second},
	}

	for _, tt := range tests {
		if got := m.nextDelay(tt.attempt); got != tt.want {
			t.Errorf("nextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestManager_GivesUpAfterAttemptCeiling(t *testing.T) {
	var connects atomic.Int32
	m := NewManager(ManagerConfig{
		ReconnectBaseDelay:   time.Millisecond,
		MaxReconnectAttempts: 10,
	}, nil, nil)
	m.newClient = func() Client {
		connects.Add(1)
		fake := newFakeClient()
		fake.connectErr = errors.New("connection refused")
		return fake
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	select {
	case err := <-m.Terminal():
		if !errors.Is(err, ErrUpstreamUnavailable) {
			t.Errorf("terminal error = %v, want ErrUpstreamUnavailable", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal condition")
	}

	// One initial attempt plus exactly ten reconnect attempts.
	if got := connects.Load(); got != 11 {
		t.Errorf("connect attempts = %d, want 11", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := connects.Load(); got != 11 {
		t.Errorf("attempts continued after giving up: %d", got)
	}
}

func TestManager_FailureCounterResetsOnSuccess(t *testing.T) {
	var connects atomic.Int32
	m := NewManager(ManagerConfig{
		ReconnectBaseDelay: time.Millisecond,
	}, nil, nil)
	m.newClient = func() Client {
		fake := newFakeClient()
		if connects.Add(1) <= 2 {
			fake.connectErr = errors.New("connection refused")
		}
		return fake
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	waitFor(t, time.Second, "open state", func() bool {
		return m.State() == StateOpen
	})

	if got := m.Stats().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures after success = %d, want 0", got)
	}
}

func TestManager_SubscriptionReplayAfterReconnect(t *testing.T) {
	var mu sync.Mutex
	var clients []*fakeClient
	m := NewManager(ManagerConfig{
		ReconnectBaseDelay: time.Millisecond,
	}, nil, nil)
	m.newClient = func() Client {
		fake := newFakeClient()
		mu.Lock()
		clients = append(clients, fake)
		mu.Unlock()
		return fake
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	waitFor(t, time.Second, "open state", func() bool {
		return m.State() == StateOpen
	})

	if err := m.Subscribe(Subscription{Channel: "tickers", Symbols: []string{"BTCUSD", "ETHUSD"}}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	mu.Lock()
	first := clients[0]
	mu.Unlock()

	// Kill the first connection and wait for the replacement to open.
	first.errors <- io.ErrUnexpectedEOF
	waitFor(t, time.Second, "reconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(clients) >= 2 && m.State() == StateOpen
	})

	mu.Lock()
	second := clients[1]
	mu.Unlock()

	waitFor(t, time.Second, "replayed subscribe frame", func() bool {
		for _, f := range second.sentFrames(t) {
			if f.Type == "subscribe" {
				return true
			}
		}
		return false
	})

	var replayed Frame
	for _, f := range second.sentFrames(t) {
		if f.Type == "subscribe" {
			replayed = f
		}
	}
	var payload SubscribePayload
	if err := json.Unmarshal(replayed.Payload, &payload); err != nil {
		t.Fatalf("unmarshal replay payload: %v", err)
	}
	if len(payload.Channels) != 1 || payload.Channels[0].Name != "tickers" {
		t.Fatalf("replayed channels = %+v, want tickers", payload.Channels)
	}
	if len(payload.Channels[0].Symbols) != 2 {
		t.Errorf("replayed symbols = %v, want both BTCUSD and ETHUSD", payload.Channels[0].Symbols)
	}
}

func TestManager_SubscribeRequiresOpenConnection(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil, nil)

	if err := m.Subscribe(Subscription{Channel: "tickers"}); !errors.Is(err, ErrNoUpstream) {
		t.Errorf("Subscribe = %v, want ErrNoUpstream", err)
	}
	if err := m.Unsubscribe(Subscription{Channel: "tickers"}); !errors.Is(err, ErrNoUpstream) {
		t.Errorf("Unsubscribe = %v, want ErrNoUpstream", err)
	}
}

func TestManager_SubscribeIdempotent(t *testing.T) {
	fake := newFakeClient()
	m := NewManager(ManagerConfig{}, nil, nil)
	m.newClient = func() Client { return fake }

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	sub := Subscription{Channel: "tickers", Symbols: []string{"BTCUSD"}}
	if err := m.Subscribe(sub); err != nil {
		t.Fatalf("first Subscribe failed: %v", err)
	}
	if err := m.Subscribe(sub); err != nil {
		t.Fatalf("repeat Subscribe failed: %v", err)
	}

	count := 0
	for _, f := range fake.sentFrames(t) {
		if f.Type == "subscribe" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("subscribe frames sent = %d, want 1", count)
	}
}

func TestManager_FailedSubscribeNotRecorded(t *testing.T) {
	fake := newFakeClient()
	m := NewManager(ManagerConfig{}, nil, nil)
	m.newClient = func() Client { return fake }

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	sub := Subscription{Channel: "tickers", Symbols: []string{"BTCUSD"}}

	fake.setSendErr(errors.New("write: broken pipe"))
	if err := m.Subscribe(sub); err == nil {
		t.Fatal("Subscribe with failing send should return the error")
	}
	if got := m.Stats().DesiredSubscriptions; got != 0 {
		t.Errorf("DesiredSubscriptions after failed relay = %d, want 0", got)
	}

	// The retry must go back out on the wire, not short-circuit as covered.
	fake.setSendErr(nil)
	if err := m.Subscribe(sub); err != nil {
		t.Fatalf("retry Subscribe failed: %v", err)
	}

	count := 0
	for _, f := range fake.sentFrames(t) {
		if f.Type == "subscribe" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("subscribe frames on the wire = %d, want 1", count)
	}
	if got := m.Stats().DesiredSubscriptions; got != 1 {
		t.Errorf("DesiredSubscriptions after retry = %d, want 1", got)
	}
}

func TestManager_StopDuringConnectStaysClosed(t *testing.T) {
	fake := newFakeClient()
	fake.block = make(chan struct{})
	fake.ignoreCtx = true
	m := NewManager(ManagerConfig{}, nil, nil)
	m.newClient = func() Client { return fake }

	go m.Start(context.Background())

	waitFor(t, time.Second, "connecting state", func() bool {
		return m.State() == StateConnecting
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Let the in-flight dial finish after shutdown; it must not reopen.
	close(fake.block)
	time.Sleep(50 * time.Millisecond)

	if got := m.State(); got != StateDisconnected {
		t.Errorf("State after Stop = %v, want disconnected", got)
	}
	if fake.IsConnected() {
		t.Error("client left connected after Stop")
	}
}

func TestManager_AuthFrameSigned(t *testing.T) {
	fake := newFakeClient()
	creds := &auth.Credentials{APIKey: "key-1", APISecret: "s3cr3t"}
	m := NewManager(ManagerConfig{Credentials: creds}, nil, nil)
	m.newClient = func() Client { return fake }

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	frames := fake.sentFrames(t)
	if len(frames) == 0 || frames[0].Type != "auth" {
		t.Fatalf("first frame = %+v, want auth", frames)
	}

	var payload AuthPayload
	if err := json.Unmarshal(frames[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal auth payload: %v", err)
	}
	if payload.APIKey != "key-1" {
		t.Errorf("APIKey = %q, want key-1", payload.APIKey)
	}

	want, err := creds.SignStream(payload.Timestamp)
	if err != nil {
		t.Fatalf("SignStream failed: %v", err)
	}
	if payload.Signature != want {
		t.Errorf("Signature = %q, want %q", payload.Signature, want)
	}
}

func TestManager_NoAuthFrameWithoutCredentials(t *testing.T) {
	fake := newFakeClient()
	m := NewManager(ManagerConfig{}, nil, nil)
	m.newClient = func() Client { return fake }

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	for _, f := range fake.sentFrames(t) {
		if f.Type == "auth" {
			t.Error("auth frame sent without credentials")
		}
	}
}

func TestManager_AuthRejectionKeepsConnection(t *testing.T) {
	fake := newFakeClient()
	creds := &auth.Credentials{APIKey: "key-1", APISecret: "s3cr3t"}
	m := NewManager(ManagerConfig{Credentials: creds}, nil, nil)
	m.newClient = func() Client { return fake }

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	fake.push(`{"type":"auth","payload":{"success":true}}`)
	waitFor(t, time.Second, "authenticated", m.Authenticated)

	fake.push(`{"type":"auth","payload":{"success":false,"message":"bad signature"}}`)
	waitFor(t, time.Second, "auth cleared", func() bool {
		return !m.Authenticated()
	})

	// Public data keeps flowing on the same connection.
	if got := m.State(); got != StateOpen {
		t.Errorf("State after rejection = %v, want open", got)
	}
	if !fake.IsConnected() {
		t.Error("connection should survive an auth rejection")
	}
}

func TestManager_MalformedFramesDropped(t *testing.T) {
	var mu sync.Mutex
	var got []string
	dispatch := func(frame Frame, _ TimestampedMessage) {
		mu.Lock()
		got = append(got, frame.Type)
		mu.Unlock()
	}

	fake := newFakeClient()
	m := NewManager(ManagerConfig{}, dispatch, nil)
	m.newClient = func() Client { return fake }

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	fake.push(`{"type":"margins","payload":{"asset":"USD"}}`)
	fake.push(`this is not json`)
	fake.push(`{"payload":{"symbol":"BTCUSD"}}`)
	fake.push(`{"type":"orders","payload":{"id":"o1"}}`)

	waitFor(t, time.Second, "dispatched frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "margins" || got[1] != "orders" {
		t.Errorf("dispatched types = %v, want [margins orders]", got)
	}
}
