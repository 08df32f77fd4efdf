package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avelar/feedgate/internal/metrics"
)

// Manager owns the single upstream connection and its lifecycle: connecting,
// authenticating, dispatching inbound frames, and reconnecting after loss.
type Manager struct {
	cfg      ManagerConfig
	logger   *slog.Logger
	dispatch Dispatch

	// Replaceable in tests.
	newClient func() Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Delivers ErrUpstreamUnavailable once the reconnect ceiling is hit.
	terminal chan error

	mu            sync.Mutex
	state         State
	client        Client
	authenticated bool
	failures      int
	generation    int
	timer         *time.Timer
	subs          map[string]map[string]struct{}
	closing       bool
}

// NewManager creates a connection manager. dispatch receives every
// well-formed inbound frame in arrival order; it may be nil.
func NewManager(cfg ManagerConfig, dispatch Dispatch, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultManagerConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		dispatch: dispatch,
		terminal: make(chan error, 1),
		subs:     make(map[string]map[string]struct{}),
	}
	m.newClient = func() Client {
		return NewClient(ClientConfig{
			URL:          cfg.WSURL,
			PingInterval: cfg.PingInterval,
			PingTimeout:  cfg.PingTimeout,
			WriteTimeout: cfg.WriteTimeout,
			BufferSize:   cfg.BufferSize,
		}, logger)
	}

	return m
}

// SetDispatch replaces the frame callback. Must be called before Start.
func (m *Manager) SetDispatch(d Dispatch) {
	m.dispatch = d
}

// Start attempts the initial connect and begins supervising the connection.
// A failed initial connect is not fatal; it enters the reconnect schedule.
// Start must be called before Connect, Subscribe, or Unsubscribe.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.Connect(); err != nil {
		m.logger.Warn("initial connect failed", "error", err)
		m.scheduleReconnect()
	}

	return nil
}

// Stop tears down the connection and waits for supervision to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil
	}
	m.closing = true
	m.state = StateClosing
	if m.timer != nil {
		m.timer.Stop()
	}
	cl := m.client
	m.client = nil
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if cl != nil {
		cl.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	m.logger.Info("connection manager stopped")
	return nil
}

// Connect performs a single connect attempt: dial, authenticate if
// credentials are configured, replay the desired subscriptions. A second
// caller arriving while an attempt is in flight fails fast with
// ErrConnectInProgress. Connecting while already Open is a no-op.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	switch m.state {
	case StateConnecting, StateAuthenticating:
		m.mu.Unlock()
		return ErrConnectInProgress
	case StateOpen:
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	cl := m.newClient()
	if err := cl.Connect(ctx); err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", m.cfg.WSURL, err)
	}

	if m.cfg.Credentials.Configured() {
		m.setState(StateAuthenticating)
		if err := m.sendAuth(cl); err != nil {
			// The connection stays up for public data.
			m.logger.Error("auth handshake failed, continuing unauthenticated", "error", err)
		}
	} else {
		m.logger.Info("no credentials configured, streaming public data only")
	}

	m.mu.Lock()
	if m.closing {
		// Stop finished while the dial was in flight.
		m.mu.Unlock()
		cl.Close()
		return ErrAlreadyClosed
	}
	m.client = cl
	m.state = StateOpen
	m.authenticated = false
	m.failures = 0
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watch(cl)

	m.replaySubscriptions(cl)

	m.logger.Info("upstream connection open", "url", m.cfg.WSURL)
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Authenticated reports whether the upstream has confirmed our auth frame.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// Terminal delivers ErrUpstreamUnavailable when the reconnect ceiling has
// been reached and the manager has given up.
func (m *Manager) Terminal() <-chan error {
	return m.terminal
}

// Stats returns a point-in-time view of the manager.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, set := range m.subs {
		if len(set) == 0 {
			n++
			continue
		}
		n += len(set)
	}

	return ManagerStats{
		State:                m.state,
		Authenticated:        m.authenticated,
		ConsecutiveFailures:  m.failures,
		DesiredSubscriptions: n,
	}
}

// Subscribe relays a subscription upstream and records it for replay after
// reconnects. Re-subscribing to channels and symbols already covered is a
// no-op. Fails with ErrNoUpstream when the connection is not Open.
//
// The replay set records only successfully relayed intents: a failed send
// leaves no trace, so the caller's retry goes back out on the wire instead
// of short-circuiting as already covered.
func (m *Manager) Subscribe(sub Subscription) error {
	m.mu.Lock()
	if m.state != StateOpen || m.client == nil {
		m.mu.Unlock()
		return ErrNoUpstream
	}

	set, had := m.subs[sub.Channel]
	changed := !had
	for _, s := range sub.Symbols {
		if _, ok := set[s]; !ok {
			changed = true
			break
		}
	}
	cl := m.client
	m.mu.Unlock()

	if !changed {
		return nil
	}

	if err := m.sendControl(cl, "subscribe", sub); err != nil {
		return err
	}

	m.mu.Lock()
	set = m.subs[sub.Channel]
	if set == nil {
		set = make(map[string]struct{})
		m.subs[sub.Channel] = set
	}
	for _, s := range sub.Symbols {
		set[s] = struct{}{}
	}
	m.mu.Unlock()

	return nil
}

// Unsubscribe relays an unsubscribe upstream and drops the matching entries
// from the replay set. Fails with ErrNoUpstream when the connection is not
// Open.
func (m *Manager) Unsubscribe(sub Subscription) error {
	m.mu.Lock()
	if m.state != StateOpen || m.client == nil {
		m.mu.Unlock()
		return ErrNoUpstream
	}

	if set, had := m.subs[sub.Channel]; had {
		if len(sub.Symbols) == 0 {
			delete(m.subs, sub.Channel)
		} else {
			for _, s := range sub.Symbols {
				delete(set, s)
			}
			if len(set) == 0 {
				delete(m.subs, sub.Channel)
			}
		}
	}
	cl := m.client
	m.mu.Unlock()

	return m.sendControl(cl, "unsubscribe", sub)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// sendAuth signs and sends the auth control frame. The upstream confirms or
// rejects with an inbound auth frame; until then we are unauthenticated.
func (m *Manager) sendAuth(cl Client) error {
	ts := time.Now().UnixMilli()
	sig, err := m.cfg.Credentials.SignStream(ts)
	if err != nil {
		return fmt.Errorf("sign auth frame: %w", err)
	}

	payload, err := json.Marshal(AuthPayload{
		APIKey:    m.cfg.Credentials.APIKey,
		Signature: sig,
		Timestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("marshal auth payload: %w", err)
	}

	frame, err := json.Marshal(Frame{Type: "auth", Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal auth frame: %w", err)
	}

	return cl.Send(frame)
}

func (m *Manager) sendControl(cl Client, typ string, subs ...Subscription) error {
	channels := make([]Channel, 0, len(subs))
	for _, s := range subs {
		channels = append(channels, Channel{Name: s.Channel, Symbols: s.Symbols})
	}

	payload, err := json.Marshal(SubscribePayload{Channels: channels})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}

	frame, err := json.Marshal(Frame{Type: typ, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", typ, err)
	}

	return cl.Send(frame)
}

// replaySubscriptions re-sends the full desired set after a connection
// opens. The upstream does not preserve subscriptions across connections.
func (m *Manager) replaySubscriptions(cl Client) {
	m.mu.Lock()
	if len(m.subs) == 0 {
		m.mu.Unlock()
		return
	}
	subs := make([]Subscription, 0, len(m.subs))
	names := make([]string, 0, len(m.subs))
	for name := range m.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		symbols := make([]string, 0, len(m.subs[name]))
		for s := range m.subs[name] {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		subs = append(subs, Subscription{Channel: name, Symbols: symbols})
	}
	m.mu.Unlock()

	if err := m.sendControl(cl, "subscribe", subs...); err != nil {
		m.logger.Warn("subscription replay failed", "channels", len(subs), "error", err)
		return
	}

	m.logger.Info("subscriptions replayed", "channels", len(subs))
}

// watch supervises one connection until it dies or the manager stops.
func (m *Manager) watch(cl Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case err := <-cl.Errors():
			m.logger.Warn("upstream connection lost", "error", err)
			m.handleDisconnect(cl)
			return
		case msg, ok := <-cl.Messages():
			if !ok {
				m.handleDisconnect(cl)
				return
			}
			m.handleMessage(msg)
		}
	}
}

func (m *Manager) handleDisconnect(cl Client) {
	cl.Close()

	m.mu.Lock()
	if m.closing || m.client != cl {
		m.mu.Unlock()
		return
	}
	m.client = nil
	m.state = StateDisconnected
	m.authenticated = false
	m.mu.Unlock()

	m.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer. Each consecutive failure grows
// the delay linearly; hitting the ceiling surfaces a terminal condition
// instead. A newer schedule supersedes any pending timer.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}

	m.failures++
	if m.failures > m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.logger.Error("reconnect attempts exhausted, giving up",
			"attempts", m.cfg.MaxReconnectAttempts,
		)
		select {
		case m.terminal <- ErrUpstreamUnavailable:
		default:
		}
		return
	}

	attempt := m.failures
	delay := m.nextDelay(attempt)
	m.generation++
	gen := m.generation
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(delay, func() {
		m.attemptReconnect(gen, attempt)
	})
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// nextDelay returns the delay before the given attempt number.
func (m *Manager) nextDelay(attempt int) time.Duration {
	return m.cfg.ReconnectBaseDelay * time.Duration(attempt)
}

func (m *Manager) attemptReconnect(gen, attempt int) {
	m.mu.Lock()
	if m.closing || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	metrics.ReconnectsTotal.Inc()
	if err := m.Connect(); err != nil {
		if errors.Is(err, ErrConnectInProgress) {
			return
		}
		m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		m.scheduleReconnect()
	}
}

// handleMessage validates the frame envelope, applies auth responses, and
// hands everything well-formed to the dispatch callback.
func (m *Manager) handleMessage(msg TimestampedMessage) {
	var frame Frame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		metrics.FramesDroppedTotal.Inc()
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(msg.Data))
		return
	}
	if frame.Type == "" {
		metrics.FramesDroppedTotal.Inc()
		m.logger.Warn("dropping frame without type", "size", len(msg.Data))
		return
	}

	if frame.Type == "auth" {
		m.handleAuthResult(frame)
	}

	if m.dispatch != nil {
		m.dispatch(frame, msg)
	}
}

func (m *Manager) handleAuthResult(frame Frame) {
	var result AuthResult
	if err := json.Unmarshal(frame.Payload, &result); err != nil {
		m.logger.Warn("unreadable auth response", "error", err)
		return
	}

	m.mu.Lock()
	m.authenticated = result.Success
	m.mu.Unlock()

	if result.Success {
		m.logger.Info("upstream authenticated")
		return
	}
	// A rejection downgrades us to public data only. The connection stays up.
	m.logger.Warn("upstream rejected authentication", "message", result.Message)
}
