package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/avelar/feedgate/internal/connection"
	"github.com/avelar/feedgate/internal/model"
	"github.com/avelar/feedgate/internal/state"
)

// Frame types that carry account state and feed the reconciler.
const (
	FrameTypeMargins   = "margins"
	FrameTypePositions = "positions"
	FrameTypeOrders    = "orders"
)

// Relay is the upstream side of the hub: subscription intents from
// downstream subscribers are forwarded through it.
type Relay interface {
	Subscribe(connection.Subscription) error
	Unsubscribe(connection.Subscription) error
}

// Handle is one downstream subscriber attached to the hub.
type Handle interface {
	// ID uniquely identifies the subscriber for registration bookkeeping.
	ID() string

	// Send delivers one frame. Implementations must not block indefinitely.
	Send(data []byte) error

	// IsOpen reports whether the subscriber can still receive.
	IsOpen() bool
}

// Hub distributes upstream frames to registered subscribers.
type Hub struct {
	logger     *slog.Logger
	relay      Relay
	reconciler *state.Reconciler

	mu      sync.RWMutex
	handles map[string]Handle
}

// New creates a hub. reconciler may be nil, in which case account frames are
// broadcast without being folded into local state.
func New(relay Relay, reconciler *state.Reconciler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		logger:     logger,
		relay:      relay,
		reconciler: reconciler,
		handles:    make(map[string]Handle),
	}
}

// Register attaches a subscriber. A handle re-registered under the same ID
// replaces the previous one.
func (h *Hub) Register(handle Handle) {
	h.mu.Lock()
	h.handles[handle.ID()] = handle
	n := len(h.handles)
	h.mu.Unlock()

	h.logger.Info("subscriber registered", "id", handle.ID(), "subscribers", n)
}

// Unregister detaches a subscriber. Unknown IDs are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, ok := h.handles[id]
	delete(h.handles, id)
	n := len(h.handles)
	h.mu.Unlock()

	if ok {
		h.logger.Info("subscriber unregistered", "id", id, "subscribers", n)
	}
}

// Subscribers returns the number of registered handles.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handles)
}

// Broadcast delivers one frame to every open subscriber. Closed handles are
// skipped but stay registered; their owners unregister them. A failed send
// never affects delivery to the remaining subscribers.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	handles := make([]Handle, 0, len(h.handles))
	for _, handle := range h.handles {
		handles = append(handles, handle)
	}
	h.mu.RUnlock()

	for _, handle := range handles {
		if !handle.IsOpen() {
			continue
		}
		if err := handle.Send(data); err != nil {
			h.logger.Warn("subscriber send failed", "id", handle.ID(), "error", err)
		}
	}
}

// RelaySubscribe forwards a subscription upstream. There is no buffering:
// without an open upstream connection the caller gets the error back and
// decides whether to retry.
func (h *Hub) RelaySubscribe(sub connection.Subscription) error {
	return h.relay.Subscribe(sub)
}

// RelayUnsubscribe forwards an unsubscribe upstream.
func (h *Hub) RelayUnsubscribe(sub connection.Subscription) error {
	return h.relay.Unsubscribe(sub)
}

// HandleFrame is the dispatch entry point wired into the connection manager.
// Account frames update the reconciler first; every frame is then broadcast
// verbatim, in the order it arrived.
func (h *Hub) HandleFrame(frame connection.Frame, raw connection.TimestampedMessage) {
	switch frame.Type {
	case FrameTypeMargins:
		var balance model.Balance
		if err := json.Unmarshal(frame.Payload, &balance); err != nil {
			h.logger.Warn("unreadable margins payload", "error", err)
		} else if h.reconciler != nil {
			h.reconciler.ApplyBalance(balance)
		}
	case FrameTypePositions:
		var position model.Position
		if err := json.Unmarshal(frame.Payload, &position); err != nil {
			h.logger.Warn("unreadable positions payload", "error", err)
		} else if h.reconciler != nil {
			h.reconciler.ApplyPosition(position)
		}
	case FrameTypeOrders:
		var order model.Order
		if err := json.Unmarshal(frame.Payload, &order); err != nil {
			h.logger.Warn("unreadable orders payload", "error", err)
		} else if h.reconciler != nil {
			h.reconciler.ApplyOrder(order)
		}
	}

	h.Broadcast(raw.Data)
}
