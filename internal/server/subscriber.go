package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avelar/feedgate/internal/connection"
	"github.com/avelar/feedgate/internal/metrics"
)

var (
	errSubscriberClosed = errors.New("subscriber closed")
	errSendBufferFull   = errors.New("subscriber send buffer full")
)

// streamSubscriber adapts one downstream websocket to a hub handle. Outbound
// frames go through a buffered channel and a single write pump; when the
// buffer is full the frame is dropped rather than blocking the broadcast.
type streamSubscriber struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	logger       *slog.Logger

	open      atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newStreamSubscriber(conn *websocket.Conn, buffer int, writeTimeout time.Duration, logger *slog.Logger) *streamSubscriber {
	sub := &streamSubscriber{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		logger:       logger,
		done:         make(chan struct{}),
	}
	sub.open.Store(true)

	go sub.writePump()
	return sub
}

func (s *streamSubscriber) ID() string { return s.id }

func (s *streamSubscriber) IsOpen() bool { return s.open.Load() }

func (s *streamSubscriber) Send(data []byte) error {
	if !s.open.Load() {
		return errSubscriberClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		metrics.SubscriberSendErrors.Inc()
		return errSendBufferFull
	}
}

func (s *streamSubscriber) Close() {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		close(s.done)
		s.conn.Close()
	})
}

func (s *streamSubscriber) writePump() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("subscriber write failed", "id", s.id, "error", err)
				s.Close()
				return
			}
		}
	}
}

// handleStream upgrades a downstream connection, attaches it to the hub, and
// relays its subscribe/unsubscribe intents upstream until it disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}

	sub := newStreamSubscriber(conn, s.cfg.SendBuffer, s.cfg.WriteTimeout, s.logger)
	s.hub.Register(sub)
	metrics.Subscribers.Inc()
	defer func() {
		s.hub.Unregister(sub.ID())
		sub.Close()
		metrics.Subscribers.Dec()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleIntent(sub, data)
	}
}

// handleIntent relays one subscribe or unsubscribe frame upstream and
// reports failures back on the subscriber's own stream.
func (s *Server) handleIntent(sub *streamSubscriber, data []byte) {
	var frame connection.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.sendError(sub, "malformed frame")
		return
	}

	switch frame.Type {
	case "subscribe", "unsubscribe":
	default:
		s.sendError(sub, "unsupported frame type: "+frame.Type)
		return
	}

	var payload connection.SubscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		s.sendError(sub, "malformed "+frame.Type+" payload")
		return
	}

	for _, ch := range payload.Channels {
		subscription := connection.Subscription{Channel: ch.Name, Symbols: ch.Symbols}
		var err error
		if frame.Type == "subscribe" {
			err = s.hub.RelaySubscribe(subscription)
		} else {
			err = s.hub.RelayUnsubscribe(subscription)
		}
		if err != nil {
			s.logger.Warn("relay failed",
				"op", frame.Type,
				"channel", ch.Name,
				"error", err,
			)
			s.sendError(sub, frame.Type+" failed: "+err.Error())
		}
	}
}

func (s *Server) sendError(sub *streamSubscriber, msg string) {
	payload, err := json.Marshal(map[string]string{"message": msg})
	if err != nil {
		return
	}
	data, err := json.Marshal(connection.Frame{Type: "error", Payload: payload})
	if err != nil {
		return
	}
	if err := sub.Send(data); err != nil {
		s.logger.Debug("error frame not delivered", "id", sub.ID(), "error", err)
	}
}
