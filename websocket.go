package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for this example
		return true
	},
}

var errConnClosed = errors.New("connection closed")

// wsConn wraps a websocket connection as the broker's Conn handle. The write
// mutex serializes the session's replies, the broker's fan-out frames and the
// keepalive pings, which may originate from different goroutines.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// SendJSON writes one frame with a write deadline. A failed write marks the
// handle closed; subsequent sends fail fast.
func (c *wsConn) SendJSON(v any) error {
	if c.closed.Load() {
		return errConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

// CloseWithCode sends a close control frame with the given code and tears the
// connection down. Safe to call more than once.
func (c *wsConn) CloseWithCode(code int) {
	if c.closed.Swap(true) {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
	c.conn.Close()
}

// Connected reports whether the handle can still accept frames.
func (c *wsConn) Connected() bool {
	return !c.closed.Load()
}

func (c *wsConn) ping() error {
	if c.closed.Load() {
		return errConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Session runs the per-connection interaction loop: read one frame, dispatch
// it, write the reply. Frames are processed strictly in arrival order.
type Session struct {
	conn   *wsConn
	broker *Broker
	logger zerolog.Logger

	// Bound by the first subscribe/unsubscribe frame that carries a client
	// id; later frames with a different id are rejected.
	clientID string
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn, broker *Broker, logger zerolog.Logger) *Session {
	return &Session{
		conn:   newWSConn(conn),
		broker: broker,
		logger: logger,
	}
}

// Run reads frames until the peer disconnects or the transport fails, then
// purges the bound client's subscriptions.
func (s *Session) Run(maxFrameBytes int64) {
	raw := s.conn.conn

	defer func() {
		if s.clientID != "" {
			s.broker.DisconnectClient(s.clientID)
		}
		s.conn.closed.Store(true)
		raw.Close()
		connectionsActive.Dec()
	}()

	raw.SetReadLimit(maxFrameBytes)
	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Keepalive pings until the session ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.conn.ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Str("client_id", s.clientID).Err(err).Msg("websocket read failed")
			}
			return
		}
		framesReceived.Inc()
		s.handleFrame(data)
	}
}

// handleFrame decodes one frame and dispatches on its type.
func (s *Session) handleFrame(data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		// Recover the request id from the raw frame if there is one.
		var incoming IncomingMessage
		_ = json.Unmarshal(data, &incoming)
		s.sendSchemaError(incoming.RequestID, err)
		return
	}

	switch msg := msg.(type) {
	case SubscribeRequest:
		s.handleSubscribe(msg)
	case UnsubscribeRequest:
		s.handleUnsubscribe(msg)
	case PublishRequest:
		s.handlePublish(msg)
	case PingRequest:
		s.handlePing(msg)
	}
}

// bindClientID freezes the session's client id on first use and rejects any
// later frame that carries a different one.
func (s *Session) bindClientID(requestID, clientID string) bool {
	if s.clientID == "" {
		s.clientID = clientID
		return true
	}
	if s.clientID != clientID {
		s.sendSchemaError(requestID, badRequest("client_id mismatch with existing connection"))
		return false
	}
	return true
}

func (s *Session) handleSubscribe(req SubscribeRequest) {
	if !s.bindClientID(req.RequestID, req.ClientID) {
		return
	}

	// Replay happens inside Subscribe, so historical events reach the peer
	// before the ack. New fan-out events can only follow both.
	if err := s.broker.Subscribe(req.Topic, s.clientID, s.conn, req.LastN); err != nil {
		s.sendDomainError(req.RequestID, err)
		return
	}

	s.sendAck(req.RequestID, req.Topic)
}

func (s *Session) handleUnsubscribe(req UnsubscribeRequest) {
	if !s.bindClientID(req.RequestID, req.ClientID) {
		return
	}

	if err := s.broker.Unsubscribe(req.Topic, s.clientID); err != nil {
		s.sendDomainError(req.RequestID, err)
		return
	}

	s.sendAck(req.RequestID, req.Topic)
}

func (s *Session) handlePublish(req PublishRequest) {
	if err := s.broker.Publish(req.Topic, req.Message); err != nil {
		s.sendDomainError(req.RequestID, err)
		return
	}

	s.sendAck(req.RequestID, req.Topic)
}

func (s *Session) handlePing(req PingRequest) {
	s.send(PongResponse{
		Type:      "pong",
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Session) sendAck(requestID, topic string) {
	s.send(AckResponse{
		Type:      "ack",
		RequestID: requestID,
		Topic:     topic,
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

// sendSchemaError reports a malformed frame: code BAD_REQUEST, message is the
// validator text.
func (s *Session) sendSchemaError(requestID string, err error) {
	var ed ErrorData
	if !errors.As(err, &ed) {
		ed = badRequest(err.Error())
	}
	s.send(ErrorResponse{
		Type:      "error",
		RequestID: requestID,
		Error:     ed,
		Timestamp: time.Now().UTC(),
	})
}

// sendDomainError reports a broker failure. The wire contract puts the error
// kind in code and the literal "Operation failed" in message.
func (s *Session) sendDomainError(requestID string, err error) {
	code := "INTERNAL_ERROR"
	var ed ErrorData
	if errors.As(err, &ed) {
		code = ed.Code
	}
	s.send(ErrorResponse{
		Type:      "error",
		RequestID: requestID,
		Error:     ErrorData{Code: code, Message: "Operation failed"},
		Timestamp: time.Now().UTC(),
	})
}

func (s *Session) send(v any) {
	if err := s.conn.SendJSON(v); err != nil {
		s.logger.Debug().Str("client_id", s.clientID).Err(err).Msg("reply not delivered")
	}
}

// HandleWebSocket upgrades the request and runs the session loop in the
// handler goroutine.
func HandleWebSocket(broker *Broker, cfg *Config, logger zerolog.Logger, limiter *AcceptLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			connectionsRejected.Inc()
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		connectionsTotal.Inc()
		connectionsActive.Inc()
		logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket connected")

		NewSession(conn, broker, logger).Run(cfg.MaxFrameBytes)
	}
}
