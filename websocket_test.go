package main

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	msgID1 = "00000000-0000-0000-0000-000000000001"
	msgID2 = "00000000-0000-0000-0000-000000000002"
	msgID3 = "00000000-0000-0000-0000-000000000003"
)

// serverFrame decodes any server -> client frame for assertions.
type serverFrame struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
	Topic     string      `json:"topic"`
	Status    string      `json:"status"`
	Msg       string      `json:"msg"`
	Message   MessageData `json:"message"`
	Error     *ErrorData  `json:"error"`
	Timestamp string      `json:"ts"`
}

func newWSTestServer(t *testing.T) (*httptest.Server, *Broker) {
	t.Helper()
	router, broker := newTestRouter()
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, broker
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame serverFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if frame.Timestamp == "" {
		t.Error("Frame missing ts")
	}
	return frame
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

func TestWSSubscribePublishReceive(t *testing.T) {
	srv, broker := newWSTestServer(t)
	broker.CreateTopic("t")

	sub := dialWS(t, srv)
	pub := dialWS(t, srv)

	sendFrame(t, sub, `{"type":"subscribe","topic":"t","client_id":"c1","request_id":"r1"}`)
	ack := readFrame(t, sub)
	if ack.Type != "ack" || ack.RequestID != "r1" || ack.Status != "ok" || ack.Topic != "t" {
		t.Fatalf("Unexpected ack: %+v", ack)
	}

	sendFrame(t, pub, `{"type":"publish","topic":"t","message":{"id":"`+msgID1+`","payload":{"k":"v"}},"request_id":"r2"}`)
	pubAck := readFrame(t, pub)
	if pubAck.Type != "ack" || pubAck.RequestID != "r2" {
		t.Fatalf("Unexpected publish ack: %+v", pubAck)
	}

	event := readFrame(t, sub)
	if event.Type != "event" || event.Topic != "t" {
		t.Fatalf("Unexpected event: %+v", event)
	}
	if event.Message.ID != msgID1 || event.Message.Payload["k"] != "v" {
		t.Errorf("Unexpected event payload: %+v", event.Message)
	}
}

func TestWSReplay(t *testing.T) {
	srv, broker := newWSTestServer(t)
	broker.CreateTopic("t")

	pub := dialWS(t, srv)
	for i, id := range []string{msgID1, msgID2, msgID3} {
		sendFrame(t, pub, fmt.Sprintf(`{"type":"publish","topic":"t","message":{"id":%q,"payload":{}},"request_id":"p%d"}`, id, i+1))
		readFrame(t, pub)
	}

	sub := dialWS(t, srv)
	sendFrame(t, sub, `{"type":"subscribe","topic":"t","client_id":"c1","last_n":2,"request_id":"r1"}`)

	// Replay arrives before the ack, oldest first.
	first := readFrame(t, sub)
	second := readFrame(t, sub)
	ack := readFrame(t, sub)

	if first.Type != "event" || first.Message.ID != msgID2 {
		t.Errorf("Expected first replay %s, got %+v", msgID2, first)
	}
	if second.Type != "event" || second.Message.ID != msgID3 {
		t.Errorf("Expected second replay %s, got %+v", msgID3, second)
	}
	if ack.Type != "ack" || ack.RequestID != "r1" {
		t.Errorf("Expected ack after replay, got %+v", ack)
	}
}

func TestWSUnknownTopic(t *testing.T) {
	srv, _ := newWSTestServer(t)

	conn := dialWS(t, srv)
	sendFrame(t, conn, `{"type":"publish","topic":"ghost","message":{"id":"`+msgID1+`","payload":{}},"request_id":"r1"}`)

	frame := readFrame(t, conn)
	if frame.Type != "error" || frame.Error == nil {
		t.Fatalf("Expected error frame, got %+v", frame)
	}
	if frame.Error.Code != "TOPIC_NOT_FOUND" {
		t.Errorf("Expected TOPIC_NOT_FOUND, got %s", frame.Error.Code)
	}
	if frame.Error.Message != "Operation failed" {
		t.Errorf(`Expected "Operation failed", got %q`, frame.Error.Message)
	}
	if frame.RequestID != "r1" {
		t.Errorf("Expected request id on error frame, got %q", frame.RequestID)
	}
}

func TestWSPing(t *testing.T) {
	srv, _ := newWSTestServer(t)

	conn := dialWS(t, srv)
	sendFrame(t, conn, `{"type":"ping","request_id":"r1"}`)

	frame := readFrame(t, conn)
	if frame.Type != "pong" || frame.RequestID != "r1" {
		t.Errorf("Expected pong r1, got %+v", frame)
	}
}

func TestWSBadFrame(t *testing.T) {
	srv, _ := newWSTestServer(t)

	conn := dialWS(t, srv)
	sendFrame(t, conn, `{"type":"bogus","request_id":"r9"}`)

	frame := readFrame(t, conn)
	if frame.Type != "error" || frame.Error == nil || frame.Error.Code != "BAD_REQUEST" {
		t.Fatalf("Expected BAD_REQUEST error, got %+v", frame)
	}
	if frame.RequestID != "r9" {
		t.Errorf("Expected request id recovered from the bad frame, got %q", frame.RequestID)
	}
}

func TestWSClientIDMismatch(t *testing.T) {
	srv, broker := newWSTestServer(t)
	broker.CreateTopic("t")

	conn := dialWS(t, srv)
	sendFrame(t, conn, `{"type":"subscribe","topic":"t","client_id":"c1","request_id":"r1"}`)
	readFrame(t, conn)

	sendFrame(t, conn, `{"type":"subscribe","topic":"t","client_id":"c2","request_id":"r2"}`)
	frame := readFrame(t, conn)
	if frame.Type != "error" || frame.Error == nil || frame.Error.Code != "BAD_REQUEST" {
		t.Errorf("Expected BAD_REQUEST for client id rebind, got %+v", frame)
	}
}

func TestWSTopicDeletedNotice(t *testing.T) {
	srv, broker := newWSTestServer(t)
	broker.CreateTopic("t")

	conn := dialWS(t, srv)
	sendFrame(t, conn, `{"type":"subscribe","topic":"t","client_id":"c1","request_id":"r1"}`)
	readFrame(t, conn)

	if err := broker.DeleteTopic("t"); err != nil {
		t.Fatalf("Failed to delete topic: %v", err)
	}

	notice := readFrame(t, conn)
	if notice.Type != "info" || notice.Topic != "t" || notice.Msg != "topic_deleted" {
		t.Fatalf("Expected topic_deleted notice, got %+v", notice)
	}

	// The connection is then closed with a normal-closure code.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected close 1000, got %v", err)
	}
}

func TestWSDisconnectCleanup(t *testing.T) {
	srv, broker := newWSTestServer(t)
	broker.CreateTopic("t1")
	broker.CreateTopic("t2")

	conn := dialWS(t, srv)
	sendFrame(t, conn, `{"type":"subscribe","topic":"t1","client_id":"c1","request_id":"r1"}`)
	readFrame(t, conn)
	sendFrame(t, conn, `{"type":"subscribe","topic":"t2","client_id":"c1","request_id":"r2"}`)
	readFrame(t, conn)

	if health := broker.GetHealth(); health.Subscribers != 2 {
		t.Fatalf("Expected 2 subscriptions, got %d", health.Subscribers)
	}

	conn.Close()

	// The session notices the closed transport on its next read and purges
	// the client's subscriptions.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if broker.GetHealth().Subscribers == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Subscriptions not cleaned up, health: %+v", broker.GetHealth())
}
