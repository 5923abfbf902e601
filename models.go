package main

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageData is the published payload envelope. The broker treats it as an
// opaque value; only the id is validated (must parse as a UUID).
type MessageData struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
}

// Client -> server frames

type SubscribeRequest struct {
	Type      string `json:"type"`
	Topic     string `json:"topic"`
	ClientID  string `json:"client_id"`
	LastN     int    `json:"last_n,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type UnsubscribeRequest struct {
	Type      string `json:"type"`
	Topic     string `json:"topic"`
	ClientID  string `json:"client_id"`
	RequestID string `json:"request_id,omitempty"`
}

type PublishRequest struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic"`
	Message   MessageData `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
}

type PingRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// Server -> client frames

type AckResponse struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"ts"`
}

type EventResponse struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic"`
	Message   MessageData `json:"message"`
	Timestamp time.Time   `json:"ts"`
}

type ErrorResponse struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Error     ErrorData `json:"error"`
	Timestamp time.Time `json:"ts"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e ErrorData) Error() string {
	return e.Message
}

type PongResponse struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"ts"`
}

type InfoResponse struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Message   string    `json:"msg"`
	Timestamp time.Time `json:"ts"`
}

// HTTP API models

type CreateTopicRequest struct {
	Name string `json:"name"`
}

type TopicStatusResponse struct {
	Status string `json:"status"`
	Topic  string `json:"topic"`
}

type TopicsResponse struct {
	Topics []string `json:"topics"`
}

type HealthResponse struct {
	UptimeSeconds int `json:"uptime_sec"`
	Topics        int `json:"topics"`
	Subscribers   int `json:"subscribers"`
}

type TopicStats struct {
	Messages    int64 `json:"messages"`
	Subscribers int   `json:"subscribers"`
}

type StatsResponse struct {
	Topics map[string]TopicStats `json:"topics"`
}

type ClientSubscription struct {
	ClientID string   `json:"client_id"`
	Topics   []string `json:"topics"`
}

type SubscriptionsStatusResponse struct {
	TotalClients   int                  `json:"total_clients"`
	TotalTopics    int                  `json:"total_topics"`
	Subscriptions  []ClientSubscription `json:"subscriptions"`
	TopicBreakdown map[string][]string  `json:"topic_breakdown"` // topic -> list of client_ids
}

// IncomingMessage is the generic wrapper for peeking at the discriminator and
// the request id before full decoding.
type IncomingMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

func badRequest(msg string) ErrorData {
	return ErrorData{Code: "BAD_REQUEST", Message: msg}
}

// ParseMessage decodes and validates one incoming frame. A returned error is
// always an ErrorData with code BAD_REQUEST and the validator text as message.
func ParseMessage(data []byte) (any, error) {
	var incoming IncomingMessage
	if err := json.Unmarshal(data, &incoming); err != nil {
		return nil, badRequest("invalid JSON frame: " + err.Error())
	}

	switch incoming.Type {
	case "subscribe":
		var msg SubscribeRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid subscribe frame: " + err.Error())
		}
		if msg.Topic == "" {
			return nil, badRequest("topic is required")
		}
		if msg.ClientID == "" {
			return nil, badRequest("client_id is required")
		}
		if msg.LastN < 0 {
			return nil, badRequest("last_n must be >= 0")
		}
		return msg, nil

	case "unsubscribe":
		var msg UnsubscribeRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid unsubscribe frame: " + err.Error())
		}
		if msg.Topic == "" {
			return nil, badRequest("topic is required")
		}
		if msg.ClientID == "" {
			return nil, badRequest("client_id is required")
		}
		return msg, nil

	case "publish":
		var msg PublishRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid publish frame: " + err.Error())
		}
		if msg.Topic == "" {
			return nil, badRequest("topic is required")
		}
		if _, err := uuid.Parse(msg.Message.ID); err != nil {
			return nil, badRequest("message.id must be a valid UUID")
		}
		if msg.Message.Payload == nil {
			return nil, badRequest("message.payload must be an object")
		}
		return msg, nil

	case "ping":
		var msg PingRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ping frame: " + err.Error())
		}
		return msg, nil

	default:
		return nil, badRequest("unsupported message type: " + incoming.Type)
	}
}
