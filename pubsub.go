package main

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Broker errors. ErrorData doubles as the sentinel type so the wire code
// travels with the error; the stream adapter puts Code on the frame and the
// REST adapter maps it to a status.
var (
	ErrTopicExists   = ErrorData{Code: "TOPIC_ALREADY_EXISTS", Message: "topic already exists"}
	ErrTopicNotFound = ErrorData{Code: "TOPIC_NOT_FOUND", Message: "topic not found"}
)

// Conn is the broker's view of a subscriber connection. The session owns the
// underlying transport; the broker only sends on it during replay, fan-out and
// forced disconnect, and must tolerate the handle going dead between the state
// check and the send.
type Conn interface {
	// SendJSON writes one frame. An error means the connection is unusable.
	SendJSON(v any) error
	// CloseWithCode sends a close control frame and tears the connection down.
	CloseWithCode(code int)
	// Connected reports whether the connection can still accept frames.
	Connected() bool
}

// Topic aggregates the state of one named channel.
type Topic struct {
	Name         string
	Subscribers  map[string]Conn // client_id -> connection handle
	History      *RingBuffer
	MessageCount int64
	CreatedAt    time.Time
}

// Broker owns the topic registry, the subscription graph and the per-topic
// history. A single mutex serializes every mutation; sends during replay and
// fan-out happen while it is held, which is what guarantees that a replay can
// never interleave with a concurrent publish on the same topic.
type Broker struct {
	mu sync.Mutex

	// topic name -> topic
	topics map[string]*Topic

	// client_id -> set of subscribed topic names; the inverse of
	// Topic.Subscribers, kept so disconnect cleanup is bounded by the
	// client's subscriptions. An entry exists iff the set is non-empty.
	clientTopics map[string]map[string]bool

	logger zerolog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger zerolog.Logger) *Broker {
	return &Broker{
		topics:       make(map[string]*Topic),
		clientTopics: make(map[string]map[string]bool),
		logger:       logger,
	}
}

// CreateTopic registers a new empty topic.
func (b *Broker) CreateTopic(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.topics[name]; exists {
		return ErrTopicExists
	}

	b.topics[name] = &Topic{
		Name:        name,
		Subscribers: make(map[string]Conn),
		History:     NewRingBuffer(HistoryCapacity),
		CreatedAt:   time.Now(),
	}
	topicsGauge.Inc()

	b.logger.Info().Str("topic", name).Msg("topic created")
	return nil
}

// DeleteTopic removes a topic. Every current subscriber is told via an info
// frame, closed with a normal-closure code, and dropped from the subscription
// index before the topic leaves the registry.
func (b *Broker) DeleteTopic(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, exists := b.topics[name]
	if !exists {
		return ErrTopicNotFound
	}

	for clientID, conn := range topic.Subscribers {
		if conn.Connected() {
			notice := InfoResponse{
				Type:      "info",
				Topic:     name,
				Message:   "topic_deleted",
				Timestamp: time.Now().UTC(),
			}
			if err := conn.SendJSON(notice); err != nil {
				b.logger.Debug().Str("client_id", clientID).Err(err).Msg("deletion notice not delivered")
			}
			conn.CloseWithCode(websocket.CloseNormalClosure)
		}

		if subs, ok := b.clientTopics[clientID]; ok {
			delete(subs, name)
			if len(subs) == 0 {
				delete(b.clientTopics, clientID)
			}
		}
	}

	subscribersGauge.Sub(float64(len(topic.Subscribers)))
	delete(b.topics, name)
	topicsGauge.Dec()

	b.logger.Info().Str("topic", name).Int("subscribers", len(topic.Subscribers)).Msg("topic deleted")
	return nil
}

// ListTopics returns a snapshot of current topic names. Order is unspecified.
func (b *Broker) ListTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	return names
}

// Subscribe installs conn as the topic's handle for clientID, replacing any
// prior handle for the same id. If lastN > 0, up to the last N historical
// payloads are replayed to conn, in order, before the mutex is released — so
// no publish accepted after this call can be observed before the replay.
func (b *Broker) Subscribe(topicName, clientID string, conn Conn, lastN int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, exists := b.topics[topicName]
	if !exists {
		return ErrTopicNotFound
	}

	if _, already := topic.Subscribers[clientID]; !already {
		subscribersGauge.Inc()
	}
	topic.Subscribers[clientID] = conn

	if b.clientTopics[clientID] == nil {
		b.clientTopics[clientID] = make(map[string]bool)
	}
	b.clientTopics[clientID][topicName] = true

	if lastN > 0 {
		for _, payload := range topic.History.GetLastN(lastN) {
			event := EventResponse{
				Type:      "event",
				Topic:     topicName,
				Message:   payload,
				Timestamp: time.Now().UTC(),
			}
			if err := conn.SendJSON(event); err != nil {
				// Connection died mid-replay; the session teardown will
				// run the disconnect cleanup.
				b.logger.Debug().Str("client_id", clientID).Err(err).Msg("replay aborted")
				break
			}
			replayedEvents.Inc()
		}
	}

	return nil
}

// Unsubscribe removes clientID from the topic. A missing subscription is a
// no-op; only a missing topic is an error.
func (b *Broker) Unsubscribe(topicName, clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, exists := b.topics[topicName]
	if !exists {
		return ErrTopicNotFound
	}

	if _, subscribed := topic.Subscribers[clientID]; subscribed {
		delete(topic.Subscribers, clientID)
		subscribersGauge.Dec()
	}

	if subs, ok := b.clientTopics[clientID]; ok {
		delete(subs, topicName)
		if len(subs) == 0 {
			delete(b.clientTopics, clientID)
		}
	}

	return nil
}

// Publish appends the payload to the topic history and fans it out to every
// current subscriber. Subscribers whose connection is gone (state or send
// failure) are purged from the topic at the end of the fan-out; their index
// entries are left for DisconnectClient.
func (b *Broker) Publish(topicName string, message MessageData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, exists := b.topics[topicName]
	if !exists {
		return ErrTopicNotFound
	}

	topic.History.Push(message)
	topic.MessageCount++
	messagesPublished.Inc()

	var dead []string
	for clientID, conn := range topic.Subscribers {
		if !conn.Connected() {
			dead = append(dead, clientID)
			continue
		}

		event := EventResponse{
			Type:      "event",
			Topic:     topicName,
			Message:   message,
			Timestamp: time.Now().UTC(),
		}
		if err := conn.SendJSON(event); err != nil {
			dead = append(dead, clientID)
			droppedSends.Inc()
			continue
		}
		eventsDelivered.Inc()
	}

	for _, clientID := range dead {
		delete(topic.Subscribers, clientID)
		subscribersGauge.Dec()
	}

	return nil
}

// DisconnectClient removes the client from every topic it is subscribed to
// and drops its index entry. Idempotent; tolerates topics deleted in the
// meantime.
func (b *Broker) DisconnectClient(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, exists := b.clientTopics[clientID]
	if !exists {
		return
	}

	for topicName := range subs {
		if topic, ok := b.topics[topicName]; ok {
			if _, subscribed := topic.Subscribers[clientID]; subscribed {
				delete(topic.Subscribers, clientID)
				subscribersGauge.Dec()
			}
		}
	}
	delete(b.clientTopics, clientID)

	b.logger.Info().Str("client_id", clientID).Msg("client disconnected")
}

// GetHealth returns topic and subscriber counts. Uptime is stamped by the
// caller.
func (b *Broker) GetHealth() HealthResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	totalSubscribers := 0
	for _, topic := range b.topics {
		totalSubscribers += len(topic.Subscribers)
	}

	return HealthResponse{
		Topics:      len(b.topics),
		Subscribers: totalSubscribers,
	}
}

// GetStats returns per-topic message and subscriber counts.
func (b *Broker) GetStats() StatsResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := StatsResponse{
		Topics: make(map[string]TopicStats),
	}
	for name, topic := range b.topics {
		stats.Topics[name] = TopicStats{
			Messages:    topic.MessageCount,
			Subscribers: len(topic.Subscribers),
		}
	}
	return stats
}

// GetSubscriptionsStatus returns the full subscription graph: per-client topic
// lists plus the topic -> client_ids breakdown.
func (b *Broker) GetSubscriptionsStatus() SubscriptionsStatusResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscriptions := make([]ClientSubscription, 0, len(b.clientTopics))
	for clientID, topicsMap := range b.clientTopics {
		topics := make([]string, 0, len(topicsMap))
		for topic := range topicsMap {
			topics = append(topics, topic)
		}
		subscriptions = append(subscriptions, ClientSubscription{
			ClientID: clientID,
			Topics:   topics,
		})
	}

	topicBreakdown := make(map[string][]string)
	for topicName, topic := range b.topics {
		clients := make([]string, 0, len(topic.Subscribers))
		for clientID := range topic.Subscribers {
			clients = append(clients, clientID)
		}
		topicBreakdown[topicName] = clients
	}

	return SubscriptionsStatusResponse{
		TotalClients:   len(b.clientTopics),
		TotalTopics:    len(b.topics),
		Subscriptions:  subscriptions,
		TopicBreakdown: topicBreakdown,
	}
}
