package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxTopicNameLen = 100

// HTTPHandlers is the REST control plane: topic lifecycle plus observability
// snapshots, all mapped onto broker operations.
type HTTPHandlers struct {
	broker    *Broker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHTTPHandlers creates the control plane over the given broker.
func NewHTTPHandlers(broker *Broker, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		broker:    broker,
		logger:    logger,
		startTime: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// CreateTopic handles POST /topics
func (h *HTTPHandlers) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if len(req.Name) < 1 || len(req.Name) > maxTopicNameLen {
		writeError(w, http.StatusUnprocessableEntity, "topic name must be 1..100 characters")
		return
	}

	if err := h.broker.CreateTopic(req.Name); err != nil {
		if errors.Is(err, ErrTopicExists) {
			writeError(w, http.StatusConflict, "Topic already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, TopicStatusResponse{Status: "created", Topic: req.Name})
}

// DeleteTopic handles DELETE /topics/{name}
func (h *HTTPHandlers) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	topicName := mux.Vars(r)["name"]

	if err := h.broker.DeleteTopic(topicName); err != nil {
		if errors.Is(err, ErrTopicNotFound) {
			writeError(w, http.StatusNotFound, "Topic not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, TopicStatusResponse{Status: "deleted", Topic: topicName})
}

// GetTopics handles GET /topics
func (h *HTTPHandlers) GetTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TopicsResponse{Topics: h.broker.ListTopics()})
}

// GetHealth handles GET /health
func (h *HTTPHandlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := h.broker.GetHealth()
	health.UptimeSeconds = int(time.Since(h.startTime).Seconds())
	writeJSON(w, http.StatusOK, health)
}

// GetStats handles GET /stats
func (h *HTTPHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.GetStats())
}

// GetSubscriptionsStatus handles GET /subscriptions
func (h *HTTPHandlers) GetSubscriptionsStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.GetSubscriptionsStatus())
}

// SetupRoutes configures the HTTP routes.
func (h *HTTPHandlers) SetupRoutes(router *mux.Router, cfg *Config, limiter *AcceptLimiter) {
	// Topic management
	router.HandleFunc("/topics", h.CreateTopic).Methods("POST")
	router.HandleFunc("/topics/{name}", h.DeleteTopic).Methods("DELETE")
	router.HandleFunc("/topics", h.GetTopics).Methods("GET")

	// System endpoints
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.HandleFunc("/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/subscriptions", h.GetSubscriptionsStatus).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// WebSocket endpoint
	router.HandleFunc("/ws", HandleWebSocket(h.broker, cfg, h.logger, limiter)).Methods("GET")
}
