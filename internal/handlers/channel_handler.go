package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/rolledback/cloudbridge/internal/logger"
	"github.com/rolledback/cloudbridge/internal/models"
	"github.com/rolledback/cloudbridge/internal/notify"
)

// Dispatcher answers channel method calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, call models.MethodCall) models.Response
}

// ProviderLister lists the registered provider IDs.
type ProviderLister interface {
	Providers() []string
}

// ChannelHandler exposes the method channel and the event stream over HTTP.
type ChannelHandler struct {
	dispatcher Dispatcher
	providers  ProviderLister
	events     <-chan notify.Event
	log        logrus.FieldLogger
}

// NewChannelHandler creates a channel handler. events is consumed by at most
// one /api/events client at a time.
func NewChannelHandler(dispatcher Dispatcher, providers ProviderLister, events <-chan notify.Event, log logrus.FieldLogger) *ChannelHandler {
	return &ChannelHandler{
		dispatcher: dispatcher,
		providers:  providers,
		events:     events,
		log:        logger.Or(log),
	}
}

// Call handles POST /api/channel. Method failures are reported in the
// Response body with status 200; only malformed requests get an HTTP error.
func (h *ChannelHandler) Call(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var call models.MethodCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		h.respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if call.Method == "" {
		h.respondError(w, "Method required", http.StatusBadRequest)
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), call)
	if !resp.Success {
		h.log.WithFields(logrus.Fields{"method": call.Method, "code": resp.Code}).Debug(resp.Message)
	}
	h.respondJSON(w, resp, http.StatusOK)
}

// Events handles GET /api/events, streaming progress and result events as
// newline-delimited JSON until the client goes away or the queue closes.
func (h *ChannelHandler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Info("event stream client connected")
	defer h.log.Info("event stream client disconnected")

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-h.events:
			if !ok {
				return
			}
			if err := enc.Encode(e); err != nil {
				h.log.WithError(err).WithField("task_id", e.TaskID).Warn("failed to write event")
				return
			}
			flusher.Flush()
		}
	}
}

// ListProviders handles GET /api/providers.
func (h *ChannelHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.respondJSON(w, map[string]interface{}{"providers": h.providers.Providers()}, http.StatusOK)
}

func (h *ChannelHandler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *ChannelHandler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, models.ErrorResponse{Error: message}, status)
}
