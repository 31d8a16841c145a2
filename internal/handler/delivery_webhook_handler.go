// internal/handler/delivery_webhook_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sendwave/sendwave-backend/internal/model"
	"github.com/sendwave/sendwave-backend/internal/queue"
)

// DeliveryWebhookHandler accepts already-normalized delivery events. The
// upstream webhook layer has verified the provider signature and flattened
// the payload; this handler only hands the event to the durable queue the
// correlator drains.
type DeliveryWebhookHandler struct {
	Queue queue.Queue
}

func (h *DeliveryWebhookHandler) HandleDeliveryEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.DeliveryEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.ProviderMessageID == "" || ev.Status == "" {
		http.Error(w, "provider_message_id and status are required", http.StatusBadRequest)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		http.Error(w, "failed to encode event", http.StatusInternalServerError)
		return
	}
	if err := h.Queue.Publish(queue.TopicDelivery, body); err != nil {
		http.Error(w, "failed to enqueue event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
