package rest

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/waflow/flowd/inbound"
	"github.com/waflow/flowd/logger"
)

// HandleWebhookVerify answers the provider's subscription handshake.
func (s *Server) HandleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")
	if mode != "subscribe" || token != s.verifyToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// HandleWebhookEvent accepts provider notifications, hands the contained
// events to the dispatcher and acks immediately. The provider retries on
// anything but a 200, so parse failures are acked too after logging.
func (s *Server) HandleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	defer r.Body.Close()
	notification, err := inbound.Parse(body)
	if err != nil {
		logger.Error("dropping unparseable webhook delivery", zap.Error(err))
		respondOK(w, "ignored")
		return
	}
	for _, event := range notification.Events {
		s.dispatcher.Submit(event)
	}
	for _, status := range notification.Statuses {
		logger.Debug("delivery status update",
			zap.String("providerMessageId", status.ProviderMessageId),
			zap.String("status", status.Status))
	}
	respondOK(w, "accepted")
}
