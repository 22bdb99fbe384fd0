package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/waflow/flowd/logger"
	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
)

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	executionId := vars["id"]
	execution, err := s.storage.ExecutionDao().Get(r.Context(), executionId)
	if errors.Is(err, persistence.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "execution does not exist")
		return
	}
	if err != nil {
		logger.Error("error getting execution", zap.String("executionId", executionId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error getting execution")
		return
	}
	respondWithJSON(w, http.StatusOK, execution)
}

type invokeFlowRequest struct {
	ConversationId string         `json:"conversationId"`
	Variables      map[string]any `json:"variables,omitempty"`
}

// HandleInvokeFlow starts a webhook-triggered flow for a conversation.
func (s *Server) HandleInvokeFlow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowId := vars["id"]
	var req invokeFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "unparseable invoke request")
		return
	}
	defer r.Body.Close()
	if req.ConversationId == "" {
		respondWithError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	s.dispatcher.Submit(model.InboundEvent{
		Type:            model.EVENT_TYPE_WEBHOOK,
		ConversationId:  req.ConversationId,
		FromPhoneNumber: req.ConversationId,
		FlowId:          flowId,
		Variables:       req.Variables,
		Timestamp:       time.Now(),
	})
	respondOK(w, "accepted")
}
