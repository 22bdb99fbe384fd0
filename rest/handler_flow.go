package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/waflow/flowd/flow"
	"github.com/waflow/flowd/logger"
	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
)

func (s *Server) HandleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var f model.Flow
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		respondWithError(w, http.StatusBadRequest, "unparseable flow definition")
		return
	}
	defer r.Body.Close()
	if f.Id == "" {
		f.Id = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = model.FLOW_STATUS_INACTIVE
	}
	if err := flow.Validate(&f); err != nil {
		logger.Info("flow validation failed", zap.String("flowId", f.Id), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.storage.FlowDao().Save(r.Context(), f); err != nil {
		logger.Error("error saving flow", zap.String("flowId", f.Id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving flow")
		return
	}
	s.flows.Invalidate(f.Id)
	respondWithJSON(w, http.StatusOK, map[string]string{"id": f.Id})
}

func (s *Server) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.storage.FlowDao().List(r.Context())
	if err != nil {
		logger.Error("error listing flows", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error listing flows")
		return
	}
	respondWithJSON(w, http.StatusOK, flows)
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowId := vars["id"]
	f, err := s.storage.FlowDao().Get(r.Context(), flowId)
	if errors.Is(err, persistence.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "flow does not exist")
		return
	}
	if err != nil {
		logger.Error("error getting flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error getting flow")
		return
	}
	respondWithJSON(w, http.StatusOK, f)
}

func (s *Server) HandleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowId := vars["id"]
	err := s.storage.FlowDao().Delete(r.Context(), flowId)
	if errors.Is(err, persistence.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "flow does not exist")
		return
	}
	if err != nil {
		logger.Error("error deleting flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error deleting flow")
		return
	}
	s.flows.Invalidate(flowId)
	respondOK(w, "deleted")
}

type flowStatusRequest struct {
	Status model.FlowStatus `json:"status"`
}

// HandleSetFlowStatus activates or deactivates a flow. Deactivation only
// stops new executions from starting, running ones continue.
func (s *Server) HandleSetFlowStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowId := vars["id"]
	var req flowStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "unparseable status request")
		return
	}
	defer r.Body.Close()
	if req.Status != model.FLOW_STATUS_ACTIVE && req.Status != model.FLOW_STATUS_INACTIVE {
		respondWithError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}
	f, err := s.storage.FlowDao().Get(r.Context(), flowId)
	if errors.Is(err, persistence.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "flow does not exist")
		return
	}
	if err != nil {
		logger.Error("error getting flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error getting flow")
		return
	}
	f.Status = req.Status
	if err := s.storage.FlowDao().Save(r.Context(), *f); err != nil {
		logger.Error("error saving flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving flow")
		return
	}
	s.flows.Invalidate(flowId)
	respondOK(w, "updated")
}
