package handler

import (
	"encoding/json"
	"net/http"

	"github.com/devrev/pairdb/offload-engine/internal/errors"
	"github.com/devrev/pairdb/offload-engine/internal/service"
	"github.com/devrev/pairdb/offload-engine/internal/validation"
	"go.uber.org/zap"
)

// OffloadHandler exposes the offload coordinator over HTTP for
// operators and the cluster control plane.
type OffloadHandler struct {
	manager   *service.Manager
	validator *validation.Validator
	logger    *zap.Logger
}

// NewOffloadHandler creates an offload handler
func NewOffloadHandler(manager *service.Manager, logger *zap.Logger) *OffloadHandler {
	return &OffloadHandler{
		manager:   manager,
		validator: validation.NewValidator(),
		logger:    logger,
	}
}

// Register mounts all offload routes on the mux
func (h *OffloadHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /offload/status", h.handleStatus)
	mux.HandleFunc("GET /offload/progress", h.handleProgress)
	mux.HandleFunc("GET /offload/result", h.handleResult)
	mux.HandleFunc("GET /offload/nodes", h.handleNodes)
	mux.HandleFunc("POST /offload/nodes/refresh", h.handleRefresh)
	mux.HandleFunc("POST /offload/target", h.handleSelect)
	mux.HandleFunc("POST /offload/target/auto", h.handleAutoSelect)
	mux.HandleFunc("DELETE /offload/target", h.handleClearTarget)
	mux.HandleFunc("POST /offload/start", h.handleStart)
	mux.HandleFunc("POST /offload/pause", h.handlePause)
	mux.HandleFunc("POST /offload/resume", h.handleResume)
	mux.HandleFunc("POST /offload/cancel", h.handleCancel)
	mux.HandleFunc("POST /offload/reset", h.handleReset)
}

func (h *OffloadHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": h.manager.Status(),
		"active": h.manager.IsActive(),
	})
}

func (h *OffloadHandler) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress := h.manager.Progress()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"progress":                 progress,
		"progress_percent":         progress.ProgressPercent(),
		"estimated_time_remaining": progress.EstimatedTimeRemaining().Seconds(),
	})
}

func (h *OffloadHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	result, ok := h.manager.LastResult()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "no completed offload since last reset",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *OffloadHandler) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": h.manager.Nodes(),
	})
}

func (h *OffloadHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ok := h.manager.RefreshNodes(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]interface{}{"refreshed": ok})
}

func (h *OffloadHandler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID string `json:"node_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}
	if err := h.validator.ValidateNodeID(req.NodeID); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.manager.SelectTarget(req.NodeID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"selected": req.NodeID})
}

func (h *OffloadHandler) handleAutoSelect(w http.ResponseWriter, r *http.Request) {
	node, err := h.manager.AutoSelectTarget()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"selected": node.NodeID, "node": node})
}

func (h *OffloadHandler) handleClearTarget(w http.ResponseWriter, r *http.Request) {
	h.manager.ClearTarget()
	w.WriteHeader(http.StatusNoContent)
}

func (h *OffloadHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DataIDs []string `json:"data_ids"`
	}
	// Body is optional: an empty start offloads the engine-chosen payload
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.validator.ValidateDataIDs(req.DataIDs); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.manager.Start(r.Context(), req.DataIDs...); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": h.manager.Status()})
}

func (h *OffloadHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, h.manager.Pause())
}

func (h *OffloadHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, h.manager.Resume())
}

func (h *OffloadHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, h.manager.Cancel())
}

func (h *OffloadHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, h.manager.Reset())
}

func (h *OffloadHandler) lifecycle(w http.ResponseWriter, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": h.manager.Status()})
}

// writeError maps offload error codes onto HTTP statuses
func (h *OffloadHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeNodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeNodeUnavailable, errors.ErrCodeNoSuitableTarget:
		status = http.StatusServiceUnavailable
	case errors.ErrCodeNoTargetSelected, errors.ErrCodeInvalidTransition, errors.ErrCodePayloadTooSmall:
		status = http.StatusConflict
	case errors.ErrCodeInvalidArgument:
		status = http.StatusBadRequest
	}

	h.logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
