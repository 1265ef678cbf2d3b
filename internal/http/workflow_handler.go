package httpapi

import (
	"errors"
	"net/http"

	"hotel-ops/internal/engine"
	"hotel-ops/internal/ledger"
	"hotel-ops/internal/livesync"
	"hotel-ops/internal/models"
	"hotel-ops/internal/repository"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20 // 1MB

// WorkflowHandler 工作流 API Handler
// 认证在网关层完成：tenant_id 从 X-Tenant-Id 头取，操作人信息在请求体里
type WorkflowHandler struct {
	machine *engine.StateMachine
	ledger  *ledger.AuditLedger
	store   repository.EntityStore
	board   *livesync.Board
	logger  *zap.Logger
}

// NewWorkflowHandler 创建工作流 Handler
func NewWorkflowHandler(
	machine *engine.StateMachine,
	auditLedger *ledger.AuditLedger,
	store repository.EntityStore,
	board *livesync.Board,
	logger *zap.Logger,
) *WorkflowHandler {
	return &WorkflowHandler{
		machine: machine,
		ledger:  auditLedger,
		store:   store,
		board:   board,
		logger:  logger,
	}
}

// actorBody 请求体中的操作人信息
type actorBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (a actorBody) toActor() models.Actor {
	return models.Actor{ID: a.ID, Name: a.Name, Role: a.Role}
}

func (h *WorkflowHandler) tenantIDFromReq(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.Header.Get("X-Tenant-Id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("missing X-Tenant-Id header"))
		return "", false
	}
	return tenantID, true
}

// writeEngineError 把引擎错误映射为 HTTP 状态码
// NotFound→404, IllegalTransition/Conflict→409, MissingRequiredNote→422,
// AuditWriteFailed→500, 其余校验错误→400
func (h *WorkflowHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
	case errors.Is(err, engine.ErrIllegalTransition), errors.Is(err, engine.ErrConflict):
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
	case errors.Is(err, engine.ErrMissingRequiredNote):
		writeJSON(w, http.StatusUnprocessableEntity, Fail(err.Error()))
	case errors.Is(err, engine.ErrAuditWriteFailed):
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
	default:
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
	}
}

// Transition POST /ops/api/v1/entities/{id}/transition
func (h *WorkflowHandler) Transition(w http.ResponseWriter, r *http.Request, entityID string) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		ToState       string    `json:"to_state"`
		Actor         actorBody `json:"actor"`
		Notes         string    `json:"notes"`
		CorrelationID string    `json:"correlation_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	entity, err := h.machine.RequestTransition(r.Context(), tenantID, engine.TransitionRequest{
		EntityID:      entityID,
		ToState:       body.ToState,
		Actor:         body.Actor.toActor(),
		Notes:         body.Notes,
		CorrelationID: body.CorrelationID,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(entity))
}

// SendToMaintenance POST /ops/api/v1/entities/{id}/maintenance
func (h *WorkflowHandler) SendToMaintenance(w http.ResponseWriter, r *http.Request, entityID string) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		Actor         actorBody `json:"actor"`
		Notes         string    `json:"notes"`
		CorrelationID string    `json:"correlation_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	entity, err := h.machine.SendToMaintenance(r.Context(), tenantID, entityID, body.Actor.toActor(), body.Notes, body.CorrelationID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(entity))
}

// CompleteMaintenance POST /ops/api/v1/entities/{id}/maintenance/complete
func (h *WorkflowHandler) CompleteMaintenance(w http.ResponseWriter, r *http.Request, entityID string) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		Actor         actorBody `json:"actor"`
		Notes         string    `json:"notes"`
		CorrelationID string    `json:"correlation_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	entity, err := h.machine.CompleteMaintenance(r.Context(), tenantID, entityID, body.Actor.toActor(), body.Notes, body.CorrelationID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(entity))
}

// Retire POST /ops/api/v1/assets/{id}/retire
func (h *WorkflowHandler) Retire(w http.ResponseWriter, r *http.Request, assetID string) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason        string    `json:"reason"`
		Actor         actorBody `json:"actor"`
		CorrelationID string    `json:"correlation_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	entity, err := h.machine.Retire(r.Context(), tenantID, assetID, body.Reason, body.Actor.toActor(), body.CorrelationID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(entity))
}

// Transfer POST /ops/api/v1/assets/{id}/transfer
func (h *WorkflowHandler) Transfer(w http.ResponseWriter, r *http.Request, assetID string) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		FromRoomID    string    `json:"from_room_id"`
		ToRoomID      string    `json:"to_room_id"`
		Reason        string    `json:"reason"`
		Actor         actorBody `json:"actor"`
		CorrelationID string    `json:"correlation_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	entity, err := h.machine.Transfer(r.Context(), tenantID, assetID, body.FromRoomID, body.ToRoomID, body.Actor.toActor(), body.Reason, body.CorrelationID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(entity))
}

// CreateRoom POST /ops/api/v1/rooms
func (h *WorkflowHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		Name          string    `json:"name"`
		Actor         actorBody `json:"actor"`
		CorrelationID string    `json:"correlation_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	entity, err := h.machine.CreateRoom(r.Context(), tenantID, engine.CreateRoomParams{
		Name:          body.Name,
		Actor:         body.Actor.toActor(),
		CorrelationID: body.CorrelationID,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(entity))
}

// CreateAsset POST /ops/api/v1/assets
func (h *WorkflowHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		Name          string    `json:"name"`
		RoomID        *string   `json:"room_id,omitempty"`
		Actor         actorBody `json:"actor"`
		CorrelationID string    `json:"correlation_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	entity, err := h.machine.CreateAsset(r.Context(), tenantID, engine.CreateAssetParams{
		Name:          body.Name,
		RoomID:        body.RoomID,
		Actor:         body.Actor.toActor(),
		CorrelationID: body.CorrelationID,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(entity))
}

// CreateRequest POST /ops/api/v1/requests
func (h *WorkflowHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	var body struct {
		Name          string    `json:"name"`
		Category      string    `json:"category"`
		Priority      string    `json:"priority"`
		TargetID      *string   `json:"target_id,omitempty"`
		RoomID        *string   `json:"room_id,omitempty"`
		AssigneeID    *string   `json:"assignee_id,omitempty"`
		Notes         string    `json:"notes"`
		Actor         actorBody `json:"actor"`
		CorrelationID string    `json:"correlation_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	entity, err := h.machine.CreateRequest(r.Context(), tenantID, engine.CreateRequestParams{
		Name:          body.Name,
		Category:      body.Category,
		Priority:      body.Priority,
		TargetID:      body.TargetID,
		RoomID:        body.RoomID,
		AssigneeID:    body.AssigneeID,
		Notes:         body.Notes,
		Actor:         body.Actor.toActor(),
		CorrelationID: body.CorrelationID,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(entity))
}

// GetEntity GET /ops/api/v1/entities/{id}
func (h *WorkflowHandler) GetEntity(w http.ResponseWriter, r *http.Request, entityID string) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	entity, err := h.store.GetEntity(r.Context(), tenantID, entityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("entity not found"))
			return
		}
		h.logger.Error("Failed to get entity",
			zap.String("tenant_id", tenantID),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(entity))
}

// ListEntities GET /ops/api/v1/entities?kind=room
func (h *WorkflowHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	kind := r.URL.Query().Get("kind")
	entities, err := h.store.ListEntities(r.Context(), tenantID, kind)
	if err != nil {
		h.logger.Error("Failed to list entities",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(entities))
}

// historyResult 历史查询响应
type historyResult struct {
	Items []*models.HistoryEntry `json:"items"`
	Total int                    `json:"total"`
	Page  int                    `json:"page"`
	Size  int                    `json:"size"`
}

// ListHistory GET /ops/api/v1/entities/{id}/history?page=1&size=20
func (h *WorkflowHandler) ListHistory(w http.ResponseWriter, r *http.Request, entityID string) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("size"), 20)

	entries, total, err := h.ledger.ListEntityHistory(r.Context(), tenantID, entityID, page, size)
	if err != nil {
		h.logger.Error("Failed to list history",
			zap.String("tenant_id", tenantID),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(historyResult{
		Items: entries,
		Total: total,
		Page:  page,
		Size:  size,
	}))
}

// LegalTransitions GET /ops/api/v1/entities/{id}/legal-transitions?role=housekeeper
func (h *WorkflowHandler) LegalTransitions(w http.ResponseWriter, r *http.Request, entityID string) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	role := r.URL.Query().Get("role")
	if role == "" {
		writeJSON(w, http.StatusBadRequest, Fail("missing role query parameter"))
		return
	}

	targets, err := h.machine.LegalTransitions(r.Context(), tenantID, entityID, role)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(targets))
}

// LiveBoard GET /ops/api/v1/live/board
func (h *WorkflowHandler) LiveBoard(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantIDFromReq(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, Ok(h.board.List(tenantID)))
}
