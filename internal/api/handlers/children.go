package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/api/middleware"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/service"
)

// GasReadingRequest is the JSON body for recording a gas measurement.
type GasReadingRequest struct {
	GasType    string    `json:"gas_type" binding:"required"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	MeasuredAt time.Time `json:"measured_at"`
}

// AddGasReading godoc
// @Summary Record a gas measurement on a permit
// @Tags permits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param reading body GasReadingRequest true "Measurement"
// @Success 201 {object} models.GasReading
// @Router /ptw/permits/{id}/gas-readings [post]
func (h *PermitHandler) AddGasReading(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req GasReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	reading, err := h.svc.AddGasReading(sc, id, service.GasReadingRequest{
		GasType:    req.GasType,
		Value:      req.Value,
		Unit:       req.Unit,
		MeasuredAt: req.MeasuredAt,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reading)
}

// WorkerRequest is the JSON body for attaching a worker.
type WorkerRequest struct {
	WorkerID      uuid.UUID `json:"worker_id" binding:"required"`
	Role          string    `json:"role"`
	TrainingValid bool      `json:"training_valid"`
	MedicalValid  bool      `json:"medical_valid"`
}

// AttachWorker godoc
// @Summary Attach a worker to a permit's crew
// @Tags permits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param worker body WorkerRequest true "Worker"
// @Success 201 {object} models.PermitWorker
// @Router /ptw/permits/{id}/workers [post]
func (h *PermitHandler) AttachWorker(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req WorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	worker, err := h.svc.AttachWorker(sc, id, service.WorkerRequest{
		WorkerID:      req.WorkerID,
		Role:          req.Role,
		TrainingValid: req.TrainingValid,
		MedicalValid:  req.MedicalValid,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, worker)
}

// DetachWorker godoc
// @Summary Remove a worker from a pre-activation permit
// @Tags permits
// @Security BearerAuth
// @Param id path string true "Permit ID"
// @Param worker_id path string true "Worker ID"
// @Success 204
// @Router /ptw/permits/{id}/workers/{worker_id} [delete]
func (h *PermitHandler) DetachWorker(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	workerID, err := uuid.Parse(c.Param("worker_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid worker_id"})
		return
	}
	sc := middleware.ScopeFromContext(c)
	if err := h.svc.DetachWorker(sc, id, workerID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HazardRequest is the JSON body for linking a hazard.
type HazardRequest struct {
	HazardRef    string `json:"hazard_ref" binding:"required"`
	Description  string `json:"description"`
	Controls     string `json:"controls"`
	ResidualRisk string `json:"residual_risk"`
}

// AddHazard godoc
// @Summary Link a hazard to a permit
// @Tags permits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param hazard body HazardRequest true "Hazard"
// @Success 201 {object} models.PermitHazard
// @Router /ptw/permits/{id}/hazards [post]
func (h *PermitHandler) AddHazard(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req HazardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	hazard, err := h.svc.AddHazard(sc, id, service.HazardRequest{
		HazardRef:    req.HazardRef,
		Description:  req.Description,
		Controls:     req.Controls,
		ResidualRisk: req.ResidualRisk,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hazard)
}

// ToolboxTalkRequest is the JSON body for recording a briefing.
type ToolboxTalkRequest struct {
	Topic       string      `json:"topic" binding:"required"`
	ConductedAt time.Time   `json:"conducted_at"`
	Notes       string      `json:"notes"`
	Attendees   []uuid.UUID `json:"attendees"`
}

// RecordToolboxTalk godoc
// @Summary Record a toolbox talk with attendee acknowledgments
// @Tags permits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param talk body ToolboxTalkRequest true "Briefing"
// @Success 201 {object} models.ToolboxTalk
// @Router /ptw/permits/{id}/toolbox-talks [post]
func (h *PermitHandler) RecordToolboxTalk(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ToolboxTalkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	talk, err := h.svc.RecordToolboxTalk(sc, id, service.ToolboxTalkRequest{
		Topic:       req.Topic,
		ConductedAt: req.ConductedAt,
		Notes:       req.Notes,
		Attendees:   req.Attendees,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, talk)
}

// ExtensionRequest is the JSON body for requesting a validity extension.
type ExtensionRequest struct {
	NewPlannedEnd time.Time `json:"new_planned_end" binding:"required"`
	Reason        string    `json:"reason"`
}

// RequestExtension godoc
// @Summary Request a validity extension on an active permit
// @Tags permits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param extension body ExtensionRequest true "Extension"
// @Success 201 {object} models.PermitExtension
// @Failure 422 {object} ErrorResponse
// @Router /ptw/permits/{id}/extensions [post]
func (h *PermitHandler) RequestExtension(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	ext, err := h.svc.RequestExtension(sc, id, service.ExtensionRequest{
		NewPlannedEnd: req.NewPlannedEnd,
		Reason:        req.Reason,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ext)
}

// ExtensionDecisionRequest is the JSON body for deciding an extension.
type ExtensionDecisionRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

// DecideExtension godoc
// @Summary Approve or reject a pending extension
// @Tags permits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param extension_id path string true "Extension ID"
// @Param decision body ExtensionDecisionRequest true "Decision"
// @Success 200 {object} models.PermitExtension
// @Router /ptw/permits/{id}/extensions/{extension_id}/decision [post]
func (h *PermitHandler) DecideExtension(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	extID, err := uuid.Parse(c.Param("extension_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid extension_id"})
		return
	}
	var req ExtensionDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	ext, err := h.svc.DecideExtension(sc, id, extID, req.Approve, req.Notes)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ext)
}

// GetCloseout godoc
// @Summary Fetch the permit's closeout record
// @Tags permits
// @Security BearerAuth
// @Produce json
// @Param id path string true "Permit ID"
// @Success 200 {object} models.PermitCloseout
// @Router /ptw/permits/{id}/closeout [get]
func (h *PermitHandler) GetCloseout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sc := middleware.ScopeFromContext(c)
	closeout, err := h.svc.GetCloseout(sc, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, closeout)
}

// CloseoutPatchRequest is the JSON body for updating closeout items.
type CloseoutPatchRequest struct {
	Items           models.JSONMap `json:"items"`
	ExpectedVersion int            `json:"expected_version"`
	Complete        bool           `json:"complete"`
}

// PatchCloseout godoc
// @Summary Update closeout items, optionally completing the closeout
// @Tags permits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param patch body CloseoutPatchRequest true "Item updates"
// @Success 200 {object} models.PermitCloseout
// @Failure 409 {object} ErrorResponse
// @Router /ptw/permits/{id}/closeout [patch]
func (h *PermitHandler) PatchCloseout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req CloseoutPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	closeout, err := h.svc.PatchCloseout(sc, id, service.CloseoutPatch{
		Items:           req.Items,
		ExpectedVersion: req.ExpectedVersion,
		Complete:        req.Complete,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, closeout)
}
