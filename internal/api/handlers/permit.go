package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/api/middleware"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/service"
)

// PermitHandler serves the permit aggregate endpoints.
type PermitHandler struct {
	svc *service.PermitService
}

// NewPermitHandler creates a PermitHandler.
func NewPermitHandler(svc *service.PermitService) *PermitHandler {
	return &PermitHandler{svc: svc}
}

// CreatePermitRequest is the JSON body for opening a draft permit.
type CreatePermitRequest struct {
	PermitTypeID     uuid.UUID      `json:"permit_type_id" binding:"required"`
	Title            string         `json:"title" binding:"required"`
	Description      string         `json:"description"`
	Location         string         `json:"location" binding:"required"`
	Priority         string         `json:"priority"`
	PlannedStart     time.Time      `json:"planned_start" binding:"required"`
	PlannedEnd       time.Time      `json:"planned_end" binding:"required"`
	Probability      int            `json:"probability"`
	Severity         int            `json:"severity"`
	PPERequirements  []string       `json:"ppe_requirements"`
	SafetyChecklist  models.JSONMap `json:"safety_checklist"`
	IsolationDetails string         `json:"isolation_details"`
	ComplianceStds   []string       `json:"compliance_standards"`
}

// Create godoc
// @Summary Open a new draft permit
// @Tags permits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param permit body CreatePermitRequest true "Permit details"
// @Success 201 {object} models.Permit
// @Failure 400 {object} ErrorResponse
// @Router /ptw/permits [post]
func (h *PermitHandler) Create(c *gin.Context) {
	var req CreatePermitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	permit, err := h.svc.Create(sc, service.CreateRequest{
		PermitTypeID:     req.PermitTypeID,
		Title:            req.Title,
		Description:      req.Description,
		Location:         req.Location,
		Priority:         req.Priority,
		PlannedStart:     req.PlannedStart,
		PlannedEnd:       req.PlannedEnd,
		Probability:      req.Probability,
		Severity:         req.Severity,
		PPERequirements:  req.PPERequirements,
		SafetyChecklist:  req.SafetyChecklist,
		IsolationDetails: req.IsolationDetails,
		ComplianceStds:   req.ComplianceStds,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, permit)
}

// PermitView decorates a stored permit with the computed read-model fields
// clients are not expected to derive themselves.
type PermitView struct {
	*models.Permit
	IsExpired     bool    `json:"is_expired"`
	DurationHours float64 `json:"duration_hours"`
}

func newPermitView(permit *models.Permit) PermitView {
	return PermitView{
		Permit:        permit,
		IsExpired:     permit.IsExpired(time.Now().UTC()),
		DurationHours: permit.DurationHours(),
	}
}

// Get godoc
// @Summary Fetch one permit with its owned collections
// @Tags permits
// @Security BearerAuth
// @Produce json
// @Param id path string true "Permit ID"
// @Success 200 {object} PermitView
// @Failure 404 {object} ErrorResponse
// @Router /ptw/permits/{id} [get]
func (h *PermitHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sc := middleware.ScopeFromContext(c)
	permit, err := h.svc.Get(sc, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPermitView(permit))
}

// List godoc
// @Summary List permits in scope
// @Tags permits
// @Security BearerAuth
// @Produce json
// @Param status query string false "Filter by status"
// @Param permit_type_id query string false "Filter by permit type"
// @Param overdue query bool false "Only active permits past planned end"
// @Success 200 {array} models.Permit
// @Router /ptw/permits [get]
func (h *PermitHandler) List(c *gin.Context) {
	sc := middleware.ScopeFromContext(c)
	filter := service.ListFilter{
		Status: models.PermitStatus(c.Query("status")),
	}
	if raw := c.Query("permit_type_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error",
				Message: "invalid permit_type_id"})
			return
		}
		filter.TypeID = id
	}
	filter.Overdue = c.Query("overdue") == "true"
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Offset = n
		}
	}

	permits, err := h.svc.List(sc, filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, permits)
}

// TransitionPermitRequest is the JSON body for a status change.
type TransitionPermitRequest struct {
	ToStatus        string     `json:"to_status" binding:"required"`
	Comments        string     `json:"comments"`
	DelegateID      *uuid.UUID `json:"delegate_id"`
	ExpectedVersion int        `json:"expected_version"`
}

// Transition godoc
// @Summary Move a permit to a new status
// @Tags permits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param transition body TransitionPermitRequest true "Target status"
// @Success 200 {object} models.Permit
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /ptw/permits/{id}/transition [post]
func (h *PermitHandler) Transition(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req TransitionPermitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	permit, err := h.svc.Transition(sc, service.TransitionRequest{
		PermitID:        id,
		ToStatus:        req.ToStatus,
		Comments:        req.Comments,
		DelegateID:      req.DelegateID,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, permit)
}

// AuditTrail godoc
// @Summary Fetch the permit's audit rows, oldest first
// @Tags permits
// @Security BearerAuth
// @Produce json
// @Param id path string true "Permit ID"
// @Success 200 {array} models.PermitAudit
// @Router /ptw/permits/{id}/audit [get]
func (h *PermitHandler) AuditTrail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sc := middleware.ScopeFromContext(c)
	rows, err := h.svc.AuditTrail(sc, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// KPIs godoc
// @Summary Aggregate permit counts for dashboards
// @Tags permits
// @Security BearerAuth
// @Produce json
// @Success 200 {object} service.KPIs
// @Router /ptw/kpis [get]
func (h *PermitHandler) KPIs(c *gin.Context) {
	sc := middleware.ScopeFromContext(c)
	kpis, err := h.svc.ComputeKPIs(sc)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, kpis)
}

// parseID parses the :id path parameter, answering 400 on garbage.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
