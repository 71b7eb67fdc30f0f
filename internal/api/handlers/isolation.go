package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/api/middleware"
	"github.com/sitesafe/ptwcore/internal/isolation"
	"github.com/sitesafe/ptwcore/internal/models"
)

// AssignIsolationPointRequest is the JSON body for adding a point.
type AssignIsolationPointRequest struct {
	LibraryPointID *uuid.UUID `json:"library_point_id"`
	Tag            string     `json:"tag"`
	PointType      string     `json:"point_type"`
	EnergyType     string     `json:"energy_type"`
	Required       *bool      `json:"required"`
	LockCount      *int       `json:"lock_count"`
	Notes          string     `json:"notes"`
}

// AssignIsolationPoint godoc
// @Summary Assign an isolation point to a permit
// @Tags isolation
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param point body AssignIsolationPointRequest true "Point"
// @Success 201 {object} models.PermitIsolationPoint
// @Router /ptw/permits/{id}/isolation-points [post]
func (h *PermitHandler) AssignIsolationPoint(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req AssignIsolationPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	point, err := h.svc.AssignIsolationPoint(sc, id, isolation.AssignRequest{
		LibraryPointID: req.LibraryPointID,
		Tag:            req.Tag,
		PointType:      req.PointType,
		EnergyType:     req.EnergyType,
		Required:       req.Required,
		LockCount:      req.LockCount,
		Notes:          req.Notes,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, point)
}

// IsolationTransitionRequest is the JSON body for advancing a point.
type IsolationTransitionRequest struct {
	Status    string   `json:"status" binding:"required"`
	LockCount *int     `json:"lock_count"`
	LockIDs   []string `json:"lock_ids"`
	Notes     string   `json:"notes"`
}

// TransitionIsolationPoint godoc
// @Summary Advance an isolation point's lifecycle
// @Tags isolation
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param point_id path string true "Isolation point ID"
// @Param transition body IsolationTransitionRequest true "Target status"
// @Success 200 {object} models.PermitIsolationPoint
// @Failure 409 {object} ErrorResponse
// @Router /ptw/permits/{id}/isolation-points/{point_id}/transition [post]
func (h *PermitHandler) TransitionIsolationPoint(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	pointID, err := uuid.Parse(c.Param("point_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid point_id"})
		return
	}
	var req IsolationTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	point, err := h.svc.TransitionIsolationPoint(sc, id, pointID, isolation.TransitionRequest{
		Target:    models.IsolationStatus(req.Status),
		LockCount: req.LockCount,
		LockIDs:   req.LockIDs,
		Notes:     req.Notes,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, point)
}

// IsolationStatus godoc
// @Summary Fetch a permit's isolation points and aggregate posture
// @Tags isolation
// @Security BearerAuth
// @Produce json
// @Param id path string true "Permit ID"
// @Success 200 {object} map[string]any
// @Router /ptw/permits/{id}/isolation-points [get]
func (h *PermitHandler) IsolationStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sc := middleware.ScopeFromContext(c)
	points, stats, err := h.svc.IsolationStatus(sc, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points, "stats": stats})
}
