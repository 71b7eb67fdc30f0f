package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitesafe/ptwcore/internal/api/middleware"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/registry"
)

// PermitTypeHandler serves the permit-type registry endpoints.
type PermitTypeHandler struct {
	registry *registry.Registry
}

// NewPermitTypeHandler creates a PermitTypeHandler.
func NewPermitTypeHandler(reg *registry.Registry) *PermitTypeHandler {
	return &PermitTypeHandler{registry: reg}
}

// List godoc
// @Summary List active permit types
// @Tags permit-types
// @Security BearerAuth
// @Produce json
// @Param category query string false "Filter by category"
// @Param risk_level query string false "Filter by risk level"
// @Success 200 {array} models.PermitType
// @Router /ptw/permit-types [get]
func (h *PermitTypeHandler) List(c *gin.Context) {
	sc := middleware.ScopeFromContext(c)
	types, err := h.registry.List(sc, c.Query("category"), models.RiskLevel(c.Query("risk_level")))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, types)
}

// Get godoc
// @Summary Fetch one permit type
// @Tags permit-types
// @Security BearerAuth
// @Produce json
// @Param id path string true "Permit type ID"
// @Success 200 {object} models.PermitType
// @Failure 404 {object} ErrorResponse
// @Router /ptw/permit-types/{id} [get]
func (h *PermitTypeHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sc := middleware.ScopeFromContext(c)
	pt, err := h.registry.Get(sc, id)
	if err != nil {
		if err == registry.ErrTypeNotFound {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found"})
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, pt)
}

// ResolveTemplate godoc
// @Summary Resolve the form template with project overrides applied
// @Tags permit-types
// @Security BearerAuth
// @Produce json
// @Param id path string true "Permit type ID"
// @Success 200 {object} models.JSONMap
// @Router /ptw/permit-types/{id}/template [get]
func (h *PermitTypeHandler) ResolveTemplate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sc := middleware.ScopeFromContext(c)
	template, err := h.registry.ResolveTemplate(sc, id)
	if err != nil {
		if err == registry.ErrTypeNotFound {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found"})
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}
