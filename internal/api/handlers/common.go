package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitesafe/ptwcore/internal/scope"
	"github.com/sitesafe/ptwcore/internal/service"
)

// ErrorResponse is the uniform error body. Error carries the machine-readable
// category; Details is category-specific.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// respondServiceError maps service-layer errors onto wire categories and
// status codes.
func respondServiceError(c *gin.Context, err error) {
	var validation *service.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: validation.Message,
			Details: validation.Fields,
		})
		return
	}

	var scopeErr *service.ScopeError
	if errors.As(err, &scopeErr) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "scope_error",
			Message: scopeErr.Reason,
		})
		return
	}

	var collab *service.CollaborationDeniedError
	if errors.As(err, &collab) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "collaboration_denied",
			Message: "cross-tenant scope permits reads only",
		})
		return
	}

	if errors.Is(err, service.ErrNotFound) {
		// Out-of-scope rows answer exactly like missing rows.
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found"})
		return
	}

	var transition *service.TransitionError
	if errors.As(err, &transition) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "transition_error",
			Message: transition.Error(),
			Details: gin.H{"from": transition.From, "to": transition.To},
		})
		return
	}

	var conflict *service.VersionConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "version_conflict",
			Message: conflict.Error(),
			Details: gin.H{
				"server_version": conflict.ServerVersion,
				"fields":         conflict.Fields,
			},
		})
		return
	}

	var unmet *service.RequirementsError
	if errors.As(err, &unmet) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "requirements_error",
			Message: unmet.Error(),
			Details: gin.H{"action": unmet.Action, "unmet": unmet.Unmet},
		})
		return
	}

	var limit *service.ExtensionLimitError
	if errors.As(err, &limit) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "extension_limit_exceeded",
			Message: limit.Error(),
			Details: gin.H{"max_validity_extensions": limit.Max},
		})
		return
	}

	if errors.Is(err, scope.ErrCrossTenantWriteDenied) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "collaboration_denied",
			Message: "cross-tenant scope permits reads only",
		})
		return
	}
	if errors.Is(err, scope.ErrMissingTenant) || errors.Is(err, scope.ErrMissingProject) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "scope_error", Message: err.Error()})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
}
