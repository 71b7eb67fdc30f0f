package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitesafe/ptwcore/internal/api/middleware"
	"github.com/sitesafe/ptwcore/internal/offline"
)

// SyncHandler serves the offline reconciliation endpoint.
type SyncHandler struct {
	reconciler *offline.Reconciler
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(r *offline.Reconciler) *SyncHandler {
	return &SyncHandler{reconciler: r}
}

// Apply godoc
// @Summary Apply a device's offline change batch
// @Tags sync
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param batch body offline.Batch true "Offline changes"
// @Success 200 {object} offline.Response
// @Failure 400 {object} ErrorResponse
// @Router /ptw/sync [post]
func (h *SyncHandler) Apply(c *gin.Context) {
	var batch offline.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)
	resp, err := h.reconciler.Apply(sc, batch)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
