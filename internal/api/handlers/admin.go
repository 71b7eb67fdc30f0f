package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sitesafe/ptwcore/internal/api/middleware"
	"github.com/sitesafe/ptwcore/internal/crypto"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"gorm.io/gorm"
)

// AdminHandler serves tenant-admin endpoints: webhook endpoint management and
// outbox inspection.
type AdminHandler struct {
	db     *gorm.DB
	encKey []byte
}

// NewAdminHandler creates an AdminHandler. encKey encrypts webhook secrets at rest.
func NewAdminHandler(db *gorm.DB, encKey []byte) *AdminHandler {
	return &AdminHandler{db: db, encKey: encKey}
}

// WebhookEndpointRequest is the JSON body for registering a receiver.
type WebhookEndpointRequest struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required"`
	Secret string   `json:"secret" binding:"required"`
	Events []string `json:"events"`
	Active *bool    `json:"active"`
}

// CreateWebhookEndpoint godoc
// @Summary Register a webhook receiver for the tenant
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param endpoint body WebhookEndpointRequest true "Receiver"
// @Success 201 {object} models.WebhookEndpoint
// @Router /ptw/admin/webhooks [post]
func (h *AdminHandler) CreateWebhookEndpoint(c *gin.Context) {
	var req WebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)

	encrypted, err := crypto.EncryptField(req.Secret, h.encKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}
	endpoint := models.WebhookEndpoint{
		TenantID:        sc.TenantID,
		Name:            req.Name,
		URL:             req.URL,
		SecretEncrypted: encrypted,
		Events:          req.Events,
		Active:          true,
	}
	if req.Active != nil {
		endpoint.Active = *req.Active
	}
	if err := h.db.Create(&endpoint).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, endpoint)
}

// ListWebhookEndpoints godoc
// @Summary List the tenant's webhook receivers
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.WebhookEndpoint
// @Router /ptw/admin/webhooks [get]
func (h *AdminHandler) ListWebhookEndpoints(c *gin.Context) {
	sc := middleware.ScopeFromContext(c)
	var endpoints []models.WebhookEndpoint
	err := h.db.Where("tenant_id = ?", sc.TenantID).Order("created_at").Find(&endpoints).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}
	c.JSON(http.StatusOK, endpoints)
}

// UpdateWebhookEndpoint godoc
// @Summary Update a webhook receiver
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Endpoint ID"
// @Param endpoint body WebhookEndpointRequest true "Receiver"
// @Success 200 {object} models.WebhookEndpoint
// @Router /ptw/admin/webhooks/{id} [put]
func (h *AdminHandler) UpdateWebhookEndpoint(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req WebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	sc := middleware.ScopeFromContext(c)

	var endpoint models.WebhookEndpoint
	err := h.db.Where("tenant_id = ? AND id = ?", sc.TenantID, id).First(&endpoint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}

	endpoint.Name = req.Name
	endpoint.URL = req.URL
	endpoint.Events = req.Events
	if req.Active != nil {
		endpoint.Active = *req.Active
	}
	if req.Secret != "" {
		encrypted, err := crypto.EncryptField(req.Secret, h.encKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
			return
		}
		endpoint.SecretEncrypted = encrypted
	}
	if err := h.db.Save(&endpoint).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}
	c.JSON(http.StatusOK, endpoint)
}

// DeleteWebhookEndpoint godoc
// @Summary Remove a webhook receiver
// @Tags admin
// @Security BearerAuth
// @Param id path string true "Endpoint ID"
// @Success 204
// @Router /ptw/admin/webhooks/{id} [delete]
func (h *AdminHandler) DeleteWebhookEndpoint(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sc := middleware.ScopeFromContext(c)
	res := h.db.Where("tenant_id = ? AND id = ?", sc.TenantID, id).Delete(&models.WebhookEndpoint{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListOutboxEvents godoc
// @Summary Inspect outbox events, newest first
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param status query string false "Filter by delivery status"
// @Success 200 {array} models.OutboxEvent
// @Router /ptw/admin/outbox [get]
func (h *AdminHandler) ListOutboxEvents(c *gin.Context) {
	sc := middleware.ScopeFromContext(c)
	q := h.db.Where("tenant_id = ?", sc.TenantID)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	var events []models.OutboxEvent
	if err := q.Order("created_at DESC").Limit(100).Find(&events).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// RequeueOutboxEvent godoc
// @Summary Move a failed outbox event back to pending
// @Tags admin
// @Security BearerAuth
// @Param id path string true "Outbox event ID"
// @Success 204
// @Router /ptw/admin/outbox/{id}/requeue [post]
func (h *AdminHandler) RequeueOutboxEvent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid id"})
		return
	}

	sc := middleware.ScopeFromContext(c)
	var event models.OutboxEvent
	dberr := h.db.Where("tenant_id = ? AND id = ?", sc.TenantID, uint(id)).First(&event).Error
	if dberr != nil {
		if errors.Is(dberr, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}
	if err := outbox.Requeue(h.db, event.ID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "transition_error", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
