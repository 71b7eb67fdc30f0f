package cliclient

import (
	"context"
	"fmt"
	"net/url"
)

// ListPermits returns permits in the caller's scope, optionally filtered.
func (c *Client) ListPermits(ctx context.Context, status, typeID string) ([]Permit, error) {
	values := url.Values{}
	if status != "" {
		values.Set("status", status)
	}
	if typeID != "" {
		values.Set("type_id", typeID)
	}

	path := "/ptw/permits"
	if len(values) > 0 {
		path += "?" + values.Encode()
	}

	var permits []Permit
	_, err := c.Get(ctx, path, &permits)
	if err != nil {
		return nil, err
	}
	return permits, nil
}

// GetPermit returns a single permit by ID.
func (c *Client) GetPermit(ctx context.Context, id string) (*Permit, error) {
	var permit Permit
	_, err := c.Get(ctx, "/ptw/permits/"+id, &permit)
	if err != nil {
		return nil, err
	}
	return &permit, nil
}

// CreatePermit creates a new draft permit.
func (c *Client) CreatePermit(ctx context.Context, req CreatePermitRequest) (*Permit, error) {
	var permit Permit
	_, err := c.Post(ctx, "/ptw/permits", req, &permit)
	if err != nil {
		return nil, err
	}
	return &permit, nil
}

// TransitionPermit moves a permit to a new status.
func (c *Client) TransitionPermit(ctx context.Context, id string, req TransitionRequest) (*Permit, error) {
	var permit Permit
	_, err := c.Post(ctx, "/ptw/permits/"+id+"/transition", req, &permit)
	if err != nil {
		return nil, err
	}
	return &permit, nil
}

// AuditTrail returns the ordered audit trail for a permit.
func (c *Client) AuditTrail(ctx context.Context, id string) ([]AuditEntry, error) {
	var entries []AuditEntry
	_, err := c.Get(ctx, "/ptw/permits/"+id+"/audit", &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListPermitTypes returns the permit type catalog.
func (c *Client) ListPermitTypes(ctx context.Context) ([]PermitType, error) {
	var types []PermitType
	_, err := c.Get(ctx, "/ptw/permit-types", &types)
	if err != nil {
		return nil, err
	}
	return types, nil
}

// GetKPIs returns the permit dashboard counters.
func (c *Client) GetKPIs(ctx context.Context) (*KPIs, error) {
	var kpis KPIs
	_, err := c.Get(ctx, "/ptw/kpis", &kpis)
	if err != nil {
		return nil, err
	}
	return &kpis, nil
}

// ListOutboxEvents returns outbox events, optionally filtered by status (admin only).
func (c *Client) ListOutboxEvents(ctx context.Context, status string) ([]OutboxEvent, error) {
	path := "/ptw/admin/outbox"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var events []OutboxEvent
	_, err := c.Get(ctx, path, &events)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// RequeueOutboxEvent resets a failed outbox event for redelivery (admin only).
func (c *Client) RequeueOutboxEvent(ctx context.Context, id uint) error {
	_, err := c.Post(ctx, fmt.Sprintf("/ptw/admin/outbox/%d/requeue", id), nil, nil)
	return err
}

// ListWebhookEndpoints returns the registered webhook subscribers (admin only).
func (c *Client) ListWebhookEndpoints(ctx context.Context) ([]WebhookEndpoint, error) {
	var endpoints []WebhookEndpoint
	_, err := c.Get(ctx, "/ptw/admin/webhooks", &endpoints)
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}
