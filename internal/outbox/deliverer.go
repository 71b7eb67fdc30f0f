package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sitesafe/ptwcore/internal/config"
	"github.com/sitesafe/ptwcore/internal/crypto"
	"github.com/sitesafe/ptwcore/internal/metrics"
	"github.com/sitesafe/ptwcore/internal/models"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const responseExcerptLimit = 512

// Deliverer posts claimed outbox events to configured webhook endpoints.
// Multiple instances can run concurrently: rows are claimed with a
// conditional update keyed on next_attempt_time, so no two workers ever hold
// the same row.
type Deliverer struct {
	db       *gorm.DB
	client   *http.Client
	limiter  *rate.Limiter
	cfg      config.WebhookConfig
	encKey   []byte
	serverID string
}

// NewDeliverer creates a deliverer. encKey decrypts endpoint shared secrets.
func NewDeliverer(db *gorm.DB, cfg config.WebhookConfig, encKey []byte, serverID string) *Deliverer {
	return &Deliverer{
		db:       db,
		client:   &http.Client{Timeout: time.Duration(cfg.RequestTimeout) * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cfg:      cfg,
		encKey:   encKey,
		serverID: serverID,
	}
}

// ClaimDue claims up to limit pending events whose next attempt is due.
// Claiming pushes next_attempt_time far out, so a crashed worker's rows
// become reclaimable once that horizon passes.
func (d *Deliverer) ClaimDue(limit int) ([]models.OutboxEvent, error) {
	now := time.Now().UTC()
	claimHorizon := now.Add(10 * time.Minute)

	var due []models.OutboxEvent
	err := d.db.
		Where("status = ? AND next_attempt_time <= ?", models.OutboxPending, now).
		Order("next_attempt_time").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}

	claimed := make([]models.OutboxEvent, 0, len(due))
	for _, ev := range due {
		res := d.db.Model(&models.OutboxEvent{}).
			Where("id = ? AND status = ? AND next_attempt_time <= ?", ev.ID, models.OutboxPending, now).
			Updates(map[string]any{
				"claimed_by":        d.serverID,
				"next_attempt_time": claimHorizon,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim outbox row: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Another worker got there first.
			continue
		}
		ev.ClaimedBy = d.serverID
		ev.NextAttemptTime = claimHorizon
		claimed = append(claimed, ev)
	}
	return claimed, nil
}

// Deliver posts one event to every active endpoint subscribed to it, then
// advances the event row to sent, failed, or a retried pending state.
func (d *Deliverer) Deliver(ctx context.Context, ev *models.OutboxEvent) error {
	var endpoints []models.WebhookEndpoint
	err := d.db.Where("tenant_id = ? AND active = ?", ev.TenantID, true).Find(&endpoints).Error
	if err != nil {
		return fmt.Errorf("load endpoints: %w", err)
	}

	var deliveryErr error
	delivered := 0
	for i := range endpoints {
		ep := &endpoints[i]
		if !subscribed(ep, ev.Event) {
			continue
		}
		if already, err := d.alreadyDelivered(ep, ev); err != nil {
			return err
		} else if already {
			delivered++
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := d.post(ctx, ep, ev); err != nil {
			deliveryErr = err
			continue
		}
		delivered++
	}

	attempt := ev.AttemptCount + 1
	switch {
	case deliveryErr == nil:
		return d.markSent(ev, attempt)
	case attempt >= d.cfg.MaxAttempts:
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		return d.markFailed(ev, attempt, deliveryErr)
	default:
		return d.scheduleRetry(ev, attempt, deliveryErr)
	}
}

func subscribed(ep *models.WebhookEndpoint, event string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	return ep.Events.Contains(event)
}

// alreadyDelivered consults the per-endpoint dedupe record so retries never
// re-post an event a receiver has already accepted.
func (d *Deliverer) alreadyDelivered(ep *models.WebhookEndpoint, ev *models.OutboxEvent) (bool, error) {
	var delivery models.WebhookDelivery
	err := d.db.Where(
		"endpoint_id = ? AND event = ? AND permit_id = ? AND correlation_id = ? AND succeeded = ?",
		ep.ID, ev.Event, ev.PermitID, ev.CorrelationID, true,
	).First(&delivery).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("check delivery dedupe: %w", err)
}

func (d *Deliverer) post(ctx context.Context, ep *models.WebhookEndpoint, ev *models.OutboxEvent) error {
	secret, err := crypto.DecryptField(ep.SecretEncrypted, d.encKey)
	if err != nil {
		return fmt.Errorf("decrypt endpoint secret: %w", err)
	}

	body := []byte(ev.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(d.cfg.SignatureHeader, Sign(body, secret))

	delivery := models.WebhookDelivery{
		TenantID:      ev.TenantID,
		EndpointID:    ep.ID,
		OutboxID:      ev.ID,
		Event:         ev.Event,
		PermitID:      ev.PermitID,
		CorrelationID: ev.CorrelationID,
	}

	resp, err := d.client.Do(req)
	if err != nil {
		delivery.Error = err.Error()
		d.recordDelivery(&delivery, ep, err.Error())
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return fmt.Errorf("post to %s: %w", ep.URL, err)
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, responseExcerptLimit))
	delivery.ResponseCode = resp.StatusCode
	delivery.ResponseBodyExcerpt = string(excerpt)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("endpoint returned %d", resp.StatusCode)
		delivery.Error = msg
		d.recordDelivery(&delivery, ep, msg)
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("post to %s: status %d", ep.URL, resp.StatusCode)
	}

	delivery.Succeeded = true
	d.recordDelivery(&delivery, ep, "")
	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	return nil
}

func (d *Deliverer) recordDelivery(delivery *models.WebhookDelivery, ep *models.WebhookEndpoint, lastError string) {
	if err := d.db.Create(delivery).Error; err != nil {
		// A unique-index collision means a concurrent retry already recorded
		// this delivery; anything else is logged and retried next round.
		slog.Warn("record webhook delivery", "endpoint", ep.ID, "error", err)
	}
	if lastError != ep.LastError {
		d.db.Model(ep).Update("last_error", lastError)
	}
}

func (d *Deliverer) markSent(ev *models.OutboxEvent, attempt int) error {
	return d.db.Model(ev).Updates(map[string]any{
		"status":        models.OutboxSent,
		"attempt_count": attempt,
		"claimed_by":    "",
		"last_error":    "",
	}).Error
}

func (d *Deliverer) markFailed(ev *models.OutboxEvent, attempt int, cause error) error {
	return d.db.Model(ev).Updates(map[string]any{
		"status":        models.OutboxFailed,
		"attempt_count": attempt,
		"claimed_by":    "",
		"last_error":    cause.Error(),
	}).Error
}

// scheduleRetry applies exponential backoff capped at the configured ceiling.
func (d *Deliverer) scheduleRetry(ev *models.OutboxEvent, attempt int, cause error) error {
	backoff := time.Duration(d.cfg.InitialBackoff) * time.Second
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Duration(d.cfg.MaxBackoff)*time.Second {
			backoff = time.Duration(d.cfg.MaxBackoff) * time.Second
			break
		}
	}
	return d.db.Model(ev).Updates(map[string]any{
		"status":            models.OutboxPending,
		"attempt_count":     attempt,
		"claimed_by":        "",
		"next_attempt_time": time.Now().UTC().Add(backoff),
		"last_error":        cause.Error(),
	}).Error
}

// Requeue moves a failed event back to pending for immediate retry. Exposed
// to the admin API.
func Requeue(db *gorm.DB, id uint) error {
	res := db.Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, models.OutboxFailed).
		Updates(map[string]any{
			"status":            models.OutboxPending,
			"attempt_count":     0,
			"next_attempt_time": time.Now().UTC(),
			"last_error":        "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
