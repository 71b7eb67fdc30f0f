package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/config"
	"github.com/sitesafe/ptwcore/internal/metrics"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
)

// Scheduler expires overrun permits and escalates stalled approvals.
type Scheduler struct {
	db     *gorm.DB
	logger *slog.Logger

	expiryInterval     time.Duration
	escalationInterval time.Duration
	systemActor        uuid.UUID
}

// NewScheduler creates a scheduler. systemActor is the identity recorded on
// audit rows written by background jobs.
func NewScheduler(db *gorm.DB, cfg config.SchedulerConfig, systemActor uuid.UUID, logger *slog.Logger) *Scheduler {
	expiry := time.Duration(cfg.ExpiryInterval) * time.Second
	if expiry <= 0 {
		expiry = time.Minute
	}
	escalation := time.Duration(cfg.EscalationInterval) * time.Second
	if escalation <= 0 {
		escalation = 5 * time.Minute
	}
	return &Scheduler{
		db:                 db,
		logger:             logger,
		expiryInterval:     expiry,
		escalationInterval: escalation,
		systemActor:        systemActor,
	}
}

// Start runs both scan loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		"expiry_interval", s.expiryInterval,
		"escalation_interval", s.escalationInterval)

	expiryTicker := time.NewTicker(s.expiryInterval)
	defer expiryTicker.Stop()
	escalationTicker := time.NewTicker(s.escalationInterval)
	defer escalationTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-expiryTicker.C:
			if n, err := s.ExpireOverdue(time.Now().UTC()); err != nil {
				s.logger.Error("Expiry scan failed", "error", err)
			} else if n > 0 {
				s.logger.Info("Expired overdue permits", "count", n)
			}
		case <-escalationTicker.C:
			if n, err := s.EscalateStalled(time.Now().UTC()); err != nil {
				s.logger.Error("Escalation scan failed", "error", err)
			} else if n > 0 {
				s.logger.Info("Escalated stalled permits", "count", n)
			}
		}
	}
}

// ExpireOverdue expires two classes of permit: active ones whose planned end
// has passed, and approved ones never issued within the activation grace
// window. Each row is taken with an optimistic update, so a concurrent user
// transition wins and the scan simply skips that permit.
func (s *Scheduler) ExpireOverdue(now time.Time) (int, error) {
	var candidates []models.Permit
	err := s.db.
		Where("status = ? AND planned_end < ?", models.StatusActive, now).
		Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("scan overdue active permits: %w", err)
	}

	var approved []models.Permit
	err = s.db.
		Where("status = ?", models.StatusApproved).
		Find(&approved).Error
	if err != nil {
		return 0, fmt.Errorf("scan approved permits: %w", err)
	}
	graceByTenant := map[uuid.UUID]time.Duration{}
	for _, p := range approved {
		grace, ok := graceByTenant[p.TenantID]
		if !ok {
			grace = s.activationGrace(p.TenantID)
			graceByTenant[p.TenantID] = grace
		}
		if now.After(p.PlannedStart.Add(grace)) {
			candidates = append(candidates, p)
		}
	}

	expired := 0
	for i := range candidates {
		p := candidates[i]
		err := s.expireOne(&p, now)
		if err != nil {
			s.logger.Warn("Failed to expire permit",
				"permit_id", p.ID, "permit_number", p.PermitNumber, "error", err)
			continue
		}
		expired++
		metrics.ExpiredPermits.Inc()
	}
	return expired, nil
}

func (s *Scheduler) activationGrace(tenantID uuid.UUID) time.Duration {
	var policy models.TenantPolicy
	if err := s.db.Where("tenant_id = ?", tenantID).First(&policy).Error; err != nil {
		return 4 * time.Hour
	}
	if policy.ActivationGraceHours <= 0 {
		return 4 * time.Hour
	}
	return time.Duration(policy.ActivationGraceHours) * time.Hour
}

func (s *Scheduler) expireOne(p *models.Permit, now time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Permit{}).
			Where("id = ? AND version = ? AND status = ?", p.ID, p.Version, p.Status).
			Updates(map[string]any{
				"status":  models.StatusExpired,
				"version": p.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to a user transition; nothing to do.
			return nil
		}

		sc := s.systemScope(p)
		before := models.JSONMap{"status": string(p.Status), "version": p.Version}
		after := models.JSONMap{"status": string(models.StatusExpired), "version": p.Version + 1}
		if err := outbox.AppendAudit(tx, sc, p.ID, "permit.expire", before, after); err != nil {
			return err
		}

		from := p.Status
		p.Status = models.StatusExpired
		p.Version++
		payload := outbox.Envelope(sc, p, outbox.EventPermitTransitioned, map[string]any{
			"from_status": string(from),
			"to_status":   string(models.StatusExpired),
			"action":      "expire",
		})
		return outbox.Enqueue(tx, sc, p.ID, outbox.EventPermitTransitioned, payload)
	})
}

// EscalateStalled records an escalated approval row for permits that have sat
// in a verification or approval state past the type's escalation window. One
// escalation per permit per stall: a second scan skips permits whose latest
// approval row is already an escalation.
func (s *Scheduler) EscalateStalled(now time.Time) (int, error) {
	var candidates []models.Permit
	err := s.db.
		Where("status IN ?", []models.PermitStatus{
			models.StatusPendingVerification, models.StatusUnderReview, models.StatusPendingApproval,
		}).
		Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("scan pending permits: %w", err)
	}

	escalated := 0
	for i := range candidates {
		p := candidates[i]
		var pt models.PermitType
		if err := s.db.First(&pt, "id = ?", p.PermitTypeID).Error; err != nil {
			continue
		}
		window := time.Duration(pt.EscalationTimeHours) * time.Hour
		if window <= 0 || now.Before(p.UpdatedAt.Add(window)) {
			continue
		}

		var latest models.PermitApproval
		err := s.db.Where("permit_id = ?", p.ID).Order("created_at DESC").First(&latest).Error
		if err == nil && latest.Decision == models.DecisionEscalated && latest.CreatedAt.After(p.UpdatedAt) {
			continue
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			row := models.PermitApproval{
				TenantID: p.TenantID,
				PermitID: p.ID,
				Level:    p.CurrentApprovalLevel + 1,
				Decision: models.DecisionEscalated,
				ActorID:  s.systemActor,
				Comments: fmt.Sprintf("no decision within %s", window),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			sc := s.systemScope(&p)
			after := models.JSONMap{"escalated_at": now.Format(time.RFC3339), "status": string(p.Status)}
			return outbox.AppendAudit(tx, sc, p.ID, "permit.escalated", models.JSONMap{}, after)
		})
		if err != nil {
			s.logger.Warn("Failed to escalate permit", "permit_id", p.ID, "error", err)
			continue
		}
		escalated++
	}
	return escalated, nil
}

// systemScope builds the audit scope for background mutations of a permit.
func (s *Scheduler) systemScope(p *models.Permit) scope.Scope {
	return scope.Scope{
		TenantID:      p.TenantID,
		ProjectID:     p.ProjectID,
		ActorID:       s.systemActor,
		Role:          "system",
		CorrelationID: uuid.New(),
	}
}
