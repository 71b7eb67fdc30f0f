// Package offline reconciles batches of changes recorded by field devices
// while disconnected. Each change is applied in its own transaction; the
// (tenant, device, offline_id, entity) tuple makes re-sent batches idempotent.
package offline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/isolation"
	"github.com/sitesafe/ptwcore/internal/metrics"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"github.com/sitesafe/ptwcore/internal/scope"
	"github.com/sitesafe/ptwcore/internal/service"
	"gorm.io/gorm"
)

// Change entities accepted in a sync batch.
const (
	EntityPermit     = "permit"
	EntityStatus     = "permit_status"
	EntityGasReading = "gas_reading"
	EntityIsolation  = "isolation_point"
	EntityPhoto      = "permit_photo"
	EntityCloseout   = "closeout"
)

// Change is one device-recorded mutation. ClientVersion is the entity version
// the device last saw; it is mandatory for versioned updates (permit, status,
// closeout) and ignored for append-only entities.
type Change struct {
	OfflineID     string         `json:"offline_id"`
	Entity        string         `json:"entity"`
	EntityID      uuid.UUID      `json:"entity_id"`
	ClientVersion *int           `json:"client_version,omitempty"`
	Fields        models.JSONMap `json:"fields"`
	RecordedAt    time.Time      `json:"recorded_at"`
}

// Batch is one device's accumulated changes.
type Batch struct {
	DeviceID string   `json:"device_id"`
	Changes  []Change `json:"changes"`
}

// Verdicts per change.
const (
	VerdictApplied  = "applied"
	VerdictConflict = "conflict"
	VerdictRejected = "rejected"
)

// Conflict reasons. Stale and missing client versions ask the device to
// merge and retry; an invalid transition or isolation regression asks it to
// fast-forward its local state first.
const (
	ReasonStaleVersion         = "stale_version"
	ReasonMissingClientVersion = "missing_client_version"
	ReasonInvalidTransition    = "invalid_transition"
	ReasonStatusRegression     = "status_regression"
)

// Result echoes one change's outcome. Applied changes report the resulting
// server version; replays additionally set AlreadyApplied. Conflicts echo the
// device's version and carry per-field merge hints.
type Result struct {
	OfflineID      string         `json:"offline_id"`
	Verdict        string         `json:"verdict"`
	AlreadyApplied bool           `json:"already_applied,omitempty"`
	ServerID       uuid.UUID      `json:"server_id,omitempty"`
	ClientVersion  int            `json:"client_version,omitempty"`
	ServerVersion  int            `json:"server_version,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	MergeHints     map[string]any `json:"merge_hints,omitempty"`
}

// Response groups results by verdict, each list in batch order.
type Response struct {
	Applied   []Result `json:"applied"`
	Conflicts []Result `json:"conflicts"`
	Rejected  []Result `json:"rejected"`
}

// Reconciler applies offline batches against current server state.
type Reconciler struct {
	db       *gorm.DB
	svc      *service.PermitService
	serverID uuid.UUID
	log      *slog.Logger
}

// New creates a Reconciler. serverID identifies this node in dedup records.
func New(db *gorm.DB, svc *service.PermitService, serverID uuid.UUID, log *slog.Logger) *Reconciler {
	return &Reconciler{db: db, svc: svc, serverID: serverID, log: log}
}

// Apply processes a batch in order. Changes are independent: a conflict or
// rejection never blocks the changes after it.
func (r *Reconciler) Apply(sc scope.Scope, batch Batch) (*Response, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, err
	}
	if batch.DeviceID == "" {
		return nil, &service.ValidationError{Message: "device_id is required",
			Fields: map[string]string{"device_id": "required"}}
	}

	resp := &Response{}
	for _, change := range batch.Changes {
		result := r.applyOne(sc, batch.DeviceID, change)
		metrics.OfflineChanges.WithLabelValues(result.Verdict).Inc()
		switch result.Verdict {
		case VerdictApplied:
			resp.Applied = append(resp.Applied, result)
		case VerdictConflict:
			resp.Conflicts = append(resp.Conflicts, result)
		default:
			resp.Rejected = append(resp.Rejected, result)
		}
	}
	return resp, nil
}

func (r *Reconciler) applyOne(sc scope.Scope, deviceID string, change Change) Result {
	if change.OfflineID == "" {
		return Result{Verdict: VerdictRejected, Reason: "missing_offline_id"}
	}

	// Replay check before touching domain state.
	var prior models.AppliedOfflineChange
	err := r.db.Where("tenant_id = ? AND device_id = ? AND offline_id = ? AND entity = ?",
		sc.TenantID, deviceID, change.OfflineID, change.Entity).First(&prior).Error
	if err == nil {
		return Result{
			OfflineID:      change.OfflineID,
			Verdict:        VerdictApplied,
			AlreadyApplied: true,
			ServerID:       prior.ServerID,
			ServerVersion:  prior.ServerVersion,
		}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{OfflineID: change.OfflineID, Verdict: VerdictRejected, Reason: "storage_error"}
	}

	// Status and closeout changes run through service pipelines that manage
	// their own transactions; only the dedup record is written here.
	switch change.Entity {
	case EntityStatus:
		return r.applyStatusChange(sc, deviceID, change)
	case EntityCloseout:
		return r.applyCloseoutChange(sc, deviceID, change)
	}

	var result Result
	err = r.db.Transaction(func(tx *gorm.DB) error {
		var applyErr error
		switch change.Entity {
		case EntityPermit:
			result, applyErr = r.applyPermitUpdate(tx, sc, change)
		case EntityGasReading:
			result, applyErr = r.applyGasReading(tx, sc, change)
		case EntityIsolation:
			result, applyErr = r.applyIsolationChange(tx, sc, change)
		case EntityPhoto:
			result, applyErr = r.applyPhoto(tx, sc, change)
		default:
			result = Result{OfflineID: change.OfflineID, Verdict: VerdictRejected,
				Reason: fmt.Sprintf("unknown_entity:%s", change.Entity)}
			return nil
		}
		if applyErr != nil {
			return applyErr
		}
		result.OfflineID = change.OfflineID
		if result.Verdict != VerdictApplied {
			// Conflicts and rejections are recorded in the response only; the
			// device retries after merging, so no dedup row is written.
			return nil
		}
		record := models.AppliedOfflineChange{
			TenantID:      sc.TenantID,
			DeviceID:      deviceID,
			OfflineID:     change.OfflineID,
			Entity:        change.Entity,
			ServerID:      result.ServerID,
			ServerVersion: result.ServerVersion,
			AppliedAt:     time.Now().UTC(),
		}
		if err := tx.Create(&record).Error; err != nil {
			// Unique collision: a concurrent replay won; report its outcome.
			return fmt.Errorf("record applied change: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.Warn("offline change failed",
			"device_id", deviceID, "offline_id", change.OfflineID, "error", err)
		return r.classifyError(sc, deviceID, change, err)
	}
	return result
}

// classifyError maps a transaction failure onto a verdict. A dedup unique
// violation means a concurrent replay already applied this change.
func (r *Reconciler) classifyError(sc scope.Scope, deviceID string, change Change, err error) Result {
	if isUniqueViolation(err) {
		var prior models.AppliedOfflineChange
		lookupErr := r.db.Where("tenant_id = ? AND device_id = ? AND offline_id = ? AND entity = ?",
			sc.TenantID, deviceID, change.OfflineID, change.Entity).First(&prior).Error
		if lookupErr == nil {
			return Result{
				OfflineID:      change.OfflineID,
				Verdict:        VerdictApplied,
				AlreadyApplied: true,
				ServerID:       prior.ServerID,
				ServerVersion:  prior.ServerVersion,
			}
		}
	}
	return Result{OfflineID: change.OfflineID, Verdict: VerdictRejected, Reason: "storage_error"}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// mergeHintByField maps permit field names to the merge strategy the device
// should apply before retrying a stale change. Set-valued fields union,
// checklist booleans keep true, everything else is a last-writer conflict the
// device has to resolve with the user.
var mergeHintByField = map[string]string{
	"ppe_requirements": "set_merge",
	"safety_checklist": "true_wins",
}

// mergeHints builds the per-field hint map for a stale-version conflict.
func mergeHints(fields models.JSONMap) map[string]any {
	hints := map[string]any{}
	for field := range fields {
		hint := mergeHintByField[field]
		if hint == "" {
			hint = "last_writer_conflict"
		}
		hints[field] = map[string]any{"merge_hint": hint}
	}
	return hints
}

func (r *Reconciler) applyPermitUpdate(tx *gorm.DB, sc scope.Scope, change Change) (Result, error) {
	permit, err := r.loadPermit(tx, sc, change.EntityID)
	if err != nil {
		return r.rejectFor(err), nil
	}
	if !r.inScope(sc, permit) {
		return Result{Verdict: VerdictRejected, Reason: "project_scope_violation"}, nil
	}
	for field := range change.Fields {
		if !updatableField(field) {
			return Result{Verdict: VerdictRejected,
				Reason: fmt.Sprintf("field_not_updatable:%s", field)}, nil
		}
	}

	if change.ClientVersion == nil {
		return Result{
			Verdict:       VerdictConflict,
			ServerID:      permit.ID,
			ServerVersion: permit.Version,
			Reason:        ReasonMissingClientVersion,
		}, nil
	}
	if *change.ClientVersion != permit.Version {
		// The device merges with the hints and retries against the current
		// version; the server never mutates on a stale write.
		return Result{
			Verdict:       VerdictConflict,
			ServerID:      permit.ID,
			ClientVersion: *change.ClientVersion,
			ServerVersion: permit.Version,
			Reason:        ReasonStaleVersion,
			MergeHints:    mergeHints(change.Fields),
		}, nil
	}

	updates := map[string]any{"version": permit.Version + 1}
	before := models.JSONMap{}
	after := models.JSONMap{}
	for field, value := range change.Fields {
		updates[field] = fieldValue(field, value)
		before[field] = permitFieldSnapshot(permit, field)
		after[field] = value
	}

	res := tx.Model(&models.Permit{}).
		Where("id = ? AND version = ?", permit.ID, permit.Version).
		Updates(updates)
	if res.Error != nil {
		return Result{}, fmt.Errorf("apply permit update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Result{
			Verdict:       VerdictConflict,
			ServerID:      permit.ID,
			ClientVersion: *change.ClientVersion,
			ServerVersion: permit.Version,
			Reason:        ReasonStaleVersion,
			MergeHints:    mergeHints(change.Fields),
		}, nil
	}

	if err := outbox.AppendAudit(tx, sc, permit.ID, "permit.offline_update", before, after); err != nil {
		return Result{}, err
	}
	return Result{Verdict: VerdictApplied, ServerID: permit.ID, ServerVersion: permit.Version + 1}, nil
}

var offlineUpdatable = map[string]bool{
	"ppe_requirements":  true,
	"safety_checklist":  true,
	"isolation_details": true,
	"description":       true,
	"priority":          true,
}

func updatableField(field string) bool { return offlineUpdatable[field] }

// fieldValue converts decoded JSON into the column's Go type.
func fieldValue(field string, value any) any {
	switch field {
	case "ppe_requirements":
		if items, ok := value.([]any); ok {
			list := models.StringList{}
			for _, item := range items {
				if s, ok := item.(string); ok {
					list = append(list, s)
				}
			}
			return list
		}
		if list, ok := value.(models.StringList); ok {
			return list
		}
	case "safety_checklist":
		if m, ok := value.(map[string]any); ok {
			return models.JSONMap(m)
		}
		if m, ok := value.(models.JSONMap); ok {
			return m
		}
	}
	return value
}

func permitFieldSnapshot(permit *models.Permit, field string) any {
	switch field {
	case "ppe_requirements":
		return permit.PPERequirements
	case "safety_checklist":
		return permit.SafetyChecklist
	case "isolation_details":
		return permit.IsolationDetails
	case "description":
		return permit.Description
	case "priority":
		return permit.Priority
	}
	return nil
}

func (r *Reconciler) applyStatusChange(sc scope.Scope, deviceID string, change Change) Result {
	permit, err := r.loadPermit(r.db, sc, change.EntityID)
	if err != nil {
		result := r.rejectFor(err)
		result.OfflineID = change.OfflineID
		return result
	}
	if !r.inScope(sc, permit) {
		return Result{OfflineID: change.OfflineID, Verdict: VerdictRejected, Reason: "project_scope_violation"}
	}
	target, _ := change.Fields["to_status"].(string)
	if target == "" {
		return Result{OfflineID: change.OfflineID, Verdict: VerdictRejected, Reason: "missing_to_status"}
	}
	if change.ClientVersion == nil {
		return Result{
			OfflineID:     change.OfflineID,
			Verdict:       VerdictConflict,
			ServerID:      permit.ID,
			ServerVersion: permit.Version,
			Reason:        ReasonMissingClientVersion,
		}
	}
	comments, _ := change.Fields["comments"].(string)

	updated, err := r.svc.Transition(sc, service.TransitionRequest{
		PermitID:        permit.ID,
		ToStatus:        target,
		Comments:        comments,
		ExpectedVersion: *change.ClientVersion,
	})
	if err != nil {
		result := r.transitionResult(permit, change, err)
		result.OfflineID = change.OfflineID
		return result
	}

	record := models.AppliedOfflineChange{
		TenantID:      sc.TenantID,
		DeviceID:      deviceID,
		OfflineID:     change.OfflineID,
		Entity:        change.Entity,
		ServerID:      updated.ID,
		ServerVersion: updated.Version,
		AppliedAt:     time.Now().UTC(),
	}
	if err := r.db.Create(&record).Error; err != nil && !isUniqueViolation(err) {
		r.log.Warn("offline dedup record failed",
			"device_id", deviceID, "offline_id", change.OfflineID, "error", err)
	}
	return Result{OfflineID: change.OfflineID, Verdict: VerdictApplied,
		ServerID: updated.ID, ServerVersion: updated.Version}
}

// applyCloseoutChange routes checklist updates ticked in the field through the
// closeout pipeline. EntityID is the parent permit; PatchCloseout manages its
// own transaction, so only the dedup record is written here.
func (r *Reconciler) applyCloseoutChange(sc scope.Scope, deviceID string, change Change) Result {
	permit, err := r.loadPermit(r.db, sc, change.EntityID)
	if err != nil {
		result := r.rejectFor(err)
		result.OfflineID = change.OfflineID
		return result
	}
	if !r.inScope(sc, permit) {
		return Result{OfflineID: change.OfflineID, Verdict: VerdictRejected, Reason: "project_scope_violation"}
	}
	if change.ClientVersion == nil {
		return Result{
			OfflineID: change.OfflineID,
			Verdict:   VerdictConflict,
			ServerID:  permit.ID,
			Reason:    ReasonMissingClientVersion,
		}
	}

	patch := service.CloseoutPatch{ExpectedVersion: *change.ClientVersion}
	if items, ok := change.Fields["items"].(map[string]any); ok {
		patch.Items = models.JSONMap(items)
	}
	patch.Complete, _ = change.Fields["complete"].(bool)

	closeout, err := r.svc.PatchCloseout(sc, permit.ID, patch)
	if err != nil {
		result := r.closeoutResult(permit, change, err)
		result.OfflineID = change.OfflineID
		return result
	}

	record := models.AppliedOfflineChange{
		TenantID:      sc.TenantID,
		DeviceID:      deviceID,
		OfflineID:     change.OfflineID,
		Entity:        change.Entity,
		ServerID:      closeout.ID,
		ServerVersion: closeout.Version,
		AppliedAt:     time.Now().UTC(),
	}
	if err := r.db.Create(&record).Error; err != nil && !isUniqueViolation(err) {
		r.log.Warn("offline dedup record failed",
			"device_id", deviceID, "offline_id", change.OfflineID, "error", err)
	}
	return Result{OfflineID: change.OfflineID, Verdict: VerdictApplied,
		ServerID: closeout.ID, ServerVersion: closeout.Version}
}

func (r *Reconciler) closeoutResult(permit *models.Permit, change Change, err error) Result {
	clientVersion := 0
	if change.ClientVersion != nil {
		clientVersion = *change.ClientVersion
	}
	var conflict *service.VersionConflictError
	if errors.As(err, &conflict) {
		return Result{
			Verdict:       VerdictConflict,
			ServerID:      permit.ID,
			ClientVersion: clientVersion,
			ServerVersion: conflict.ServerVersion,
			Reason:        ReasonStaleVersion,
			MergeHints:    map[string]any{"items": map[string]any{"merge_hint": "true_wins"}},
		}
	}
	var transition *service.TransitionError
	if errors.As(err, &transition) {
		return Result{
			Verdict:       VerdictConflict,
			ServerID:      permit.ID,
			ServerVersion: permit.Version,
			Reason:        ReasonInvalidTransition,
			MergeHints:    map[string]any{"status": string(transition.From)},
		}
	}
	var reqs *service.RequirementsError
	if errors.As(err, &reqs) {
		return Result{Verdict: VerdictRejected, Reason: "requirements_unmet"}
	}
	var validation *service.ValidationError
	if errors.As(err, &validation) {
		return Result{Verdict: VerdictRejected, Reason: "validation_failed"}
	}
	return Result{Verdict: VerdictRejected, Reason: "storage_error"}
}

func (r *Reconciler) transitionResult(permit *models.Permit, change Change, err error) Result {
	clientVersion := 0
	if change.ClientVersion != nil {
		clientVersion = *change.ClientVersion
	}
	var conflict *service.VersionConflictError
	if errors.As(err, &conflict) {
		return Result{
			Verdict:       VerdictConflict,
			ServerID:      permit.ID,
			ClientVersion: clientVersion,
			ServerVersion: conflict.ServerVersion,
			Reason:        ReasonStaleVersion,
			MergeHints:    map[string]any{"status": map[string]any{"merge_hint": "last_writer_conflict"}},
		}
	}
	var transition *service.TransitionError
	if errors.As(err, &transition) {
		// The device's local graph is out of date; it fast-forwards to the
		// server's status instead of retrying.
		return Result{
			Verdict:       VerdictConflict,
			ServerID:      permit.ID,
			ServerVersion: permit.Version,
			Reason:        ReasonInvalidTransition,
			MergeHints:    map[string]any{"status": string(transition.From)},
		}
	}
	var reqs *service.RequirementsError
	if errors.As(err, &reqs) {
		return Result{Verdict: VerdictRejected, Reason: "requirements_unmet"}
	}
	return Result{Verdict: VerdictRejected, Reason: "storage_error"}
}

func (r *Reconciler) applyGasReading(tx *gorm.DB, sc scope.Scope, change Change) (Result, error) {
	permit, err := r.loadPermit(tx, sc, change.EntityID)
	if err != nil {
		return r.rejectFor(err), nil
	}
	if !r.inScope(sc, permit) {
		return Result{Verdict: VerdictRejected, Reason: "project_scope_violation"}, nil
	}
	gasType, _ := change.Fields["gas_type"].(string)
	if gasType == "" {
		return Result{Verdict: VerdictRejected, Reason: "missing_gas_type"}, nil
	}
	value, _ := change.Fields["value"].(float64)
	unit, _ := change.Fields["unit"].(string)

	measuredAt := change.RecordedAt
	if measuredAt.IsZero() {
		measuredAt = time.Now().UTC()
	}
	reading := models.GasReading{
		TenantID:   sc.TenantID,
		PermitID:   permit.ID,
		GasType:    gasType,
		Value:      value,
		Unit:       unit,
		Status:     models.DeriveGasStatus(gasType, value),
		MeasuredBy: sc.ActorID,
		MeasuredAt: measuredAt.UTC(),
	}
	if err := tx.Create(&reading).Error; err != nil {
		return Result{}, fmt.Errorf("record offline gas reading: %w", err)
	}
	after := models.JSONMap{"gas_type": gasType, "value": value, "status": string(reading.Status)}
	if err := outbox.AppendAudit(tx, sc, permit.ID, "permit.gas_reading", models.JSONMap{}, after); err != nil {
		return Result{}, err
	}
	// Gas readings are append-only; the reading carries its own identity and
	// the permit version is untouched.
	return Result{Verdict: VerdictApplied, ServerID: reading.ID, ServerVersion: permit.Version}, nil
}

// applyPhoto appends a field photo record. The binary is uploaded separately;
// the sync batch carries only its metadata and storage key.
func (r *Reconciler) applyPhoto(tx *gorm.DB, sc scope.Scope, change Change) (Result, error) {
	permit, err := r.loadPermit(tx, sc, change.EntityID)
	if err != nil {
		return r.rejectFor(err), nil
	}
	if !r.inScope(sc, permit) {
		return Result{Verdict: VerdictRejected, Reason: "project_scope_violation"}, nil
	}
	fileName, _ := change.Fields["file_name"].(string)
	if fileName == "" {
		return Result{Verdict: VerdictRejected, Reason: "missing_file_name"}, nil
	}
	contentType, _ := change.Fields["content_type"].(string)
	storageKey, _ := change.Fields["storage_key"].(string)
	caption, _ := change.Fields["caption"].(string)
	size, _ := change.Fields["size_bytes"].(float64)

	takenAt := change.RecordedAt
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}
	photo := models.PermitPhoto{
		TenantID:    sc.TenantID,
		PermitID:    permit.ID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   int64(size),
		StorageKey:  storageKey,
		Caption:     caption,
		TakenBy:     sc.ActorID,
		TakenAt:     takenAt.UTC(),
	}
	if err := tx.Create(&photo).Error; err != nil {
		return Result{}, fmt.Errorf("record offline photo: %w", err)
	}
	after := models.JSONMap{"file_name": fileName, "storage_key": storageKey}
	if err := outbox.AppendAudit(tx, sc, permit.ID, "permit.photo_added", models.JSONMap{}, after); err != nil {
		return Result{}, err
	}
	// Photos are append-only evidence; the permit version is untouched.
	return Result{Verdict: VerdictApplied, ServerID: photo.ID, ServerVersion: permit.Version}, nil
}

func (r *Reconciler) applyIsolationChange(tx *gorm.DB, sc scope.Scope, change Change) (Result, error) {
	var point models.PermitIsolationPoint
	err := tx.Where("tenant_id = ? AND id = ?", sc.TenantID, change.EntityID).First(&point).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{Verdict: VerdictRejected, Reason: "not_found"}, nil
		}
		return Result{}, fmt.Errorf("load isolation point: %w", err)
	}
	permit, err := r.loadPermit(tx, sc, point.PermitID)
	if err != nil {
		return r.rejectFor(err), nil
	}
	if !r.inScope(sc, permit) {
		return Result{Verdict: VerdictRejected, Reason: "project_scope_violation"}, nil
	}

	target, _ := change.Fields["status"].(string)
	if target == "" {
		return Result{Verdict: VerdictRejected, Reason: "missing_status"}, nil
	}

	req := isolation.TransitionRequest{Target: models.IsolationStatus(target)}
	if ids, ok := change.Fields["lock_ids"].([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				req.LockIDs = append(req.LockIDs, s)
			}
		}
	}
	if count, ok := change.Fields["lock_count"].(float64); ok {
		n := int(count)
		req.LockCount = &n
	}

	_, err = isolation.Transition(tx, sc, permit, &point, req)
	if err != nil {
		var regression *isolation.StatusRegressionError
		if errors.As(err, &regression) {
			// Device state is behind: the point already moved past the target.
			return Result{
				Verdict:       VerdictConflict,
				ServerID:      point.ID,
				ServerVersion: point.Version,
				Reason:        ReasonStatusRegression,
				MergeHints:    map[string]any{"status": string(point.Status)},
			}, nil
		}
		if errors.Is(err, isolation.ErrVersionConflict) {
			return Result{
				Verdict:       VerdictConflict,
				ServerID:      point.ID,
				ServerVersion: point.Version,
				Reason:        ReasonStaleVersion,
			}, nil
		}
		return Result{Verdict: VerdictRejected, Reason: "invalid_isolation_change"}, nil
	}
	return Result{Verdict: VerdictApplied, ServerID: point.ID, ServerVersion: point.Version}, nil
}

func (r *Reconciler) loadPermit(tx *gorm.DB, sc scope.Scope, id uuid.UUID) (*models.Permit, error) {
	var permit models.Permit
	err := tx.Where("tenant_id = ? AND id = ?", sc.TenantID, id).First(&permit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &permit, nil
}

func (r *Reconciler) rejectFor(err error) Result {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{Verdict: VerdictRejected, Reason: "not_found"}
	}
	return Result{Verdict: VerdictRejected, Reason: "storage_error"}
}

func (r *Reconciler) inScope(sc scope.Scope, permit *models.Permit) bool {
	return permit.TenantID == sc.TenantID && permit.ProjectID == sc.ProjectID
}
