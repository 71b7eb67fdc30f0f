package outbox

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/config"
	"github.com/sitesafe/ptwcore/internal/crypto"
	"github.com/sitesafe/ptwcore/internal/db"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return gdb
}

func testScope() scope.Scope {
	return scope.Scope{
		TenantID:      uuid.New(),
		ProjectID:     uuid.New(),
		ActorID:       uuid.New(),
		CorrelationID: uuid.New(),
	}
}

func webhookConfig() config.WebhookConfig {
	return config.WebhookConfig{
		MaxAttempts:     3,
		InitialBackoff:  1,
		MaxBackoff:      60,
		RequestTimeout:  5,
		RatePerSecond:   100,
		SignatureHeader: "X-PTW-Signature",
	}
}

func seedEndpoint(t *testing.T, gdb *gorm.DB, tenantID uuid.UUID, url, secret string, key []byte, events ...string) *models.WebhookEndpoint {
	t.Helper()
	enc, err := crypto.EncryptField(secret, key)
	if err != nil {
		t.Fatalf("encrypt secret: %v", err)
	}
	ep := models.WebhookEndpoint{
		TenantID:        tenantID,
		Name:            "receiver",
		URL:             url,
		SecretEncrypted: enc,
		Events:          models.StringList(events),
		Active:          true,
	}
	if err := gdb.Create(&ep).Error; err != nil {
		t.Fatalf("seed endpoint: %v", err)
	}
	return &ep
}

func seedEvent(t *testing.T, gdb *gorm.DB, s scope.Scope, event, payload string) *models.OutboxEvent {
	t.Helper()
	permitID := uuid.New()
	err := gdb.Transaction(func(tx *gorm.DB) error {
		return Enqueue(tx, s, permitID, event, map[string]any{"raw": payload})
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var ev models.OutboxEvent
	if err := gdb.Last(&ev).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	return &ev
}

func TestSignRoundTrip(t *testing.T) {
	body := []byte(`{"event":"permit.transitioned"}`)
	sig := Sign(body, "whsec_test")
	if len(sig) != 64 {
		t.Fatalf("signature length = %d", len(sig))
	}
	if !VerifySignature(body, "whsec_test", sig) {
		t.Error("signature did not verify")
	}
	if VerifySignature(body, "whsec_other", sig) {
		t.Error("verified under wrong secret")
	}
	if VerifySignature([]byte(`{"event":"tampered"}`), "whsec_test", sig) {
		t.Error("verified tampered body")
	}
}

func TestEnqueueWritesDedupeKey(t *testing.T) {
	gdb := setupOutboxDB(t)
	s := testScope()
	ev := seedEvent(t, gdb, s, EventPermitCreated, "x")

	want := EventPermitCreated + ":" + ev.PermitID.String() + ":" + s.CorrelationID.String()
	if ev.DedupeKey != want {
		t.Errorf("dedupe key = %q, want %q", ev.DedupeKey, want)
	}
	if ev.Status != models.OutboxPending || ev.NextAttemptTime.After(time.Now().UTC()) {
		t.Errorf("new event = %+v", ev)
	}
}

func TestChangedFields(t *testing.T) {
	before, after := ChangedFields(
		models.JSONMap{"status": "draft", "title": "same", "priority": "low"},
		models.JSONMap{"status": "submitted", "title": "same", "assignee": "x"},
	)
	if before["status"] != "draft" || after["status"] != "submitted" {
		t.Errorf("status diff = %v -> %v", before["status"], after["status"])
	}
	if _, ok := before["title"]; ok {
		t.Error("unchanged field reported")
	}
	if _, ok := before["priority"]; !ok {
		t.Error("removed field missing from before")
	}
	if after["assignee"] != "x" {
		t.Error("added field missing from after")
	}
}

func TestClaimDueIsExclusive(t *testing.T) {
	gdb := setupOutboxDB(t)
	s := testScope()
	seedEvent(t, gdb, s, EventPermitCreated, "a")

	// One event due now, one scheduled for later.
	later := models.OutboxEvent{
		TenantID: s.TenantID, PermitID: uuid.New(),
		Event: EventPermitTransitioned, Payload: "{}",
		CorrelationID: uuid.New(), DedupeKey: "later",
		Status:          models.OutboxPending,
		NextAttemptTime: time.Now().UTC().Add(time.Hour),
	}
	if err := gdb.Create(&later).Error; err != nil {
		t.Fatalf("seed later event: %v", err)
	}

	key, _ := crypto.DeriveKey("test-key")
	d1 := NewDeliverer(gdb, webhookConfig(), key, "node-1")
	d2 := NewDeliverer(gdb, webhookConfig(), key, "node-2")

	claimed, err := d1.ClaimDue(10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d events, want 1", len(claimed))
	}
	if claimed[0].ClaimedBy != "node-1" {
		t.Errorf("claimed_by = %q", claimed[0].ClaimedBy)
	}

	// The claim pushed next_attempt_time out; a second worker sees nothing.
	again, err := d2.ClaimDue(10)
	if err != nil {
		t.Fatalf("second ClaimDue: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second worker claimed %d events", len(again))
	}
}

func TestDeliverSignsAndRecords(t *testing.T) {
	gdb := setupOutboxDB(t)
	s := testScope()
	key, err := crypto.DeriveKey("test-key")
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	var gotSig atomic.Value
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody.Store(string(buf))
		gotSig.Store(r.Header.Get("X-PTW-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	seedEndpoint(t, gdb, s.TenantID, srv.URL, "whsec_test", key)
	ev := seedEvent(t, gdb, s, EventPermitTransitioned, "payload")

	d := NewDeliverer(gdb, webhookConfig(), key, "node-1")
	if err := d.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	body, _ := gotBody.Load().(string)
	sig, _ := gotSig.Load().(string)
	if body != ev.Payload {
		t.Errorf("posted body = %q, want %q", body, ev.Payload)
	}
	if !VerifySignature([]byte(body), "whsec_test", sig) {
		t.Error("posted signature did not verify")
	}

	var stored models.OutboxEvent
	if err := gdb.First(&stored, ev.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if stored.Status != models.OutboxSent || stored.AttemptCount != 1 {
		t.Errorf("event after delivery = %+v", stored)
	}
	var delivery models.WebhookDelivery
	if err := gdb.First(&delivery, "outbox_id = ?", ev.ID).Error; err != nil {
		t.Fatalf("load delivery: %v", err)
	}
	if !delivery.Succeeded || delivery.ResponseCode != http.StatusOK {
		t.Errorf("delivery record = %+v", delivery)
	}
}

func TestDeliverSkipsUnsubscribedEndpoints(t *testing.T) {
	gdb := setupOutboxDB(t)
	s := testScope()
	key, _ := crypto.DeriveKey("test-key")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	seedEndpoint(t, gdb, s.TenantID, srv.URL, "whsec_test", key, EventPermitCreated)
	ev := seedEvent(t, gdb, s, EventCloseoutCompleted, "x")

	d := NewDeliverer(gdb, webhookConfig(), key, "node-1")
	if err := d.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("unsubscribed endpoint called %d times", calls.Load())
	}
	var stored models.OutboxEvent
	if err := gdb.First(&stored, ev.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if stored.Status != models.OutboxSent {
		t.Errorf("event status = %s", stored.Status)
	}
}

func TestDeliverRetriesThenFails(t *testing.T) {
	gdb := setupOutboxDB(t)
	s := testScope()
	key, _ := crypto.DeriveKey("test-key")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "downstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	seedEndpoint(t, gdb, s.TenantID, srv.URL, "whsec_test", key)
	ev := seedEvent(t, gdb, s, EventPermitTransitioned, "x")

	d := NewDeliverer(gdb, webhookConfig(), key, "node-1")

	// First two attempts back off and stay pending.
	for attempt := 1; attempt <= 2; attempt++ {
		if err := d.Deliver(context.Background(), ev); err != nil {
			t.Fatalf("Deliver attempt %d: %v", attempt, err)
		}
		var stored models.OutboxEvent
		if err := gdb.First(&stored, ev.ID).Error; err != nil {
			t.Fatalf("reload event: %v", err)
		}
		if stored.Status != models.OutboxPending || stored.AttemptCount != attempt {
			t.Fatalf("after attempt %d: %+v", attempt, stored)
		}
		if !stored.NextAttemptTime.After(time.Now().UTC()) {
			t.Errorf("attempt %d did not back off", attempt)
		}
		if !strings.Contains(stored.LastError, "status 502") {
			t.Errorf("last_error = %q", stored.LastError)
		}
		ev = &stored
	}

	// The third attempt is the last one allowed.
	if err := d.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("final Deliver: %v", err)
	}
	var failed models.OutboxEvent
	if err := gdb.First(&failed, ev.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if failed.Status != models.OutboxFailed || failed.AttemptCount != 3 {
		t.Fatalf("exhausted event = %+v", failed)
	}

	// Requeue resets it for another round.
	if err := Requeue(gdb, failed.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	var requeued models.OutboxEvent
	if err := gdb.First(&requeued, failed.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if requeued.Status != models.OutboxPending || requeued.AttemptCount != 0 || requeued.LastError != "" {
		t.Errorf("requeued event = %+v", requeued)
	}

	// Requeue only applies to failed events.
	if err := Requeue(gdb, requeued.ID); err != gorm.ErrRecordNotFound {
		t.Errorf("requeue of pending event = %v", err)
	}
}

func TestDeliveryDedupeAcrossRetries(t *testing.T) {
	gdb := setupOutboxDB(t)
	s := testScope()
	key, _ := crypto.DeriveKey("test-key")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	seedEndpoint(t, gdb, s.TenantID, srv.URL, "whsec_test", key)
	ev := seedEvent(t, gdb, s, EventPermitTransitioned, "x")

	d := NewDeliverer(gdb, webhookConfig(), key, "node-1")
	if err := d.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	// A redundant re-delivery of the same event finds the dedupe record and
	// never re-posts.
	if err := d.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("redundant Deliver: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("endpoint called %d times, want 1", calls.Load())
	}
}
