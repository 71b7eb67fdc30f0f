package cliclient

import "time"

// LoginRequest represents a login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a login response.
type LoginResponse struct {
	Token    string   `json:"token"`
	Identity Identity `json:"identity"`
}

// Identity represents an authenticated identity.
type Identity struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Grade    string `json:"grade"`
	Active   bool   `json:"active"`
}

// Permit represents a permit to work.
type Permit struct {
	ID           string `json:"id"`
	PermitNumber string `json:"permit_number"`
	PermitTypeID string `json:"permit_type_id"`

	Title    string `json:"title"`
	Location string `json:"location"`
	Priority string `json:"priority"`

	Status               string `json:"status"`
	CurrentApprovalLevel int    `json:"current_approval_level"`

	PlannedStart time.Time  `json:"planned_start"`
	PlannedEnd   time.Time  `json:"planned_end"`
	ActualStart  *time.Time `json:"actual_start,omitempty"`
	ActualEnd    *time.Time `json:"actual_end,omitempty"`

	RiskLevel string `json:"risk_level"`
	RiskScore int    `json:"risk_score"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreatePermitRequest represents a request to create a permit.
type CreatePermitRequest struct {
	PermitTypeID string   `json:"permit_type_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Location     string   `json:"location"`
	Priority     string   `json:"priority,omitempty"`
	PlannedStart string   `json:"planned_start"`
	PlannedEnd   string   `json:"planned_end"`
	Probability  int      `json:"probability,omitempty"`
	Severity     int      `json:"severity,omitempty"`
	PPE          []string `json:"ppe_requirements,omitempty"`
}

// TransitionRequest represents a status transition request.
type TransitionRequest struct {
	ToStatus        string `json:"to_status"`
	Comments        string `json:"comments,omitempty"`
	ExpectedVersion int    `json:"expected_version,omitempty"`
}

// PermitType represents a permit type definition.
type PermitType struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	RiskLevel    string `json:"risk_level"`
	Version      int    `json:"version"`
	Active       bool   `json:"active"`
	RequiredGas  bool   `json:"requires_gas_testing"`
	RequiredIsol bool   `json:"requires_isolation"`
}

// AuditEntry represents one row of a permit's audit trail.
type AuditEntry struct {
	ID            uint                   `json:"id"`
	PermitID      string                 `json:"permit_id"`
	Action        string                 `json:"action"`
	ActorID       string                 `json:"actor_id"`
	CorrelationID string                 `json:"correlation_id"`
	Before        map[string]interface{} `json:"before"`
	After         map[string]interface{} `json:"after"`
	Timestamp     time.Time              `json:"timestamp"`
}

// KPIs represents the permit dashboard counters.
type KPIs struct {
	Total        int64            `json:"total"`
	ByStatus     map[string]int64 `json:"by_status"`
	Active       int64            `json:"active"`
	Overdue      int64            `json:"overdue"`
	ExpiringSoon int64            `json:"expiring_soon"`
	HighRisk     int64            `json:"high_risk"`
}

// OutboxEvent represents a pending or failed webhook event.
type OutboxEvent struct {
	ID              uint      `json:"id"`
	PermitID        string    `json:"permit_id"`
	Event           string    `json:"event"`
	Status          string    `json:"status"`
	AttemptCount    int       `json:"attempt_count"`
	NextAttemptTime time.Time `json:"next_attempt_time"`
	CreatedAt       time.Time `json:"created_at"`
}

// WebhookEndpoint represents a registered webhook subscriber.
type WebhookEndpoint struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}
