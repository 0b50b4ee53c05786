// Package lab owns the test order workflow: orders, sample custody,
// results, and the lifecycle rules that connect them.
package lab

import (
	"time"

	"github.com/google/uuid"
)

// TestOrder is a request to run one test type for a patient. Status follows
// the order lifecycle; VersionID backs optimistic concurrency.
type TestOrder struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	TestTypeCode string     `json:"test_type_code"`
	Status       OrderState `json:"status"`
	OrderedBy    uuid.UUID  `json:"ordered_by"`
	Notes        string     `json:"notes,omitempty"`
	ReportedAt   *time.Time `json:"reported_at,omitempty"`
	VersionID    int        `json:"version_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Sample is one physical specimen tied to an order. Custody tracks where
// the specimen is in handling.
type Sample struct {
	ID          uuid.UUID    `json:"id"`
	OrderID     uuid.UUID    `json:"order_id"`
	SampleType  string       `json:"sample_type"`
	Custody     CustodyState `json:"custody"`
	Location    string       `json:"location,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	CollectedAt time.Time    `json:"collected_at"`
	VersionID   int          `json:"version_id"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Result flags.
const (
	FlagNormal   = "normal"
	FlagAbnormal = "abnormal"
	FlagCritical = "critical"
)

// Result holds the measured values for an order, keyed by parameter code.
// Flag is an attribute, not a state: a critical flag fires a notification
// but never moves the order.
type Result struct {
	ID          uuid.UUID              `json:"id"`
	OrderID     uuid.UUID              `json:"order_id"`
	Values      map[string]interface{} `json:"values"`
	Flag        string                 `json:"flag"`
	EnteredBy   uuid.UUID              `json:"entered_by"`
	VerifiedBy  *uuid.UUID             `json:"verified_by,omitempty"`
	FinalizedAt *time.Time             `json:"finalized_at,omitempty"`
	VersionID   int                    `json:"version_id"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Resource types recorded in the status history.
const (
	HistoryOrder  = "test_order"
	HistorySample = "sample"
)

// StatusChange is one entry in the audit trail of lifecycle transitions.
type StatusChange struct {
	ID           uuid.UUID `json:"id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   uuid.UUID `json:"resource_id"`
	FromStatus   string    `json:"from_status"`
	ToStatus     string    `json:"to_status"`
	ChangedBy    uuid.UUID `json:"changed_by"`
	Role         string    `json:"role"`
	Reason       *string   `json:"reason,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}

// OrderDetail is the composite view returned for a single order.
type OrderDetail struct {
	Order   *TestOrder `json:"order"`
	Samples []*Sample  `json:"samples"`
	Result  *Result    `json:"result,omitempty"`
}
