package alerts

import (
	"time"

	"github.com/google/uuid"

	"github.com/carewatch/carewatch/internal/domain/risk"
)

// Status is the lifecycle state of an alert. Resolved is terminal for the
// instance; a new alert for the same (patient, rule) key may follow once the
// rule's cooldown elapses.
type Status string

const (
	StatusTriggered    Status = "triggered"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTriggered, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// Open reports whether the alert still demands attention.
func (s Status) Open() bool { return s == StatusTriggered || s == StatusAcknowledged }

// SystemActor attributes auto-resolution to the platform itself.
const SystemActor = "system"

// Alert is one instance of a fired rule for a patient. At most one open
// alert exists per (patient_id, rule_id) at any time.
type Alert struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	RuleID    string    `db:"rule_id" json:"rule_id"`
	RunID     uuid.UUID `db:"run_id" json:"run_id"`
	Seq       uint64    `db:"seq" json:"seq"`
	Severity  risk.Band `db:"severity" json:"severity"`
	Status    Status    `db:"status" json:"status"`
	Message   string    `db:"message" json:"message"`

	// Cooldown is copied from the firing rule so resolution can start the
	// suppression window without consulting rule configuration.
	Cooldown time.Duration `db:"cooldown" json:"cooldown"`

	// Escalations counts in-place severity raises on this open instance.
	Escalations int `db:"escalations" json:"escalations"`

	TriggeredAt    time.Time  `db:"triggered_at" json:"triggered_at"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy     string     `db:"resolved_by" json:"resolved_by,omitempty"`
}

// TriggerOutcome tells the caller what a trigger attempt did.
type TriggerOutcome string

const (
	OutcomeCreated            TriggerOutcome = "created"
	OutcomeEscalated          TriggerOutcome = "escalated"
	OutcomeSuppressedOpen     TriggerOutcome = "suppressed_open"     // deduplicated against an open alert
	OutcomeSuppressedCooldown TriggerOutcome = "suppressed_cooldown" // inside the post-resolution window
	OutcomeSuppressedStale    TriggerOutcome = "suppressed_stale"    // intent from a superseded run
)

// EventKind classifies notifications emitted by the lifecycle manager.
type EventKind string

const (
	EventTriggered EventKind = "triggered"
	EventEscalated EventKind = "escalated"
)

// Event is handed to the notification dispatcher when an alert is created
// or escalated.
type Event struct {
	Kind  EventKind `json:"kind"`
	Alert Alert     `json:"alert"`
}

// Stats summarizes the alert population for the operations dashboard.
type Stats struct {
	Total      int               `json:"total"`
	Open       int               `json:"open"`
	ByStatus   map[Status]int    `json:"by_status"`
	BySeverity map[risk.Band]int `json:"by_severity"`
	Last24h    int               `json:"last_24h"`
}
