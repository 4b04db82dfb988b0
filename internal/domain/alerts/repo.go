package alerts

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no alert matches the lookup.
var ErrNotFound = errors.New("alerts: not found")

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	PatientID uuid.UUID
	Status    Status
	Severity  string
	Limit     int
	Offset    int
}

// Repository persists alerts. Implementations must provide read-your-writes
// consistency: an OpenByKey immediately after Create sees the new row.
type Repository interface {
	Create(ctx context.Context, a *Alert) error
	Update(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)

	// OpenByKey returns the single non-resolved alert for the key, or
	// ErrNotFound when the key has no open alert.
	OpenByKey(ctx context.Context, patientID uuid.UUID, ruleID string) (*Alert, error)

	// OpenByPatient lists every open alert for a patient, for the
	// auto-resolve sweep at the end of an evaluation run.
	OpenByPatient(ctx context.Context, patientID uuid.UUID) ([]Alert, error)

	List(ctx context.Context, f ListFilter) ([]Alert, int, error)
	Stats(ctx context.Context) (Stats, error)
}
