package risk

import (
	"context"

	"github.com/google/uuid"
)

// ScoreRepository is the append-only persistence contract for risk scores.
// Scores are history: there is no update or delete.
type ScoreRepository interface {
	AppendScores(ctx context.Context, scores []RiskScore) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*RiskScore, int, error)
	LatestByPatient(ctx context.Context, patientID uuid.UUID) ([]*RiskScore, error)
}
