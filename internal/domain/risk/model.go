package risk

import (
	"time"

	"github.com/google/uuid"
)

// Category identifies a risk dimension scored by its own predictive model.
// The set is closed: adding a category means registering a model and
// thresholds for it, not inventing a string at runtime.
type Category string

const (
	CategoryReadmission         Category = "readmission"
	CategoryMedicationAdherence Category = "medication_adherence"
	CategoryDiseaseProgression  Category = "disease_progression"
)

// Categories returns all known categories in stable order.
func Categories() []Category {
	return []Category{
		CategoryReadmission,
		CategoryMedicationAdherence,
		CategoryDiseaseProgression,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryReadmission, CategoryMedicationAdherence, CategoryDiseaseProgression:
		return true
	}
	return false
}

// Band is the discretized risk level derived from a continuous score.
type Band string

const (
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// Rank orders bands for severity comparison. Unknown bands rank below low.
func (b Band) Rank() int {
	switch b {
	case BandLow:
		return 1
	case BandMedium:
		return 2
	case BandHigh:
		return 3
	case BandCritical:
		return 4
	}
	return 0
}

// Valid reports whether b is a known band.
func (b Band) Valid() bool {
	return b.Rank() > 0
}

// RiskScore is one model's output for one (patient, category, run).
// Scores are append-only history: a new run produces new rows, prior rows
// are never mutated.
type RiskScore struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	RunID        uuid.UUID `db:"run_id" json:"run_id"`
	Category     Category  `db:"category" json:"category"`
	Value        float64   `db:"value" json:"value"`
	Band         Band      `db:"band" json:"band"`
	ModelVersion string    `db:"model_version" json:"model_version"`
	Factors      []string  `db:"factors" json:"factors,omitempty"`
	ComputedAt   time.Time `db:"computed_at" json:"computed_at"`
}

// CategoryOutcome describes what happened to a category during one
// evaluation run when it did not produce a score.
type CategoryOutcome string

const (
	OutcomeSkipped CategoryOutcome = "skipped" // insufficient input data
	OutcomeStale   CategoryOutcome = "stale"   // inference timed out or failed this run
)

// CategoryReport pairs a category with the reason it has no score this run.
type CategoryReport struct {
	Category Category        `json:"category"`
	Outcome  CategoryOutcome `json:"outcome"`
	Reason   string          `json:"reason"`
}

// RiskProfile is a patient's current scores across categories, rebuilt (not
// mutated) on each evaluation run.
type RiskProfile struct {
	PatientID       uuid.UUID              `json:"patient_id"`
	RunID           uuid.UUID              `json:"run_id"`
	Seq             uint64                 `json:"seq"`
	Scores          map[Category]RiskScore `json:"scores"`
	Unscored        []CategoryReport       `json:"unscored,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// Score returns the score for a category and whether one exists.
func (p RiskProfile) Score(c Category) (RiskScore, bool) {
	s, ok := p.Scores[c]
	return s, ok
}
