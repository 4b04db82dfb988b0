package risk

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewAggregatorRejectsInvalidThresholds(t *testing.T) {
	_, err := NewAggregator(ThresholdMap{
		CategoryReadmission: {LowUpper: 0.9, MedUpper: 0.5, HighUpper: 0.95},
	})
	if err == nil {
		t.Fatal("expected error for inverted thresholds")
	}
}

func TestAggregateClassifiesPerCategory(t *testing.T) {
	agg, err := NewAggregator(ThresholdMap{
		CategoryReadmission: {LowUpper: 0.3, MedUpper: 0.5, HighUpper: 0.7},
	})
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}

	patientID := uuid.New()
	runID := uuid.New()
	now := time.Now().UTC()

	profile := agg.Aggregate(patientID, runID, 1, []RiskScore{
		{Category: CategoryReadmission, Value: 0.6, ModelVersion: "v1", ComputedAt: now},
		{Category: CategoryDiseaseProgression, Value: 0.6, ModelVersion: "v1", ComputedAt: now},
	}, nil, now)

	// Custom thresholds apply to readmission; defaults to the rest.
	if got := profile.Scores[CategoryReadmission].Band; got != BandHigh {
		t.Errorf("readmission band = %s, want high", got)
	}
	if got := profile.Scores[CategoryDiseaseProgression].Band; got != BandMedium {
		t.Errorf("disease_progression band = %s, want medium", got)
	}
	if profile.Scores[CategoryReadmission].PatientID != patientID {
		t.Error("score not stamped with patient id")
	}
	if profile.Scores[CategoryReadmission].RunID != runID {
		t.Error("score not stamped with run id")
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	agg, _ := NewAggregator(nil)
	patientID := uuid.New()
	runID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	scores := []RiskScore{
		{Category: CategoryReadmission, Value: 0.85, ModelVersion: "v1", ComputedAt: now},
		{Category: CategoryMedicationAdherence, Value: 0.92, ModelVersion: "v1", ComputedAt: now},
	}

	a := agg.Aggregate(patientID, runID, 7, scores, nil, now)
	b := agg.Aggregate(patientID, runID, 7, scores, nil, now)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical inputs produced different profiles:\n%+v\n%+v", a, b)
	}
}

func TestAggregateCarriesUnscoredReports(t *testing.T) {
	agg, _ := NewAggregator(nil)
	reports := []CategoryReport{
		{Category: CategoryDiseaseProgression, Outcome: OutcomeStale, Reason: "inference timeout"},
	}
	profile := agg.Aggregate(uuid.New(), uuid.New(), 1, nil, reports, time.Now())
	if len(profile.Unscored) != 1 || profile.Unscored[0].Outcome != OutcomeStale {
		t.Errorf("unscored reports not carried: %+v", profile.Unscored)
	}
}

func TestRecommendationsOnlyForHighAndCritical(t *testing.T) {
	agg, _ := NewAggregator(nil)
	now := time.Now()
	profile := agg.Aggregate(uuid.New(), uuid.New(), 1, []RiskScore{
		{Category: CategoryReadmission, Value: 0.85, ComputedAt: now},        // high
		{Category: CategoryMedicationAdherence, Value: 0.2, ComputedAt: now}, // low
	}, nil, now)

	if len(profile.Recommendations) == 0 {
		t.Fatal("expected recommendations for high readmission risk")
	}
	for _, rec := range profile.Recommendations {
		for _, adherenceRec := range categoryRecommendations[CategoryMedicationAdherence] {
			if rec == adherenceRec {
				t.Errorf("low-band category contributed recommendation %q", rec)
			}
		}
	}
}
