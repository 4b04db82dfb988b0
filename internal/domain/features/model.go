package features

import (
	"time"

	"github.com/google/uuid"

	"github.com/carewatch/carewatch/internal/domain/risk"
)

// VitalSigns holds the most recent vital measurements for a patient.
// Nil fields were not recorded.
type VitalSigns struct {
	SystolicBP       *float64 `json:"systolic_bp,omitempty"`
	DiastolicBP      *float64 `json:"diastolic_bp,omitempty"`
	HeartRate        *float64 `json:"heart_rate,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	RespiratoryRate  *float64 `json:"respiratory_rate,omitempty"`
	OxygenSaturation *float64 `json:"oxygen_saturation,omitempty"`
	Weight           *float64 `json:"weight,omitempty"` // kg
	Height           *float64 `json:"height,omitempty"` // cm
}

// LabResult is a single laboratory measurement.
type LabResult struct {
	TestName   string    `json:"test_name"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Abnormal   bool      `json:"abnormal"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MedicalHistory lists a patient's known diagnoses, medications and allergies.
type MedicalHistory struct {
	Diagnoses   []string `json:"diagnoses"`
	Medications []string `json:"medications"`
	Allergies   []string `json:"allergies"`
}

// PatientSnapshot is the read-only input to an evaluation run: demographics
// plus the latest vitals, labs and medication history, as supplied by the
// patient store collaborator.
type PatientSnapshot struct {
	PatientID uuid.UUID       `json:"patient_id"`
	Age       *int            `json:"age,omitempty"`
	Vitals    *VitalSigns     `json:"vitals,omitempty"`
	Labs      []LabResult     `json:"labs,omitempty"`
	History   *MedicalHistory `json:"history,omitempty"`
	TakenAt   time.Time       `json:"taken_at"`
}

// Vital returns the named vital sign value and whether it was recorded.
// Known field names: systolic_bp, diastolic_bp, heart_rate, temperature,
// respiratory_rate, oxygen_saturation, weight, height.
func (s PatientSnapshot) Vital(field string) (float64, bool) {
	if s.Vitals == nil {
		return 0, false
	}
	var p *float64
	switch field {
	case "systolic_bp":
		p = s.Vitals.SystolicBP
	case "diastolic_bp":
		p = s.Vitals.DiastolicBP
	case "heart_rate":
		p = s.Vitals.HeartRate
	case "temperature":
		p = s.Vitals.Temperature
	case "respiratory_rate":
		p = s.Vitals.RespiratoryRate
	case "oxygen_saturation":
		p = s.Vitals.OxygenSaturation
	case "weight":
		p = s.Vitals.Weight
	case "height":
		p = s.Vitals.Height
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// KnownVitalField reports whether field names a vital sign this snapshot
// schema understands. Used by the rule loader to reject typos at load time.
func KnownVitalField(field string) bool {
	switch field {
	case "systolic_bp", "diastolic_bp", "heart_rate", "temperature",
		"respiratory_rate", "oxygen_saturation", "weight", "height":
		return true
	}
	return false
}

// Lab returns the most recent lab result whose test name contains the given
// substring (case-insensitive match is the caller's concern; test names are
// stored lowercase by convention).
func (s PatientSnapshot) Lab(name string) (LabResult, bool) {
	var best LabResult
	found := false
	for _, l := range s.Labs {
		if !containsFold(l.TestName, name) {
			continue
		}
		if !found || l.RecordedAt.After(best.RecordedAt) {
			best = l
			found = true
		}
	}
	return best, found
}

// FeatureVector is the fixed-shape, ordered input to one category's model.
// Immutable once produced; Imputed records which features were filled with
// defaults so downstream consumers can discount low-confidence inputs.
type FeatureVector struct {
	Category   risk.Category `json:"category"`
	Names      []string      `json:"names"`
	Values     []float64     `json:"values"`
	Imputed    []string      `json:"imputed,omitempty"`
	ObservedAt time.Time     `json:"observed_at"`
}

// Value returns the named feature and whether it exists in the vector.
func (v FeatureVector) Value(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// WasImputed reports whether the named feature was defaulted rather than
// observed.
func (v FeatureVector) WasImputed(name string) bool {
	for _, n := range v.Imputed {
		if n == name {
			return true
		}
	}
	return false
}

// SkippedCategory reports a category that could not be scored because its
// required inputs were entirely absent.
type SkippedCategory struct {
	Category risk.Category `json:"category"`
	Reason   string        `json:"reason"`
}
