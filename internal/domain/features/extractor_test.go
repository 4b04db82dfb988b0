package features

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/risk"
)

func f64(v float64) *float64 { return &v }

func fullSnapshot() PatientSnapshot {
	age := 72
	return PatientSnapshot{
		PatientID: uuid.New(),
		Age:       &age,
		Vitals: &VitalSigns{
			SystolicBP:       f64(150),
			DiastolicBP:      f64(95),
			HeartRate:        f64(88),
			Temperature:      f64(99.1),
			RespiratoryRate:  f64(18),
			OxygenSaturation: f64(94),
			Weight:           f64(90),
			Height:           f64(175),
		},
		Labs: []LabResult{
			{TestName: "hba1c", Value: 9.2, Unit: "%", Abnormal: true, RecordedAt: time.Now()},
			{TestName: "glucose", Value: 180, Unit: "mg/dL", Abnormal: true, RecordedAt: time.Now()},
		},
		History: &MedicalHistory{
			Diagnoses:   []string{"diabetes", "hypertension", "ckd", "copd", "chf"},
			Medications: []string{"metformin", "lisinopril", "insulin", "furosemide"},
			Allergies:   []string{"penicillin"},
		},
		TakenAt: time.Now(),
	}
}

func TestExtractFullSnapshotScoresAllCategories(t *testing.T) {
	ex := NewExtractor(zerolog.Nop())
	vectors, skipped := ex.Extract(fullSnapshot())

	if len(skipped) != 0 {
		t.Fatalf("expected no skipped categories, got %v", skipped)
	}
	if len(vectors) != len(risk.Categories()) {
		t.Fatalf("expected %d vectors, got %d", len(risk.Categories()), len(vectors))
	}
	for _, v := range vectors {
		if len(v.Names) != len(v.Values) {
			t.Errorf("%s: names/values length mismatch: %d vs %d", v.Category, len(v.Names), len(v.Values))
		}
		if len(v.Names) != 5 {
			t.Errorf("%s: expected 5 features, got %d", v.Category, len(v.Names))
		}
	}
}

func TestExtractUsesObservedValues(t *testing.T) {
	ex := NewExtractor(zerolog.Nop())
	vectors, _ := ex.Extract(fullSnapshot())

	var prog FeatureVector
	for _, v := range vectors {
		if v.Category == risk.CategoryDiseaseProgression {
			prog = v
		}
	}

	if got, ok := prog.Value("hba1c"); !ok || got != 9.2 {
		t.Errorf("hba1c = %v, want 9.2", got)
	}
	if prog.WasImputed("hba1c") {
		t.Error("hba1c marked imputed despite a recorded lab")
	}
	if got, ok := prog.Value("systolic_bp"); !ok || got != 150 {
		t.Errorf("systolic_bp = %v, want 150", got)
	}
	bmi, _ := prog.Value("bmi")
	if bmi < 29 || bmi > 30 {
		t.Errorf("bmi = %v, want ~29.4 for 90kg/175cm", bmi)
	}
	if got, _ := prog.Value("age"); got != 72 {
		t.Errorf("age = %v, want 72", got)
	}
}

func TestExtractImputesMissingVitals(t *testing.T) {
	snap := fullSnapshot()
	snap.Vitals.SystolicBP = nil
	snap.Vitals.Weight = nil
	snap.Labs = nil // drop hba1c too

	ex := NewExtractor(zerolog.Nop())
	vectors, _ := ex.Extract(snap)

	var prog FeatureVector
	for _, v := range vectors {
		if v.Category == risk.CategoryDiseaseProgression {
			prog = v
		}
	}

	if got, _ := prog.Value("systolic_bp"); got != defaultSystolicBP {
		t.Errorf("systolic_bp = %v, want default %v", got, defaultSystolicBP)
	}
	if !prog.WasImputed("systolic_bp") {
		t.Error("systolic_bp not marked imputed")
	}
	if got, _ := prog.Value("bmi"); got != defaultBMI {
		t.Errorf("bmi = %v, want default %v with missing weight", got, defaultBMI)
	}
	if got, _ := prog.Value("hba1c"); got != defaultHbA1c {
		t.Errorf("hba1c = %v, want default %v", got, defaultHbA1c)
	}
	if !prog.WasImputed("hba1c") {
		t.Error("hba1c not marked imputed")
	}
}

func TestExtractSkipsCategoriesWithNoSourceData(t *testing.T) {
	snap := PatientSnapshot{
		PatientID: uuid.New(),
		Vitals:    &VitalSigns{HeartRate: f64(80)},
		TakenAt:   time.Now(),
	}

	ex := NewExtractor(zerolog.Nop())
	vectors, skipped := ex.Extract(snap)

	// Vitals alone can only feed disease progression.
	if len(vectors) != 1 || vectors[0].Category != risk.CategoryDiseaseProgression {
		t.Fatalf("expected only disease_progression vector, got %v", vectors)
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped categories, got %v", skipped)
	}
	for _, s := range skipped {
		if s.Reason == "" {
			t.Errorf("%s skipped without a reason", s.Category)
		}
	}
}

func TestExtractEmptySnapshotSkipsEverything(t *testing.T) {
	ex := NewExtractor(zerolog.Nop())
	vectors, skipped := ex.Extract(PatientSnapshot{PatientID: uuid.New(), TakenAt: time.Now()})

	if len(vectors) != 0 {
		t.Fatalf("expected no vectors for an empty snapshot, got %d", len(vectors))
	}
	if len(skipped) != len(risk.Categories()) {
		t.Fatalf("expected all categories skipped, got %v", skipped)
	}
}

func TestExtractDeterministicOrder(t *testing.T) {
	ex := NewExtractor(zerolog.Nop())
	a, _ := ex.Extract(fullSnapshot())
	snap := fullSnapshot()
	b, _ := ex.Extract(snap)

	if len(a) != len(b) {
		t.Fatalf("vector count differs across runs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Category != b[i].Category {
			t.Errorf("category order differs at %d: %s vs %s", i, a[i].Category, b[i].Category)
		}
		for j, n := range a[i].Names {
			if b[i].Names[j] != n {
				t.Errorf("%s: feature order differs at %d", a[i].Category, j)
			}
		}
	}
}

func TestSnapshotLabPicksMostRecent(t *testing.T) {
	now := time.Now()
	snap := PatientSnapshot{
		Labs: []LabResult{
			{TestName: "HbA1c", Value: 7.1, RecordedAt: now.Add(-48 * time.Hour)},
			{TestName: "hba1c", Value: 8.4, RecordedAt: now},
		},
	}
	lab, ok := snap.Lab("hba1c")
	if !ok || lab.Value != 8.4 {
		t.Fatalf("Lab(hba1c) = %v, %v; want most recent 8.4", lab.Value, ok)
	}
}

func TestKnownVitalField(t *testing.T) {
	if !KnownVitalField("oxygen_saturation") {
		t.Error("oxygen_saturation should be a known vital field")
	}
	if KnownVitalField("shoe_size") {
		t.Error("shoe_size should not be a known vital field")
	}
}
