package inference

import (
	"context"
	"math"

	"github.com/carewatch/carewatch/internal/domain/features"
	"github.com/carewatch/carewatch/internal/domain/risk"
)

// Built-in logistic models, one per category. Each computes a weighted raw
// burden from its feature vector and squashes it through a calibrated
// sigmoid so downstream thresholds see a probability-shaped [0,1] score.

const builtinVersion = "builtin-1"

// RegisterBuiltins installs the default model for every category. Intended
// for startup; any error aborts boot.
func RegisterBuiltins(r *Registry) error {
	models := map[risk.Category]Model{
		risk.CategoryReadmission:         ModelFunc(predictReadmission),
		risk.CategoryMedicationAdherence: ModelFunc(predictAdherence),
		risk.CategoryDiseaseProgression:  ModelFunc(predictProgression),
	}
	for c, m := range models {
		if err := r.Register(c, builtinVersion, m); err != nil {
			return err
		}
	}
	return nil
}

func predictReadmission(_ context.Context, vec features.FeatureVector) (Prediction, error) {
	age := feat(vec, "age")
	labs := feat(vec, "recent_lab_count")
	diagnoses := feat(vec, "num_diagnoses")
	medications := feat(vec, "num_medications")
	comorbid := feat(vec, "comorbidity_flag")

	raw := age/100 + labs/20 + diagnoses/10 + medications/15 + comorbid/5

	var factors []string
	if age > 70 {
		factors = append(factors, "advanced_age")
	}
	if diagnoses > 5 {
		factors = append(factors, "multiple_comorbidities")
	}
	if medications > 8 {
		factors = append(factors, "polypharmacy")
	}

	return Prediction{Value: sigmoid(raw, 1.2, 3.5), Factors: defaultFactors(factors)}, nil
}

func predictAdherence(_ context.Context, vec features.FeatureVector) (Prediction, error) {
	medications := feat(vec, "num_medications")
	complexity := feat(vec, "regimen_complexity")
	socioeconomic := feat(vec, "socioeconomic_factor")
	adherence := feat(vec, "previous_adherence")

	raw := medications/10 + (1 - socioeconomic) + complexity/10 + (1 - adherence)

	var factors []string
	if medications > 6 {
		factors = append(factors, "complex_medication_regimen")
	}
	if complexity > 8 {
		factors = append(factors, "high_treatment_complexity")
	}

	return Prediction{Value: sigmoid(raw, 1.5, 2.5), Factors: defaultFactors(factors)}, nil
}

func predictProgression(_ context.Context, vec features.FeatureVector) (Prediction, error) {
	hba1c := feat(vec, "hba1c")
	systolic := feat(vec, "systolic_bp")
	bmi := feat(vec, "bmi")
	burden := feat(vec, "condition_burden")

	raw := (hba1c-7)/3 + (systolic-120)/40 + (bmi-25)/10 + burden/10

	var factors []string
	if hba1c > 8 {
		factors = append(factors, "poor_glycemic_control")
	}
	if systolic > 140 {
		factors = append(factors, "uncontrolled_hypertension")
	}
	if bmi > 30 {
		factors = append(factors, "obesity")
	}

	return Prediction{Value: sigmoid(raw, 0.9, 2.8), Factors: defaultFactors(factors)}, nil
}

// sigmoid maps the raw burden onto (0,1) centered at mid with the given
// steepness.
func sigmoid(raw, mid, steepness float64) float64 {
	return 1 / (1 + math.Exp(-steepness*(raw-mid)))
}

func feat(vec features.FeatureVector, name string) float64 {
	v, _ := vec.Value(name)
	return v
}

func defaultFactors(factors []string) []string {
	if len(factors) == 0 {
		return []string{"standard_risk_factors"}
	}
	return factors
}
