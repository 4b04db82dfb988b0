// Package features turns raw patient snapshots into the fixed-shape vectors
// the scoring models consume. Missing vitals are imputed with population
// defaults and recorded as such; a category whose source data is entirely
// absent is skipped with a reason instead of being scored on pure defaults.
package features

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/risk"
)

// Population defaults used when a measurement is absent.
const (
	defaultSystolicBP  = 120
	defaultDiastolicBP = 80
	defaultHeartRate   = 70
	defaultTemperature = 98.6
	defaultRespRate    = 16
	defaultSpO2        = 98
	defaultWeightKg    = 70
	defaultHeightCm    = 170
	defaultAgeYears    = 65
	defaultHbA1c       = 7.0
	defaultBMI         = 25
)

// Extractor builds per-category feature vectors from patient snapshots.
type Extractor struct {
	log zerolog.Logger
}

func NewExtractor(log zerolog.Logger) *Extractor {
	return &Extractor{log: log.With().Str("component", "features").Logger()}
}

// Extract produces one vector per scorable category plus a skip report for
// categories whose inputs are entirely missing. The snapshot is never
// mutated.
func (e *Extractor) Extract(snap PatientSnapshot) ([]FeatureVector, []SkippedCategory) {
	var (
		vectors []FeatureVector
		skipped []SkippedCategory
	)
	for _, c := range risk.Categories() {
		if reason, skip := e.skipReason(c, snap); skip {
			e.log.Debug().
				Stringer("patient_id", snap.PatientID).
				Str("category", string(c)).
				Str("reason", reason).
				Msg("category skipped")
			skipped = append(skipped, SkippedCategory{Category: c, Reason: reason})
			continue
		}
		vectors = append(vectors, e.build(c, snap))
	}
	return vectors, skipped
}

// skipReason reports whether the category's required snapshot sections are
// all absent. A partially present section is always scorable; imputation
// handles the gaps.
func (e *Extractor) skipReason(c risk.Category, snap PatientSnapshot) (string, bool) {
	hasVitals := snap.Vitals != nil
	hasLabs := len(snap.Labs) > 0
	hasHistory := snap.History != nil

	switch c {
	case risk.CategoryReadmission:
		if !hasHistory && !hasLabs {
			return "no medical history or lab results", true
		}
	case risk.CategoryMedicationAdherence:
		if !hasHistory {
			return "no medical history", true
		}
	case risk.CategoryDiseaseProgression:
		if !hasVitals && !hasLabs {
			return "no vitals or lab results", true
		}
	}
	return "", false
}

func (e *Extractor) build(c risk.Category, snap PatientSnapshot) FeatureVector {
	b := newBuilder(c, snap.TakenAt)

	age := float64(defaultAgeYears)
	ageImputed := true
	if snap.Age != nil {
		age = float64(*snap.Age)
		ageImputed = false
	}

	var diagnoses, medications int
	if snap.History != nil {
		diagnoses = len(snap.History.Diagnoses)
		medications = len(snap.History.Medications)
	}

	switch c {
	case risk.CategoryReadmission:
		b.add("age", age, ageImputed)
		b.add("recent_lab_count", float64(len(snap.Labs)), false)
		b.add("num_diagnoses", float64(diagnoses), snap.History == nil)
		b.add("num_medications", float64(medications), snap.History == nil)
		comorbid := 0.0
		if diagnoses > 3 {
			comorbid = 1
		}
		b.add("comorbidity_flag", comorbid, snap.History == nil)

	case risk.CategoryMedicationAdherence:
		b.add("age", age, ageImputed)
		b.add("num_medications", float64(medications), false)
		complexity := float64(medications) * 2
		if complexity > 10 {
			complexity = 10
		}
		b.add("regimen_complexity", complexity, false)
		// No socioeconomic or adherence-history feeds yet; both carry
		// population defaults and are flagged imputed.
		b.add("socioeconomic_factor", 0.7, true)
		b.add("previous_adherence", 0.8, true)

	case risk.CategoryDiseaseProgression:
		b.add("age", age, ageImputed)
		hba1c := float64(defaultHbA1c)
		hba1cImputed := true
		if lab, ok := snap.Lab("hba1c"); ok && lab.Value > 0 {
			hba1c = lab.Value
			hba1cImputed = false
		}
		b.add("hba1c", hba1c, hba1cImputed)
		b.addVital(snap, "systolic_bp", defaultSystolicBP)
		b.add(bmiFeature(snap))
		b.add("condition_burden", maxf(float64(diagnoses), 1), snap.History == nil)
	}

	return b.vector()
}

// bmiFeature derives body mass index from weight and height, falling back to
// the population default when either is missing or non-positive.
func bmiFeature(snap PatientSnapshot) (string, float64, bool) {
	w, okW := snap.Vital("weight")
	h, okH := snap.Vital("height")
	if !okW || !okH || w <= 0 || h <= 0 {
		return "bmi", defaultBMI, true
	}
	m := h / 100
	return "bmi", w / (m * m), false
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// builder accumulates (name, value, imputed) triples in append order.
type builder struct {
	v FeatureVector
}

func newBuilder(c risk.Category, at time.Time) *builder {
	return &builder{v: FeatureVector{Category: c, ObservedAt: at}}
}

func (b *builder) add(name string, value float64, imputed bool) {
	b.v.Names = append(b.v.Names, name)
	b.v.Values = append(b.v.Values, value)
	if imputed {
		b.v.Imputed = append(b.v.Imputed, name)
	}
}

func (b *builder) addVital(snap PatientSnapshot, field string, def float64) {
	if val, ok := snap.Vital(field); ok {
		b.add(field, val, false)
		return
	}
	b.add(field, def, true)
}

func (b *builder) vector() FeatureVector { return b.v }

// NormalizeLabName lowercases and trims a lab test name so rule predicates
// and snapshot lookups agree on matching.
func NormalizeLabName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
