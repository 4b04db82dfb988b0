package risk

// Care recommendations per category, issued when that category scores in
// the high or critical band.
var categoryRecommendations = map[Category][]string{
	CategoryReadmission: {
		"Schedule follow-up appointment within 7 days",
		"Consider home health services",
		"Review medication reconciliation",
	},
	CategoryMedicationAdherence: {
		"Provide medication adherence counseling",
		"Consider pill organizer or medication synchronization",
		"Schedule pharmacist consultation",
	},
	CategoryDiseaseProgression: {
		"Intensify disease management protocols",
		"Increase monitoring frequency",
		"Consider specialist referral",
	},
}

// Recommendations derives care recommendations from a profile's high and
// critical scores. Output order is stable across runs with the same input.
func Recommendations(p RiskProfile) []string {
	var out []string
	seen := make(map[string]bool)
	for _, cat := range sortedCategories(p) {
		s := p.Scores[cat]
		if s.Band != BandHigh && s.Band != BandCritical {
			continue
		}
		for _, rec := range categoryRecommendations[cat] {
			if !seen[rec] {
				seen[rec] = true
				out = append(out, rec)
			}
		}
	}
	return out
}
