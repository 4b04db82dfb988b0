// Package risk owns score classification: it turns raw model outputs into a
// banded RiskProfile for a patient. It classifies only; deciding whether a
// profile should alert is the rule evaluator's job.
package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Aggregator rebuilds a patient's RiskProfile from the scores of one
// evaluation run. It holds validated, read-only threshold configuration and
// is safe for concurrent use.
type Aggregator struct {
	thresholds ThresholdMap
}

// NewAggregator validates the threshold configuration and returns an
// Aggregator. Invalid thresholds are rejected here, at load time, so the
// evaluation path never sees them.
func NewAggregator(thresholds ThresholdMap) (*Aggregator, error) {
	if thresholds == nil {
		thresholds = ThresholdMap{}
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threshold config: %w", err)
	}
	return &Aggregator{thresholds: thresholds}, nil
}

// Aggregate classifies each score into its band and assembles the profile.
// It is deterministic: identical inputs always produce an identical profile
// (modulo the run identifiers the caller supplies).
func (a *Aggregator) Aggregate(patientID, runID uuid.UUID, seq uint64, scores []RiskScore, unscored []CategoryReport, now time.Time) RiskProfile {
	profile := RiskProfile{
		PatientID:   patientID,
		RunID:       runID,
		Seq:         seq,
		Scores:      make(map[Category]RiskScore, len(scores)),
		Unscored:    unscored,
		GeneratedAt: now,
	}

	for _, s := range scores {
		s.PatientID = patientID
		s.RunID = runID
		s.Band = a.thresholds.For(s.Category).Band(s.Value)
		profile.Scores[s.Category] = s
	}

	profile.Recommendations = Recommendations(profile)
	return profile
}

// Thresholds exposes the validated threshold map for read-only use.
func (a *Aggregator) Thresholds() ThresholdMap {
	return a.thresholds
}

// sortedCategories returns profile categories in stable order, used where
// deterministic iteration matters (recommendations, logging).
func sortedCategories(p RiskProfile) []Category {
	cats := make([]Category, 0, len(p.Scores))
	for c := range p.Scores {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}
