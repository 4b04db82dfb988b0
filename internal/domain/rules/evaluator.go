package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/features"
	"github.com/carewatch/carewatch/internal/domain/risk"
)

// Evaluator runs the active rule set against one evaluation run's output.
// It is stateless: duplicate suppression against open alerts happens in the
// alert lifecycle manager, not here.
type Evaluator struct {
	store *Store
	log   zerolog.Logger
}

func NewEvaluator(store *Store, log zerolog.Logger) *Evaluator {
	return &Evaluator{store: store, log: log.With().Str("component", "rules").Logger()}
}

// Evaluate checks every enabled rule independently; each fires at most one
// intent. Intents carry the rule's severity and cooldown so downstream state
// handling needs no access to rule configuration.
func (e *Evaluator) Evaluate(profile risk.RiskProfile, snap features.PatientSnapshot, now time.Time) []AlertIntent {
	in := Input{Profile: profile, Snapshot: snap}

	var intents []AlertIntent
	for _, r := range e.store.Rules() {
		if !r.Enabled || !r.When.Eval(in) {
			continue
		}
		intents = append(intents, AlertIntent{
			RuleID:    r.ID,
			PatientID: profile.PatientID,
			RunID:     profile.RunID,
			Seq:       profile.Seq,
			Severity:  r.Severity,
			Cooldown:  r.Cooldown,
			Message:   renderMessage(r, profile),
			FiredAt:   now,
		})
		e.log.Debug().
			Str("rule_id", r.ID).
			Stringer("patient_id", profile.PatientID).
			Str("severity", string(r.Severity)).
			Msg("rule fired")
	}
	return intents
}

func renderMessage(r Rule, profile risk.RiskProfile) string {
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("Rule %s matched for patient {patient_id}", r.ID)
	}
	return strings.ReplaceAll(msg, "{patient_id}", profile.PatientID.String())
}
