// Package rules defines configurable alert rules and evaluates them against
// risk profiles and raw observations. Evaluation is stateless; every rule in
// an active set is known-valid because configuration is rejected wholesale
// at load time.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carewatch/carewatch/internal/domain/features"
	"github.com/carewatch/carewatch/internal/domain/risk"
)

// Rule is one loaded, validated alert rule.
type Rule struct {
	ID          string
	Description string
	Severity    risk.Band
	Cooldown    time.Duration
	Enabled     bool
	Message     string // template; {patient_id} is substituted at fire time
	When        Predicate
}

// Input is what predicates see: the freshly aggregated profile plus the raw
// snapshot the run was scored from.
type Input struct {
	Profile  risk.RiskProfile
	Snapshot features.PatientSnapshot
}

// AlertIntent is the stateless output of rule evaluation, before any
// deduplication against open alerts.
type AlertIntent struct {
	RuleID    string
	PatientID uuid.UUID
	RunID     uuid.UUID
	Seq       uint64
	Severity  risk.Band
	Cooldown  time.Duration
	Message   string
	FiredAt   time.Time
}

// Predicate is one node of a rule's condition tree.
type Predicate interface {
	Eval(in Input) bool
	validate() error
}

// ---- band leaf ----

// bandPred fires when the profile's band for a category is at or above a
// floor. An unscored category never matches.
type bandPred struct {
	Category risk.Category
	AtLeast  risk.Band
}

func (p bandPred) Eval(in Input) bool {
	score, ok := in.Profile.Scores[p.Category]
	if !ok {
		return false
	}
	return score.Band.Rank() >= p.AtLeast.Rank()
}

func (p bandPred) validate() error {
	if !p.Category.Valid() {
		return fmt.Errorf("band: unknown category %q", p.Category)
	}
	if !p.AtLeast.Valid() {
		return fmt.Errorf("band: unknown band %q", p.AtLeast)
	}
	return nil
}

// ---- vital leaf ----

// vitalPred fires when a recorded vital crosses a threshold. A vital that
// was never recorded does not match; rules fire on observed data only.
type vitalPred struct {
	Field string
	Above *float64
	Below *float64
}

func (p vitalPred) Eval(in Input) bool {
	v, ok := in.Snapshot.Vital(p.Field)
	if !ok {
		return false
	}
	if p.Above != nil {
		return v > *p.Above
	}
	return v < *p.Below
}

func (p vitalPred) validate() error {
	if !features.KnownVitalField(p.Field) {
		return fmt.Errorf("vital: unknown field %q", p.Field)
	}
	if (p.Above == nil) == (p.Below == nil) {
		return fmt.Errorf("vital %s: exactly one of above/below is required", p.Field)
	}
	return nil
}

// ---- lab leaf ----

// labPred fires on laboratory results: either any result flagged abnormal
// (optionally filtered by test name) or a named result crossing a threshold.
type labPred struct {
	Test     string
	Abnormal bool
	Above    *float64
	Below    *float64
}

func (p labPred) Eval(in Input) bool {
	if p.Abnormal {
		for _, l := range in.Snapshot.Labs {
			if p.Test != "" && !strings.Contains(features.NormalizeLabName(l.TestName), p.Test) {
				continue
			}
			if l.Abnormal {
				return true
			}
		}
		return false
	}
	l, ok := in.Snapshot.Lab(p.Test)
	if !ok {
		return false
	}
	if p.Above != nil {
		return l.Value > *p.Above
	}
	return l.Value < *p.Below
}

func (p labPred) validate() error {
	if p.Abnormal {
		if p.Above != nil || p.Below != nil {
			return fmt.Errorf("lab: abnormal cannot be combined with above/below")
		}
		return nil
	}
	if p.Test == "" {
		return fmt.Errorf("lab: test name is required for threshold checks")
	}
	if (p.Above == nil) == (p.Below == nil) {
		return fmt.Errorf("lab %s: exactly one of above/below is required", p.Test)
	}
	return nil
}

// ---- composites ----

type allPred struct{ Preds []Predicate }

func (p allPred) Eval(in Input) bool {
	for _, sub := range p.Preds {
		if !sub.Eval(in) {
			return false
		}
	}
	return true
}

func (p allPred) validate() error {
	if len(p.Preds) == 0 {
		return fmt.Errorf("all: requires at least one sub-predicate")
	}
	for _, sub := range p.Preds {
		if err := sub.validate(); err != nil {
			return err
		}
	}
	return nil
}

type anyPred struct{ Preds []Predicate }

func (p anyPred) Eval(in Input) bool {
	for _, sub := range p.Preds {
		if sub.Eval(in) {
			return true
		}
	}
	return false
}

func (p anyPred) validate() error {
	if len(p.Preds) == 0 {
		return fmt.Errorf("any: requires at least one sub-predicate")
	}
	for _, sub := range p.Preds {
		if err := sub.validate(); err != nil {
			return err
		}
	}
	return nil
}
