package rules

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/carewatch/carewatch/internal/domain/features"
	"github.com/carewatch/carewatch/internal/domain/risk"
)

// ruleDoc is the YAML shape of a rule file.
type ruleDoc struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ID          string        `yaml:"id"`
	Description string        `yaml:"description"`
	Severity    string        `yaml:"severity"`
	Cooldown    time.Duration `yaml:"cooldown"`
	Enabled     *bool         `yaml:"enabled"` // defaults to true when omitted
	Message     string        `yaml:"message"`
	When        predicateNode `yaml:"when"`
}

// predicateNode is one YAML condition node: exactly one branch must be set.
type predicateNode struct {
	All   []predicateNode `yaml:"all"`
	Any   []predicateNode `yaml:"any"`
	Band  *bandNode       `yaml:"band"`
	Vital *vitalNode      `yaml:"vital"`
	Lab   *labNode        `yaml:"lab"`
}

type bandNode struct {
	Category string `yaml:"category"`
	AtLeast  string `yaml:"at_least"`
}

type vitalNode struct {
	Field string   `yaml:"field"`
	Above *float64 `yaml:"above"`
	Below *float64 `yaml:"below"`
}

type labNode struct {
	Test     string   `yaml:"test"`
	Abnormal bool     `yaml:"abnormal"`
	Above    *float64 `yaml:"above"`
	Below    *float64 `yaml:"below"`
}

// Load reads and validates a rule file. Any invalid rule rejects the whole
// file; a partially applied rule set never exists.
func Load(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	rs, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("rules: %s: %w", path, err)
	}
	return rs, nil
}

// Parse decodes and validates a YAML rule document.
func Parse(raw []byte) ([]Rule, error) {
	var doc ruleDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("no rules defined")
	}

	seen := make(map[string]bool, len(doc.Rules))
	out := make([]Rule, 0, len(doc.Rules))
	for i, e := range doc.Rules {
		r, err := buildRule(e)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, e.ID, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, nil
}

func buildRule(e ruleEntry) (Rule, error) {
	if e.ID == "" {
		return Rule{}, fmt.Errorf("id is required")
	}
	severity := risk.Band(e.Severity)
	if !severity.Valid() {
		return Rule{}, fmt.Errorf("unknown severity %q", e.Severity)
	}
	if e.Cooldown < 0 {
		return Rule{}, fmt.Errorf("negative cooldown %s", e.Cooldown)
	}
	pred, err := buildPredicate(e.When)
	if err != nil {
		return Rule{}, err
	}
	if err := pred.validate(); err != nil {
		return Rule{}, err
	}
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return Rule{
		ID:          e.ID,
		Description: e.Description,
		Severity:    severity,
		Cooldown:    e.Cooldown,
		Enabled:     enabled,
		Message:     e.Message,
		When:        pred,
	}, nil
}

func buildPredicate(n predicateNode) (Predicate, error) {
	branches := 0
	if len(n.All) > 0 {
		branches++
	}
	if len(n.Any) > 0 {
		branches++
	}
	if n.Band != nil {
		branches++
	}
	if n.Vital != nil {
		branches++
	}
	if n.Lab != nil {
		branches++
	}
	if branches != 1 {
		return nil, fmt.Errorf("condition node must have exactly one of all/any/band/vital/lab, got %d", branches)
	}

	switch {
	case len(n.All) > 0:
		subs, err := buildPredicates(n.All)
		if err != nil {
			return nil, err
		}
		return allPred{Preds: subs}, nil
	case len(n.Any) > 0:
		subs, err := buildPredicates(n.Any)
		if err != nil {
			return nil, err
		}
		return anyPred{Preds: subs}, nil
	case n.Band != nil:
		return bandPred{
			Category: risk.Category(n.Band.Category),
			AtLeast:  risk.Band(n.Band.AtLeast),
		}, nil
	case n.Vital != nil:
		return vitalPred{Field: n.Vital.Field, Above: n.Vital.Above, Below: n.Vital.Below}, nil
	default:
		return labPred{
			Test:     features.NormalizeLabName(n.Lab.Test),
			Abnormal: n.Lab.Abnormal,
			Above:    n.Lab.Above,
			Below:    n.Lab.Below,
		}, nil
	}
}

func buildPredicates(nodes []predicateNode) ([]Predicate, error) {
	out := make([]Predicate, 0, len(nodes))
	for i, n := range nodes {
		p, err := buildPredicate(n)
		if err != nil {
			return nil, fmt.Errorf("sub-predicate %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
