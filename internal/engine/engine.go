// Package engine orchestrates one evaluation run per triggering event:
// snapshot, feature extraction, parallel inference, aggregation, rule
// evaluation, alert lifecycle, and the auto-resolve sweep. Runs for
// different patients execute concurrently; per-patient ordering is enforced
// by a monotonic sequence the alert lifecycle uses to reject stale results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/alerts"
	"github.com/carewatch/carewatch/internal/domain/features"
	"github.com/carewatch/carewatch/internal/domain/inference"
	"github.com/carewatch/carewatch/internal/domain/risk"
	"github.com/carewatch/carewatch/internal/domain/rules"
	"github.com/carewatch/carewatch/internal/platform/metrics"
)

// Engine runs the scoring and alerting pipeline.
type Engine struct {
	source     SnapshotSource
	extractor  *features.Extractor
	registry   *inference.Registry
	aggregator *risk.Aggregator
	evaluator  *rules.Evaluator
	lifecycle  *alerts.Service
	scores     risk.ScoreRepository
	metrics    *metrics.Manager
	log        zerolog.Logger

	// inferenceTimeout bounds one run's model calls; categories that miss
	// it are reported stale, not defaulted.
	inferenceTimeout time.Duration

	mu   sync.Mutex
	seqs map[uuid.UUID]uint64
}

type Config struct {
	Source           SnapshotSource
	Extractor        *features.Extractor
	Registry         *inference.Registry
	Aggregator       *risk.Aggregator
	Evaluator        *rules.Evaluator
	Lifecycle        *alerts.Service
	Scores           risk.ScoreRepository
	Metrics          *metrics.Manager
	InferenceTimeout time.Duration
}

func New(cfg Config, log zerolog.Logger) *Engine {
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 5 * time.Second
	}
	return &Engine{
		source:           cfg.Source,
		extractor:        cfg.Extractor,
		registry:         cfg.Registry,
		aggregator:       cfg.Aggregator,
		evaluator:        cfg.Evaluator,
		lifecycle:        cfg.Lifecycle,
		scores:           cfg.Scores,
		metrics:          cfg.Metrics,
		log:              log.With().Str("component", "engine").Logger(),
		inferenceTimeout: cfg.InferenceTimeout,
		seqs:             make(map[uuid.UUID]uint64),
	}
}

// nextSeq issues the per-patient monotonic run sequence.
func (e *Engine) nextSeq(patientID uuid.UUID) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seqs[patientID]++
	return e.seqs[patientID]
}

// GeneratePredictions executes one evaluation run for the patient and
// returns the resulting risk profile. The pipeline for one patient is
// sequential; only the inference calls inside it run in parallel.
func (e *Engine) GeneratePredictions(ctx context.Context, patientID uuid.UUID) (risk.RiskProfile, error) {
	started := time.Now()
	runID := uuid.New()
	seq := e.nextSeq(patientID)

	log := e.log.With().
		Stringer("patient_id", patientID).
		Stringer("run_id", runID).
		Uint64("seq", seq).Logger()

	snap, err := e.source.GetSnapshot(ctx, patientID)
	if err != nil {
		e.metrics.RunCompleted("snapshot_error", time.Since(started).Seconds())
		return risk.RiskProfile{}, fmt.Errorf("engine: snapshot: %w", err)
	}

	vectors, skipped := e.extractor.Extract(snap)
	unscored := make([]risk.CategoryReport, 0, len(skipped))
	for _, s := range skipped {
		e.metrics.CategorySkipped()
		unscored = append(unscored, risk.CategoryReport{
			Category: s.Category,
			Outcome:  risk.OutcomeSkipped,
			Reason:   s.Reason,
		})
	}

	scores, failed := e.inferAll(ctx, vectors)
	unscored = append(unscored, failed...)

	profile := e.aggregator.Aggregate(patientID, runID, seq, scores, unscored, time.Now().UTC())
	for _, sc := range profile.Scores {
		e.metrics.ScoreProduced(string(sc.Category), string(sc.Band))
	}

	if len(scores) > 0 {
		persisted := make([]risk.RiskScore, 0, len(profile.Scores))
		for _, c := range risk.Categories() {
			if sc, ok := profile.Scores[c]; ok {
				persisted = append(persisted, sc)
			}
		}
		if err := e.scores.AppendScores(ctx, persisted); err != nil {
			e.metrics.RunCompleted("persist_error", time.Since(started).Seconds())
			return risk.RiskProfile{}, fmt.Errorf("engine: persist scores: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		// Superseded or cancelled run: do not touch alert state.
		e.metrics.RunCompleted("cancelled", time.Since(started).Seconds())
		return profile, fmt.Errorf("engine: run cancelled: %w", err)
	}

	intents := e.evaluator.Evaluate(profile, snap, time.Now().UTC())
	fired := make(map[string]bool, len(intents))
	for _, intent := range intents {
		fired[intent.RuleID] = true
		_, outcome, err := e.lifecycle.Trigger(ctx, intent)
		if err != nil {
			log.Error().Err(err).Str("rule_id", intent.RuleID).Msg("trigger failed")
			continue
		}
		e.metrics.AlertOutcome(string(outcome))
	}

	if err := e.lifecycle.AutoResolve(ctx, patientID, seq, fired); err != nil {
		log.Error().Err(err).Msg("auto-resolve sweep failed")
	}

	log.Info().
		Int("scored", len(profile.Scores)).
		Int("unscored", len(profile.Unscored)).
		Int("intents", len(intents)).
		Dur("elapsed", time.Since(started)).
		Msg("evaluation run complete")
	e.metrics.RunCompleted("ok", time.Since(started).Seconds())
	return profile, nil
}

// inferAll scores all vectors in parallel under one bounded timeout.
// Categories that time out come back stale; disabled categories come back
// skipped. Neither ever defaults to a score.
func (e *Engine) inferAll(ctx context.Context, vectors []features.FeatureVector) ([]risk.RiskScore, []risk.CategoryReport) {
	ctx, cancel := context.WithTimeout(ctx, e.inferenceTimeout)
	defer cancel()

	type result struct {
		category risk.Category
		score    risk.RiskScore
		report   *risk.CategoryReport
	}
	// Buffered so a model that outlives the deadline can still finish its
	// send and exit instead of leaking.
	results := make(chan result, len(vectors))

	for _, vec := range vectors {
		go func(vec features.FeatureVector) {
			score, err := e.registry.Infer(ctx, vec.Category, vec)
			if err != nil {
				results <- result{category: vec.Category, report: categorizeFailure(vec.Category, err)}
				return
			}
			results <- result{category: vec.Category, score: score}
		}(vec)
	}

	var (
		scores  []risk.RiskScore
		failed  []risk.CategoryReport
		pending = make(map[risk.Category]bool, len(vectors))
	)
	for _, vec := range vectors {
		pending[vec.Category] = true
	}
	for len(pending) > 0 {
		select {
		case r := <-results:
			delete(pending, r.category)
			if r.report != nil {
				if r.report.Outcome == risk.OutcomeStale {
					e.metrics.CategoryStale()
				} else {
					e.metrics.CategorySkipped()
				}
				failed = append(failed, *r.report)
				continue
			}
			scores = append(scores, r.score)
		case <-ctx.Done():
			// The deadline bounds the run even when a model ignores the
			// context: whatever has not reported by now is stale.
			for _, vec := range vectors {
				if !pending[vec.Category] {
					continue
				}
				e.metrics.CategoryStale()
				failed = append(failed, risk.CategoryReport{
					Category: vec.Category,
					Outcome:  risk.OutcomeStale,
					Reason:   "inference deadline exceeded",
				})
			}
			return scores, failed
		}
	}
	return scores, failed
}

func categorizeFailure(c risk.Category, err error) *risk.CategoryReport {
	report := &risk.CategoryReport{Category: c, Reason: err.Error()}
	switch {
	case errors.Is(err, inference.ErrCategoryDisabled), errors.Is(err, inference.ErrUnknownCategory):
		report.Outcome = risk.OutcomeSkipped
	default:
		// Timeouts and invalid outputs are transient for this run.
		report.Outcome = risk.OutcomeStale
	}
	return report
}

// LatestScores returns the most recent persisted score per category.
func (e *Engine) LatestScores(ctx context.Context, patientID uuid.UUID) ([]*risk.RiskScore, error) {
	return e.scores.LatestByPatient(ctx, patientID)
}

// ScoreHistory pages through a patient's persisted scores, newest first.
func (e *Engine) ScoreHistory(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*risk.RiskScore, int, error) {
	return e.scores.ListByPatient(ctx, patientID, limit, offset)
}
