// Package inference holds the versioned model registry. Each risk category
// carries one or more registered model versions; exactly one serves live
// traffic while the rest run in shadow mode and only log their predictions.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/features"
	"github.com/carewatch/carewatch/internal/domain/risk"
)

var (
	// ErrUnknownCategory is returned when no model was ever registered for
	// the category.
	ErrUnknownCategory = errors.New("inference: unknown category")

	// ErrCategoryDisabled is returned after a load failure disabled the
	// category. Other categories keep scoring.
	ErrCategoryDisabled = errors.New("inference: category disabled")

	// ErrInvalidOutput is returned when a model produces NaN or Inf. The
	// value is rejected outright, never coerced to 0 or 1.
	ErrInvalidOutput = errors.New("inference: non-finite model output")

	// ErrTimeout is returned when the per-run deadline expires before the
	// active model answers. The caller records the category as stale.
	ErrTimeout = errors.New("inference: timed out")
)

// Prediction is a raw model output before registry validation.
type Prediction struct {
	Value   float64
	Factors []string
}

// Model scores a single feature vector. Implementations must be pure: no
// shared mutable state is touched during Predict.
type Model interface {
	Predict(ctx context.Context, vec features.FeatureVector) (Prediction, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(ctx context.Context, vec features.FeatureVector) (Prediction, error)

func (f ModelFunc) Predict(ctx context.Context, vec features.FeatureVector) (Prediction, error) {
	return f(ctx, vec)
}

type registration struct {
	version string
	model   Model
}

type categoryState struct {
	versions []registration
	active   string // version serving live traffic
	disabled bool
	reason   string
}

// Registry maps categories to model versions. Registration and activation
// are expected at startup; Infer is safe for concurrent use afterwards.
type Registry struct {
	mu         sync.RWMutex
	categories map[risk.Category]*categoryState
	log        zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		categories: make(map[risk.Category]*categoryState),
		log:        log.With().Str("component", "inference").Logger(),
	}
}

// Register adds a model version for a category. The first version registered
// becomes active; later versions run shadow until promoted with SetActive.
func (r *Registry) Register(c risk.Category, version string, m Model) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	if version == "" || m == nil {
		return fmt.Errorf("inference: register %s: version and model are required", c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.categories[c]
	if st == nil {
		st = &categoryState{}
		r.categories[c] = st
	}
	for _, reg := range st.versions {
		if reg.version == version {
			return fmt.Errorf("inference: %s version %s already registered", c, version)
		}
	}
	st.versions = append(st.versions, registration{version: version, model: m})
	if st.active == "" {
		st.active = version
	}
	r.log.Info().Str("category", string(c)).Str("version", version).
		Bool("active", st.active == version).Msg("model registered")
	return nil
}

// SetActive promotes a registered version to serve live traffic. The
// previously active version keeps running in shadow.
func (r *Registry) SetActive(c risk.Category, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.categories[c]
	if st == nil {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	for _, reg := range st.versions {
		if reg.version == version {
			st.active = version
			r.log.Info().Str("category", string(c)).Str("version", version).Msg("model promoted")
			return nil
		}
	}
	return fmt.Errorf("inference: %s has no version %s", c, version)
}

// Disable marks a category as unscorable after a load failure. Scoring for
// the remaining categories is unaffected.
func (r *Registry) Disable(c risk.Category, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.categories[c]
	if st == nil {
		st = &categoryState{}
		r.categories[c] = st
	}
	st.disabled = true
	st.reason = reason
	r.log.Warn().Str("category", string(c)).Str("reason", reason).Msg("category disabled")
}

// Infer scores the vector with the category's active model. Shadow versions
// are run asynchronously and logged; their results never reach the caller.
// Outputs are clamped to [0,1]; NaN and Inf are rejected as errors.
func (r *Registry) Infer(ctx context.Context, c risk.Category, vec features.FeatureVector) (risk.RiskScore, error) {
	r.mu.RLock()
	st := r.categories[c]
	if st == nil {
		r.mu.RUnlock()
		return risk.RiskScore{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	if st.disabled {
		reason := st.reason
		r.mu.RUnlock()
		return risk.RiskScore{}, fmt.Errorf("%w: %s: %s", ErrCategoryDisabled, c, reason)
	}
	var live Model
	liveVersion := st.active
	shadows := make([]registration, 0, len(st.versions))
	for _, reg := range st.versions {
		if reg.version == liveVersion {
			live = reg.model
		} else {
			shadows = append(shadows, reg)
		}
	}
	r.mu.RUnlock()

	if live == nil {
		return risk.RiskScore{}, fmt.Errorf("%w: %q has no active model", ErrUnknownCategory, c)
	}

	for _, sh := range shadows {
		go r.runShadow(c, sh, vec)
	}

	pred, err := live.Predict(ctx, vec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return risk.RiskScore{}, fmt.Errorf("%w: %s %s: %v", ErrTimeout, c, liveVersion, err)
		}
		return risk.RiskScore{}, fmt.Errorf("inference: %s %s: %w", c, liveVersion, err)
	}
	if err := ctx.Err(); err != nil {
		return risk.RiskScore{}, fmt.Errorf("%w: %s %s: %v", ErrTimeout, c, liveVersion, err)
	}
	if math.IsNaN(pred.Value) || math.IsInf(pred.Value, 0) {
		return risk.RiskScore{}, fmt.Errorf("%w: %s %s produced %v", ErrInvalidOutput, c, liveVersion, pred.Value)
	}

	return risk.RiskScore{
		Category:     c,
		Value:        clamp01(pred.Value),
		ModelVersion: liveVersion,
		Factors:      pred.Factors,
		ComputedAt:   time.Now().UTC(),
	}, nil
}

// Versions lists registered versions for a category; the active one first.
func (r *Registry) Versions(c risk.Category) (active string, all []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := r.categories[c]
	if st == nil {
		return "", nil
	}
	all = make([]string, 0, len(st.versions))
	for _, reg := range st.versions {
		all = append(all, reg.version)
	}
	return st.active, all
}

func (r *Registry) runShadow(c risk.Category, reg registration, vec features.FeatureVector) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pred, err := reg.model.Predict(ctx, vec)
	ev := r.log.Info().
		Str("category", string(c)).
		Str("version", reg.version).
		Bool("shadow", true)
	if err != nil {
		ev.Err(err).Msg("shadow prediction failed")
		return
	}
	ev.Float64("value", pred.Value).Strs("factors", pred.Factors).Msg("shadow prediction")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
