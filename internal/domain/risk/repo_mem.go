package risk

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryScoreRepo is a thread-safe in-memory ScoreRepository, used in
// tests and when running without a database.
type InMemoryScoreRepo struct {
	mu     sync.RWMutex
	scores []RiskScore
}

// NewInMemoryScoreRepo creates an empty in-memory score repository.
func NewInMemoryScoreRepo() *InMemoryScoreRepo {
	return &InMemoryScoreRepo{}
}

func (r *InMemoryScoreRepo) AppendScores(_ context.Context, scores []RiskScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range scores {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		r.scores = append(r.scores, s)
	}
	return nil
}

func (r *InMemoryScoreRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*RiskScore, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []*RiskScore
	for i := range r.scores {
		if r.scores[i].PatientID == patientID {
			s := r.scores[i]
			filtered = append(filtered, &s)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ComputedAt.After(filtered[j].ComputedAt)
	})
	total := len(filtered)
	if offset >= total {
		return []*RiskScore{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (r *InMemoryScoreRepo) LatestByPatient(_ context.Context, patientID uuid.UUID) ([]*RiskScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[Category]RiskScore)
	for _, s := range r.scores {
		if s.PatientID != patientID {
			continue
		}
		if cur, ok := latest[s.Category]; !ok || s.ComputedAt.After(cur.ComputedAt) {
			latest[s.Category] = s
		}
	}
	var out []*RiskScore
	for _, s := range latest {
		cp := s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}
