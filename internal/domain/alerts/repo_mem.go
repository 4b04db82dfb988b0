package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carewatch/carewatch/internal/domain/risk"
)

// InMemoryRepo is a Repository for tests and single-node dev mode.
type InMemoryRepo struct {
	mu     sync.RWMutex
	alerts map[uuid.UUID]Alert
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{alerts: make(map[uuid.UUID]Alert)}
}

func (r *InMemoryRepo) Create(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.alerts[a.ID] = *a
	return nil
}

func (r *InMemoryRepo) Update(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[a.ID]; !ok {
		return ErrNotFound
	}
	r.alerts[a.ID] = *a
	return nil
}

func (r *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *InMemoryRepo) OpenByKey(_ context.Context, patientID uuid.UUID, ruleID string) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.alerts {
		if a.PatientID == patientID && a.RuleID == ruleID && a.Status.Open() {
			out := a
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepo) OpenByPatient(_ context.Context, patientID uuid.UUID) ([]Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Alert
	for _, a := range r.alerts {
		if a.PatientID == patientID && a.Status.Open() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out, nil
}

func (r *InMemoryRepo) List(_ context.Context, f ListFilter) ([]Alert, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Alert
	for _, a := range r.alerts {
		if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Severity != "" && string(a.Severity) != f.Severity {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].TriggeredAt.After(matched[j].TriggeredAt) })

	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (r *InMemoryRepo) Stats(_ context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[risk.Band]int),
	}
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, a := range r.alerts {
		st.Total++
		st.ByStatus[a.Status]++
		st.BySeverity[a.Severity]++
		if a.Status.Open() {
			st.Open++
		}
		if a.TriggeredAt.After(cutoff) {
			st.Last24h++
		}
	}
	return st, nil
}
