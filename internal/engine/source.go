package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/carewatch/carewatch/internal/domain/features"
)

// ErrNoSnapshot is returned when no observation data exists for a patient.
var ErrNoSnapshot = errors.New("engine: no snapshot for patient")

// SnapshotSource supplies the read-only patient snapshot an evaluation run
// scores from. The patient/observation store is an external collaborator;
// this is its seam.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, patientID uuid.UUID) (features.PatientSnapshot, error)
}

// InMemorySnapshotStore is a SnapshotSource fed through the ingestion
// endpoint. Suitable for single-node deployments and tests.
type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]features.PatientSnapshot
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{snapshots: make(map[uuid.UUID]features.PatientSnapshot)}
}

func (s *InMemorySnapshotStore) GetSnapshot(_ context.Context, patientID uuid.UUID) (features.PatientSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[patientID]
	if !ok {
		return features.PatientSnapshot{}, ErrNoSnapshot
	}
	return snap, nil
}

// Put replaces the patient's snapshot with fresher observations.
func (s *InMemorySnapshotStore) Put(snap features.PatientSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.PatientID] = snap
}
