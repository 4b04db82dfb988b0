// Package alerts implements the alert lifecycle: at most one open alert per
// (patient, rule) key, transitions linearized per key, cooldown suppression
// after resolution, and in-place severity escalation with re-notification.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/risk"
	"github.com/carewatch/carewatch/internal/domain/rules"
)

// ErrInvalidTransition is returned for state changes the lifecycle forbids,
// such as acknowledging a resolved alert.
var ErrInvalidTransition = errors.New("alerts: invalid state transition")

// Notifier receives alert events for asynchronous delivery. Implementations
// must not block: the lifecycle never waits on channel I/O.
type Notifier interface {
	Notify(event Event)
}

// NopNotifier discards events; used in tests and the rules-validate command.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

type key struct {
	patient uuid.UUID
	rule    string
}

// keyState linearizes transitions for one (patient, rule) key and carries
// the in-process suppression state between alert instances.
type keyState struct {
	mu sync.Mutex

	// lastSeq is the highest per-patient run sequence observed for this
	// key. Intents from lower sequences lost the race and are rejected.
	lastSeq uint64

	// cooldownUntil/cooldownSeverity describe the post-resolution window:
	// re-triggers at or below cooldownSeverity are suppressed until the
	// deadline, higher severities break through.
	cooldownUntil    time.Time
	cooldownSeverity risk.Band
}

// Service is the alert lifecycle manager.
type Service struct {
	repo     Repository
	notifier Notifier
	log      zerolog.Logger

	mu   sync.Mutex
	keys map[key]*keyState

	// floors holds the highest run sequence each patient has completed a
	// sweep for. Keys the run never touched have no keyState to carry the
	// sequence, so the floor is what rejects their late intents.
	floors map[uuid.UUID]uint64

	now func() time.Time
}

func NewService(repo Repository, notifier Notifier, log zerolog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		log:      log.With().Str("component", "alerts").Logger(),
		keys:     make(map[key]*keyState),
		floors:   make(map[uuid.UUID]uint64),
		now:      time.Now,
	}
}

func (s *Service) keyState(k key) *keyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keys[k]
	if !ok {
		ks = &keyState{}
		s.keys[k] = ks
	}
	return ks
}

func (s *Service) patientFloor(patientID uuid.UUID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.floors[patientID]
}

func (s *Service) advanceFloor(patientID uuid.UUID, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.floors[patientID] {
		s.floors[patientID] = seq
	}
}

// Trigger applies one rule intent. Outcomes:
//   - no open alert and no active cooldown: a new alert is created and a
//     triggered event is emitted
//   - open alert with lower severity: escalated in place, re-notified
//   - open alert with equal or higher severity: suppressed
//   - resolved recently at this severity or above: suppressed by cooldown
//   - intent from a superseded run: rejected outright
func (s *Service) Trigger(ctx context.Context, intent rules.AlertIntent) (*Alert, TriggerOutcome, error) {
	k := key{patient: intent.PatientID, rule: intent.RuleID}
	ks := s.keyState(k)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if intent.Seq < ks.lastSeq || intent.Seq < s.patientFloor(intent.PatientID) {
		s.log.Debug().Str("rule_id", intent.RuleID).
			Stringer("patient_id", intent.PatientID).
			Uint64("seq", intent.Seq).Uint64("last_seq", ks.lastSeq).
			Msg("intent from superseded run rejected")
		return nil, OutcomeSuppressedStale, nil
	}
	ks.lastSeq = intent.Seq

	existing, err := s.repo.OpenByKey(ctx, intent.PatientID, intent.RuleID)
	switch {
	case err == nil:
		return s.applyToOpen(ctx, existing, intent)
	case errors.Is(err, ErrNotFound):
		// fall through to create
	default:
		return nil, "", fmt.Errorf("alerts: trigger %s: %w", intent.RuleID, err)
	}

	now := s.now()
	if now.Before(ks.cooldownUntil) && intent.Severity.Rank() <= ks.cooldownSeverity.Rank() {
		s.log.Debug().Str("rule_id", intent.RuleID).
			Stringer("patient_id", intent.PatientID).
			Time("cooldown_until", ks.cooldownUntil).
			Msg("trigger suppressed by cooldown")
		return nil, OutcomeSuppressedCooldown, nil
	}

	a := &Alert{
		ID:          uuid.New(),
		PatientID:   intent.PatientID,
		RuleID:      intent.RuleID,
		RunID:       intent.RunID,
		Seq:         intent.Seq,
		Severity:    intent.Severity,
		Status:      StatusTriggered,
		Message:     intent.Message,
		Cooldown:    intent.Cooldown,
		TriggeredAt: now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, "", fmt.Errorf("alerts: create %s: %w", intent.RuleID, err)
	}

	s.log.Info().Stringer("alert_id", a.ID).Str("rule_id", a.RuleID).
		Stringer("patient_id", a.PatientID).Str("severity", string(a.Severity)).
		Msg("alert triggered")
	s.notifier.Notify(Event{Kind: EventTriggered, Alert: *a})
	return a, OutcomeCreated, nil
}

// applyToOpen handles an intent against an already-open alert: escalate when
// strictly more severe, suppress otherwise. Caller holds the key lock.
func (s *Service) applyToOpen(ctx context.Context, open *Alert, intent rules.AlertIntent) (*Alert, TriggerOutcome, error) {
	if intent.Severity.Rank() <= open.Severity.Rank() {
		return open, OutcomeSuppressedOpen, nil
	}

	open.Severity = intent.Severity
	open.Message = intent.Message
	open.Escalations++
	if err := s.repo.Update(ctx, open); err != nil {
		return nil, "", fmt.Errorf("alerts: escalate %s: %w", open.ID, err)
	}

	s.log.Warn().Stringer("alert_id", open.ID).Str("rule_id", open.RuleID).
		Stringer("patient_id", open.PatientID).Str("severity", string(open.Severity)).
		Int("escalations", open.Escalations).
		Msg("alert escalated")
	s.notifier.Notify(Event{Kind: EventEscalated, Alert: *open})
	return open, OutcomeEscalated, nil
}

// Acknowledge marks a triggered alert as seen by a clinician. Idempotent:
// re-acknowledging is a no-op.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, actor string) (*Alert, error) {
	return s.transition(ctx, id, func(a *Alert, _ *keyState) error {
		switch a.Status {
		case StatusAcknowledged:
			return nil // already done, keep original actor and timestamp
		case StatusTriggered:
			now := s.now()
			a.Status = StatusAcknowledged
			a.AcknowledgedAt = &now
			a.AcknowledgedBy = actor
			return nil
		default:
			return fmt.Errorf("%w: acknowledge from %s", ErrInvalidTransition, a.Status)
		}
	})
}

// Resolve closes an open alert and starts the rule's cooldown window for
// the key at the alert's severity.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, actor string) (*Alert, error) {
	return s.transition(ctx, id, func(a *Alert, ks *keyState) error {
		if !a.Status.Open() {
			return fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, a.Status)
		}
		now := s.now()
		a.Status = StatusResolved
		a.ResolvedAt = &now
		a.ResolvedBy = actor

		if a.Cooldown > 0 {
			ks.cooldownUntil = now.Add(a.Cooldown)
			ks.cooldownSeverity = a.Severity
		}
		return nil
	})
}

// transition reads the alert, locks its key, re-reads under the lock and
// applies fn. The re-read closes the window between lookup and lock.
func (s *Service) transition(ctx context.Context, id uuid.UUID, fn func(*Alert, *keyState) error) (*Alert, error) {
	probe, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	k := key{patient: probe.PatientID, rule: probe.RuleID}
	ks := s.keyState(k)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := a.Status
	if err := fn(a, ks); err != nil {
		return nil, err
	}
	if a.Status != before {
		if err := s.repo.Update(ctx, a); err != nil {
			return nil, err
		}
		s.log.Info().Stringer("alert_id", a.ID).
			Str("from", string(before)).Str("to", string(a.Status)).
			Msg("alert transition")
	}
	return a, nil
}

// AutoResolve closes open alerts for the patient whose rules did not fire in
// the given run, attributed to the system. Alerts touched by a newer run are
// left alone. The run's sequence becomes the patient's floor for future
// intents even when the sweep finds nothing to close.
func (s *Service) AutoResolve(ctx context.Context, patientID uuid.UUID, seq uint64, fired map[string]bool) error {
	s.advanceFloor(patientID, seq)

	open, err := s.repo.OpenByPatient(ctx, patientID)
	if err != nil {
		return fmt.Errorf("alerts: auto-resolve sweep: %w", err)
	}

	for _, a := range open {
		if fired[a.RuleID] {
			continue
		}
		k := key{patient: a.PatientID, rule: a.RuleID}
		ks := s.keyState(k)

		ks.mu.Lock()
		if seq < ks.lastSeq {
			ks.mu.Unlock()
			continue
		}
		ks.lastSeq = seq

		cur, err := s.repo.GetByID(ctx, a.ID)
		if err != nil || !cur.Status.Open() {
			ks.mu.Unlock()
			continue
		}
		now := s.now()
		cur.Status = StatusResolved
		cur.ResolvedAt = &now
		cur.ResolvedBy = SystemActor
		if err := s.repo.Update(ctx, cur); err != nil {
			ks.mu.Unlock()
			return fmt.Errorf("alerts: auto-resolve %s: %w", cur.ID, err)
		}
		if cur.Cooldown > 0 {
			ks.cooldownUntil = now.Add(cur.Cooldown)
			ks.cooldownSeverity = cur.Severity
		}
		ks.mu.Unlock()

		s.log.Info().Stringer("alert_id", cur.ID).Str("rule_id", cur.RuleID).
			Stringer("patient_id", cur.PatientID).
			Msg("alert auto-resolved")
	}
	return nil
}

// Get returns one alert by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns alerts matching the filter plus the unpaginated total.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Alert, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("alerts: invalid status filter %q", f.Status)
	}
	return s.repo.List(ctx, f)
}

// Stats summarizes the alert population.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}
