package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeliveryFailure is the durable record of an exhausted delivery: the alert's
// audit trail references it, a failure is never silently dropped.
type DeliveryFailure struct {
	ID        uuid.UUID `db:"id" json:"id"`
	AlertID   uuid.UUID `db:"alert_id" json:"alert_id"`
	Channel   string    `db:"channel" json:"channel"`
	Kind      string    `db:"kind" json:"kind"`
	Attempts  int       `db:"attempts" json:"attempts"`
	LastError string    `db:"last_error" json:"last_error"`
	FailedAt  time.Time `db:"failed_at" json:"failed_at"`
}

// FailureRepository persists delivery failures.
type FailureRepository interface {
	Record(ctx context.Context, f DeliveryFailure) error
	ListByAlert(ctx context.Context, alertID uuid.UUID) ([]DeliveryFailure, error)
}

// InMemoryFailureRepo is a FailureRepository for tests and dev mode.
type InMemoryFailureRepo struct {
	mu       sync.RWMutex
	failures []DeliveryFailure
}

func NewInMemoryFailureRepo() *InMemoryFailureRepo {
	return &InMemoryFailureRepo{}
}

func (r *InMemoryFailureRepo) Record(_ context.Context, f DeliveryFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return nil
}

func (r *InMemoryFailureRepo) ListByAlert(_ context.Context, alertID uuid.UUID) ([]DeliveryFailure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []DeliveryFailure
	for _, f := range r.failures {
		if f.AlertID == alertID {
			out = append(out, f)
		}
	}
	return out, nil
}

// All returns every recorded failure, oldest first.
func (r *InMemoryFailureRepo) All() []DeliveryFailure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeliveryFailure, len(r.failures))
	copy(out, r.failures)
	return out
}

type failureRepoPG struct{ pool *pgxpool.Pool }

func NewFailureRepoPG(pool *pgxpool.Pool) FailureRepository {
	return &failureRepoPG{pool: pool}
}

func (r *failureRepoPG) Record(ctx context.Context, f DeliveryFailure) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_failure (id, alert_id, channel, kind, attempts, last_error, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.AlertID, f.Channel, f.Kind, f.Attempts, f.LastError, f.FailedAt)
	return err
}

func (r *failureRepoPG) ListByAlert(ctx context.Context, alertID uuid.UUID) ([]DeliveryFailure, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, alert_id, channel, kind, attempts, last_error, failed_at
		FROM delivery_failure
		WHERE alert_id = $1
		ORDER BY failed_at`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryFailure
	for rows.Next() {
		var f DeliveryFailure
		if err := rows.Scan(&f.ID, &f.AlertID, &f.Channel, &f.Kind,
			&f.Attempts, &f.LastError, &f.FailedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
