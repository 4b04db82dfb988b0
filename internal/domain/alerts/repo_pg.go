package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carewatch/carewatch/internal/domain/risk"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const alertCols = `id, patient_id, rule_id, run_id, seq, severity, status, message,
	cooldown_seconds, escalations, triggered_at, acknowledged_at, acknowledged_by,
	resolved_at, resolved_by`

func scanAlert(row pgx.Row) (*Alert, error) {
	var (
		a          Alert
		cooldownSe int64
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.RuleID, &a.RunID, &a.Seq,
		&a.Severity, &a.Status, &a.Message, &cooldownSe, &a.Escalations,
		&a.TriggeredAt, &a.AcknowledgedAt, &a.AcknowledgedBy,
		&a.ResolvedAt, &a.ResolvedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Cooldown = time.Duration(cooldownSe) * time.Second
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO alert (id, patient_id, rule_id, run_id, seq, severity, status,
			message, cooldown_seconds, escalations, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.PatientID, a.RuleID, a.RunID, a.Seq, a.Severity, a.Status,
		a.Message, int64(a.Cooldown/time.Second), a.Escalations, a.TriggeredAt)
	return err
}

func (r *repoPG) Update(ctx context.Context, a *Alert) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alert
		SET severity = $2, status = $3, message = $4, escalations = $5,
			acknowledged_at = $6, acknowledged_by = $7,
			resolved_at = $8, resolved_by = $9
		WHERE id = $1`,
		a.ID, a.Severity, a.Status, a.Message, a.Escalations,
		a.AcknowledgedAt, a.AcknowledgedBy, a.ResolvedAt, a.ResolvedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+alertCols+` FROM alert WHERE id = $1`, id)
	return scanAlert(row)
}

func (r *repoPG) OpenByKey(ctx context.Context, patientID uuid.UUID, ruleID string) (*Alert, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+alertCols+` FROM alert
		WHERE patient_id = $1 AND rule_id = $2 AND status != 'resolved'
		ORDER BY triggered_at DESC
		LIMIT 1`, patientID, ruleID)
	return scanAlert(row)
}

func (r *repoPG) OpenByPatient(ctx context.Context, patientID uuid.UUID) ([]Alert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+alertCols+` FROM alert
		WHERE patient_id = $1 AND status != 'resolved'
		ORDER BY triggered_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]Alert, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, v)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id", f.PatientID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.Severity != "" {
		add("severity", f.Severity)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM alert"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + alertCols + " FROM alert" + where +
		fmt.Sprintf(" ORDER BY triggered_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := collectAlerts(rows)
	return items, total, err
}

func (r *repoPG) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[risk.Band]int),
	}

	rows, err := r.pool.Query(ctx,
		`SELECT status, severity, COUNT(*) FROM alert GROUP BY status, severity`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status   Status
			severity risk.Band
			count    int
		)
		if err := rows.Scan(&status, &severity, &count); err != nil {
			return st, err
		}
		st.Total += count
		st.ByStatus[status] += count
		st.BySeverity[severity] += count
		if status.Open() {
			st.Open += count
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alert WHERE triggered_at >= $1`,
		time.Now().Add(-24*time.Hour)).Scan(&st.Last24h)
	return st, err
}

func collectAlerts(rows pgx.Rows) ([]Alert, error) {
	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
