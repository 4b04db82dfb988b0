package risk

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type scoreRepoPG struct{ pool *pgxpool.Pool }

// NewScoreRepoPG returns a Postgres-backed ScoreRepository.
func NewScoreRepoPG(pool *pgxpool.Pool) ScoreRepository { return &scoreRepoPG{pool: pool} }

const scoreCols = `id, patient_id, run_id, category, value, band, model_version, factors, computed_at`

func scanScore(row pgx.Row) (*RiskScore, error) {
	var s RiskScore
	err := row.Scan(&s.ID, &s.PatientID, &s.RunID, &s.Category, &s.Value, &s.Band,
		&s.ModelVersion, &s.Factors, &s.ComputedAt)
	return &s, err
}

func (r *scoreRepoPG) AppendScores(ctx context.Context, scores []RiskScore) error {
	for i := range scores {
		s := &scores[i]
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		_, err := r.pool.Exec(ctx, `
			INSERT INTO risk_score (id, patient_id, run_id, category, value, band, model_version, factors, computed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			s.ID, s.PatientID, s.RunID, s.Category, s.Value, s.Band, s.ModelVersion, s.Factors, s.ComputedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *scoreRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*RiskScore, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM risk_score WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+scoreCols+` FROM risk_score
		WHERE patient_id = $1 ORDER BY computed_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*RiskScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *scoreRepoPG) LatestByPatient(ctx context.Context, patientID uuid.UUID) ([]*RiskScore, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (category) `+scoreCols+`
		FROM risk_score WHERE patient_id = $1
		ORDER BY category, computed_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RiskScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
