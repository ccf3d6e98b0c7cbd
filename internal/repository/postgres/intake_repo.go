package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mediapp/medsched/internal/model"
	"github.com/mediapp/medsched/internal/repository"
)

// IntakeRepo implements IntakeRepository using PostgreSQL. The table carries a
// unique constraint on (medication_id, scheduled_at) so concurrent writes for
// the same slot serialize into exactly one row.
type IntakeRepo struct{ db *DB }

// NewIntakeRepo constructs an intake repository.
func NewIntakeRepo(db *DB) *IntakeRepo { return &IntakeRepo{db: db} }

// Upsert writes the record for its slot; a second write for the same slot
// overwrites the first (last write wins).
func (r *IntakeRepo) Upsert(ctx context.Context, rec *model.IntakeRecord) (*model.IntakeRecord, error) {
	const q = `
INSERT INTO intake_records (id, owner_id, medication_id, scheduled_at, recorded_at, status, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (medication_id, scheduled_at)
DO UPDATE SET status=EXCLUDED.status, recorded_at=EXCLUDED.recorded_at, notes=EXCLUDED.notes
RETURNING id, owner_id, medication_id, scheduled_at, recorded_at, status, notes`
	row := r.db.Pool.QueryRow(ctx, q,
		rec.ID, rec.OwnerID, rec.MedicationID, rec.ScheduledAt, rec.RecordedAt, string(rec.Status), rec.Notes)
	var out model.IntakeRecord
	if err := row.Scan(&out.ID, &out.OwnerID, &out.MedicationID, &out.ScheduledAt,
		&out.RecordedAt, &out.Status, &out.Notes); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBetween returns the owner's records with scheduled_at in [from, to).
func (r *IntakeRepo) ListBetween(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]model.IntakeRecord, error) {
	const q = `
SELECT id, owner_id, medication_id, scheduled_at, recorded_at, status, notes
FROM intake_records
WHERE owner_id=$1 AND scheduled_at>=$2 AND scheduled_at<$3
ORDER BY scheduled_at ASC`
	return r.queryRecords(ctx, q, ownerID, from, to)
}

// History returns records matching the filter, newest slot first.
func (r *IntakeRepo) History(ctx context.Context, ownerID uuid.UUID, f repository.IntakeFilter) ([]model.IntakeRecord, error) {
	q := `
SELECT id, owner_id, medication_id, scheduled_at, recorded_at, status, notes
FROM intake_records
WHERE owner_id=$1`
	args := []any{ownerID}
	if f.MedicationID != uuid.Nil {
		args = append(args, f.MedicationID)
		q += ` AND medication_id=$` + strconv.Itoa(len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += ` AND scheduled_at>=$` + strconv.Itoa(len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		q += ` AND scheduled_at<$` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY scheduled_at DESC`
	return r.queryRecords(ctx, q, args...)
}

// CountTaken counts taken records scheduled in [from, to).
func (r *IntakeRepo) CountTaken(ctx context.Context, ownerID uuid.UUID, from, to time.Time) (int, error) {
	const q = `
SELECT COUNT(*) FROM intake_records
WHERE owner_id=$1 AND status='taken' AND scheduled_at>=$2 AND scheduled_at<$3`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, ownerID, from, to).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *IntakeRepo) queryRecords(ctx context.Context, q string, args ...any) ([]model.IntakeRecord, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IntakeRecord
	for rows.Next() {
		var rec model.IntakeRecord
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.MedicationID, &rec.ScheduledAt,
			&rec.RecordedAt, &rec.Status, &rec.Notes); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
