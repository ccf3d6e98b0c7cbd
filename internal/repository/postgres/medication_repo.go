package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/mediapp/medsched/internal/errs"
	"github.com/mediapp/medsched/internal/model"
)

// MedicationRepo implements MedicationRepository using PostgreSQL.
// Recurrence times are stored as a jsonb array of "HH:MM" strings.
type MedicationRepo struct{ db *DB }

// NewMedicationRepo constructs a medication repository.
func NewMedicationRepo(db *DB) *MedicationRepo { return &MedicationRepo{db: db} }

const medicationCols = `id, owner_id, name, dosage, recurrence_times, start_date, end_date,
stock_remaining, refill_threshold_days, reminder_enabled, is_active, created_at, updated_at`

// Create inserts a new medication row.
func (r *MedicationRepo) Create(ctx context.Context, m *model.Medication) error {
	const q = `
INSERT INTO medications
(id, owner_id, name, dosage, recurrence_times, start_date, end_date,
 stock_remaining, refill_threshold_days, reminder_enabled, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	times, err := json.Marshal(m.RecurrenceTimes)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, q,
		m.ID, m.OwnerID, m.Name, m.Dosage, times, m.StartDate, m.EndDate,
		m.StockRemaining, m.RefillThresholdDays, m.ReminderEnabled, m.IsActive)
	if isUniqueViolation(err) {
		return errs.ErrConflict
	}
	return err
}

// Get selects a medication by ID.
func (r *MedicationRepo) Get(ctx context.Context, id uuid.UUID) (*model.Medication, error) {
	q := `SELECT ` + medicationCols + ` FROM medications WHERE id=$1`
	m, err := scanMedication(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// Update rewrites all mutable fields of an existing row.
func (r *MedicationRepo) Update(ctx context.Context, m *model.Medication) error {
	const q = `
UPDATE medications
SET name=$2, dosage=$3, recurrence_times=$4, start_date=$5, end_date=$6,
    stock_remaining=$7, refill_threshold_days=$8, reminder_enabled=$9,
    is_active=$10, updated_at=now()
WHERE id=$1`
	times, err := json.Marshal(m.RecurrenceTimes)
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx, q,
		m.ID, m.Name, m.Dosage, times, m.StartDate, m.EndDate,
		m.StockRemaining, m.RefillThresholdDays, m.ReminderEnabled, m.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes a medication; repeat calls are no-ops.
func (r *MedicationRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE medications SET is_active=false, updated_at=now() WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListActive returns all active medications for the owner.
func (r *MedicationRepo) ListActive(ctx context.Context, ownerID uuid.UUID) ([]model.Medication, error) {
	q := `SELECT ` + medicationCols + ` FROM medications WHERE owner_id=$1 AND is_active ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DecrementStock decrements stock by one, floored at zero, in a single
// statement so concurrent intakes never lose updates. Returns the new and
// prior values; prior==0 means the decrement was a no-op.
func (r *MedicationRepo) DecrementStock(ctx context.Context, id uuid.UUID) (int, int, error) {
	const q = `
WITH prev AS (SELECT stock_remaining FROM medications WHERE id=$1 FOR UPDATE)
UPDATE medications m
SET stock_remaining=GREATEST(m.stock_remaining-1,0), updated_at=now()
FROM prev
WHERE m.id=$1
RETURNING m.stock_remaining, prev.stock_remaining`
	var remaining, prior int
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&remaining, &prior); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, errs.ErrNotFound
		}
		return 0, 0, err
	}
	return remaining, prior, nil
}

// AdjustStock applies a manual correction, clamped at zero.
func (r *MedicationRepo) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	const q = `
UPDATE medications
SET stock_remaining=GREATEST(stock_remaining+$2,0), updated_at=now()
WHERE id=$1
RETURNING stock_remaining`
	var remaining int
	if err := r.db.Pool.QueryRow(ctx, q, id, delta).Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrNotFound
		}
		return 0, err
	}
	return remaining, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanMedication reads one medications row, decoding the jsonb times column.
func scanMedication(row scanner) (*model.Medication, error) {
	var (
		m     model.Medication
		times []byte
	)
	if err := row.Scan(
		&m.ID, &m.OwnerID, &m.Name, &m.Dosage, &times, &m.StartDate, &m.EndDate,
		&m.StockRemaining, &m.RefillThresholdDays, &m.ReminderEnabled, &m.IsActive,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(times, &m.RecurrenceTimes); err != nil {
		return nil, fmt.Errorf("decode recurrence_times: %w", err)
	}
	return &m, nil
}
