// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mediapp/medsched/internal/model"
)

// MedicationRepository provides access to medication definitions and atomic
// stock mutations.
type MedicationRepository interface {
	// Create inserts a new medication definition.
	Create(ctx context.Context, m *model.Medication) error
	// Get loads a medication by ID regardless of owner.
	Get(ctx context.Context, id uuid.UUID) (*model.Medication, error)
	// Update rewrites all mutable fields of an existing definition.
	Update(ctx context.Context, m *model.Medication) error
	// Deactivate sets is_active=false; idempotent for already-inactive rows.
	Deactivate(ctx context.Context, id uuid.UUID) error
	// ListActive returns all active medications for the owner.
	ListActive(ctx context.Context, ownerID uuid.UUID) ([]model.Medication, error)
	// DecrementStock atomically decrements stock by one, floored at zero,
	// and returns the remaining and prior values.
	DecrementStock(ctx context.Context, id uuid.UUID) (remaining, prior int, err error)
	// AdjustStock atomically applies delta to stock, clamped at zero.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (remaining int, err error)
}

// IntakeFilter narrows History queries; zero values mean "no constraint".
// From is inclusive, To is exclusive.
type IntakeFilter struct {
	MedicationID uuid.UUID
	From         time.Time
	To           time.Time
}

// IntakeRepository persists observed intake outcomes keyed by
// (medication_id, scheduled_at).
type IntakeRepository interface {
	// Upsert inserts or overwrites the record for its slot (last write wins)
	// and returns the stored row.
	Upsert(ctx context.Context, rec *model.IntakeRecord) (*model.IntakeRecord, error)
	// ListBetween returns the owner's records with scheduled_at in [from, to),
	// ordered by scheduled_at ascending. Used to reconcile a day's slots.
	ListBetween(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]model.IntakeRecord, error)
	// History returns persisted records matching the filter, scheduled_at
	// descending.
	History(ctx context.Context, ownerID uuid.UUID, f IntakeFilter) ([]model.IntakeRecord, error)
	// CountTaken counts records with status=taken scheduled in [from, to).
	CountTaken(ctx context.Context, ownerID uuid.UUID, from, to time.Time) (int, error)
}
