// Package service contains the application services of the schedule engine:
// medication registry, intake ledger, stock monitor, reminder planner, and
// account authentication.
package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/mediapp/medsched/internal/errs"
	"github.com/mediapp/medsched/internal/model"
	"github.com/mediapp/medsched/internal/repository"
)

// RegistryService manages medication definitions.
type RegistryService interface {
	// Create validates and stores a new medication definition. A negative
	// RefillThresholdDays means "not set" and takes the configured default;
	// an explicit zero is kept.
	Create(ctx context.Context, ownerID uuid.UUID, m model.Medication) (*model.Medication, error)
	// Update applies a partial update and re-validates invariants.
	Update(ctx context.Context, ownerID, id uuid.UUID, patch model.MedicationPatch) (*model.Medication, error)
	// Deactivate soft-deletes a medication; idempotent, history retained.
	Deactivate(ctx context.Context, ownerID, id uuid.UUID) error
	// Get returns a single owned medication.
	Get(ctx context.Context, ownerID, id uuid.UUID) (*model.Medication, error)
	// ListActive returns all active medications of the owner.
	ListActive(ctx context.Context, ownerID uuid.UUID) ([]model.Medication, error)
}

type RegistryServiceImpl struct {
	meds              repository.MedicationRepository
	defaultRefillDays int
}

// NewRegistryService constructs RegistryService. defaultRefillDays is applied
// when a definition arrives without a refill threshold.
func NewRegistryService(meds repository.MedicationRepository, defaultRefillDays int) *RegistryServiceImpl {
	if defaultRefillDays <= 0 {
		defaultRefillDays = 7
	}
	return &RegistryServiceImpl{meds: meds, defaultRefillDays: defaultRefillDays}
}

// validateMedication checks the registry invariants shared by create and update.
func validateMedication(m *model.Medication) error {
	if m.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: empty owner", errs.ErrValidation)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: empty name", errs.ErrValidation)
	}
	if m.ReminderEnabled && len(m.RecurrenceTimes) == 0 {
		return fmt.Errorf("%w: reminders enabled without recurrence times", errs.ErrValidation)
	}
	for _, tod := range m.RecurrenceTimes {
		if !tod.Valid() {
			return fmt.Errorf("%w: recurrence time %s out of range", errs.ErrValidation, tod)
		}
	}
	if m.StartDate.IsZero() {
		return fmt.Errorf("%w: missing start date", errs.ErrValidation)
	}
	if m.EndDate != nil && model.DateOf(*m.EndDate).Before(model.DateOf(m.StartDate)) {
		return fmt.Errorf("%w: end date before start date", errs.ErrValidation)
	}
	if m.StockRemaining < 0 {
		return fmt.Errorf("%w: negative stock", errs.ErrValidation)
	}
	if m.RefillThresholdDays < 0 {
		return fmt.Errorf("%w: negative refill threshold", errs.ErrValidation)
	}
	return nil
}

// Create assigns an ID, applies defaults, validates, and stores the definition.
func (s *RegistryServiceImpl) Create(ctx context.Context, ownerID uuid.UUID, m model.Medication) (*model.Medication, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	m.ID = id
	m.OwnerID = ownerID
	m.IsActive = true
	if m.RefillThresholdDays < 0 {
		m.RefillThresholdDays = s.defaultRefillDays
	}
	model.SortTimes(m.RecurrenceTimes)
	if err := validateMedication(&m); err != nil {
		return nil, err
	}
	if err := s.meds.Create(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Update loads the definition, applies the patch, re-validates, and saves.
func (s *RegistryServiceImpl) Update(ctx context.Context, ownerID, id uuid.UUID, patch model.MedicationPatch) (*model.Medication, error) {
	m, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		m.Name = *patch.Name
	}
	if patch.Dosage != nil {
		m.Dosage = *patch.Dosage
	}
	if patch.RecurrenceTimes != nil {
		m.RecurrenceTimes = patch.RecurrenceTimes
		model.SortTimes(m.RecurrenceTimes)
	}
	if patch.StartDate != nil {
		m.StartDate = *patch.StartDate
	}
	if patch.ClearEndDate {
		m.EndDate = nil
	} else if patch.EndDate != nil {
		m.EndDate = patch.EndDate
	}
	if patch.StockRemaining != nil {
		m.StockRemaining = *patch.StockRemaining
	}
	if patch.RefillThresholdDays != nil {
		m.RefillThresholdDays = *patch.RefillThresholdDays
	}
	if patch.ReminderEnabled != nil {
		m.ReminderEnabled = *patch.ReminderEnabled
	}

	if err := validateMedication(m); err != nil {
		return nil, err
	}
	if err := s.meds.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Deactivate soft-deletes; calling it on an already inactive medication succeeds.
func (s *RegistryServiceImpl) Deactivate(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	return s.meds.Deactivate(ctx, id)
}

// Get returns a single medication after an ownership check.
func (s *RegistryServiceImpl) Get(ctx context.Context, ownerID, id uuid.UUID) (*model.Medication, error) {
	return s.owned(ctx, ownerID, id)
}

// ListActive returns all active medications of the owner.
func (s *RegistryServiceImpl) ListActive(ctx context.Context, ownerID uuid.UUID) ([]model.Medication, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty owner", errs.ErrValidation)
	}
	return s.meds.ListActive(ctx, ownerID)
}

// owned loads a medication and enforces that the caller owns it.
func (s *RegistryServiceImpl) owned(ctx context.Context, ownerID, id uuid.UUID) (*model.Medication, error) {
	if ownerID == uuid.Nil || id == uuid.Nil {
		return nil, fmt.Errorf("%w: empty owner/id", errs.ErrValidation)
	}
	m, err := s.meds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != ownerID {
		return nil, errs.ErrUnauthorized
	}
	return m, nil
}
