package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/mediapp/medsched/internal/errs"
	"github.com/mediapp/medsched/internal/model"
	"github.com/mediapp/medsched/internal/repository"
)

// StockService tracks remaining stock and raises refill alerts.
type StockService interface {
	// OnIntakeTaken decrements stock for a confirmed intake and reports the
	// resulting stock state, including exhaustion and refill alerts.
	OnIntakeTaken(ctx context.Context, m *model.Medication) (model.StockState, error)
	// AdjustStock applies a manual correction (restock or fix), clamped at zero.
	AdjustStock(ctx context.Context, ownerID, id uuid.UUID, delta int) (model.StockState, error)
}

type StockServiceImpl struct {
	meds repository.MedicationRepository
}

// NewStockService constructs StockService.
func NewStockService(meds repository.MedicationRepository) *StockServiceImpl {
	return &StockServiceImpl{meds: meds}
}

// OnIntakeTaken decrements stock atomically at the storage layer. Stock never
// goes negative: a decrement at zero is a no-op reported as Exhausted. The
// alert computation is deterministic arithmetic over the definition.
func (s *StockServiceImpl) OnIntakeTaken(ctx context.Context, m *model.Medication) (model.StockState, error) {
	remaining, prior, err := s.meds.DecrementStock(ctx, m.ID)
	if err != nil {
		return model.StockState{}, err
	}
	st := stockState(m, remaining)
	st.Exhausted = prior == 0
	return st, nil
}

// AdjustStock applies delta after an ownership check; the result is clamped
// to zero by the storage layer.
func (s *StockServiceImpl) AdjustStock(ctx context.Context, ownerID, id uuid.UUID, delta int) (model.StockState, error) {
	if ownerID == uuid.Nil || id == uuid.Nil {
		return model.StockState{}, fmt.Errorf("%w: empty owner/id", errs.ErrValidation)
	}
	m, err := s.meds.Get(ctx, id)
	if err != nil {
		return model.StockState{}, err
	}
	if m.OwnerID != ownerID {
		return model.StockState{}, errs.ErrUnauthorized
	}
	remaining, err := s.meds.AdjustStock(ctx, id, delta)
	if err != nil {
		return model.StockState{}, err
	}
	return stockState(m, remaining), nil
}

// stockState derives days-of-stock and the refill alert for the new remaining
// value. Days of stock assume full adherence: remaining / doses per day.
func stockState(m *model.Medication, remaining int) model.StockState {
	st := model.StockState{MedicationID: m.ID, Remaining: remaining}
	doses := m.DosesPerDay()
	if doses == 0 {
		return st
	}
	st.DaysOfStock = float64(remaining) / float64(doses)
	if m.ReminderEnabled && st.DaysOfStock <= float64(m.RefillThresholdDays) {
		st.Alert = &model.RefillAlert{
			MedicationID: m.ID,
			Name:         m.Name,
			DaysOfStock:  st.DaysOfStock,
		}
	}
	return st
}
