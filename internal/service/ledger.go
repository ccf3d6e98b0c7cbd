package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mediapp/medsched/internal/errs"
	"github.com/mediapp/medsched/internal/model"
	"github.com/mediapp/medsched/internal/repository"
	"github.com/mediapp/medsched/internal/sched"
)

// ScheduledDose is one slot of the day joined with its resolved status.
type ScheduledDose struct {
	Medication  *model.Medication
	ScheduledAt time.Time
	Status      model.IntakeStatus
	Record      *model.IntakeRecord // nil when the status is derived
}

// LedgerService reconciles generated slots with recorded intake events.
type LedgerService interface {
	// TodaySchedule returns every slot of ref's calendar day with its status.
	TodaySchedule(ctx context.Context, ownerID uuid.UUID, ref time.Time) ([]ScheduledDose, error)
	// Slots expands the owner's schedule over an arbitrary inclusive date range.
	Slots(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]sched.Slot, error)
	// RecordIntake upserts the outcome for a slot; taken decrements stock.
	RecordIntake(ctx context.Context, ownerID, medicationID uuid.UUID, scheduledAt time.Time, status model.IntakeStatus, notes string) (*model.IntakeResult, error)
	// History returns persisted records only, newest slot first.
	History(ctx context.Context, ownerID uuid.UUID, f repository.IntakeFilter) ([]model.IntakeRecord, error)
	// Adherence summarizes taken vs expected doses over [from, ref].
	Adherence(ctx context.Context, ownerID uuid.UUID, from, ref time.Time) (*model.AdherenceSummary, error)
}

type LedgerServiceImpl struct {
	meds    repository.MedicationRepository
	intakes repository.IntakeRepository
	stock   StockService
	grace   time.Duration
}

// NewLedgerService constructs LedgerService. grace is the window after a
// slot's instant during which an unrecorded dose still counts as pending.
func NewLedgerService(meds repository.MedicationRepository, intakes repository.IntakeRepository, stock StockService, grace time.Duration) *LedgerServiceImpl {
	if grace <= 0 {
		grace = 3 * time.Hour
	}
	return &LedgerServiceImpl{meds: meds, intakes: intakes, stock: stock, grace: grace}
}

// TodaySchedule joins the day's generated slots with persisted records.
// Unrecorded slots resolve at read time: pending within the grace window or
// in the future, missed beyond it. Nothing is written.
func (s *LedgerServiceImpl) TodaySchedule(ctx context.Context, ownerID uuid.UUID, ref time.Time) ([]ScheduledDose, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty owner", errs.ErrValidation)
	}
	meds, err := s.meds.ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	day := model.DateOf(ref)
	slots := sched.Expand(meds, day, day)

	recs, err := s.intakes.ListBetween(ctx, ownerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*model.IntakeRecord, len(recs))
	for i := range recs {
		byKey[slotKey(recs[i].MedicationID, recs[i].ScheduledAt)] = &recs[i]
	}
	medByID := make(map[uuid.UUID]*model.Medication, len(meds))
	for i := range meds {
		medByID[meds[i].ID] = &meds[i]
	}

	out := make([]ScheduledDose, 0, len(slots))
	for _, slot := range slots {
		d := ScheduledDose{
			Medication:  medByID[slot.MedicationID],
			ScheduledAt: slot.At,
		}
		if rec, ok := byKey[slotKey(slot.MedicationID, slot.At)]; ok {
			d.Status = rec.Status
			d.Record = rec
		} else {
			d.Status = sched.ResolveStatus(slot.At, ref, s.grace)
		}
		out = append(out, d)
	}
	return out, nil
}

// Slots expands the owner's active medications over [from, to], both
// inclusive calendar days. Pure read, no side effects.
func (s *LedgerServiceImpl) Slots(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]sched.Slot, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty owner", errs.ErrValidation)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end before start", errs.ErrValidation)
	}
	meds, err := s.meds.ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return sched.Expand(meds, from, to), nil
}

// RecordIntake upserts the outcome for (medicationID, scheduledAt). Calling
// it twice for the same slot deterministically keeps the second write. On
// taken, the stock monitor runs synchronously and its outcome is returned
// alongside the record; stock exhaustion is a signal, never an error.
func (s *LedgerServiceImpl) RecordIntake(ctx context.Context, ownerID, medicationID uuid.UUID, scheduledAt time.Time, status model.IntakeStatus, notes string) (*model.IntakeResult, error) {
	if ownerID == uuid.Nil || medicationID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty owner/medication", errs.ErrValidation)
	}
	if !status.Recordable() {
		return nil, fmt.Errorf("%w: status %q not recordable", errs.ErrValidation, status)
	}
	if scheduledAt.IsZero() {
		return nil, fmt.Errorf("%w: missing scheduled instant", errs.ErrValidation)
	}

	m, err := s.meds.Get(ctx, medicationID)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != ownerID {
		// unknown and not-owned look the same to the caller
		return nil, errs.ErrNotFound
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	rec, err := s.intakes.Upsert(ctx, &model.IntakeRecord{
		ID:           id,
		OwnerID:      ownerID,
		MedicationID: medicationID,
		ScheduledAt:  scheduledAt,
		RecordedAt:   &now,
		Status:       status,
		Notes:        notes,
	})
	if err != nil {
		return nil, err
	}

	res := &model.IntakeResult{Record: *rec}
	if status == model.StatusTaken {
		st, err := s.stock.OnIntakeTaken(ctx, m)
		if err != nil {
			return nil, err
		}
		res.Stock = &st
	}
	return res, nil
}

// History returns persisted records only; derived pending/missed slots with
// no record are excluded.
func (s *LedgerServiceImpl) History(ctx context.Context, ownerID uuid.UUID, f repository.IntakeFilter) ([]model.IntakeRecord, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty owner", errs.ErrValidation)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, fmt.Errorf("%w: range end before start", errs.ErrValidation)
	}
	return s.intakes.History(ctx, ownerID, f)
}

// Adherence counts taken doses against doses expected up to ref. Expected
// slots come from currently active medications, while taken records survive
// deactivation, so the rate is clamped at 1.
func (s *LedgerServiceImpl) Adherence(ctx context.Context, ownerID uuid.UUID, from, ref time.Time) (*model.AdherenceSummary, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty owner", errs.ErrValidation)
	}
	if ref.Before(from) {
		return nil, fmt.Errorf("%w: reference before window start", errs.ErrValidation)
	}
	meds, err := s.meds.ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	expected := 0
	for _, slot := range sched.Expand(meds, from, ref) {
		if slot.At.Before(ref) {
			expected++
		}
	}
	taken, err := s.intakes.CountTaken(ctx, ownerID, from, ref)
	if err != nil {
		return nil, err
	}
	sum := &model.AdherenceSummary{From: from, To: ref, Expected: expected, Taken: taken}
	if expected > 0 {
		sum.Rate = math.Min(float64(taken)/float64(expected), 1)
	}
	return sum, nil
}

func slotKey(medID uuid.UUID, at time.Time) string {
	return medID.String() + "|" + at.UTC().Format(time.RFC3339)
}
