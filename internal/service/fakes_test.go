package service

import (
	"context"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mediapp/medsched/internal/errs"
	"github.com/mediapp/medsched/internal/model"
	"github.com/mediapp/medsched/internal/repository"
)

// fakeMedRepo is an in-memory MedicationRepository for service tests.
type fakeMedRepo struct {
	byID map[uuid.UUID]*model.Medication

	createErr error
	updateErr error
	decErr    error

	decCalls int
}

var _ repository.MedicationRepository = (*fakeMedRepo)(nil)

func newFakeMedRepo(meds ...model.Medication) *fakeMedRepo {
	f := &fakeMedRepo{byID: map[uuid.UUID]*model.Medication{}}
	for i := range meds {
		cpy := meds[i]
		f.byID[cpy.ID] = &cpy
	}
	return f
}

func (f *fakeMedRepo) Create(_ context.Context, m *model.Medication) error {
	if f.createErr != nil {
		return f.createErr
	}
	cpy := *m
	f.byID[m.ID] = &cpy
	return nil
}

func (f *fakeMedRepo) Get(_ context.Context, id uuid.UUID) (*model.Medication, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *m
	return &cpy, nil
}

func (f *fakeMedRepo) Update(_ context.Context, m *model.Medication) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.byID[m.ID]; !ok {
		return errs.ErrNotFound
	}
	cpy := *m
	f.byID[m.ID] = &cpy
	return nil
}

func (f *fakeMedRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	m, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	m.IsActive = false
	return nil
}

func (f *fakeMedRepo) ListActive(_ context.Context, ownerID uuid.UUID) ([]model.Medication, error) {
	var out []model.Medication
	for _, m := range f.byID {
		if m.OwnerID == ownerID && m.IsActive {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMedRepo) DecrementStock(_ context.Context, id uuid.UUID) (int, int, error) {
	f.decCalls++
	if f.decErr != nil {
		return 0, 0, f.decErr
	}
	m, ok := f.byID[id]
	if !ok {
		return 0, 0, errs.ErrNotFound
	}
	prior := m.StockRemaining
	if m.StockRemaining > 0 {
		m.StockRemaining--
	}
	return m.StockRemaining, prior, nil
}

func (f *fakeMedRepo) AdjustStock(_ context.Context, id uuid.UUID, delta int) (int, error) {
	m, ok := f.byID[id]
	if !ok {
		return 0, errs.ErrNotFound
	}
	m.StockRemaining += delta
	if m.StockRemaining < 0 {
		m.StockRemaining = 0
	}
	return m.StockRemaining, nil
}

// fakeIntakeRepo is an in-memory IntakeRepository keyed like the real table.
type fakeIntakeRepo struct {
	byKey map[string]*model.IntakeRecord

	upsertErr error
}

var _ repository.IntakeRepository = (*fakeIntakeRepo)(nil)

func newFakeIntakeRepo() *fakeIntakeRepo {
	return &fakeIntakeRepo{byKey: map[string]*model.IntakeRecord{}}
}

func intakeKey(medID uuid.UUID, at time.Time) string {
	return medID.String() + "|" + at.UTC().Format(time.RFC3339)
}

func (f *fakeIntakeRepo) Upsert(_ context.Context, rec *model.IntakeRecord) (*model.IntakeRecord, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	key := intakeKey(rec.MedicationID, rec.ScheduledAt)
	if prev, ok := f.byKey[key]; ok {
		// the row keeps its original id, last write wins for the rest
		prev.Status = rec.Status
		prev.RecordedAt = rec.RecordedAt
		prev.Notes = rec.Notes
		cpy := *prev
		return &cpy, nil
	}
	cpy := *rec
	f.byKey[key] = &cpy
	out := cpy
	return &out, nil
}

func (f *fakeIntakeRepo) ListBetween(_ context.Context, ownerID uuid.UUID, from, to time.Time) ([]model.IntakeRecord, error) {
	var out []model.IntakeRecord
	for _, rec := range f.byKey {
		if rec.OwnerID != ownerID {
			continue
		}
		if rec.ScheduledAt.Before(from) || !rec.ScheduledAt.Before(to) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (f *fakeIntakeRepo) History(_ context.Context, ownerID uuid.UUID, flt repository.IntakeFilter) ([]model.IntakeRecord, error) {
	var out []model.IntakeRecord
	for _, rec := range f.byKey {
		if rec.OwnerID != ownerID {
			continue
		}
		if flt.MedicationID != uuid.Nil && rec.MedicationID != flt.MedicationID {
			continue
		}
		if !flt.From.IsZero() && rec.ScheduledAt.Before(flt.From) {
			continue
		}
		if !flt.To.IsZero() && !rec.ScheduledAt.Before(flt.To) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].ScheduledAt.Before(out[i].ScheduledAt) })
	return out, nil
}

func (f *fakeIntakeRepo) CountTaken(_ context.Context, ownerID uuid.UUID, from, to time.Time) (int, error) {
	n := 0
	for _, rec := range f.byKey {
		if rec.OwnerID != ownerID || rec.Status != model.StatusTaken {
			continue
		}
		if rec.ScheduledAt.Before(from) || !rec.ScheduledAt.Before(to) {
			continue
		}
		n++
	}
	return n, nil
}

// fakeStock records OnIntakeTaken calls for ledger tests.
type fakeStock struct {
	state model.StockState
	err   error
	calls int
}

var _ StockService = (*fakeStock)(nil)

func (f *fakeStock) OnIntakeTaken(_ context.Context, m *model.Medication) (model.StockState, error) {
	f.calls++
	if f.err != nil {
		return model.StockState{}, f.err
	}
	st := f.state
	st.MedicationID = m.ID
	return st, nil
}

func (f *fakeStock) AdjustStock(_ context.Context, _, id uuid.UUID, _ int) (model.StockState, error) {
	return model.StockState{MedicationID: id}, f.err
}
