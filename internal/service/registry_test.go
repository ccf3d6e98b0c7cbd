package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/mediapp/medsched/internal/errs"
	"github.com/mediapp/medsched/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validDef() model.Medication {
	return model.Medication{
		Name:            "Metformin",
		Dosage:          "500mg",
		RecurrenceTimes: []model.TimeOfDay{{Hour: 8}, {Hour: 20}},
		StartDate:       day(2024, 1, 1),
		StockRemaining:  30,
		ReminderEnabled: true,
	}
}

func TestRegistry_Create_AssignsIDAndDefaults(t *testing.T) {
	t.Parallel()
	repo := newFakeMedRepo()
	s := NewRegistryService(repo, 5)
	owner := uuid.Must(uuid.NewV4())

	def := validDef()
	def.RefillThresholdDays = -1 // not set
	m, err := s.Create(context.Background(), owner, def)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, m.ID)
	require.Equal(t, owner, m.OwnerID)
	require.True(t, m.IsActive)
	require.Equal(t, 5, m.RefillThresholdDays)
}

func TestRegistry_Create_ExplicitZeroThresholdKept(t *testing.T) {
	t.Parallel()
	s := NewRegistryService(newFakeMedRepo(), 5)

	def := validDef()
	def.RefillThresholdDays = 0
	m, err := s.Create(context.Background(), uuid.Must(uuid.NewV4()), def)
	require.NoError(t, err)
	require.Equal(t, 0, m.RefillThresholdDays)
}

func TestRegistry_Create_SortsRecurrenceTimes(t *testing.T) {
	t.Parallel()
	s := NewRegistryService(newFakeMedRepo(), 0)
	owner := uuid.Must(uuid.NewV4())

	def := validDef()
	def.RecurrenceTimes = []model.TimeOfDay{{Hour: 20}, {Hour: 8}, {Hour: 12, Minute: 30}}
	m, err := s.Create(context.Background(), owner, def)
	require.NoError(t, err)
	require.Equal(t, []model.TimeOfDay{{Hour: 8}, {Hour: 12, Minute: 30}, {Hour: 20}}, m.RecurrenceTimes)
}

func TestRegistry_Create_Validation(t *testing.T) {
	t.Parallel()
	s := NewRegistryService(newFakeMedRepo(), 0)
	owner := uuid.Must(uuid.NewV4())
	ctx := context.Background()

	cases := map[string]func(*model.Medication){
		"empty name":              func(m *model.Medication) { m.Name = "" },
		"reminders without times": func(m *model.Medication) { m.RecurrenceTimes = nil },
		"time out of range":       func(m *model.Medication) { m.RecurrenceTimes = []model.TimeOfDay{{Hour: 24}} },
		"missing start date":      func(m *model.Medication) { m.StartDate = time.Time{} },
		"end before start":        func(m *model.Medication) { e := day(2023, 12, 1); m.EndDate = &e },
		"negative stock":          func(m *model.Medication) { m.StockRemaining = -1 },
	}
	for name, mutate := range cases {
		def := validDef()
		mutate(&def)
		_, err := s.Create(ctx, owner, def)
		require.ErrorIs(t, err, errs.ErrValidation, "case %q", name)
	}
}

func TestRegistry_Create_NoTimesOKWhenRemindersOff(t *testing.T) {
	t.Parallel()
	s := NewRegistryService(newFakeMedRepo(), 0)

	def := validDef()
	def.ReminderEnabled = false
	def.RecurrenceTimes = nil
	_, err := s.Create(context.Background(), uuid.Must(uuid.NewV4()), def)
	require.NoError(t, err)
}

func TestRegistry_Update_AppliesPatchAndRevalidates(t *testing.T) {
	t.Parallel()
	owner := uuid.Must(uuid.NewV4())
	existing := validDef()
	existing.ID = uuid.Must(uuid.NewV4())
	existing.OwnerID = owner
	existing.IsActive = true
	repo := newFakeMedRepo(existing)
	s := NewRegistryService(repo, 0)

	newName := "Metformin XR"
	stock := 60
	m, err := s.Update(context.Background(), owner, existing.ID, model.MedicationPatch{
		Name:           &newName,
		StockRemaining: &stock,
	})
	require.NoError(t, err)
	require.Equal(t, "Metformin XR", m.Name)
	require.Equal(t, 60, m.StockRemaining)
	// untouched fields survive
	require.Equal(t, existing.RecurrenceTimes, m.RecurrenceTimes)

	// a patch violating invariants is rejected
	bad := -2
	_, err = s.Update(context.Background(), owner, existing.ID, model.MedicationPatch{StockRemaining: &bad})
	require.ErrorIs(t, err, errs.ErrValidation)

	badThreshold := -1
	_, err = s.Update(context.Background(), owner, existing.ID, model.MedicationPatch{RefillThresholdDays: &badThreshold})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestRegistry_Update_UnknownID(t *testing.T) {
	t.Parallel()
	s := NewRegistryService(newFakeMedRepo(), 0)
	_, err := s.Update(context.Background(), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), model.MedicationPatch{})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRegistry_Update_OwnershipMismatch(t *testing.T) {
	t.Parallel()
	owner := uuid.Must(uuid.NewV4())
	existing := validDef()
	existing.ID = uuid.Must(uuid.NewV4())
	existing.OwnerID = owner
	s := NewRegistryService(newFakeMedRepo(existing), 0)

	_, err := s.Update(context.Background(), uuid.Must(uuid.NewV4()), existing.ID, model.MedicationPatch{})
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestRegistry_Deactivate_IdempotentAndKeepsHistoryRow(t *testing.T) {
	t.Parallel()
	owner := uuid.Must(uuid.NewV4())
	existing := validDef()
	existing.ID = uuid.Must(uuid.NewV4())
	existing.OwnerID = owner
	existing.IsActive = true
	repo := newFakeMedRepo(existing)
	s := NewRegistryService(repo, 0)
	ctx := context.Background()

	require.NoError(t, s.Deactivate(ctx, owner, existing.ID))
	require.NoError(t, s.Deactivate(ctx, owner, existing.ID)) // second call is a no-op

	m, err := repo.Get(ctx, existing.ID)
	require.NoError(t, err)
	require.False(t, m.IsActive)

	list, err := s.ListActive(ctx, owner)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRegistry_ListActive_EmptyOwner(t *testing.T) {
	t.Parallel()
	s := NewRegistryService(newFakeMedRepo(), 0)
	_, err := s.ListActive(context.Background(), uuid.Nil)
	require.True(t, errors.Is(err, errs.ErrValidation))
}
