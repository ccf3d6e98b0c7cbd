package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mediapp/medsched/internal/errs"
	"github.com/mediapp/medsched/internal/model"
	"github.com/mediapp/medsched/internal/repository"
	"github.com/mediapp/medsched/internal/sched"
)

// PlannerService translates upcoming slots into reminder instructions for the
// external delivery collaborator. The planner is stateless: every call
// recomputes from current registry state, so deactivating a medication simply
// removes its instructions from the next pass.
type PlannerService interface {
	// PlanReminders returns every instruction due in [now, now+horizon].
	PlanReminders(ctx context.Context, ownerID uuid.UUID, now time.Time, horizon time.Duration) ([]model.ReminderInstruction, error)
}

type PlannerServiceImpl struct {
	meds repository.MedicationRepository
}

// NewPlannerService constructs PlannerService.
func NewPlannerService(meds repository.MedicationRepository) *PlannerServiceImpl {
	return &PlannerServiceImpl{meds: meds}
}

// PlanReminders walks each active, reminder-enabled medication and emits one
// instruction per recurrence occurrence inside the horizon, clipped to the
// medication's own active window. A refill reminder fires immediately when
// remaining stock covers at most the threshold day count.
func (s *PlannerServiceImpl) PlanReminders(ctx context.Context, ownerID uuid.UUID, now time.Time, horizon time.Duration) ([]model.ReminderInstruction, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty owner", errs.ErrValidation)
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: non-positive horizon", errs.ErrValidation)
	}
	meds, err := s.meds.ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	end := now.Add(horizon)
	var out []model.ReminderInstruction
	for i := range meds {
		m := &meds[i]
		if !m.ReminderEnabled {
			continue
		}
		for _, tod := range m.RecurrenceTimes {
			for occ := sched.NextOccurrence(tod, now); !occ.After(end); occ = occ.AddDate(0, 0, 1) {
				if !m.ActiveOn(occ) {
					continue
				}
				out = append(out, doseReminder(m, occ))
			}
		}
		if alert := refillDue(m); alert != nil {
			out = append(out, refillReminder(m, now))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

// refillDue reports whether the medication's stock has crossed its refill
// threshold, assuming full adherence.
func refillDue(m *model.Medication) *model.RefillAlert {
	doses := m.DosesPerDay()
	if doses == 0 {
		return nil
	}
	days := float64(m.StockRemaining) / float64(doses)
	if days > float64(m.RefillThresholdDays) {
		return nil
	}
	return &model.RefillAlert{MedicationID: m.ID, Name: m.Name, DaysOfStock: days}
}

func doseReminder(m *model.Medication, at time.Time) model.ReminderInstruction {
	body := m.Name
	if m.Dosage != "" {
		body += " - " + m.Dosage
	}
	return model.ReminderInstruction{
		MedicationID: m.ID,
		FireAt:       at,
		Title:        "Time to take your medication!",
		Body:         body,
	}
}

// refillReminder fires immediately: refill urgency is not time-of-day-bound.
func refillReminder(m *model.Medication, now time.Time) model.ReminderInstruction {
	return model.ReminderInstruction{
		MedicationID: m.ID,
		FireAt:       now,
		Title:        "Medication Refill Reminder",
		Body:         fmt.Sprintf("Time to refill %s. You're running low!", m.Name),
	}
}
