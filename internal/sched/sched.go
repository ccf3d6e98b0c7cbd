// Package sched contains the pure temporal computations of the engine:
// expanding medication definitions into concrete schedule slots, finding the
// next occurrence of a recurrence time, and resolving unrecorded slots into
// pending or missed. Everything here is deterministic and side-effect free.
package sched

import (
	"bytes"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mediapp/medsched/internal/model"
)

// Slot is a single expected-intake point in time for a medication. Slots are
// derived on demand and never persisted.
type Slot struct {
	MedicationID uuid.UUID
	At           time.Time
}

// Expand generates every slot for the given medications between the calendar
// days of from and to, both inclusive. For each active medication whose
// [StartDate, EndDate] window intersects the range, one slot is produced per
// recurrence time per day of the intersection. The result is ordered by
// instant ascending, medication ID as tie-break.
func Expand(meds []model.Medication, from, to time.Time) []Slot {
	fromDay := model.DateOf(from)
	toDay := model.DateOf(to)
	if toDay.Before(fromDay) {
		return nil
	}

	var slots []Slot
	for i := range meds {
		m := &meds[i]
		if !m.IsActive {
			continue
		}
		lo := fromDay
		if s := model.DateOf(m.StartDate); s.After(lo) {
			lo = s
		}
		hi := toDay
		if m.EndDate != nil {
			if e := model.DateOf(*m.EndDate); e.Before(hi) {
				hi = e
			}
		}
		for day := lo; !day.After(hi); day = day.AddDate(0, 0, 1) {
			for _, tod := range m.RecurrenceTimes {
				slots = append(slots, Slot{MedicationID: m.ID, At: tod.On(day)})
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].At.Equal(slots[j].At) {
			return slots[i].At.Before(slots[j].At)
		}
		return bytes.Compare(slots[i].MedicationID.Bytes(), slots[j].MedicationID.Bytes()) < 0
	})
	return slots
}

// NextOccurrence returns the first instant at tod that is not before after:
// today's occurrence if it has not passed yet, otherwise tomorrow's.
func NextOccurrence(tod model.TimeOfDay, after time.Time) time.Time {
	occ := tod.On(after)
	if occ.Before(after) {
		occ = occ.AddDate(0, 0, 1)
	}
	return occ
}

// ResolveStatus derives the read-time status of a slot that has no intake
// record. A slot is pending while it lies in the future or within the grace
// window of now; past that it is missed.
func ResolveStatus(at, now time.Time, grace time.Duration) model.IntakeStatus {
	if now.Sub(at) > grace {
		return model.StatusMissed
	}
	return model.StatusPending
}
