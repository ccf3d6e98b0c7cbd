// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// TimeOfDay is a wall-clock intake time (e.g. 08:00) independent of date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h) into a TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("bad time of day %q", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, fmt.Errorf("bad time of day %q", s)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// Valid reports whether the time lies within 00:00..23:59.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// String renders the time as zero-padded "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Before reports whether t is earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	if t.Hour != other.Hour {
		return t.Hour < other.Hour
	}
	return t.Minute < other.Minute
}

// On anchors the time of day onto the calendar date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

// MarshalJSON encodes the time as the "HH:MM" string stored in the DB.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON decodes an "HH:MM" string.
func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SortTimes orders recurrence times ascending within the day.
func SortTimes(times []TimeOfDay) {
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
}

// Medication is a user's regimen entry: what to take, when, and how much is left.
type Medication struct {
	ID                  uuid.UUID
	OwnerID             uuid.UUID // FK -> users.id
	Name                string
	Dosage              string // free text, e.g. "500mg"
	RecurrenceTimes     []TimeOfDay
	StartDate           time.Time  // date, inclusive
	EndDate             *time.Time // date, inclusive; nil = open-ended
	StockRemaining      int
	RefillThresholdDays int
	ReminderEnabled     bool
	IsActive            bool // soft-delete flag; history is never removed
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DosesPerDay is the expected daily intake count assuming full adherence.
func (m *Medication) DosesPerDay() int { return len(m.RecurrenceTimes) }

// ActiveOn reports whether day falls inside the medication's [start, end] window.
func (m *Medication) ActiveOn(day time.Time) bool {
	d := DateOf(day)
	if d.Before(DateOf(m.StartDate)) {
		return false
	}
	if m.EndDate != nil && d.After(DateOf(*m.EndDate)) {
		return false
	}
	return true
}

// MedicationPatch is a partial update; nil fields are left unchanged.
type MedicationPatch struct {
	Name                *string
	Dosage              *string
	RecurrenceTimes     []TimeOfDay // nil = unchanged, empty = clear
	StartDate           *time.Time
	EndDate             *time.Time
	ClearEndDate        bool
	StockRemaining      *int
	RefillThresholdDays *int
	ReminderEnabled     *bool
}

// IntakeStatus is the resolved state of a schedule slot.
type IntakeStatus string

const (
	StatusPending IntakeStatus = "pending"
	StatusTaken   IntakeStatus = "taken"
	StatusSkipped IntakeStatus = "skipped"
	StatusMissed  IntakeStatus = "missed"
)

// Recordable reports whether the status may be written by a user action.
func (s IntakeStatus) Recordable() bool {
	return s == StatusTaken || s == StatusSkipped
}

// IntakeRecord is one observed intake outcome keyed by (medication, slot instant).
type IntakeRecord struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	MedicationID uuid.UUID
	ScheduledAt  time.Time // the slot it answers
	RecordedAt   *time.Time
	Status       IntakeStatus
	Notes        string
}

// RefillAlert signals that remaining stock covers at most the threshold day count.
type RefillAlert struct {
	MedicationID uuid.UUID
	Name         string
	DaysOfStock  float64
}

// StockState is the outcome of a stock mutation.
type StockState struct {
	MedicationID uuid.UUID
	Remaining    int
	DaysOfStock  float64
	Exhausted    bool // decrement requested while stock was already zero
	Alert        *RefillAlert
}

// IntakeResult is returned by RecordIntake: the stored record plus any stock
// side effect when the status was "taken".
type IntakeResult struct {
	Record IntakeRecord
	Stock  *StockState
}

// ReminderInstruction tells the delivery collaborator what to fire and when.
type ReminderInstruction struct {
	MedicationID uuid.UUID
	FireAt       time.Time
	Title        string
	Body         string
}

// AdherenceSummary aggregates intake completion over a window ending at the
// reference instant.
type AdherenceSummary struct {
	From     time.Time
	To       time.Time
	Expected int
	Taken    int
	Rate     float64 // Taken/Expected, 0 when nothing was expected
}

// User represents an account. Passwords are stored only as Argon2id hashes.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Username  string // unique
	PwdHash   []byte
	SaltAuth  []byte
	CreatedAt time.Time
}

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// DateOf truncates t to midnight of its calendar day, keeping the location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
