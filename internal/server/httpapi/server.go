// Package httpapi exposes the schedule engine as a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mediapp/medsched/internal/errs"
	"github.com/mediapp/medsched/internal/model"
	"github.com/mediapp/medsched/internal/repository"
	"github.com/mediapp/medsched/internal/service"
)

const dateLayout = "2006-01-02"

// Server wires services into HTTP handlers.
type Server struct {
	auth        service.AuthService
	registry    service.RegistryService
	ledger      service.LedgerService
	stock       service.StockService
	planner     service.PlannerService
	signKey     []byte
	planHorizon time.Duration
}

// New constructs a Server with injected services.
func New(auth service.AuthService, registry service.RegistryService, ledger service.LedgerService,
	stock service.StockService, planner service.PlannerService, signKey []byte, planHorizon time.Duration) *Server {
	if planHorizon <= 0 {
		planHorizon = 7 * 24 * time.Hour
	}
	return &Server{
		auth: auth, registry: registry, ledger: ledger,
		stock: stock, planner: planner,
		signKey: signKey, planHorizon: planHorizon,
	}
}

// Routes builds the route table. Everything under /api except signup/login
// requires a bearer token.
func (s *Server) Routes() http.Handler {
	authed := http.NewServeMux()
	authed.HandleFunc("POST /api/medications", s.handleCreateMedication)
	authed.HandleFunc("GET /api/medications", s.handleListMedications)
	authed.HandleFunc("GET /api/medications/{id}", s.handleGetMedication)
	authed.HandleFunc("PATCH /api/medications/{id}", s.handleUpdateMedication)
	authed.HandleFunc("DELETE /api/medications/{id}", s.handleDeactivateMedication)
	authed.HandleFunc("POST /api/medications/{id}/stock", s.handleAdjustStock)
	authed.HandleFunc("GET /api/schedule/today", s.handleTodaySchedule)
	authed.HandleFunc("GET /api/schedule", s.handleSlots)
	authed.HandleFunc("POST /api/intakes", s.handleRecordIntake)
	authed.HandleFunc("GET /api/history", s.handleHistory)
	authed.HandleFunc("GET /api/adherence", s.handleAdherence)
	authed.HandleFunc("GET /api/reminders/plan", s.handlePlanReminders)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/signup", s.handleSignup)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/api/", RequireAuth(s.signKey)(authed))
	return mux
}

// --- Auth ---

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: bad json", errs.ErrValidation))
		return
	}
	userID, err := s.auth.Register(r.Context(), req.Name, req.Email, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": userID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: bad json", errs.ErrValidation))
		return
	}
	tok, u, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tok.AccessToken,
		"expires_at":   tok.ExpiresAt.Format(time.RFC3339),
		"user": map[string]string{
			"id":       u.ID.String(),
			"name":     u.Name,
			"email":    u.Email,
			"username": u.Username,
		},
	})
}

// --- Medications ---

type medicationJSON struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Dosage              string   `json:"dosage"`
	RecurrenceTimes     []string `json:"recurrence_times"`
	StartDate           string   `json:"start_date"`
	EndDate             *string  `json:"end_date,omitempty"`
	StockRemaining      int      `json:"stock_remaining"`
	RefillThresholdDays int      `json:"refill_threshold_days"`
	ReminderEnabled     bool     `json:"reminder_enabled"`
	IsActive            bool     `json:"is_active"`
}

func toMedicationJSON(m *model.Medication) medicationJSON {
	out := medicationJSON{
		ID:                  m.ID.String(),
		Name:                m.Name,
		Dosage:              m.Dosage,
		RecurrenceTimes:     make([]string, 0, len(m.RecurrenceTimes)),
		StartDate:           m.StartDate.Format(dateLayout),
		StockRemaining:      m.StockRemaining,
		RefillThresholdDays: m.RefillThresholdDays,
		ReminderEnabled:     m.ReminderEnabled,
		IsActive:            m.IsActive,
	}
	for _, t := range m.RecurrenceTimes {
		out.RecurrenceTimes = append(out.RecurrenceTimes, t.String())
	}
	if m.EndDate != nil {
		d := m.EndDate.Format(dateLayout)
		out.EndDate = &d
	}
	return out
}

func parseTimes(raw []string) ([]model.TimeOfDay, error) {
	out := make([]model.TimeOfDay, 0, len(raw))
	for _, s := range raw {
		t, err := model.ParseTimeOfDay(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", errs.ErrValidation, s)
	}
	return d, nil
}

func (s *Server) handleCreateMedication(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	var req struct {
		Name                string   `json:"name"`
		Dosage              string   `json:"dosage"`
		RecurrenceTimes     []string `json:"recurrence_times"`
		StartDate           string   `json:"start_date"`
		EndDate             *string  `json:"end_date"`
		StockRemaining      int      `json:"stock_remaining"`
		RefillThresholdDays *int     `json:"refill_threshold_days"`
		ReminderEnabled     bool     `json:"reminder_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: bad json", errs.ErrValidation))
		return
	}
	times, err := parseTimes(req.RecurrenceTimes)
	if err != nil {
		writeError(w, err)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, err)
		return
	}
	m := model.Medication{
		Name:                req.Name,
		Dosage:              req.Dosage,
		RecurrenceTimes:     times,
		StartDate:           start,
		StockRemaining:      req.StockRemaining,
		RefillThresholdDays: -1, // unset, the registry applies its default
		ReminderEnabled:     req.ReminderEnabled,
	}
	if req.RefillThresholdDays != nil {
		m.RefillThresholdDays = *req.RefillThresholdDays
	}
	if req.EndDate != nil {
		end, err := parseDate(*req.EndDate)
		if err != nil {
			writeError(w, err)
			return
		}
		m.EndDate = &end
	}
	created, err := s.registry.Create(r.Context(), owner, m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMedicationJSON(created))
}

func (s *Server) handleListMedications(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	meds, err := s.registry.ListActive(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]medicationJSON, 0, len(meds))
	for i := range meds {
		out = append(out, toMedicationJSON(&meds[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad id", errs.ErrValidation)
	}
	return id, nil
}

func (s *Server) handleGetMedication(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	id, err := s.pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := s.registry.Get(r.Context(), owner, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationJSON(m))
}

func (s *Server) handleUpdateMedication(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	id, err := s.pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name                *string  `json:"name"`
		Dosage              *string  `json:"dosage"`
		RecurrenceTimes     []string `json:"recurrence_times"`
		StartDate           *string  `json:"start_date"`
		EndDate             *string  `json:"end_date"`
		ClearEndDate        bool     `json:"clear_end_date"`
		StockRemaining      *int     `json:"stock_remaining"`
		RefillThresholdDays *int     `json:"refill_threshold_days"`
		ReminderEnabled     *bool    `json:"reminder_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: bad json", errs.ErrValidation))
		return
	}
	patch := model.MedicationPatch{
		Name:                req.Name,
		Dosage:              req.Dosage,
		ClearEndDate:        req.ClearEndDate,
		StockRemaining:      req.StockRemaining,
		RefillThresholdDays: req.RefillThresholdDays,
		ReminderEnabled:     req.ReminderEnabled,
	}
	if req.RecurrenceTimes != nil {
		times, err := parseTimes(req.RecurrenceTimes)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.RecurrenceTimes = times
	}
	if req.StartDate != nil {
		start, err := parseDate(*req.StartDate)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.StartDate = &start
	}
	if req.EndDate != nil {
		end, err := parseDate(*req.EndDate)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.EndDate = &end
	}
	m, err := s.registry.Update(r.Context(), owner, id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationJSON(m))
}

func (s *Server) handleDeactivateMedication(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	id, err := s.pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Deactivate(r.Context(), owner, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Stock ---

type stockJSON struct {
	MedicationID string      `json:"medication_id"`
	Remaining    int         `json:"remaining"`
	DaysOfStock  float64     `json:"days_of_stock"`
	Exhausted    bool        `json:"exhausted,omitempty"`
	RefillAlert  *refillJSON `json:"refill_alert,omitempty"`
}

type refillJSON struct {
	MedicationID string  `json:"medication_id"`
	Name         string  `json:"name"`
	DaysOfStock  float64 `json:"days_of_stock"`
}

func toStockJSON(st *model.StockState) stockJSON {
	out := stockJSON{
		MedicationID: st.MedicationID.String(),
		Remaining:    st.Remaining,
		DaysOfStock:  st.DaysOfStock,
		Exhausted:    st.Exhausted,
	}
	if st.Alert != nil {
		out.RefillAlert = &refillJSON{
			MedicationID: st.Alert.MedicationID.String(),
			Name:         st.Alert.Name,
			DaysOfStock:  st.Alert.DaysOfStock,
		}
	}
	return out
}

func (s *Server) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	id, err := s.pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: bad json", errs.ErrValidation))
		return
	}
	st, err := s.stock.AdjustStock(r.Context(), owner, id, req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockJSON(&st))
}

// --- Schedule & ledger ---

type doseJSON struct {
	MedicationID string  `json:"medication_id"`
	Name         string  `json:"name"`
	Dosage       string  `json:"dosage"`
	ScheduledAt  string  `json:"scheduled_at"`
	Status       string  `json:"status"`
	Notes        string  `json:"notes,omitempty"`
	RecordedAt   *string `json:"recorded_at,omitempty"`
}

func (s *Server) handleTodaySchedule(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	ref := time.Now()
	if at := r.URL.Query().Get("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeError(w, fmt.Errorf("%w: bad reference instant", errs.ErrValidation))
			return
		}
		ref = parsed
	}
	doses, err := s.ledger.TodaySchedule(r.Context(), owner, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]doseJSON, 0, len(doses))
	for _, d := range doses {
		dj := doseJSON{
			MedicationID: d.Medication.ID.String(),
			Name:         d.Medication.Name,
			Dosage:       d.Medication.Dosage,
			ScheduledAt:  d.ScheduledAt.Format(time.RFC3339),
			Status:       string(d.Status),
		}
		if d.Record != nil {
			dj.Notes = d.Record.Notes
			if d.Record.RecordedAt != nil {
				ts := d.Record.RecordedAt.Format(time.RFC3339)
				dj.RecordedAt = &ts
			}
		}
		out = append(out, dj)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, err)
		return
	}
	slots, err := s.ledger.Slots(r.Context(), owner, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	type slotJSON struct {
		MedicationID string `json:"medication_id"`
		ScheduledAt  string `json:"scheduled_at"`
	}
	out := make([]slotJSON, 0, len(slots))
	for _, sl := range slots {
		out = append(out, slotJSON{
			MedicationID: sl.MedicationID.String(),
			ScheduledAt:  sl.At.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecordIntake(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	var req struct {
		MedicationID string `json:"medication_id"`
		ScheduledAt  string `json:"scheduled_at"`
		Status       string `json:"status"`
		Notes        string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: bad json", errs.ErrValidation))
		return
	}
	medID, err := uuid.FromString(req.MedicationID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad medication id", errs.ErrValidation))
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad scheduled instant", errs.ErrValidation))
		return
	}
	res, err := s.ledger.RecordIntake(r.Context(), owner, medID, at, model.IntakeStatus(req.Status), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{"record": toRecordJSON(&res.Record)}
	if res.Stock != nil {
		body["stock"] = toStockJSON(res.Stock)
	}
	writeJSON(w, http.StatusOK, body)
}

type recordJSON struct {
	ID           string  `json:"id"`
	MedicationID string  `json:"medication_id"`
	ScheduledAt  string  `json:"scheduled_at"`
	RecordedAt   *string `json:"recorded_at,omitempty"`
	Status       string  `json:"status"`
	Notes        string  `json:"notes,omitempty"`
}

func toRecordJSON(rec *model.IntakeRecord) recordJSON {
	out := recordJSON{
		ID:           rec.ID.String(),
		MedicationID: rec.MedicationID.String(),
		ScheduledAt:  rec.ScheduledAt.Format(time.RFC3339),
		Status:       string(rec.Status),
		Notes:        rec.Notes,
	}
	if rec.RecordedAt != nil {
		ts := rec.RecordedAt.Format(time.RFC3339)
		out.RecordedAt = &ts
	}
	return out
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	var f repository.IntakeFilter
	q := r.URL.Query()
	if raw := q.Get("medication_id"); raw != "" {
		id, err := uuid.FromString(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: bad medication id", errs.ErrValidation))
			return
		}
		f.MedicationID = id
	}
	if raw := q.Get("from"); raw != "" {
		from, err := parseDate(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		f.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := parseDate(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		// to names a calendar day; cover it through its last second.
		f.To = to.AddDate(0, 0, 1)
	}
	recs, err := s.ledger.History(r.Context(), owner, f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]recordJSON, 0, len(recs))
	for i := range recs {
		out = append(out, toRecordJSON(&recs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdherence(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	ref := time.Now()
	var from time.Time
	switch window := r.URL.Query().Get("window"); window {
	case "", "day":
		from = model.DateOf(ref)
	case "week":
		from = model.DateOf(ref).AddDate(0, 0, -6)
	case "month":
		from = model.DateOf(ref).AddDate(0, -1, 0)
	case "year":
		from = model.DateOf(ref).AddDate(-1, 0, 0)
	default:
		writeError(w, fmt.Errorf("%w: unknown window %q", errs.ErrValidation, window))
		return
	}
	sum, err := s.ledger.Adherence(r.Context(), owner, from, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":     sum.From.Format(time.RFC3339),
		"to":       sum.To.Format(time.RFC3339),
		"expected": sum.Expected,
		"taken":    sum.Taken,
		"rate":     sum.Rate,
	})
}

func (s *Server) handlePlanReminders(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerIDFromCtx(r.Context())
	horizon := s.planHorizon
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: bad horizon", errs.ErrValidation))
			return
		}
		horizon = parsed
	}
	plan, err := s.planner.PlanReminders(r.Context(), owner, time.Now(), horizon)
	if err != nil {
		writeError(w, err)
		return
	}
	type reminderJSON struct {
		MedicationID string `json:"medication_id"`
		FireAt       string `json:"fire_at"`
		Title        string `json:"title"`
		Body         string `json:"body"`
	}
	out := make([]reminderJSON, 0, len(plan))
	for _, ins := range plan {
		out = append(out, reminderJSON{
			MedicationID: ins.MedicationID.String(),
			FireAt:       ins.FireAt.Format(time.RFC3339),
			Title:        ins.Title,
			Body:         ins.Body,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
