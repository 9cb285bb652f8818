package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"agenda/internal/appointment"
	"agenda/internal/ics"
	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/store"
)

type holidaysResponse struct {
	Year     int             `json:"year"`
	Locale   string          `json:"locale"`
	Holidays []model.Holiday `json:"holidays"`
}

// handleHolidays returns the overlay for a year.
//
// GET /api/holidays?year=2025&locale=pt-BR
func (s *Server) handleHolidays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year := s.now().In(s.loc).Year()
	if v := q.Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 9999 {
			writeError(w, http.StatusBadRequest, "year must be a number")
			return
		}
		year = n
	}
	locale := q.Get("locale")
	if locale == "" {
		locale = s.cfg.Locale
	}
	writeJSON(w, http.StatusOK, holidaysResponse{
		Year:     year,
		Locale:   locale,
		Holidays: s.overlay.Refresh(r.Context(), year, locale),
	})
}

// handleExport serves the visible collection as an iCalendar feed.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	apps := s.store.Visible(claimsOf(r).Scope())
	body := ics.Export(apps, s.loc, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="agenda.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

type importResponse struct {
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Diverged []string `json:"diverged"`
}

// handleImport reads a text/calendar body into the caller's company. Events
// whose id exists in another tenant are skipped.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	opts := s.formOptions(r)
	if opts.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company is required")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	now := s.now()
	apps, err := ics.Import(body, opts.CompanyID, now)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, ics.ErrEmpty) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	scope := store.Scope{CompanyID: opts.CompanyID}
	resp := importResponse{Diverged: []string{}}
	for _, a := range apps {
		in := store.Intent{Type: store.AddAppointment, Appointment: a}
		if prev, ok := s.store.Get(a.ID); ok {
			if !scope.Allows(prev) {
				resp.Skipped++
				continue
			}
			in = store.Intent{
				Type:        store.UpdateAppointment,
				Appointment: appointment.ApplyUpdate(prev, mergeImported(prev, a), opts.UserID, now),
			}
		}
		_, err := s.store.Dispatch(r.Context(), in)
		switch {
		case err == nil, errors.Is(err, store.ErrPersist):
			if err != nil {
				resp.Diverged = append(resp.Diverged, a.ID)
			}
			if in.Type == store.AddAppointment {
				resp.Created++
			} else {
				resp.Updated++
			}
		default:
			appLog.Warn("ics import: event rejected", "id", a.ID, "err", err)
			resp.Skipped++
		}
	}
	appLog.Info("ics import applied", "company", opts.CompanyID,
		"created", resp.Created, "updated", resp.Updated, "skipped", resp.Skipped)
	writeJSON(w, http.StatusOK, resp)
}

// mergeImported lays the calendar fields of an imported event over the
// stored record. Subtasks, attachments, history and authorship stay.
func mergeImported(prev, in model.Appointment) model.Appointment {
	next := prev.Clone()
	next.Title = in.Title
	next.Description = in.Description
	next.Location = in.Location
	if in.Category != "" {
		next.Category = in.Category
	}
	next.Start, next.End = in.Start, in.End
	next.DueDate = in.DueDate
	next.Reminder = in.Reminder
	next.Status = in.Status
	next.Recurrence = in.Recurrence
	if len(in.Participants) > 0 {
		next.Participants = in.Participants
	}
	return next
}
