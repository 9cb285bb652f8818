package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"agenda/internal/appointment"
	"agenda/internal/auth"
	"agenda/internal/form"
	"agenda/internal/layout"
	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/store"
)

// viewResponse is the JSON shape of GET /api/appointments. Exactly one of
// the projection fields is set, matching View.
type viewResponse struct {
	View        string            `json:"view"`
	Date        string            `json:"date"`
	Timezone    string            `json:"timezone"`
	WeekStart   string            `json:"weekStart"`
	Affordances auth.Affordances  `json:"affordances"`
	Diverged    []string          `json:"diverged"`
	Board       *layout.Board     `json:"board,omitempty"`
	Month       *layout.MonthGrid `json:"month,omitempty"`
	Grid        *layout.TimeGrid  `json:"grid,omitempty"`
	NowLine     *layout.NowLine   `json:"nowLine,omitempty"`
	List        []layout.Item     `json:"list,omitempty"`
}

// handleViews returns one layout projection of the visible collection.
//
// GET /api/appointments?view=board|month|week|day|list&date=YYYY-MM-DD
//   - view: defaults to board
//   - date: anchor day in the configured timezone, defaults to today
func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	claims := claimsOf(r)
	now := s.now()
	q := r.URL.Query()

	anchor := now.In(s.loc)
	if v := q.Get("date"); v != "" {
		d, err := time.ParseInLocation(model.DateLayout, v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		anchor = d
	}

	view := q.Get("view")
	if view == "" {
		view = "board"
	}

	apps := s.store.Visible(claims.Scope())
	opts := s.layoutOptions()
	resp := viewResponse{
		View:        view,
		Date:        anchor.Format(model.DateLayout),
		Timezone:    s.loc.String(),
		WeekStart:   s.cfg.WeekStart,
		Affordances: claims.Affordances(),
		Diverged:    s.divergedIn(apps),
	}

	switch view {
	case "board":
		b := layout.BoardView(apps, now, opts)
		resp.Board = &b
	case "month":
		hs := s.overlay.Refresh(r.Context(), anchor.Year(), s.cfg.Locale)
		m := layout.MonthView(apps, hs, anchor.Year(), anchor.Month(), now, opts)
		resp.Month = &m
	case "week", "day":
		hs := s.overlay.Refresh(r.Context(), anchor.Year(), s.cfg.Locale)
		var g layout.TimeGrid
		if view == "week" {
			g = layout.WeekView(apps, hs, anchor, opts)
		} else {
			g = layout.DayView(apps, hs, anchor, opts)
		}
		nl := g.NowLine(now, s.loc)
		resp.Grid, resp.NowLine = &g, &nl
	case "list":
		resp.List = layout.List(apps, opts)
	default:
		writeError(w, http.StatusBadRequest, "unknown view "+view)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) divergedIn(apps []model.Appointment) []string {
	div := s.store.Diverged()
	out := make([]string, 0, len(div))
	for _, a := range apps {
		if _, ok := div[a.ID]; ok {
			out = append(out, a.ID)
		}
	}
	return out
}

// visible loads the path appointment, answering 404 when it does not exist
// or belongs to another tenant.
func (s *Server) visible(w http.ResponseWriter, r *http.Request) (model.Appointment, bool) {
	id := chi.URLParam(r, "id")
	a, ok := s.store.Get(id)
	if !ok || !claimsOf(r).Scope().Allows(a) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return model.Appointment{}, false
	}
	return a, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a, ok := s.visible(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) formOptions(r *http.Request) form.Options {
	claims := claimsOf(r)
	company := claims.CompanyID
	if claims.SuperAdmin() {
		if c := r.URL.Query().Get("company"); c != "" {
			company = c
		}
	}
	return form.Options{
		CompanyID: company,
		UserID:    claims.UserID,
		Location:  s.loc,
		Now:       s.now,
	}
}

type validationResponse struct {
	Errors form.Errors `json:"errors"`
}

// handleCreate runs the posted draft through a create-mode form controller.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var d form.Draft
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	opts := s.formOptions(r)
	if opts.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company is required")
		return
	}
	c := form.NewController(nil, opts)
	c.Apply(d)
	s.submit(w, r, c, http.StatusCreated)
}

// handleUpdate runs the posted draft through an edit-mode controller bound
// to the stored record.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	prev, ok := s.visible(w, r)
	if !ok {
		return
	}
	var d form.Draft
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c := form.NewController(&prev, s.formOptions(r))
	c.Apply(d)
	s.submit(w, r, c, http.StatusOK)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, c *form.Controller, status int) {
	intent, errs := c.Submit()
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Errors: errs})
		return
	}
	rec, err := s.store.Dispatch(r.Context(), intent)
	s.writeDispatch(w, status, rec, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	a, ok := s.visible(w, r)
	if !ok {
		return
	}
	rec, err := s.store.Complete(r.Context(), a.ID, claimsOf(r).UserID, s.now())
	s.writeDispatch(w, http.StatusOK, rec, err)
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	a, ok := s.visible(w, r)
	if !ok {
		return
	}
	rec, err := s.store.Reopen(r.Context(), a.ID, claimsOf(r).UserID, s.now())
	s.writeDispatch(w, http.StatusOK, rec, err)
}

// moveRequest is a completed drag: the payload read from the drag data and
// the cell it was dropped on. Hour is absent for month cells.
type moveRequest struct {
	Payload string `json:"payload"`
	Day     string `json:"day"`
	Hour    *int   `json:"hour,omitempty"`
}

// handleMove reschedules an appointment dropped on a grid cell.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	prev, ok := s.visible(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := layout.DecodeDragPayload(req.Payload)
	if err != nil || id != prev.ID {
		writeError(w, http.StatusBadRequest, "drag payload does not match appointment")
		return
	}
	day, err := time.ParseInLocation(model.DateLayout, req.Day, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}

	next, err := layout.Reschedule(prev, layout.Drop{Day: day, Hour: req.Hour}, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	next = appointment.ApplyUpdate(prev, next, claimsOf(r).UserID, s.now())
	rec, err := s.store.Dispatch(r.Context(), store.Intent{Type: store.UpdateAppointment, Appointment: next})
	s.writeDispatch(w, http.StatusOK, rec, err)
}

type subtaskRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleAddSubtask(w http.ResponseWriter, r *http.Request) {
	a, ok := s.visible(w, r)
	if !ok {
		return
	}
	var req subtaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st, err := appointment.NewSubtask(strings.TrimSpace(req.Title))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rec, err := s.store.Dispatch(r.Context(), store.Intent{Type: store.AddSubtask, AppointmentID: a.ID, Subtask: st})
	s.writeDispatch(w, http.StatusCreated, rec, err)
}

func (s *Server) handleToggleSubtask(w http.ResponseWriter, r *http.Request) {
	s.subtaskIntent(w, r, store.ToggleSubtaskStatus)
}

func (s *Server) handleDeleteSubtask(w http.ResponseWriter, r *http.Request) {
	s.subtaskIntent(w, r, store.DeleteSubtask)
}

func (s *Server) subtaskIntent(w http.ResponseWriter, r *http.Request, t store.IntentType) {
	a, ok := s.visible(w, r)
	if !ok {
		return
	}
	in := store.Intent{Type: t, AppointmentID: a.ID, SubtaskID: chi.URLParam(r, "sid")}
	rec, err := s.store.Dispatch(r.Context(), in)
	s.writeDispatch(w, http.StatusOK, rec, err)
}

// dispatchResponse wraps a record whose change was applied locally but could
// not be persisted.
type dispatchResponse struct {
	Appointment model.Appointment `json:"appointment"`
	Persisted   bool              `json:"persisted"`
	Error       string            `json:"error"`
}

// writeDispatch maps store errors to HTTP statuses. A persist failure keeps
// the local change, so the record is returned with 202.
func (s *Server) writeDispatch(w http.ResponseWriter, status int, rec model.Appointment, err error) {
	switch {
	case err == nil:
		writeJSON(w, status, rec)
	case errors.Is(err, store.ErrPersist):
		writeJSON(w, http.StatusAccepted, dispatchResponse{Appointment: rec, Persisted: false, Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		appLog.Error("dispatch failed", err, "id", rec.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
