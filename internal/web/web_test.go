package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenda/internal/auth"
	"agenda/internal/config"
	"agenda/internal/holiday"
	"agenda/internal/layout"
	"agenda/internal/model"
	"agenda/internal/store"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	srv    *Server
	store  *store.Store
	signer *auth.Signer
	http   *httptest.Server
}

func newFixture(t *testing.T, p store.Persister) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "ops", Password: "s3cret"}

	signer, err := auth.NewSigner("test-secret", time.Hour)
	require.NoError(t, err)
	st := store.New(p)
	overlay := holiday.NewOverlay(holiday.SourceFunc(func(_ context.Context, year int) ([]model.Holiday, error) {
		return []model.Holiday{{Date: time.Date(year, 3, 4, 0, 0, 0, 0, time.UTC), Name: "Carnaval", Type: "national"}}, nil
	}))

	srv := NewServer(cfg, Deps{Store: st, Signer: signer, Overlay: overlay, Now: func() time.Time { return now }})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &fixture{srv: srv, store: st, signer: signer, http: hs}
}

func (f *fixture) token(t *testing.T, company string, caps ...auth.Capability) string {
	t.Helper()
	tok, err := f.signer.Issue(auth.Claims{UserID: "u-" + company, CompanyID: company, Role: "agent", Capabilities: caps})
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func seed(t *testing.T, st *store.Store, id, company string, start time.Time) model.Appointment {
	t.Helper()
	a := model.Appointment{
		ID:        id,
		CompanyID: company,
		Title:     "Reunião " + id,
		Start:     start,
		End:       start.Add(time.Hour),
		Status:    model.StatusScheduled,
		CreatedBy: "seed",
		CreatedAt: now,
		UpdatedAt: now,
		Subtasks:  []model.Subtask{},
		History:   []model.HistoryEntry{},
	}
	_, err := st.Dispatch(context.Background(), store.Intent{Type: store.AddAppointment, Appointment: a})
	require.NoError(t, err)
	return a
}

func TestHealth_NoAuth(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestAPI_RequiresBearer(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodGet, "/api/appointments", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/appointments", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "invalid token")
}

func TestIssueToken_BasicAuth(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"userId":"u9","companyId":"acme","capabilities":["appointments.edit"]}`

	resp, _ := f.do(t, http.MethodPost, "/auth/token", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, f.http.URL+"/auth/token", strings.NewReader(body))
	require.NoError(t, err)
	req.SetBasicAuth("ops", "s3cret")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out tokenResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	claims, err := f.signer.Parse(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.CompanyID)
	assert.True(t, claims.HasPermission(auth.CapEdit))
}

func TestViews_TenantFilteredWithAffordances(t *testing.T) {
	f := newFixture(t, nil)
	seed(t, f.store, "a1", "acme", now.Add(2*time.Hour))
	seed(t, f.store, "b1", "globex", now.Add(3*time.Hour))

	resp, body := f.do(t, http.MethodGet, "/api/appointments?view=board", f.token(t, "acme", auth.CapReschedule), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out viewResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotNil(t, out.Board)
	today := out.Board.Column(layout.BucketToday)
	require.Len(t, today, 1)
	assert.Equal(t, "a1", today[0].ID)
	assert.True(t, out.Affordances.Drag)
	assert.False(t, out.Affordances.Edit)
	assert.False(t, out.Affordances.Delete)
}

func TestViews_MonthCarriesHolidays(t *testing.T) {
	f := newFixture(t, nil)
	seed(t, f.store, "a1", "acme", now)

	resp, body := f.do(t, http.MethodGet, "/api/appointments?view=month&date=2025-03-01", f.token(t, "acme"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out viewResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotNil(t, out.Month)
	cell, ok := out.Month.Cell(time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.Len(t, cell.Holidays, 1)
	assert.Equal(t, "Carnaval", cell.Holidays[0].Name)
}

func TestViews_WeekNowLineAndBadInput(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.token(t, "acme")

	resp, body := f.do(t, http.MethodGet, "/api/appointments?view=week", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out viewResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotNil(t, out.Grid)
	assert.Len(t, out.Grid.Days, 7)
	require.NotNil(t, out.NowLine)
	assert.True(t, out.NowLine.Visible)
	assert.Equal(t, 0, out.NowLine.DayIndex, "2025-03-10 is a Monday")

	resp, _ = f.do(t, http.MethodGet, "/api/appointments?view=agenda", tok, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/appointments?date=10/03/2025", tok, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreate_ValidationAndPermission(t *testing.T) {
	f := newFixture(t, nil)
	draft := `{"title":"Visita","start":"2025-03-12T10:00","end":"2025-03-12T10:00"}`

	resp, _ := f.do(t, http.MethodPost, "/api/appointments", f.token(t, "acme"), draft)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	tok := f.token(t, "acme", auth.CapEdit)
	resp, body := f.do(t, http.MethodPost, "/api/appointments", tok, draft)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var verr struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(body, &verr))
	assert.Equal(t, "end_before_start", verr.Errors["end"])
	assert.Empty(t, f.store.Snapshot())

	draft = `{"title":"Visita","start":"2025-03-12T10:00","end":"2025-03-12T11:00","reminder":"15"}`
	resp, body = f.do(t, http.MethodPost, "/api/appointments", tok, draft)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var a model.Appointment
	require.NoError(t, json.Unmarshal(body, &a))
	assert.Equal(t, "acme", a.CompanyID)
	assert.Equal(t, "u-acme", a.CreatedBy)
	require.NotNil(t, a.Reminder)
	assert.Equal(t, 15, *a.Reminder)
	_, ok := f.store.Get(a.ID)
	assert.True(t, ok)
}

func TestUpdate_OtherTenantIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	seed(t, f.store, "b1", "globex", now)
	draft := `{"title":"Renamed","start":"2025-03-10T09:00","end":"2025-03-10T10:00"}`

	resp, _ := f.do(t, http.MethodPut, "/api/appointments/b1", f.token(t, "acme", auth.CapEdit), draft)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := f.do(t, http.MethodPut, "/api/appointments/b1", f.token(t, "globex", auth.CapEdit), draft)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var a model.Appointment
	require.NoError(t, json.Unmarshal(body, &a))
	assert.Equal(t, "Renamed", a.Title)
	assert.NotEmpty(t, a.History)
}

func TestMove_ReschedulesKeepingDuration(t *testing.T) {
	f := newFixture(t, nil)
	a := seed(t, f.store, "a1", "acme", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	body := `{"payload":"` + layout.EncodeDragPayload(a.ID) + `","day":"2025-03-12","hour":14}`

	resp, _ := f.do(t, http.MethodPost, "/api/appointments/a1/move", f.token(t, "acme", auth.CapEdit), body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "reschedule capability is required")

	tok := f.token(t, "acme", auth.CapReschedule)
	resp, _ = f.do(t, http.MethodPost, "/api/appointments/a1/move", tok, `{"payload":"appointment:zz","day":"2025-03-12","hour":14}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/appointments/a1/move", tok, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ := f.store.Get("a1")
	assert.Equal(t, time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC), got.Start)
	assert.Equal(t, time.Hour, got.Duration())
}

func TestCompleteReopenAndSubtasks(t *testing.T) {
	f := newFixture(t, nil)
	seed(t, f.store, "a1", "acme", now.Add(-time.Hour))
	tok := f.token(t, "acme", auth.CapEdit)

	resp, _ := f.do(t, http.MethodPost, "/api/appointments/a1/complete", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ := f.store.Get("a1")
	assert.True(t, got.Completed())
	assert.Empty(t, got.History, "end already equals now")

	seed(t, f.store, "a2", "acme", now.Add(-30*time.Minute))
	resp, _ = f.do(t, http.MethodPost, "/api/appointments/a2/complete", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ = f.store.Get("a2")
	assert.Equal(t, now, got.End)
	require.Len(t, got.History, 1)
	assert.Equal(t, "u-acme", got.History[0].ModifiedBy)

	resp, _ = f.do(t, http.MethodPost, "/api/appointments/a1/reopen", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ = f.store.Get("a1")
	assert.False(t, got.Completed())

	resp, _ = f.do(t, http.MethodPost, "/api/appointments/a1/subtasks", tok, `{"title":"  "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/appointments/a1/subtasks", tok, `{"title":"levar contrato"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var a model.Appointment
	require.NoError(t, json.Unmarshal(body, &a))
	require.Len(t, a.Subtasks, 1)
	sid := a.Subtasks[0].ID

	resp, _ = f.do(t, http.MethodPost, "/api/appointments/a1/subtasks/"+sid+"/toggle", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ = f.store.Get("a1")
	assert.True(t, got.Subtasks[0].Completed)

	resp, _ = f.do(t, http.MethodDelete, "/api/appointments/a1/subtasks/"+sid, tok, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/appointments/a1/subtasks/"+sid, f.token(t, "acme", auth.CapDelete), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ = f.store.Get("a1")
	assert.Empty(t, got.Subtasks)

	resp, _ = f.do(t, http.MethodPost, "/api/appointments/a1/subtasks/missing/toggle", tok, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPersistFailure_Accepted(t *testing.T) {
	f := newFixture(t, store.PersisterFunc(func(context.Context, store.Intent, model.Appointment) error {
		return errors.New("db down")
	}))
	draft := `{"title":"Visita","start":"2025-03-12T10:00","end":"2025-03-12T11:00"}`
	tok := f.token(t, "acme", auth.CapEdit)

	resp, body := f.do(t, http.MethodPost, "/api/appointments", tok, draft)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out dispatchResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Persisted)

	resp, body = f.do(t, http.MethodGet, "/api/appointments?view=list", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view viewResponse
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, []string{out.Appointment.ID}, view.Diverged)
	require.Len(t, view.List, 1)
}

func TestHolidays(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.token(t, "acme")

	resp, body := f.do(t, http.MethodGet, "/api/holidays?year=2026", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out holidaysResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 2026, out.Year)
	assert.Len(t, out.Holidays, 1)

	resp, body = f.do(t, http.MethodGet, "/api/holidays?year=2026&locale=en-US", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Empty(t, out.Holidays)

	resp, _ = f.do(t, http.MethodGet, "/api/holidays?year=abc", tok, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportImport(t *testing.T) {
	f := newFixture(t, nil)
	seed(t, f.store, "a1", "acme", now)
	seed(t, f.store, "b1", "globex", now)

	resp, body := f.do(t, http.MethodGet, "/api/calendar.ics", f.token(t, "acme"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	feed := string(body)
	assert.Contains(t, feed, "UID:a1@agenda")
	assert.NotContains(t, feed, "b1@agenda")

	other := strings.ReplaceAll(feed, "a1@agenda", "b1@agenda")
	resp, body = f.do(t, http.MethodPost, "/api/import", f.token(t, "acme", auth.CapEdit), other)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out importResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Skipped, "record of another tenant is left alone")

	resp, body = f.do(t, http.MethodPost, "/api/import", f.token(t, "globex", auth.CapEdit), feed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Skipped, "existing id keeps its tenant")
	got, _ := f.store.Get("a1")
	assert.Equal(t, "acme", got.CompanyID)

	acme := f.token(t, "acme", auth.CapEdit)
	resp, body = f.do(t, http.MethodPost, "/api/import", acme, feed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = importResponse{}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Updated)

	resp, body = f.do(t, http.MethodPost, "/api/import", acme, strings.ReplaceAll(feed, "a1@agenda", "n1@agenda"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = importResponse{}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Created)
	created, ok := f.store.Get("n1")
	require.True(t, ok)
	assert.Equal(t, "acme", created.CompanyID)

	resp, _ = f.do(t, http.MethodPost, "/api/import", f.token(t, "acme", auth.CapEdit), "   ")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebsocket_TenantSnapshotsAndReminders(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.srv.Hub().Run(ctx)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws?token=" + f.token(t, "acme")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]json.RawMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var m map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}
	typeOf := func(m map[string]json.RawMessage) string {
		var s string
		_ = json.Unmarshal(m["type"], &s)
		return s
	}

	first := read()
	assert.Equal(t, MsgAppointments, typeOf(first))
	assert.Equal(t, MsgNow, typeOf(read()))

	require.Eventually(t, func() bool { return f.srv.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	seed(t, f.store, "b1", "globex", now)
	seed(t, f.store, "a1", "acme", now)

	// Every snapshot is filtered to acme; the last one carries a1.
	var last []model.Appointment
	for len(last) == 0 {
		m := read()
		if typeOf(m) != MsgAppointments {
			continue
		}
		require.NoError(t, json.Unmarshal(m["data"], &last))
		for _, a := range last {
			assert.Equal(t, "acme", a.CompanyID)
		}
	}
	assert.Equal(t, "a1", last[0].ID)

	b1, _ := f.store.Get("b1")
	a1, _ := f.store.Get("a1")
	f.srv.Hub().Notify(ctx, b1)
	f.srv.Hub().Notify(ctx, a1)
	for {
		m := read()
		if typeOf(m) != MsgReminder {
			continue
		}
		var got model.Appointment
		require.NoError(t, json.Unmarshal(m["data"], &got))
		assert.Equal(t, "a1", got.ID, "reminder for another tenant is not delivered")
		break
	}
}
