package ics

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"agenda/internal/appointment"
	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/recurrence"
)

// ImportedBy is recorded as the creator of imported appointments.
const ImportedBy = "ics-import"

var ErrEmpty = errors.New("ics: empty body")

// Import parses every VEVENT of body into an appointment owned by
// companyID. Events that violate the appointment invariants are logged and
// skipped. UIDs produced by Export map back to the original id; foreign UIDs
// map to a stable id derived from the UID, so importing twice updates.
func Import(body []byte, companyID string, now time.Time) ([]model.Appointment, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmpty
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "company", companyID)
		return nil, err
	}

	out := make([]model.Appointment, 0)
	for _, ve := range cal.Events() {
		a, err := parseVEvent(ve, companyID, now)
		if err != nil {
			appLog.Error("ics vevent skipped", err, "company", companyID)
			continue
		}
		out = append(out, a)
	}
	appLog.Info("ics import parsed", "company", companyID, "event_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, companyID string, now time.Time) (model.Appointment, error) {
	var a model.Appointment

	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return a, errors.New("missing UID")
	}
	a.ID = idFromUID(uid)
	a.CompanyID = companyID
	a.Title = propValue(ve, ical.ComponentPropertySummary)
	if a.Title == "" {
		return a, errors.New("missing SUMMARY")
	}
	a.Description = propValue(ve, ical.ComponentPropertyDescription)
	a.Location = propValue(ve, ical.ComponentPropertyLocation)
	a.Category = firstCategory(propValue(ve, ical.ComponentPropertyCategories))

	start, err := ve.GetStartAt()
	if err != nil {
		return a, err
	}
	end, err := ve.GetEndAt()
	if err != nil || end.IsZero() {
		// No DTEND: all-day events last the day, timed ones an hour.
		end = start.Add(time.Hour)
		if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil && !strings.Contains(p.Value, "T") {
			end = start.AddDate(0, 0, 1)
		}
	}
	a.Start, a.End = start, end

	if v := propValue(ve, propDue); v != "" {
		if due, err := time.Parse(utcStampForm, v); err == nil {
			a.DueDate = &due
		}
	}

	a.Status = model.StatusScheduled
	if s := model.Status(propValue(ve, propStatus)); s.Valid() {
		a.Status = s
	} else if strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), string(ical.ObjectStatusCancelled)) {
		a.Status = model.StatusCanceled
	}

	for _, att := range ve.Attendees() {
		if p, ok := participant(att); ok {
			a.Participants = append(a.Participants, p)
		}
	}
	a.Participants = model.DedupeParticipants(a.Participants)

	if raw := propValue(ve, ical.ComponentPropertyRrule); raw != "" {
		rule, err := recurrence.Decode(raw)
		if err != nil {
			// Rules without UNTIL cannot be represented; keep the first occurrence.
			appLog.Warn("ics rrule dropped", "uid", uid, "rrule", raw, "err", err)
		} else {
			a.Recurrence = &rule
		}
	}

	for _, al := range ve.Alarms() {
		p := al.GetProperty(ical.ComponentPropertyTrigger)
		if p == nil {
			continue
		}
		if m, ok := parseTrigger(p.Value); ok {
			a.Reminder = &m
			break
		}
	}

	a.CreatedBy = ImportedBy
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Subtasks = []model.Subtask{}
	a.History = []model.HistoryEntry{}

	if err := appointment.CheckInvariants(a); err != nil {
		return a, err
	}
	return a, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func firstCategory(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func idFromUID(uid string) string {
	if id, ok := strings.CutSuffix(uid, uidSuffix); ok && id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(uid))
	return "ics-" + hex.EncodeToString(sum[:8])
}

func participant(att *ical.Attendee) (model.Participant, bool) {
	email := att.Email()
	if email == "" {
		return model.Participant{}, false
	}
	param := func(k string) string {
		if vs := att.ICalParameters[k]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}
	id := param(paramID)
	if id == "" {
		id = email
	}
	name := param("CN")
	switch model.ParticipantKind(param(paramKind)) {
	case model.KindUser:
		return model.NewUser(id, name, email, param(paramRole)), true
	case model.KindSupplier:
		return model.NewSupplier(id, name, email), true
	default:
		return model.NewCustomer(id, name, email), true
	}
}

var triggerRe = regexp.MustCompile(`^-?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseTrigger reads a relative TRIGGER before the start as minutes.
// Triggers after the start are ignored.
func parseTrigger(v string) (int, bool) {
	v = strings.TrimSpace(v)
	m := triggerRe.FindStringSubmatch(v)
	if m == nil || v == "P" || v == "-P" {
		return 0, false
	}
	n := func(s string) int {
		x, _ := strconv.Atoi(s)
		return x
	}
	minutes := n(m[1])*7*24*60 + n(m[2])*24*60 + n(m[3])*60 + n(m[4]) + n(m[5])/60
	if !strings.HasPrefix(v, "-") && minutes != 0 {
		return 0, false
	}
	return minutes, true
}
