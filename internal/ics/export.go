// Package ics converts appointments to and from iCalendar. Recurring
// appointments travel as a single VEVENT with an RRULE; occurrences are
// never expanded.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/recurrence"
)

const (
	uidSuffix = "@agenda"
	prodID    = "-//agenda//appointments//PT"

	propCompany  = ical.ComponentProperty("X-AGENDA-COMPANY")
	propStatus   = ical.ComponentProperty("X-AGENDA-STATUS")
	propDue      = ical.ComponentProperty("X-AGENDA-DUE")
	paramKind    = "X-AGENDA-KIND"
	paramID      = "X-AGENDA-ID"
	paramRole    = "X-AGENDA-ROLE"
	utcStampForm = "20060102T150405Z"
)

// Export renders apps as a VCALENDAR. loc is advertised as the calendar
// time zone; instants are written in UTC.
func Export(apps []model.Appointment, loc *time.Location, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)
	if loc != nil {
		cal.SetXWRTimezone(loc.String())
	}

	for _, a := range apps {
		ev := cal.AddEvent(a.ID + uidSuffix)
		ev.SetDtStampTime(now)
		if !a.CreatedAt.IsZero() {
			ev.SetCreatedTime(a.CreatedAt)
		}
		if !a.UpdatedAt.IsZero() {
			ev.SetModifiedAt(a.UpdatedAt)
		}
		ev.SetStartAt(a.Start)
		ev.SetEndAt(a.End)
		ev.SetSummary(a.Title)
		if a.Description != "" {
			ev.SetDescription(a.Description)
		}
		if a.Location != "" {
			ev.SetLocation(a.Location)
		}
		if a.Category != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, a.Category)
		}
		ev.SetStatus(objectStatus(a.Status))
		ev.SetProperty(propStatus, string(a.Status))
		ev.SetProperty(propCompany, a.CompanyID)
		if a.DueDate != nil {
			ev.SetProperty(propDue, a.DueDate.UTC().Format(utcStampForm))
		}

		for _, p := range a.Participants {
			if p.Email == "" {
				continue
			}
			params := []ical.PropertyParameter{
				ical.WithCN(p.Name),
				&ical.KeyValues{Key: paramKind, Value: []string{string(p.Kind)}},
				&ical.KeyValues{Key: paramID, Value: []string{p.ID}},
			}
			if p.Kind == model.KindUser && p.Role != "" {
				params = append(params, &ical.KeyValues{Key: paramRole, Value: []string{p.Role}})
			}
			ev.AddAttendee(p.Email, params...)
		}

		if a.Recurrence != nil {
			rule, err := recurrence.Encode(*a.Recurrence)
			if err != nil {
				appLog.Warn("ics export: recurrence skipped", "id", a.ID, "err", err)
			} else {
				ev.AddRrule(rule)
			}
		}

		if a.Reminder != nil {
			alarm := ev.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger(trigger(*a.Reminder))
			alarm.SetProperty(ical.ComponentPropertyDescription, a.Title)
		}
	}
	return cal.Serialize()
}

func objectStatus(s model.Status) ical.ObjectStatus {
	switch s {
	case model.StatusConfirmed, model.StatusCompleted:
		return ical.ObjectStatusConfirmed
	case model.StatusCanceled, model.StatusNoShow:
		return ical.ObjectStatusCancelled
	default:
		return ical.ObjectStatusTentative
	}
}

// trigger formats a negative duration relative to DTSTART.
func trigger(minutes int) string {
	if minutes == 0 {
		return "PT0M"
	}
	var b strings.Builder
	b.WriteString("-P")
	if d := minutes / (24 * 60); d > 0 && minutes%(24*60) == 0 {
		fmt.Fprintf(&b, "%dD", d)
		return b.String()
	}
	b.WriteString("T")
	if h := minutes / 60; h > 0 && minutes%60 == 0 {
		fmt.Fprintf(&b, "%dH", h)
		return b.String()
	}
	fmt.Fprintf(&b, "%dM", minutes)
	return b.String()
}
