// Package recurrence validates and serializes the repeat rule attached to a
// series master. Rules are stored, never expanded: every occurrence of a
// series is its own appointment.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"agenda/internal/model"
)

var (
	ErrUnknownFrequency = errors.New("recurrence: unknown frequency")
	ErrMissingUntil     = errors.New("recurrence: until is required")
)

var toRRule = map[model.Frequency]rrule.Frequency{
	model.FrequencyDaily:   rrule.DAILY,
	model.FrequencyWeekly:  rrule.WEEKLY,
	model.FrequencyMonthly: rrule.MONTHLY,
	model.FrequencyYearly:  rrule.YEARLY,
}

// ParseFrequency accepts the lowercase names used by the form.
func ParseFrequency(s string) (model.Frequency, error) {
	f := model.Frequency(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := toRRule[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, s)
	}
	return f, nil
}

// Validate checks that the rule names a known frequency and has an end.
func Validate(rule model.RecurrenceRule) error {
	if _, ok := toRRule[rule.Frequency]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFrequency, rule.Frequency)
	}
	if rule.Until.IsZero() {
		return ErrMissingUntil
	}
	return nil
}

// Encode renders the rule as an RFC 5545 RRULE value, e.g.
// "FREQ=WEEKLY;UNTIL=20251231T235959Z". UNTIL has second precision.
func Encode(rule model.RecurrenceRule) (string, error) {
	if err := Validate(rule); err != nil {
		return "", err
	}
	opt := rrule.ROption{
		Freq:  toRRule[rule.Frequency],
		Until: rule.Until.UTC().Truncate(time.Second),
	}
	// NewRRule runs the library's own option validation.
	if _, err := rrule.NewRRule(opt); err != nil {
		return "", fmt.Errorf("recurrence: %w", err)
	}
	return opt.RRuleString(), nil
}

// Decode parses an RRULE value (with or without the "RRULE:" prefix) back
// into a rule. Rules without UNTIL cannot be represented and are rejected.
func Decode(s string) (model.RecurrenceRule, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return model.RecurrenceRule{}, fmt.Errorf("recurrence: %w", err)
	}

	var freq model.Frequency
	for f, rf := range toRRule {
		if rf == opt.Freq {
			freq = f
			break
		}
	}
	if freq == "" {
		return model.RecurrenceRule{}, fmt.Errorf("%w: %v", ErrUnknownFrequency, opt.Freq)
	}
	if opt.Until.IsZero() {
		return model.RecurrenceRule{}, ErrMissingUntil
	}

	return model.RecurrenceRule{Frequency: freq, Until: opt.Until.UTC()}, nil
}
