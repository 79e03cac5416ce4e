// Package recurrence models task schedules and computes their next fire time.
package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// Kind names a recurrence variant.
type Kind string

// Recurrence kinds.
const (
	KindHourly  Kind = "hourly"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// Parameter keys used by Params and FromParams.
const (
	ParamMinute  = "minute"
	ParamHour    = "hour"
	ParamWeekday = "weekday"
	ParamDay     = "day"
)

// Recurrence is one of Hourly, Daily, Weekly or Monthly.
// The set is closed: only types in this package implement it.
type Recurrence interface {
	Kind() Kind
	Validate() error
	Params() map[string]int
	String() string

	next(ref time.Time) time.Time
}

// Hourly fires once per hour at Minute.
type Hourly struct {
	Minute int
}

// Daily fires once per day at Hour:Minute.
type Daily struct {
	Hour   int
	Minute int
}

// Weekly fires once per week on Weekday (0 = Monday ... 6 = Sunday) at Hour:Minute.
type Weekly struct {
	Weekday int
	Hour    int
	Minute  int
}

// Monthly fires once per month on Day at Hour:Minute. Days past the end of a
// shorter month clamp to its last day.
type Monthly struct {
	Day    int
	Hour   int
	Minute int
}

var weekdayNames = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// Kind implements Recurrence.
func (Hourly) Kind() Kind { return KindHourly }

// Kind implements Recurrence.
func (Daily) Kind() Kind { return KindDaily }

// Kind implements Recurrence.
func (Weekly) Kind() Kind { return KindWeekly }

// Kind implements Recurrence.
func (Monthly) Kind() Kind { return KindMonthly }

// Validate checks parameter ranges.
func (h Hourly) Validate() error {
	return checkRange(ParamMinute, h.Minute, 0, 59)
}

// Validate checks parameter ranges.
func (d Daily) Validate() error {
	return firstErr(
		checkRange(ParamHour, d.Hour, 0, 23),
		checkRange(ParamMinute, d.Minute, 0, 59),
	)
}

// Validate checks parameter ranges.
func (w Weekly) Validate() error {
	return firstErr(
		checkRange(ParamWeekday, w.Weekday, 0, 6),
		checkRange(ParamHour, w.Hour, 0, 23),
		checkRange(ParamMinute, w.Minute, 0, 59),
	)
}

// Validate checks parameter ranges.
func (m Monthly) Validate() error {
	return firstErr(
		checkRange(ParamDay, m.Day, 1, 31),
		checkRange(ParamHour, m.Hour, 0, 23),
		checkRange(ParamMinute, m.Minute, 0, 59),
	)
}

// Params returns the variant's fields keyed by parameter name.
func (h Hourly) Params() map[string]int {
	return map[string]int{ParamMinute: h.Minute}
}

// Params returns the variant's fields keyed by parameter name.
func (d Daily) Params() map[string]int {
	return map[string]int{ParamHour: d.Hour, ParamMinute: d.Minute}
}

// Params returns the variant's fields keyed by parameter name.
func (w Weekly) Params() map[string]int {
	return map[string]int{ParamWeekday: w.Weekday, ParamHour: w.Hour, ParamMinute: w.Minute}
}

// Params returns the variant's fields keyed by parameter name.
func (m Monthly) Params() map[string]int {
	return map[string]int{ParamDay: m.Day, ParamHour: m.Hour, ParamMinute: m.Minute}
}

func (h Hourly) String() string {
	return fmt.Sprintf("hourly at :%02d", h.Minute)
}

func (d Daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}

func (w Weekly) String() string {
	name := "?"
	if w.Weekday >= 0 && w.Weekday < len(weekdayNames) {
		name = weekdayNames[w.Weekday]
	}
	return fmt.Sprintf("weekly on %s at %02d:%02d", name, w.Hour, w.Minute)
}

func (m Monthly) String() string {
	return fmt.Sprintf("monthly on day %d at %02d:%02d", m.Day, m.Hour, m.Minute)
}

// FromParams builds a recurrence of the given kind. Every parameter the kind
// needs must be present; the result is validated.
func FromParams(kind string, params map[string]int) (Recurrence, error) {
	get := func(key string) (int, error) {
		v, ok := params[key]
		if !ok {
			return 0, fmt.Errorf("%s recurrence requires %q", kind, key)
		}
		return v, nil
	}

	var (
		r   Recurrence
		err error
	)
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindHourly:
		var h Hourly
		if h.Minute, err = get(ParamMinute); err != nil {
			return nil, err
		}
		r = h
	case KindDaily:
		var d Daily
		if d.Hour, err = get(ParamHour); err != nil {
			return nil, err
		}
		if d.Minute, err = get(ParamMinute); err != nil {
			return nil, err
		}
		r = d
	case KindWeekly:
		var w Weekly
		if w.Weekday, err = get(ParamWeekday); err != nil {
			return nil, err
		}
		if w.Hour, err = get(ParamHour); err != nil {
			return nil, err
		}
		if w.Minute, err = get(ParamMinute); err != nil {
			return nil, err
		}
		r = w
	case KindMonthly:
		var m Monthly
		if m.Day, err = get(ParamDay); err != nil {
			return nil, err
		}
		if m.Hour, err = get(ParamHour); err != nil {
			return nil, err
		}
		if m.Minute, err = get(ParamMinute); err != nil {
			return nil, err
		}
		r = m
	default:
		return nil, fmt.Errorf("unknown recurrence kind %q", kind)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// ParseWeekday accepts a weekday name ("mon", "Monday") or a number 0-6
// with 0 = Monday.
func ParseWeekday(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= '0' && s[0] <= '6' {
		return int(s[0] - '0'), nil
	}
	if len(s) >= 3 {
		for i, name := range weekdayNames {
			if strings.HasPrefix(name, s) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// Equal reports whether a and b describe the same schedule.
func Equal(a, b Recurrence) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s must be in [%d,%d], got %d", name, lo, hi, v)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
