package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Options is the structured calendar request shape. Nil fields are unset:
// unset means "any" for a recurring schedule and "derive from ref" for a
// one-shot.
type Options struct {
	Hour       *int
	Minute     *int
	DayOfWeek  *int // 0 = Sunday
	DayOfMonth *int
	Month      *int // 1 = January
	Repeat     bool
}

// FieldError names a single offending option field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError aggregates option validation failures. Values are never
// clamped: every out-of-range or conflicting field is reported by name.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) HasErrors() bool { return len(e.Fields) > 0 }

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid calendar options"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "invalid calendar options: " + strings.Join(parts, "; ")
}

// Translate converts calendar options into a canonical 5-field cron
// expression. ref supplies the values derived for unset one-shot fields.
func Translate(opts Options, ref time.Time) (string, error) {
	verr := &ValidationError{}

	if opts.DayOfWeek != nil && opts.DayOfMonth != nil {
		// The canonical cron dialect ORs the two day fields; a schedule
		// constraining both cannot be satisfied deterministically.
		verr.add("dayOfWeek", "mutually exclusive with dayOfMonth")
		verr.add("dayOfMonth", "mutually exclusive with dayOfWeek")
	}
	checkRange(verr, "minute", opts.Minute, 0, 59)
	checkRange(verr, "hour", opts.Hour, 0, 23)
	checkRange(verr, "dayOfMonth", opts.DayOfMonth, 1, 31)
	checkRange(verr, "month", opts.Month, 1, 12)
	checkRange(verr, "dayOfWeek", opts.DayOfWeek, 0, 6)
	if verr.HasErrors() {
		return "", verr
	}

	minute := fieldExpr(opts.Minute, opts.Repeat, ref.Minute())
	hour := fieldExpr(opts.Hour, opts.Repeat, ref.Hour())

	// Day fields: when dayOfWeek is pinned, day-of-month and month stay
	// unconstrained (and vice versa), so one-shot derivation only fills the
	// calendar-date side.
	dom := "*"
	month := "*"
	dow := "*"
	switch {
	case opts.DayOfWeek != nil:
		dow = strconv.Itoa(*opts.DayOfWeek)
		if opts.Month != nil {
			month = strconv.Itoa(*opts.Month)
		}
	default:
		dom = fieldExpr(opts.DayOfMonth, opts.Repeat, ref.Day())
		month = fieldExpr(opts.Month, opts.Repeat, int(ref.Month()))
	}

	return strings.Join([]string{minute, hour, dom, month, dow}, " "), nil
}

// TranslateSpec is Translate plus trigger construction, giving callers a
// ready Calendar spec in one step.
func TranslateSpec(opts Options, ref time.Time) (Calendar, error) {
	expr, err := Translate(opts, ref)
	if err != nil {
		return Calendar{}, err
	}
	return NewCalendar(expr, opts.Repeat)
}

func checkRange(verr *ValidationError, name string, v *int, min, max int) {
	if v == nil {
		return
	}
	if *v < min || *v > max {
		verr.add(name, fmt.Sprintf("must be in [%d,%d], got %d", min, max, *v))
	}
}

func fieldExpr(v *int, repeat bool, derived int) string {
	if v != nil {
		return strconv.Itoa(*v)
	}
	if repeat {
		return "*"
	}
	return strconv.Itoa(derived)
}
