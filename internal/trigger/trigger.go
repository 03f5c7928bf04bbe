package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind discriminates persisted trigger records.
type Kind string

const (
	KindInterval Kind = "interval"
	KindCalendar Kind = "calendar"
)

// parser accepts the canonical 5-field cron dialect (minute..day-of-week).
// Descriptors (@daily etc.) are deliberately excluded: persisted expressions
// are produced by Translate and must stay in one dialect.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Spec computes fire times for a job.
//
// NextFireTime returns the earliest occurrence strictly after ref, or
// ok=false when the trigger has no future occurrence ("no more occurrences").
type Spec interface {
	NextFireTime(ref time.Time) (at time.Time, ok bool)
	Repeats() bool
	Kind() Kind
}

// Interval fires a fixed delay after a reference time.
//
// The reference is the creation time for the first fire and the previous
// scheduled fire time afterwards, giving a fixed cadence rather than
// "now + delay" drift accumulation.
type Interval struct {
	Delay  time.Duration
	Repeat bool
}

// NewInterval validates and builds an interval trigger. A zero delay is
// valid for one-shots and means "fire immediately once armed"; repeating
// triggers require a positive delay, otherwise every expiry would re-arm
// at now and spin the timer engine.
func NewInterval(delay time.Duration, repeat bool) (Interval, error) {
	if delay < 0 {
		return Interval{}, fmt.Errorf("interval delay must be >= 0, got %s", delay)
	}
	if repeat && delay == 0 {
		return Interval{}, fmt.Errorf("repeating interval requires a positive delay")
	}
	return Interval{Delay: delay, Repeat: repeat}, nil
}

func (t Interval) NextFireTime(ref time.Time) (time.Time, bool) {
	return ref.Add(t.Delay), true
}

func (t Interval) Repeats() bool { return t.Repeat }
func (t Interval) Kind() Kind    { return KindInterval }

// Calendar fires on cron-expression matches.
type Calendar struct {
	Expr   string
	Repeat bool

	sched cron.Schedule
}

// NewCalendar parses and validates the cron expression up front so an
// invalid expression can never reach the store.
func NewCalendar(expr string, repeat bool) (Calendar, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return Calendar{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Calendar{Expr: expr, Repeat: repeat, sched: sched}, nil
}

// NextFireTime returns the earliest cron match strictly after ref.
// ref's location determines the timezone the expression is evaluated in.
// ok=false means the expression has no future match (e.g. an impossible
// date like Feb 30): callers must treat the trigger as exhausted.
func (t Calendar) NextFireTime(ref time.Time) (time.Time, bool) {
	sched := t.sched
	if sched == nil {
		var err error
		sched, err = parser.Parse(t.Expr)
		if err != nil {
			return time.Time{}, false
		}
	}
	next := sched.Next(ref)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func (t Calendar) Repeats() bool { return t.Repeat }
func (t Calendar) Kind() Kind    { return KindCalendar }
