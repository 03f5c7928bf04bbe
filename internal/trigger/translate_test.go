package trigger

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func ip(v int) *int { return &v }

func TestTranslateRepeating(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 6, 10, 16, 45, 0, 0, time.UTC)

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "daily at time",
			opts: Options{Hour: ip(9), Minute: ip(30), Repeat: true},
			want: "30 9 * * *",
		},
		{
			name: "weekly on sunday",
			opts: Options{Hour: ip(8), Minute: ip(0), DayOfWeek: ip(0), Repeat: true},
			want: "0 8 * * 0",
		},
		{
			name: "monthly on the 15th",
			opts: Options{Hour: ip(12), Minute: ip(0), DayOfMonth: ip(15), Repeat: true},
			want: "0 12 15 * *",
		},
		{
			name: "yearly",
			opts: Options{Hour: ip(0), Minute: ip(0), DayOfMonth: ip(1), Month: ip(1), Repeat: true},
			want: "0 0 1 1 *",
		},
		{
			name: "unset fields stay wildcards",
			opts: Options{Minute: ip(0), Repeat: true},
			want: "0 * * * *",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Translate(tt.opts, ref)
			if err != nil {
				t.Fatalf("Translate error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Translate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranslateOneShotDerivesFromRef(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 6, 10, 16, 45, 0, 0, time.UTC) // Tuesday

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "hour only pins the rest from ref",
			opts: Options{Hour: ip(18)},
			want: "45 18 10 6 *",
		},
		{
			name: "fully unset is the ref instant",
			opts: Options{},
			want: "45 16 10 6 *",
		},
		{
			name: "dayOfWeek leaves calendar date unconstrained",
			opts: Options{Hour: ip(9), Minute: ip(0), DayOfWeek: ip(5)},
			want: "0 9 * * 5",
		},
		{
			name: "dayOfWeek with month",
			opts: Options{Hour: ip(9), Minute: ip(0), DayOfWeek: ip(5), Month: ip(12)},
			want: "0 9 * 12 5",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Translate(tt.opts, ref)
			if err != nil {
				t.Fatalf("Translate error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Translate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranslateValidation(t *testing.T) {
	t.Parallel()
	ref := time.Now()

	tests := []struct {
		name       string
		opts       Options
		wantFields []string
	}{
		{
			name:       "both day fields",
			opts:       Options{DayOfWeek: ip(1), DayOfMonth: ip(10)},
			wantFields: []string{"dayOfWeek", "dayOfMonth"},
		},
		{
			name:       "minute out of range",
			opts:       Options{Minute: ip(60)},
			wantFields: []string{"minute"},
		},
		{
			name:       "hour out of range",
			opts:       Options{Hour: ip(24)},
			wantFields: []string{"hour"},
		},
		{
			name:       "negative minute not clamped",
			opts:       Options{Minute: ip(-1)},
			wantFields: []string{"minute"},
		},
		{
			name:       "dayOfMonth zero",
			opts:       Options{DayOfMonth: ip(0)},
			wantFields: []string{"dayOfMonth"},
		},
		{
			name:       "month and dayOfWeek out of range together",
			opts:       Options{Month: ip(13), DayOfWeek: ip(7)},
			wantFields: []string{"month", "dayOfWeek"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Translate(tt.opts, ref)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			for _, field := range tt.wantFields {
				found := false
				for _, f := range verr.Fields {
					if f.Field == field {
						found = true
						break
					}
				}
				if !found {
					t.Fatalf("field %q not reported in %v", field, verr.Fields)
				}
			}
			if !strings.Contains(verr.Error(), tt.wantFields[0]) {
				t.Fatalf("Error() = %q does not mention %q", verr.Error(), tt.wantFields[0])
			}
		})
	}
}

func TestTranslateSpecProducesValidTrigger(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 6, 10, 16, 45, 0, 0, time.UTC)

	trig, err := TranslateSpec(Options{Hour: ip(18), Minute: ip(0), Repeat: true}, ref)
	if err != nil {
		t.Fatalf("TranslateSpec error: %v", err)
	}
	next, ok := trig.NextFireTime(ref)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	want := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextFireTime = %v, want %v", next, want)
	}
	if !trig.Repeats() {
		t.Fatal("Repeat flag lost in translation")
	}
}

func TestTranslateSpecOneShotInPastRolls(t *testing.T) {
	t.Parallel()
	// One-shot derived expression still rolls forward when the derived date
	// already passed this year; exhaustion is decided by the caller.
	ref := time.Date(2025, 6, 10, 16, 45, 0, 0, time.UTC)
	trig, err := TranslateSpec(Options{Hour: ip(9)}, ref)
	if err != nil {
		t.Fatalf("TranslateSpec error: %v", err)
	}
	next, ok := trig.NextFireTime(ref)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	want := time.Date(2026, 6, 10, 9, 45, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextFireTime = %v, want %v", next, want)
	}
}
