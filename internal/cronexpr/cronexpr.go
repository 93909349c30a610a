// Package cronexpr validates cron expressions and computes fire times.
//
// Dialect is robfig/cron/v3 with an optional leading seconds field:
//   - 6 fields: "sec min hour dom month dow" ("*/2 * * * * ?")
//   - 5 fields: "min hour dom month dow" ("*/5 * * * *")
//   - descriptors: "@hourly", "@daily", "@every 30s"
//   - "?" is a wildcard in the day-of-month and day-of-week fields
//   - an optional "CRON_TZ=Area/City " prefix overrides the evaluator location
//
// Daylight saving time follows robfig/cron: wall-clock times that do not exist
// in the location (spring-forward gap) are skipped, and times that occur twice
// (fall-back overlap) fire once.
package cronexpr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseOptions is the field layout accepted by every Evaluator.
const ParseOptions = cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

var (
	ErrBlank      = errors.New("cron expression is blank")
	ErrNoFireTime = errors.New("cron expression has no future fire time")
)

// Evaluator parses expressions in a fixed location. It is safe for concurrent use.
type Evaluator struct {
	parser cron.Parser
	loc    *time.Location
}

func New(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{parser: cron.NewParser(ParseOptions), loc: loc}
}

// LoadLocation resolves an IANA timezone name. Blank means time.Local.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (e *Evaluator) Location() *time.Location { return e.loc }

// Parser exposes the underlying parser so triggers share one dialect.
func (e *Evaluator) Parser() cron.Parser { return e.parser }

// Parse validates expr and returns its schedule.
func (e *Evaluator) Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrBlank
	}
	sched, err := e.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// IsValid reports whether expr is accepted by the dialect.
func (e *Evaluator) IsValid(expr string) bool {
	_, err := e.Parse(expr)
	return err == nil
}

// NextFireAfter returns the first fire time strictly after ref, in the evaluator location.
func (e *Evaluator) NextFireAfter(expr string, ref time.Time) (time.Time, error) {
	sched, err := e.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(ref.In(e.loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%q: %w", strings.TrimSpace(expr), ErrNoFireTime)
	}
	return next, nil
}

// Preview returns up to n upcoming fire times after from.
func (e *Evaluator) Preview(expr string, from time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	sched, err := e.Parse(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from.In(e.loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// FormatPreview renders fire times as a short, human-friendly list.
func FormatPreview(times []time.Time) string {
	var b strings.Builder
	for i, t := range times {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
