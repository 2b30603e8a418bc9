// Package trigger builds robfig/cron schedules from workflow trigger
// specifications: a union of 5-field cron expressions with a uniform signed
// time offset.
package trigger

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNoValidExpressions is returned when every cron expression of a spec
// fails to parse.
var ErrNoValidExpressions = errors.New("no valid cron expressions")

// parser accepts the classic 5-field form: minute hour dom month dow.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse compiles a single 5-field cron expression evaluated in loc. The
// location is pinned through a CRON_TZ prefix so the schedule never falls
// back to the OS zone.
func Parse(expr string, loc *time.Location) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	return parser.Parse("CRON_TZ=" + loc.String() + " " + expr)
}

// Union is a cron.Schedule matching the OR of several cron expressions,
// every fire shifted by a uniform offset. A spec like "30 s before every
// */5 minute of hour 10" is expressed as the */5 cron plus shift -30s,
// without rewriting cron fields.
type Union struct {
	schedules []cron.Schedule
	exprs     []string
	shift     time.Duration
	loc       *time.Location
}

// NewUnion parses each expression in loc. Invalid expressions are logged
// and skipped; if none survive, ErrNoValidExpressions is returned.
func NewUnion(exprs []string, shift time.Duration, loc *time.Location) (*Union, error) {
	u := &Union{shift: shift, loc: loc}
	for _, expr := range exprs {
		sched, err := Parse(expr, loc)
		if err != nil {
			slog.Warn("skipping invalid cron expression", "expr", expr, "err", err)
			continue
		}
		u.schedules = append(u.schedules, sched)
		u.exprs = append(u.exprs, strings.TrimSpace(expr))
	}
	if len(u.schedules) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoValidExpressions, exprs)
	}
	return u, nil
}

// Next returns the earliest shifted fire time strictly after t. The anchor
// is reverse-shifted first, so "next fire > now" is computed against the
// shifted intent rather than the raw cron instants.
func (u *Union) Next(t time.Time) time.Time {
	anchor := t.In(u.loc).Add(-u.shift)
	var best time.Time
	for _, sched := range u.schedules {
		next := sched.Next(anchor)
		if next.IsZero() {
			continue
		}
		if best.IsZero() || next.Before(best) {
			best = next
		}
	}
	if best.IsZero() {
		return time.Time{}
	}
	return best.Add(u.shift)
}

// Shift returns the configured offset.
func (u *Union) Shift() time.Duration {
	return u.shift
}

// Describe renders the trigger for job listings, e.g.
// "union[*/5 10 * * 1-5 | 0 14 * * *] shift[-30s]".
func (u *Union) Describe() string {
	desc := "union[" + strings.Join(u.exprs, " | ") + "]"
	if u.shift != 0 {
		desc += fmt.Sprintf(" shift[%s]", u.shift)
	}
	return desc
}
