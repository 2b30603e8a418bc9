package foreman

import (
	"fmt"
	"time"
)

// naiveLayout renders a local wall-clock timestamp without a UTC offset,
// trailing zeros in the fraction trimmed. This is the execution_time format
// carried in execute message meta and in persisted rows.
const naiveLayout = "2006-01-02T15:04:05.999999"

// Clock anchors all time handling to the two configured zones: the local
// zone L for every persisted wall-clock timestamp and the scheduler zone S
// for cron evaluation. The OS default zone is never consulted.
type Clock struct {
	local     *time.Location
	scheduler *time.Location
}

// NewClock loads the named local zone. The scheduler zone is UTC when
// useUTC is set, otherwise it coincides with the local zone.
func NewClock(zone string, useUTC bool) (*Clock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	sched := loc
	if useUTC {
		sched = time.UTC
	}
	return &Clock{local: loc, scheduler: sched}, nil
}

// NowLocal returns the current instant in the local zone.
func (c *Clock) NowLocal() time.Time {
	return time.Now().In(c.local)
}

// ToScheduler converts t into the scheduler zone.
func (c *Clock) ToScheduler(t time.Time) time.Time {
	return t.In(c.scheduler)
}

// LocalLocation returns the configured local zone L.
func (c *Clock) LocalLocation() *time.Location {
	return c.local
}

// SchedulerLocation returns the zone cron evaluation runs in.
func (c *Clock) SchedulerLocation() *time.Location {
	return c.scheduler
}

// Shift adds n units to t. Units follow ShiftDuration.
func (c *Clock) Shift(t time.Time, n int, unit string) (time.Time, error) {
	d, err := ShiftDuration(n, unit)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(d), nil
}

// ShiftDuration converts a signed amount of shift units into a duration.
// Supported units: "s", "min", "h", and "D" (a fixed 24-hour day, matching
// naive datetime arithmetic). Anything else fails with ErrBadUnit.
func ShiftDuration(n int, unit string) (time.Duration, error) {
	switch unit {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "min":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "D":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadUnit, unit)
	}
}

// FormatNaive renders t as a naive local timestamp,
// e.g. "2026-08-24T10:04:30.000123" or "2026-08-24T10:04:30".
func FormatNaive(t time.Time) string {
	return t.Format(naiveLayout)
}
