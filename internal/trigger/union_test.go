package trigger

import (
	"errors"
	"testing"
	"time"
)

func TestParse_PinnedLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	sched, err := Parse("0 10 * * *", loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// From 09:00 Shanghai the next 10:00 fire is one hour later regardless
	// of the zone the anchor is expressed in.
	anchor := time.Date(2026, 3, 2, 9, 0, 0, 0, loc)
	next := sched.Next(anchor)
	if !next.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, loc)) {
		t.Fatalf("expected 10:00 Shanghai, got %v", next)
	}
	nextFromUTC := sched.Next(anchor.UTC())
	if !nextFromUTC.Equal(next) {
		t.Fatalf("anchor zone changed evaluation: %v vs %v", nextFromUTC, next)
	}
}

func TestParse_RejectsSixFields(t *testing.T) {
	if _, err := Parse("0 0 10 * * *", time.UTC); err == nil {
		t.Fatal("expected error for 6-field expression")
	}
}

func TestNewUnion_SkipsInvalidExpressions(t *testing.T) {
	u, err := NewUnion([]string{"not a cron", "*/5 * * * *"}, 0, time.UTC)
	if err != nil {
		t.Fatalf("expected valid union, got error: %v", err)
	}
	if len(u.schedules) != 1 {
		t.Fatalf("expected 1 surviving schedule, got %d", len(u.schedules))
	}
}

func TestNewUnion_AllInvalid(t *testing.T) {
	_, err := NewUnion([]string{"bad", "also bad"}, 0, time.UTC)
	if !errors.Is(err, ErrNoValidExpressions) {
		t.Fatalf("expected ErrNoValidExpressions, got %v", err)
	}
}

func TestUnion_NextTakesEarliest(t *testing.T) {
	u, err := NewUnion([]string{"0 12 * * *", "30 9 * * *"}, 0, time.UTC)
	if err != nil {
		t.Fatalf("union: %v", err)
	}
	from := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	next := u.Next(from)
	want := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}

	// After the 09:30 fire the 12:00 branch wins.
	next = u.Next(next)
	want = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

// A */5 spec for hour 10 Mon-Fri with shift -30s fires 30 seconds before
// every matching minute.
func TestUnion_NegativeShift(t *testing.T) {
	u, err := NewUnion([]string{"*/5 10 * * 1-5"}, -30*time.Second, time.UTC)
	if err != nil {
		t.Fatalf("union: %v", err)
	}

	// 2026-03-02 is a Monday.
	from := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	fires := make([]time.Time, 0, 3)
	for i := 0; i < 3; i++ {
		from = u.Next(from)
		fires = append(fires, from)
	}

	want := []time.Time{
		time.Date(2026, 3, 2, 9, 59, 30, 0, time.UTC),
		time.Date(2026, 3, 2, 10, 4, 30, 0, time.UTC),
		time.Date(2026, 3, 2, 10, 9, 30, 0, time.UTC),
	}
	for i, w := range want {
		if !fires[i].Equal(w) {
			t.Fatalf("fire %d: expected %v, got %v", i, w, fires[i])
		}
	}
}

// The anchor must be reverse-shifted: just after a shifted fire, the next
// fire is the following cron minute, not the one that already passed.
func TestUnion_ShiftedAnchorMonotonic(t *testing.T) {
	u, err := NewUnion([]string{"*/5 10 * * 1-5"}, -30*time.Second, time.UTC)
	if err != nil {
		t.Fatalf("union: %v", err)
	}
	at := time.Date(2026, 3, 2, 10, 4, 30, 0, time.UTC)
	next := u.Next(at)
	if !next.After(at) {
		t.Fatalf("expected strictly later fire, got %v", next)
	}
	want := time.Date(2026, 3, 2, 10, 9, 30, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestUnion_PositiveShift(t *testing.T) {
	u, err := NewUnion([]string{"0 0 * * *"}, 2*time.Hour, time.UTC)
	if err != nil {
		t.Fatalf("union: %v", err)
	}
	// At 01:00 the shifted fire for today's midnight (02:00) is still ahead.
	from := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	next := u.Next(from)
	want := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestUnion_Describe(t *testing.T) {
	u, err := NewUnion([]string{"*/5 10 * * 1-5", "0 14 * * *"}, -30*time.Second, time.UTC)
	if err != nil {
		t.Fatalf("union: %v", err)
	}
	desc := u.Describe()
	want := "union[*/5 10 * * 1-5 | 0 14 * * *] shift[-30s]"
	if desc != want {
		t.Fatalf("expected %q, got %q", want, desc)
	}

	noShift, err := NewUnion([]string{"* * * * *"}, 0, time.UTC)
	if err != nil {
		t.Fatalf("union: %v", err)
	}
	if noShift.Describe() != "union[* * * * *]" {
		t.Fatalf("unexpected description %q", noShift.Describe())
	}
}
