package fiscal

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to PeriodStatus
		override bool
		ok       bool
	}{
		{PeriodStatusOpen, PeriodStatusOpen, false, true},
		{PeriodStatusOpen, PeriodStatusClosed, false, true},
		{PeriodStatusOpen, PeriodStatusLocked, false, false},
		{PeriodStatusClosed, PeriodStatusOpen, false, true},
		{PeriodStatusClosed, PeriodStatusLocked, false, true},
		{PeriodStatusLocked, PeriodStatusClosed, false, false},
		{PeriodStatusLocked, PeriodStatusClosed, true, true},
		{PeriodStatusLocked, PeriodStatusOpen, true, false},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to, tc.override)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s (override=%v): unexpected error %v", tc.from, tc.to, tc.override, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s (override=%v): expected ErrInvalidTransition, got %v", tc.from, tc.to, tc.override, err)
		}
	}
}

func TestMarkClosedAndOpen(t *testing.T) {
	p := markClosed(Period{Status: PeriodStatusOpen}, testNow, 42)
	if p.Status != PeriodStatusClosed || p.ClosedAt == nil || p.ClosedBy == nil || *p.ClosedBy != 42 {
		t.Fatalf("unexpected closed period %+v", p)
	}
	p = markOpen(p)
	if p.Status != PeriodStatusOpen || p.ClosedAt != nil || p.ClosedBy != nil {
		t.Fatalf("reopen must clear close stamps: %+v", p)
	}
}

func TestLockedCountsAsClosed(t *testing.T) {
	if !PeriodStatusLocked.IsClosed() || !PeriodStatusClosed.IsClosed() || PeriodStatusOpen.IsClosed() {
		t.Fatal("unexpected IsClosed semantics")
	}
}
