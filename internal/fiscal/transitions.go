package fiscal

import "time"

// ValidateTransition checks a period status change against the lifecycle policy.
// LOCKED can only be left towards CLOSED with an administrative override.
func ValidateTransition(current, target PeriodStatus, hasOverride bool) error {
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen || target == PeriodStatusLocked {
			return nil
		}
	case PeriodStatusLocked:
		if target == PeriodStatusClosed && hasOverride {
			return nil
		}
	}
	return ErrInvalidTransition
}

func markClosed(p Period, at time.Time, actorID int64) Period {
	ts := at
	p.Status = PeriodStatusClosed
	p.ClosedAt = &ts
	actor := actorID
	p.ClosedBy = &actor
	return p
}

func markOpen(p Period) Period {
	p.Status = PeriodStatusOpen
	p.ClosedAt = nil
	p.ClosedBy = nil
	return p
}
