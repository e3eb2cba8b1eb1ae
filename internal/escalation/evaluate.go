package escalation

import (
	"time"

	"studioflow/production-portal/production-portal-backend/internal/projects"
)

// PercentageLeft returns how much of the window between start and deadline
// remains at now, as a percentage. ok is false for an empty or inverted
// window.
func PercentageLeft(start, deadline, now time.Time) (pct float64, ok bool) {
	total := deadline.Sub(start)
	if total <= 0 {
		return 0, false
	}
	return float64(deadline.Sub(now)) / float64(total) * 100, true
}

// Evaluate picks the single most severe threshold that is reached at now and
// has not been raised yet. Milder bands skipped between sweeps are never
// reported on their own.
func Evaluate(start, deadline, now time.Time, flags projects.WarningFlags) (projects.Threshold, bool) {
	pct, ok := PercentageLeft(start, deadline, now)
	if !ok {
		return "", false
	}

	if now.After(deadline) && !flags.WarnCrossed {
		return projects.ThresholdCrossed, true
	} else if pct <= 5 && !flags.Warn5 {
		return projects.Threshold5, true
	} else if pct <= 25 && !flags.Warn25 {
		return projects.Threshold25, true
	} else if pct <= 50 && !flags.Warn50 {
		return projects.Threshold50, true
	}
	return "", false
}
