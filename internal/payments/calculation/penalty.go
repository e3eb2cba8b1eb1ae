package calculation

import (
	"math"
	"time"
)

// LatePenaltyRate is deducted once a delivery is late at all. It does not
// grow with the number of days.
const LatePenaltyRate = 0.20

const day = 24 * time.Hour

// Result is the outcome of a settlement calculation.
type Result struct {
	DaysLate    int     `json:"days_late"`
	IsLate      bool    `json:"is_late"`
	PenaltyRate float64 `json:"penalty_rate"`
	Penalty     float64 `json:"penalty"`
	BaseAmount  float64 `json:"base_amount"`
	FinalAmount float64 `json:"final_amount"`
}

// Calculate evaluates the late-delivery penalty for baseAmount against
// deadline at the instant at.
func Calculate(deadline time.Time, baseAmount float64, at time.Time) Result {
	daysLate := DaysLate(deadline, at)
	if daysLate == 0 {
		return Result{BaseAmount: baseAmount, FinalAmount: baseAmount}
	}

	penalty := roundCents(baseAmount * LatePenaltyRate)
	return Result{
		DaysLate:    daysLate,
		IsLate:      true,
		PenaltyRate: LatePenaltyRate,
		Penalty:     penalty,
		BaseAmount:  baseAmount,
		FinalAmount: math.Max(0, roundCents(baseAmount-penalty)),
	}
}

// CalculateNow evaluates at the current time.
func CalculateNow(deadline time.Time, baseAmount float64) Result {
	return Calculate(deadline, baseAmount, time.Now())
}

// DaysLate is ceil((at - deadline) / 1 day), floored at zero.
func DaysLate(deadline, at time.Time) int {
	overdue := at.Sub(deadline)
	if overdue <= 0 {
		return 0
	}
	return int(math.Ceil(float64(overdue) / float64(day)))
}

// roundCents matches the decimal(14,2) money columns, so a stored amount
// always equals the amount that was reported.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
