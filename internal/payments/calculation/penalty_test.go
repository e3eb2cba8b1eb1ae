package calculation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var deadline = time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)

func TestCalculateOnTime(t *testing.T) {
	for _, at := range []time.Time{deadline.Add(-time.Second), deadline, deadline.AddDate(0, 0, -5)} {
		res := Calculate(deadline, 1000, at)
		assert.Equal(t, 0, res.DaysLate)
		assert.False(t, res.IsLate)
		assert.Equal(t, 1000.0, res.FinalAmount)
		assert.Zero(t, res.Penalty)
	}
}

func TestCalculateFlatPenalty(t *testing.T) {
	cases := []struct {
		name     string
		at       time.Time
		daysLate int
	}{
		{"one second late", deadline.Add(time.Second), 1},
		{"exactly one day", deadline.Add(24 * time.Hour), 1},
		{"just over one day", deadline.Add(24*time.Hour + time.Minute), 2},
		{"ten days", deadline.AddDate(0, 0, 10), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Calculate(deadline, 100, tc.at)
			assert.Equal(t, tc.daysLate, res.DaysLate)
			assert.True(t, res.IsLate)
			assert.Equal(t, 20.0, res.Penalty)
			assert.Equal(t, 80.0, res.FinalAmount)
		})
	}
}

func TestCalculateApprovedTwoDaysLate(t *testing.T) {
	day10 := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	day12 := day10.AddDate(0, 0, 2)

	res := Calculate(day10, 1000, day12)
	assert.Equal(t, 2, res.DaysLate)
	assert.Equal(t, 800.0, res.FinalAmount)
	assert.Equal(t, 200.0, res.Penalty)
}

func TestCalculateNeverNegative(t *testing.T) {
	res := Calculate(deadline, 0, deadline.AddDate(0, 0, 3))
	assert.Equal(t, 0.0, res.FinalAmount)

	res = Calculate(deadline, -50, deadline.AddDate(0, 0, 3))
	assert.Equal(t, 0.0, res.FinalAmount)
}

func TestCalculateRoundsToCents(t *testing.T) {
	late := deadline.AddDate(0, 0, 1)

	res := Calculate(deadline, 10.05, late)
	assert.Equal(t, 2.01, res.Penalty)
	assert.Equal(t, 8.04, res.FinalAmount)

	res = Calculate(deadline, 33.33, late)
	assert.Equal(t, 6.67, res.Penalty)
	assert.Equal(t, 26.66, res.FinalAmount)
}
