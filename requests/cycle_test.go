package requests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleContaining(t *testing.T) {
	tests := []struct {
		name  string
		day   Day
		start Day
		end   Day
	}{
		{"early in month", NewDay(2025, 1, 3), NewDay(2024, 12, 26), NewDay(2025, 1, 25)},
		{"last day of cycle", NewDay(2025, 1, 25), NewDay(2024, 12, 26), NewDay(2025, 1, 25)},
		{"first day of cycle", NewDay(2025, 1, 26), NewDay(2025, 1, 26), NewDay(2025, 2, 25)},
		{"end of month", NewDay(2025, 1, 31), NewDay(2025, 1, 26), NewDay(2025, 2, 25)},
		{"year rollover", NewDay(2024, 12, 28), NewDay(2024, 12, 26), NewDay(2025, 1, 25)},
		{"leap february", NewDay(2024, 2, 29), NewDay(2024, 2, 26), NewDay(2024, 3, 25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CycleContaining(tt.day)
			assert.Equal(t, tt.start, c.Start)
			assert.Equal(t, tt.end, c.End)
			assert.True(t, c.Contains(tt.day))
		})
	}
}

func TestCycleContaining_IgnoresTimeOfDay(t *testing.T) {
	late := time.Date(2025, 1, 25, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, NewDay(2024, 12, 26), CycleContainingTime(late).Start)

	c := CycleContaining(NewDay(2025, 1, 10))
	assert.True(t, c.ContainsTime(late))
	assert.False(t, c.ContainsTime(late.Add(time.Second)))
}

func TestBillingCycle_Boundaries(t *testing.T) {
	c := CycleContaining(NewDay(2025, 1, 10))

	assert.False(t, c.Contains(NewDay(2024, 12, 25)))
	assert.True(t, c.Contains(NewDay(2024, 12, 26)))
	assert.True(t, c.Contains(NewDay(2025, 1, 25)))
	assert.False(t, c.Contains(NewDay(2025, 1, 26)))
}

func TestBillingCycle_NextPrevious(t *testing.T) {
	c := CycleContaining(NewDay(2025, 1, 10))

	next := c.Next()
	assert.Equal(t, NewDay(2025, 1, 26), next.Start)
	assert.Equal(t, NewDay(2025, 2, 25), next.End)
	assert.Equal(t, c, next.Previous())
}

func TestBillingCycle_Days(t *testing.T) {
	days := CycleContaining(NewDay(2025, 2, 1)).Days()
	require.Len(t, days, 31)
	assert.Equal(t, NewDay(2025, 1, 26), days[0])
	assert.Equal(t, NewDay(2025, 2, 25), days[len(days)-1])

	leap := CycleContaining(NewDay(2024, 3, 1)).Days()
	assert.Len(t, leap, 29)
}

func TestBillingCycle_String(t *testing.T) {
	c := CycleContaining(NewDay(2025, 1, 10))
	assert.Equal(t, "26 Dec 2024 - 25 Jan 2025", c.String())
}

func TestDay_ParseAndFormat(t *testing.T) {
	d, err := ParseDay("2025-03-05")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-05", d.String())
	assert.Equal(t, "05 Mar 2025", d.Label())

	_, err = ParseDay("05/03/2025")
	assert.Error(t, err)
}

func TestDay_JSONText(t *testing.T) {
	var d Day
	require.NoError(t, d.UnmarshalText([]byte("2025-01-15")))
	assert.Equal(t, NewDay(2025, 1, 15), d)

	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", string(b))
}
