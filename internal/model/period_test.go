package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonthOf(t *testing.T) {
	t.Run("utc", func(t *testing.T) {
		p := MonthOf(time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC))

		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), p.Start)
		assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), p.End)
	})

	t.Run("december rolls into next year", func(t *testing.T) {
		p := MonthOf(time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC))

		assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), p.End)
	})

	t.Run("follows the time's location", func(t *testing.T) {
		jakarta := time.FixedZone("WIB", 7*60*60)

		// 2026-03-31 20:00 UTC is already April 1st in Jakarta (UTC+7)
		instant := time.Date(2026, 3, 31, 20, 0, 0, 0, time.UTC)

		assert.Equal(t, time.March, MonthOf(instant).Start.Month())

		local := MonthOf(instant.In(jakarta))
		assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, jakarta), local.Start)
		assert.True(t, local.Contains(instant))
	})
}

func TestPeriod_Contains(t *testing.T) {
	p := MonthOf(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))

	assert.True(t, p.Contains(p.Start))
	assert.True(t, p.Contains(p.End.Add(-time.Nanosecond)))
	assert.False(t, p.Contains(p.End))
	assert.False(t, p.Contains(p.Start.Add(-time.Nanosecond)))
}
