package main

import (
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

func TestRandomAvailability(t *testing.T) {
	gofakeit.Seed(42)

	for i := 0; i < 50; i++ {
		blocks := randomAvailability()
		require.NotEmpty(t, blocks)
		assert.LessOrEqual(t, len(blocks), 3)

		seen := make(map[int]bool)
		for _, b := range blocks {
			assert.False(t, seen[b.DayOfWeek], "day %d repeated", b.DayOfWeek)
			seen[b.DayOfWeek] = true
			assert.GreaterOrEqual(t, b.DayOfWeek, 0)
			assert.LessOrEqual(t, b.DayOfWeek, 5)

			minutes, err := schedule.MinutesBetween(b.StartTime, b.EndTime)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, minutes, 60)
			assert.LessOrEqual(t, minutes, 180)
		}
	}
}

func TestNewTherapist(t *testing.T) {
	gofakeit.Seed(7)

	first := newTherapist(0)
	assert.NotEmpty(t, first.Name)
	assert.Contains(t, specialties, first.Specialty)
	assert.Equal(t, palette[0], first.Color)

	wrapped := newTherapist(len(palette) + 2)
	assert.Equal(t, palette[2], wrapped.Color)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, wrapped.Color)
}
