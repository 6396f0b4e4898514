package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucia-ai/lucia/pkg/store"
)

func TestCronIsValid(t *testing.T) {
	c := NewCronService()

	assert.True(t, c.IsValid("0 7 * * 1-5"))
	assert.True(t, c.IsValid("*/15 * * * *"))
	assert.False(t, c.IsValid("not cron"))
	assert.False(t, c.IsValid("0 7 * *"))
	assert.False(t, c.IsValid("61 7 * * *"))
}

func TestCronNextOccurrenceStrictlyAfter(t *testing.T) {
	c := NewCronService()
	from := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) // a Monday, exactly 07:00

	next, ok := c.NextOccurrence("0 7 * * 1-5", from)
	require.True(t, ok)
	assert.True(t, next.After(from), "next occurrence must be strictly greater than from")
	assert.Equal(t, time.Date(2026, 3, 3, 7, 0, 0, 0, time.UTC), next)
}

func TestCronMonotonicity(t *testing.T) {
	c := NewCronService()
	from := time.Date(2026, 3, 6, 12, 34, 56, 0, time.UTC) // a Friday

	first, ok := c.NextOccurrence("0 7 * * 1-5", from)
	require.True(t, ok)
	second, ok := c.NextOccurrence("0 7 * * 1-5", first)
	require.True(t, ok)
	assert.True(t, second.After(first))
}

func TestCronWeekendSkipsWeekdays(t *testing.T) {
	c := NewCronService()
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday

	next, ok := c.NextOccurrence("0 9 * * 0,6", from)
	require.True(t, ok)
	assert.Equal(t, time.Saturday, next.Weekday())
}

func TestAdvanceScheduleRecurring(t *testing.T) {
	c := NewCronService()
	clock := &store.AlarmClock{ID: "c1", CronSchedule: "0 7 * * *", IsEnabled: true}

	active := c.AdvanceSchedule(clock, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC))
	assert.True(t, active)
	require.NotNil(t, clock.NextFireAt)
	assert.Equal(t, time.Date(2026, 3, 3, 7, 0, 0, 0, time.UTC), *clock.NextFireAt)
	assert.True(t, clock.IsEnabled)
}

func TestAdvanceScheduleOneShot(t *testing.T) {
	c := NewCronService()
	fireAt := time.Now()
	clock := &store.AlarmClock{ID: "c1", NextFireAt: &fireAt, IsEnabled: true}

	active := c.AdvanceSchedule(clock, time.Now())
	assert.False(t, active)
	assert.Nil(t, clock.NextFireAt)
	assert.False(t, clock.IsEnabled)
}

func TestInitializeNextFireAtIdempotent(t *testing.T) {
	c := NewCronService()
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	clock := &store.AlarmClock{ID: "c1", CronSchedule: "0 7 * * *"}

	c.InitializeNextFireAt(clock, now)
	require.NotNil(t, clock.NextFireAt)
	first := *clock.NextFireAt

	c.InitializeNextFireAt(clock, now.Add(2*time.Hour))
	assert.Equal(t, first, *clock.NextFireAt, "a set NextFireAt must not be recomputed")

	oneShot := &store.AlarmClock{ID: "c2"}
	c.InitializeNextFireAt(oneShot, now)
	assert.Nil(t, oneShot.NextFireAt, "one-shot clocks have no derived fire time")
}

func TestCronDescribe(t *testing.T) {
	c := NewCronService()

	assert.Equal(t, "Daily at 07:00", c.Describe("0 7 * * *"))
	assert.Equal(t, "Weekdays at 06:45", c.Describe("45 6 * * 1-5"))
	assert.Equal(t, "Weekends at 09:30", c.Describe("30 9 * * 0,6"))
	assert.Equal(t, "*/15 * * * *", c.Describe("*/15 * * * *"))
	assert.Equal(t, "0 7 1 * *", c.Describe("0 7 1 * *"))
}
