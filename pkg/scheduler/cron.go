package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lucia-ai/lucia/pkg/store"
)

// CronService evaluates the 5-field cron schedules that drive
// recurring alarm clocks. All computation is UTC.
type CronService struct {
	parser cron.Parser
}

// NewCronService creates the service.
func NewCronService() *CronService {
	return &CronService{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// IsValid reports whether the expression parses as standard 5-field
// cron.
func (c *CronService) IsValid(expression string) bool {
	_, err := c.parser.Parse(expression)
	return err == nil
}

// NextOccurrence returns the first occurrence strictly after from. The
// bool is false when the expression is invalid or has no future
// occurrence.
func (c *CronService) NextOccurrence(expression string, from time.Time) (time.Time, bool) {
	schedule, err := c.parser.Parse(expression)
	if err != nil {
		return time.Time{}, false
	}
	next := schedule.Next(from.UTC())
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// AdvanceSchedule moves the clock past a firing. Recurring clocks get
// the next cron occurrence; one-shots are cleared and disabled. The
// return reports whether the clock remains active.
func (c *CronService) AdvanceSchedule(clock *store.AlarmClock, now time.Time) bool {
	if clock.CronSchedule == "" {
		clock.NextFireAt = nil
		clock.IsEnabled = false
		return false
	}

	next, ok := c.NextOccurrence(clock.CronSchedule, now)
	if !ok {
		clock.NextFireAt = nil
		clock.IsEnabled = false
		return false
	}
	clock.NextFireAt = &next
	return true
}

// InitializeNextFireAt derives the first fire time for a recurring
// clock that does not have one yet. Idempotent: a set NextFireAt and
// one-shot clocks are left alone.
func (c *CronService) InitializeNextFireAt(clock *store.AlarmClock, now time.Time) {
	if clock.CronSchedule == "" || clock.NextFireAt != nil {
		return
	}
	if next, ok := c.NextOccurrence(clock.CronSchedule, now); ok {
		clock.NextFireAt = &next
	}
}

// Describe renders a human-readable schedule for the common forms and
// falls back to the raw expression.
func (c *CronService) Describe(expression string) string {
	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return expression
	}

	minute, err1 := strconv.Atoi(fields[0])
	hour, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || fields[2] != "*" || fields[3] != "*" {
		return expression
	}

	clock := fmt.Sprintf("%02d:%02d", hour, minute)
	switch fields[4] {
	case "*":
		return "Daily at " + clock
	case "1-5":
		return "Weekdays at " + clock
	case "0,6", "6,0":
		return "Weekends at " + clock
	default:
		return expression
	}
}
