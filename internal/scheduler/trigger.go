package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger generates firing times for a schedule entry.
type Trigger interface {
	// Next returns the first firing time strictly after the given time.
	// ok=false means the trigger will never fire again.
	Next(after time.Time) (next time.Time, ok bool)
}

type cronTrigger struct {
	schedule cron.Schedule
}

func (t cronTrigger) Next(after time.Time) (time.Time, bool) {
	// cron returns the zero time for specs that can never match again
	// (e.g. a Feb 31 day-of-month).
	next := t.schedule.Next(after)
	return next, !next.IsZero()
}

type intervalTrigger struct {
	every time.Duration
}

func (t intervalTrigger) Next(after time.Time) (time.Time, bool) {
	return after.Add(t.every), true
}

type onceTrigger struct {
	at time.Time
}

func (t onceTrigger) Next(after time.Time) (time.Time, bool) {
	if t.at.After(after) {
		return t.at, true
	}
	return time.Time{}, false
}

// ParseTrigger reads a trigger specification: "@every <duration>" or a bare
// duration for fixed intervals, an RFC3339 timestamp for one-time triggers,
// or a standard five-field cron expression.
func ParseTrigger(spec string) (Trigger, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("trigger spec is empty")
	}

	if rest, found := strings.CutPrefix(spec, "@every "); found {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("parse interval %q: %w", rest, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be positive, got %s", d)
		}
		return intervalTrigger{every: d}, nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("interval must be positive, got %s", d)
		}
		return intervalTrigger{every: d}, nil
	}
	if at, err := time.Parse(time.RFC3339, spec); err == nil {
		return onceTrigger{at: at}, nil
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return cronTrigger{schedule: schedule}, nil
}
