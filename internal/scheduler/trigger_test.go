package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTriggerInterval(t *testing.T) {
	for _, spec := range []string{"30s", "@every 30s", "@every  1m30s"} {
		trigger, err := ParseTrigger(spec)
		require.NoError(t, err, spec)
		_, ok := trigger.(intervalTrigger)
		assert.True(t, ok, "%s should parse as an interval", spec)
	}

	anchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trigger, err := ParseTrigger("45s")
	require.NoError(t, err)
	next, ok := trigger.Next(anchor)
	require.True(t, ok)
	assert.Equal(t, anchor.Add(45*time.Second), next)
}

func TestParseTriggerRejectsBadSpecs(t *testing.T) {
	for _, spec := range []string{"", "  ", "-5s", "@every -1m", "@every nope", "* * *", "61 * * * *"} {
		_, err := ParseTrigger(spec)
		assert.Error(t, err, "spec %q must be rejected", spec)
	}
}

func TestParseTriggerCron(t *testing.T) {
	trigger, err := ParseTrigger("0 9 * * 1-5")
	require.NoError(t, err)

	// Friday 10:00 -> next weekday 09:00 is Monday.
	friday := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	next, ok := trigger.Next(friday)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), next)

	trigger, err = ParseTrigger("*/15 * * * *")
	require.NoError(t, err)
	next, ok = trigger.Next(time.Date(2026, 3, 6, 10, 7, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 6, 10, 15, 0, 0, time.UTC), next)
}

func TestCronTriggerImpossibleDateNeverFires(t *testing.T) {
	// Feb 31 parses as valid cron syntax but can never match.
	trigger, err := ParseTrigger("0 0 31 2 *")
	require.NoError(t, err)

	next, ok := trigger.Next(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
	assert.True(t, next.IsZero())
}

func TestParseTriggerOnce(t *testing.T) {
	at := time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)
	trigger, err := ParseTrigger(at.Format(time.RFC3339))
	require.NoError(t, err)

	next, ok := trigger.Next(at.Add(-time.Hour))
	require.True(t, ok)
	assert.True(t, next.Equal(at))

	// Already fired: never again.
	_, ok = trigger.Next(at)
	assert.False(t, ok)
	_, ok = trigger.Next(at.Add(time.Hour))
	assert.False(t, ok)
}
