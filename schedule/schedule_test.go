package schedule

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterval(t *testing.T) {
	i, err := NewInterval(1, Minutes)
	require.NoError(t, err)
	assert.Equal(t, "every minute", i.String())
	assert.Equal(t, time.Minute, i.Duration())

	i, err = NewInterval(5, Hours)
	require.NoError(t, err)
	assert.Equal(t, "every 5 hours", i.String())
	assert.Equal(t, 5*time.Hour, i.Duration())

	i, err = NewInterval(0, Microseconds)
	require.NoError(t, err)
	assert.Equal(t, "every 0 microseconds", i.String())

	_, err = NewInterval(-1, Days)
	require.ErrorIs(t, err, ErrNegativeEvery)
	_, err = NewInterval(1, "fortnights")
	require.ErrorIs(t, err, ErrUnknownPeriod)
}

func TestIntervalFromMap(t *testing.T) {
	i, err := IntervalFromMap(map[string]any{"every": "3", "period": "seconds"})
	require.NoError(t, err)
	assert.Equal(t, Interval{Every: 3, Period: Seconds}, i)

	back, err := IntervalFromMap(i.ToMap())
	require.NoError(t, err)
	assert.Equal(t, i, back)

	_, err = IntervalFromMap(map[string]any{"every": 3})
	require.ErrorIs(t, err, ErrUnknownPeriod)
}

func TestCrontab(t *testing.T) {
	c, err := NewCrontab("*/15", "9-17", "mon-fri", "", "")
	require.NoError(t, err)
	assert.Equal(t, "*/15 9-17 mon-fri * * (m/h/d/dM/MY)", c.String())

	_, err = NewCrontab("0; rm -rf /", "", "", "", "")
	require.ErrorIs(t, err, ErrCrontabField)

	c, err = CrontabFromMap(map[string]any{"minute": "30", "hour": 4})
	require.NoError(t, err)
	assert.Equal(t, Crontab{Minute: "30", Hour: "4", DayOfWeek: "*", DayOfMonth: "*", MonthOfYear: "*"}, c)
	assert.Equal(t, map[string]any{
		"minute": "30", "hour": "4", "day_of_week": "*", "day_of_month": "*", "month_of_year": "*",
	}, c.ToMap())
}

func TestTaskValidate(t *testing.T) {
	every := &Interval{Every: 1, Period: Days}
	cron := &Crontab{Minute: "0", Hour: "*", DayOfWeek: "*", DayOfMonth: "*", MonthOfYear: "*"}

	tests := []struct {
		name string
		task Task
		want error
	}{
		{"ok interval", Task{Name: "a", Task: "m", Interval: every}, nil},
		{"ok crontab", Task{Name: "a", Task: "m", Crontab: cron}, nil},
		{"both", Task{Name: "a", Task: "m", Interval: every, Crontab: cron}, ErrBothSchedules},
		{"neither", Task{Name: "a", Task: "m"}, ErrNoSchedule},
		{"no name", Task{Task: "m", Interval: every}, ErrMissingName},
		{"no task", Task{Name: "a", Interval: every}, ErrMissingTask},
		{"args and kwargs", Task{Name: "a", Task: "m", Interval: every, Args: []any{1}, Kwargs: map[string]any{"x": 1}}, ErrArgsAndKwargs},
		{"bad interval", Task{Name: "a", Task: "m", Interval: &Interval{Every: -2, Period: Days}}, ErrNegativeEvery},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.task.Validate()
			if test.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, test.want)
		})
	}
}

func TestTaskString(t *testing.T) {
	task := Task{Name: "nightly", Interval: &Interval{Every: 1, Period: Days}}
	assert.Equal(t, "nightly: every day", task.String())
	task = Task{Name: "hourly", Crontab: &Crontab{Minute: "0", Hour: "*", DayOfWeek: "*", DayOfMonth: "*", MonthOfYear: "*"}}
	assert.Equal(t, "hourly: 0 * * * * (m/h/d/dM/MY)", task.String())
	assert.Equal(t, "bare: {no schedule}", (&Task{Name: "bare"}).String())
}

func TestTaskMapRoundTrip(t *testing.T) {
	expires := time.Date(2027, 1, 2, 3, 4, 5, 0, time.UTC)
	task := &Task{
		Name:          "purge",
		Task:          "events.purge",
		Crontab:       &Crontab{Minute: "0", Hour: "3", DayOfWeek: "*", DayOfMonth: "*", MonthOfYear: "*"},
		Kwargs:        map[string]any{"older_than": "30d"},
		Exchange:      "kraken",
		RoutingKey:    "kraken",
		SoftTimeLimit: 60,
		Expires:       &expires,
		Enabled:       true,
		Description:   "drop old events",
	}
	task.RecordRun(expires.Add(-time.Hour))

	back, err := TaskFromMap(task.ToMap())
	require.NoError(t, err)
	if diff := cmp.Diff(task, back, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Round trip (-want, +got):\n%s", diff)
	}
	assert.Equal(t, 1, back.TotalRunCount)
	assert.False(t, back.Expired(expires.Add(-time.Minute)))
	assert.True(t, back.Expired(expires.Add(time.Minute)))
}

func TestTaskFromMapWeakTypes(t *testing.T) {
	task, err := TaskFromMap(map[string]any{
		"name":     "poll",
		"task":     "siren.poll",
		"interval": map[string]any{"every": "10", "period": "seconds"},
		"args":     []any{"a"},
		"enabled":  "true",
	})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, task.Interval.Duration())
	assert.True(t, task.Enabled)

	p, err := task.Params()
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, p.Value())

	_, err = TaskFromMap(map[string]any{"name": "x", "task": "y"})
	require.ErrorIs(t, err, ErrNoSchedule)
}
