package schedule

import (
	"time"

	"emperror.dev/errors"

	"github.com/mrjvadi/tentacle/broker"
)

// Task is a periodic task: a remote method, its arguments, where to publish
// it and exactly one of Interval and Crontab.
type Task struct {
	Name string `mapstructure:"name"`
	// Task is the remote method to invoke.
	Task string `mapstructure:"task"`

	Interval *Interval `mapstructure:"interval"`
	Crontab  *Crontab  `mapstructure:"crontab"`

	Args   []any          `mapstructure:"args"`
	Kwargs map[string]any `mapstructure:"kwargs"`

	Queue      string `mapstructure:"queue"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
	// SoftTimeLimit is in seconds; 0 means none.
	SoftTimeLimit int `mapstructure:"soft_time_limit"`

	Expires *time.Time `mapstructure:"expires"`
	Enabled bool       `mapstructure:"enabled"`

	LastRunAt     *time.Time `mapstructure:"last_run_at"`
	TotalRunCount int        `mapstructure:"total_run_count"`

	DateChanged    *time.Time `mapstructure:"date_changed"`
	Description    string     `mapstructure:"description"`
	RunImmediately bool       `mapstructure:"run_immediately"`
}

// Validate checks identity, arguments and that exactly one schedule is set.
func (t *Task) Validate() error {
	switch {
	case t.Name == "":
		return ErrMissingName
	case t.Task == "":
		return errors.WithDetails(ErrMissingTask, "name", t.Name)
	case t.Interval != nil && t.Crontab != nil:
		return errors.WithDetails(ErrBothSchedules, "name", t.Name)
	case t.Interval == nil && t.Crontab == nil:
		return errors.WithDetails(ErrNoSchedule, "name", t.Name)
	case len(t.Args) > 0 && len(t.Kwargs) > 0:
		return errors.WithDetails(ErrArgsAndKwargs, "name", t.Name)
	}
	if t.Interval != nil {
		return t.Interval.Validate()
	}
	return t.Crontab.Validate()
}

// Params returns the call arguments of the task.
func (t *Task) Params() (broker.Params, error) {
	return broker.NewParams(t.Args, t.Kwargs)
}

// Expired reports whether the task expired before now.
func (t *Task) Expired(now time.Time) bool {
	return t.Expires != nil && now.After(*t.Expires)
}

// Clone returns a deep copy of t. Schedules, timestamps and arguments,
// including nested maps and slices, are not shared with t.
func (t *Task) Clone() *Task {
	c := *t
	if t.Interval != nil {
		i := *t.Interval
		c.Interval = &i
	}
	if t.Crontab != nil {
		cr := *t.Crontab
		c.Crontab = &cr
	}
	c.Expires = cloneTime(t.Expires)
	c.LastRunAt = cloneTime(t.LastRunAt)
	c.DateChanged = cloneTime(t.DateChanged)
	if t.Args != nil {
		c.Args = cloneValue(t.Args).([]any)
	}
	if t.Kwargs != nil {
		c.Kwargs = cloneValue(t.Kwargs).(map[string]any)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, e := range v {
			s[i] = cloneValue(e)
		}
		return s
	}
	return v
}

// RecordRun notes one run at now.
func (t *Task) RecordRun(now time.Time) {
	t.LastRunAt = &now
	t.TotalRunCount++
	t.DateChanged = &now
}

func (t *Task) String() string {
	switch {
	case t.Interval != nil:
		return t.Name + ": " + t.Interval.String()
	case t.Crontab != nil:
		return t.Name + ": " + t.Crontab.String()
	}
	return t.Name + ": {no schedule}"
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ToMap renders the task with snake_case keys and RFC 3339 timestamps.
func (t *Task) ToMap() map[string]any {
	m := map[string]any{
		"name":            t.Name,
		"task":            t.Task,
		"interval":        nil,
		"crontab":         nil,
		"args":            t.Args,
		"kwargs":          t.Kwargs,
		"queue":           t.Queue,
		"exchange":        t.Exchange,
		"routing_key":     t.RoutingKey,
		"soft_time_limit": t.SoftTimeLimit,
		"expires":         timeValue(t.Expires),
		"enabled":         t.Enabled,
		"last_run_at":     timeValue(t.LastRunAt),
		"total_run_count": t.TotalRunCount,
		"date_changed":    timeValue(t.DateChanged),
		"description":     t.Description,
		"run_immediately": t.RunImmediately,
	}
	if t.Interval != nil {
		m["interval"] = t.Interval.ToMap()
	}
	if t.Crontab != nil {
		m["crontab"] = t.Crontab.ToMap()
	}
	return m
}

// TaskFromMap decodes and validates a task. Numbers and booleans may arrive
// as strings.
func TaskFromMap(m map[string]any) (*Task, error) {
	t := new(Task)
	if err := decode(m, t); err != nil {
		return nil, err
	}
	if t.Crontab != nil {
		t.Crontab.fill()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
