// Package schedule models periodic tasks: when they run (an Interval or a
// Crontab) and what they run. It does not compute run times.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/mitchellh/mapstructure"
)

var (
	ErrNegativeEvery = errors.NewPlain("every must be an integer greater or equal to 0")
	ErrUnknownPeriod = errors.NewPlain("unknown period")
	ErrCrontabField  = errors.NewPlain("invalid crontab field")
	ErrBothSchedules = errors.NewPlain("cannot define both interval and crontab schedule")
	ErrNoSchedule    = errors.NewPlain("must define either interval or crontab schedule")
	ErrMissingName   = errors.NewPlain("task name is required")
	ErrMissingTask   = errors.NewPlain("task method is required")
	ErrArgsAndKwargs = errors.NewPlain("task has both args and kwargs")
)

type Period string

const (
	Days         Period = "days"
	Hours        Period = "hours"
	Minutes      Period = "minutes"
	Seconds      Period = "seconds"
	Microseconds Period = "microseconds"
)

var units = map[Period]time.Duration{
	Days:         24 * time.Hour,
	Hours:        time.Hour,
	Minutes:      time.Minute,
	Seconds:      time.Second,
	Microseconds: time.Microsecond,
}

func (p Period) Valid() bool {
	_, ok := units[p]
	return ok
}

// Singular drops the trailing "s".
func (p Period) Singular() string { return strings.TrimSuffix(string(p), "s") }

// Interval runs a task every Every Periods.
type Interval struct {
	Every  int    `mapstructure:"every"`
	Period Period `mapstructure:"period"`
}

func NewInterval(every int, period Period) (Interval, error) {
	i := Interval{Every: every, Period: period}
	return i, i.Validate()
}

func (i Interval) Validate() error {
	if i.Every < 0 {
		return errors.WithDetails(ErrNegativeEvery, "every", i.Every)
	}
	if !i.Period.Valid() {
		return errors.WithDetails(ErrUnknownPeriod, "period", string(i.Period))
	}
	return nil
}

func (i Interval) Duration() time.Duration {
	return time.Duration(i.Every) * units[i.Period]
}

func (i Interval) String() string {
	if i.Every == 1 {
		return "every " + i.Period.Singular()
	}
	return fmt.Sprintf("every %d %s", i.Every, i.Period)
}

func (i Interval) ToMap() map[string]any {
	return map[string]any{"every": i.Every, "period": string(i.Period)}
}

func IntervalFromMap(m map[string]any) (Interval, error) {
	var i Interval
	if err := decode(m, &i); err != nil {
		return Interval{}, err
	}
	return i, i.Validate()
}

// Crontab is a cron-style schedule. Empty fields mean "*".
type Crontab struct {
	Minute      string `mapstructure:"minute"`
	Hour        string `mapstructure:"hour"`
	DayOfWeek   string `mapstructure:"day_of_week"`
	DayOfMonth  string `mapstructure:"day_of_month"`
	MonthOfYear string `mapstructure:"month_of_year"`
}

func NewCrontab(minute, hour, dayOfWeek, dayOfMonth, monthOfYear string) (Crontab, error) {
	c := Crontab{Minute: minute, Hour: hour, DayOfWeek: dayOfWeek, DayOfMonth: dayOfMonth, MonthOfYear: monthOfYear}
	c.fill()
	return c, c.Validate()
}

func (c *Crontab) fill() {
	for _, f := range []*string{&c.Minute, &c.Hour, &c.DayOfWeek, &c.DayOfMonth, &c.MonthOfYear} {
		if *f == "" {
			*f = "*"
		}
	}
}

func validCronField(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case strings.ContainsRune("*,-/", r):
		default:
			return false
		}
	}
	return s != ""
}

func (c Crontab) Validate() error {
	fields := []struct{ name, value string }{
		{"minute", c.Minute},
		{"hour", c.Hour},
		{"day_of_week", c.DayOfWeek},
		{"day_of_month", c.DayOfMonth},
		{"month_of_year", c.MonthOfYear},
	}
	for _, f := range fields {
		if !validCronField(f.value) {
			return errors.WithDetails(ErrCrontabField, "field", f.name, "value", f.value)
		}
	}
	return nil
}

func (c Crontab) String() string {
	return fmt.Sprintf("%s %s %s %s %s (m/h/d/dM/MY)", c.Minute, c.Hour, c.DayOfWeek, c.DayOfMonth, c.MonthOfYear)
}

func (c Crontab) ToMap() map[string]any {
	return map[string]any{
		"minute":        c.Minute,
		"hour":          c.Hour,
		"day_of_week":   c.DayOfWeek,
		"day_of_month":  c.DayOfMonth,
		"month_of_year": c.MonthOfYear,
	}
}

// CrontabFromMap reads a crontab; missing fields default to "*".
func CrontabFromMap(m map[string]any) (Crontab, error) {
	var c Crontab
	if err := decode(m, &c); err != nil {
		return Crontab{}, err
	}
	c.fill()
	return c, c.Validate()
}

func decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return errors.WrapIf(dec.Decode(in), "decode schedule")
}
