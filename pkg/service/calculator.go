package service

import (
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// ComputeNextRun converts a recurrence rule into the next absolute run
// timestamp strictly after the schedule's last run, or after now when the
// schedule has never fired. It returns nil for inactive schedules, has no
// side effects, and is idempotent for a fixed LastRunAt.
func ComputeNextRun(sched models.TaskSchedule, now time.Time) (*time.Time, error) {
	if !sched.IsActive {
		return nil, nil
	}
	base := now
	if sched.LastRunAt != nil {
		base = *sched.LastRunAt
	}

	if sched.CycleType == models.CronCycle {
		if sched.CronExpr == nil || *sched.CronExpr == "" {
			return nil, errors.Errorf("schedule %s: CRON cycle without expression", sched.ID)
		}
		expr, err := cron.ParseStandard(*sched.CronExpr)
		if err != nil {
			return nil, errors.Wrapf(err, "schedule %s: bad cron expression", sched.ID)
		}
		next := expr.Next(base)
		return &next, nil
	}

	hour, minute, err := parseRunTime(sched.RunTime)
	if err != nil {
		return nil, errors.Wrapf(err, "schedule %s", sched.ID)
	}

	switch sched.CycleType {
	case models.DailyCycle:
		next := at(base, hour, minute)
		for !next.After(base) {
			next = next.AddDate(0, 0, 1)
		}
		return &next, nil

	case models.WeeklyCycle:
		next := at(base, hour, minute)
		if sched.DayOfWeek != nil {
			target := time.Weekday(*sched.DayOfWeek % 7)
			for next.Weekday() != target || !next.After(base) {
				next = next.AddDate(0, 0, 1)
			}
		} else {
			// No day selector: keep the cadence of the last run.
			for !next.After(base) {
				next = next.AddDate(0, 0, 7)
			}
		}
		return &next, nil

	case models.MonthlyCycle:
		day := base.Day()
		if sched.DayOfMonth != nil {
			day = *sched.DayOfMonth
		}
		y, m := base.Year(), base.Month()
		next := monthlyAt(y, m, day, hour, minute, base.Location())
		for !next.After(base) {
			m++
			if m > time.December {
				m = time.January
				y++
			}
			next = monthlyAt(y, m, day, hour, minute, base.Location())
		}
		return &next, nil
	}
	return nil, errors.Errorf("schedule %s: unknown cycle type %q", sched.ID, sched.CycleType)
}

func parseRunTime(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "bad run time %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

func at(ref time.Time, hour, minute int) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
}

// monthlyAt clamps day-of-month overflow to the last valid day of the month.
func monthlyAt(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	if last := lastDay(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func lastDay(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
