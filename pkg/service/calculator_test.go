package service_test

import (
	"testing"
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/service"
	"github.com/stretchr/testify/assert"
)

func TestComputeNextRun(t *testing.T) {
	// 2026-03-10 is a Tuesday.
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	ptrTime := func(t time.Time) *time.Time { return &t }
	ptrInt := func(i int) *int { return &i }
	ptrStr := func(s string) *string { return &s }

	t.Run("InactiveScheduleYieldsNothing", func(t *testing.T) {
		next, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType: models.DailyCycle,
			RunTime:   "09:00",
			IsActive:  false,
		}, now)
		assert.NoError(t, err)
		assert.Nil(t, next)
	})

	t.Run("DailyFirstRunLaterToday", func(t *testing.T) {
		next, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType: models.DailyCycle,
			RunTime:   "09:00",
			IsActive:  true,
		}, now)
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), *next)
	})

	t.Run("DailyFirstRunAlreadyPassedToday", func(t *testing.T) {
		next, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType: models.DailyCycle,
			RunTime:   "07:30",
			IsActive:  true,
		}, now)
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 11, 7, 30, 0, 0, time.UTC), *next)
	})

	t.Run("DailyAdvancesOneDayFromLastRun", func(t *testing.T) {
		sched := models.TaskSchedule{
			CycleType: models.DailyCycle,
			RunTime:   "09:00",
			IsActive:  true,
			LastRunAt: ptrTime(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		}
		next, err := service.ComputeNextRun(sched, now.Add(2*time.Hour))
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), *next)

		// Same LastRunAt, different observation time: same answer.
		again, err := service.ComputeNextRun(sched, now.Add(20*time.Hour))
		assert.NoError(t, err)
		assert.Equal(t, *next, *again)
	})

	t.Run("WeeklyTargetsDayOfWeek", func(t *testing.T) {
		next, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType: models.WeeklyCycle,
			RunTime:   "09:00",
			DayOfWeek: ptrInt(1), // Monday
			IsActive:  true,
		}, now)
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), *next)
		assert.Equal(t, time.Monday, next.Weekday())
	})

	t.Run("WeeklyWithoutDaySelectorKeepsCadence", func(t *testing.T) {
		next, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType: models.WeeklyCycle,
			RunTime:   "09:00",
			IsActive:  true,
			LastRunAt: ptrTime(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		}, now)
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC), *next)
	})

	t.Run("MonthlyOnFixedDay", func(t *testing.T) {
		next, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType:  models.MonthlyCycle,
			RunTime:    "06:00",
			DayOfMonth: ptrInt(15),
			IsActive:   true,
		}, now)
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC), *next)
	})

	t.Run("MonthlyClampsOverflowDay", func(t *testing.T) {
		// Day 31 in a 28-day month lands on the last valid day.
		next, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType:  models.MonthlyCycle,
			RunTime:    "09:00",
			DayOfMonth: ptrInt(31),
			IsActive:   true,
			LastRunAt:  ptrTime(time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)),
		}, now)
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), *next)
	})

	t.Run("CronExpression", func(t *testing.T) {
		next, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType: models.CronCycle,
			CronExpr:  ptrStr("*/15 * * * *"),
			IsActive:  true,
			LastRunAt: ptrTime(time.Date(2026, 3, 10, 9, 7, 0, 0, time.UTC)),
		}, now)
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC), *next)
	})

	t.Run("CronWithoutExpression", func(t *testing.T) {
		_, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType: models.CronCycle,
			IsActive:  true,
		}, now)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "CRON cycle without expression")
	})

	t.Run("BadRunTime", func(t *testing.T) {
		_, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType: models.DailyCycle,
			RunTime:   "25:99",
			IsActive:  true,
		}, now)
		assert.Error(t, err)
	})

	t.Run("UnknownCycleType", func(t *testing.T) {
		_, err := service.ComputeNextRun(models.TaskSchedule{
			CycleType: "HOURLY",
			RunTime:   "09:00",
			IsActive:  true,
		}, now)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown cycle type")
	})
}
