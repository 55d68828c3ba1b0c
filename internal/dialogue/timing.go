package dialogue

import (
	"fmt"
	"time"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

// ComputeDueTime turns an interaction's schedule specification into a
// concrete due time in the tenant's time zone. The reference time is the
// enrollment time, or for offset-condition re-triggering the time of the
// recorded answer.
func ComputeDueTime(i *models.Interaction, ref time.Time, loc *time.Location) (time.Time, error) {
	ref = ref.In(loc)
	switch i.TypeSchedule {
	case models.ScheduleTypeFixedTime:
		if i.FixedTime == nil {
			return time.Time{}, models.NewMissingFieldError("interaction", "fixed-time")
		}
		return i.FixedTime.In(loc), nil
	case models.ScheduleTypeOffsetDays:
		if i.OffsetDays == nil {
			return time.Time{}, models.NewMissingFieldError("interaction", "offset-days")
		}
		hour, minute, err := i.OffsetDays.AtTimeOfDay()
		if err != nil {
			return time.Time{}, err
		}
		day := ref.AddDate(0, 0, i.OffsetDays.Days)
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
	case models.ScheduleTypeOffsetTime:
		d, err := models.ParseOffsetTime(i.OffsetTime)
		if err != nil {
			return time.Time{}, err
		}
		return ref.Add(d), nil
	case models.ScheduleTypeOffsetCondition:
		// Offset-condition interactions only enter the queue when the
		// interaction they depend on records an answer; the due time is
		// the trigger time plus the configured grace period.
		return ref.Add(time.Duration(i.OffsetConditionDelay) * time.Minute), nil
	}
	return time.Time{}, fmt.Errorf("interaction %s: unsupported type-schedule %q", i.InteractionID, i.TypeSchedule)
}

// ReminderTimes computes the reminder due times relative to the original
// send time: reminder-number repetitions at the configured interval.
func ReminderTimes(i *models.Interaction, sendTime time.Time, loc *time.Location) ([]time.Time, error) {
	if !i.HasReminder() {
		return nil, nil
	}
	times := make([]time.Time, 0, i.ReminderNumber)
	for n := 1; n <= i.ReminderNumber; n++ {
		t, err := reminderOffset(i, sendTime, loc, n)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}

// DeadlineTime is the last reminder time plus one additional interval.
func DeadlineTime(i *models.Interaction, sendTime time.Time, loc *time.Location) (time.Time, error) {
	if !i.HasReminder() {
		return time.Time{}, fmt.Errorf("interaction %s has no reminder", i.InteractionID)
	}
	return reminderOffset(i, sendTime, loc, i.ReminderNumber+1)
}

func reminderOffset(i *models.Interaction, sendTime time.Time, loc *time.Location, n int) (time.Time, error) {
	sendTime = sendTime.In(loc)
	switch i.TypeScheduleReminder {
	case models.ReminderTypeOffsetTime:
		return sendTime.Add(time.Duration(n*i.ReminderMinutes) * time.Minute), nil
	case models.ReminderTypeOffsetDays:
		at, err := time.Parse("15:04", i.ReminderAtTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("interaction %s: invalid reminder-at-time: %w", i.InteractionID, err)
		}
		day := sendTime.AddDate(0, 0, n*i.ReminderDays)
		return time.Date(day.Year(), day.Month(), day.Day(), at.Hour(), at.Minute(), 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("interaction %s: unsupported type-schedule-reminder %q", i.InteractionID, i.TypeScheduleReminder)
}
