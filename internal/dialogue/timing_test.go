package dialogue

import (
	"testing"
	"time"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

func TestComputeDueTimeOffsetDays(t *testing.T) {
	loc, err := time.LoadLocation("Africa/Kampala")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	i := &models.Interaction{
		InteractionID: "i1",
		TypeSchedule:  models.ScheduleTypeOffsetDays,
		OffsetDays:    &models.OffsetDays{Days: 2, AtTime: "09:30"},
	}
	enrolled := time.Date(2015, 6, 1, 22, 45, 0, 0, loc)
	due, err := ComputeDueTime(i, enrolled, loc)
	if err != nil {
		t.Fatalf("ComputeDueTime failed: %v", err)
	}
	want := time.Date(2015, 6, 3, 9, 30, 0, 0, loc)
	if !due.Equal(want) {
		t.Errorf("Expected due %v, got %v", want, due)
	}
}

func TestComputeDueTimeOffsetTime(t *testing.T) {
	i := &models.Interaction{
		InteractionID: "i1",
		TypeSchedule:  models.ScheduleTypeOffsetTime,
		OffsetTime:    "90:30",
	}
	ref := time.Date(2015, 6, 1, 10, 0, 0, 0, time.UTC)
	due, err := ComputeDueTime(i, ref, time.UTC)
	if err != nil {
		t.Fatalf("ComputeDueTime failed: %v", err)
	}
	want := ref.Add(90*time.Minute + 30*time.Second)
	if !due.Equal(want) {
		t.Errorf("Expected due %v, got %v", want, due)
	}
}

func TestComputeDueTimeFixedTime(t *testing.T) {
	fixed := time.Date(2015, 7, 1, 8, 0, 0, 0, time.UTC)
	i := &models.Interaction{
		InteractionID: "i1",
		TypeSchedule:  models.ScheduleTypeFixedTime,
		FixedTime:     &fixed,
	}
	due, err := ComputeDueTime(i, time.Now(), time.UTC)
	if err != nil {
		t.Fatalf("ComputeDueTime failed: %v", err)
	}
	if !due.Equal(fixed) {
		t.Errorf("Expected fixed due %v, got %v", fixed, due)
	}
}

func TestComputeDueTimeOffsetConditionAddsDelay(t *testing.T) {
	i := &models.Interaction{
		InteractionID:                "i1",
		TypeSchedule:                 models.ScheduleTypeOffsetCondition,
		OffsetConditionInteractionID: "i0",
		OffsetConditionDelay:         15,
	}
	ref := time.Date(2015, 6, 1, 10, 0, 0, 0, time.UTC)
	due, err := ComputeDueTime(i, ref, time.UTC)
	if err != nil {
		t.Fatalf("ComputeDueTime failed: %v", err)
	}
	if !due.Equal(ref.Add(15 * time.Minute)) {
		t.Errorf("Expected due 15 minutes after trigger, got %v", due)
	}
}

func TestReminderTimesAndDeadline(t *testing.T) {
	i := &models.Interaction{
		InteractionID:        "i1",
		TypeSchedule:         models.ScheduleTypeOffsetTime,
		OffsetTime:           "10",
		SetReminder:          true,
		TypeScheduleReminder: models.ReminderTypeOffsetTime,
		ReminderNumber:       2,
		ReminderMinutes:      30,
	}
	sent := time.Date(2015, 6, 1, 10, 0, 0, 0, time.UTC)
	reminders, err := ReminderTimes(i, sent, time.UTC)
	if err != nil {
		t.Fatalf("ReminderTimes failed: %v", err)
	}
	if len(reminders) != 2 {
		t.Fatalf("Expected 2 reminders, got %d", len(reminders))
	}
	if !reminders[0].Equal(sent.Add(30*time.Minute)) || !reminders[1].Equal(sent.Add(60*time.Minute)) {
		t.Errorf("Unexpected reminder times: %v", reminders)
	}
	deadline, err := DeadlineTime(i, sent, time.UTC)
	if err != nil {
		t.Fatalf("DeadlineTime failed: %v", err)
	}
	if !deadline.Equal(sent.Add(90 * time.Minute)) {
		t.Errorf("Expected deadline one interval past the last reminder, got %v", deadline)
	}
}

func TestReminderTimesOffsetDays(t *testing.T) {
	i := &models.Interaction{
		InteractionID:        "i1",
		TypeSchedule:         models.ScheduleTypeOffsetTime,
		OffsetTime:           "10",
		SetReminder:          true,
		TypeScheduleReminder: models.ReminderTypeOffsetDays,
		ReminderNumber:       1,
		ReminderDays:         1,
		ReminderAtTime:       "08:00",
	}
	sent := time.Date(2015, 6, 1, 17, 0, 0, 0, time.UTC)
	reminders, err := ReminderTimes(i, sent, time.UTC)
	if err != nil {
		t.Fatalf("ReminderTimes failed: %v", err)
	}
	want := time.Date(2015, 6, 2, 8, 0, 0, 0, time.UTC)
	if len(reminders) != 1 || !reminders[0].Equal(want) {
		t.Errorf("Expected reminder at %v, got %v", want, reminders)
	}
}
