package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

func TestSaveAndGetParticipant(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()

	_, err := s.GetParticipant(ctx, "+256700000001")
	assert.ErrorIs(t, err, ErrNotFound)

	p := models.NewParticipant("+256700000001", "s1", time.Now().UTC())
	require.NoError(t, s.SaveParticipant(ctx, p))
	assert.False(t, p.ID.IsZero(), "save should bind the storage id")

	got, err := s.GetParticipant(ctx, "+256700000001")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)

	// A second save must replace, not duplicate.
	p.AddTag("cohort-a")
	require.NoError(t, s.SaveParticipant(ctx, p))
	n, err := s.Participants.Count(ctx, bson.M{"phone": "+256700000001"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDueSchedulesAndRemoval(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()
	now := time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)

	save := func(objectType string, due time.Time) {
		require.NoError(t, s.SaveSchedule(ctx, &models.Schedule{
			Meta:                 models.Meta{ObjectType: objectType, ModelVersion: models.ScheduleModelVersion},
			DateTime:             due,
			ParticipantPhone:     "+256700000001",
			ParticipantSessionID: "s1",
			DialogueID:           "d1",
			InteractionID:        "i1",
		}))
	}
	save(models.ObjectTypeDialogueSchedule, now.Add(-time.Minute))
	save(models.ObjectTypeReminderSchedule, now.Add(-time.Minute))
	save(models.ObjectTypeDeadlineSchedule, now.Add(time.Hour))

	due, err := s.DueSchedules(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 2, "the future deadline is not due yet")

	require.NoError(t, s.RemoveSchedule(ctx, due[0]))
	due, err = s.DueSchedules(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	removed, err := s.RemoveSchedules(ctx, "+256700000001", "d1", "i1",
		models.ObjectTypeReminderSchedule, models.ObjectTypeDeadlineSchedule)
	require.NoError(t, err)
	assert.True(t, removed >= 1)
}

func TestRemoveParticipantSchedules(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, phone := range []string{"+256700000001", "+256700000001", "+256700000002"} {
		require.NoError(t, s.SaveSchedule(ctx, &models.Schedule{
			Meta:             models.Meta{ObjectType: models.ObjectTypeDialogueSchedule, ModelVersion: models.ScheduleModelVersion},
			DateTime:         now,
			ParticipantPhone: phone,
			DialogueID:       "d1",
			InteractionID:    "i1",
		}))
	}
	removed, err := s.RemoveParticipantSchedules(ctx, "+256700000001")
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
}

func TestHistoryAnswerQueries(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()
	now := time.Now().UTC()

	add := func(direction, matching string) {
		require.NoError(t, s.AddHistory(ctx, &models.History{
			Meta:                 models.Meta{ObjectType: models.ObjectTypeDialogueHistory, ModelVersion: models.HistoryModelVersion},
			Timestamp:            now,
			ParticipantPhone:     "+256700000001",
			ParticipantSessionID: "s1",
			DialogueID:           "d1",
			InteractionID:        "i1",
			MessageDirection:     direction,
			MatchingAnswer:       matching,
		}))
	}

	answered, err := s.HasAnswered(ctx, "+256700000001", "s1", "d1", "i1")
	require.NoError(t, err)
	assert.False(t, answered)

	add(models.DirectionIncoming, "")
	add(models.DirectionIncoming, "")
	unmatched, err := s.UnmatchedCount(ctx, "+256700000001", "s1", "d1", "i1")
	require.NoError(t, err)
	assert.Equal(t, 2, unmatched)

	add(models.DirectionIncoming, "Fine")
	answered, err = s.HasAnswered(ctx, "+256700000001", "s1", "d1", "i1")
	require.NoError(t, err)
	assert.True(t, answered)

	// A different session sees a clean slate.
	answered, err = s.HasAnswered(ctx, "+256700000001", "s2", "d1", "i1")
	require.NoError(t, err)
	assert.False(t, answered)
}

func TestUpdateHistoryStatus(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()
	require.NoError(t, s.AddHistory(ctx, &models.History{
		Meta:             models.Meta{ObjectType: models.ObjectTypeDialogueHistory, ModelVersion: models.HistoryModelVersion},
		Timestamp:        time.Now().UTC(),
		ParticipantPhone: "+256700000001",
		DialogueID:       "d1",
		MessageID:        "msg-1",
		MessageStatus:    models.MessageStatusPending,
	}))

	matched, err := s.UpdateHistoryStatus(ctx, "msg-1", models.MessageStatusDelivered, "", "", "")
	require.NoError(t, err)
	assert.True(t, matched)

	raw, err := s.History.FindOne(ctx, bson.M{"message-id": "msg-1"})
	require.NoError(t, err)
	h, err := models.HistoryFromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, h.MessageStatus)

	matched, err = s.UpdateHistoryStatus(ctx, "no-such-id", models.MessageStatusDelivered, "", "", "")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestCreditCounters(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()
	day := time.Date(2015, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddCredits(ctx, day, "8282", 2, 1))
	require.NoError(t, s.AddCredits(ctx, day, "8282", 1, 0))
	require.NoError(t, s.AddCredits(ctx, day.AddDate(0, 0, 1), "8282", 5, 0))

	out, in, err := s.CreditCounts(ctx, day, day.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 8, out)
	assert.Equal(t, 1, in)

	// Outside the window nothing counts.
	out, in, err = s.CreditCounts(ctx, day.AddDate(0, 0, 5), day.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Zero(t, out)
	assert.Zero(t, in)
}

func TestTagAndLabelCounts(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for idx, phone := range []string{"+256700000001", "+256700000002", "+256700000003"} {
		p := models.NewParticipant(phone, "s", now)
		if idx < 2 {
			p.AddTag("group-a")
		}
		if idx == 0 {
			p.SetProfile("city", "kampala", "")
		}
		require.NoError(t, s.SaveParticipant(ctx, p))
	}

	n, err := s.TagCount(ctx, "group-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.LabelCount(ctx, "city", "kampala")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.LabelCount(ctx, "city", "gulu")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSaveContentVariableReplaces(t *testing.T) {
	s := NewMemoryTenantStore()
	ctx := context.Background()
	cv := &models.ContentVariable{
		Meta:  models.Meta{ObjectType: models.ObjectTypeContentVariable, ModelVersion: "1"},
		Table: "measurements",
		Keys:  []string{"+256700000001", "weight"},
		Value: "60",
	}
	require.NoError(t, s.SaveContentVariable(ctx, cv))
	cv2 := &models.ContentVariable{
		Meta:  models.Meta{ObjectType: models.ObjectTypeContentVariable, ModelVersion: "1"},
		Table: "measurements",
		Keys:  []string{"+256700000001", "weight"},
		Value: "62",
	}
	require.NoError(t, s.SaveContentVariable(ctx, cv2))

	n, err := s.ContentVariables.Count(ctx, bson.M{"table": "measurements"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
