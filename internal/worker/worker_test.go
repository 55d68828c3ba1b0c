package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/texttochange/vusion-backend-sub000/internal/messaging"
	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/store"
	"github.com/texttochange/vusion-backend-sub000/internal/templates"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// newTestWorker wires a worker to in-memory collaborators without starting
// the event loop; tests drive tick and the consumers directly.
func newTestWorker(t *testing.T) (*Worker, *store.TenantStore, *messaging.FakeTransport, *fakeClock) {
	t.Helper()
	s := store.NewMemoryTenantStore()
	transport := messaging.NewFakeTransport()
	clock := &fakeClock{now: time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)}
	w := New(Opts{
		Name:      "tenant1",
		Store:     s,
		Transport: transport,
		Broker:    messaging.NewInProcBroker(),
		Templates: &templates.StoreLookup{Store: s},
		Clock:     clock.Now,
	})
	w.settings = &models.ProgramSettings{
		Meta:      models.Meta{ObjectType: models.ObjectTypeProgramSettings, ModelVersion: "1"},
		Shortcode: "8282",
		Timezone:  "UTC",
	}
	w.credit = NewCreditManager(w.name, s, w.settings)
	return w, s, transport, clock
}

func saveDialogue(t *testing.T, s *store.TenantStore, d *models.Dialogue) {
	t.Helper()
	raw, err := models.ToRaw(d)
	require.NoError(t, err)
	_, err = s.Dialogues.Save(context.Background(), raw)
	require.NoError(t, err)
}

func saveParticipant(t *testing.T, s *store.TenantStore, p *models.Participant) {
	t.Helper()
	require.NoError(t, s.SaveParticipant(context.Background(), p))
}

func announcementDialogue() *models.Dialogue {
	return &models.Dialogue{
		Meta:       models.Meta{ObjectType: models.ObjectTypeDialogue, ModelVersion: models.DialogueModelVersion},
		DialogueID: "d1",
		Name:       "welcome",
		Activated:  true,
		Interactions: []models.Interaction{
			{
				InteractionID:   "i1",
				TypeInteraction: models.InteractionAnnouncement,
				Content:         "Welcome to the program.",
				TypeSchedule:    models.ScheduleTypeOffsetTime,
				OffsetTime:      "10",
			},
		},
	}
}

func questionDialogue() *models.Dialogue {
	return &models.Dialogue{
		Meta:       models.Meta{ObjectType: models.ObjectTypeDialogue, ModelVersion: models.DialogueModelVersion},
		DialogueID: "d1",
		Name:       "mood",
		Activated:  true,
		Interactions: []models.Interaction{
			{
				InteractionID:        "i1",
				TypeInteraction:      models.InteractionQuestionAnswer,
				Content:              "How do you feel?",
				TypeSchedule:         models.ScheduleTypeOffsetTime,
				OffsetTime:           "10",
				Keyword:              "feel",
				AnswerLabel:          "mood",
				Answers:              []models.Answer{{Choice: "Fine", Feedbacks: []string{"Great!"}}},
				SetReminder:          true,
				TypeScheduleReminder: models.ReminderTypeOffsetTime,
				ReminderNumber:       2,
				ReminderMinutes:      30,
			},
		},
	}
}

func dueSchedule(w *Worker, p *models.Participant, objectType string, due time.Time) *models.Schedule {
	return &models.Schedule{
		Meta:                 models.Meta{ObjectType: objectType, ModelVersion: models.ScheduleModelVersion},
		DateTime:             due,
		ParticipantPhone:     p.Phone,
		ParticipantSessionID: p.SessionID,
		DialogueID:           "d1",
		InteractionID:        "i1",
	}
}

func TestTickSendsDueDialogueSchedule(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)
	saveDialogue(t, s, announcementDialogue())
	require.NoError(t, s.SaveSchedule(ctx, dueSchedule(w, p, models.ObjectTypeDialogueSchedule, clock.now.Add(-10*time.Minute))))

	w.tick(ctx)

	sent := transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+256700000001", sent[0].To)
	assert.Equal(t, "8282", sent[0].From)
	assert.Equal(t, "Welcome to the program.", sent[0].Content)

	// The schedule is consumed and the outgoing history recorded.
	n, err := s.Schedules.Count(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, n)
	sentBefore, err := s.HasBeenSent(ctx, p.Phone, "s1", "d1", "i1")
	require.NoError(t, err)
	assert.True(t, sentBefore)
}

func TestTickDiscardsStaleSessionSchedule(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)
	saveDialogue(t, s, announcementDialogue())

	stale := dueSchedule(w, p, models.ObjectTypeDialogueSchedule, clock.now.Add(-time.Minute))
	stale.ParticipantSessionID = "old-session"
	require.NoError(t, s.SaveSchedule(ctx, stale))

	w.tick(ctx)

	assert.Empty(t, transport.Sent(), "a schedule from a previous session must never fire")
	n, err := s.Schedules.Count(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, n, "the stale schedule is still consumed")
}

func TestTickDiscardsExpiredSchedule(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)
	saveDialogue(t, s, announcementDialogue())
	require.NoError(t, s.SaveSchedule(ctx, dueSchedule(w, p, models.ObjectTypeDialogueSchedule, clock.now.Add(-90*time.Minute))))

	w.tick(ctx)

	assert.Empty(t, transport.Sent(), "90 minutes late is past the cutoff")
}

func TestTickSendsSlightlyLateSchedule(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)
	saveDialogue(t, s, announcementDialogue())
	require.NoError(t, s.SaveSchedule(ctx, dueSchedule(w, p, models.ObjectTypeDialogueSchedule, clock.now.Add(-55*time.Minute))))

	w.tick(ctx)

	assert.Len(t, transport.Sent(), 1, "55 minutes late is within the cutoff")
}

func TestTickPlantsRemindersAfterQuestionSend(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)
	saveDialogue(t, s, questionDialogue())
	require.NoError(t, s.SaveSchedule(ctx, dueSchedule(w, p, models.ObjectTypeDialogueSchedule, clock.now.Add(-time.Minute))))

	w.tick(ctx)

	require.Len(t, transport.Sent(), 1)
	reminders, err := s.Schedules.Count(ctx, bson.M{"object-type": models.ObjectTypeReminderSchedule})
	require.NoError(t, err)
	assert.EqualValues(t, 2, reminders)
	deadlines, err := s.Schedules.Count(ctx, bson.M{"object-type": models.ObjectTypeDeadlineSchedule})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deadlines)

	// All bound to the current session.
	stale, err := s.Schedules.Count(ctx, bson.M{"participant-session-id": "s1"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, stale)
}

func TestInboundReplyCancelsRemindersAndRunsChain(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	d := questionDialogue()
	saveDialogue(t, s, d)
	w.dialogues = []*models.Dialogue{d}

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	p.Enroll("d1", clock.now)
	saveParticipant(t, s, p)

	require.NoError(t, s.SaveSchedule(ctx, dueSchedule(w, p, models.ObjectTypeReminderSchedule, clock.now.Add(30*time.Minute))))
	require.NoError(t, s.SaveSchedule(ctx, dueSchedule(w, p, models.ObjectTypeDeadlineSchedule, clock.now.Add(time.Hour))))

	w.onInboundMessage(ctx, messaging.InboundMessage{
		MessageID: "in-1",
		From:      "+256700000001",
		Content:   "feel fine",
		Timestamp: clock.now,
	})

	// Reminders and deadline are gone, the feedback went out, the profile
	// holds the answer.
	n, err := s.Schedules.Count(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, transport.Sent(), 1)
	assert.Equal(t, "Great!", transport.Sent()[0].Content)

	q, err := s.GetParticipant(ctx, "+256700000001")
	require.NoError(t, err)
	mood, ok := q.LabelValue("mood")
	assert.True(t, ok)
	assert.Equal(t, "Fine", mood)

	answered, err := s.HasAnswered(ctx, "+256700000001", "s1", "d1", "i1")
	require.NoError(t, err)
	assert.True(t, answered)
}

func TestInboundUnmatchedReplyCountsInHistory(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	d := questionDialogue()
	saveDialogue(t, s, d)
	w.dialogues = []*models.Dialogue{d}

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	p.Enroll("d1", clock.now)
	saveParticipant(t, s, p)

	w.onInboundMessage(ctx, messaging.InboundMessage{From: "+256700000001", Content: "feel meh", Timestamp: clock.now})

	unmatched, err := s.UnmatchedCount(ctx, "+256700000001", "s1", "d1", "i1")
	require.NoError(t, err)
	assert.Equal(t, 1, unmatched)
	assert.Empty(t, transport.Sent(), "no unmatching template configured means silence")
}

func TestInboundRequestOptinEnrollsAndSchedules(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	saveDialogue(t, s, announcementDialogue())
	w.requests = []*models.Request{{
		Meta:    models.Meta{ObjectType: models.ObjectTypeRequest, ModelVersion: models.RequestModelVersion},
		Keyword: "join",
		Actions: []models.Raw{
			{"type-action": models.ActionTypeOptin},
			{"type-action": models.ActionTypeEnrolling, "enroll": "d1"},
		},
		Responses: []string{"Welcome!"},
	}}

	w.onInboundMessage(ctx, messaging.InboundMessage{From: "+256700000009", Content: "JOIN", Timestamp: clock.now})

	p, err := s.GetParticipant(ctx, "+256700000009")
	require.NoError(t, err)
	assert.True(t, p.IsOptin())
	assert.True(t, p.IsEnrolled("d1"))

	// The announcement got scheduled ten minutes out under the new session.
	n, err := s.Schedules.Count(ctx, bson.M{
		"object-type":            models.ObjectTypeDialogueSchedule,
		"participant-session-id": p.SessionID,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.Len(t, transport.Sent(), 1)
	assert.Equal(t, "Welcome!", transport.Sent()[0].Content)
}

func TestInboundRequestOptoutStrandsSchedules(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)
	require.NoError(t, s.SaveSchedule(ctx, dueSchedule(w, p, models.ObjectTypeDialogueSchedule, clock.now.Add(time.Hour))))

	w.requests = []*models.Request{{
		Meta:    models.Meta{ObjectType: models.ObjectTypeRequest, ModelVersion: models.RequestModelVersion},
		Keyword: "stop",
		Actions: []models.Raw{{"type-action": models.ActionTypeOptout}},
	}}

	w.onInboundMessage(ctx, messaging.InboundMessage{From: "+256700000001", Content: "STOP", Timestamp: clock.now})

	q, err := s.GetParticipant(ctx, "+256700000001")
	require.NoError(t, err)
	assert.False(t, q.IsOptin())

	n, err := s.Schedules.Count(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, n, "optout removes pending schedules")
	assert.Empty(t, transport.Sent())
}

func TestOptinAfterOptoutOpensFreshSession(t *testing.T) {
	w, s, _, clock := newTestWorker(t)
	ctx := context.Background()

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	p.Optout(clock.now)
	saveParticipant(t, s, p)

	w.executeActions(ctx, p.Phone,
		models.NewActions(&models.OptinAction{ActionBase: models.ActionBase{Type: models.ActionTypeOptin}}),
		chainContext{})

	q, err := s.GetParticipant(ctx, "+256700000001")
	require.NoError(t, err)
	assert.True(t, q.IsOptin())
	assert.NotEqual(t, "s1", q.SessionID, "a returning participant gets a fresh session")
}

func TestOffsetConditionTriggerIsIdempotent(t *testing.T) {
	w, s, _, clock := newTestWorker(t)
	ctx := context.Background()

	d := announcementDialogue()
	d.Interactions[0].TypeSchedule = models.ScheduleTypeOffsetCondition
	d.Interactions[0].OffsetConditionInteractionID = "i0"
	d.Interactions[0].OffsetConditionDelay = 5
	saveDialogue(t, s, d)

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)

	trigger := func() {
		oc := &models.OffsetConditionAction{ActionBase: models.ActionBase{Type: models.ActionTypeOffsetConditioning}}
		oc.DialogueID, oc.InteractionID = "d1", "i1"
		w.executeActions(ctx, p.Phone, models.NewActions(oc), chainContext{})
	}
	trigger()
	trigger()

	n, err := s.Schedules.Count(ctx, bson.M{"object-type": models.ObjectTypeDialogueSchedule})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "re-triggering must not duplicate the schedule")
}

func TestCreditLimitSuppressesSends(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	w.settings.CreditType = models.CreditTypeOutgoingOnly
	w.settings.CreditNumber = 1
	w.settings.CreditFromDate = "2015-06-01"
	w.settings.CreditToDate = "2015-06-30"

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)

	feedback := models.NewActions(&models.FeedbackAction{
		ActionBase: models.ActionBase{Type: models.ActionTypeFeedback}, Content: "hello",
	})
	w.executeActions(ctx, p.Phone, feedback, chainContext{})
	w.executeActions(ctx, p.Phone, feedback, chainContext{})

	assert.Len(t, transport.Sent(), 1, "the second send exceeds the credit limit")
}

func TestCreditLimitOutsideWindowSuppresses(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	w.settings.CreditType = models.CreditTypeOutgoingOnly
	w.settings.CreditNumber = 100
	w.settings.CreditFromDate = "2015-01-01"
	w.settings.CreditToDate = "2015-01-31"

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)

	w.executeActions(ctx, p.Phone, models.NewActions(&models.FeedbackAction{
		ActionBase: models.ActionBase{Type: models.ActionTypeFeedback}, Content: "hello",
	}), chainContext{})

	assert.Empty(t, transport.Sent(), "sends outside the credit window are suppressed")
}

func TestDeliveryEventUpdatesHistory(t *testing.T) {
	w, s, _, clock := newTestWorker(t)
	ctx := context.Background()

	require.NoError(t, s.AddHistory(ctx, &models.History{
		Meta:             models.Meta{ObjectType: models.ObjectTypeDialogueHistory, ModelVersion: models.HistoryModelVersion},
		Timestamp:        clock.now,
		ParticipantPhone: "+256700000001",
		DialogueID:       "d1",
		MessageID:        "msg-1",
		MessageStatus:    models.MessageStatusPending,
	}))

	w.onInboundEvent(ctx, messaging.DeliveryEvent{MessageID: "msg-1", Status: models.MessageStatusDelivered})

	raw, err := s.History.FindOne(ctx, bson.M{"message-id": "msg-1"})
	require.NoError(t, err)
	h, err := models.HistoryFromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, h.MessageStatus)

	// Unknown ids are dropped without error.
	w.onInboundEvent(ctx, messaging.DeliveryEvent{MessageID: "unknown", Status: models.MessageStatusDelivered})
}

func TestDeadlineMarksQuestionExpired(t *testing.T) {
	w, s, transport, clock := newTestWorker(t)
	ctx := context.Background()

	p := models.NewParticipant("+256700000001", "s1", clock.now)
	saveParticipant(t, s, p)
	saveDialogue(t, s, questionDialogue())
	require.NoError(t, s.SaveSchedule(ctx, dueSchedule(w, p, models.ObjectTypeDeadlineSchedule, clock.now.Add(-time.Minute))))

	w.tick(ctx)

	assert.Empty(t, transport.Sent(), "a deadline sends nothing")
	n, err := s.History.Count(ctx, bson.M{"object-type": models.ObjectTypeOnewayMarkerHistory})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
