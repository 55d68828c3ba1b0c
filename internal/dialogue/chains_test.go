package dialogue

import (
	"testing"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

func reminderQuestion() (*models.Dialogue, *models.Interaction) {
	d := &models.Dialogue{
		DialogueID: "d1",
		Name:       "mood",
		Activated:  true,
		Interactions: []models.Interaction{
			{
				InteractionID:        "i1",
				TypeInteraction:      models.InteractionQuestionAnswer,
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
			{
				InteractionID:                "i2",
				TypeInteraction:              models.InteractionAnnouncement,
				TypeSchedule:                 models.ScheduleTypeOffsetCondition,
				OffsetConditionInteractionID: "i1",
			},
		},
	}
	return d, &d.Interactions[0]
}

func actionTypes(actions *models.Actions) []string {
	var out []string
	for _, a := range actions.Items() {
		out = append(out, a.TypeAction())
	}
	return out
}

func TestActionsOnMatchedReply(t *testing.T) {
	d, i := reminderQuestion()
	res := GetMatchingAnswer(i, "feel fine")
	if !res.Matched {
		t.Fatal("Expected reply to match")
	}
	actions := ActionsOnReply(d, i, res, ReplyContext{ReplyContent: "feel fine"})

	want := []string{
		models.ActionTypeRemoveQuestion,
		models.ActionTypeRemoveReminders,
		models.ActionTypeRemoveDeadline,
		models.ActionTypeProfiling,
		models.ActionTypeFeedback,
		models.ActionTypeOffsetConditioning,
	}
	got := actionTypes(actions)
	if len(got) != len(want) {
		t.Fatalf("Expected %d actions %v, got %v", len(want), want, got)
	}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Errorf("Position %d: expected %s, got %s", idx, want[idx], got[idx])
		}
	}

	profiling := actions.Items()[3].(*models.ProfilingAction)
	if profiling.Label != "mood" || profiling.Value != "Fine" {
		t.Errorf("Expected profiling mood=Fine, got %s=%s", profiling.Label, profiling.Value)
	}
	oc := actions.Items()[5].(*models.OffsetConditionAction)
	if oc.DialogueID != "d1" || oc.InteractionID != "i2" {
		t.Errorf("Expected offset-condition fan-out to i2, got %s/%s", oc.DialogueID, oc.InteractionID)
	}
}

func TestActionsOnUnmatchedReplyKeepsRemindersWhenConfigured(t *testing.T) {
	d, i := reminderQuestion()
	res := GetMatchingAnswer(i, "feel meh")
	if res.Matched {
		t.Fatal("Expected reply not to match")
	}
	actions := ActionsOnReply(d, i, res, ReplyContext{
		ReplyContent:              "feel meh",
		RemoveReminderOnUnmatched: false,
	})
	got := actionTypes(actions)
	want := []string{models.ActionTypeRemoveQuestion, models.ActionTypeUnmatchingAnswer}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestActionsOnUnmatchedReplyRemovesRemindersWhenConfigured(t *testing.T) {
	d, i := reminderQuestion()
	actions := ActionsOnReply(d, i, MatchResult{}, ReplyContext{
		ReplyContent:              "feel meh",
		RemoveReminderOnUnmatched: true,
	})
	got := actionTypes(actions)
	want := []string{
		models.ActionTypeRemoveQuestion,
		models.ActionTypeRemoveReminders,
		models.ActionTypeRemoveDeadline,
		models.ActionTypeUnmatchingAnswer,
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Errorf("Position %d: expected %s, got %s", idx, want[idx], got[idx])
		}
	}
}

func TestActionsOnUnmatchedEscalation(t *testing.T) {
	d, i := reminderQuestion()
	i.SetMaxUnmatchingAnswers = true
	i.MaxUnmatchingAnswerNumber = 2
	i.MaxUnmatchingAnswerActions = []models.Raw{
		{"type-action": models.ActionTypeOptout},
	}
	actions := ActionsOnReply(d, i, MatchResult{}, ReplyContext{
		ReplyContent:   "feel meh",
		UnmatchedCount: 2,
	})
	got := actionTypes(actions)
	if len(got) != 2 || got[1] != models.ActionTypeOptout {
		t.Errorf("Expected escalation optout after the counter is exceeded, got %v", got)
	}
	// Below the counter the normal unmatching feedback applies.
	actions = ActionsOnReply(d, i, MatchResult{}, ReplyContext{
		ReplyContent:   "feel meh",
		UnmatchedCount: 1,
	})
	got = actionTypes(actions)
	if got[len(got)-1] != models.ActionTypeUnmatchingAnswer {
		t.Errorf("Expected unmatching-answer below the counter, got %v", got)
	}
}

func TestRequestActionsBuildChain(t *testing.T) {
	r := &models.Request{
		Keyword: "join",
		Actions: []models.Raw{
			{"type-action": models.ActionTypeOptin},
			{"type-action": "bogus"},
			{"type-action": models.ActionTypeEnrolling, "enroll": "d1"},
		},
		Responses: []string{"Welcome!"},
	}
	actions := RequestActions(r)
	got := actionTypes(actions)
	want := []string{models.ActionTypeOptin, models.ActionTypeEnrolling, models.ActionTypeFeedback}
	if len(got) != len(want) {
		t.Fatalf("Expected %v (malformed action skipped), got %v", want, got)
	}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Errorf("Position %d: expected %s, got %s", idx, want[idx], got[idx])
		}
	}
}
