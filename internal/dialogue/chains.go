package dialogue

import (
	"log/slog"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

// ReplyContext carries the per-reply inputs the chain builder needs beyond
// the dialogue itself.
type ReplyContext struct {
	// ReplyContent is the raw inbound message.
	ReplyContent string
	// UnmatchedCount is how many unmatched replies History already holds
	// for this (participant, interaction) pair, not counting this one.
	UnmatchedCount int
	// RemoveReminderOnUnmatched mirrors the program setting: when false an
	// unmatched reply keeps reminders alive.
	RemoveReminderOnUnmatched bool
}

// ActionsOnReply translates a match result into the ordered action chain the
// worker executes. Malformed stored actions are skipped and logged, never
// fatal to the chain.
func ActionsOnReply(d *models.Dialogue, i *models.Interaction, res MatchResult, ctx ReplyContext) *models.Actions {
	if res.Matched {
		return actionsOnMatched(d, i, res)
	}
	return actionsOnUnmatched(d, i, ctx)
}

func actionsOnMatched(d *models.Dialogue, i *models.Interaction, res MatchResult) *models.Actions {
	actions := models.NewActions()
	appendQuestionCleanup(actions, d, i, true)

	if i.AnswerLabel != "" && res.MatchingAnswer != "" {
		actions.Append(&models.ProfilingAction{
			ActionBase: models.ActionBase{Type: models.ActionTypeProfiling},
			Label:      i.AnswerLabel,
			Value:      res.MatchingAnswer,
		})
	}

	var feedbacks []string
	var answerActions []models.Raw
	switch {
	case res.Answer != nil:
		feedbacks = res.Answer.Feedbacks
		answerActions = res.Answer.AnswerActions
	case res.AnswerKeyword != nil:
		feedbacks = res.AnswerKeyword.Feedbacks
		answerActions = res.AnswerKeyword.AnswerActions
	}
	for _, content := range feedbacks {
		actions.Append(&models.FeedbackAction{
			ActionBase: models.ActionBase{Type: models.ActionTypeFeedback},
			Content:    content,
		})
	}
	appendRawActions(actions, answerActions, d.DialogueID, i.InteractionID)

	// Fan out to the interactions chained to this one by offset-condition.
	for _, chained := range d.OffsetConditionInteractions(i.InteractionID) {
		oc := &models.OffsetConditionAction{
			ActionBase: models.ActionBase{Type: models.ActionTypeOffsetConditioning},
		}
		oc.DialogueID, oc.InteractionID = d.DialogueID, chained.InteractionID
		actions.Append(oc)
	}
	return actions
}

func actionsOnUnmatched(d *models.Dialogue, i *models.Interaction, ctx ReplyContext) *models.Actions {
	actions := models.NewActions()
	appendQuestionCleanup(actions, d, i, ctx.RemoveReminderOnUnmatched)

	if i.SetMaxUnmatchingAnswers && ctx.UnmatchedCount >= i.MaxUnmatchingAnswerNumber {
		// Escalation replaces the feedback once the counter is exceeded.
		appendRawActions(actions, i.MaxUnmatchingAnswerActions, d.DialogueID, i.InteractionID)
		return actions
	}

	if i.TypeUnmatchingFeedback == models.UnmatchingFeedbackInteraction && i.UnmatchingFeedbackContent != "" {
		actions.Append(&models.FeedbackAction{
			ActionBase: models.ActionBase{Type: models.ActionTypeFeedback},
			Content:    i.UnmatchingFeedbackContent,
		})
		return actions
	}
	actions.Append(&models.UnmatchingAnswerAction{
		ActionBase: models.ActionBase{Type: models.ActionTypeUnmatchingAnswer},
		Answer:     ctx.ReplyContent,
	})
	return actions
}

// appendQuestionCleanup removes the pending question schedule and, when the
// interaction carries reminders, its reminder and deadline schedules.
func appendQuestionCleanup(actions *models.Actions, d *models.Dialogue, i *models.Interaction, removeReminders bool) {
	rq := &models.RemoveQuestionAction{
		ActionBase: models.ActionBase{Type: models.ActionTypeRemoveQuestion},
	}
	rq.DialogueID, rq.InteractionID = d.DialogueID, i.InteractionID
	actions.Append(rq)
	if i.HasReminder() && removeReminders {
		rr := &models.RemoveRemindersAction{
			ActionBase: models.ActionBase{Type: models.ActionTypeRemoveReminders},
		}
		rr.DialogueID, rr.InteractionID = d.DialogueID, i.InteractionID
		actions.Append(rr)
		rd := &models.RemoveDeadlineAction{
			ActionBase: models.ActionBase{Type: models.ActionTypeRemoveDeadline},
		}
		rd.DialogueID, rd.InteractionID = d.DialogueID, i.InteractionID
		actions.Append(rd)
	}
}

// appendRawActions parses stored raw actions and appends the valid ones.
func appendRawActions(actions *models.Actions, raws []models.Raw, dialogueID, interactionID string) {
	for _, raw := range raws {
		action, err := models.ActionFromRaw(raw)
		if err != nil {
			slog.Warn("dialogue.appendRawActions: skipping malformed action",
				"error", err, "dialogue_id", dialogueID, "interaction_id", interactionID)
			continue
		}
		actions.Append(action)
	}
}

// RequestActions builds the chain for a matched request: its stored actions
// plus one feedback per response.
func RequestActions(r *models.Request) *models.Actions {
	actions := models.NewActions()
	for _, raw := range r.Actions {
		action, err := models.ActionFromRaw(raw)
		if err != nil {
			slog.Warn("dialogue.RequestActions: skipping malformed action", "error", err, "keyword", r.Keyword)
			continue
		}
		actions.Append(action)
	}
	for _, content := range r.Responses {
		actions.Append(&models.FeedbackAction{
			ActionBase: models.ActionBase{Type: models.ActionTypeFeedback},
			Content:    content,
		})
	}
	return actions
}
