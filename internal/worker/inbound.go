package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/texttochange/vusion-backend-sub000/internal/dialogue"
	"github.com/texttochange/vusion-backend-sub000/internal/messaging"
	"github.com/texttochange/vusion-backend-sub000/internal/metrics"
	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/store"
)

// onInboundMessage resolves one inbound SMS against the tenant's requests
// and dialogues and runs the resulting action chain to completion before
// the loop accepts the next item.
func (w *Worker) onInboundMessage(ctx context.Context, msg messaging.InboundMessage) {
	metrics.MessagesReceived.WithLabelValues(w.name).Inc()
	phone := msg.From
	if canonical, err := w.transport.ValidateAndCanonicalizeRecipient(msg.From); err == nil {
		phone = canonical
	} else {
		slog.Warn("Worker.onInboundMessage: sender not canonicalizable", "error", err, "worker", w.name, "from", msg.From)
	}
	w.credit.ConsumeIncoming(ctx, w.now(), 1)

	p, err := w.store.GetParticipant(ctx, phone)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Worker.onInboundMessage: failed to load participant", "error", err, "worker", w.name, "phone", phone)
		return
	}

	// Requests are standing commands (JOIN, STOP); whether they win over an
	// enrolled dialogue's question is a program setting.
	if w.settings.RequestAndFeedbackPrioritized {
		if w.tryRequests(ctx, phone, msg) {
			return
		}
		if w.tryDialogues(ctx, phone, p, msg) {
			return
		}
	} else {
		if w.tryDialogues(ctx, phone, p, msg) {
			return
		}
		if w.tryRequests(ctx, phone, msg) {
			return
		}
	}

	slog.Debug("Worker.onInboundMessage: no match", "worker", w.name, "phone", phone)
	w.recordInbound(ctx, phone, msg, &models.History{
		Meta: models.Meta{ObjectType: models.ObjectTypeOnewayMarkerHistory, ModelVersion: models.HistoryModelVersion},
	}, nil)
}

// tryRequests matches the message against the standing requests and fires
// the first match.
func (w *Worker) tryRequests(ctx context.Context, phone string, msg messaging.InboundMessage) bool {
	for _, r := range w.requests {
		if !dialogue.MatchesRequest(r, msg.Content) {
			continue
		}
		var forwards []string
		cctx := chainContext{
			requestID:    dialogue.RequestID(r),
			replyContent: msg.Content,
			forwards:     &forwards,
		}
		w.executeActions(ctx, phone, dialogue.RequestActions(r), cctx)
		w.recordInbound(ctx, phone, msg, &models.History{
			Meta:      models.Meta{ObjectType: models.ObjectTypeRequestHistory, ModelVersion: models.HistoryModelVersion},
			RequestID: cctx.requestID,
		}, forwards)
		return true
	}
	return false
}

// tryDialogues matches the message against the participant's enrolled
// dialogues and runs the reply chain of the matching interaction.
func (w *Worker) tryDialogues(ctx context.Context, phone string, p *models.Participant, msg messaging.InboundMessage) bool {
	if p == nil || !p.IsOptin() {
		return false
	}
	d, i := w.findMatchingDialogue(p, msg.Content)
	if d == nil {
		return false
	}
	res := dialogue.GetMatchingAnswer(i, msg.Content)
	unmatched, err := w.store.UnmatchedCount(ctx, phone, p.SessionID, d.DialogueID, i.InteractionID)
	if err != nil {
		slog.Error("Worker.tryDialogues: unmatched count failed", "error", err, "worker", w.name, "phone", phone)
		unmatched = 0
	}
	actions := dialogue.ActionsOnReply(d, i, res, dialogue.ReplyContext{
		ReplyContent:              msg.Content,
		UnmatchedCount:            unmatched,
		RemoveReminderOnUnmatched: w.settings.UnmatchingAnswerRemoveReminder,
	})
	var forwards []string
	cctx := chainContext{
		dialogueID:    d.DialogueID,
		interactionID: i.InteractionID,
		replyContent:  msg.Content,
		forwards:      &forwards,
	}
	w.executeActions(ctx, phone, actions, cctx)
	w.recordInbound(ctx, phone, msg, &models.History{
		Meta:           models.Meta{ObjectType: models.ObjectTypeDialogueHistory, ModelVersion: models.HistoryModelVersion},
		DialogueID:     d.DialogueID,
		InteractionID:  i.InteractionID,
		MatchingAnswer: res.MatchingAnswer,
	}, forwards)
	return true
}

// recordInbound appends the incoming history row after the chain ran, so
// the session id reflects any optin/optout the chain performed and the
// forward log is complete.
func (w *Worker) recordInbound(ctx context.Context, phone string, msg messaging.InboundMessage, h *models.History, forwards []string) {
	sessionID := ""
	if p, err := w.store.GetParticipant(ctx, phone); err == nil {
		sessionID = p.SessionID
	}
	h.Timestamp = msg.Timestamp
	if h.Timestamp.IsZero() {
		h.Timestamp = w.now()
	}
	h.ParticipantPhone = phone
	h.ParticipantSessionID = sessionID
	h.MessageID = msg.MessageID
	h.MessageDirection = models.DirectionIncoming
	h.MessageStatus = models.MessageStatusReceived
	h.MessageContent = msg.Content
	h.Forwards = forwards
	if err := w.store.AddHistory(ctx, h); err != nil {
		slog.Error("Worker.recordInbound: failed to append history", "error", err, "worker", w.name, "phone", phone)
	}
}

// onInboundEvent applies one delivery report to the history row holding the
// message id. Events for unknown ids are dropped with a log line; the
// transport may report on messages another node sent.
func (w *Worker) onInboundEvent(ctx context.Context, ev messaging.DeliveryEvent) {
	matched, err := w.store.UpdateHistoryStatus(ctx, ev.MessageID, ev.Status, ev.FailureLevel, ev.FailureCode, ev.FailureReason)
	if err != nil {
		slog.Error("Worker.onInboundEvent: history update failed", "error", err, "worker", w.name, "message_id", ev.MessageID)
		return
	}
	if !matched {
		slog.Warn("Worker.onInboundEvent: dropping event for unknown message",
			"worker", w.name, "message_id", ev.MessageID, "status", ev.Status)
	}
}
