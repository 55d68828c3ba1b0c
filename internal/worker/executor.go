package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/texttochange/vusion-backend-sub000/internal/dialogue"
	"github.com/texttochange/vusion-backend-sub000/internal/messaging"
	"github.com/texttochange/vusion-backend-sub000/internal/metrics"
	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/store"
	"github.com/texttochange/vusion-backend-sub000/internal/templates"
	"github.com/texttochange/vusion-backend-sub000/internal/util"
)

// chainContext carries the per-chain inputs the action variants draw on: the
// originating dialogue step or request, the raw reply and the forward log
// the inbound history row will record.
type chainContext struct {
	dialogueID    string
	interactionID string
	requestID     string
	replyContent  string
	// replyPhone is filled in by executeActions; optin uses it when the
	// chain runs before any participant record exists.
	replyPhone string
	forwards   *[]string
}

func (c chainContext) historyRef() historyRef {
	switch {
	case c.dialogueID != "":
		return historyRef{objectType: models.ObjectTypeDialogueHistory,
			dialogueID: c.dialogueID, interactionID: c.interactionID}
	default:
		return historyRef{objectType: models.ObjectTypeRequestHistory, requestID: c.requestID}
	}
}

// executeActions runs one ordered action chain to completion. The chain is
// fault-isolated per action: a failing action is logged and the rest of the
// chain still runs. The participant is saved once at the end when any
// action mutated it.
func (w *Worker) executeActions(ctx context.Context, phone string, actions *models.Actions, cctx chainContext) {
	p, err := w.store.GetParticipant(ctx, phone)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Worker.executeActions: failed to load participant", "error", err, "worker", w.name, "phone", phone)
		return
	}
	cctx.replyPhone = phone
	dirty := false
	for _, action := range actions.Items() {
		if action.TypeAction() != models.ActionTypeOptin {
			if p == nil || !p.IsOptin() {
				slog.Debug("Worker.executeActions: skipping action for non-optin participant",
					"worker", w.name, "phone", phone, "type_action", action.TypeAction())
				continue
			}
			if !action.ConditionMet(p) {
				slog.Debug("Worker.executeActions: condition not met",
					"worker", w.name, "phone", phone, "type_action", action.TypeAction())
				continue
			}
		}
		if w.executeAction(ctx, &p, action, cctx) {
			dirty = true
		}
	}
	if dirty && p != nil {
		if err := w.store.SaveParticipant(ctx, p); err != nil {
			slog.Error("Worker.executeActions: failed to save participant", "error", err, "worker", w.name, "phone", phone)
		}
	}
}

// executeAction runs one action and reports whether the participant was
// mutated. The participant pointer is indirect because optin may create it.
func (w *Worker) executeAction(ctx context.Context, pp **models.Participant, action models.Action, cctx chainContext) bool {
	p := *pp
	now := w.now()
	switch a := action.(type) {
	case *models.OptinAction:
		return w.executeOptin(ctx, pp, a, cctx)

	case *models.OptoutAction:
		p.Optout(now)
		if _, err := w.store.RemoveParticipantSchedules(ctx, p.Phone); err != nil {
			slog.Error("Worker: optout schedule cleanup failed", "error", err, "worker", w.name, "phone", p.Phone)
		}
		return true

	case *models.ResetAction:
		p.Reset()
		w.autoEnroll(ctx, p)
		return true

	case *models.EnrollingAction:
		return w.enroll(ctx, p, a.Enroll, now)

	case *models.DelayedEnrollingAction:
		hour, minute, err := a.OffsetDays.AtTimeOfDay()
		if err != nil {
			slog.Error("Worker: delayed-enrolling has invalid at-time", "error", err, "worker", w.name)
			return false
		}
		loc := w.settings.Location()
		day := now.In(loc).AddDate(0, 0, a.OffsetDays.Days)
		due := dateAt(day, hour, minute, loc)
		sched := &models.Schedule{
			Meta:                 models.Meta{ObjectType: models.ObjectTypeActionSchedule, ModelVersion: models.ScheduleModelVersion},
			DateTime:             due,
			ParticipantPhone:     p.Phone,
			ParticipantSessionID: p.SessionID,
			DialogueID:           a.Enroll,
			Action: models.Raw{
				"type-action": models.ActionTypeEnrolling,
				"enroll":      a.Enroll,
			},
		}
		if err := w.store.SaveSchedule(ctx, sched); err != nil {
			slog.Error("Worker: failed to save delayed-enrolling schedule", "error", err, "worker", w.name, "phone", p.Phone)
		}
		return false

	case *models.TaggingAction:
		p.AddTag(a.Tag)
		return true

	case *models.ProfilingAction:
		p.SetProfile(a.Label, a.Value, a.Raw)
		return true

	case *models.FeedbackAction:
		w.send(ctx, p, a.Content, cctx.historyRef())
		return false

	case *models.UnmatchingAnswerAction:
		w.sendUnmatchingFeedback(ctx, p, a.Answer, cctx)
		return false

	case *models.RemoveQuestionAction:
		w.removeSchedules(ctx, p.Phone, a.DialogueID, a.InteractionID, models.ObjectTypeDialogueSchedule)
		return false

	case *models.RemoveRemindersAction:
		w.removeSchedules(ctx, p.Phone, a.DialogueID, a.InteractionID, models.ObjectTypeReminderSchedule)
		return false

	case *models.RemoveDeadlineAction:
		w.removeSchedules(ctx, p.Phone, a.DialogueID, a.InteractionID, models.ObjectTypeDeadlineSchedule)
		return false

	case *models.OffsetConditionAction:
		w.triggerOffsetCondition(ctx, p, a.DialogueID, a.InteractionID)
		return false

	case *models.ProportionalTaggingAction:
		counts := make([]int, len(a.Buckets))
		for idx, b := range a.Buckets {
			n, err := w.store.TagCount(ctx, b.Content)
			if err != nil {
				slog.Error("Worker: proportional tag count failed", "error", err, "worker", w.name, "tag", b.Content)
				return false
			}
			counts[idx] = n
		}
		pick := dialogue.PickProportionalBucket(a.Buckets, counts)
		if pick < 0 {
			return false
		}
		p.AddTag(a.Buckets[pick].Content)
		return true

	case *models.ProportionalLabellingAction:
		counts := make([]int, len(a.Buckets))
		for idx, b := range a.Buckets {
			n, err := w.store.LabelCount(ctx, a.Label, b.Content)
			if err != nil {
				slog.Error("Worker: proportional label count failed", "error", err, "worker", w.name, "label", a.Label)
				return false
			}
			counts[idx] = n
		}
		pick := dialogue.PickProportionalBucket(a.Buckets, counts)
		if pick < 0 {
			return false
		}
		p.SetProfile(a.Label, a.Buckets[pick].Content, cctx.replyContent)
		return true

	case *models.URLForwardingAction:
		w.forwardToURL(ctx, p, a.ForwardURL, cctx)
		return false

	case *models.SMSForwardingAction:
		w.forwardToSMS(ctx, p, a, cctx)
		return false

	case *models.SMSInviteAction:
		w.sendInvite(ctx, p, a, cctx)
		return false

	case *models.SaveContentVariableAction:
		w.saveContentVariable(ctx, p, a, cctx)
		return false

	case *models.MessageForwardingAction:
		w.forwardToWorker(ctx, p, a.ForwardToAddr, cctx)
		return false
	}
	slog.Error("Worker.executeAction: unhandled action variant", "worker", w.name, "type_action", action.TypeAction())
	return false
}

// executeOptin opens a session. An already-optin participant keeps its
// session so pending schedules stay valid; a returning participant gets a
// fresh session id, which retires everything scheduled under the old one.
func (w *Worker) executeOptin(ctx context.Context, pp **models.Participant, a *models.OptinAction, cctx chainContext) bool {
	now := w.now()
	p := *pp
	if p == nil {
		p = models.NewParticipant(cctx.replyPhone, newSessionID(), now)
		*pp = p
	} else {
		if !a.ConditionMet(p) {
			return false
		}
		if p.IsOptin() {
			return false
		}
		p.Optin(newSessionID(), now)
	}
	w.autoEnroll(ctx, p)
	return true
}

// autoEnroll enrolls the participant in every eligible auto-enrollment
// dialogue and plants its schedules.
func (w *Worker) autoEnroll(ctx context.Context, p *models.Participant) {
	now := w.now()
	for _, d := range w.dialogues {
		if !d.AutoEnrolls(p) {
			continue
		}
		if p.Enroll(d.DialogueID, now) {
			w.scheduleDialogue(ctx, p, d, now)
		}
	}
}

// enroll enrolls the participant in one dialogue by id and plants its
// schedules. Enrolling twice is a no-op.
func (w *Worker) enroll(ctx context.Context, p *models.Participant, dialogueID string, now time.Time) bool {
	d, err := w.store.GetDialogue(ctx, dialogueID)
	if err != nil {
		slog.Error("Worker.enroll: dialogue not found", "error", err, "worker", w.name, "dialogue_id", dialogueID)
		return false
	}
	if !p.Enroll(d.DialogueID, now) {
		return false
	}
	w.scheduleDialogue(ctx, p, d, now)
	return true
}

// sendUnmatchingFeedback renders the program-level unmatching template
// around the raw answer. No configured template means silence.
func (w *Worker) sendUnmatchingFeedback(ctx context.Context, p *models.Participant, answer string, cctx chainContext) {
	templateID := w.settings.DefaultTemplateUnmatchingAnswer
	if templateID == "" {
		return
	}
	tmpl, err := w.templates.Get(ctx, templateID)
	if err != nil {
		slog.Error("Worker: unmatching-answer template lookup failed", "error", err, "worker", w.name)
		return
	}
	content := strings.ReplaceAll(tmpl, "[answer]", answer)
	w.send(ctx, p, content, cctx.historyRef())
}

// removeSchedules drops pending schedules of the given type for one step.
func (w *Worker) removeSchedules(ctx context.Context, phone, dialogueID, interactionID, objectType string) {
	if _, err := w.store.RemoveSchedules(ctx, phone, dialogueID, interactionID, objectType); err != nil {
		slog.Error("Worker.removeSchedules failed", "error", err, "worker", w.name,
			"phone", phone, "object_type", objectType)
	}
}

// triggerOffsetCondition schedules an offset-condition interaction, exactly
// once per session: an existing pending schedule or an already-sent step
// makes the trigger a no-op, so answering the parent twice is safe.
func (w *Worker) triggerOffsetCondition(ctx context.Context, p *models.Participant, dialogueID, interactionID string) {
	pending, err := w.store.HasPendingSchedule(ctx, p.Phone, dialogueID, interactionID)
	if err != nil {
		slog.Error("Worker.triggerOffsetCondition: pending check failed", "error", err, "worker", w.name)
		return
	}
	if pending {
		return
	}
	sent, err := w.store.HasBeenSent(ctx, p.Phone, p.SessionID, dialogueID, interactionID)
	if err != nil {
		slog.Error("Worker.triggerOffsetCondition: sent check failed", "error", err, "worker", w.name)
		return
	}
	if sent {
		return
	}
	d, err := w.store.GetDialogue(ctx, dialogueID)
	if err != nil {
		slog.Error("Worker.triggerOffsetCondition: dialogue not found", "error", err, "worker", w.name, "dialogue_id", dialogueID)
		return
	}
	i, ok := d.GetInteraction(interactionID)
	if !ok {
		slog.Error("Worker.triggerOffsetCondition: interaction not found", "worker", w.name,
			"dialogue_id", dialogueID, "interaction_id", interactionID)
		return
	}
	due, err := dialogue.ComputeDueTime(i, w.now(), w.settings.Location())
	if err != nil {
		slog.Error("Worker.triggerOffsetCondition: due time computation failed", "error", err, "worker", w.name)
		return
	}
	w.saveSchedule(ctx, p, models.ObjectTypeDialogueSchedule, due, dialogueID, interactionID)
}

// urlForwardPayload is published for url-forwarding actions; an external
// relay drains the topic.
type urlForwardPayload struct {
	URL       string `json:"url"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func (w *Worker) forwardToURL(ctx context.Context, p *models.Participant, url string, cctx chainContext) {
	if w.broker == nil {
		slog.Warn("Worker.forwardToURL: no broker configured", "worker", w.name)
		return
	}
	payload := urlForwardPayload{
		URL:       url,
		From:      p.Phone,
		To:        w.settings.Shortcode,
		Content:   cctx.replyContent,
		Timestamp: w.now().Format("2006-01-02T15:04:05"),
	}
	if err := messaging.PublishJSON(ctx, w.broker, "forward.url", payload); err != nil {
		slog.Error("Worker.forwardToURL: publish failed", "error", err, "worker", w.name, "url", url)
		return
	}
	cctx.addForward(url)
}

// forwardToSMS relays a rendered message to the phone numbers stored under a
// participant profile label. A missing label aborts the whole forward.
func (w *Worker) forwardToSMS(ctx context.Context, p *models.Participant, a *models.SMSForwardingAction, cctx chainContext) {
	if !w.settings.SMSForwardingAllowed {
		slog.Debug("Worker.forwardToSMS: disabled by program settings", "worker", w.name)
		return
	}
	content, err := templates.Render(a.ForwardContent, p)
	if err != nil {
		slog.Error("Worker.forwardToSMS: rendering failed, forward aborted", "error", err, "worker", w.name, "phone", p.Phone)
		return
	}
	value, ok := p.LabelValue(a.ForwardTo)
	if !ok {
		slog.Error("Worker.forwardToSMS: forward-to label missing, forward aborted",
			"worker", w.name, "phone", p.Phone, "label", a.ForwardTo)
		return
	}
	for _, number := range splitNumbers(value) {
		to, err := w.transport.ValidateAndCanonicalizeRecipient(number)
		if err != nil {
			slog.Warn("Worker.forwardToSMS: skipping invalid number", "error", err, "worker", w.name, "number", number)
			continue
		}
		if w.sendTo(ctx, to, content, models.ObjectTypeOnewayMarkerHistory) {
			cctx.addForward(to)
		}
	}
}

// sendInvite extracts the invitee phone number from the reply, sends the
// invitation and confirms to the inviter.
func (w *Worker) sendInvite(ctx context.Context, p *models.Participant, a *models.SMSInviteAction, cctx chainContext) {
	raw := util.AfterFirstWord(cctx.replyContent)
	invitee := ""
	for _, token := range strings.Fields(raw) {
		if canonical, err := w.transport.ValidateAndCanonicalizeRecipient(token); err == nil {
			invitee = canonical
			break
		}
	}
	if invitee == "" {
		slog.Warn("Worker.sendInvite: no phone number in reply", "worker", w.name, "phone", p.Phone)
		return
	}
	if !w.sendTo(ctx, invitee, a.InviteContent, models.ObjectTypeOnewayMarkerHistory) {
		return
	}
	if a.InviteeTag != "" {
		if q, err := w.store.GetParticipant(ctx, invitee); err == nil {
			q.AddTag(a.InviteeTag)
			if err := w.store.SaveParticipant(ctx, q); err != nil {
				slog.Error("Worker.sendInvite: failed to tag invitee", "error", err, "worker", w.name, "invitee", invitee)
			}
		}
	}
	w.send(ctx, p, a.FeedbackInviter, cctx.historyRef())
}

// saveContentVariable stores the reply under a content-variable key path.
// Keys and value support the participant placeholders plus
// [message.content] for the raw reply.
func (w *Worker) saveContentVariable(ctx context.Context, p *models.Participant, a *models.SaveContentVariableAction, cctx chainContext) {
	resolve := func(token string) (string, error) {
		token = strings.ReplaceAll(token, "[message.content]", cctx.replyContent)
		return templates.Render(token, p)
	}
	keys := make([]string, 0, len(a.Keys))
	for _, key := range a.Keys {
		resolved, err := resolve(key)
		if err != nil {
			slog.Error("Worker.saveContentVariable: key resolution failed", "error", err, "worker", w.name, "key", key)
			return
		}
		keys = append(keys, resolved)
	}
	value, err := resolve(a.Value)
	if err != nil {
		slog.Error("Worker.saveContentVariable: value resolution failed", "error", err, "worker", w.name)
		return
	}
	cv := &models.ContentVariable{
		Meta:  models.Meta{ObjectType: models.ObjectTypeContentVariable, ModelVersion: "1"},
		Table: a.Table,
		Keys:  keys,
		Value: value,
	}
	if err := w.store.SaveContentVariable(ctx, cv); err != nil {
		slog.Error("Worker.saveContentVariable: save failed", "error", err, "worker", w.name, "table", a.Table)
	}
}

// outboundRelay is the payload published for message-forwarding actions.
type outboundRelay struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

func (w *Worker) forwardToWorker(ctx context.Context, p *models.Participant, toAddr string, cctx chainContext) {
	if w.broker == nil {
		slog.Warn("Worker.forwardToWorker: no broker configured", "worker", w.name)
		return
	}
	payload := outboundRelay{From: p.Phone, Content: cctx.replyContent}
	if err := messaging.PublishJSON(ctx, w.broker, "inbound."+toAddr, payload); err != nil {
		slog.Error("Worker.forwardToWorker: publish failed", "error", err, "worker", w.name, "to_addr", toAddr)
		return
	}
	cctx.addForward(toAddr)
}

// sendTo delivers a message to a phone number outside the participant's own
// conversation (forwards, invites). Credit-gated like every other send.
func (w *Worker) sendTo(ctx context.Context, to, content, objectType string) bool {
	now := w.now()
	if !w.credit.CanSend(ctx, now) {
		slog.Warn("Worker.sendTo: suppressed by credit limit", "worker", w.name, "to", to)
		metrics.SendsSuppressed.WithLabelValues(w.name).Inc()
		return false
	}
	messageID, err := w.transport.Send(ctx, messaging.OutboundMessage{
		To:      to,
		From:    w.settings.Shortcode,
		Content: content,
	})
	if err != nil {
		slog.Error("Worker.sendTo: transport send failed", "error", err, "worker", w.name, "to", to)
		return false
	}
	w.credit.ConsumeOutgoing(ctx, now, 1)
	metrics.MessagesSent.WithLabelValues(w.name).Inc()
	h := &models.History{
		Meta:             models.Meta{ObjectType: objectType, ModelVersion: models.HistoryModelVersion},
		Timestamp:        now,
		ParticipantPhone: to,
		MessageID:        messageID,
		MessageDirection: models.DirectionOutgoing,
		MessageStatus:    models.MessageStatusPending,
		MessageContent:   content,
		MessageCredits:   1,
	}
	if err := w.store.AddHistory(ctx, h); err != nil {
		slog.Error("Worker.sendTo: failed to append history", "error", err, "worker", w.name)
	}
	return true
}

// addForward records an address on the chain's forward log.
func (c chainContext) addForward(addr string) {
	if c.forwards != nil {
		*c.forwards = append(*c.forwards, addr)
	}
}

// dateAt pins a calendar day to a time of day in a location.
func dateAt(day time.Time, hour, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
}

// splitNumbers splits a profile value holding comma- or space-separated
// phone numbers.
func splitNumbers(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
}
