// Package worker implements the per-tenant dialogue worker and the
// multi-worker supervisor.
//
// One Worker owns one tenant's data: its loaded dialogues, requests and
// program settings, its store handles and its credit counters. All state is
// mutated by a single event loop goroutine draining the tick, inbound
// message and delivery event sources, so persistence writes within one
// tenant are never concurrent. Tenants run fully parallel.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/texttochange/vusion-backend-sub000/internal/dialogue"
	"github.com/texttochange/vusion-backend-sub000/internal/messaging"
	"github.com/texttochange/vusion-backend-sub000/internal/metrics"
	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/scheduler"
	"github.com/texttochange/vusion-backend-sub000/internal/store"
	"github.com/texttochange/vusion-backend-sub000/internal/templates"
)

// Opts holds the collaborators of one tenant worker.
type Opts struct {
	Name           string
	Store          *store.TenantStore
	Transport      messaging.Transport
	Broker         messaging.Broker
	Templates      templates.Lookup
	DispatcherName string
	TickSpec       string
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Worker runs the dialogue engine for one tenant.
type Worker struct {
	name           string
	store          *store.TenantStore
	transport      messaging.Transport
	broker         messaging.Broker
	templates      templates.Lookup
	dispatcherName string
	tickSpec       string
	now            func() time.Time

	settings  *models.ProgramSettings
	dialogues []*models.Dialogue
	requests  []*models.Request
	credit    *CreditManager

	sched  *scheduler.Scheduler
	tickID cron.EntryID
	tickCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a worker from its options.
func New(opts Opts) *Worker {
	if opts.TickSpec == "" {
		opts.TickSpec = scheduler.DefaultTickSpec
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Worker{
		name:           opts.Name,
		store:          opts.Store,
		transport:      opts.Transport,
		broker:         opts.Broker,
		templates:      opts.Templates,
		dispatcherName: opts.DispatcherName,
		tickSpec:       opts.TickSpec,
		now:            opts.Clock,
		tickCh:         make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
}

// Name returns the worker name.
func (w *Worker) Name() string { return w.name }

// Start loads the tenant state, registers keywords with the dispatcher and
// starts the event loop and the periodic tick.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("worker %s already started", w.name)
	}

	settings, err := w.store.GetProgramSettings(ctx)
	if err != nil {
		return fmt.Errorf("worker %s: failed to load program settings: %w", w.name, err)
	}
	w.settings = settings
	w.credit = NewCreditManager(w.name, w.store, settings)

	if err := w.reloadKeywords(ctx); err != nil {
		slog.Warn("Worker.Start: initial dispatcher registration failed", "error", err, "worker", w.name)
	}

	if err := w.transport.Start(ctx); err != nil {
		return fmt.Errorf("worker %s: failed to start transport: %w", w.name, err)
	}

	w.sched = scheduler.NewScheduler()
	id, err := w.sched.AddJob(w.tickSpec, func() {
		select {
		case w.tickCh <- struct{}{}:
		default:
			// A tick is already pending; the loop will drain everything due.
		}
	})
	if err != nil {
		w.sched.Stop()
		return fmt.Errorf("worker %s: invalid tick spec %q: %w", w.name, w.tickSpec, err)
	}
	w.tickID = id

	w.wg.Add(1)
	go w.loop()
	w.started = true
	metrics.ActiveWorkers.Inc()
	slog.Info("Worker started", "worker", w.name, "tick", w.tickSpec)
	return nil
}

// Stop finishes the in-flight tick, tears down the loop and stops the
// transport. Stopping a never-started worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.sched.RemoveJob(w.tickID)
	w.sched.Stop()
	close(w.stopCh)
	w.wg.Wait()
	if err := w.transport.Stop(); err != nil {
		slog.Error("Worker.Stop: transport stop failed", "error", err, "worker", w.name)
	}
	w.started = false
	metrics.ActiveWorkers.Dec()
	slog.Info("Worker stopped", "worker", w.name)
}

// loop is the single-threaded event loop serializing the tick and the two
// consumers. An action chain for one inbound message runs to completion
// before the next item is accepted.
func (w *Worker) loop() {
	defer w.wg.Done()
	inbound := w.transport.Inbound()
	events := w.transport.Events()
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.tickCh:
			w.tick(context.Background())
		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			w.onInboundMessage(context.Background(), msg)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.onInboundEvent(context.Background(), ev)
		}
	}
}

// Tick triggers one drain synchronously; tests and the supervisor use it.
func (w *Worker) Tick(ctx context.Context) { w.tick(ctx) }

// tick drains every due schedule exactly once. Failures are isolated per
// schedule: a schedule that cannot be resolved is logged and removed, never
// retried, so the loop cannot poison itself.
func (w *Worker) tick(ctx context.Context) {
	now := w.now()
	due, err := w.store.DueSchedules(ctx, now)
	if err != nil {
		slog.Error("Worker.tick: failed to read due schedules", "error", err, "worker", w.name)
		return
	}
	for _, sched := range due {
		w.handleSchedule(ctx, sched, now)
	}
}

// handleSchedule resolves and sends one due schedule. The schedule is
// always removed: at-most-once delivery is the deliberate choice.
func (w *Worker) handleSchedule(ctx context.Context, sched *models.Schedule, now time.Time) {
	if err := w.store.RemoveSchedule(ctx, sched); err != nil {
		slog.Error("Worker.handleSchedule: failed to remove schedule, skipping to avoid double send",
			"error", err, "worker", w.name, "object_type", sched.ObjectType)
		return
	}
	if sched.IsExpired(now) {
		slog.Warn("Worker.handleSchedule: discarding expired schedule",
			"worker", w.name, "object_type", sched.ObjectType,
			"phone", sched.ParticipantPhone, "due", sched.DateTime, "late", now.Sub(sched.DateTime))
		metrics.SchedulesExpired.WithLabelValues(w.name).Inc()
		return
	}

	p, err := w.store.GetParticipant(ctx, sched.ParticipantPhone)
	if err != nil {
		slog.Warn("Worker.handleSchedule: participant not found, discarding",
			"worker", w.name, "phone", sched.ParticipantPhone)
		return
	}
	// Stale-session invariant: a schedule created under an earlier session
	// must never fire after an optout/optin pair.
	if !p.IsOptin() || p.SessionID != sched.ParticipantSessionID {
		slog.Debug("Worker.handleSchedule: discarding stale-session schedule",
			"worker", w.name, "phone", p.Phone, "object_type", sched.ObjectType)
		metrics.SchedulesStale.WithLabelValues(w.name).Inc()
		return
	}

	switch sched.ObjectType {
	case models.ObjectTypeDialogueSchedule:
		w.sendDialogueStep(ctx, p, sched, false)
	case models.ObjectTypeReminderSchedule:
		w.sendDialogueStep(ctx, p, sched, true)
	case models.ObjectTypeDeadlineSchedule:
		w.expireQuestion(ctx, p, sched)
	case models.ObjectTypeUnattachSchedule:
		w.sendUnattached(ctx, p, sched)
	case models.ObjectTypeFeedbackSchedule:
		w.send(ctx, p, sched.Content, historyRef{objectType: models.ObjectTypeDialogueHistory,
			dialogueID: sched.DialogueID, interactionID: sched.InteractionID})
	case models.ObjectTypeActionSchedule:
		action, err := models.ActionFromRaw(sched.Action)
		if err != nil {
			slog.Error("Worker.handleSchedule: malformed scheduled action", "error", err, "worker", w.name)
			return
		}
		w.executeActions(ctx, p.Phone, models.NewActions(action), chainContext{})
	default:
		slog.Error("Worker.handleSchedule: unknown schedule type", "worker", w.name, "object_type", sched.ObjectType)
	}
}

// sendDialogueStep sends the interaction a dialogue- or reminder-schedule
// points at; the first send of a question also plants its reminders and
// deadline.
func (w *Worker) sendDialogueStep(ctx context.Context, p *models.Participant, sched *models.Schedule, isReminder bool) {
	d, err := w.store.GetDialogue(ctx, sched.DialogueID)
	if err != nil {
		slog.Error("Worker.sendDialogueStep: dialogue not found, schedule consumed",
			"error", err, "worker", w.name, "dialogue_id", sched.DialogueID)
		return
	}
	i, ok := d.GetInteraction(sched.InteractionID)
	if !ok {
		slog.Error("Worker.sendDialogueStep: interaction not found, schedule consumed",
			"worker", w.name, "dialogue_id", sched.DialogueID, "interaction_id", sched.InteractionID)
		return
	}
	content, err := w.generateInteractionContent(ctx, i)
	if err != nil {
		slog.Error("Worker.sendDialogueStep: content generation failed, schedule consumed",
			"error", err, "worker", w.name, "interaction_id", i.InteractionID)
		return
	}
	sent := w.send(ctx, p, content, historyRef{
		objectType:    models.ObjectTypeDialogueHistory,
		dialogueID:    d.DialogueID,
		interactionID: i.InteractionID,
	})
	if sent && !isReminder && i.IsQuestion() && i.HasReminder() {
		w.planReminders(ctx, p, d, i)
	}
}

// generateInteractionContent renders the outbound text of one interaction.
// With set-use-template the program default template wraps the question.
func (w *Worker) generateInteractionContent(ctx context.Context, i *models.Interaction) (string, error) {
	content := i.Content
	if !i.SetUseTemplate {
		return content, nil
	}
	var templateID string
	switch {
	case i.TypeInteraction == models.InteractionQuestionAnswer && len(i.Answers) > 0:
		templateID = w.settings.DefaultTemplateClosedQuestion
	case i.IsQuestion():
		templateID = w.settings.DefaultTemplateOpenQuestion
	}
	if templateID == "" {
		return content, nil
	}
	tmpl, err := w.templates.Get(ctx, templateID)
	if err != nil {
		return "", err
	}
	keyword := ""
	if aliases := i.KeywordAliases(); len(aliases) > 0 {
		keyword = strings.ToUpper(aliases[0])
	}
	var answers []string
	for n, a := range i.Answers {
		answers = append(answers, fmt.Sprintf("%d. %s", n+1, a.Choice))
	}
	out := strings.ReplaceAll(tmpl, "[question]", content)
	out = strings.ReplaceAll(out, "[keyword]", keyword)
	out = strings.ReplaceAll(out, "[answers]", strings.Join(answers, "\n"))
	return out, nil
}

// planReminders creates the reminder schedules and the trailing deadline
// for a just-sent question.
func (w *Worker) planReminders(ctx context.Context, p *models.Participant, d *models.Dialogue, i *models.Interaction) {
	loc := w.settings.Location()
	sendTime := w.now()
	reminders, err := dialogue.ReminderTimes(i, sendTime, loc)
	if err != nil {
		slog.Error("Worker.planReminders: reminder computation failed", "error", err, "worker", w.name)
		return
	}
	for _, at := range reminders {
		w.saveSchedule(ctx, p, models.ObjectTypeReminderSchedule, at, d.DialogueID, i.InteractionID)
	}
	deadline, err := dialogue.DeadlineTime(i, sendTime, loc)
	if err != nil {
		slog.Error("Worker.planReminders: deadline computation failed", "error", err, "worker", w.name)
		return
	}
	w.saveSchedule(ctx, p, models.ObjectTypeDeadlineSchedule, deadline, d.DialogueID, i.InteractionID)
}

// expireQuestion handles a fired deadline: the question stops waiting and a
// marker is appended so "already answered" checks see a closed step.
func (w *Worker) expireQuestion(ctx context.Context, p *models.Participant, sched *models.Schedule) {
	if _, err := w.store.RemoveSchedules(ctx, p.Phone, sched.DialogueID, sched.InteractionID,
		models.ObjectTypeDialogueSchedule, models.ObjectTypeReminderSchedule); err != nil {
		slog.Error("Worker.expireQuestion: cleanup failed", "error", err, "worker", w.name)
	}
	h := &models.History{
		Meta:                 models.Meta{ObjectType: models.ObjectTypeOnewayMarkerHistory, ModelVersion: models.HistoryModelVersion},
		Timestamp:            w.now(),
		ParticipantPhone:     p.Phone,
		ParticipantSessionID: p.SessionID,
		DialogueID:           sched.DialogueID,
		InteractionID:        sched.InteractionID,
	}
	if err := w.store.AddHistory(ctx, h); err != nil {
		slog.Error("Worker.expireQuestion: failed to append marker", "error", err, "worker", w.name)
	}
}

// sendUnattached resolves and sends an unattached broadcast.
func (w *Worker) sendUnattached(ctx context.Context, p *models.Participant, sched *models.Schedule) {
	u, err := w.store.GetUnattachedMessage(ctx, sched.UnattachID)
	if err != nil {
		slog.Error("Worker.sendUnattached: unattached message not found, schedule consumed",
			"error", err, "worker", w.name, "unattach_id", sched.UnattachID)
		return
	}
	w.send(ctx, p, u.Content, historyRef{objectType: models.ObjectTypeUnattachHistory, unattachID: u.UnattachID})
}

// historyRef carries the back-references of one outbound message.
type historyRef struct {
	objectType    string
	dialogueID    string
	interactionID string
	unattachID    string
	requestID     string
}

// send renders participant placeholders, applies the credit gate and
// publishes one outbound message, appending the pending history row.
// It reports whether the message was actually sent.
func (w *Worker) send(ctx context.Context, p *models.Participant, content string, ref historyRef) bool {
	rendered, err := templates.Render(content, p)
	if err != nil {
		slog.Warn("Worker.send: placeholder rendering failed, dropping message",
			"error", err, "worker", w.name, "phone", p.Phone)
		return false
	}
	now := w.now()
	if !w.credit.CanSend(ctx, now) {
		slog.Warn("Worker.send: suppressed by credit limit", "worker", w.name, "phone", p.Phone)
		metrics.SendsSuppressed.WithLabelValues(w.name).Inc()
		return false
	}
	messageID, err := w.transport.Send(ctx, messaging.OutboundMessage{
		To:      p.Phone,
		From:    w.settings.Shortcode,
		Content: rendered,
	})
	if err != nil {
		slog.Error("Worker.send: transport send failed", "error", err, "worker", w.name, "phone", p.Phone)
		return false
	}
	w.credit.ConsumeOutgoing(ctx, now, 1)
	metrics.MessagesSent.WithLabelValues(w.name).Inc()

	objectType := ref.objectType
	if objectType == "" {
		objectType = models.ObjectTypeDialogueHistory
	}
	h := &models.History{
		Meta:                 models.Meta{ObjectType: objectType, ModelVersion: models.HistoryModelVersion},
		Timestamp:            now,
		ParticipantPhone:     p.Phone,
		ParticipantSessionID: p.SessionID,
		MessageID:            messageID,
		MessageDirection:     models.DirectionOutgoing,
		MessageStatus:        models.MessageStatusPending,
		MessageContent:       rendered,
		MessageCredits:       1,
		DialogueID:           ref.dialogueID,
		InteractionID:        ref.interactionID,
		UnattachID:           ref.unattachID,
		RequestID:            ref.requestID,
	}
	if err := w.store.AddHistory(ctx, h); err != nil {
		slog.Error("Worker.send: failed to append history", "error", err, "worker", w.name)
	}
	return true
}

// saveSchedule persists one schedule bound to the participant's current
// session.
func (w *Worker) saveSchedule(ctx context.Context, p *models.Participant, objectType string, at time.Time, dialogueID, interactionID string) {
	sched := &models.Schedule{
		Meta:                 models.Meta{ObjectType: objectType, ModelVersion: models.ScheduleModelVersion},
		DateTime:             at,
		ParticipantPhone:     p.Phone,
		ParticipantSessionID: p.SessionID,
		DialogueID:           dialogueID,
		InteractionID:        interactionID,
	}
	if err := w.store.SaveSchedule(ctx, sched); err != nil {
		slog.Error("Worker.saveSchedule failed", "error", err, "worker", w.name,
			"object_type", objectType, "phone", p.Phone)
	}
}

// scheduleDialogue plants the dialogue-schedules of every time-scheduled
// interaction for a freshly enrolled participant. Offset-condition steps
// wait for their trigger.
func (w *Worker) scheduleDialogue(ctx context.Context, p *models.Participant, d *models.Dialogue, enrollTime time.Time) {
	loc := w.settings.Location()
	for idx := range d.Interactions {
		i := &d.Interactions[idx]
		if i.TypeSchedule == models.ScheduleTypeOffsetCondition {
			continue
		}
		at, err := dialogue.ComputeDueTime(i, enrollTime, loc)
		if err != nil {
			slog.Warn("Worker.scheduleDialogue: skipping unschedulable interaction",
				"error", err, "worker", w.name, "interaction_id", i.InteractionID)
			continue
		}
		w.saveSchedule(ctx, p, models.ObjectTypeDialogueSchedule, at, d.DialogueID, i.InteractionID)
	}
}

// reloadKeywords rebuilds the worker's keyword table and re-registers it
// with the dispatcher. Called at start and whenever dialogues or requests
// change.
func (w *Worker) reloadKeywords(ctx context.Context) error {
	dialogues, err := w.store.ActiveDialogues(ctx)
	if err != nil {
		return err
	}
	requests, err := w.store.ActiveRequests(ctx)
	if err != nil {
		return err
	}
	w.dialogues = dialogues
	w.requests = requests

	seen := make(map[string]bool)
	var mappings []messaging.KeywordMapping
	add := func(keyword string) {
		if keyword == "" || seen[keyword] {
			return
		}
		seen[keyword] = true
		mappings = append(mappings, messaging.KeywordMapping{
			Keyword: keyword,
			ToAddr:  w.name,
			Prefix:  w.settings.InternationalPrefix,
		})
	}
	for _, d := range dialogues {
		for _, k := range dialogue.DialogueKeywords(d) {
			add(k)
		}
	}
	for _, r := range requests {
		for _, alias := range r.KeywordAliases() {
			add(strings.ToLower(strings.TrimSpace(alias)))
		}
	}
	if w.broker == nil {
		return nil
	}
	return messaging.RegisterKeywords(ctx, w.broker, w.dispatcherName, messaging.DispatcherRegistration{
		ExposedName:     w.settings.Shortcode,
		KeywordMappings: mappings,
	})
}

// findMatchingDialogue locates the first dialogue whose interaction answers
// to the message. With a non-nil participant only enrolled dialogues are
// considered.
func (w *Worker) findMatchingDialogue(p *models.Participant, message string) (*models.Dialogue, *models.Interaction) {
	for _, d := range w.dialogues {
		if p != nil && !p.IsEnrolled(d.DialogueID) {
			continue
		}
		if i := dialogue.GetMatchingInteraction(d, message); i != nil {
			return d, i
		}
	}
	return nil, nil
}

// newSessionID mints a session identifier for an optin.
func newSessionID() string { return uuid.NewString() }
