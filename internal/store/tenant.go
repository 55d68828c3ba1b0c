package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

// GetParticipant loads one participant by phone; ErrNotFound when absent.
func (s *TenantStore) GetParticipant(ctx context.Context, phone string) (*models.Participant, error) {
	raw, err := s.Participants.FindOne(ctx, bson.M{"phone": phone})
	if err != nil {
		return nil, err
	}
	return models.ParticipantFromRaw(raw)
}

// SaveParticipant persists a participant document.
func (s *TenantStore) SaveParticipant(ctx context.Context, p *models.Participant) error {
	raw, err := models.ToRaw(p)
	if err != nil {
		return fmt.Errorf("failed to encode participant %s: %w", p.Phone, err)
	}
	if _, err := s.Participants.Save(ctx, raw); err != nil {
		return err
	}
	if p.ID.IsZero() {
		// Bind the struct to its storage key so later saves replace
		// instead of duplicating.
		if saved, err := s.Participants.FindOne(ctx, bson.M{"phone": p.Phone}); err == nil {
			if refreshed, err := models.ParticipantFromRaw(saved); err == nil {
				p.ID = refreshed.ID
			}
		}
	}
	return nil
}

// ActiveDialogues loads every activated dialogue, skipping malformed
// documents with a log line.
func (s *TenantStore) ActiveDialogues(ctx context.Context) ([]*models.Dialogue, error) {
	raws, err := s.Dialogues.Find(ctx, bson.M{"activated": true})
	if err != nil {
		return nil, err
	}
	var out []*models.Dialogue
	for _, raw := range raws {
		d, err := models.DialogueFromRaw(raw)
		if err != nil {
			slog.Warn("TenantStore.ActiveDialogues: skipping malformed dialogue", "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// GetDialogue loads one dialogue by dialogue-id.
func (s *TenantStore) GetDialogue(ctx context.Context, dialogueID string) (*models.Dialogue, error) {
	raw, err := s.Dialogues.FindOne(ctx, bson.M{"dialogue-id": dialogueID, "activated": true})
	if err != nil {
		return nil, err
	}
	return models.DialogueFromRaw(raw)
}

// ActiveRequests loads every request, skipping malformed documents.
func (s *TenantStore) ActiveRequests(ctx context.Context) ([]*models.Request, error) {
	raws, err := s.Requests.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var out []*models.Request
	for _, raw := range raws {
		r, err := models.RequestFromRaw(raw)
		if err != nil {
			slog.Warn("TenantStore.ActiveRequests: skipping malformed request", "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetProgramSettings loads the tenant program settings.
func (s *TenantStore) GetProgramSettings(ctx context.Context) (*models.ProgramSettings, error) {
	raw, err := s.ProgramSettings.FindOne(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	settings := &models.ProgramSettings{}
	if err := models.Decode(raw, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSchedule persists a schedule document.
func (s *TenantStore) SaveSchedule(ctx context.Context, sched *models.Schedule) error {
	raw, err := models.ToRaw(sched)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	_, err = s.Schedules.Save(ctx, raw)
	return err
}

// DueSchedules returns every schedule due at or before now, skipping
// malformed documents.
func (s *TenantStore) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	raws, err := s.Schedules.Find(ctx, bson.M{"date-time": bson.M{"$lte": now}})
	if err != nil {
		return nil, err
	}
	var out []*models.Schedule
	for _, raw := range raws {
		sched, err := models.ScheduleFromRaw(raw)
		if err != nil {
			slog.Warn("TenantStore.DueSchedules: dropping malformed schedule", "error", err)
			if id, ok := raw["_id"]; ok {
				if _, rmErr := s.Schedules.Remove(ctx, bson.M{"_id": id}); rmErr != nil {
					slog.Error("TenantStore.DueSchedules: failed to drop malformed schedule", "error", rmErr)
				}
			}
			continue
		}
		out = append(out, sched)
	}
	return out, nil
}

// RemoveSchedule deletes one schedule by storage id.
func (s *TenantStore) RemoveSchedule(ctx context.Context, sched *models.Schedule) error {
	if sched.ID.IsZero() {
		return nil
	}
	_, err := s.Schedules.Remove(ctx, bson.M{"_id": sched.ID})
	return err
}

// RemoveSchedules deletes the pending schedules of the given object types
// for one (participant, interaction) pair. It returns how many were removed.
func (s *TenantStore) RemoveSchedules(ctx context.Context, phone, dialogueID, interactionID string, objectTypes ...string) (int64, error) {
	types := make([]interface{}, len(objectTypes))
	for i, t := range objectTypes {
		types[i] = t
	}
	return s.Schedules.Remove(ctx, bson.M{
		"participant-phone": phone,
		"dialogue-id":       dialogueID,
		"interaction-id":    interactionID,
		"object-type":       bson.M{"$in": types},
	})
}

// RemoveParticipantSchedules deletes every pending schedule of one
// participant, used on optout.
func (s *TenantStore) RemoveParticipantSchedules(ctx context.Context, phone string) (int64, error) {
	return s.Schedules.Remove(ctx, bson.M{"participant-phone": phone})
}

// HasPendingSchedule reports whether a dialogue-schedule already exists for
// the (participant, interaction) pair, used for idempotent re-triggering.
func (s *TenantStore) HasPendingSchedule(ctx context.Context, phone, dialogueID, interactionID string) (bool, error) {
	n, err := s.Schedules.Count(ctx, bson.M{
		"participant-phone": phone,
		"dialogue-id":       dialogueID,
		"interaction-id":    interactionID,
		"object-type":       models.ObjectTypeDialogueSchedule,
	})
	return n > 0, err
}

// AddHistory appends one history entry.
func (s *TenantStore) AddHistory(ctx context.Context, h *models.History) error {
	raw, err := models.ToRaw(h)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	_, err = s.History.Save(ctx, raw)
	return err
}

// HasBeenSent reports whether History already records an outgoing message
// for the (participant, session, interaction) triple.
func (s *TenantStore) HasBeenSent(ctx context.Context, phone, sessionID, dialogueID, interactionID string) (bool, error) {
	n, err := s.History.Count(ctx, bson.M{
		"object-type":            models.ObjectTypeDialogueHistory,
		"participant-phone":      phone,
		"participant-session-id": sessionID,
		"dialogue-id":            dialogueID,
		"interaction-id":         interactionID,
		"message-direction":      models.DirectionOutgoing,
	})
	return n > 0, err
}

// HasAnswered reports whether History records a matched answer for the
// (participant, session, interaction) triple.
func (s *TenantStore) HasAnswered(ctx context.Context, phone, sessionID, dialogueID, interactionID string) (bool, error) {
	n, err := s.History.Count(ctx, bson.M{
		"object-type":            models.ObjectTypeDialogueHistory,
		"participant-phone":      phone,
		"participant-session-id": sessionID,
		"dialogue-id":            dialogueID,
		"interaction-id":         interactionID,
		"matching-answer":        bson.M{"$exists": true},
	})
	return n > 0, err
}

// UnmatchedCount counts the unmatched replies History holds for the
// (participant, session, interaction) triple.
func (s *TenantStore) UnmatchedCount(ctx context.Context, phone, sessionID, dialogueID, interactionID string) (int, error) {
	n, err := s.History.Count(ctx, bson.M{
		"object-type":            models.ObjectTypeDialogueHistory,
		"participant-phone":      phone,
		"participant-session-id": sessionID,
		"dialogue-id":            dialogueID,
		"interaction-id":         interactionID,
		"message-direction":      models.DirectionIncoming,
		"matching-answer":        bson.M{"$exists": false},
	})
	return int(n), err
}

// UpdateHistoryStatus updates the delivery status of the history row holding
// a message id. It reports whether a row matched.
func (s *TenantStore) UpdateHistoryStatus(ctx context.Context, messageID, status, failureLevel, failureCode, failureReason string) (bool, error) {
	raw, err := s.History.FindOne(ctx, bson.M{"message-id": messageID})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	h, err := models.HistoryFromRaw(raw)
	if err != nil {
		return false, err
	}
	h.MessageStatus = status
	h.FailureLevel = failureLevel
	h.FailureCode = failureCode
	h.FailureReason = failureReason
	updated, err := models.ToRaw(h)
	if err != nil {
		return false, err
	}
	if _, err := s.History.Save(ctx, updated); err != nil {
		return false, err
	}
	return true, nil
}

// GetTemplate loads one template by id.
func (s *TenantStore) GetTemplate(ctx context.Context, templateID string) (*models.Template, error) {
	raw, err := s.Templates.FindOne(ctx, bson.M{"template-id": templateID})
	if err != nil {
		return nil, err
	}
	t := &models.Template{}
	if err := models.Decode(raw, t); err != nil {
		return nil, err
	}
	return t, nil
}

// TagCount counts participants carrying a tag.
func (s *TenantStore) TagCount(ctx context.Context, tag string) (int, error) {
	n, err := s.Participants.Count(ctx, bson.M{"tags": tag})
	return int(n), err
}

// LabelCount counts participants whose profile holds a label/value pair.
func (s *TenantStore) LabelCount(ctx context.Context, label, value string) (int, error) {
	n, err := s.Participants.Count(ctx, bson.M{
		"profile": bson.M{"$elemMatch": bson.M{"label": label, "value": value}},
	})
	return int(n), err
}

// SaveContentVariable stores one content-variable cell, replacing the
// previous value under the same key path.
func (s *TenantStore) SaveContentVariable(ctx context.Context, cv *models.ContentVariable) error {
	if _, err := s.ContentVariables.Remove(ctx, bson.M{"table": cv.Table, "keys": cv.Keys}); err != nil {
		return err
	}
	raw, err := models.ToRaw(cv)
	if err != nil {
		return fmt.Errorf("failed to encode content variable: %w", err)
	}
	_, err = s.ContentVariables.Save(ctx, raw)
	return err
}

// CreditCounts sums the credit-log counters over the window.
func (s *TenantStore) CreditCounts(ctx context.Context, from, to time.Time) (outgoing, incoming int, err error) {
	raws, err := s.CreditLogs.Find(ctx, bson.M{
		"date": bson.M{
			"$gte": from.Format("2006-01-02"),
			"$lte": to.Format("2006-01-02"),
		},
	})
	if err != nil {
		return 0, 0, err
	}
	for _, raw := range raws {
		log := &models.CreditLog{}
		if err := models.Decode(raw, log); err != nil {
			slog.Warn("TenantStore.CreditCounts: skipping malformed credit log", "error", err)
			continue
		}
		outgoing += log.Outgoing
		incoming += log.Incoming
	}
	return outgoing, incoming, nil
}

// AddCredits increments the per-day credit counters.
func (s *TenantStore) AddCredits(ctx context.Context, date time.Time, code string, outgoing, incoming int) error {
	day := date.Format("2006-01-02")
	log := &models.CreditLog{
		Meta: models.Meta{ObjectType: models.ObjectTypeCreditLog, ModelVersion: "1"},
		Date: day,
		Code: code,
	}
	raw, err := s.CreditLogs.FindOne(ctx, bson.M{"date": day, "code": code})
	if err == nil {
		if decodeErr := models.Decode(raw, log); decodeErr != nil {
			return decodeErr
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	log.Outgoing += outgoing
	log.Incoming += incoming
	updated, err := models.ToRaw(log)
	if err != nil {
		return err
	}
	_, err = s.CreditLogs.Save(ctx, updated)
	return err
}

// GetUnattachedMessage loads one unattached broadcast by unattach-id; the
// worker resolves unattach schedules through it.
func (s *TenantStore) GetUnattachedMessage(ctx context.Context, unattachID string) (*models.UnattachedMessage, error) {
	raw, err := s.UnattachedMsgs.FindOne(ctx, bson.M{"unattach-id": unattachID})
	if err != nil {
		return nil, err
	}
	u := &models.UnattachedMessage{}
	if err := models.Decode(raw, u); err != nil {
		return nil, err
	}
	return u, nil
}
