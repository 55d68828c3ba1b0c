package models

import "time"

// ScheduleModelVersion is the current schedule document version.
const ScheduleModelVersion = "2"

// Schedule object types (payload discriminators).
const (
	ObjectTypeDialogueSchedule = "dialogue-schedule"
	ObjectTypeReminderSchedule = "reminder-schedule"
	ObjectTypeDeadlineSchedule = "deadline-schedule"
	ObjectTypeUnattachSchedule = "unattach-schedule"
	ObjectTypeFeedbackSchedule = "feedback-schedule"
	ObjectTypeActionSchedule   = "action-schedule"
)

// ScheduleMaxLateness is the expiry cutoff: a schedule found more than this
// long past due is discarded instead of sent late, bounding the damage of a
// worker outage.
const ScheduleMaxLateness = time.Hour

// Schedule is one pending future event. The participant-session-id binds it
// to one conversation instance: an optout/optin pair changes the session id
// and strands any schedule created before it.
type Schedule struct {
	Meta                 `bson:",inline"`
	DateTime             time.Time `bson:"date-time" json:"date-time"`
	ParticipantPhone     string    `bson:"participant-phone" json:"participant-phone"`
	ParticipantSessionID string    `bson:"participant-session-id" json:"participant-session-id"`

	DialogueID    string `bson:"dialogue-id,omitempty" json:"dialogue-id,omitempty"`
	InteractionID string `bson:"interaction-id,omitempty" json:"interaction-id,omitempty"`
	UnattachID    string `bson:"unattach-id,omitempty" json:"unattach-id,omitempty"`
	// Content carries the message body for feedback schedules.
	Content string `bson:"content,omitempty" json:"content,omitempty"`
	// Action carries the raw action payload for action schedules.
	Action Raw `bson:"action,omitempty" json:"action,omitempty"`
}

func (s *Schedule) DocObjectType() string   { return s.ObjectType }
func (s *Schedule) DocModelVersion() string { return ScheduleModelVersion }

// Validate checks the schedule document after upgrade.
func (s *Schedule) Validate() error {
	if s.ParticipantPhone == "" {
		return NewMissingFieldError(s.ObjectType, "participant-phone")
	}
	if s.DateTime.IsZero() {
		return NewMissingFieldError(s.ObjectType, "date-time")
	}
	switch s.ObjectType {
	case ObjectTypeDialogueSchedule, ObjectTypeReminderSchedule, ObjectTypeDeadlineSchedule:
		if s.DialogueID == "" {
			return NewMissingFieldError(s.ObjectType, "dialogue-id")
		}
		if s.InteractionID == "" {
			return NewMissingFieldError(s.ObjectType, "interaction-id")
		}
	case ObjectTypeUnattachSchedule:
		if s.UnattachID == "" {
			return NewMissingFieldError(s.ObjectType, "unattach-id")
		}
	case ObjectTypeFeedbackSchedule:
		if s.Content == "" {
			return NewMissingFieldError(s.ObjectType, "content")
		}
	case ObjectTypeActionSchedule:
		if len(s.Action) == 0 {
			return NewMissingFieldError(s.ObjectType, "action")
		}
	default:
		return NewInvalidFieldError("schedule", "object-type", s.ObjectType)
	}
	return nil
}

// IsExpired reports whether the schedule is too far past due to send.
func (s *Schedule) IsExpired(now time.Time) bool {
	return now.Sub(s.DateTime) > ScheduleMaxLateness
}

// IsDue reports whether the schedule should be drained this tick.
func (s *Schedule) IsDue(now time.Time) bool {
	return !s.DateTime.After(now)
}

// scheduleUpgrades brings older schedule documents to the current version.
// Version 1 predates the participant session binding; legacy schedules get
// an empty session id and are discarded as stale on the next drain.
var scheduleUpgrades = map[string]Upgrader{
	"1": func(raw Raw) Raw {
		if _, ok := raw["participant-session-id"]; !ok {
			raw["participant-session-id"] = ""
		}
		raw["model-version"] = "2"
		return raw
	},
}

// ScheduleFromRaw upgrades, decodes and validates a raw schedule.
func ScheduleFromRaw(raw Raw) (*Schedule, error) {
	raw, err := Upgrade(raw, ScheduleModelVersion, scheduleUpgrades)
	if err != nil {
		return nil, err
	}
	s := &Schedule{}
	if err := Decode(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}
