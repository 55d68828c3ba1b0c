package models

import (
	"strings"
	"time"
)

// ParticipantModelVersion is the current participant document version.
const ParticipantModelVersion = "3"

// ObjectTypeParticipant is the participant object-type discriminator.
const ObjectTypeParticipant = "participant"

// ProfileEntry is one label/value pair on a participant profile. Raw keeps
// the unparsed reply the value was extracted from.
type ProfileEntry struct {
	Label string `bson:"label" json:"label"`
	Value string `bson:"value" json:"value"`
	Raw   string `bson:"raw,omitempty" json:"raw,omitempty"`
}

// Enrollment records membership of a participant in one dialogue.
type Enrollment struct {
	DialogueID string    `bson:"dialogue-id" json:"dialogue-id"`
	DateTime   time.Time `bson:"date-time" json:"date-time"`
}

// Participant is the per-phone-number state of one subscriber. A participant
// is created on first optin or enrollment and never hard-deleted; optout
// clears the session id and reset wipes profile data.
type Participant struct {
	Meta              `bson:",inline"`
	Phone             string                 `bson:"phone" json:"phone"`
	SessionID         string                 `bson:"session-id,omitempty" json:"session-id,omitempty"`
	LastOptinDate     *time.Time             `bson:"last-optin-date,omitempty" json:"last-optin-date,omitempty"`
	LastOptoutDate    *time.Time             `bson:"last-optout-date,omitempty" json:"last-optout-date,omitempty"`
	Tags              []string               `bson:"tags" json:"tags"`
	Profile           []ProfileEntry         `bson:"profile" json:"profile"`
	Enrolled          []Enrollment           `bson:"enrolled" json:"enrolled"`
	TransportMetadata map[string]interface{} `bson:"transport-metadata,omitempty" json:"transport-metadata,omitempty"`
}

// NewParticipant creates an opted-in participant with a fresh session.
func NewParticipant(phone, sessionID string, now time.Time) *Participant {
	return &Participant{
		Meta:          Meta{ObjectType: ObjectTypeParticipant, ModelVersion: ParticipantModelVersion},
		Phone:         phone,
		SessionID:     sessionID,
		LastOptinDate: &now,
		Tags:          []string{},
		Profile:       []ProfileEntry{},
		Enrolled:      []Enrollment{},
	}
}

func (p *Participant) DocObjectType() string   { return ObjectTypeParticipant }
func (p *Participant) DocModelVersion() string { return ParticipantModelVersion }

// Validate checks the participant document after upgrade.
func (p *Participant) Validate() error {
	if p.Phone == "" {
		return NewMissingFieldError(ObjectTypeParticipant, "phone")
	}
	for _, e := range p.Enrolled {
		if e.DialogueID == "" {
			return NewMissingFieldError(ObjectTypeParticipant, "enrolled.dialogue-id")
		}
	}
	return nil
}

// IsOptin reports whether the participant currently has an open session.
func (p *Participant) IsOptin() bool { return p.SessionID != "" }

// HasTag reports whether the participant carries the tag (case-insensitive).
func (p *Participant) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// AddTag adds a tag unless already present.
func (p *Participant) AddTag(tag string) {
	if !p.HasTag(tag) {
		p.Tags = append(p.Tags, tag)
	}
}

// HasLabel reports whether the profile holds a label, optionally with a
// specific value expressed as "label:value".
func (p *Participant) HasLabel(parameter string) bool {
	label, value, hasValue := strings.Cut(parameter, ":")
	for _, e := range p.Profile {
		if !strings.EqualFold(e.Label, label) {
			continue
		}
		if !hasValue || strings.EqualFold(e.Value, value) {
			return true
		}
	}
	return false
}

// LabelValue returns the value stored under a profile label.
func (p *Participant) LabelValue(label string) (string, bool) {
	for _, e := range p.Profile {
		if strings.EqualFold(e.Label, label) {
			return e.Value, true
		}
	}
	return "", false
}

// SetProfile stores a label/value pair, replacing any previous entry with
// the same label.
func (p *Participant) SetProfile(label, value, raw string) {
	for i, e := range p.Profile {
		if strings.EqualFold(e.Label, label) {
			p.Profile[i] = ProfileEntry{Label: e.Label, Value: value, Raw: raw}
			return
		}
	}
	p.Profile = append(p.Profile, ProfileEntry{Label: label, Value: value, Raw: raw})
}

// IsEnrolled reports whether the participant is enrolled in a dialogue.
func (p *Participant) IsEnrolled(dialogueID string) bool {
	for _, e := range p.Enrolled {
		if e.DialogueID == dialogueID {
			return true
		}
	}
	return false
}

// Enroll records enrollment in a dialogue; enrolling twice is a no-op.
func (p *Participant) Enroll(dialogueID string, now time.Time) bool {
	if p.IsEnrolled(dialogueID) {
		return false
	}
	p.Enrolled = append(p.Enrolled, Enrollment{DialogueID: dialogueID, DateTime: now})
	return true
}

// EnrollmentTime returns when the participant enrolled in a dialogue.
func (p *Participant) EnrollmentTime(dialogueID string) (time.Time, bool) {
	for _, e := range p.Enrolled {
		if e.DialogueID == dialogueID {
			return e.DateTime, true
		}
	}
	return time.Time{}, false
}

// Optout closes the session. Pending schedules bound to the old session id
// become stale and are discarded by the worker.
func (p *Participant) Optout(now time.Time) {
	p.SessionID = ""
	p.LastOptoutDate = &now
}

// Optin opens a new session for an opted-out participant.
func (p *Participant) Optin(sessionID string, now time.Time) {
	p.SessionID = sessionID
	p.LastOptinDate = &now
}

// Reset wipes tags, profile and enrollments while keeping the session open.
func (p *Participant) Reset() {
	p.Tags = []string{}
	p.Profile = []ProfileEntry{}
	p.Enrolled = []Enrollment{}
}

// participantUpgrades brings older participant documents up to the current
// version. Version 1 predates tags, version 2 predates transport metadata.
var participantUpgrades = map[string]Upgrader{
	"": func(raw Raw) Raw {
		raw["object-type"] = ObjectTypeParticipant
		raw["model-version"] = "1"
		return raw
	},
	"1": func(raw Raw) Raw {
		if _, ok := raw["tags"]; !ok {
			raw["tags"] = []interface{}{}
		}
		raw["model-version"] = "2"
		return raw
	},
	"2": func(raw Raw) Raw {
		if _, ok := raw["transport-metadata"]; !ok {
			raw["transport-metadata"] = map[string]interface{}{}
		}
		raw["model-version"] = "3"
		return raw
	},
}

// ParticipantFromRaw upgrades, decodes and validates a raw participant.
func ParticipantFromRaw(raw Raw) (*Participant, error) {
	raw, err := Upgrade(raw, ParticipantModelVersion, participantUpgrades)
	if err != nil {
		return nil, err
	}
	p := &Participant{}
	if err := Decode(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}
