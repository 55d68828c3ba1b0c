package models

// DialogueModelVersion is the current dialogue document version.
const DialogueModelVersion = "2"

// ObjectTypeDialogue is the dialogue object-type discriminator.
const ObjectTypeDialogue = "dialogue"

// Auto-enrollment modes.
const (
	AutoEnrollmentNone  = ""
	AutoEnrollmentAll   = "all"
	AutoEnrollmentMatch = "match"
)

// Dialogue is an ordered, named script of interactions. Historical
// references use dialogue-id, not the storage key, so the id survives
// administrative edits.
type Dialogue struct {
	Meta         `bson:",inline"`
	DialogueID   string        `bson:"dialogue-id" json:"dialogue-id"`
	Name         string        `bson:"name" json:"name"`
	Activated    bool          `bson:"activated" json:"activated"`
	Interactions []Interaction `bson:"interactions" json:"interactions"`

	AutoEnrollment    string         `bson:"auto-enrollment,omitempty" json:"auto-enrollment,omitempty"`
	ConditionOperator string         `bson:"condition-operator,omitempty" json:"condition-operator,omitempty"`
	Subconditions     []Subcondition `bson:"subconditions,omitempty" json:"subconditions,omitempty"`
}

func (d *Dialogue) DocObjectType() string   { return ObjectTypeDialogue }
func (d *Dialogue) DocModelVersion() string { return DialogueModelVersion }

// Validate checks the dialogue and every interaction it carries.
func (d *Dialogue) Validate() error {
	if d.DialogueID == "" {
		return NewMissingFieldError(ObjectTypeDialogue, "dialogue-id")
	}
	if d.Name == "" {
		return NewMissingFieldError(ObjectTypeDialogue, "name")
	}
	switch d.AutoEnrollment {
	case AutoEnrollmentNone, AutoEnrollmentAll:
	case AutoEnrollmentMatch:
		if len(d.Subconditions) == 0 {
			return NewMissingFieldError(ObjectTypeDialogue, "subconditions")
		}
		for _, s := range d.Subconditions {
			if err := s.validate(); err != nil {
				return err
			}
		}
	default:
		return NewInvalidFieldError(ObjectTypeDialogue, "auto-enrollment", d.AutoEnrollment)
	}
	seen := make(map[string]bool, len(d.Interactions))
	for idx := range d.Interactions {
		i := &d.Interactions[idx]
		if err := i.Validate(); err != nil {
			return err
		}
		if seen[i.InteractionID] {
			return NewInvalidFieldError(ObjectTypeDialogue, "interactions", "duplicate interaction-id "+i.InteractionID)
		}
		seen[i.InteractionID] = true
	}
	return nil
}

// GetInteraction returns the interaction with the given id.
func (d *Dialogue) GetInteraction(interactionID string) (*Interaction, bool) {
	for idx := range d.Interactions {
		if d.Interactions[idx].InteractionID == interactionID {
			return &d.Interactions[idx], true
		}
	}
	return nil, false
}

// OffsetConditionInteractions returns the interactions chained to a given
// interaction through an offset-condition schedule.
func (d *Dialogue) OffsetConditionInteractions(interactionID string) []*Interaction {
	var out []*Interaction
	for idx := range d.Interactions {
		i := &d.Interactions[idx]
		if i.TypeSchedule == ScheduleTypeOffsetCondition && i.OffsetConditionInteractionID == interactionID {
			out = append(out, i)
		}
	}
	return out
}

// AutoEnrolls reports whether a participant is eligible for auto-enrollment
// in this dialogue.
func (d *Dialogue) AutoEnrolls(p *Participant) bool {
	switch d.AutoEnrollment {
	case AutoEnrollmentAll:
		return true
	case AutoEnrollmentMatch:
		cond := ActionBase{
			SetCondition:      "condition",
			ConditionOperator: d.ConditionOperator,
			Subconditions:     d.Subconditions,
		}
		return cond.ConditionMet(p)
	}
	return false
}

// dialogueUpgrades brings older dialogue documents to the current version.
// Version 1 predates the activated flag.
var dialogueUpgrades = map[string]Upgrader{
	"": func(raw Raw) Raw {
		raw["object-type"] = ObjectTypeDialogue
		raw["model-version"] = "1"
		return raw
	},
	"1": func(raw Raw) Raw {
		if _, ok := raw["activated"]; !ok {
			raw["activated"] = false
		}
		raw["model-version"] = "2"
		return raw
	},
}

// DialogueFromRaw upgrades, decodes and validates a raw dialogue.
func DialogueFromRaw(raw Raw) (*Dialogue, error) {
	raw, err := Upgrade(raw, DialogueModelVersion, dialogueUpgrades)
	if err != nil {
		return nil, err
	}
	d := &Dialogue{}
	if err := Decode(raw, d); err != nil {
		return nil, err
	}
	return d, nil
}
