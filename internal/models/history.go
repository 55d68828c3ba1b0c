package models

import "time"

// HistoryModelVersion is the current history document version.
const HistoryModelVersion = "2"

// History object types.
const (
	ObjectTypeDialogueHistory     = "dialogue-history"
	ObjectTypeUnattachHistory     = "unattach-history"
	ObjectTypeRequestHistory      = "request-history"
	ObjectTypeOnewayMarkerHistory = "oneway-marker-history"
)

// Message directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Message statuses recorded in history.
const (
	MessageStatusPending   = "pending"
	MessageStatusDelivered = "delivered"
	MessageStatusFailed    = "failed"
	MessageStatusAck       = "ack"
	MessageStatusNack      = "nack"
	MessageStatusReceived  = "received"
	MessageStatusForwarded = "forwarded"
)

// History is one append-only log entry per inbound or outbound message, or a
// marker event. Back-references drive "already answered" detection and
// delivery-status updates.
type History struct {
	Meta                 `bson:",inline"`
	Timestamp            time.Time `bson:"timestamp" json:"timestamp"`
	ParticipantPhone     string    `bson:"participant-phone" json:"participant-phone"`
	ParticipantSessionID string    `bson:"participant-session-id,omitempty" json:"participant-session-id,omitempty"`
	MessageID            string    `bson:"message-id,omitempty" json:"message-id,omitempty"`
	MessageDirection     string    `bson:"message-direction,omitempty" json:"message-direction,omitempty"`
	MessageStatus        string    `bson:"message-status,omitempty" json:"message-status,omitempty"`
	MessageContent       string    `bson:"message-content,omitempty" json:"message-content,omitempty"`
	MessageCredits       int       `bson:"message-credits,omitempty" json:"message-credits,omitempty"`

	DialogueID     string `bson:"dialogue-id,omitempty" json:"dialogue-id,omitempty"`
	InteractionID  string `bson:"interaction-id,omitempty" json:"interaction-id,omitempty"`
	UnattachID     string `bson:"unattach-id,omitempty" json:"unattach-id,omitempty"`
	RequestID      string `bson:"request-id,omitempty" json:"request-id,omitempty"`
	MatchingAnswer string `bson:"matching-answer,omitempty" json:"matching-answer,omitempty"`
	// FailureReason records the normalized transport failure for nacks.
	FailureLevel  string `bson:"failure-level,omitempty" json:"failure-level,omitempty"`
	FailureCode   string `bson:"failure-code,omitempty" json:"failure-code,omitempty"`
	FailureReason string `bson:"failure-reason,omitempty" json:"failure-reason,omitempty"`
	// Forwards records the addresses an inbound message was forwarded to.
	Forwards []string `bson:"forwards,omitempty" json:"forwards,omitempty"`
}

func (h *History) DocObjectType() string   { return h.ObjectType }
func (h *History) DocModelVersion() string { return HistoryModelVersion }

// Validate checks the history document after upgrade.
func (h *History) Validate() error {
	switch h.ObjectType {
	case ObjectTypeDialogueHistory:
		if h.DialogueID == "" {
			return NewMissingFieldError(h.ObjectType, "dialogue-id")
		}
	case ObjectTypeUnattachHistory:
		if h.UnattachID == "" {
			return NewMissingFieldError(h.ObjectType, "unattach-id")
		}
	case ObjectTypeRequestHistory, ObjectTypeOnewayMarkerHistory:
	default:
		return NewInvalidFieldError("history", "object-type", h.ObjectType)
	}
	if h.ParticipantPhone == "" {
		return NewMissingFieldError(h.ObjectType, "participant-phone")
	}
	if h.Timestamp.IsZero() {
		return NewMissingFieldError(h.ObjectType, "timestamp")
	}
	return nil
}

// historyUpgrades brings older history documents to the current version.
// Version 1 stored credits as "message-credit".
var historyUpgrades = map[string]Upgrader{
	"1": func(raw Raw) Raw {
		if v, ok := raw["message-credit"]; ok {
			raw["message-credits"] = v
			delete(raw, "message-credit")
		}
		raw["model-version"] = "2"
		return raw
	},
}

// HistoryFromRaw upgrades, decodes and validates a raw history entry.
func HistoryFromRaw(raw Raw) (*History, error) {
	raw, err := Upgrade(raw, HistoryModelVersion, historyUpgrades)
	if err != nil {
		return nil, err
	}
	h := &History{}
	if err := Decode(raw, h); err != nil {
		return nil, err
	}
	return h, nil
}
