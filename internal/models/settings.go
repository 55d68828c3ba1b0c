package models

import (
	"time"
)

// Object types for tenant configuration documents.
const (
	ObjectTypeProgramSettings   = "program-settings"
	ObjectTypeUnattachedMessage = "unattached-message"
	ObjectTypeTemplate          = "template"
	ObjectTypeContentVariable   = "content-variable"
	ObjectTypeCreditLog         = "credit-log"
)

// Credit limit types.
const (
	CreditTypeNone             = "none"
	CreditTypeOutgoingOnly     = "outgoing-only"
	CreditTypeOutgoingIncoming = "outgoing-incoming"
)

// ProgramSettings is the per-tenant program configuration: shortcode,
// timezone, credit window and the default template ids.
type ProgramSettings struct {
	Meta                `bson:",inline"`
	Shortcode           string `bson:"shortcode" json:"shortcode"`
	InternationalPrefix string `bson:"international-prefix,omitempty" json:"international-prefix,omitempty"`
	Timezone            string `bson:"timezone" json:"timezone"`

	CreditType     string `bson:"credit-type,omitempty" json:"credit-type,omitempty"`
	CreditNumber   int    `bson:"credit-number,omitempty" json:"credit-number,omitempty"`
	CreditFromDate string `bson:"credit-from-date,omitempty" json:"credit-from-date,omitempty"`
	CreditToDate   string `bson:"credit-to-date,omitempty" json:"credit-to-date,omitempty"`

	RequestAndFeedbackPrioritized  bool   `bson:"request-and-feedback-prioritized,omitempty" json:"request-and-feedback-prioritized,omitempty"`
	UnmatchingAnswerRemoveReminder bool   `bson:"unmatching-answer-remove-reminder,omitempty" json:"unmatching-answer-remove-reminder,omitempty"`
	SMSForwardingAllowed           bool   `bson:"sms-forwarding-allowed,omitempty" json:"sms-forwarding-allowed,omitempty"`
	DefaultTemplateOpenQuestion    string `bson:"default-template-open-question,omitempty" json:"default-template-open-question,omitempty"`
	DefaultTemplateClosedQuestion  string `bson:"default-template-closed-question,omitempty" json:"default-template-closed-question,omitempty"`
	DefaultTemplateUnmatchingAnswer string `bson:"default-template-unmatching-answer,omitempty" json:"default-template-unmatching-answer,omitempty"`
}

func (s *ProgramSettings) DocObjectType() string   { return ObjectTypeProgramSettings }
func (s *ProgramSettings) DocModelVersion() string { return "1" }

// Validate checks the settings document.
func (s *ProgramSettings) Validate() error {
	if s.Shortcode == "" {
		return NewMissingFieldError(ObjectTypeProgramSettings, "shortcode")
	}
	if s.Timezone == "" {
		return NewMissingFieldError(ObjectTypeProgramSettings, "timezone")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return NewInvalidFieldError(ObjectTypeProgramSettings, "timezone", err.Error())
	}
	switch s.CreditType {
	case "", CreditTypeNone, CreditTypeOutgoingOnly, CreditTypeOutgoingIncoming:
	default:
		return NewInvalidFieldError(ObjectTypeProgramSettings, "credit-type", s.CreditType)
	}
	return nil
}

// Location resolves the tenant time zone.
func (s *ProgramSettings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CreditWindow parses the credit window bounds ("2006-01-02").
func (s *ProgramSettings) CreditWindow() (from, to time.Time, ok bool) {
	if s.CreditFromDate == "" || s.CreditToDate == "" {
		return time.Time{}, time.Time{}, false
	}
	loc := s.Location()
	from, errFrom := time.ParseInLocation("2006-01-02", s.CreditFromDate, loc)
	to, errTo := time.ParseInLocation("2006-01-02", s.CreditToDate, loc)
	if errFrom != nil || errTo != nil {
		return time.Time{}, time.Time{}, false
	}
	// The window is inclusive of the whole end date.
	return from, to.Add(24*time.Hour - time.Nanosecond), true
}

// UnattachedMessage is a broadcast not attached to any dialogue, sent once
// at a fixed time to a recipient selector.
type UnattachedMessage struct {
	Meta         `bson:",inline"`
	UnattachID   string    `bson:"unattach-id" json:"unattach-id"`
	Name         string    `bson:"name" json:"name"`
	SendToType   string    `bson:"send-to-type" json:"send-to-type"` // all | match
	SendToMatch  []string  `bson:"send-to-match,omitempty" json:"send-to-match,omitempty"`
	Content      string    `bson:"content" json:"content"`
	TypeSchedule string    `bson:"type-schedule" json:"type-schedule"`
	FixedTime    time.Time `bson:"fixed-time" json:"fixed-time"`
}

func (u *UnattachedMessage) DocObjectType() string   { return ObjectTypeUnattachedMessage }
func (u *UnattachedMessage) DocModelVersion() string { return "1" }

// Validate checks the unattached message document.
func (u *UnattachedMessage) Validate() error {
	if u.UnattachID == "" {
		return NewMissingFieldError(ObjectTypeUnattachedMessage, "unattach-id")
	}
	if u.Content == "" {
		return NewMissingFieldError(ObjectTypeUnattachedMessage, "content")
	}
	if u.FixedTime.IsZero() {
		return NewMissingFieldError(ObjectTypeUnattachedMessage, "fixed-time")
	}
	return nil
}

// Template is a lookup-by-id message template.
type Template struct {
	Meta       `bson:",inline"`
	TemplateID string `bson:"template-id" json:"template-id"`
	Template   string `bson:"template" json:"template"`
}

func (t *Template) DocObjectType() string   { return ObjectTypeTemplate }
func (t *Template) DocModelVersion() string { return "1" }

// Validate checks the template document.
func (t *Template) Validate() error {
	if t.TemplateID == "" {
		return NewMissingFieldError(ObjectTypeTemplate, "template-id")
	}
	if t.Template == "" {
		return NewMissingFieldError(ObjectTypeTemplate, "template")
	}
	return nil
}

// ContentVariable is one cell of a content-variable table, addressed by its
// key path.
type ContentVariable struct {
	Meta    `bson:",inline"`
	Table   string   `bson:"table" json:"table"`
	Keys    []string `bson:"keys" json:"keys"`
	Value   string   `bson:"value" json:"value"`
}

func (c *ContentVariable) DocObjectType() string   { return ObjectTypeContentVariable }
func (c *ContentVariable) DocModelVersion() string { return "1" }

// Validate checks the content variable document.
func (c *ContentVariable) Validate() error {
	if c.Table == "" {
		return NewMissingFieldError(ObjectTypeContentVariable, "table")
	}
	if len(c.Keys) == 0 {
		return NewMissingFieldError(ObjectTypeContentVariable, "keys")
	}
	return nil
}

// CreditLog is the per-tenant monotonic credit counter for one day.
type CreditLog struct {
	Meta     `bson:",inline"`
	Date     string `bson:"date" json:"date"` // "2006-01-02", tenant-local
	Code     string `bson:"code" json:"code"` // shortcode
	Outgoing int    `bson:"outgoing" json:"outgoing"`
	Incoming int    `bson:"incoming" json:"incoming"`
}

func (c *CreditLog) DocObjectType() string   { return ObjectTypeCreditLog }
func (c *CreditLog) DocModelVersion() string { return "1" }

// Validate checks the credit log document.
func (c *CreditLog) Validate() error {
	if c.Date == "" {
		return NewMissingFieldError(ObjectTypeCreditLog, "date")
	}
	return nil
}

// WorkerConfig is the persisted configuration of one tenant worker.
type WorkerConfig struct {
	Meta               `bson:",inline"`
	ControlName        string `bson:"control-name" json:"control-name"`
	TransportName      string `bson:"transport-name" json:"transport-name"`
	DatabaseName       string `bson:"database-name" json:"database-name"`
	VusionDatabaseName string `bson:"vusion-database-name" json:"vusion-database-name"`
	DispatcherName     string `bson:"dispatcher-name" json:"dispatcher-name"`
}

func (w *WorkerConfig) DocObjectType() string   { return "worker-config" }
func (w *WorkerConfig) DocModelVersion() string { return "1" }

// Validate checks the worker config document.
func (w *WorkerConfig) Validate() error {
	if w.ControlName == "" {
		return NewMissingFieldError("worker-config", "control-name")
	}
	if w.DatabaseName == "" {
		return NewMissingFieldError("worker-config", "database-name")
	}
	return nil
}
