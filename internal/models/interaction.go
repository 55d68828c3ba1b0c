package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interaction types.
const (
	InteractionAnnouncement          = "announcement"
	InteractionQuestionAnswer        = "question-answer"
	InteractionQuestionAnswerKeyword = "question-answer-keyword"
)

// Schedule specification types for interactions.
const (
	ScheduleTypeFixedTime       = "fixed-time"
	ScheduleTypeOffsetDays      = "offset-days"
	ScheduleTypeOffsetTime      = "offset-time"
	ScheduleTypeOffsetCondition = "offset-condition"
)

// Reminder schedule types.
const (
	ReminderTypeOffsetDays = "reminder-offset-days"
	ReminderTypeOffsetTime = "reminder-offset-time"
)

// Unmatching feedback policies.
const (
	UnmatchingFeedbackProgram     = "program-unmatching-feedback"
	UnmatchingFeedbackInteraction = "interaction-unmatching-feedback"
)

// OffsetDays pins a send to N days after a reference time at a fixed
// tenant-local time of day ("15:04").
type OffsetDays struct {
	Days   int    `bson:"days" json:"days"`
	AtTime string `bson:"at-time" json:"at-time"`
}

// AtTimeOfDay parses the at-time field.
func (o OffsetDays) AtTimeOfDay() (hour, minute int, err error) {
	t, err := time.Parse("15:04", o.AtTime)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid at-time %q: %w", o.AtTime, err)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseOffsetTime parses an offset-time value of the form "minutes" or
// "minutes:seconds" into a duration.
func ParseOffsetTime(spec string) (time.Duration, error) {
	minutesPart, secondsPart, hasSeconds := strings.Cut(spec, ":")
	minutes, err := strconv.Atoi(strings.TrimSpace(minutesPart))
	if err != nil || minutes < 0 {
		return 0, fmt.Errorf("invalid offset-time %q", spec)
	}
	d := time.Duration(minutes) * time.Minute
	if hasSeconds {
		seconds, err := strconv.Atoi(strings.TrimSpace(secondsPart))
		if err != nil || seconds < 0 || seconds > 59 {
			return 0, fmt.Errorf("invalid offset-time %q", spec)
		}
		d += time.Duration(seconds) * time.Second
	}
	return d, nil
}

// Answer is one accepted choice of a closed question.
type Answer struct {
	Choice    string   `bson:"choice" json:"choice"`
	Feedbacks []string `bson:"feedbacks,omitempty" json:"feedbacks,omitempty"`
	// AnswerActions are stored raw and parsed by ActionFromRaw when the
	// answer matches, so one malformed action never poisons the dialogue.
	AnswerActions []Raw `bson:"answer-actions,omitempty" json:"answer-actions,omitempty"`
}

// AnswerKeyword is one accepted keyword of a question-answer-keyword
// interaction, where each alias is its own answer.
type AnswerKeyword struct {
	Keyword       string   `bson:"keyword" json:"keyword"`
	Feedbacks     []string `bson:"feedbacks,omitempty" json:"feedbacks,omitempty"`
	AnswerActions []Raw    `bson:"answer-actions,omitempty" json:"answer-actions,omitempty"`
}

// Interaction is one scripted step of a dialogue: an announcement or a
// question waiting for a keyword-matched reply.
type Interaction struct {
	InteractionID   string `bson:"interaction-id" json:"interaction-id"`
	TypeInteraction string `bson:"type-interaction" json:"type-interaction"`
	Content         string `bson:"content" json:"content"`
	SetUseTemplate  bool   `bson:"set-use-template,omitempty" json:"set-use-template,omitempty"`

	TypeSchedule string      `bson:"type-schedule" json:"type-schedule"`
	FixedTime    *time.Time  `bson:"fixed-time,omitempty" json:"fixed-time,omitempty"`
	OffsetDays   *OffsetDays `bson:"offset-days,omitempty" json:"offset-days,omitempty"`
	OffsetTime   string      `bson:"offset-time,omitempty" json:"offset-time,omitempty"`
	// Offset-condition interactions fire when the referenced interaction
	// records an answer, optionally delayed by a grace period in minutes.
	OffsetConditionInteractionID string `bson:"offset-condition-interaction-id,omitempty" json:"offset-condition-interaction-id,omitempty"`
	OffsetConditionDelay         int    `bson:"offset-condition-delay,omitempty" json:"offset-condition-delay,omitempty"`

	Keyword                string          `bson:"keyword,omitempty" json:"keyword,omitempty"`
	Answers                []Answer        `bson:"answers,omitempty" json:"answers,omitempty"`
	AnswerKeywords         []AnswerKeyword `bson:"answer-keywords,omitempty" json:"answer-keywords,omitempty"`
	AnswerLabel            string          `bson:"label-for-participant-profiling,omitempty" json:"label-for-participant-profiling,omitempty"`
	SetAnswerAcceptNoSpace bool            `bson:"set-answer-accept-no-space,omitempty" json:"set-answer-accept-no-space,omitempty"`

	SetReminder         bool   `bson:"set-reminder,omitempty" json:"set-reminder,omitempty"`
	TypeScheduleReminder string `bson:"type-schedule-reminder,omitempty" json:"type-schedule-reminder,omitempty"`
	ReminderNumber      int    `bson:"reminder-number,omitempty" json:"reminder-number,omitempty"`
	ReminderMinutes     int    `bson:"reminder-minutes,omitempty" json:"reminder-minutes,omitempty"`
	ReminderDays        int    `bson:"reminder-days,omitempty" json:"reminder-days,omitempty"`
	ReminderAtTime      string `bson:"reminder-at-time,omitempty" json:"reminder-at-time,omitempty"`

	TypeUnmatchingFeedback    string `bson:"type-unmatching-feedback,omitempty" json:"type-unmatching-feedback,omitempty"`
	UnmatchingFeedbackContent string `bson:"unmatching-feedback-content,omitempty" json:"unmatching-feedback-content,omitempty"`

	SetMaxUnmatchingAnswers    bool  `bson:"set-max-unmatching-answers,omitempty" json:"set-max-unmatching-answers,omitempty"`
	MaxUnmatchingAnswerNumber  int   `bson:"max-unmatching-answer-number,omitempty" json:"max-unmatching-answer-number,omitempty"`
	MaxUnmatchingAnswerActions []Raw `bson:"max-unmatching-answer-actions,omitempty" json:"max-unmatching-answer-actions,omitempty"`
}

// IsQuestion reports whether the interaction waits for a reply.
func (i *Interaction) IsQuestion() bool {
	return i.TypeInteraction == InteractionQuestionAnswer || i.TypeInteraction == InteractionQuestionAnswerKeyword
}

// HasReminder reports whether the interaction schedules reminders.
func (i *Interaction) HasReminder() bool {
	return i.SetReminder && i.ReminderNumber > 0
}

// KeywordAliases splits the comma-separated keyword field.
func (i *Interaction) KeywordAliases() []string {
	return SplitKeywords(i.Keyword)
}

// SplitKeywords splits a comma-separated keyword list, trimming blanks.
func SplitKeywords(keywords string) []string {
	var out []string
	for _, k := range strings.Split(keywords, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Validate checks the interaction inside its dialogue.
func (i *Interaction) Validate() error {
	if i.InteractionID == "" {
		return NewMissingFieldError("interaction", "interaction-id")
	}
	switch i.TypeInteraction {
	case InteractionAnnouncement:
	case InteractionQuestionAnswer:
		if i.Keyword == "" {
			return NewMissingFieldError("interaction", "keyword")
		}
	case InteractionQuestionAnswerKeyword:
		if len(i.AnswerKeywords) == 0 {
			return NewMissingFieldError("interaction", "answer-keywords")
		}
	default:
		return NewInvalidFieldError("interaction", "type-interaction", i.TypeInteraction)
	}
	switch i.TypeSchedule {
	case ScheduleTypeFixedTime:
		if i.FixedTime == nil {
			return NewMissingFieldError("interaction", "fixed-time")
		}
	case ScheduleTypeOffsetDays:
		if i.OffsetDays == nil {
			return NewMissingFieldError("interaction", "offset-days")
		}
		if _, _, err := i.OffsetDays.AtTimeOfDay(); err != nil {
			return NewInvalidFieldError("interaction", "offset-days.at-time", err.Error())
		}
	case ScheduleTypeOffsetTime:
		if _, err := ParseOffsetTime(i.OffsetTime); err != nil {
			return NewInvalidFieldError("interaction", "offset-time", err.Error())
		}
	case ScheduleTypeOffsetCondition:
		if i.OffsetConditionInteractionID == "" {
			return NewMissingFieldError("interaction", "offset-condition-interaction-id")
		}
	default:
		return NewInvalidFieldError("interaction", "type-schedule", i.TypeSchedule)
	}
	if i.HasReminder() {
		switch i.TypeScheduleReminder {
		case ReminderTypeOffsetTime:
			if i.ReminderMinutes <= 0 {
				return NewInvalidFieldError("interaction", "reminder-minutes", "must be positive")
			}
		case ReminderTypeOffsetDays:
			if i.ReminderDays <= 0 {
				return NewInvalidFieldError("interaction", "reminder-days", "must be positive")
			}
			if _, err := time.Parse("15:04", i.ReminderAtTime); err != nil {
				return NewInvalidFieldError("interaction", "reminder-at-time", err.Error())
			}
		default:
			return NewInvalidFieldError("interaction", "type-schedule-reminder", i.TypeScheduleReminder)
		}
	}
	return nil
}
