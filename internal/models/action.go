package models

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Action type discriminators (type-action values).
const (
	ActionTypeOptin               = "optin"
	ActionTypeOptout              = "optout"
	ActionTypeReset               = "reset"
	ActionTypeEnrolling           = "enrolling"
	ActionTypeDelayedEnrolling    = "delayed-enrolling"
	ActionTypeTagging             = "tagging"
	ActionTypeProfiling           = "profiling"
	ActionTypeFeedback            = "feedback"
	ActionTypeUnmatchingAnswer    = "unmatching-answer"
	ActionTypeRemoveQuestion      = "remove-question"
	ActionTypeRemoveReminders     = "remove-reminders"
	ActionTypeRemoveDeadline      = "remove-deadline"
	ActionTypeOffsetConditioning  = "offset-conditioning"
	ActionTypeProportionalTagging = "proportional-tagging"
	ActionTypeProportionalLabel   = "proportional-labelling"
	ActionTypeURLForwarding       = "url-forwarding"
	ActionTypeSMSForwarding       = "sms-forwarding"
	ActionTypeSMSInvite           = "sms-invite"
	ActionTypeSaveContentVariable = "save-content-variable-table"
	ActionTypeMessageForwarding   = "message-forwarding"
)

// Condition operators.
const (
	ConditionOperatorAll = "all-subconditions"
	ConditionOperatorAny = "any-subconditions"

	SubconditionFieldTagged   = "tagged"
	SubconditionFieldLabelled = "labelled"

	SubconditionOperatorWith    = "with"
	SubconditionOperatorNotWith = "not-with"
)

// Action is one side-effecting operation produced by matching logic and
// executed by the worker. Each variant validates its own required fields.
type Action interface {
	TypeAction() string
	Validate() error
	// ConditionMet evaluates the optional condition block against a
	// participant. Actions without a condition always pass.
	ConditionMet(p *Participant) bool
}

// Subcondition is one clause of an action condition.
type Subcondition struct {
	Field     string `bson:"subcondition-field" json:"subcondition-field"`
	Operator  string `bson:"subcondition-operator" json:"subcondition-operator"`
	Parameter string `bson:"subcondition-parameter" json:"subcondition-parameter"`
}

func (s Subcondition) validate() error {
	switch s.Field {
	case SubconditionFieldTagged, SubconditionFieldLabelled:
	default:
		return NewInvalidFieldError("action", "subcondition-field", s.Field)
	}
	switch s.Operator {
	case SubconditionOperatorWith, SubconditionOperatorNotWith:
	default:
		return NewInvalidFieldError("action", "subcondition-operator", s.Operator)
	}
	return nil
}

func (s Subcondition) met(p *Participant) bool {
	var present bool
	switch s.Field {
	case SubconditionFieldTagged:
		present = p.HasTag(s.Parameter)
	case SubconditionFieldLabelled:
		present = p.HasLabel(s.Parameter)
	}
	if s.Operator == SubconditionOperatorNotWith {
		return !present
	}
	return present
}

// ActionBase carries the discriminator and the optional condition block
// shared by every variant.
type ActionBase struct {
	Type              string         `bson:"type-action" json:"type-action"`
	SetCondition      string         `bson:"set-condition,omitempty" json:"set-condition,omitempty"`
	ConditionOperator string         `bson:"condition-operator,omitempty" json:"condition-operator,omitempty"`
	Subconditions     []Subcondition `bson:"subconditions,omitempty" json:"subconditions,omitempty"`
}

func (b *ActionBase) TypeAction() string { return b.Type }

func (b *ActionBase) validateCondition() error {
	if b.SetCondition != "condition" {
		return nil
	}
	switch b.ConditionOperator {
	case ConditionOperatorAll, ConditionOperatorAny:
	default:
		return NewInvalidFieldError("action", "condition-operator", b.ConditionOperator)
	}
	if len(b.Subconditions) == 0 {
		return NewMissingFieldError("action", "subconditions")
	}
	for _, s := range b.Subconditions {
		if err := s.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ConditionMet evaluates the condition block; absent condition passes.
func (b *ActionBase) ConditionMet(p *Participant) bool {
	if b.SetCondition != "condition" || len(b.Subconditions) == 0 {
		return true
	}
	if b.ConditionOperator == ConditionOperatorAny {
		for _, s := range b.Subconditions {
			if s.met(p) {
				return true
			}
		}
		return false
	}
	for _, s := range b.Subconditions {
		if !s.met(p) {
			return false
		}
	}
	return true
}

// OptinAction opts a participant in, opening a new session.
type OptinAction struct {
	ActionBase `bson:",inline"`
}

func (a *OptinAction) Validate() error { return a.validateCondition() }

// OptoutAction closes the participant's session.
type OptoutAction struct {
	ActionBase `bson:",inline"`
}

func (a *OptoutAction) Validate() error { return a.validateCondition() }

// ResetAction clears the participant's profile, tags and enrollments while
// keeping the participant record itself.
type ResetAction struct {
	ActionBase `bson:",inline"`
}

func (a *ResetAction) Validate() error { return a.validateCondition() }

// EnrollingAction enrolls the participant in a dialogue.
type EnrollingAction struct {
	ActionBase `bson:",inline"`
	Enroll     string `bson:"enroll" json:"enroll"`
}

func (a *EnrollingAction) Validate() error {
	if a.Enroll == "" {
		return NewMissingFieldError(ActionTypeEnrolling, "enroll")
	}
	return a.validateCondition()
}

// DelayedEnrollingAction enrolls the participant after an offset-days delay.
type DelayedEnrollingAction struct {
	ActionBase `bson:",inline"`
	Enroll     string     `bson:"enroll" json:"enroll"`
	OffsetDays OffsetDays `bson:"offset-days" json:"offset-days"`
}

func (a *DelayedEnrollingAction) Validate() error {
	if a.Enroll == "" {
		return NewMissingFieldError(ActionTypeDelayedEnrolling, "enroll")
	}
	if a.OffsetDays.Days <= 0 {
		return NewInvalidFieldError(ActionTypeDelayedEnrolling, "offset-days", "days must be positive")
	}
	return a.validateCondition()
}

// TaggingAction adds a tag to the participant.
type TaggingAction struct {
	ActionBase `bson:",inline"`
	Tag        string `bson:"tag" json:"tag"`
}

func (a *TaggingAction) Validate() error {
	if a.Tag == "" {
		return NewMissingFieldError(ActionTypeTagging, "tag")
	}
	return a.validateCondition()
}

// ProfilingAction stores a label/value pair on the participant profile.
type ProfilingAction struct {
	ActionBase `bson:",inline"`
	Label      string `bson:"label" json:"label"`
	Value      string `bson:"value" json:"value"`
	Raw        string `bson:"raw,omitempty" json:"raw,omitempty"`
}

func (a *ProfilingAction) Validate() error {
	if a.Label == "" {
		return NewMissingFieldError(ActionTypeProfiling, "label")
	}
	if a.Value == "" {
		return NewMissingFieldError(ActionTypeProfiling, "value")
	}
	return a.validateCondition()
}

// FeedbackAction sends a feedback message to the participant.
type FeedbackAction struct {
	ActionBase `bson:",inline"`
	Content    string `bson:"content" json:"content"`
}

func (a *FeedbackAction) Validate() error {
	if a.Content == "" {
		return NewMissingFieldError(ActionTypeFeedback, "content")
	}
	return a.validateCondition()
}

// UnmatchingAnswerAction reports an unmatched reply; the worker renders the
// program-level unmatching template around the raw answer.
type UnmatchingAnswerAction struct {
	ActionBase `bson:",inline"`
	Answer     string `bson:"answer" json:"answer"`
}

func (a *UnmatchingAnswerAction) Validate() error {
	if a.Answer == "" {
		return NewMissingFieldError(ActionTypeUnmatchingAnswer, "answer")
	}
	return a.validateCondition()
}

// interactionRef is shared by the schedule-mutating variants.
type interactionRef struct {
	DialogueID    string `bson:"dialogue-id" json:"dialogue-id"`
	InteractionID string `bson:"interaction-id" json:"interaction-id"`
}

func (r interactionRef) validateRef(objectType string) error {
	if r.DialogueID == "" {
		return NewMissingFieldError(objectType, "dialogue-id")
	}
	if r.InteractionID == "" {
		return NewMissingFieldError(objectType, "interaction-id")
	}
	return nil
}

// RemoveQuestionAction deletes the pending dialogue-schedule of a question.
type RemoveQuestionAction struct {
	ActionBase     `bson:",inline"`
	interactionRef `bson:",inline"`
}

func (a *RemoveQuestionAction) Validate() error {
	if err := a.validateRef(ActionTypeRemoveQuestion); err != nil {
		return err
	}
	return a.validateCondition()
}

// RemoveRemindersAction deletes the pending reminder schedules of a question.
type RemoveRemindersAction struct {
	ActionBase     `bson:",inline"`
	interactionRef `bson:",inline"`
}

func (a *RemoveRemindersAction) Validate() error {
	if err := a.validateRef(ActionTypeRemoveReminders); err != nil {
		return err
	}
	return a.validateCondition()
}

// RemoveDeadlineAction deletes the pending deadline schedule of a question.
type RemoveDeadlineAction struct {
	ActionBase     `bson:",inline"`
	interactionRef `bson:",inline"`
}

func (a *RemoveDeadlineAction) Validate() error {
	if err := a.validateRef(ActionTypeRemoveDeadline); err != nil {
		return err
	}
	return a.validateCondition()
}

// OffsetConditionAction schedules an offset-condition interaction now that
// the interaction it depends on has recorded an answer.
type OffsetConditionAction struct {
	ActionBase     `bson:",inline"`
	interactionRef `bson:",inline"`
}

func (a *OffsetConditionAction) Validate() error {
	if err := a.validateRef(ActionTypeOffsetConditioning); err != nil {
		return err
	}
	return a.validateCondition()
}

// ProportionalBucket is one weighted target of a proportional action.
type ProportionalBucket struct {
	Content string `bson:"content" json:"content"`
	Weight  int    `bson:"weight" json:"weight"`
}

// ProportionalTaggingAction assigns the participant to one of N weighted tag
// buckets using a streaming weighted round-robin over current counts.
type ProportionalTaggingAction struct {
	ActionBase `bson:",inline"`
	Buckets    []ProportionalBucket `bson:"proportional-tags" json:"proportional-tags"`
}

func (a *ProportionalTaggingAction) Validate() error {
	if err := validateBuckets(ActionTypeProportionalTagging, "proportional-tags", a.Buckets); err != nil {
		return err
	}
	return a.validateCondition()
}

// ProportionalLabellingAction is the profile-label counterpart of
// ProportionalTaggingAction.
type ProportionalLabellingAction struct {
	ActionBase `bson:",inline"`
	Label      string               `bson:"label" json:"label"`
	Buckets    []ProportionalBucket `bson:"proportional-labels" json:"proportional-labels"`
}

func (a *ProportionalLabellingAction) Validate() error {
	if a.Label == "" {
		return NewMissingFieldError(ActionTypeProportionalLabel, "label")
	}
	if err := validateBuckets(ActionTypeProportionalLabel, "proportional-labels", a.Buckets); err != nil {
		return err
	}
	return a.validateCondition()
}

func validateBuckets(objectType, field string, buckets []ProportionalBucket) error {
	if len(buckets) == 0 {
		return NewMissingFieldError(objectType, field)
	}
	for _, b := range buckets {
		if b.Content == "" {
			return NewMissingFieldError(objectType, field+".content")
		}
		if b.Weight <= 0 {
			return NewInvalidFieldError(objectType, field+".weight", "weight must be positive")
		}
	}
	return nil
}

// URLForwardingAction forwards the inbound message to an external URL.
type URLForwardingAction struct {
	ActionBase `bson:",inline"`
	ForwardURL string `bson:"forward-url" json:"forward-url"`
}

func (a *URLForwardingAction) Validate() error {
	if a.ForwardURL == "" {
		return NewMissingFieldError(ActionTypeURLForwarding, "forward-url")
	}
	return a.validateCondition()
}

// SMSForwardingAction forwards a rendered message to the phone numbers held
// under a participant profile label.
type SMSForwardingAction struct {
	ActionBase     `bson:",inline"`
	ForwardTo      string `bson:"forward-to" json:"forward-to"`
	ForwardContent string `bson:"forward-content" json:"forward-content"`
}

func (a *SMSForwardingAction) Validate() error {
	if a.ForwardTo == "" {
		return NewMissingFieldError(ActionTypeSMSForwarding, "forward-to")
	}
	if a.ForwardContent == "" {
		return NewMissingFieldError(ActionTypeSMSForwarding, "forward-content")
	}
	return a.validateCondition()
}

// SMSInviteAction invites the phone number named in the reply and confirms
// to the inviter.
type SMSInviteAction struct {
	ActionBase      `bson:",inline"`
	InviteContent   string `bson:"invite-content" json:"invite-content"`
	FeedbackInviter string `bson:"feedback-inviter" json:"feedback-inviter"`
	InviteeTag      string `bson:"invitee-tag,omitempty" json:"invitee-tag,omitempty"`
}

func (a *SMSInviteAction) Validate() error {
	if a.InviteContent == "" {
		return NewMissingFieldError(ActionTypeSMSInvite, "invite-content")
	}
	if a.FeedbackInviter == "" {
		return NewMissingFieldError(ActionTypeSMSInvite, "feedback-inviter")
	}
	return a.validateCondition()
}

// SaveContentVariableAction stores a matched answer into a content-variable
// table keyed by the participant.
type SaveContentVariableAction struct {
	ActionBase `bson:",inline"`
	Table      string   `bson:"scvt-attached-table" json:"scvt-attached-table"`
	Keys       []string `bson:"scvt-keys" json:"scvt-keys"`
	Value      string   `bson:"scvt-value" json:"scvt-value"`
}

func (a *SaveContentVariableAction) Validate() error {
	if a.Table == "" {
		return NewMissingFieldError(ActionTypeSaveContentVariable, "scvt-attached-table")
	}
	if len(a.Keys) == 0 {
		return NewMissingFieldError(ActionTypeSaveContentVariable, "scvt-keys")
	}
	if a.Value == "" {
		return NewMissingFieldError(ActionTypeSaveContentVariable, "scvt-value")
	}
	return a.validateCondition()
}

// MessageForwardingAction forwards the raw inbound content to another
// dispatcher address.
type MessageForwardingAction struct {
	ActionBase    `bson:",inline"`
	ForwardToAddr string `bson:"forward-to-addr" json:"forward-to-addr"`
}

func (a *MessageForwardingAction) Validate() error {
	if a.ForwardToAddr == "" {
		return NewMissingFieldError(ActionTypeMessageForwarding, "forward-to-addr")
	}
	return a.validateCondition()
}

// actionPrototypes maps type-action discriminators to empty variant values.
var actionPrototypes = map[string]func() Action{
	ActionTypeOptin:               func() Action { return &OptinAction{} },
	ActionTypeOptout:              func() Action { return &OptoutAction{} },
	ActionTypeReset:               func() Action { return &ResetAction{} },
	ActionTypeEnrolling:           func() Action { return &EnrollingAction{} },
	ActionTypeDelayedEnrolling:    func() Action { return &DelayedEnrollingAction{} },
	ActionTypeTagging:             func() Action { return &TaggingAction{} },
	ActionTypeProfiling:           func() Action { return &ProfilingAction{} },
	ActionTypeFeedback:            func() Action { return &FeedbackAction{} },
	ActionTypeUnmatchingAnswer:    func() Action { return &UnmatchingAnswerAction{} },
	ActionTypeRemoveQuestion:      func() Action { return &RemoveQuestionAction{} },
	ActionTypeRemoveReminders:     func() Action { return &RemoveRemindersAction{} },
	ActionTypeRemoveDeadline:      func() Action { return &RemoveDeadlineAction{} },
	ActionTypeOffsetConditioning:  func() Action { return &OffsetConditionAction{} },
	ActionTypeProportionalTagging: func() Action { return &ProportionalTaggingAction{} },
	ActionTypeProportionalLabel:   func() Action { return &ProportionalLabellingAction{} },
	ActionTypeURLForwarding:       func() Action { return &URLForwardingAction{} },
	ActionTypeSMSForwarding:       func() Action { return &SMSForwardingAction{} },
	ActionTypeSMSInvite:           func() Action { return &SMSInviteAction{} },
	ActionTypeSaveContentVariable: func() Action { return &SaveContentVariableAction{} },
	ActionTypeMessageForwarding:   func() Action { return &MessageForwardingAction{} },
}

// ActionFromRaw builds and validates the action variant named by the raw
// document's type-action field.
func ActionFromRaw(raw Raw) (Action, error) {
	typeAction, _ := raw["type-action"].(string)
	proto, ok := actionPrototypes[typeAction]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, typeAction)
	}
	action := proto()
	data, err := bson.Marshal(bson.M(raw))
	if err != nil {
		return nil, err
	}
	if err := bson.Unmarshal(data, action); err != nil {
		return nil, err
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	return action, nil
}

// Actions is an ordered action sequence with the insertion policy that keeps
// the chain executable: optin first, reset directly after any leading optin,
// enrolling after the leading optin/reset block, everything else at the tail.
type Actions struct {
	items []Action
}

// NewActions builds a sequence by appending each action through the policy.
func NewActions(actions ...Action) *Actions {
	a := &Actions{}
	for _, action := range actions {
		a.Append(action)
	}
	return a
}

// Append inserts one action according to the ordering policy.
func (a *Actions) Append(action Action) {
	switch action.TypeAction() {
	case ActionTypeOptin:
		a.insert(0, action)
	case ActionTypeReset:
		i := 0
		for i < len(a.items) && a.items[i].TypeAction() == ActionTypeOptin {
			i++
		}
		a.insert(i, action)
	case ActionTypeEnrolling:
		i := 0
		for i < len(a.items) {
			t := a.items[i].TypeAction()
			if t != ActionTypeOptin && t != ActionTypeReset {
				break
			}
			i++
		}
		a.insert(i, action)
	default:
		a.items = append(a.items, action)
	}
}

// Extend appends every action of another sequence through the policy.
func (a *Actions) Extend(other *Actions) {
	if other == nil {
		return
	}
	for _, action := range other.items {
		a.Append(action)
	}
}

func (a *Actions) insert(i int, action Action) {
	a.items = append(a.items, nil)
	copy(a.items[i+1:], a.items[i:])
	a.items[i] = action
}

// Items returns the ordered actions.
func (a *Actions) Items() []Action { return a.items }

// Len returns the number of actions in the sequence.
func (a *Actions) Len() int { return len(a.items) }
