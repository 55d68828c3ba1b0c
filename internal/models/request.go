package models

// RequestModelVersion is the current request document version.
const RequestModelVersion = "1"

// ObjectTypeRequest is the request object-type discriminator.
const ObjectTypeRequest = "request"

// Request is a standing keyword command independent of any dialogue or
// schedule: matching an inbound message against its keywords fires its
// actions and responses.
type Request struct {
	Meta     `bson:",inline"`
	Keyword  string `bson:"keyword" json:"keyword"`
	// SetNoRequestMatchingTryKeywordOnly restricts matching to the bare
	// keyword, leaving keyword+content messages to the dialogues.
	SetNoRequestMatchingTryKeywordOnly bool     `bson:"set-no-request-matching-try-keyword-only,omitempty" json:"set-no-request-matching-try-keyword-only,omitempty"`
	Actions                            []Raw    `bson:"actions,omitempty" json:"actions,omitempty"`
	Responses                          []string `bson:"responses,omitempty" json:"responses,omitempty"`
}

func (r *Request) DocObjectType() string   { return ObjectTypeRequest }
func (r *Request) DocModelVersion() string { return RequestModelVersion }

// Validate checks the request document.
func (r *Request) Validate() error {
	if r.Keyword == "" {
		return NewMissingFieldError(ObjectTypeRequest, "keyword")
	}
	return nil
}

// KeywordAliases splits the comma-separated keyword field.
func (r *Request) KeywordAliases() []string {
	return SplitKeywords(r.Keyword)
}

// RequestFromRaw upgrades, decodes and validates a raw request.
func RequestFromRaw(raw Raw) (*Request, error) {
	raw, err := Upgrade(raw, RequestModelVersion, map[string]Upgrader{
		"": func(raw Raw) Raw {
			raw["object-type"] = ObjectTypeRequest
			raw["model-version"] = "1"
			return raw
		},
	})
	if err != nil {
		return nil, err
	}
	r := &Request{}
	if err := Decode(raw, r); err != nil {
		return nil, err
	}
	return r, nil
}
