// Package messaging provides the transport adapter contract for SMS
// gateways, the Twilio adapter, the broker contract and the dispatcher
// registration emitter.
package messaging

import (
	"context"
	"errors"
	"time"
)

// DefaultChannelBufferSize is the buffer size of the inbound and event
// channels a transport exposes.
const DefaultChannelBufferSize = 100

// ErrServiceStopped is returned when a send is attempted on a stopped
// transport.
var ErrServiceStopped = errors.New("messaging service is stopped")

// Delivery failure levels, as normalized by the transport.
const (
	FailureLevelHTTP      = "http"
	FailureLevelService   = "service"
	FailureLevelTransport = "transport"
)

// OutboundMessage is the envelope handed to a transport adapter.
type OutboundMessage struct {
	To       string                 `json:"to"`
	From     string                 `json:"from"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// InboundMessage is a normalized inbound SMS.
type InboundMessage struct {
	MessageID string    `json:"message-id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryEvent is a normalized delivery report for a sent message.
type DeliveryEvent struct {
	MessageID     string `json:"message-id"`
	Status        string `json:"status"` // delivered | failed | ack | nack
	FailureLevel  string `json:"failure-level,omitempty"`
	FailureCode   string `json:"failure-code,omitempty"`
	FailureReason string `json:"failure-reason,omitempty"`
}

// Transport is the pluggable message delivery abstraction. It sends
// outbound envelopes and exposes channels for inbound messages and
// delivery events.
type Transport interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone
	// number; each transport owns its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Send delivers one outbound message and returns the transport
	// message id used to correlate delivery events.
	Send(ctx context.Context, msg OutboundMessage) (string, error)

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Inbound returns the channel of normalized inbound messages.
	Inbound() <-chan InboundMessage

	// Events returns the channel of delivery events.
	Events() <-chan DeliveryEvent
}
