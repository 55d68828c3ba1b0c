package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeTransport is a loopback Transport for tests: sends are recorded and
// inbound traffic is injected by the test.
type FakeTransport struct {
	mu      sync.Mutex
	sent    []OutboundMessage
	inbound chan InboundMessage
	events  chan DeliveryEvent
	stopped bool
	// SendErr, when set, is returned by every Send.
	SendErr error
}

// NewFakeTransport creates an empty fake transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		inbound: make(chan InboundMessage, DefaultChannelBufferSize),
		events:  make(chan DeliveryEvent, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient strips nothing; tests pass canonical
// numbers.
func (f *FakeTransport) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return recipient, nil
}

// Send records the outbound message.
func (f *FakeTransport) Send(_ context.Context, msg OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return "", ErrServiceStopped
	}
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.sent = append(f.sent, msg)
	return uuid.NewString(), nil
}

// Sent returns a copy of the recorded outbound messages.
func (f *FakeTransport) Sent() []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutboundMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// InjectInbound feeds an inbound message to the consumer.
func (f *FakeTransport) InjectInbound(msg InboundMessage) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	f.inbound <- msg
}

// InjectEvent feeds a delivery event to the consumer.
func (f *FakeTransport) InjectEvent(ev DeliveryEvent) { f.events <- ev }

// Start is a no-op.
func (f *FakeTransport) Start(ctx context.Context) error { return nil }

// Stop closes the channels.
func (f *FakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil
	}
	f.stopped = true
	close(f.inbound)
	close(f.events)
	return nil
}

// Inbound returns the inbound channel.
func (f *FakeTransport) Inbound() <-chan InboundMessage { return f.inbound }

// Events returns the events channel.
func (f *FakeTransport) Events() <-chan DeliveryEvent { return f.events }
