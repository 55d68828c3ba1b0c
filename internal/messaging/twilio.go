package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// phoneNumberRegex matches every non-digit character for canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// TwilioOpts holds configuration for the Twilio SMS transport.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioOption configures TwilioOpts.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sender number.
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// TwilioTransport implements Transport over the Twilio REST API. Inbound
// messages and status callbacks are delivered by Twilio webhooks, which the
// HTTP layer feeds in through InjectInbound and InjectEvent.
type TwilioTransport struct {
	client  *twilio.RestClient
	from    string
	inbound chan InboundMessage
	events  chan DeliveryEvent
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioTransport creates a Twilio SMS transport, falling back to the
// TWILIO_* environment variables for unset options.
func NewTwilioTransport(opts ...TwilioOption) (*TwilioTransport, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("TwilioTransport config loaded",
		"account_sid_set", cfg.AccountSID != "",
		"auth_token_set", cfg.AuthToken != "",
		"from_set", cfg.FromNumber != "")
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioTransport{
		client:  client,
		from:    cfg.FromNumber,
		inbound: make(chan InboundMessage, DefaultChannelBufferSize),
		events:  make(chan DeliveryEvent, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}, nil
}

// ValidateAndCanonicalizeRecipient strips non-digits and requires at least
// six digits.
func (t *TwilioTransport) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("TwilioTransport canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Send delivers one SMS through the Twilio API.
func (t *TwilioTransport) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	t.mu.RLock()
	if t.stopped {
		t.mu.RUnlock()
		return "", ErrServiceStopped
	}
	t.mu.RUnlock()

	to, err := t.ValidateAndCanonicalizeRecipient(msg.To)
	if err != nil {
		slog.Error("TwilioTransport.Send validation error", "error", err, "to", msg.To)
		return "", err
	}
	from := msg.From
	if from == "" {
		from = t.from
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("+" + to)
	params.SetFrom(from)
	params.SetBody(msg.Content)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioTransport.Send failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	messageID := uuid.NewString()
	if resp.Sid != nil {
		messageID = *resp.Sid
	}
	slog.Debug("TwilioTransport message sent", "to", to, "message_id", messageID)
	return messageID, nil
}

// InjectInbound feeds a webhook-received inbound message into the channel.
func (t *TwilioTransport) InjectInbound(msg InboundMessage) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	t.safeSend(func() { t.inbound <- msg })
}

// InjectEvent feeds a webhook-received status callback into the channel.
func (t *TwilioTransport) InjectEvent(ev DeliveryEvent) {
	t.safeSend(func() { t.events <- ev })
}

func (t *TwilioTransport) safeSend(send func()) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped {
		return
	}
	send()
}

// Start is a no-op: Twilio delivers inbound traffic through webhooks.
func (t *TwilioTransport) Start(ctx context.Context) error { return nil }

// Stop closes the channels and rejects further sends.
func (t *TwilioTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}
	t.stopped = true
	close(t.done)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(t.inbound)
		close(t.events)
	}()
	return nil
}

// Inbound returns the channel of inbound messages.
func (t *TwilioTransport) Inbound() <-chan InboundMessage { return t.inbound }

// Events returns the channel of delivery events.
func (t *TwilioTransport) Events() <-chan DeliveryEvent { return t.events }
