package messaging

import (
	"context"
	"log/slog"
)

// KeywordMapping routes one keyword on a shortcode to a worker address.
type KeywordMapping struct {
	Keyword string `json:"keyword"`
	ToAddr  string `json:"to-addr"`
	Prefix  string `json:"prefix,omitempty"`
}

// DispatcherRegistration is emitted to the dispatcher whenever a worker's
// keyword set changes, so inbound traffic fans out to the right tenant.
type DispatcherRegistration struct {
	ExposedName     string           `json:"exposed-name"`
	KeywordMappings []KeywordMapping `json:"keyword-mappings"`
}

// RegisterKeywords publishes a worker's current keyword set to its
// dispatcher topic.
func RegisterKeywords(ctx context.Context, b Broker, dispatcherName string, reg DispatcherRegistration) error {
	topic := "dispatcher." + dispatcherName
	if err := PublishJSON(ctx, b, topic, reg); err != nil {
		slog.Error("messaging.RegisterKeywords failed", "error", err, "dispatcher", dispatcherName)
		return err
	}
	slog.Debug("messaging.RegisterKeywords published", "dispatcher", dispatcherName,
		"exposed_name", reg.ExposedName, "keywords", len(reg.KeywordMappings))
	return nil
}
