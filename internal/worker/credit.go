package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/texttochange/vusion-backend-sub000/internal/metrics"
	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/store"
)

// CreditManager enforces the tenant's message credit limit. Counters live
// in the credit-log collection and are monotonic within the active window;
// only a window rollover starts a fresh count.
type CreditManager struct {
	workerName string
	store      *store.TenantStore
	settings   *models.ProgramSettings
}

// NewCreditManager creates a credit manager bound to one tenant.
func NewCreditManager(workerName string, s *store.TenantStore, settings *models.ProgramSettings) *CreditManager {
	return &CreditManager{workerName: workerName, store: s, settings: settings}
}

// limited reports whether any credit limit is configured.
func (c *CreditManager) limited() bool {
	switch c.settings.CreditType {
	case models.CreditTypeOutgoingOnly, models.CreditTypeOutgoingIncoming:
		return true
	}
	return false
}

// countsIncoming reports whether inbound messages consume credit.
func (c *CreditManager) countsIncoming() bool {
	return c.settings.CreditType == models.CreditTypeOutgoingIncoming
}

// CanSend reports whether an outbound message may be sent now. Outside the
// configured window, or once the limit is reached, sends are suppressed;
// bookkeeping actions still run.
func (c *CreditManager) CanSend(ctx context.Context, now time.Time) bool {
	if !c.limited() {
		return true
	}
	from, to, ok := c.settings.CreditWindow()
	if !ok {
		slog.Warn("CreditManager.CanSend: credit limit set but window unparseable, suppressing",
			"worker", c.workerName)
		return false
	}
	if now.Before(from) || now.After(to) {
		return false
	}
	outgoing, incoming, err := c.store.CreditCounts(ctx, from, to)
	if err != nil {
		slog.Error("CreditManager.CanSend: failed to read credit counts", "error", err, "worker", c.workerName)
		return false
	}
	used := outgoing
	if c.countsIncoming() {
		used += incoming
	}
	return used < c.settings.CreditNumber
}

// ConsumeOutgoing records credits for one outbound message.
func (c *CreditManager) ConsumeOutgoing(ctx context.Context, now time.Time, units int) {
	if units <= 0 {
		units = 1
	}
	if err := c.store.AddCredits(ctx, now.In(c.settings.Location()), c.settings.Shortcode, units, 0); err != nil {
		slog.Error("CreditManager.ConsumeOutgoing failed", "error", err, "worker", c.workerName)
		return
	}
	metrics.CreditsConsumed.WithLabelValues(c.workerName, "outgoing").Add(float64(units))
}

// ConsumeIncoming records credits for one inbound message when the limit
// type includes incoming traffic.
func (c *CreditManager) ConsumeIncoming(ctx context.Context, now time.Time, units int) {
	if !c.countsIncoming() {
		return
	}
	if units <= 0 {
		units = 1
	}
	if err := c.store.AddCredits(ctx, now.In(c.settings.Location()), c.settings.Shortcode, 0, units); err != nil {
		slog.Error("CreditManager.ConsumeIncoming failed", "error", err, "worker", c.workerName)
		return
	}
	metrics.CreditsConsumed.WithLabelValues(c.workerName, "incoming").Add(float64(units))
}
