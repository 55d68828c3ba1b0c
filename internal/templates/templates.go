// Package templates provides lookup-by-id message templates and the
// placeholder rendering the worker applies to outbound content.
package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/store"
)

// ErrMissingTemplate is returned when a referenced template id is absent.
// Message generation for that cycle fails; the schedule is still consumed so
// the worker never poison-loops on it.
var ErrMissingTemplate = errors.New("template not found")

// Lookup resolves template ids to template strings.
type Lookup interface {
	Get(ctx context.Context, templateID string) (string, error)
}

// StoreLookup resolves templates from the tenant store.
type StoreLookup struct {
	Store *store.TenantStore
}

// Get returns the template string or ErrMissingTemplate.
func (l *StoreLookup) Get(ctx context.Context, templateID string) (string, error) {
	t, err := l.Store.GetTemplate(ctx, templateID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrMissingTemplate, templateID)
	}
	if err != nil {
		return "", err
	}
	return t.Template, nil
}

// Render substitutes participant placeholders into content. Supported forms
// are [participant.phone] and [participant.<label>] for profile labels; an
// unresolvable placeholder aborts rendering with ErrMissingData so the
// worker can fall back or drop the message.
func Render(content string, p *models.Participant) (string, error) {
	out := content
	for {
		start := strings.Index(out, "[participant.")
		if start < 0 {
			return out, nil
		}
		end := strings.Index(out[start:], "]")
		if end < 0 {
			return out, nil
		}
		placeholder := out[start : start+end+1]
		field := placeholder[len("[participant.") : len(placeholder)-1]
		var value string
		if field == "phone" {
			value = p.Phone
		} else {
			v, ok := p.LabelValue(field)
			if !ok {
				return "", fmt.Errorf("%w: label %q for %s", models.ErrMissingData, field, p.Phone)
			}
			value = v
		}
		out = out[:start] + value + out[start+end+1:]
	}
}
