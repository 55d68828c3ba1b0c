package templates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/store"
)

func TestRenderSubstitutesParticipantFields(t *testing.T) {
	p := models.NewParticipant("+256700000001", "s1", time.Now().UTC())
	p.SetProfile("name", "Olivier", "")

	out, err := Render("Hello [participant.name], your number is [participant.phone].", p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "Hello Olivier, your number is +256700000001."
	if out != want {
		t.Errorf("Expected %q, got %q", want, out)
	}
}

func TestRenderMissingLabelFails(t *testing.T) {
	p := models.NewParticipant("+256700000001", "s1", time.Now().UTC())
	_, err := Render("Hello [participant.name]", p)
	if !errors.Is(err, models.ErrMissingData) {
		t.Errorf("Expected ErrMissingData for missing label, got %v", err)
	}
}

func TestRenderWithoutPlaceholders(t *testing.T) {
	p := models.NewParticipant("+256700000001", "s1", time.Now().UTC())
	out, err := Render("No placeholders here.", p)
	if err != nil || out != "No placeholders here." {
		t.Errorf("Expected passthrough, got %q (%v)", out, err)
	}
}

func TestStoreLookupMissingTemplate(t *testing.T) {
	lookup := &StoreLookup{Store: store.NewMemoryTenantStore()}
	_, err := lookup.Get(context.Background(), "no-such-template")
	if !errors.Is(err, ErrMissingTemplate) {
		t.Errorf("Expected ErrMissingTemplate, got %v", err)
	}
}

func TestStoreLookupFindsTemplate(t *testing.T) {
	s := store.NewMemoryTenantStore()
	tmpl := &models.Template{
		Meta:       models.Meta{ObjectType: models.ObjectTypeTemplate, ModelVersion: "1"},
		TemplateID: "open-question",
		Template:   "[question] Reply with [keyword] and your answer.",
	}
	raw, err := models.ToRaw(tmpl)
	if err != nil {
		t.Fatalf("ToRaw failed: %v", err)
	}
	if _, err := s.Templates.Save(context.Background(), raw); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := (&StoreLookup{Store: s}).Get(context.Background(), "open-question")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != tmpl.Template {
		t.Errorf("Expected %q, got %q", tmpl.Template, got)
	}
}
