package models

import (
	"testing"
	"time"
)

func TestUpgradeParticipantFromLegacy(t *testing.T) {
	raw := Raw{
		"phone":      "+256700000001",
		"session-id": "abc",
	}
	p, err := ParticipantFromRaw(raw)
	if err != nil {
		t.Fatalf("Expected legacy participant to upgrade, got %v", err)
	}
	if p.ModelVersion != ParticipantModelVersion {
		t.Errorf("Expected model version %s, got %s", ParticipantModelVersion, p.ModelVersion)
	}
	if p.Tags == nil {
		t.Error("Expected upgrade to add empty tags")
	}
}

func TestUpgradeIsIdempotentAtCurrentVersion(t *testing.T) {
	p := NewParticipant("+256700000001", "session-1", time.Now().UTC())
	raw, err := ToRaw(p)
	if err != nil {
		t.Fatalf("ToRaw failed: %v", err)
	}
	again, err := ParticipantFromRaw(raw)
	if err != nil {
		t.Fatalf("Expected current-version document to pass unchanged, got %v", err)
	}
	if again.ModelVersion != ParticipantModelVersion {
		t.Errorf("Expected model version unchanged, got %s", again.ModelVersion)
	}
	if again.Phone != p.Phone || again.SessionID != p.SessionID {
		t.Errorf("Round trip changed participant: %+v", again)
	}
}

func TestUpgradeUnknownVersionFails(t *testing.T) {
	raw := Raw{"phone": "+256700000001", "object-type": ObjectTypeParticipant, "model-version": "99"}
	if _, err := ParticipantFromRaw(raw); err == nil {
		t.Error("Expected unknown model version to fail upgrade")
	}
}

func TestToRawRoundTripPreservesFields(t *testing.T) {
	now := time.Date(2015, 6, 1, 10, 0, 0, 0, time.UTC)
	p := NewParticipant("+256700000002", "session-2", now)
	p.AddTag("cohort-a")
	p.SetProfile("name", "olivier", "name olivier")
	p.Enroll("dialogue-1", now)

	raw, err := ToRaw(p)
	if err != nil {
		t.Fatalf("ToRaw failed: %v", err)
	}
	q, err := ParticipantFromRaw(raw)
	if err != nil {
		t.Fatalf("ParticipantFromRaw failed: %v", err)
	}
	if !q.HasTag("cohort-a") {
		t.Error("Expected tag to survive round trip")
	}
	if v, ok := q.LabelValue("name"); !ok || v != "olivier" {
		t.Errorf("Expected profile entry to survive round trip, got %q", v)
	}
	if !q.IsEnrolled("dialogue-1") {
		t.Error("Expected enrollment to survive round trip")
	}
}

func TestScheduleUpgradeAddsSessionID(t *testing.T) {
	raw := Raw{
		"object-type":       ObjectTypeDialogueSchedule,
		"model-version":     "1",
		"date-time":         time.Now().UTC(),
		"participant-phone": "+256700000001",
		"dialogue-id":       "d1",
		"interaction-id":    "i1",
	}
	sched, err := ScheduleFromRaw(raw)
	if err != nil {
		t.Fatalf("Expected v1 schedule to upgrade, got %v", err)
	}
	if sched.ParticipantSessionID != "" {
		t.Errorf("Expected empty session id after upgrade, got %q", sched.ParticipantSessionID)
	}
	if sched.ModelVersion != ScheduleModelVersion {
		t.Errorf("Expected model version %s, got %s", ScheduleModelVersion, sched.ModelVersion)
	}
}
