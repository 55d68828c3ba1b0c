package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if _, err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerAddJobInvalidSpec(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if _, err := s.AddJob("not a cron spec", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestSchedulerRemoveJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	id, err := s.AddJob("* * * * *", func() {})
	if err != nil {
		t.Fatalf("Expected no error adding job, got %v", err)
	}
	s.RemoveJob(id)
}
