// Package scheduler provides the periodic tick source for tenant workers.
//
// Each worker registers one job that drains its due schedules; robfig/cron
// drives the cadence and recovers panicking jobs.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// DefaultTickSpec fires once a minute, the worker tick cadence.
const DefaultTickSpec = "* * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns the job id and an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) (cron.EntryID, error) {
	return s.cron.AddFunc(expr, task)
}

// RemoveJob cancels a scheduled job.
func (s *Scheduler) RemoveJob(id cron.EntryID) {
	s.cron.Remove(id)
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
