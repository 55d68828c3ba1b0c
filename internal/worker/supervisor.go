package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/texttochange/vusion-backend-sub000/internal/messaging"
)

// Control message actions consumed from the control topic.
const (
	ControlAddWorker    = "add_worker"
	ControlRemoveWorker = "remove_worker"
)

// ControlMessage is one supervisor command.
type ControlMessage struct {
	Action     string `json:"action"`
	WorkerName string `json:"worker-name"`
}

// Factory builds a tenant worker by name; the supervisor owns its lifecycle.
type Factory func(ctx context.Context, name string) (*Worker, error)

// Supervisor keeps the set of running tenant workers and applies control
// commands. Adding an existing name restarts it with fresh configuration;
// removing an absent name is a no-op. Both are idempotent so control
// messages can be redelivered safely.
type Supervisor struct {
	factory Factory
	broker  messaging.Broker
	topic   string

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewSupervisor creates a supervisor consuming the given control topic.
func NewSupervisor(factory Factory, broker messaging.Broker, controlTopic string) *Supervisor {
	return &Supervisor{
		factory: factory,
		broker:  broker,
		topic:   controlTopic,
		workers: make(map[string]*Worker),
	}
}

// AddWorker builds and starts the named worker. An already-running worker
// with the same name is stopped and replaced.
func (s *Supervisor) AddWorker(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("worker name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.workers[name]; ok {
		slog.Info("Supervisor.AddWorker: restarting existing worker", "worker", name)
		old.Stop()
		delete(s.workers, name)
	}
	w, err := s.factory(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to build worker %s: %w", name, err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker %s: %w", name, err)
	}
	s.workers[name] = w
	return nil
}

// RemoveWorker stops and forgets the named worker; absent names are no-ops.
func (s *Supervisor) RemoveWorker(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok {
		slog.Debug("Supervisor.RemoveWorker: no such worker", "worker", name)
		return
	}
	w.Stop()
	delete(s.workers, name)
}

// Worker returns a running worker by name.
func (s *Supervisor) Worker(name string) (*Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	return w, ok
}

// Names returns the names of the running workers.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workers))
	for name := range s.workers {
		out = append(out, name)
	}
	return out
}

// Run consumes the control topic until the context is canceled or the
// broker closes. Malformed commands are logged and dropped.
func (s *Supervisor) Run(ctx context.Context) error {
	stream, err := s.broker.Consume(s.topic)
	if err != nil {
		return fmt.Errorf("failed to consume control topic %s: %w", s.topic, err)
	}
	slog.Info("Supervisor consuming control topic", "topic", s.topic)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-stream:
			if !ok {
				return nil
			}
			s.handleControl(ctx, payload)
		}
	}
}

func (s *Supervisor) handleControl(ctx context.Context, payload []byte) {
	var cmd ControlMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("Supervisor: malformed control message", "error", err)
		return
	}
	switch cmd.Action {
	case ControlAddWorker:
		if err := s.AddWorker(ctx, cmd.WorkerName); err != nil {
			slog.Error("Supervisor: add_worker failed", "error", err, "worker", cmd.WorkerName)
		}
	case ControlRemoveWorker:
		s.RemoveWorker(cmd.WorkerName)
	default:
		slog.Warn("Supervisor: unknown control action", "action", cmd.Action)
	}
}

// StopAll stops every running worker, used at shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, w := range s.workers {
		w.Stop()
		delete(s.workers, name)
	}
}
