package service

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"listingsync/internal/metrics"
)

// Task is a named long-running function run under a Supervisor.
// Returning nil means the task is done; returning an error or panicking
// while the context is live gets it restarted.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Task states.
const (
	TaskRunning    = "running"
	TaskRestarting = "restarting"
	TaskCompleted  = "completed"
	TaskStopped    = "stopped"
)

// TaskStatus is the observable state of one task.
type TaskStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Supervisor runs tasks in isolation: a failing task is restarted after a
// delay and never affects the others.
type Supervisor struct {
	restartDelay time.Duration
	metrics      *metrics.Metrics

	wg     sync.WaitGroup
	mu     sync.Mutex
	status map[string]*TaskStatus
}

// NewSupervisor creates a supervisor.
func NewSupervisor(restartDelay time.Duration, m *metrics.Metrics) *Supervisor {
	if restartDelay <= 0 {
		restartDelay = 5 * time.Second
	}
	return &Supervisor{
		restartDelay: restartDelay,
		metrics:      m,
		status:       make(map[string]*TaskStatus),
	}
}

// Go starts task in its own goroutine.
func (s *Supervisor) Go(ctx context.Context, task Task) {
	s.mu.Lock()
	st := &TaskStatus{Name: task.Name}
	s.status[task.Name] = st
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, task)
	}()
}

func (s *Supervisor) supervise(ctx context.Context, task Task) {
	for {
		s.update(task.Name, func(st *TaskStatus) {
			st.State = TaskRunning
			st.StartedAt = time.Now()
		})

		err := runGuarded(ctx, task)

		if ctx.Err() != nil {
			s.update(task.Name, func(st *TaskStatus) { st.State = TaskStopped })
			return
		}
		if err == nil {
			log.Printf("[Supervisor] Task %s completed", task.Name)
			s.update(task.Name, func(st *TaskStatus) { st.State = TaskCompleted })
			return
		}

		log.Printf("[Supervisor] Task %s failed: %v (restarting in %v)", task.Name, err, s.restartDelay)
		s.metrics.TaskRestart(task.Name)
		s.update(task.Name, func(st *TaskStatus) {
			st.State = TaskRestarting
			st.Restarts++
			st.LastError = err.Error()
		})

		if sleepCtx(ctx, s.restartDelay) != nil {
			s.update(task.Name, func(st *TaskStatus) { st.State = TaskStopped })
			return
		}
	}
}

func runGuarded(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Supervisor] PANIC in %s: %v\n%s", task.Name, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}

func (s *Supervisor) update(name string, fn func(st *TaskStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[name]; ok {
		fn(st)
	}
}

// Status returns a snapshot of every task, sorted by name.
func (s *Supervisor) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Wait blocks until every task has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
