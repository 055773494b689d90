// ABOUTME: Per-lane bounded concurrency scheduler with FIFO admission queues.
// ABOUTME: Submit is the sole admission point; limit changes only affect future admissions.

package lanes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Built-in lane names. Limits are configuration-driven; these are the
// classes of work the gateway schedules out of the box.
const (
	LaneMain     = "main"
	LaneCron     = "cron"
	LaneSubagent = "subagent"
)

// Unbounded disables the concurrency limit for a lane.
const Unbounded = 0

// Task is a unit of work admitted through a lane. It receives the context
// passed to Submit and must honor its cancellation.
type Task func(ctx context.Context) error

// Observer is notified after every lane state change. Used to export lane
// occupancy as metrics without coupling the scheduler to a metrics library.
type Observer func(lane string, active, queued int)

// waiting is a queued admission: the task plus everything needed to start it.
type waiting struct {
	ctx    context.Context
	task   Task
	result chan error
}

// lane holds the admission state for one named work class.
type lane struct {
	name   string
	max    int // Unbounded means no limit
	active int
	queue  []*waiting // FIFO, oldest first
}

// Scheduler bounds concurrent execution per named lane. Lanes are created
// on first use with an unbounded limit unless configured beforehand.
type Scheduler struct {
	mu       sync.Mutex
	lanes    map[string]*lane
	observer Observer
	logger   *slog.Logger
}

// LaneStats is a point-in-time view of one lane.
type LaneStats struct {
	Name           string `json:"name"`
	MaxConcurrency int    `json:"maxConcurrency"`
	Active         int    `json:"active"`
	Queued         int    `json:"queued"`
}

// NewScheduler creates a scheduler. Pass nil logger for default.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		lanes:  make(map[string]*lane),
		logger: logger.With("component", "lane-scheduler"),
	}
}

// SetObserver installs the lane change observer. Must be called before any
// Submit; not safe to change while tasks are running.
func (s *Scheduler) SetObserver(obs Observer) {
	s.observer = obs
}

// Configure sets a lane's concurrency limit, creating the lane if needed.
// The new limit applies to future admission decisions only: running tasks
// are never paused or preempted, and an over-limit lane simply admits
// nothing new until enough tasks finish.
func (s *Scheduler) Configure(name string, maxConcurrency int) {
	if maxConcurrency < 0 {
		maxConcurrency = Unbounded
	}

	s.mu.Lock()
	l := s.laneLocked(name)
	l.max = maxConcurrency
	s.logger.Info("lane configured", "lane", name, "max_concurrency", maxConcurrency)
	// A raised limit may unblock queued work immediately.
	started := s.drainLocked(l)
	s.notifyLocked(l)
	s.mu.Unlock()

	for _, w := range started {
		go s.run(l, w)
	}
}

// Submit admits a task into a lane and returns a channel carrying the
// task's eventual result. If the lane has a free slot the task starts
// immediately; otherwise it joins the lane's FIFO queue.
func (s *Scheduler) Submit(ctx context.Context, laneName string, task Task) <-chan error {
	w := &waiting{ctx: ctx, task: task, result: make(chan error, 1)}

	s.mu.Lock()
	l := s.laneLocked(laneName)
	if l.max == Unbounded || l.active < l.max {
		l.active++
		s.notifyLocked(l)
		s.mu.Unlock()
		go s.run(l, w)
		return w.result
	}

	l.queue = append(l.queue, w)
	s.logger.Debug("task queued", "lane", laneName, "queued", len(l.queue))
	s.notifyLocked(l)
	s.mu.Unlock()
	return w.result
}

// Stats returns a snapshot of every known lane.
func (s *Scheduler) Stats() []LaneStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]LaneStats, 0, len(s.lanes))
	for _, l := range s.lanes {
		stats = append(stats, LaneStats{
			Name:           l.name,
			MaxConcurrency: l.max,
			Active:         l.active,
			Queued:         len(l.queue),
		})
	}
	return stats
}

// run executes one admitted task and then releases its slot, starting the
// next queued task in submission order if one fits.
func (s *Scheduler) run(l *lane, w *waiting) {
	w.result <- s.execute(w)

	s.mu.Lock()
	l.active--
	started := s.drainLocked(l)
	s.notifyLocked(l)
	s.mu.Unlock()

	for _, next := range started {
		go s.run(l, next)
	}
}

// execute runs the task, converting a panic into an error so the lane slot
// is always released and the caller always receives a result.
func (s *Scheduler) execute(w *waiting) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "panic", r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return w.task(w.ctx)
}

// drainLocked pops queued tasks while slots are free, marking them active.
// Must be called with mu held; the caller starts the returned tasks after
// releasing the lock.
func (s *Scheduler) drainLocked(l *lane) []*waiting {
	var started []*waiting
	for len(l.queue) > 0 && (l.max == Unbounded || l.active < l.max) {
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.active++
		started = append(started, next)
	}
	return started
}

// laneLocked returns the lane, creating it unbounded if unknown.
// Must be called with mu held.
func (s *Scheduler) laneLocked(name string) *lane {
	l, ok := s.lanes[name]
	if !ok {
		l = &lane{name: name, max: Unbounded}
		s.lanes[name] = l
	}
	return l
}

// notifyLocked reports the lane's state to the observer. Must be called
// with mu held.
func (s *Scheduler) notifyLocked(l *lane) {
	if s.observer != nil {
		s.observer(l.name, l.active, len(l.queue))
	}
}
