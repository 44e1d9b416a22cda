package scratch

import (
	"sync"
	"time"
)

// DefaultGrace is how long a delivered artifact is kept before deletion.
const DefaultGrace = 60 * time.Second

// Scheduler deletes scratch files after a delay.
type Scheduler struct {
	dir *Dir

	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

// NewScheduler creates a scheduler that deletes files from dir.
func NewScheduler(dir *Dir) *Scheduler {
	return &Scheduler{
		dir:   dir,
		tasks: make(map[*Task]struct{}),
	}
}

// Task is a pending deletion of one scratch file.
type Task struct {
	name     string
	deadline time.Time
	sched    *Scheduler

	timer *time.Timer
	once  sync.Once
	done  chan struct{}
}

// Schedule removes name after delay. Deletion errors are swallowed: the file
// may already be gone. After Close, files are removed immediately.
func (s *Scheduler) Schedule(name string, delay time.Duration) *Task {
	t := &Task{
		name:     name,
		deadline: time.Now().Add(delay),
		sched:    s,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.finish(true)
		return t
	}
	s.tasks[t] = struct{}{}
	t.timer = time.AfterFunc(delay, t.fire)
	s.mu.Unlock()

	return t
}

// Pending returns the number of deletions that have not run yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close removes every pending file now and waits for running deletions.
// Later calls to Schedule delete immediately.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	pending := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		pending = append(pending, t)
	}
	clear(s.tasks)
	s.mu.Unlock()

	for _, t := range pending {
		if t.timer.Stop() {
			t.finish(true)
		}
		<-t.done
	}
}

func (s *Scheduler) forget(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t)
	s.mu.Unlock()
}

// Name returns the scratch file the task deletes.
func (t *Task) Name() string {
	return t.name
}

// Deadline returns the earliest time the file is deleted.
func (t *Task) Deadline() time.Time {
	return t.deadline
}

// Done is closed once the task has run or been cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel stops the deletion and leaves the file in place. It returns false if
// the deletion already ran or is running.
func (t *Task) Cancel() bool {
	if t.timer == nil || !t.timer.Stop() {
		return false
	}
	t.sched.forget(t)
	t.finish(false)
	return true
}

func (t *Task) fire() {
	t.sched.forget(t)
	t.finish(true)
}

func (t *Task) finish(remove bool) {
	t.once.Do(func() {
		if remove {
			t.sched.dir.discard(t.name)
		}
		close(t.done)
	})
}
