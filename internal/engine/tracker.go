package engine

import (
	"errors"
	"log/slog"
	"sync"
	"syscall"
)

// Tracker records every live process group by job so that a single job or
// everything can be killed at any time, including from outside the worker.
type Tracker struct {
	mu     sync.Mutex
	groups map[string]map[int]struct{}
	killed map[string]bool
	count  int
	closed bool

	logger   *slog.Logger
	onChange func(active int)
}

// NewTracker creates a Tracker. onChange, if set, is called with the number
// of live groups after every change.
func NewTracker(logger *slog.Logger, onChange func(active int)) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		groups:   make(map[string]map[int]struct{}),
		killed:   make(map[string]bool),
		logger:   logger,
		onChange: onChange,
	}
}

// add registers a started group. After KillAll the group is killed on
// arrival, so a child that started before KillAll but registered after it
// cannot survive.
func (t *Tracker) add(jobID string, pgid int) {
	t.mu.Lock()
	g, ok := t.groups[jobID]
	if !ok {
		g = make(map[int]struct{})
		t.groups[jobID] = g
	}
	g[pgid] = struct{}{}
	t.count++
	n := t.count
	closed := t.closed
	if closed {
		t.killed[jobID] = true
	}
	t.mu.Unlock()
	t.notify(n)

	if closed {
		if err := killGroup(pgid); err != nil {
			t.logger.Warn("kill_failed", "job_id", jobID, "pgid", pgid, "error", err)
		}
	}
}

func (t *Tracker) remove(jobID string, pgid int) {
	t.mu.Lock()
	if g, ok := t.groups[jobID]; ok {
		if _, ok := g[pgid]; ok {
			delete(g, pgid)
			t.count--
		}
		if len(g) == 0 {
			delete(t.groups, jobID)
		}
	}
	n := t.count
	t.mu.Unlock()
	t.notify(n)
}

// finish reports whether jobID was killed and forgets it.
func (t *Tracker) finish(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.killed[jobID]
	delete(t.killed, jobID)
	return k
}

func (t *Tracker) notify(n int) {
	if t.onChange != nil {
		t.onChange(n)
	}
}

// Kill sends SIGKILL to every group of jobID and returns how many were
// signalled.
func (t *Tracker) Kill(jobID string) int {
	t.mu.Lock()
	pgids := make([]int, 0, len(t.groups[jobID]))
	for pgid := range t.groups[jobID] {
		pgids = append(pgids, pgid)
	}
	if len(pgids) > 0 {
		t.killed[jobID] = true
	}
	t.mu.Unlock()

	for _, pgid := range pgids {
		if err := killGroup(pgid); err != nil {
			t.logger.Warn("kill_failed", "job_id", jobID, "pgid", pgid, "error", err)
		}
	}
	return len(pgids)
}

// KillAll sends SIGKILL to every tracked group and to any group added
// afterwards.
func (t *Tracker) KillAll() int {
	t.mu.Lock()
	t.closed = true
	jobs := make([]string, 0, len(t.groups))
	for id := range t.groups {
		jobs = append(jobs, id)
	}
	t.mu.Unlock()

	n := 0
	for _, id := range jobs {
		n += t.Kill(id)
	}
	if n > 0 {
		t.logger.Info("killed_all", "groups", n)
	}
	return n
}

// Len returns the number of live process groups.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// killGroup SIGKILLs a whole process group. A group that already exited is
// not an error.
func killGroup(pgid int) error {
	if pgid <= 0 {
		return nil
	}
	err := syscall.Kill(-pgid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
