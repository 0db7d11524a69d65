// Package retention prunes old checkpoints on a cron schedule while the
// server is running.
package retention

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner applies the retention policy to every document and reports how
// many checkpoints each lost.
type Pruner interface {
	PruneAll() (map[string]int, error)
}

// Scheduler runs a Pruner on a cron schedule.
type Scheduler struct {
	pruner   Pruner
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	started bool
}

// New validates schedule (standard five-field cron or a descriptor such as
// "@daily") and returns a stopped Scheduler.
func New(pruner Pruner, schedule string) (*Scheduler, error) {
	schedule = strings.TrimSpace(schedule)
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	logger := cron.VerbosePrintfLogger(log.New(os.Stderr, "retention: ", log.LstdFlags))
	return &Scheduler{
		pruner:   pruner,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
	}, nil
}

// Start schedules pruning and stops it again when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	id, err := s.cron.AddFunc(s.schedule, func() { _, _ = s.RunOnce() })
	if err != nil {
		return fmt.Errorf("scheduling retention: %w", err)
	}
	s.entry = id
	s.cron.Start()
	s.started = true

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cron.Remove(s.entry)
	done := s.cron.Stop()
	s.mu.Unlock()
	<-done.Done()
}

// Next returns when the next prune is due, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// RunOnce prunes immediately.
func (s *Scheduler) RunOnce() (map[string]int, error) {
	pruned, err := s.pruner.PruneAll()
	if err != nil {
		log.Printf("WARNING: retention: %v", err)
	}
	if len(pruned) > 0 {
		ids := make([]string, 0, len(pruned))
		for id := range pruned {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprintf("%s=%d", id, pruned[id])
		}
		log.Printf("retention: pruned checkpoints %s", strings.Join(parts, " "))
	}
	return pruned, err
}
