// Package schedule applies property writes to the capture backend on cron
// schedules, such as taking a photo every five minutes.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/logging"
)

// Entry pairs a cron spec with property writes. Spec accepts the standard
// five-field syntax and descriptors such as "@every 5m" or "@hourly".
type Entry struct {
	Name       string
	Spec       string
	Properties map[string]capture.Value
}

// Target receives the scheduled writes. *host.Host implements it.
type Target interface {
	SetProperties(props map[string]capture.Value, source string) error
}

// Scheduler runs entries against a Target.
type Scheduler struct {
	target Target
	logger *slog.Logger
	parser cron.Parser

	mu      sync.Mutex
	cron    *cron.Cron
	entries []Entry
	started bool
}

// New creates a Scheduler. It does nothing until Start.
func New(target Target, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetLogger("schedule")
	}
	return &Scheduler{
		target: target,
		logger: logger,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cron:   cron.New(),
	}
}

// Validate checks every entry's spec and property list.
func (s *Scheduler) Validate(entries []Entry) error {
	var errs []error
	for i, e := range entries {
		if _, err := s.parser.Parse(e.Spec); err != nil {
			errs = append(errs, fmt.Errorf("schedule %d (%s): %w", i, e.label(), err))
		}
		if len(e.Properties) == 0 {
			errs = append(errs, fmt.Errorf("schedule %d (%s): no properties", i, e.label()))
		}
	}
	return errors.Join(errs...)
}

// Replace swaps the scheduled entries. Nothing changes if any entry is
// invalid.
func (s *Scheduler) Replace(entries []Entry) error {
	if err := s.Validate(entries); err != nil {
		return err
	}

	next := cron.New(cron.WithParser(s.parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	for _, e := range entries {
		if _, err := next.AddFunc(e.Spec, s.job(e)); err != nil {
			return fmt.Errorf("schedule %s: %w", e.label(), err)
		}
	}

	s.mu.Lock()
	prev, started := s.cron, s.started
	s.cron = next
	s.entries = append([]Entry(nil), entries...)
	if started {
		next.Start()
	}
	s.mu.Unlock()

	if started {
		<-prev.Stop().Done()
	}
	s.logger.Info("Schedules loaded", "count", len(entries))
	return nil
}

// Entries returns the scheduled entries.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Start begins running entries on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.started = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) job(e Entry) func() {
	source := "schedule:" + e.label()
	return func() {
		s.logger.Debug("Running schedule", "name", e.label(), "properties", len(e.Properties))
		if err := s.target.SetProperties(e.Properties, source); err != nil {
			s.logger.Warn("Scheduled write dropped", "name", e.label(), "error", err)
		}
	}
}

func (e Entry) label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Spec
}
