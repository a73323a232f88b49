// Package sched triggers backups on a daily schedule when the frequency mode
// is "daily". Session-end and manual triggers do not go through here.
package sched

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"chartbak/internal/engine"
)

// Scheduler runs one backup occurrence per day at the configured local time.
type Scheduler struct {
	coord  *engine.Coordinator
	logger engine.Logger
	cron   *cron.Cron
}

// New creates a Scheduler firing daily at dailyAt ("HH:MM").
func New(coord *engine.Coordinator, logger engine.Logger, dailyAt string) (*Scheduler, error) {
	spec, err := cronSpec(dailyAt)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		coord:  coord,
		logger: logger,
		cron:   cron.New(),
	}

	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("registering schedule: %w", err)
	}
	return s, nil
}

// Start begins firing. Returns immediately; jobs run on the cron goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("daily backup schedule active")
	s.cron.Start()
}

// Stop stops the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) fire() {
	// Scheduled occurrences are independent: a failure is logged and the
	// next day's run is the retry.
	if _, err := s.coord.Execute(context.Background(), "daily", false); err != nil {
		s.logger.Error("daily backup failed", "error", err)
	}
}

// cronSpec converts "HH:MM" into a daily cron expression.
func cronSpec(dailyAt string) (string, error) {
	parts := strings.SplitN(dailyAt, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid daily_at %q: want HH:MM", dailyAt)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid daily_at %q: %w", dailyAt, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid daily_at %q: %w", dailyAt, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid daily_at %q: out of range", dailyAt)
	}

	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
