// Package jobs runs scheduled background maintenance: sweeping
// expired stock reservations and purging long-deactivated accounts.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/stocklane/stocklane/pkg/config"
	"github.com/stocklane/stocklane/pkg/observability"
)

// ReservationSweeper releases reservations whose hold has expired.
type ReservationSweeper interface {
	ReleaseExpired(ctx context.Context) (int64, error)
}

// UserPurger deletes accounts deactivated longer ago than the
// retention window.
type UserPurger interface {
	PurgeDeactivated(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Scheduler wraps a cron runner around the maintenance jobs. Either
// dependency may be nil, in which case its job is not registered.
type Scheduler struct {
	cron         *cron.Cron
	cfg          config.JobsConfig
	reservations ReservationSweeper
	users        UserPurger
	log          *logrus.Logger
	metrics      *observability.Metrics
	jobTimeout   time.Duration
}

// NewScheduler creates a scheduler. log may be nil; metrics may be
// nil.
func NewScheduler(cfg config.JobsConfig, reservations ReservationSweeper, users UserPurger, log *logrus.Logger, metrics *observability.Metrics) *Scheduler {
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{
		cron:         cron.New(),
		cfg:          cfg,
		reservations: reservations,
		users:        users,
		log:          log,
		metrics:      metrics,
		jobTimeout:   time.Minute,
	}
}

// Start registers the configured jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	if s.reservations != nil {
		if _, err := s.cron.AddFunc(s.cfg.ReservationSweepSchedule, s.sweepReservations); err != nil {
			return err
		}
		s.log.WithField("schedule", s.cfg.ReservationSweepSchedule).Info("scheduled reservation sweep")
	}
	if s.users != nil {
		if _, err := s.cron.AddFunc(s.cfg.UserPurgeSchedule, s.purgeUsers); err != nil {
			return err
		}
		s.log.WithField("schedule", s.cfg.UserPurgeSchedule).Info("scheduled user purge")
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) sweepReservations() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	released, err := s.reservations.ReleaseExpired(ctx)
	if err != nil {
		s.log.WithError(err).Error("reservation sweep failed")
		s.countRun("reservation_sweep", "error")
		return
	}
	if released > 0 {
		s.log.WithField("released", released).Info("released expired reservations")
	}
	s.countRun("reservation_sweep", "ok")
}

func (s *Scheduler) purgeUsers() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	purged, err := s.users.PurgeDeactivated(ctx, s.cfg.UserPurgeRetention)
	if err != nil {
		s.log.WithError(err).Error("user purge failed")
		s.countRun("user_purge", "error")
		return
	}
	if purged > 0 {
		s.log.WithField("purged", purged).Info("purged deactivated users")
	}
	s.countRun("user_purge", "ok")
}

func (s *Scheduler) countRun(job, outcome string) {
	if s.metrics != nil {
		s.metrics.JobRunsTotal.WithLabelValues(job, outcome).Inc()
	}
}
