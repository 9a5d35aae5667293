package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"standup_attendance_service/internal/app" // For SessionService interface
)

// SessionScheduler drives the two time-based entry points of the core: the
// activation trigger (SCHEDULED sessions whose time has come) and the timeout
// watcher (ACTIVE sessions past their grace-period deadline). Both ticks may
// fire redundantly; activation and finalize are idempotent by construction.
type SessionScheduler struct {
	cronEngine         *cron.Cron
	sessionService     app.SessionService // Using the interface
	log                *logrus.Logger
	cronSpecActivation string
	cronSpecTimeout    string
}

func NewSessionScheduler(
	sessionService app.SessionService,
	log *logrus.Logger,
	cronSpecActivation string, // e.g., "* * * * *" (every minute)
	cronSpecTimeout string, // e.g., "* * * * *" (every minute)
) *SessionScheduler {
	return &SessionScheduler{
		cronEngine:         cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		sessionService:     sessionService,
		log:                log,
		cronSpecActivation: cronSpecActivation,
		cronSpecTimeout:    cronSpecTimeout,
	}
}

func (s *SessionScheduler) Start() {
	s.log.Info("Starting session scheduler...")

	// Activation trigger: bring sessions into the ACTIVE window.
	_, err := s.cronEngine.AddFunc(s.cronSpecActivation, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		if err := s.sessionService.ActivateDue(ctx, time.Now()); err != nil {
			s.log.Errorf("Error during due-session activation: %v", err)
		}
	})
	if err != nil {
		s.log.Fatalf("Could not add activation cron job: %v", err)
	}

	// Timeout watcher: auto-close sessions nobody stopped manually.
	_, err = s.cronEngine.AddFunc(s.cronSpecTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		if err := s.sessionService.FinalizeOverdue(ctx, time.Now()); err != nil {
			s.log.Errorf("Error during overdue-session finalization: %v", err)
		}
	})
	if err != nil {
		s.log.Fatalf("Could not add timeout watcher cron job: %v", err)
	}

	s.cronEngine.Start()
	s.log.Info("Session scheduler started with jobs.")
}

func (s *SessionScheduler) Stop() {
	s.log.Info("Stopping session scheduler...")
	ctx := s.cronEngine.Stop() // Stops new job starts, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.log.Info("Session scheduler gracefully stopped.")
}
