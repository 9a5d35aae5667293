package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"standup_attendance_service/internal/domain/ledger"
	"standup_attendance_service/internal/domain/notify"
	"standup_attendance_service/internal/domain/roster"
	"standup_attendance_service/internal/domain/session"
	idb "standup_attendance_service/internal/infra/database"
)

// Application-level errors surfaced to operators. None of these are retried
// automatically: they indicate a caller/state mismatch that needs a local fix.
var (
	ErrInvalidTransition  = fmt.Errorf("invalid session state transition")
	ErrActivationTooEarly = fmt.Errorf("session cannot be activated before its scheduled time")
	ErrEmptyReason        = fmt.Errorf("a non-empty reason is required for NOT_AVAILABLE")
	ErrRosterUnavailable  = fmt.Errorf("roster provider unavailable")
)

// SessionService defines the operations of the daily standup session core:
// the lifecycle state machine, the concurrent mutation gateway for attendance
// marks, and the finalize/commit engine.
type SessionService interface {
	// Schedule creates the session for the given day, or moves its scheduled
	// time while it is still SCHEDULED.
	Schedule(ctx context.Context, key session.Key, at time.Time, operator string) (*session.Session, error)
	// Activate transitions SCHEDULED -> ACTIVE once the scheduled time has
	// passed. Activating an already-active session is a no-op.
	Activate(ctx context.Context, key session.Key, now time.Time) (*session.Session, error)
	// Query returns a read-only snapshot of the session and its marks.
	Query(ctx context.Context, key session.Key) (*session.Snapshot, error)

	// SetStatus records one participant's attendance mark while the session
	// is active. NOT_AVAILABLE must go through SetUnavailable instead.
	SetStatus(ctx context.Context, key session.Key, participantID int64, status session.AttendanceStatus, operator string) error
	// SetUnavailable records a NOT_AVAILABLE mark together with its reason.
	SetUnavailable(ctx context.Context, key session.Key, participantID int64, reason, operator string) error

	// Stop finalizes the session: it closes the attendance window and
	// materializes the permanent ledger, exactly once. A repeated or racing
	// Stop returns the already-committed result.
	Stop(ctx context.Context, key session.Key, operator string) (*session.FinalizeResult, error)
	// Records returns the finalized attendance ledger for a session.
	Records(ctx context.Context, key session.Key) ([]*ledger.Record, error)

	// ActivateDue activates every SCHEDULED session whose time has come.
	// Invoked by the scheduler tick.
	ActivateDue(ctx context.Context, now time.Time) error
	// FinalizeOverdue auto-closes every ACTIVE session past its grace-period
	// deadline. Invoked by the timeout watcher tick; redundant firing is
	// harmless because finalize is CAS-guarded.
	FinalizeOverdue(ctx context.Context, now time.Time) error
}

// SessionServiceImpl implements SessionService on top of the Postgres-backed
// repositories.
type SessionServiceImpl struct {
	sessionRepo session.Repository
	rosterRepo  roster.Repository
	ledgerRepo  ledger.Repository
	notifier    notify.Notifier
	log         *logrus.Logger
	gracePeriod time.Duration

	// now is swappable so lifecycle deadlines are testable with fixed clocks.
	now func() time.Time
}

func NewSessionServiceImpl(
	sr session.Repository,
	rr roster.Repository,
	lr ledger.Repository,
	n notify.Notifier,
	log *logrus.Logger,
	gracePeriod time.Duration,
) *SessionServiceImpl {
	return &SessionServiceImpl{
		sessionRepo: sr,
		rosterRepo:  rr,
		ledgerRepo:  lr,
		notifier:    n,
		log:         log,
		gracePeriod: gracePeriod,
		now:         time.Now,
	}
}

func (s *SessionServiceImpl) Schedule(ctx context.Context, key session.Key, at time.Time, operator string) (*session.Session, error) {
	existing, err := s.sessionRepo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, idb.ErrSessionNotFound) {
			newSession := &session.Session{
				Key:           key,
				Status:        session.StatusScheduled,
				ScheduledTime: at,
				ScheduledBy:   operator,
			}
			if err := s.sessionRepo.Create(ctx, newSession); err != nil {
				return nil, fmt.Errorf("failed to create session %s: %w", key, err)
			}
			s.log.Infof("Session %s scheduled for %s by %s", key, at.Format(time.RFC3339), operator)
			return newSession, nil
		}
		return nil, fmt.Errorf("failed to look up session %s: %w", key, err)
	}

	if existing.Status != session.StatusScheduled {
		return nil, fmt.Errorf("session %s is %s: %w", key, existing.Status, ErrInvalidTransition)
	}
	if err := s.sessionRepo.Reschedule(ctx, key, at, operator); err != nil {
		return nil, fmt.Errorf("failed to reschedule session %s: %w", key, err)
	}
	s.log.Infof("Session %s rescheduled to %s by %s", key, at.Format(time.RFC3339), operator)
	existing.ScheduledTime = at
	existing.ScheduledBy = operator
	return existing, nil
}

func (s *SessionServiceImpl) Activate(ctx context.Context, key session.Key, now time.Time) (*session.Session, error) {
	sess, err := s.sessionRepo.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session %s: %w", key, err)
	}

	switch sess.Status {
	case session.StatusActive:
		// Idempotent: the activation trigger may fire more than once.
		s.log.Debugf("Session %s is already active; activation is a no-op", key)
		return sess, nil
	case session.StatusEnded:
		return nil, fmt.Errorf("session %s has already ended: %w", key, ErrInvalidTransition)
	}

	if now.Before(sess.ScheduledTime) {
		return nil, fmt.Errorf("session %s is scheduled for %s: %w", key, sess.ScheduledTime.Format(time.RFC3339), ErrActivationTooEarly)
	}

	won, err := s.sessionRepo.Activate(ctx, key, now)
	if err != nil {
		return nil, fmt.Errorf("failed to activate session %s: %w", key, err)
	}
	sess, err = s.sessionRepo.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read session %s after activation: %w", key, err)
	}
	if !won {
		// Lost the transition race. Active means someone else activated it
		// first (fine); Ended means the window is gone.
		if sess.Status == session.StatusEnded {
			return nil, fmt.Errorf("session %s has already ended: %w", key, ErrInvalidTransition)
		}
		return sess, nil
	}
	s.log.Infof("Session %s activated at %s", key, now.Format(time.RFC3339))

	participants, err := s.rosterRepo.ListActive(ctx)
	if err != nil {
		s.log.Warnf("Could not read roster for activation notice of session %s: %v", key, err)
		return sess, nil
	}
	if err := s.notifier.SessionActivated(key.String(), len(participants)); err != nil {
		s.log.Warnf("Failed to send activation notice for session %s: %v", key, err)
	}
	return sess, nil
}

func (s *SessionServiceImpl) Query(ctx context.Context, key session.Key) (*session.Snapshot, error) {
	sess, err := s.sessionRepo.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session %s: %w", key, err)
	}
	marks, err := s.sessionRepo.ListMarks(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list marks of session %s: %w", key, err)
	}
	return &session.Snapshot{Session: *sess, Marks: marks}, nil
}

func (s *SessionServiceImpl) SetStatus(ctx context.Context, key session.Key, participantID int64, status session.AttendanceStatus, operator string) error {
	if status == session.AttendanceNotAvailable {
		// NOT_AVAILABLE always carries a reason; that path is SetUnavailable.
		return ErrEmptyReason
	}
	mark := &session.Mark{
		SessionKey:    key,
		ParticipantID: participantID,
		Status:        status,
		MarkedBy:      operator,
	}
	if err := s.sessionRepo.UpsertMark(ctx, mark); err != nil {
		return fmt.Errorf("failed to set status of participant %d in session %s: %w", participantID, key, err)
	}
	s.log.Debugf("Session %s: participant %d marked %s by %s", key, participantID, status, operator)
	return nil
}

func (s *SessionServiceImpl) SetUnavailable(ctx context.Context, key session.Key, participantID int64, reason, operator string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrEmptyReason
	}
	mark := &session.Mark{
		SessionKey:    key,
		ParticipantID: participantID,
		Status:        session.AttendanceNotAvailable,
		Reason:        sql.NullString{String: reason, Valid: true},
		MarkedBy:      operator,
	}
	if err := s.sessionRepo.UpsertMark(ctx, mark); err != nil {
		return fmt.Errorf("failed to set participant %d unavailable in session %s: %w", participantID, key, err)
	}
	s.log.Debugf("Session %s: participant %d marked NOT_AVAILABLE by %s", key, participantID, operator)
	return nil
}

func (s *SessionServiceImpl) Stop(ctx context.Context, key session.Key, operator string) (*session.FinalizeResult, error) {
	s.log.Infof("Manual stop of session %s requested by %s", key, operator)
	return s.finalize(ctx, key, s.now(), false)
}

func (s *SessionServiceImpl) Records(ctx context.Context, key session.Key) ([]*ledger.Record, error) {
	records, err := s.ledgerRepo.ListBySession(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance records of session %s: %w", key, err)
	}
	return records, nil
}

// finalize runs the commit algorithm: read the roster snapshot, then let the
// store arbitrate the ACTIVE -> ENDED compare-and-swap and materialize the
// ledger in one transaction. Only the CAS winner sends the closing notice.
func (s *SessionServiceImpl) finalize(ctx context.Context, key session.Key, endedAt time.Time, auto bool) (*session.FinalizeResult, error) {
	participants, err := s.rosterRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRosterUnavailable, err)
	}

	result, err := s.sessionRepo.Finalize(ctx, key, endedAt, participants)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize session %s: %w", key, err)
	}
	if result.AlreadyFinalized {
		s.log.Infof("Session %s was already finalized; returning committed ledger (%d records)", key, len(result.Records))
		return result, nil
	}

	s.log.Infof("Session %s finalized at %s with %d records (auto=%t)", key, endedAt.Format(time.RFC3339), len(result.Records), auto)
	if err := s.notifier.SessionFinalized(key.String(), summarize(result.Records), auto); err != nil {
		s.log.Warnf("Failed to send finalize notice for session %s: %v", key, err)
	}
	return result, nil
}

func (s *SessionServiceImpl) ActivateDue(ctx context.Context, now time.Time) error {
	due, err := s.sessionRepo.ListDueForActivation(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list sessions due for activation: %w", err)
	}
	for _, sess := range due {
		if _, err := s.Activate(ctx, sess.Key, now); err != nil {
			s.log.Errorf("Failed to activate due session %s: %v", sess.Key, err)
		}
	}
	return nil
}

func (s *SessionServiceImpl) FinalizeOverdue(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.gracePeriod)
	overdue, err := s.sessionRepo.ListActiveScheduledBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list overdue sessions: %w", err)
	}
	for _, sess := range overdue {
		s.log.Infof("Session %s passed its deadline %s; auto-closing", sess.Key, sess.Deadline(s.gracePeriod).Format(time.RFC3339))
		if _, err := s.finalize(ctx, sess.Key, now, true); err != nil {
			s.log.Errorf("Failed to auto-close session %s: %v", sess.Key, err)
		}
	}
	return nil
}

func summarize(records []*ledger.Record) notify.FinalizeSummary {
	var sum notify.FinalizeSummary
	for _, r := range records {
		switch session.AttendanceStatus(r.Status) {
		case session.AttendancePresent:
			sum.Present++
		case session.AttendanceNotAvailable:
			sum.NotAvailable++
		default:
			sum.Missed++
		}
	}
	return sum
}
