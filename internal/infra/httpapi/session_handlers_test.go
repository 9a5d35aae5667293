package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standup_attendance_service/internal/app"
	"standup_attendance_service/internal/domain/ledger"
	"standup_attendance_service/internal/domain/session"
	idb "standup_attendance_service/internal/infra/database"
)

const testSecret = "test-secret"

// stubService satisfies app.SessionService with canned behavior per test.
type stubService struct {
	scheduleFn       func(key session.Key, at time.Time, operator string) (*session.Session, error)
	activateFn       func(key session.Key) (*session.Session, error)
	queryFn          func(key session.Key) (*session.Snapshot, error)
	setStatusFn      func(key session.Key, participantID int64, status session.AttendanceStatus, operator string) error
	setUnavailableFn func(key session.Key, participantID int64, reason, operator string) error
	stopFn           func(key session.Key, operator string) (*session.FinalizeResult, error)
	recordsFn        func(key session.Key) ([]*ledger.Record, error)
}

func (s *stubService) Schedule(_ context.Context, key session.Key, at time.Time, operator string) (*session.Session, error) {
	return s.scheduleFn(key, at, operator)
}

func (s *stubService) Activate(_ context.Context, key session.Key, _ time.Time) (*session.Session, error) {
	return s.activateFn(key)
}

func (s *stubService) Query(_ context.Context, key session.Key) (*session.Snapshot, error) {
	return s.queryFn(key)
}

func (s *stubService) SetStatus(_ context.Context, key session.Key, participantID int64, status session.AttendanceStatus, operator string) error {
	return s.setStatusFn(key, participantID, status, operator)
}

func (s *stubService) SetUnavailable(_ context.Context, key session.Key, participantID int64, reason, operator string) error {
	return s.setUnavailableFn(key, participantID, reason, operator)
}

func (s *stubService) Stop(_ context.Context, key session.Key, operator string) (*session.FinalizeResult, error) {
	return s.stopFn(key, operator)
}

func (s *stubService) Records(_ context.Context, key session.Key) ([]*ledger.Record, error) {
	return s.recordsFn(key)
}

func (s *stubService) ActivateDue(context.Context, time.Time) error { return nil }

func (s *stubService) FinalizeOverdue(context.Context, time.Time) error { return nil }

type stubChanges struct{}

func (stubChanges) Subscribe(string) (<-chan session.ChangeEvent, func()) {
	ch := make(chan session.ChangeEvent)
	return ch, func() {}
}

func testToken(t *testing.T, role string) string {
	t.Helper()
	claims := &OperatorClaims{
		Name: "Alice Admin",
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func scheduledSession() *session.Session {
	return &session.Session{
		Key:           "2025-06-02",
		Status:        session.StatusScheduled,
		ScheduledTime: time.Date(2025, 6, 2, 8, 45, 0, 0, time.UTC),
		ScheduledBy:   "op-1",
	}
}

func TestAuthMiddleware(t *testing.T) {
	svc := &stubService{
		queryFn: func(session.Key) (*session.Snapshot, error) {
			return &session.Snapshot{Session: *scheduledSession()}, nil
		},
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	router := NewRouter(svc, stubChanges{}, testSecret, log)

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/sessions/2025-06-02/", nil)
		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/sessions/2025-06-02/", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode)
	})

	t.Run("wrong role", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/sessions/2025-06-02/", nil)
		req.Header.Set("Authorization", "Bearer "+testToken(t, "viewer"))
		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 403, resp.StatusCode)
	})

	t.Run("administrator passes", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/sessions/2025-06-02/", nil)
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))
		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("co-administrator passes", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/sessions/2025-06-02/", nil)
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleCoAdministrator))
		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})
}

func TestScheduleEndpoint(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	t.Run("passes time and operator through", func(t *testing.T) {
		var gotAt time.Time
		var gotOperator string
		svc := &stubService{
			scheduleFn: func(key session.Key, at time.Time, operator string) (*session.Session, error) {
				gotAt = at
				gotOperator = operator
				s := scheduledSession()
				s.ScheduledTime = at
				return s, nil
			},
		}
		router := NewRouter(svc, stubChanges{}, testSecret, log)

		body := `{"scheduled_time":"2025-06-02T08:45:00Z"}`
		req := httptest.NewRequest("POST", "/api/sessions/2025-06-02/schedule", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))

		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, time.Date(2025, 6, 2, 8, 45, 0, 0, time.UTC), gotAt.UTC())
		assert.Equal(t, "op-1", gotOperator)
	})

	t.Run("rejects a missing scheduled_time", func(t *testing.T) {
		svc := &stubService{}
		router := NewRouter(svc, stubChanges{}, testSecret, log)

		req := httptest.NewRequest("POST", "/api/sessions/2025-06-02/schedule", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))

		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("rejects a malformed session key", func(t *testing.T) {
		svc := &stubService{}
		router := NewRouter(svc, stubChanges{}, testSecret, log)

		req := httptest.NewRequest("POST", "/api/sessions/someday/schedule", bytes.NewBufferString(`{"scheduled_time":"2025-06-02T08:45:00Z"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))

		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})
}

func TestSetMarkEndpoint(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	t.Run("routes NOT_AVAILABLE through the reason path", func(t *testing.T) {
		var gotReason string
		svc := &stubService{
			setUnavailableFn: func(_ session.Key, _ int64, reason, _ string) error {
				gotReason = reason
				return nil
			},
		}
		router := NewRouter(svc, stubChanges{}, testSecret, log)

		body := `{"status":"NOT_AVAILABLE","reason":"On leave"}`
		req := httptest.NewRequest("PUT", "/api/sessions/2025-06-02/marks/7", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))

		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 204, resp.StatusCode)
		assert.Equal(t, "On leave", gotReason)
	})

	t.Run("rejects NOT_AVAILABLE without a reason", func(t *testing.T) {
		svc := &stubService{}
		router := NewRouter(svc, stubChanges{}, testSecret, log)

		req := httptest.NewRequest("PUT", "/api/sessions/2025-06-02/marks/7", bytes.NewBufferString(`{"status":"NOT_AVAILABLE"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))

		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("rejects an unknown status", func(t *testing.T) {
		svc := &stubService{}
		router := NewRouter(svc, stubChanges{}, testSecret, log)

		req := httptest.NewRequest("PUT", "/api/sessions/2025-06-02/marks/7", bytes.NewBufferString(`{"status":"ON_LEAVE"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))

		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("maps an inactive session to 409", func(t *testing.T) {
		svc := &stubService{
			setStatusFn: func(session.Key, int64, session.AttendanceStatus, string) error {
				return fmt.Errorf("mark rejected: %w", idb.ErrSessionNotActive)
			},
		}
		router := NewRouter(svc, stubChanges{}, testSecret, log)

		req := httptest.NewRequest("PUT", "/api/sessions/2025-06-02/marks/7", bytes.NewBufferString(`{"status":"PRESENT"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))

		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 409, resp.StatusCode)
	})
}

func TestStopEndpoint(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	t.Run("returns the finalize outcome", func(t *testing.T) {
		svc := &stubService{
			stopFn: func(key session.Key, _ string) (*session.FinalizeResult, error) {
				s := scheduledSession()
				s.Status = session.StatusEnded
				return &session.FinalizeResult{
					AlreadyFinalized: true,
					Session:          s,
					Records:          []*ledger.Record{},
				}, nil
			},
		}
		router := NewRouter(svc, stubChanges{}, testSecret, log)

		req := httptest.NewRequest("POST", "/api/sessions/2025-06-02/stop", nil)
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))

		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var parsed finalizeResponse
		require.NoError(t, json.Unmarshal(raw, &parsed))
		assert.True(t, parsed.AlreadyFinalized)
		assert.Equal(t, "ENDED", parsed.Session.Status)
	})

	t.Run("maps a transient roster outage to 503", func(t *testing.T) {
		svc := &stubService{
			stopFn: func(session.Key, string) (*session.FinalizeResult, error) {
				return nil, fmt.Errorf("stop failed: %w", app.ErrRosterUnavailable)
			},
		}
		router := NewRouter(svc, stubChanges{}, testSecret, log)

		req := httptest.NewRequest("POST", "/api/sessions/2025-06-02/stop", nil)
		req.Header.Set("Authorization", "Bearer "+testToken(t, RoleAdministrator))

		resp, err := router.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 503, resp.StatusCode)
	})
}
