package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"standup_attendance_service/internal/app"
	"standup_attendance_service/internal/domain/session"
	idb "standup_attendance_service/internal/infra/database"
)

var validate = validator.New()

const watchKeepaliveInterval = 30 * time.Second

// ChangeSource is the subscription side of the session store, satisfied by
// database.ChangeListener.
type ChangeSource interface {
	Subscribe(sessionKey string) (<-chan session.ChangeEvent, func())
}

// SessionHandlers exposes the operator-facing entry points of the session
// core over HTTP.
type SessionHandlers struct {
	sessionService app.SessionService
	changes        ChangeSource
	log            *logrus.Logger
}

func NewSessionHandlers(svc app.SessionService, changes ChangeSource, log *logrus.Logger) *SessionHandlers {
	return &SessionHandlers{sessionService: svc, changes: changes, log: log}
}

func sessionKeyParam(c *fiber.Ctx) (session.Key, error) {
	key, err := session.ParseKey(c.Params("key"))
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "session key must be a YYYY-MM-DD date")
	}
	return key, nil
}

func participantIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("participantID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "participant id must be a positive integer")
	}
	return id, nil
}

// POST /api/sessions/:key/schedule
func (h *SessionHandlers) Schedule(c *fiber.Ctx) error {
	key, err := sessionKeyParam(c)
	if err != nil {
		return err
	}
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	sess, err := h.sessionService.Schedule(c.Context(), key, req.ScheduledTime, operatorID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSessionResponse(sess))
}

// POST /api/sessions/:key/activate
func (h *SessionHandlers) Activate(c *fiber.Ctx) error {
	key, err := sessionKeyParam(c)
	if err != nil {
		return err
	}
	sess, err := h.sessionService.Activate(c.Context(), key, time.Now())
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSessionResponse(sess))
}

// GET /api/sessions/:key
func (h *SessionHandlers) Query(c *fiber.Ctx) error {
	key, err := sessionKeyParam(c)
	if err != nil {
		return err
	}
	snap, err := h.sessionService.Query(c.Context(), key)
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSnapshotResponse(snap))
}

// PUT /api/sessions/:key/marks/:participantID
func (h *SessionHandlers) SetMark(c *fiber.Ctx) error {
	key, err := sessionKeyParam(c)
	if err != nil {
		return err
	}
	participantID, err := participantIDParam(c)
	if err != nil {
		return err
	}
	var req markRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	status, err := session.ParseAttendanceStatus(req.Status)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	operator := operatorID(c)
	if status == session.AttendanceNotAvailable {
		err = h.sessionService.SetUnavailable(c.Context(), key, participantID, req.Reason, operator)
	} else {
		err = h.sessionService.SetStatus(c.Context(), key, participantID, status, operator)
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// POST /api/sessions/:key/stop
func (h *SessionHandlers) Stop(c *fiber.Ctx) error {
	key, err := sessionKeyParam(c)
	if err != nil {
		return err
	}
	result, err := h.sessionService.Stop(c.Context(), key, operatorID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(fiber.StatusOK).JSON(finalizeResponse{
		AlreadyFinalized: result.AlreadyFinalized,
		Session:          toSessionResponse(result.Session),
		Records:          toRecordResponses(result.Records),
	})
}

// GET /api/sessions/:key/records
func (h *SessionHandlers) Records(c *fiber.Ctx) error {
	key, err := sessionKeyParam(c)
	if err != nil {
		return err
	}
	records, err := h.sessionService.Records(c.Context(), key)
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRecordResponses(records))
}

// GET /api/sessions/:key/watch
//
// Streams the session's change events as server-sent events. Every committed
// field-level merge and status transition arrives as one `data:` line.
func (h *SessionHandlers) Watch(c *fiber.Ctx) error {
	key, err := sessionKeyParam(c)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	events, cancel := h.changes.Subscribe(key.String())
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		keepalive := time.NewTicker(watchKeepaliveInterval)
		defer keepalive.Stop()
		for {
			select {
			case event := <-events:
				payload, err := json.Marshal(event)
				if err != nil {
					h.log.Errorf("Could not encode change event for session %s: %v", key, err)
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					// Client went away.
					return
				}
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

// mapServiceError translates core errors into HTTP statuses. Transient store
// failures map to 503 so operator UIs know a plain retry is safe.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, idb.ErrSessionNotFound), errors.Is(err, idb.ErrParticipantNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrEmptyReason):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, idb.ErrDuplicateSession),
		errors.Is(err, app.ErrInvalidTransition),
		errors.Is(err, app.ErrActivationTooEarly),
		errors.Is(err, idb.ErrSessionNotActive):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, app.ErrRosterUnavailable), errors.Is(err, idb.ErrBatchWriteFailed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
