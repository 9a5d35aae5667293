package database

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"standup_attendance_service/internal/domain/session"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
	subscriberBuffer     = 16
)

// ChangeListener is the change-subscription side of the session store: it
// LISTENs on the session channel and fans each committed ChangeEvent out to
// every subscriber of that session. Subscribers that fall behind have events
// dropped rather than blocking the dispatch loop.
type ChangeListener struct {
	listener *pq.Listener
	log      *logrus.Logger

	mu   sync.Mutex
	subs map[string]map[chan session.ChangeEvent]struct{}
}

func NewChangeListener(dataSourceName string, log *logrus.Logger) (*ChangeListener, error) {
	cl := &ChangeListener{
		log:  log,
		subs: make(map[string]map[chan session.ChangeEvent]struct{}),
	}
	cl.listener = pq.NewListener(dataSourceName, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Warnf("Session change listener event %d: %v", ev, err)
			}
		})
	if err := cl.listener.Listen(SessionChangesChannel); err != nil {
		cl.listener.Close()
		return nil, err
	}
	return cl, nil
}

// Run consumes notifications until ctx is canceled. It pings the connection
// periodically so a silently dropped connection is re-established.
func (cl *ChangeListener) Run(ctx context.Context) {
	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			cl.log.Info("Session change listener stopping")
			return
		case n := <-cl.listener.Notify:
			if n == nil {
				// nil is delivered after a reconnect; subscribers may have
				// missed events and should re-query the snapshot.
				cl.log.Warn("Session change listener reconnected; events may have been missed")
				continue
			}
			var event session.ChangeEvent
			if err := json.Unmarshal([]byte(n.Extra), &event); err != nil {
				cl.log.Errorf("Could not decode session change payload: %v", err)
				continue
			}
			cl.dispatch(event)
		case <-ping.C:
			if err := cl.listener.Ping(); err != nil {
				cl.log.Warnf("Session change listener ping failed: %v", err)
			}
		}
	}
}

// Subscribe registers for the change feed of one session. The returned cancel
// func must be called when the subscriber goes away.
func (cl *ChangeListener) Subscribe(sessionKey string) (<-chan session.ChangeEvent, func()) {
	ch := make(chan session.ChangeEvent, subscriberBuffer)

	cl.mu.Lock()
	if cl.subs[sessionKey] == nil {
		cl.subs[sessionKey] = make(map[chan session.ChangeEvent]struct{})
	}
	cl.subs[sessionKey][ch] = struct{}{}
	cl.mu.Unlock()

	cancel := func() {
		cl.mu.Lock()
		if set, ok := cl.subs[sessionKey]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(cl.subs, sessionKey)
			}
		}
		cl.mu.Unlock()
	}
	return ch, cancel
}

func (cl *ChangeListener) dispatch(event session.ChangeEvent) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for ch := range cl.subs[event.SessionKey] {
		select {
		case ch <- event:
		default:
			cl.log.Warnf("Dropping change event for slow subscriber of session %s", event.SessionKey)
		}
	}
}

func (cl *ChangeListener) Close() error {
	return cl.listener.Close()
}
