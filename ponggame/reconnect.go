package ponggame

import (
	"sync"
	"time"

	"github.com/decred/slog"
)

type timerKey struct {
	sessionID string
	slot      int
}

// ReconnectSupervisor owns the per-(session, slot) grace timers. A timer
// firing and a successful reconnect race; the session's lock decides the
// winner and the loser is a no-op via the seat's deadline guard.
type ReconnectSupervisor struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
	log    slog.Logger
}

func NewReconnectSupervisor(log slog.Logger) *ReconnectSupervisor {
	return &ReconnectSupervisor{
		timers: make(map[timerKey]*time.Timer),
		log:    log,
	}
}

// OnDisconnect pauses the session and starts slot's grace window. The
// transport adapter calls this when a connection drops mid-game.
func (rs *ReconnectSupervisor) OnDisconnect(s *Session, slot int) {
	s.Disconnect(slot, rs)
}

// OnReconnectAttempt rebinds a disconnected player and returns the latest
// snapshot for replay. Multiple concurrent attempts yield one success; the
// rest fail with InvalidState or Unauthorized.
func (rs *ReconnectSupervisor) OnReconnectAttempt(s *Session, id PlayerID) (*Snapshot, error) {
	return s.Reconnect(id, rs)
}

// arm schedules the automatic forfeit. Called with the session lock held;
// only rs.mu is taken here.
func (rs *ReconnectSupervisor) arm(s *Session, slot int, deadline time.Time) {
	key := timerKey{s.ID, slot}

	rs.mu.Lock()
	if old, ok := rs.timers[key]; ok {
		old.Stop()
	}
	rs.timers[key] = time.AfterFunc(time.Until(deadline), func() {
		rs.mu.Lock()
		delete(rs.timers, key)
		rs.mu.Unlock()

		rs.log.Debugf("reconnect window for session %s slot %d elapsed", s.ID, slot)
		s.expireReconnect(slot, deadline)
	})
	rs.mu.Unlock()
}

// disarm cancels a pending grace timer. A timer that already fired is
// harmless; its seat is no longer disconnected with that deadline.
func (rs *ReconnectSupervisor) disarm(sessionID string, slot int) {
	key := timerKey{sessionID, slot}
	rs.mu.Lock()
	if t, ok := rs.timers[key]; ok {
		t.Stop()
		delete(rs.timers, key)
	}
	rs.mu.Unlock()
}

// Stop cancels every pending timer, used on shutdown.
func (rs *ReconnectSupervisor) Stop() {
	rs.mu.Lock()
	for key, t := range rs.timers {
		t.Stop()
		delete(rs.timers, key)
	}
	rs.mu.Unlock()
}
