package ponggame

import "time"

// EventKind names one lifecycle or snapshot event. The set is closed; the
// facade maps kinds onto outbound wire envelopes one to one.
type EventKind string

const (
	EvSessionWaiting       EventKind = "session-waiting"
	EvSessionStarting      EventKind = "session-starting"
	EvCountdown            EventKind = "countdown"
	EvSessionUpdate        EventKind = "session-update"
	EvSessionPaused        EventKind = "session-paused"
	EvSessionFinished      EventKind = "session-finished"
	EvSessionCancelled     EventKind = "session-cancelled"
	EvOpponentDisconnected EventKind = "opponent-disconnected"
	EvOpponentReconnected  EventKind = "opponent-reconnected"
	EvLeftWithReconnect    EventKind = "left-with-reconnect"
)

// Event is one notification to one player: a type tag plus a sparse
// payload whose optional fields are set per kind.
type Event struct {
	Kind      EventKind `json:"event"`
	SessionID string    `json:"sessionId,omitempty"`

	// Seat assignment of the receiving player, 1 or 2. Zero for events
	// not tied to a seat (local mode receives both seats' events).
	Slot int `json:"slot,omitempty"`

	Mode  Mode      `json:"mode,omitempty"`
	Nicks [2]string `json:"nicks,omitempty"`

	Countdown int       `json:"countdown,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Score     [2]int    `json:"score"`

	WinnerSlot int      `json:"winnerSlot,omitempty"`
	WinnerID   PlayerID `json:"winnerId,omitempty"`
	Forfeit    bool     `json:"forfeit,omitempty"`

	// Reconnect window, set on pause/disconnect events.
	Deadline *time.Time `json:"deadline,omitempty"`

	Link *TournamentLink `json:"tournament,omitempty"`
}

// emit builds the per-recipient copies of ev for every connected seat.
// Must be called with the session lock held; the returned deliveries are
// flushed after the lock is released.
func (s *Session) emit(ev Event) []delivery {
	ev.SessionID = s.ID
	ev.Mode = s.Mode
	ev.Link = s.Link
	ev.Nicks = s.nicksLocked()
	if s.engine != nil {
		p1, p2 := s.engine.Scores()
		ev.Score = [2]int{p1, p2}
	}

	var out []delivery
	seen := make(map[PlayerID]bool, 2)
	for i, slot := range s.Slots {
		if slot == nil || slot.ID == "" || seen[slot.ID] {
			continue
		}
		seen[slot.ID] = true
		copyEv := ev
		copyEv.Slot = i + 1
		out = append(out, delivery{to: slot.ID, ev: copyEv})
	}
	return out
}

type delivery struct {
	to PlayerID
	ev Event
}

// flush hands deliveries to the sink. Never called with the session lock
// held; the sink must not block regardless.
func (s *Session) flush(ds []delivery) {
	if s.sink == nil {
		return
	}
	for _, d := range ds {
		s.sink.Deliver(d.to, d.ev)
	}
}
