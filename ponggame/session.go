package ponggame

import (
	"context"
	"time"
)

// bumpEpoch invalidates every timer armed against the previous state.
// Callers hold the session lock.
func (s *Session) bumpEpoch() uint64 {
	s.epoch++
	return s.epoch
}

func (s *Session) terminal() bool {
	return s.State == StateFinished || s.State == StateCancelled
}

// bothSeated reports whether both slots are filled. Callers hold the lock.
func (s *Session) bothSeated() bool {
	return s.Slots[0] != nil && s.Slots[1] != nil
}

// Start transitions waiting -> starting and arms the countdown. Valid only
// from waiting with both slots filled.
func (s *Session) Start() error {
	s.Lock()
	if s.State != StateWaiting {
		s.Unlock()
		return newError(KindInvalidState, "session %s cannot start from %s", s.ID, s.State)
	}
	if !s.bothSeated() {
		s.Unlock()
		return newError(KindInvalidState, "session %s needs two players to start", s.ID)
	}

	s.State = StateStarting
	s.Countdown = s.cfg.CountdownSeconds
	epoch := s.bumpEpoch()
	ds := s.emit(Event{Kind: EvSessionStarting, Countdown: s.Countdown})
	s.Unlock()

	s.flush(ds)
	go s.countdownLoop(epoch)
	return nil
}

// countdownLoop ticks the pre-game countdown down to zero, then flips the
// session to in_progress and starts the simulation loop. A stale epoch
// means a leave or cancel superseded the countdown.
func (s *Session) countdownLoop(epoch uint64) {
	ticker := time.NewTicker(s.cfg.CountdownInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Lock()
			if s.State != StateStarting || s.epoch != epoch {
				s.Unlock()
				return
			}
			s.Countdown--
			if s.Countdown > 0 {
				ds := s.emit(Event{Kind: EvCountdown, Countdown: s.Countdown})
				s.Unlock()
				s.flush(ds)
				continue
			}

			s.State = StateInProgress
			runEpoch := s.bumpEpoch()
			s.lastSnap = s.engine.Snapshot()
			ds := s.emit(Event{Kind: EvSessionUpdate, Snapshot: s.lastSnap})
			s.Unlock()

			s.flush(ds)
			go s.runLoop(runEpoch)
			return
		}
	}
}

// runLoop drives the fixed-rate simulation. It never blocks on delivery;
// snapshots are fire-and-forget. The loop survives pauses and exits on a
// terminal state, a stale epoch, or context cancellation.
func (s *Session) runLoop(epoch uint64) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Lock()
			// A pause, finish or cancel bumps the epoch; this loop's
			// incarnation is then over. Reconnect starts a fresh one.
			if s.State != StateInProgress || s.epoch != epoch {
				s.Unlock()
				return
			}

			if s.Mode == ModeAI {
				s.engine.SteerAI(s.aiDiff)
			}
			s.engine.Advance()
			s.lastSnap = s.engine.Snapshot()

			p1, p2 := s.engine.Scores()
			if p1 >= s.cfg.WinScore || p2 >= s.cfg.WinScore {
				winner := 1
				if p2 > p1 {
					winner = 2
				}
				ds, out := s.finishLocked(winner, false)
				s.Unlock()
				s.flush(ds)
				s.afterTerminal(out)
				return
			}

			ds := s.emit(Event{Kind: EvSessionUpdate, Snapshot: s.lastSnap})
			s.Unlock()
			s.flush(ds)
		}
	}
}

// ApplyMove records a paddle intent. Outside in_progress it is a silent
// no-op so late input arriving during a pause is tolerated.
func (s *Session) ApplyMove(slot int, dir MoveDir) {
	s.RLock()
	inPlay := s.State == StateInProgress
	s.RUnlock()
	if !inPlay || slot < 1 || slot > 2 {
		return
	}
	s.engine.SetInput(slot, dir, 1.0)
}

// SlotOf returns the seat number bound to id, or 0.
func (s *Session) SlotOf(id PlayerID) int {
	s.RLock()
	defer s.RUnlock()
	for i, slot := range s.Slots {
		if slot != nil && slot.ID == id && id != "" {
			return i + 1
		}
	}
	return 0
}

// OwnsBothSeats reports whether id is the only human controlling the
// session, as in local matches and local tournament matches. A seat is
// "owned" by id when it carries id, is AI, or is an unbound local seat.
func (s *Session) OwnsBothSeats(id PlayerID) bool {
	s.RLock()
	defer s.RUnlock()
	owned := false
	for _, seat := range s.Slots {
		if seat == nil {
			return false
		}
		switch {
		case seat.ID == id && id != "":
			owned = true
		case seat.AI || seat.ID == "":
		default:
			return false
		}
	}
	return owned
}

// finishLocked ends the session with a winner. Callers hold the lock and
// flush the returned deliveries after releasing it.
func (s *Session) finishLocked(winnerSlot int, forfeit bool) ([]delivery, *Outcome) {
	s.State = StateFinished
	s.WinnerSlot = winnerSlot
	s.WonByForfeit = forfeit
	s.bumpEpoch()
	s.cancel()

	var winnerID PlayerID
	if ws := s.Slots[winnerSlot-1]; ws != nil {
		winnerID = ws.ID
	}

	ds := s.emit(Event{
		Kind:       EvSessionFinished,
		WinnerSlot: winnerSlot,
		WinnerID:   winnerID,
		Forfeit:    forfeit,
		Snapshot:   s.lastSnap,
	})

	var out *Outcome
	if s.Link != nil {
		out = &Outcome{
			Link:       *s.Link,
			SessionID:  s.ID,
			WinnerSlot: winnerSlot,
			WinnerID:   winnerID,
			Forfeit:    forfeit,
		}
	}
	return ds, out
}

// cancelLocked ends the session without a winner.
func (s *Session) cancelLocked() ([]delivery, *Outcome) {
	s.State = StateCancelled
	s.bumpEpoch()
	s.cancel()

	ds := s.emit(Event{Kind: EvSessionCancelled})

	var out *Outcome
	if s.Link != nil {
		out = &Outcome{Link: *s.Link, SessionID: s.ID, Cancelled: true}
	}
	return ds, out
}

// afterTerminal runs the post-terminal side effects with no lock held:
// bracket propagation, history notification and registry release.
func (s *Session) afterTerminal(out *Outcome) {
	if out != nil && s.outcome != nil {
		s.outcome.SessionOutcome(*out)
	}
	if s.history != nil {
		rec := s.record()
		go s.history.RecordSession(rec)
	}
	if s.release != nil {
		s.release()
	}
}

// record summarizes a terminal session for the history collaborator.
func (s *Session) record() SessionRecord {
	s.RLock()
	defer s.RUnlock()
	rec := SessionRecord{
		SessionID:  s.ID,
		Mode:       s.Mode,
		Link:       s.Link,
		Nicks:      s.nicksLocked(),
		WinnerSlot: s.WinnerSlot,
		Forfeit:    s.WonByForfeit,
		Cancelled:  s.State == StateCancelled,
		EndedAt:    time.Now(),
	}
	if s.engine != nil {
		p1, p2 := s.engine.Scores()
		rec.Score = [2]int{p1, p2}
	}
	if s.WinnerSlot > 0 {
		if seat := s.Slots[s.WinnerSlot-1]; seat != nil {
			rec.WinnerID = seat.ID
		}
	}
	return rec
}

// Forfeit immediately ends the session with the other seat as winner.
// Valid in starting, in_progress and paused; a no-op once finished.
func (s *Session) Forfeit(slot int) error {
	if slot < 1 || slot > 2 {
		return newError(KindInvalidState, "invalid slot %d", slot)
	}

	s.Lock()
	if s.State == StateFinished {
		s.Unlock()
		return nil
	}
	if s.State != StateStarting && s.State != StateInProgress && s.State != StatePaused {
		s.Unlock()
		return newError(KindInvalidState, "session %s cannot forfeit from %s", s.ID, s.State)
	}

	ds, out := s.finishLocked(3-slot, true)
	s.Unlock()

	s.flush(ds)
	s.afterTerminal(out)
	return nil
}

// Leave handles a seat leaving. Before play it cancels the session; during
// play it delegates to the reconnect grace period. A deliberate leave and
// a dropped connection are treated the same.
func (s *Session) Leave(slot int, super *ReconnectSupervisor) error {
	if slot < 1 || slot > 2 {
		return newError(KindInvalidState, "invalid slot %d", slot)
	}

	s.Lock()
	switch s.State {
	case StateWaiting, StateStarting:
		ds, out := s.cancelLocked()
		s.Unlock()
		s.flush(ds)
		s.afterTerminal(out)
		return nil
	case StateInProgress, StatePaused:
		ds := s.pauseLocked(slot, super)
		s.Unlock()
		s.flush(ds)
		return nil
	default:
		s.Unlock()
		return newError(KindInvalidState, "session %s cannot be left from %s", s.ID, s.State)
	}
}

// pauseLocked marks slot disconnected, pauses play and arms the grace
// timer. Callers hold the lock. Idempotent for an already paused slot.
func (s *Session) pauseLocked(slot int, super *ReconnectSupervisor) []delivery {
	seat := s.Slots[slot-1]
	if seat.Conn == ConnDisconnected {
		return nil
	}

	deadline := time.Now().Add(s.cfg.ReconnectGrace)
	seat.Conn = ConnDisconnected
	seat.ReconnectDeadline = deadline
	s.State = StatePaused
	// Stops the run loop; each seat's grace window is tracked on the
	// seat itself, not on the epoch.
	s.bumpEpoch()

	if super != nil {
		super.arm(s, slot, deadline)
	}

	// The opponent sees the countdown deadline; the leaver (who may come
	// back after a client restart) gets the window too.
	var ds []delivery
	for _, d := range s.emit(Event{Kind: EvSessionPaused, Deadline: &deadline}) {
		ds = append(ds, d)
	}
	for i, other := range s.Slots {
		if other == nil || other.ID == "" {
			continue
		}
		kind := EvOpponentDisconnected
		if i+1 == slot {
			kind = EvLeftWithReconnect
		}
		ds = append(ds, delivery{to: other.ID, ev: Event{
			Kind:      kind,
			SessionID: s.ID,
			Slot:      i + 1,
			Deadline:  &deadline,
		}})
	}
	return ds
}

// Disconnect is the transport-driven twin of Leave for sessions in play.
// Outside play it behaves like Leave.
func (s *Session) Disconnect(slot int, super *ReconnectSupervisor) {
	_ = s.Leave(slot, super)
}

// Reconnect rebinds a disconnected seat. Valid only while paused, for the
// matching identity, before the deadline. A timer that already fired wins;
// whichever command the session processes first sticks.
func (s *Session) Reconnect(id PlayerID, super *ReconnectSupervisor) (*Snapshot, error) {
	s.Lock()
	if s.State != StatePaused {
		s.Unlock()
		return nil, newError(KindInvalidState, "session %s is not paused", s.ID)
	}

	slot := 0
	for i, seat := range s.Slots {
		if seat != nil && seat.ID == id && seat.Conn == ConnDisconnected {
			slot = i + 1
			break
		}
	}
	if slot == 0 {
		s.Unlock()
		return nil, newError(KindUnauthorized, "player %s has no disconnected seat in session %s", id, s.ID)
	}

	seat := s.Slots[slot-1]
	if time.Now().After(seat.ReconnectDeadline) {
		s.Unlock()
		return nil, newError(KindExpiredWindow, "reconnect window for session %s elapsed", s.ID)
	}

	seat.Conn = ConnConnected
	seat.ReconnectDeadline = time.Time{}
	if super != nil {
		super.disarm(s.ID, slot)
	}

	snap := s.lastSnap
	if other := s.Slots[2-slot]; other != nil && other.Conn == ConnDisconnected {
		// The opponent is still inside their own grace window. Stay
		// paused; play resumes when they return, or their deadline
		// forfeits them.
		ds := s.emit(Event{Kind: EvOpponentReconnected, Snapshot: snap})
		s.Unlock()

		s.flush(ds)
		return snap, nil
	}

	s.State = StateInProgress
	epoch := s.bumpEpoch()
	ds := s.emit(Event{Kind: EvOpponentReconnected, Snapshot: snap})
	s.Unlock()

	s.flush(ds)
	go s.runLoop(epoch)
	return snap, nil
}

// expireReconnect converts an elapsed grace window into a forfeit. The
// guard is per seat: the seat must still be disconnected with the very
// deadline the timer was armed for, so a timer that lost the race to a
// reconnect, or that belongs to an earlier disconnect of the same seat,
// is a no-op. Each seat's window counts independently even when both
// seats are gone.
func (s *Session) expireReconnect(slot int, deadline time.Time) {
	s.Lock()
	if s.terminal() {
		s.Unlock()
		return
	}
	seat := s.Slots[slot-1]
	if seat == nil || seat.Conn != ConnDisconnected || !seat.ReconnectDeadline.Equal(deadline) {
		s.Unlock()
		return
	}
	ds, out := s.finishLocked(3-slot, true)
	s.Unlock()

	s.flush(ds)
	s.afterTerminal(out)
}

// ForceEnd terminates the session without declaring a winner, used when a
// tournament is cancelled mid-match. Safe on terminal sessions.
func (s *Session) ForceEnd() {
	s.Lock()
	if s.terminal() {
		s.Unlock()
		return
	}
	ds, out := s.cancelLocked()
	s.Unlock()

	s.flush(ds)
	s.afterTerminal(out)
}

// ReconnectWindow reports id's pending reconnect deadline, if any. An
// idempotent read so a restarted client can resume.
func (s *Session) ReconnectWindow(id PlayerID) (time.Time, bool) {
	s.RLock()
	defer s.RUnlock()
	if s.State != StatePaused {
		return time.Time{}, false
	}
	for _, seat := range s.Slots {
		if seat != nil && seat.ID == id && seat.Conn == ConnDisconnected {
			return seat.ReconnectDeadline, true
		}
	}
	return time.Time{}, false
}

// View captures the caller-visible session state for resume queries.
type View struct {
	SessionID string          `json:"sessionId"`
	Mode      Mode            `json:"mode"`
	State     State           `json:"state"`
	Slot      int             `json:"slot,omitempty"`
	Nicks     [2]string       `json:"nicks"`
	Score     [2]int          `json:"score"`
	Countdown int             `json:"countdown,omitempty"`
	Snapshot  *Snapshot       `json:"snapshot,omitempty"`
	Deadline  *time.Time      `json:"deadline,omitempty"`
	Link      *TournamentLink `json:"tournament,omitempty"`
}

// ViewFor builds the resume snapshot for one player.
func (s *Session) ViewFor(id PlayerID) View {
	s.RLock()
	defer s.RUnlock()

	v := View{
		SessionID: s.ID,
		Mode:      s.Mode,
		State:     s.State,
		Nicks:     s.nicksLocked(),
		Countdown: s.Countdown,
		Snapshot:  s.lastSnap,
		Link:      s.Link,
	}
	if s.engine != nil {
		p1, p2 := s.engine.Scores()
		v.Score = [2]int{p1, p2}
	}
	for i, seat := range s.Slots {
		if seat != nil && seat.ID == id && id != "" {
			v.Slot = i + 1
			if seat.Conn == ConnDisconnected && !seat.ReconnectDeadline.IsZero() {
				dl := seat.ReconnectDeadline
				v.Deadline = &dl
			}
		}
	}
	return v
}

// nicksLocked returns both display names, tolerating an unfilled seat.
func (s *Session) nicksLocked() [2]string {
	var nicks [2]string
	for i, seat := range s.Slots {
		if seat != nil {
			nicks[i] = seat.Nick
		}
	}
	return nicks
}

// newSessionContext exists so tests can build sessions without a registry.
func newSessionContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}
