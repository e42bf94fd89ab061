package ponggame

import (
	"sync"
	"time"

	"github.com/decred/slog"
)

// Ticket is one player waiting for a quick-play opponent. The ticket's
// session already exists in waiting state with the owner in slot 1.
type Ticket struct {
	PlayerID   PlayerID
	Nick       string
	SessionID  string
	EnqueuedAt time.Time
}

// Matchmaker pairs queued players FIFO and creates private, AI and local
// sessions on demand. The queue is one shared slice under one lock;
// pairing is a short critical section that never blocks on I/O.
type Matchmaker struct {
	mu    sync.Mutex
	queue []*Ticket

	reg *Registry
	log slog.Logger
}

func NewMatchmaker(reg *Registry, log slog.Logger) *Matchmaker {
	return &Matchmaker{reg: reg, log: log}
}

// announce emits the waiting/created lifecycle event for a fresh session
// so every seated player learns their session ID and seat.
func (s *Session) announce() {
	s.Lock()
	ds := s.emit(Event{Kind: EvSessionWaiting})
	s.Unlock()
	s.flush(ds)
}

// Enqueue joins the quick-play queue. If an opponent is already waiting
// the two are paired immediately, earliest ticket first; the earlier
// player keeps slot 1. Otherwise the caller gets a waiting session and a
// stored ticket.
func (mm *Matchmaker) Enqueue(id PlayerID, nick string) (*Session, error) {
	if s := mm.reg.SessionForPlayer(id); s != nil {
		return nil, newError(KindAlreadyInSession, "player %s is already in session %s", id, s.ID)
	}

	mm.mu.Lock()
	for len(mm.queue) > 0 {
		ticket := mm.queue[0]
		mm.queue = mm.queue[1:]

		s, err := mm.reg.FillSlot(ticket.SessionID, 1, &Slot{ID: id, Nick: nick, Conn: ConnConnected})
		if err != nil {
			// The ticket's session is gone (owner left or timed out);
			// drop the stale ticket and keep pairing.
			mm.log.Debugf("dropping stale ticket for %s: %v", ticket.PlayerID, err)
			continue
		}
		mm.mu.Unlock()

		mm.log.Infof("paired %s with %s in session %s", ticket.PlayerID, id, s.ID)
		s.announce()
		if err := s.Start(); err != nil {
			return nil, err
		}
		return s, nil
	}
	mm.mu.Unlock()

	s, err := mm.reg.NewSession(ModeQuick, [2]*Slot{{ID: id, Nick: nick, Conn: ConnConnected}, nil}, nil, "")
	if err != nil {
		return nil, err
	}

	mm.mu.Lock()
	mm.queue = append(mm.queue, &Ticket{
		PlayerID:   id,
		Nick:       nick,
		SessionID:  s.ID,
		EnqueuedAt: time.Now(),
	})
	mm.mu.Unlock()

	s.announce()
	return s, nil
}

// Cancel removes a player's ticket and tears down their waiting session.
func (mm *Matchmaker) Cancel(id PlayerID) error {
	mm.mu.Lock()
	var sessionID string
	for i, t := range mm.queue {
		if t.PlayerID == id {
			sessionID = t.SessionID
			mm.queue = append(mm.queue[:i], mm.queue[i+1:]...)
			break
		}
	}
	mm.mu.Unlock()

	if sessionID == "" {
		return newError(KindNotFound, "player %s has no matchmaking ticket", id)
	}
	if s, err := mm.reg.Get(sessionID); err == nil {
		return s.Leave(1, nil)
	}
	return nil
}

// QueueLen reports the number of waiting tickets.
func (mm *Matchmaker) QueueLen() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.queue)
}

// CreatePrivate allocates a waiting session whose ID doubles as the
// shareable invite code.
func (mm *Matchmaker) CreatePrivate(id PlayerID, nick string) (*Session, error) {
	s, err := mm.reg.NewSession(ModePrivate, [2]*Slot{{ID: id, Nick: nick, Conn: ConnConnected}, nil}, nil, "")
	if err != nil {
		return nil, err
	}
	s.announce()
	return s, nil
}

// JoinPrivate seats the second player of an invited match and starts it.
func (mm *Matchmaker) JoinPrivate(sessionID string, id PlayerID, nick string) (*Session, error) {
	existing, err := mm.reg.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if existing.Mode != ModePrivate {
		return nil, newError(KindInvalidState, "session %s is not a private match", sessionID)
	}

	s, err := mm.reg.FillSlot(sessionID, 1, &Slot{ID: id, Nick: nick, Conn: ConnConnected})
	if err != nil {
		return nil, err
	}
	s.announce()
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateAI starts a session against the synthetic opponent immediately.
func (mm *Matchmaker) CreateAI(id PlayerID, nick string, diff AIDifficulty) (*Session, error) {
	if diff == "" {
		diff = AIMedium
	}
	slots := [2]*Slot{
		{ID: id, Nick: nick, Conn: ConnConnected},
		{AI: true, Nick: "AI (" + string(diff) + ")", Conn: ConnConnected},
	}
	s, err := mm.reg.NewSession(ModeAI, slots, nil, diff)
	if err != nil {
		return nil, err
	}
	s.announce()
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateLocal starts a same-device match; both seats live on the host's
// connection and moves carry an explicit seat number.
func (mm *Matchmaker) CreateLocal(hostID PlayerID, names [2]string) (*Session, error) {
	slots := [2]*Slot{
		{ID: hostID, Nick: names[0], Conn: ConnConnected},
		{Nick: names[1], Conn: ConnConnected},
	}
	s, err := mm.reg.NewSession(ModeLocal, slots, nil, "")
	if err != nil {
		return nil, err
	}
	s.announce()
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateTournamentSession builds and starts a bracket-linked session. For
// local tournaments the creator hosts both seats, like CreateLocal.
func (mm *Matchmaker) CreateTournamentSession(link TournamentLink, p1, p2 Slot) (string, error) {
	s, err := mm.reg.NewSession(ModeTournament, [2]*Slot{&p1, &p2}, &link, "")
	if err != nil {
		return "", err
	}
	s.announce()
	if err := s.Start(); err != nil {
		return "", err
	}
	return s.ID, nil
}

// ForceEndSession ends a bracket-linked session as no contest.
func (mm *Matchmaker) ForceEndSession(sessionID string) {
	if s, err := mm.reg.Get(sessionID); err == nil {
		s.ForceEnd()
	}
}
