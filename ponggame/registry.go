package ponggame

import (
	"sync"
	"time"

	"github.com/decred/slog"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const sessionIDLength = 12

// Registry holds the canonical state of every live session. It owns the
// only mutable copy; the matchmaker and supervisor reach sessions through
// it, never through independent copies.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byPlayer map[PlayerID]string

	cfg     Config
	sink    EventSink
	outcome OutcomeListener
	history HistoryRecorder

	log slog.Logger
}

func NewRegistry(cfg Config, sink EventSink, log slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byPlayer: make(map[PlayerID]string),
		cfg:      cfg.Normalize(),
		sink:     sink,
		log:      log,
	}
}

// SetOutcomeListener registers the tournament engine. Sessions created
// afterwards report terminal outcomes to it. Wired once at startup.
func (r *Registry) SetOutcomeListener(l OutcomeListener) {
	r.mu.Lock()
	r.outcome = l
	r.mu.Unlock()
}

// SetHistoryRecorder registers the history collaborator for terminal
// outcomes. Wired once at startup.
func (r *Registry) SetHistoryRecorder(h HistoryRecorder) {
	r.mu.Lock()
	r.history = h
	r.mu.Unlock()
}

// Config returns the normalized session tunables.
func (r *Registry) Config() Config {
	return r.cfg
}

// NewSession allocates a session and binds every seated identity. Fails
// with AlreadyInSession when a seat's player is already live elsewhere.
func (r *Registry) NewSession(mode Mode, slots [2]*Slot, link *TournamentLink, aiDiff AIDifficulty) (*Session, error) {
	id, err := gonanoid.New(sessionIDLength)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, slot := range slots {
		if slot == nil || slot.ID == "" {
			continue
		}
		if sid, ok := r.byPlayer[slot.ID]; ok {
			return nil, newError(KindAlreadyInSession, "player %s is already in session %s", slot.ID, sid)
		}
	}

	ctx, cancel := newSessionContext()
	s := &Session{
		ID:        id,
		Mode:      mode,
		Slots:     slots,
		State:     StateWaiting,
		Link:      link,
		CreatedAt: time.Now(),
		engine:    NewEngine(r.log),
		aiDiff:    aiDiff,
		ctx:       ctx,
		cancel:    cancel,
		cfg:       r.cfg,
		sink:      r.sink,
		outcome:   r.outcome,
		history:   r.history,
		log:       r.log,
	}
	s.release = func() { r.Remove(s.ID) }

	r.sessions[id] = s
	for _, slot := range slots {
		if slot != nil && slot.ID != "" {
			r.byPlayer[slot.ID] = id
		}
	}
	r.log.Debugf("session %s created, mode %s", id, mode)
	return s, nil
}

// FillSlot seats a player into an empty seat of a waiting session and
// binds the identity. The check and the write happen under both locks so
// two concurrent joins cannot both win.
func (r *Registry) FillSlot(sessionID string, idx int, slot *Slot) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, newError(KindNotFound, "session %s not found", sessionID)
	}
	if slot.ID != "" {
		if sid, bound := r.byPlayer[slot.ID]; bound {
			return nil, newError(KindAlreadyInSession, "player %s is already in session %s", slot.ID, sid)
		}
	}

	s.Lock()
	if s.State != StateWaiting {
		s.Unlock()
		return nil, newError(KindInvalidState, "session %s is not joinable", sessionID)
	}
	if s.Slots[idx] != nil {
		s.Unlock()
		return nil, newError(KindFull, "session %s is full", sessionID)
	}
	s.Slots[idx] = slot
	s.Unlock()

	if slot.ID != "" {
		r.byPlayer[slot.ID] = sessionID
	}
	return s, nil
}

// Get returns the session by ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, newError(KindNotFound, "session %s not found", id)
	}
	return s, nil
}

// SessionForPlayer returns the live session a player is seated in, if any.
func (r *Registry) SessionForPlayer(id PlayerID) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byPlayer[id]
	if !ok {
		return nil
	}
	return r.sessions[sid]
}

// Remove drops a session and releases its seat bindings. Safe to call on
// an already removed session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	for _, slot := range s.Slots {
		if slot != nil && slot.ID != "" && r.byPlayer[slot.ID] == id {
			delete(r.byPlayer, slot.ID)
		}
	}
	r.log.Debugf("session %s removed", id)
}

// Snapshot returns a shallow copy of the live sessions.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown force-ends every live session, used on server teardown.
func (r *Registry) Shutdown() {
	for _, s := range r.Snapshot() {
		s.ForceEnd()
	}
}
