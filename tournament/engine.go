package tournament

import (
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
)

// Event kinds emitted by the tournament engine.
const (
	EvCreated         = "tournament-created"
	EvJoined          = "tournament-joined"
	EvLeft            = "tournament-left"
	EvStarted         = "tournament-started"
	EvRoundStarted    = "round-started"
	EvMatchReady      = "match-ready"
	EvMatchStarting   = "match-starting"
	EvMatchCompleted  = "match-completed"
	EvRoundCompleted  = "round-completed"
	EvCompleted       = "tournament-completed"
	EvCancelled       = "tournament-cancelled"
	EvBracketSnapshot = "bracket-snapshot"
)

// Event is one tournament notification to one player.
type Event struct {
	Kind         string            `json:"event"`
	TournamentID string            `json:"tournamentId"`
	Name         string            `json:"name,omitempty"`
	Round        int               `json:"round,omitempty"`
	MatchID      string            `json:"matchId,omitempty"`
	SessionID    string            `json:"sessionId,omitempty"`
	PlayerID     ponggame.PlayerID `json:"playerId,omitempty"`
	Nick         string            `json:"nick,omitempty"`
	Opponent     string            `json:"opponent,omitempty"`
	WinnerID     ponggame.PlayerID `json:"winnerId,omitempty"`
	Winner       string            `json:"winner,omitempty"`
	Bracket      *BracketView      `json:"bracket,omitempty"`
}

// Notifier delivers tournament events; implementations must not block.
type Notifier interface {
	Notify(to ponggame.PlayerID, ev Event)
}

// SessionStarter is the match engine surface the tournament engine uses
// to bind bracket matches to live sessions.
type SessionStarter interface {
	CreateTournamentSession(link ponggame.TournamentLink, p1, p2 ponggame.Slot) (string, error)
	ForceEndSession(sessionID string)
}

// Engine owns every tournament. It is the sole writer of bracket
// structure; the match engine only reports terminal session outcomes back
// via SessionOutcome.
type Engine struct {
	mu          sync.RWMutex
	tournaments map[string]*Tournament

	starter SessionStarter
	notify  Notifier
	log     slog.Logger
}

func NewEngine(starter SessionStarter, notify Notifier, log slog.Logger) *Engine {
	return &Engine{
		tournaments: make(map[string]*Tournament),
		starter:     starter,
		notify:      notify,
		log:         log,
	}
}

func (e *Engine) get(id string) (*Tournament, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tournaments[id]
	if !ok {
		return nil, ponggame.NewError(ponggame.KindNotFound, "tournament %s not found", id)
	}
	return t, nil
}

// notifyAll fans an event out to every registered entrant plus the
// creator. Takes its own read lock; never call with the tournament lock
// held.
func (e *Engine) notifyAll(t *Tournament, ev Event) {
	if e.notify == nil {
		return
	}

	t.RLock()
	ids := make([]ponggame.PlayerID, 0, len(t.Entrants)+1)
	seen := map[ponggame.PlayerID]bool{}
	for _, ent := range t.Entrants {
		if ent.ID != "" && !seen[ent.ID] {
			seen[ent.ID] = true
			ids = append(ids, ent.ID)
		}
	}
	if t.CreatorID != "" && !seen[t.CreatorID] {
		ids = append(ids, t.CreatorID)
	}
	t.RUnlock()

	for _, id := range ids {
		e.notify.Notify(id, ev)
	}
}

// Create registers a tournament. Online tournaments seat the creator as
// seed 1; local tournaments take every display name up front and are
// immediately fully registered.
func (e *Engine) Create(name string, capacity int, creator ponggame.PlayerID, creatorNick string, local bool, names []string) (*BracketView, error) {
	if capacity < 2 {
		return nil, ponggame.NewError(ponggame.KindInvalidState, "capacity must be at least 2")
	}
	if local && len(names) < 2 {
		return nil, ponggame.NewError(ponggame.KindInvalidState, "local tournament needs at least 2 player names")
	}

	t := &Tournament{
		ID:        uuid.NewString(),
		Name:      name,
		CreatorID: creator,
		Capacity:  nextPowerOfTwo(capacity),
		Local:     local,
		Status:    StatusRegistration,
		CreatedAt: time.Now(),
	}

	if local {
		for i, n := range names {
			t.Entrants = append(t.Entrants, &Entrant{Nick: n, Seed: i + 1})
		}
	} else {
		t.Entrants = append(t.Entrants, &Entrant{ID: creator, Nick: creatorNick, Seed: 1})
	}

	e.mu.Lock()
	e.tournaments[t.ID] = t
	e.mu.Unlock()

	e.log.Infof("tournament %s (%q) created by %s, capacity %d", t.ID, name, creator, t.Capacity)

	t.RLock()
	view := t.view()
	t.RUnlock()
	e.notifyAll(t, Event{Kind: EvCreated, TournamentID: t.ID, Name: name, Bracket: view})
	return view, nil
}

// Join registers a player during the registration window, assigning the
// next sequential seed.
func (e *Engine) Join(id string, player ponggame.PlayerID, nick string) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}

	t.Lock()
	if t.Status != StatusRegistration {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "tournament %s is not accepting registrations", id)
	}
	if t.Local {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "tournament %s is a local tournament", id)
	}
	// A repeat join from an existing entrant reports the duplicate even
	// when the field is already full.
	if t.entrantByID(player) != nil {
		t.Unlock()
		return ponggame.NewError(ponggame.KindAlreadyJoined, "player %s already registered in tournament %s", player, id)
	}
	if len(t.Entrants) >= t.Capacity {
		t.Unlock()
		return ponggame.NewError(ponggame.KindFull, "tournament %s is full", id)
	}

	t.Entrants = append(t.Entrants, &Entrant{ID: player, Nick: nick, Seed: len(t.Entrants) + 1})
	view := t.view()
	t.Unlock()

	e.notifyAll(t, Event{Kind: EvJoined, TournamentID: id, PlayerID: player, Nick: nick, Bracket: view})
	return nil
}

// Leave removes a player during registration and compacts seeds.
func (e *Engine) Leave(id string, player ponggame.PlayerID) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}

	t.Lock()
	if t.Status != StatusRegistration {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "cannot leave tournament %s after it started", id)
	}

	found := false
	for i, ent := range t.Entrants {
		if ent.ID == player && player != "" {
			t.Entrants = append(t.Entrants[:i], t.Entrants[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		t.Unlock()
		return ponggame.NewError(ponggame.KindNotFound, "player %s not registered in tournament %s", player, id)
	}
	for i, ent := range t.Entrants {
		ent.Seed = i + 1
	}
	view := t.view()
	t.Unlock()

	e.notifyAll(t, Event{Kind: EvLeft, TournamentID: id, PlayerID: player, Bracket: view})
	return nil
}

// Start generates the bracket and opens round 1. Creator only, at least
// two entrants.
func (e *Engine) Start(id string, caller ponggame.PlayerID) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}

	t.Lock()
	if caller != t.CreatorID {
		t.Unlock()
		return ponggame.NewError(ponggame.KindUnauthorized, "only the creator may start tournament %s", id)
	}
	if t.Status != StatusRegistration {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "tournament %s already started", id)
	}
	if len(t.Entrants) < 2 {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "tournament %s needs at least 2 players", id)
	}

	t.Status = StatusStarting
	t.buildBracket()
	t.Status = StatusInProgress
	view := t.view()
	t.Unlock()

	e.log.Infof("tournament %s started with %d players, bracket size %d", id, len(t.Entrants), t.Capacity)

	e.notifyAll(t, Event{Kind: EvStarted, TournamentID: id, Bracket: view})
	e.notifyAll(t, Event{Kind: EvRoundStarted, TournamentID: id, Round: 1, Bracket: view})
	e.announceReadyMatches(t, view)
	return nil
}

// announceReadyMatches tells each resolved pairing it may ready up.
func (e *Engine) announceReadyMatches(t *Tournament, view *BracketView) {
	if e.notify == nil || t.Local {
		return
	}
	for _, round := range view.Rounds {
		for _, mv := range round {
			if mv.Status != MatchReady {
				continue
			}
			for _, pv := range []*EntrantView{mv.P1, mv.P2} {
				if pv == nil || pv.ID == "" {
					continue
				}
				opp := mv.P1
				if pv == mv.P1 {
					opp = mv.P2
				}
				oppNick := ""
				if opp != nil {
					oppNick = opp.Nick
				}
				e.notify.Notify(pv.ID, Event{
					Kind:         EvMatchReady,
					TournamentID: t.ID,
					Round:        mv.Round,
					MatchID:      mv.ID,
					Opponent:     oppNick,
				})
			}
		}
	}
}

// Ready records a player's ready-up for an online bracket match. Once
// both sides are ready the engine binds the match to a new session.
func (e *Engine) Ready(id string, matchID string, player ponggame.PlayerID) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}

	t.Lock()
	if t.Local {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "local tournaments do not use ready-up")
	}
	if t.Status != StatusInProgress {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "tournament %s is not in progress", id)
	}
	m := t.matchByID(matchID)
	if m == nil {
		t.Unlock()
		return ponggame.NewError(ponggame.KindNotFound, "match %s not found in tournament %s", matchID, id)
	}
	if m.Status != MatchReady {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "match %s is not awaiting ready-up", matchID)
	}

	slot := -1
	for i, s := range m.Slots {
		if s.entrant != nil && s.entrant.ID == player {
			slot = i
			break
		}
	}
	if slot < 0 {
		t.Unlock()
		return ponggame.NewError(ponggame.KindUnauthorized, "player %s is not a participant of match %s", player, matchID)
	}
	if t.playerBusy(player) {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "player %s already has a match in progress", player)
	}

	m.ready[player] = true
	bothReady := m.ready[m.Slots[0].entrant.ID] && m.ready[m.Slots[1].entrant.ID]
	if !bothReady {
		view := t.view()
		t.Unlock()
		e.notifyAll(t, Event{Kind: EvBracketSnapshot, TournamentID: id, Bracket: view})
		return nil
	}

	// Double-check the opponent is free before binding a session.
	if t.playerBusy(m.Slots[0].entrant.ID) || t.playerBusy(m.Slots[1].entrant.ID) {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "a participant of match %s is still playing", matchID)
	}

	link := ponggame.TournamentLink{TournamentID: id, Round: m.Round, MatchID: matchID}
	p1 := ponggame.Slot{ID: m.Slots[0].entrant.ID, Nick: m.Slots[0].entrant.Nick, Conn: ponggame.ConnConnected}
	p2 := ponggame.Slot{ID: m.Slots[1].entrant.ID, Nick: m.Slots[1].entrant.Nick, Conn: ponggame.ConnConnected}

	sessionID, err := e.starter.CreateTournamentSession(link, p1, p2)
	if err != nil {
		t.Unlock()
		return err
	}
	m.Status = MatchInProgress
	m.SessionID = sessionID
	nicks := [2]string{p1.Nick, p2.Nick}
	t.Unlock()

	e.log.Infof("tournament %s match %s bound to session %s", id, matchID, sessionID)
	if e.notify != nil {
		e.notify.Notify(p1.ID, Event{Kind: EvMatchStarting, TournamentID: id, MatchID: matchID, SessionID: sessionID, Opponent: nicks[1]})
		e.notify.Notify(p2.ID, Event{Kind: EvMatchStarting, TournamentID: id, MatchID: matchID, SessionID: sessionID, Opponent: nicks[0]})
	}
	return nil
}

// PlayNextLocalMatch starts one ready match of a local tournament on the
// creator's device. Both seats share the creator's connection, so the
// dual ready-up protocol is skipped.
func (e *Engine) PlayNextLocalMatch(id string, caller ponggame.PlayerID, matchID string) (string, error) {
	t, err := e.get(id)
	if err != nil {
		return "", err
	}

	t.Lock()
	if !t.Local {
		t.Unlock()
		return "", ponggame.NewError(ponggame.KindInvalidState, "tournament %s is not a local tournament", id)
	}
	if caller != t.CreatorID {
		t.Unlock()
		return "", ponggame.NewError(ponggame.KindUnauthorized, "only the creator may run local matches")
	}
	if t.Status != StatusInProgress {
		t.Unlock()
		return "", ponggame.NewError(ponggame.KindInvalidState, "tournament %s is not in progress", id)
	}
	m := t.matchByID(matchID)
	if m == nil {
		t.Unlock()
		return "", ponggame.NewError(ponggame.KindNotFound, "match %s not found in tournament %s", matchID, id)
	}
	if m.Status != MatchReady {
		t.Unlock()
		return "", ponggame.NewError(ponggame.KindInvalidState, "match %s is not ready to play", matchID)
	}
	for _, round := range t.Rounds {
		for _, other := range round {
			if other.Status == MatchInProgress {
				t.Unlock()
				return "", ponggame.NewError(ponggame.KindInvalidState, "match %s is still in progress", other.ID)
			}
		}
	}

	link := ponggame.TournamentLink{TournamentID: id, Round: m.Round, MatchID: matchID}
	p1 := ponggame.Slot{ID: t.CreatorID, Nick: m.Slots[0].entrant.Nick, Conn: ponggame.ConnConnected}
	p2 := ponggame.Slot{Nick: m.Slots[1].entrant.Nick, Conn: ponggame.ConnConnected}

	sessionID, err := e.starter.CreateTournamentSession(link, p1, p2)
	if err != nil {
		t.Unlock()
		return "", err
	}
	m.Status = MatchInProgress
	m.SessionID = sessionID
	t.Unlock()

	e.log.Infof("local tournament %s match %s bound to session %s", id, matchID, sessionID)
	return sessionID, nil
}

// Cancel tears a tournament down. Valid for the creator any time before
// finished. In-flight matches' sessions end as no contest so no win or
// loss is recorded.
func (e *Engine) Cancel(id string, caller ponggame.PlayerID) error {
	t, err := e.get(id)
	if err != nil {
		return err
	}

	t.Lock()
	if caller != t.CreatorID {
		t.Unlock()
		return ponggame.NewError(ponggame.KindUnauthorized, "only the creator may cancel tournament %s", id)
	}
	if t.Status == StatusFinished || t.Status == StatusCancelled {
		t.Unlock()
		return ponggame.NewError(ponggame.KindInvalidState, "tournament %s already ended", id)
	}

	t.Status = StatusCancelled
	var liveSessions []string
	for _, round := range t.Rounds {
		for _, m := range round {
			if m.Status == MatchInProgress && m.SessionID != "" {
				liveSessions = append(liveSessions, m.SessionID)
			}
		}
	}
	view := t.view()
	t.Unlock()

	for _, sid := range liveSessions {
		e.starter.ForceEndSession(sid)
	}

	e.log.Infof("tournament %s cancelled by %s", id, caller)
	e.notifyAll(t, Event{Kind: EvCancelled, TournamentID: id, Bracket: view})
	return nil
}

// Bracket returns the full bracket snapshot for rendering.
func (e *Engine) Bracket(id string) (*BracketView, error) {
	t, err := e.get(id)
	if err != nil {
		return nil, err
	}
	t.RLock()
	defer t.RUnlock()
	return t.view(), nil
}

// ListActive returns every tournament still accepting players or playing.
func (e *Engine) ListActive() []*BracketView {
	e.mu.RLock()
	ts := make([]*Tournament, 0, len(e.tournaments))
	for _, t := range e.tournaments {
		ts = append(ts, t)
	}
	e.mu.RUnlock()

	var out []*BracketView
	for _, t := range ts {
		t.RLock()
		if t.Status == StatusRegistration || t.Status == StatusInProgress {
			out = append(out, t.view())
		}
		t.RUnlock()
	}
	return out
}

// SessionOutcome receives terminal results from the match engine and
// advances the bracket. Implements ponggame.OutcomeListener.
func (e *Engine) SessionOutcome(o ponggame.Outcome) {
	t, err := e.get(o.Link.TournamentID)
	if err != nil {
		e.log.Warnf("outcome for unknown tournament %s", o.Link.TournamentID)
		return
	}

	t.Lock()
	if t.Status != StatusInProgress {
		// Cancelled mid-match; the force-ended session reports back
		// here and there is nothing left to advance.
		t.Unlock()
		return
	}
	m := t.matchByID(o.Link.MatchID)
	if m == nil || m.Status != MatchInProgress || m.SessionID != o.SessionID {
		t.Unlock()
		return
	}

	if o.Cancelled || o.WinnerSlot == 0 {
		// No contest outside a tournament cancel: reopen the match for
		// another ready-up rather than inventing a winner.
		m.Status = MatchReady
		m.SessionID = ""
		for k := range m.ready {
			delete(m.ready, k)
		}
		view := t.view()
		t.Unlock()
		e.notifyAll(t, Event{Kind: EvBracketSnapshot, TournamentID: t.ID, Bracket: view})
		return
	}

	winner := m.Slots[o.WinnerSlot-1].entrant
	round := m.Round
	t.completeMatch(m, winner)

	roundDone := t.roundCompleted(round)
	finished := roundDone && round == t.TotalRounds
	if finished {
		t.Status = StatusFinished
	} else if roundDone && round == t.CurrentRound {
		t.CurrentRound = round + 1
	}
	view := t.view()
	t.Unlock()

	e.notifyAll(t, Event{
		Kind:         EvMatchCompleted,
		TournamentID: t.ID,
		MatchID:      m.ID,
		Round:        round,
		WinnerID:     winner.ID,
		Winner:       winner.Nick,
		Bracket:      view,
	})
	if roundDone {
		e.notifyAll(t, Event{Kind: EvRoundCompleted, TournamentID: t.ID, Round: round, Bracket: view})
	}
	if finished {
		e.log.Infof("tournament %s finished, winner %s", t.ID, winner.Nick)
		e.notifyAll(t, Event{
			Kind:         EvCompleted,
			TournamentID: t.ID,
			WinnerID:     winner.ID,
			Winner:       winner.Nick,
			Bracket:      view,
		})
	} else if roundDone {
		e.notifyAll(t, Event{Kind: EvRoundStarted, TournamentID: t.ID, Round: t.CurrentRound, Bracket: view})
		e.announceReadyMatches(t, view)
	} else {
		e.announceNewlyReady(t, m, view)
	}
}

// announceNewlyReady pings the participants of the successor match if the
// completed one just resolved it.
func (e *Engine) announceNewlyReady(t *Tournament, completed *Match, view *BracketView) {
	t.RLock()
	if completed.Round >= t.TotalRounds {
		t.RUnlock()
		return
	}
	next := t.Rounds[completed.Round][completed.Index/2]
	readyNow := next.Status == MatchReady
	t.RUnlock()

	if !readyNow || e.notify == nil {
		return
	}
	for _, round := range view.Rounds {
		for _, mv := range round {
			if mv.ID != next.ID || mv.Status != MatchReady {
				continue
			}
			for _, pv := range []*EntrantView{mv.P1, mv.P2} {
				if pv == nil || pv.ID == "" {
					continue
				}
				opp := mv.P1
				if pv == mv.P1 {
					opp = mv.P2
				}
				e.notify.Notify(pv.ID, Event{
					Kind:         EvMatchReady,
					TournamentID: t.ID,
					Round:        mv.Round,
					MatchID:      mv.ID,
					Opponent:     opp.Nick,
				})
			}
		}
	}
}
