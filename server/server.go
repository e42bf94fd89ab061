package server

import (
	"encoding/json"
	"sync"

	"github.com/decred/slog"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
	"github.com/veloxity343/ft-transcendence-sub001/tournament"
)

// outboxSize bounds each client's pending event queue. When a slow
// consumer falls behind, the oldest frame is dropped so live snapshots
// keep flowing.
const outboxSize = 64

// Client is one connected player. A player has at most one live client;
// a second connection for the same ID replaces the first.
type Client struct {
	ID   ponggame.PlayerID
	Nick string

	out  chan Envelope
	once sync.Once
	done chan struct{}
}

// Out exposes the outbound frame stream for the transport writer.
func (c *Client) Out() <-chan Envelope { return c.out }

// Done is closed when the client is replaced or unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// send queues an envelope, dropping the oldest pending frame instead of
// blocking the caller.
func (c *Client) send(env Envelope) {
	for {
		select {
		case c.out <- env:
			return
		default:
		}
		select {
		case <-c.out:
		default:
		}
	}
}

// Server is the orchestration facade: it owns the client table, routes
// inbound commands to the match and tournament engines, and fans engine
// events out to connected players.
type Server struct {
	mu      sync.RWMutex
	clients map[ponggame.PlayerID]*Client

	reg         *ponggame.Registry
	super       *ponggame.ReconnectSupervisor
	matchmaker  *ponggame.Matchmaker
	tournaments *tournament.Engine

	log slog.Logger
}

func NewServer(cfg ponggame.Config, log slog.Logger) *Server {
	s := &Server{
		clients: make(map[ponggame.PlayerID]*Client),
		log:     log,
	}
	s.reg = ponggame.NewRegistry(cfg, s, log)
	s.super = ponggame.NewReconnectSupervisor(log)
	s.matchmaker = ponggame.NewMatchmaker(s.reg, log)
	s.tournaments = tournament.NewEngine(s.matchmaker, s, log)
	s.reg.SetOutcomeListener(s.tournaments)
	s.reg.SetHistoryRecorder(NewHistoryLog(log))
	return s
}

// Registry exposes the session registry for tests and shutdown wiring.
func (s *Server) Registry() *ponggame.Registry { return s.reg }

// Tournaments exposes the bracket engine.
func (s *Server) Tournaments() *tournament.Engine { return s.tournaments }

// Register binds a connection identity to a client. An existing client
// with the same ID is displaced; its transport sees Done close.
func (s *Server) Register(id ponggame.PlayerID, nick string) *Client {
	c := &Client{
		ID:   id,
		Nick: nick,
		out:  make(chan Envelope, outboxSize),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.clients[id]
	s.clients[id] = c
	s.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	s.log.Infof("client %s (%s) registered", id, nick)
	return c
}

// Unregister drops the client and starts the reconnect grace window on
// any live session the player occupies. A client displaced by a newer
// registration is ignored so the replacement keeps its session.
func (s *Server) Unregister(c *Client) {
	s.mu.Lock()
	if s.clients[c.ID] != c {
		s.mu.Unlock()
		c.close()
		return
	}
	delete(s.clients, c.ID)
	s.mu.Unlock()
	c.close()

	if err := s.matchmaker.Cancel(c.ID); err == nil {
		s.log.Debugf("client %s left the queue on disconnect", c.ID)
	}
	if sess := s.reg.SessionForPlayer(c.ID); sess != nil {
		if slot := sess.SlotOf(c.ID); slot != 0 {
			sess.Disconnect(slot, s.super)
		}
	}
	s.log.Infof("client %s unregistered", c.ID)
}

// Deliver implements ponggame.EventSink.
func (s *Server) Deliver(to ponggame.PlayerID, ev ponggame.Event) {
	s.sendTo(to, string(ev.Kind), ev)
}

// Notify implements tournament.Notifier.
func (s *Server) Notify(to ponggame.PlayerID, ev tournament.Event) {
	s.sendTo(to, ev.Kind, ev)
}

func (s *Server) sendTo(to ponggame.PlayerID, kind string, payload any) {
	s.mu.RLock()
	c := s.clients[to]
	s.mu.RUnlock()
	if c == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Errorf("marshal %s for %s: %v", kind, to, err)
		return
	}
	c.send(Envelope{Event: kind, Data: data})
}

func (s *Server) sendError(c *Client, command string, err error) {
	payload := errorPayload{
		Kind:    ponggame.KindOf(err),
		Message: err.Error(),
		Command: command,
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return
	}
	c.send(Envelope{Event: EvError, Data: data})
	s.log.Debugf("command %s from %s rejected: %v", command, c.ID, err)
}

// HandleCommand dispatches one inbound envelope. Rejections go back only
// to the issuing client; engine events reach every affected player via
// Deliver and Notify.
func (s *Server) HandleCommand(c *Client, env Envelope) {
	var err error
	switch env.Event {
	case CmdJoinMatchmaking:
		_, err = s.matchmaker.Enqueue(c.ID, c.Nick)
	case CmdCancelMatchmaking:
		err = s.matchmaker.Cancel(c.ID)
	case CmdCreatePrivate:
		_, err = s.matchmaker.CreatePrivate(c.ID, c.Nick)
	case CmdJoinPrivate:
		var cmd joinPrivateCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			_, err = s.matchmaker.JoinPrivate(cmd.SessionID, c.ID, c.Nick)
		}
	case CmdCreateAI:
		var cmd createAICmd
		if len(env.Data) > 0 {
			err = json.Unmarshal(env.Data, &cmd)
		}
		if err == nil {
			_, err = s.matchmaker.CreateAI(c.ID, c.Nick, cmd.Difficulty)
		}
	case CmdCreateLocal:
		var cmd createLocalCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			if cmd.Names[0] == "" {
				cmd.Names[0] = c.Nick
			}
			if cmd.Names[1] == "" {
				cmd.Names[1] = "Player 2"
			}
			_, err = s.matchmaker.CreateLocal(c.ID, cmd.Names)
		}
	case CmdMove:
		var cmd moveCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			err = s.handleMove(c, cmd)
		}
	case CmdLeave:
		var cmd sessionCmd
		if len(env.Data) > 0 {
			err = json.Unmarshal(env.Data, &cmd)
		}
		if err == nil {
			err = s.handleLeave(c, cmd.SessionID)
		}
	case CmdForfeit:
		var cmd sessionCmd
		if len(env.Data) > 0 {
			err = json.Unmarshal(env.Data, &cmd)
		}
		if err == nil {
			err = s.handleForfeit(c, cmd.SessionID)
		}
	case CmdRejoin:
		var cmd sessionCmd
		if len(env.Data) > 0 {
			err = json.Unmarshal(env.Data, &cmd)
		}
		if err == nil {
			err = s.handleRejoin(c, cmd.SessionID)
		}
	case CmdGetActiveState:
		err = s.handleActiveState(c)
	case CmdTournamentCreate:
		var cmd tournamentCreateCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			_, err = s.tournaments.Create(cmd.Name, cmd.Capacity, c.ID, c.Nick, cmd.Local, cmd.Names)
		}
	case CmdTournamentJoin:
		var cmd tournamentCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			err = s.tournaments.Join(cmd.TournamentID, c.ID, c.Nick)
		}
	case CmdTournamentLeave:
		var cmd tournamentCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			err = s.tournaments.Leave(cmd.TournamentID, c.ID)
		}
	case CmdTournamentStart:
		var cmd tournamentCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			err = s.tournaments.Start(cmd.TournamentID, c.ID)
		}
	case CmdTournamentCancel:
		var cmd tournamentCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			err = s.tournaments.Cancel(cmd.TournamentID, c.ID)
		}
	case CmdTournamentReady:
		var cmd tournamentMatchCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			err = s.tournaments.Ready(cmd.TournamentID, cmd.MatchID, c.ID)
		}
	case CmdPlayNextLocal:
		var cmd tournamentMatchCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			_, err = s.tournaments.PlayNextLocalMatch(cmd.TournamentID, c.ID, cmd.MatchID)
		}
	case CmdGetBracket:
		var cmd tournamentCmd
		if err = json.Unmarshal(env.Data, &cmd); err == nil {
			var view *tournament.BracketView
			if view, err = s.tournaments.Bracket(cmd.TournamentID); err == nil {
				s.Notify(c.ID, tournament.Event{
					Kind:         tournament.EvBracketSnapshot,
					TournamentID: cmd.TournamentID,
					Bracket:      view,
				})
			}
		}
	case CmdListTournaments:
		s.sendTo(c.ID, EvTournamentList, s.tournaments.ListActive())
	default:
		err = ponggame.NewError(ponggame.KindInvalidState, "unknown command %q", env.Event)
	}

	if err != nil {
		s.sendError(c, env.Event, err)
	}
}

func (s *Server) handleMove(c *Client, cmd moveCmd) error {
	sess, err := s.sessionFor(c, cmd.SessionID)
	if err != nil {
		return err
	}

	slot := sess.SlotOf(c.ID)
	if slot == 0 {
		return ponggame.NewError(ponggame.KindUnauthorized, "player %s is not seated in session %s", c.ID, sess.ID)
	}
	// Local modes drive both paddles from one connection; the host picks
	// the seat explicitly. Online players can only move their own paddle.
	if cmd.Slot != 0 && cmd.Slot != slot {
		if !sess.OwnsBothSeats(c.ID) {
			return ponggame.NewError(ponggame.KindUnauthorized, "player %s cannot move seat %d", c.ID, cmd.Slot)
		}
		slot = cmd.Slot
	}

	var dir ponggame.MoveDir
	switch cmd.Direction {
	case "up":
		dir = ponggame.MoveUp
	case "down":
		dir = ponggame.MoveDown
	case "stop", "":
		dir = ponggame.MoveStop
	default:
		return ponggame.NewError(ponggame.KindInvalidState, "unknown direction %q", cmd.Direction)
	}

	sess.ApplyMove(slot, dir)
	return nil
}

func (s *Server) handleLeave(c *Client, sessionID string) error {
	sess, err := s.sessionFor(c, sessionID)
	if err != nil {
		if sessionID == "" {
			// Leaving with no session also clears any queue ticket.
			return s.matchmaker.Cancel(c.ID)
		}
		return err
	}
	slot := sess.SlotOf(c.ID)
	if slot == 0 {
		return ponggame.NewError(ponggame.KindUnauthorized, "player %s is not seated in session %s", c.ID, sess.ID)
	}
	return sess.Leave(slot, s.super)
}

func (s *Server) handleForfeit(c *Client, sessionID string) error {
	sess, err := s.sessionFor(c, sessionID)
	if err != nil {
		return err
	}
	slot := sess.SlotOf(c.ID)
	if slot == 0 {
		return ponggame.NewError(ponggame.KindUnauthorized, "player %s is not seated in session %s", c.ID, sess.ID)
	}
	return sess.Forfeit(slot)
}

func (s *Server) handleRejoin(c *Client, sessionID string) error {
	sess, err := s.sessionFor(c, sessionID)
	if err != nil {
		return err
	}
	_, err = s.super.OnReconnectAttempt(sess, c.ID)
	return err
}

// handleActiveState answers the resume query: the player's current
// session view, if any, so a reloaded client can restore its screen.
func (s *Server) handleActiveState(c *Client) error {
	sess := s.reg.SessionForPlayer(c.ID)
	if sess == nil {
		s.sendTo(c.ID, EvActiveState, ponggame.View{})
		return nil
	}
	s.sendTo(c.ID, EvActiveState, sess.ViewFor(c.ID))
	return nil
}

func (s *Server) sessionFor(c *Client, sessionID string) (*ponggame.Session, error) {
	if sessionID != "" {
		return s.reg.Get(sessionID)
	}
	if sess := s.reg.SessionForPlayer(c.ID); sess != nil {
		return sess, nil
	}
	return nil, ponggame.NewError(ponggame.KindNotFound, "player %s has no active session", c.ID)
}

// Shutdown tears down every live session and reconnect timer. Clients
// see cancellation events before their channels close.
func (s *Server) Shutdown() {
	s.reg.Shutdown()
	s.super.Stop()

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[ponggame.PlayerID]*Client)
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	s.log.Infof("server shut down, %d clients dropped", len(clients))
}
