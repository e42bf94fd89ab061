package ponggame

import (
	"context"
	"sync"
	"time"

	"github.com/decred/slog"
)

// PlayerID is the stable identity handed to us by the identity provider.
// It is opaque to the engine; an empty ID marks an AI or local guest seat.
type PlayerID string

// Mode describes how a session was created.
type Mode string

const (
	ModeQuick      Mode = "quick"
	ModePrivate    Mode = "private"
	ModeAI         Mode = "ai"
	ModeLocal      Mode = "local"
	ModeTournament Mode = "tournament"
)

// State is the session lifecycle state. Finished and Cancelled are terminal.
type State string

const (
	StateWaiting    State = "waiting"
	StateStarting   State = "starting"
	StateInProgress State = "in_progress"
	StatePaused     State = "paused"
	StateFinished   State = "finished"
	StateCancelled  State = "cancelled"
)

// ConnState tracks one seat's connection.
type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnLeft         ConnState = "left"
)

// MoveDir is a paddle movement intent for the next simulation frame.
type MoveDir int

const (
	MoveStop MoveDir = iota
	MoveUp           // toward negative Y
	MoveDown         // toward positive Y
)

// AIDifficulty scales the synthetic opponent's paddle speed.
type AIDifficulty string

const (
	AIEasy   AIDifficulty = "easy"
	AIMedium AIDifficulty = "medium"
	AIHard   AIDifficulty = "hard"
)

// Slot is one of the two seats in a session. Identity is immutable once
// bound, except in local mode where both seats share one connection.
type Slot struct {
	ID   PlayerID
	Nick string
	AI   bool

	Conn              ConnState
	ReconnectDeadline time.Time
}

// TournamentLink ties a session back to the bracket cell it plays for.
type TournamentLink struct {
	TournamentID string
	Round        int
	MatchID      string
}

// Session is a single match between two seats. Owned exclusively by the
// Registry; every mutation goes through its methods under the embedded lock.
type Session struct {
	sync.RWMutex
	ID        string
	Mode      Mode
	Slots     [2]*Slot
	State     State
	Countdown int
	Link      *TournamentLink
	CreatedAt time.Time

	// Outcome, valid once State is finished.
	WinnerSlot   int // 1 or 2, 0 while undecided
	WonByForfeit bool

	engine *CanvasEngine
	aiDiff AIDifficulty

	// epoch invalidates timer callbacks armed for an older incarnation of
	// this session's state. Bumped on every transition that supersedes a
	// pending timer.
	epoch uint64

	ctx    context.Context
	cancel context.CancelFunc

	cfg     Config
	sink    EventSink
	outcome OutcomeListener
	history HistoryRecorder
	release func()

	lastSnap *Snapshot
	log      slog.Logger
}

// Config carries the tunables every session shares. Zero values are
// replaced with defaults by Normalize.
type Config struct {
	TickInterval      time.Duration
	CountdownSeconds  int
	CountdownInterval time.Duration
	WinScore          int
	ReconnectGrace    time.Duration
}

const (
	defaultTickInterval   = time.Second / 30
	defaultCountdown      = 3
	defaultWinScore       = 3
	defaultReconnectGrace = 30 * time.Second
)

// Normalize fills unset fields with the engine defaults.
func (c Config) Normalize() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = defaultCountdown
	}
	if c.CountdownInterval <= 0 {
		c.CountdownInterval = time.Second
	}
	if c.WinScore <= 0 {
		c.WinScore = defaultWinScore
	}
	if c.ReconnectGrace <= 0 {
		c.ReconnectGrace = defaultReconnectGrace
	}
	return c
}

// EventSink receives lifecycle and snapshot events for delivery to a
// player's connection. Implementations must not block; the engine treats
// delivery as fire-and-forget.
type EventSink interface {
	Deliver(to PlayerID, ev Event)
}

// Outcome reports how a tournament-linked session ended.
type Outcome struct {
	Link       TournamentLink
	SessionID  string
	WinnerSlot int // 0 when the session ended without a winner
	WinnerID   PlayerID
	Forfeit    bool
	Cancelled  bool
}

// OutcomeListener is notified of terminal results on tournament-linked
// sessions. Called after the session lock is released.
type OutcomeListener interface {
	SessionOutcome(o Outcome)
}

// SessionRecord is the terminal summary handed to the history
// collaborator. The engine never consults history for in-flight
// decisions.
type SessionRecord struct {
	SessionID  string
	Mode       Mode
	Link       *TournamentLink
	Nicks      [2]string
	Score      [2]int
	WinnerSlot int
	WinnerID   PlayerID
	Forfeit    bool
	Cancelled  bool
	EndedAt    time.Time
}

// HistoryRecorder persists terminal outcomes, fire-and-forget.
type HistoryRecorder interface {
	RecordSession(rec SessionRecord)
}
