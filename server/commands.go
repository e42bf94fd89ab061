package server

import (
	"encoding/json"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
)

// Envelope is the transport frame: an event tag plus a payload. Inbound
// payloads are decoded into the closed command set below and validated
// before they reach the engine; the core never operates on raw JSON.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound command tags.
const (
	CmdJoinMatchmaking   = "join-matchmaking"
	CmdCancelMatchmaking = "cancel-matchmaking"
	CmdCreatePrivate     = "create-private"
	CmdJoinPrivate       = "join-private"
	CmdCreateAI          = "create-ai"
	CmdCreateLocal       = "create-local"
	CmdMove              = "move"
	CmdLeave             = "leave"
	CmdForfeit           = "forfeit"
	CmdRejoin            = "rejoin"
	CmdGetActiveState    = "get-active-state"

	CmdTournamentCreate = "tournament-create"
	CmdTournamentJoin   = "tournament-join"
	CmdTournamentLeave  = "tournament-leave"
	CmdTournamentStart  = "tournament-start"
	CmdTournamentCancel = "tournament-cancel"
	CmdTournamentReady  = "tournament-ready"
	CmdPlayNextLocal    = "play-next-local-match"
	CmdGetBracket       = "get-bracket"
	CmdListTournaments  = "list-tournaments"
)

// Extra outbound tags beyond the engine event kinds.
const (
	EvError          = "error"
	EvActiveState    = "active-state"
	EvTournamentList = "tournament-list"
)

type joinPrivateCmd struct {
	SessionID string `json:"sessionId"`
}

type createAICmd struct {
	Difficulty ponggame.AIDifficulty `json:"difficulty,omitempty"`
}

type createLocalCmd struct {
	Names [2]string `json:"names"`
}

type moveCmd struct {
	SessionID string `json:"sessionId"`
	Direction string `json:"direction"` // "up", "down", "stop"
	// Slot selects the seat in local modes where one connection drives
	// both paddles. Ignored for online sessions.
	Slot int `json:"slot,omitempty"`
}

type sessionCmd struct {
	SessionID string `json:"sessionId"`
}

type tournamentCreateCmd struct {
	Name     string   `json:"name"`
	Capacity int      `json:"capacity"`
	Local    bool     `json:"local,omitempty"`
	Names    []string `json:"names,omitempty"`
}

type tournamentCmd struct {
	TournamentID string `json:"tournamentId"`
}

type tournamentMatchCmd struct {
	TournamentID string `json:"tournamentId"`
	MatchID      string `json:"matchId"`
}

// errorPayload is sent only to the requester whose command was rejected.
type errorPayload struct {
	Kind    ponggame.ErrorKind `json:"kind"`
	Message string             `json:"message"`
	Command string             `json:"command"`
}
