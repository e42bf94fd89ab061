package tournament

import (
	"sync"
	"time"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
)

// Status is the tournament lifecycle state. Transitions are monotonic; a
// tournament never regresses from in_progress to registration.
type Status string

const (
	StatusRegistration Status = "registration"
	StatusStarting     Status = "starting"
	StatusInProgress   Status = "in_progress"
	StatusFinished     Status = "finished"
	StatusCancelled    Status = "cancelled"
)

// MatchStatus is one bracket cell's state.
type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchReady      MatchStatus = "ready"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
)

// Entrant is one registered player. Local tournaments register display
// names only; their entrant IDs stay empty and the creator drives play.
type Entrant struct {
	ID   ponggame.PlayerID
	Nick string
	Seed int
}

// slotRef is one side of a bracket match: an entrant, a bye, or TBD
// (nil entrant, no bye) until the feeding match completes.
type slotRef struct {
	entrant *Entrant
	bye     bool
}

func (r slotRef) resolved() bool {
	return r.entrant != nil
}

// Match is one cell of the bracket. IDs are stable, derived from round
// and slot index, so clients can address cells before they are populated.
type Match struct {
	ID    string
	Round int // 1-based
	Index int // slot index within the round

	Slots  [2]slotRef
	Winner *Entrant
	Status MatchStatus

	// Players that have readied up for this match (online mode).
	ready map[ponggame.PlayerID]bool

	// Bound session once play begins.
	SessionID string
}

// Tournament is a single-elimination bracket competition. The embedded
// lock serializes all mutations; different tournaments never block each
// other.
type Tournament struct {
	sync.RWMutex
	ID        string
	Name      string
	CreatorID ponggame.PlayerID
	Capacity  int // power of two >= 2
	Local     bool
	Status    Status

	Entrants []*Entrant
	Rounds   [][]*Match

	CurrentRound int
	TotalRounds  int
	Winner       *Entrant

	CreatedAt time.Time
}

func (t *Tournament) entrantByID(id ponggame.PlayerID) *Entrant {
	for _, e := range t.Entrants {
		if e.ID == id && id != "" {
			return e
		}
	}
	return nil
}

// matchByID resolves a bracket cell. Callers hold the tournament lock.
func (t *Tournament) matchByID(id string) *Match {
	for _, round := range t.Rounds {
		for _, m := range round {
			if m.ID == id {
				return m
			}
		}
	}
	return nil
}

// playerBusy reports whether id is seated in any in_progress bracket
// match. Enforced before session creation so a player can never play two
// matches at once. Callers hold the lock.
func (t *Tournament) playerBusy(id ponggame.PlayerID) bool {
	if id == "" {
		return false
	}
	for _, round := range t.Rounds {
		for _, m := range round {
			if m.Status != MatchInProgress {
				continue
			}
			for _, s := range m.Slots {
				if s.entrant != nil && s.entrant.ID == id {
					return true
				}
			}
		}
	}
	return false
}

// roundCompleted reports whether every match of round r is completed.
// Callers hold the lock.
func (t *Tournament) roundCompleted(r int) bool {
	for _, m := range t.Rounds[r-1] {
		if m.Status != MatchCompleted {
			return false
		}
	}
	return true
}

// EntrantView is the wire shape of a registered player.
type EntrantView struct {
	ID   ponggame.PlayerID `json:"id,omitempty"`
	Nick string            `json:"nick"`
	Seed int               `json:"seed"`
}

// MatchView is the wire shape of one bracket cell.
type MatchView struct {
	ID        string            `json:"id"`
	Round     int               `json:"round"`
	P1        *EntrantView      `json:"p1,omitempty"`
	P2        *EntrantView      `json:"p2,omitempty"`
	P1Bye     bool              `json:"p1Bye,omitempty"`
	P2Bye     bool              `json:"p2Bye,omitempty"`
	Status    MatchStatus       `json:"status"`
	WinnerID  ponggame.PlayerID `json:"winnerId,omitempty"`
	Winner    string            `json:"winner,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	ReadyIDs  []string          `json:"readyIds,omitempty"`
}

// BracketView is the full bracket for rendering.
type BracketView struct {
	TournamentID string        `json:"tournamentId"`
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	Local        bool          `json:"local"`
	Capacity     int           `json:"capacity"`
	CurrentRound int           `json:"currentRound"`
	TotalRounds  int           `json:"totalRounds"`
	Winner       *EntrantView  `json:"winner,omitempty"`
	Entrants     []EntrantView `json:"entrants"`
	Rounds       [][]MatchView `json:"rounds"`
}

func entrantView(e *Entrant) *EntrantView {
	if e == nil {
		return nil
	}
	return &EntrantView{ID: e.ID, Nick: e.Nick, Seed: e.Seed}
}

// view builds the bracket snapshot. Callers hold at least a read lock.
func (t *Tournament) view() *BracketView {
	v := &BracketView{
		TournamentID: t.ID,
		Name:         t.Name,
		Status:       t.Status,
		Local:        t.Local,
		Capacity:     t.Capacity,
		CurrentRound: t.CurrentRound,
		TotalRounds:  t.TotalRounds,
		Winner:       entrantView(t.Winner),
	}
	for _, e := range t.Entrants {
		v.Entrants = append(v.Entrants, *entrantView(e))
	}
	for _, round := range t.Rounds {
		var mvs []MatchView
		for _, m := range round {
			mv := MatchView{
				ID:        m.ID,
				Round:     m.Round,
				P1:        entrantView(m.Slots[0].entrant),
				P2:        entrantView(m.Slots[1].entrant),
				P1Bye:     m.Slots[0].bye,
				P2Bye:     m.Slots[1].bye,
				Status:    m.Status,
				SessionID: m.SessionID,
			}
			if m.Winner != nil {
				mv.WinnerID = m.Winner.ID
				mv.Winner = m.Winner.Nick
			}
			for id := range m.ready {
				mv.ReadyIDs = append(mv.ReadyIDs, string(id))
			}
			mvs = append(mvs, mv)
		}
		v.Rounds = append(v.Rounds, mvs)
	}
	return v
}
