package tournament

import (
	"fmt"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
)

// nextPowerOfTwo returns the smallest power of two >= n, minimum 2.
func nextPowerOfTwo(n int) int {
	size := 2
	for size < n {
		size *= 2
	}
	return size
}

// seedOrder returns the standard single-elimination placement of seeds
// 1..size: seed 1 meets the lowest seed, seed 2 the next lowest, and so
// on, so the top seeds can only meet in the late rounds. Seeds beyond the
// registered count become byes, which this order hands to the top seeds
// first.
func seedOrder(size int) []int {
	order := []int{1}
	for len(order) < size {
		n := len(order) * 2
		next := make([]int, 0, n)
		for _, s := range order {
			next = append(next, s, n+1-s)
		}
		order = next
	}
	return order
}

func matchID(round, index int) string {
	return fmt.Sprintf("r%dm%d", round, index)
}

// buildBracket generates every round for the registered entrants. Round 1
// is populated from the seed order; later rounds start as TBD cells. Byes
// auto-complete and propagate. Callers hold the tournament lock.
func (t *Tournament) buildBracket() {
	n := len(t.Entrants)
	size := nextPowerOfTwo(n)
	t.Capacity = size

	rounds := 0
	for s := size; s > 1; s /= 2 {
		rounds++
	}
	t.TotalRounds = rounds
	t.CurrentRound = 1

	bySeed := make(map[int]*Entrant, n)
	for _, e := range t.Entrants {
		bySeed[e.Seed] = e
	}

	t.Rounds = make([][]*Match, rounds)
	order := seedOrder(size)
	for r := 1; r <= rounds; r++ {
		count := size >> uint(r)
		t.Rounds[r-1] = make([]*Match, count)
		for i := 0; i < count; i++ {
			m := &Match{
				ID:     matchID(r, i),
				Round:  r,
				Index:  i,
				Status: MatchPending,
				ready:  make(map[ponggame.PlayerID]bool),
			}
			if r == 1 {
				m.Slots[0] = seedSlot(bySeed, order[2*i])
				m.Slots[1] = seedSlot(bySeed, order[2*i+1])
			}
			t.Rounds[r-1][i] = m
		}
	}

	// Auto-resolve byes, then mark playable round-1 matches ready.
	for _, m := range t.Rounds[0] {
		switch {
		case m.Slots[0].bye && m.Slots[1].resolved():
			t.completeMatch(m, m.Slots[1].entrant)
		case m.Slots[1].bye && m.Slots[0].resolved():
			t.completeMatch(m, m.Slots[0].entrant)
		default:
			m.Status = MatchReady
		}
	}
}

func seedSlot(bySeed map[int]*Entrant, seed int) slotRef {
	if e, ok := bySeed[seed]; ok {
		return slotRef{entrant: e}
	}
	return slotRef{bye: true}
}

// completeMatch records a winner and feeds it into the next round. The
// final round's match sets the tournament winner instead. Callers hold
// the lock.
func (t *Tournament) completeMatch(m *Match, winner *Entrant) {
	m.Winner = winner
	m.Status = MatchCompleted

	if m.Round == t.TotalRounds {
		t.Winner = winner
		return
	}

	next := t.Rounds[m.Round][m.Index/2]
	next.Slots[m.Index%2] = slotRef{entrant: winner}
	if next.Slots[0].resolved() && next.Slots[1].resolved() && next.Status == MatchPending {
		next.Status = MatchReady
	}
}
