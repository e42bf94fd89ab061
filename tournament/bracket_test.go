package tournament

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
)

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{
		1:  2,
		2:  2,
		3:  4,
		4:  4,
		5:  8,
		8:  8,
		9:  16,
		16: 16,
		17: 32,
	}
	for n, want := range cases {
		assert.Equal(t, want, nextPowerOfTwo(n), "n=%d", n)
	}
}

func TestSeedOrderProperties(t *testing.T) {
	for _, size := range []int{2, 4, 8, 16, 32} {
		order := seedOrder(size)
		require.Len(t, order, size)

		// A permutation of 1..size.
		seen := make(map[int]bool, size)
		for _, s := range order {
			assert.False(t, seen[s])
			seen[s] = true
			assert.GreaterOrEqual(t, s, 1)
			assert.LessOrEqual(t, s, size)
		}

		// Every first-round pairing sums to size+1, so seed 1 meets the
		// weakest seed and top seeds cannot collide early.
		for i := 0; i < size; i += 2 {
			assert.Equal(t, size+1, order[i]+order[i+1])
		}
		assert.Equal(t, 1, order[0])
	}
}

func buildTestTournament(nicks ...string) *Tournament {
	tr := &Tournament{ID: "t", Status: StatusRegistration}
	for i, n := range nicks {
		tr.Entrants = append(tr.Entrants, &Entrant{
			ID:   ponggame.PlayerID("p" + n),
			Nick: n,
			Seed: i + 1,
		})
	}
	return tr
}

func TestBuildBracketFullField(t *testing.T) {
	tr := buildTestTournament("a", "b", "c", "d")
	tr.buildBracket()

	assert.Equal(t, 4, tr.Capacity)
	assert.Equal(t, 2, tr.TotalRounds)
	require.Len(t, tr.Rounds, 2)
	require.Len(t, tr.Rounds[0], 2)
	require.Len(t, tr.Rounds[1], 1)

	// Without byes every round-1 match is immediately playable.
	for _, m := range tr.Rounds[0] {
		assert.Equal(t, MatchReady, m.Status)
		assert.True(t, m.Slots[0].resolved())
		assert.True(t, m.Slots[1].resolved())
	}
	assert.Equal(t, MatchPending, tr.Rounds[1][0].Status)

	// Seed 1 meets seed 4, seed 2 meets seed 3.
	assert.Equal(t, 1, tr.Rounds[0][0].Slots[0].entrant.Seed)
	assert.Equal(t, 4, tr.Rounds[0][0].Slots[1].entrant.Seed)
	assert.Equal(t, 2, tr.Rounds[0][1].Slots[0].entrant.Seed)
	assert.Equal(t, 3, tr.Rounds[0][1].Slots[1].entrant.Seed)
}

func TestBuildBracketGivesByesToTopSeeds(t *testing.T) {
	tr := buildTestTournament("a", "b", "c")
	tr.buildBracket()

	assert.Equal(t, 4, tr.Capacity)
	require.Len(t, tr.Rounds[0], 2)

	// Seed 1's opponent slot is a bye; the match auto-completes and the
	// winner is already waiting in the final.
	first := tr.Rounds[0][0]
	assert.True(t, first.Slots[1].bye)
	assert.Equal(t, MatchCompleted, first.Status)
	require.NotNil(t, first.Winner)
	assert.Equal(t, 1, first.Winner.Seed)

	final := tr.Rounds[1][0]
	assert.Equal(t, MatchPending, final.Status)
	require.True(t, final.Slots[0].resolved())
	assert.Equal(t, 1, final.Slots[0].entrant.Seed)
	assert.False(t, final.Slots[1].resolved())

	// The playable pairing is seed 2 vs seed 3.
	second := tr.Rounds[0][1]
	assert.Equal(t, MatchReady, second.Status)
}

func TestCompleteMatchPropagatesWinner(t *testing.T) {
	tr := buildTestTournament("a", "b", "c", "d")
	tr.buildBracket()

	m := tr.Rounds[0][1]
	winner := m.Slots[1].entrant
	tr.completeMatch(m, winner)

	assert.Equal(t, MatchCompleted, m.Status)
	final := tr.Rounds[1][0]
	assert.Equal(t, winner, final.Slots[1].entrant)
	assert.Equal(t, MatchPending, final.Status)

	other := tr.Rounds[0][0]
	tr.completeMatch(other, other.Slots[0].entrant)
	assert.Equal(t, MatchReady, final.Status)

	// The final's winner settles the tournament.
	tr.completeMatch(final, final.Slots[0].entrant)
	assert.Equal(t, final.Slots[0].entrant, tr.Winner)
}

func TestBuildBracketLargeField(t *testing.T) {
	nicks := make([]string, 0, 11)
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"} {
		nicks = append(nicks, n)
	}
	tr := buildTestTournament(nicks...)
	tr.buildBracket()

	assert.Equal(t, 16, tr.Capacity)
	assert.Equal(t, 4, tr.TotalRounds)

	byes, autoCompleted := 0, 0
	for _, m := range tr.Rounds[0] {
		for _, s := range m.Slots {
			if s.bye {
				byes++
			}
		}
		if m.Status == MatchCompleted {
			autoCompleted++
		}
	}
	// 16 slots, 11 players.
	assert.Equal(t, 5, byes)
	assert.Equal(t, 5, autoCompleted)
}
