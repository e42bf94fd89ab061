package ponggame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestMatchmaker(cfg Config) (*Matchmaker, *Registry, *captureSink) {
	reg, sink := createTestRegistry(cfg)
	return NewMatchmaker(reg, testLogger()), reg, sink
}

func TestEnqueueCreatesWaitingSession(t *testing.T) {
	mm, reg, sink := createTestMatchmaker(testConfig())

	s, err := mm.Enqueue("alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, stateOf(s))
	assert.Equal(t, 1, mm.QueueLen())
	assert.True(t, sink.has("alice", EvSessionWaiting))
	assert.Equal(t, s, reg.SessionForPlayer("alice"))
}

func TestEnqueuePairsFIFO(t *testing.T) {
	mm, _, sink := createTestMatchmaker(testConfig())

	first, err := mm.Enqueue("alice", "Alice")
	require.NoError(t, err)

	second, err := mm.Enqueue("bob", "Bob")
	require.NoError(t, err)

	// The second player joins the first player's session; alice keeps
	// slot 1.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0, mm.QueueLen())
	assert.Equal(t, 1, second.SlotOf("alice"))
	assert.Equal(t, 2, second.SlotOf("bob"))

	waitForState(t, second, StateInProgress)
	assert.True(t, sink.has("bob", EvSessionStarting))
}

func TestEnqueueRejectsDoubleJoin(t *testing.T) {
	mm, _, _ := createTestMatchmaker(testConfig())

	_, err := mm.Enqueue("alice", "Alice")
	require.NoError(t, err)

	_, err = mm.Enqueue("alice", "Alice")
	assert.Equal(t, KindAlreadyInSession, KindOf(err))
	assert.Equal(t, 1, mm.QueueLen())
}

func TestCancelRemovesTicket(t *testing.T) {
	mm, reg, _ := createTestMatchmaker(testConfig())

	s, err := mm.Enqueue("alice", "Alice")
	require.NoError(t, err)

	require.NoError(t, mm.Cancel("alice"))
	assert.Equal(t, 0, mm.QueueLen())
	assert.Equal(t, StateCancelled, stateOf(s))
	assert.Nil(t, reg.SessionForPlayer("alice"))

	err = mm.Cancel("alice")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestStaleTicketIsSkipped(t *testing.T) {
	mm, _, _ := createTestMatchmaker(testConfig())

	_, err := mm.Enqueue("alice", "Alice")
	require.NoError(t, err)

	// Alice's session dies but her ticket survives in the queue; the next
	// enqueue must drop it and wait instead of pairing with a ghost.
	s := mm.reg.SessionForPlayer("alice")
	require.NotNil(t, s)
	s.ForceEnd()

	queued, err := mm.Enqueue("bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, stateOf(queued))
	assert.Equal(t, 1, mm.QueueLen())
	assert.Equal(t, 1, queued.SlotOf("bob")) // bob owns slot 1 of a fresh session
}

func TestPrivateMatchFlow(t *testing.T) {
	mm, _, sink := createTestMatchmaker(testConfig())

	s, err := mm.CreatePrivate("alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, stateOf(s))
	assert.True(t, sink.has("alice", EvSessionWaiting))

	_, err = mm.JoinPrivate("no-such-code", "bob", "Bob")
	assert.Equal(t, KindNotFound, KindOf(err))

	joined, err := mm.JoinPrivate(s.ID, "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, s.ID, joined.ID)
	waitForState(t, joined, StateInProgress)

	// The session is no longer joinable.
	_, err = mm.JoinPrivate(s.ID, "carol", "Carol")
	require.Error(t, err)
}

func TestJoinPrivateRejectsQuickSession(t *testing.T) {
	mm, _, _ := createTestMatchmaker(testConfig())

	s, err := mm.Enqueue("alice", "Alice")
	require.NoError(t, err)

	_, err = mm.JoinPrivate(s.ID, "bob", "Bob")
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestCreateAIStartsImmediately(t *testing.T) {
	mm, _, _ := createTestMatchmaker(testConfig())

	s, err := mm.CreateAI("alice", "Alice", AIHard)
	require.NoError(t, err)
	assert.Equal(t, ModeAI, s.Mode)

	s.RLock()
	assert.True(t, s.Slots[1].AI)
	assert.Equal(t, "AI (hard)", s.Slots[1].Nick)
	s.RUnlock()

	waitForState(t, s, StateInProgress)
}

func TestCreateAIDefaultsToMedium(t *testing.T) {
	mm, _, _ := createTestMatchmaker(testConfig())

	s, err := mm.CreateAI("alice", "Alice", "")
	require.NoError(t, err)
	s.RLock()
	assert.Equal(t, "AI (medium)", s.Slots[1].Nick)
	s.RUnlock()
}

func TestCreateLocalHostOwnsBothSeats(t *testing.T) {
	mm, _, _ := createTestMatchmaker(testConfig())

	s, err := mm.CreateLocal("host", [2]string{"Left", "Right"})
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, s.Mode)
	assert.True(t, s.OwnsBothSeats("host"))
	waitForState(t, s, StateInProgress)
}

func TestCreateTournamentSessionCarriesLink(t *testing.T) {
	mm, reg, _ := createTestMatchmaker(testConfig())

	link := TournamentLink{TournamentID: "t1", Round: 1, MatchID: "r1m0"}
	id, err := mm.CreateTournamentSession(link,
		Slot{ID: "alice", Nick: "Alice", Conn: ConnConnected},
		Slot{ID: "bob", Nick: "Bob", Conn: ConnConnected})
	require.NoError(t, err)

	s, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, ModeTournament, s.Mode)
	require.NotNil(t, s.Link)
	assert.Equal(t, "r1m0", s.Link.MatchID)

	mm.ForceEndSession(id)
	require.Eventually(t, func() bool {
		_, err := reg.Get(id)
		return err != nil
	}, time.Second, time.Millisecond)
}
