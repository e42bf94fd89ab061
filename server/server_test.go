package server

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
	"github.com/veloxity343/ft-transcendence-sub001/tournament"
)

func testLogger() slog.Logger {
	log := slog.NewBackend(io.Discard).Logger("TEST")
	log.SetLevel(slog.LevelOff)
	return log
}

func testGameConfig() ponggame.Config {
	return ponggame.Config{
		TickInterval:      2 * time.Millisecond,
		CountdownSeconds:  2,
		CountdownInterval: 5 * time.Millisecond,
		WinScore:          3,
		ReconnectGrace:    50 * time.Millisecond,
	}
}

func createTestServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(testGameConfig(), testLogger())
	t.Cleanup(srv.Shutdown)
	return srv
}

// awaitEnvelope drains a client's outbox until an envelope of the wanted
// kind arrives.
func awaitEnvelope(t *testing.T, c *Client, kind string) Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.out:
			if env.Event == kind {
				return env
			}
		case <-deadline:
			t.Fatalf("no %q envelope arrived", kind)
			return Envelope{}
		}
	}
}

func command(t *testing.T, event string, payload any) Envelope {
	t.Helper()
	if payload == nil {
		return Envelope{Event: event}
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Event: event, Data: data}
}

func TestRegisterReplacesPreviousClient(t *testing.T) {
	srv := createTestServer(t)

	first := srv.Register("alice", "Alice")
	second := srv.Register("alice", "Alice")

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("displaced client was not closed")
	}
	select {
	case <-second.Done():
		t.Fatal("fresh client must stay open")
	default:
	}
}

func TestJoinMatchmakingPairsTwoClients(t *testing.T) {
	srv := createTestServer(t)

	alice := srv.Register("alice", "Alice")
	bob := srv.Register("bob", "Bob")

	srv.HandleCommand(alice, command(t, CmdJoinMatchmaking, nil))
	waiting := awaitEnvelope(t, alice, string(ponggame.EvSessionWaiting))

	var wev ponggame.Event
	require.NoError(t, json.Unmarshal(waiting.Data, &wev))
	assert.NotEmpty(t, wev.SessionID)
	assert.Equal(t, 1, wev.Slot)

	srv.HandleCommand(bob, command(t, CmdJoinMatchmaking, nil))
	starting := awaitEnvelope(t, bob, string(ponggame.EvSessionStarting))

	var sev ponggame.Event
	require.NoError(t, json.Unmarshal(starting.Data, &sev))
	assert.Equal(t, wev.SessionID, sev.SessionID)
	assert.Equal(t, 2, sev.Slot)
	assert.Equal(t, [2]string{"Alice", "Bob"}, sev.Nicks)

	// Both sides receive live frames once the countdown elapses.
	awaitEnvelope(t, alice, string(ponggame.EvSessionUpdate))
	awaitEnvelope(t, bob, string(ponggame.EvSessionUpdate))
}

func TestUnknownCommandReturnsError(t *testing.T) {
	srv := createTestServer(t)
	c := srv.Register("alice", "Alice")

	srv.HandleCommand(c, Envelope{Event: "no-such-command"})
	env := awaitEnvelope(t, c, EvError)

	var p errorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "no-such-command", p.Command)
	assert.Equal(t, ponggame.KindInvalidState, p.Kind)
}

func TestErrorsGoOnlyToRequester(t *testing.T) {
	srv := createTestServer(t)
	alice := srv.Register("alice", "Alice")
	bob := srv.Register("bob", "Bob")

	srv.HandleCommand(alice, command(t, CmdJoinPrivate, joinPrivateCmd{SessionID: "missing"}))
	awaitEnvelope(t, alice, EvError)

	select {
	case env := <-bob.out:
		t.Fatalf("bystander received %q", env.Event)
	default:
	}
}

func TestMoveChecksSeatOwnership(t *testing.T) {
	srv := createTestServer(t)
	alice := srv.Register("alice", "Alice")
	bob := srv.Register("bob", "Bob")

	srv.HandleCommand(alice, command(t, CmdJoinMatchmaking, nil))
	srv.HandleCommand(bob, command(t, CmdJoinMatchmaking, nil))
	awaitEnvelope(t, alice, string(ponggame.EvSessionUpdate))

	// Moving the opponent's paddle in an online match is rejected.
	srv.HandleCommand(alice, command(t, CmdMove, moveCmd{Direction: "up", Slot: 2}))
	env := awaitEnvelope(t, alice, EvError)
	var p errorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, ponggame.KindUnauthorized, p.Kind)

	// Moving one's own paddle is fine.
	srv.HandleCommand(alice, command(t, CmdMove, moveCmd{Direction: "up"}))
	srv.HandleCommand(alice, command(t, CmdMove, moveCmd{Direction: "bogus"}))
	env = awaitEnvelope(t, alice, EvError)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, ponggame.KindInvalidState, p.Kind)
}

func TestLocalMatchDrivesBothSeats(t *testing.T) {
	srv := createTestServer(t)
	host := srv.Register("host", "Host")

	srv.HandleCommand(host, command(t, CmdCreateLocal, createLocalCmd{Names: [2]string{"Left", "Right"}}))
	awaitEnvelope(t, host, string(ponggame.EvSessionUpdate))

	sess := srv.Registry().SessionForPlayer("host")
	require.NotNil(t, sess)
	first := sess.ViewFor("host").Snapshot
	require.NotNil(t, first)

	// The host steers the right-hand paddle from the same connection.
	srv.HandleCommand(host, command(t, CmdMove, moveCmd{Direction: "up", Slot: 2}))
	require.Eventually(t, func() bool {
		snap := sess.ViewFor("host").Snapshot
		return snap != nil && snap.P2Y < first.P2Y
	}, 2*time.Second, 5*time.Millisecond)
}

func TestActiveStateResume(t *testing.T) {
	srv := createTestServer(t)
	alice := srv.Register("alice", "Alice")

	srv.HandleCommand(alice, command(t, CmdGetActiveState, nil))
	env := awaitEnvelope(t, alice, EvActiveState)
	var empty ponggame.View
	require.NoError(t, json.Unmarshal(env.Data, &empty))
	assert.Empty(t, empty.SessionID)

	srv.HandleCommand(alice, command(t, CmdCreateAI, createAICmd{Difficulty: ponggame.AIEasy}))
	awaitEnvelope(t, alice, string(ponggame.EvSessionUpdate))

	srv.HandleCommand(alice, command(t, CmdGetActiveState, nil))
	for {
		env = awaitEnvelope(t, alice, EvActiveState)
		var v ponggame.View
		require.NoError(t, json.Unmarshal(env.Data, &v))
		if v.SessionID != "" {
			assert.Equal(t, ponggame.ModeAI, v.Mode)
			assert.Equal(t, 1, v.Slot)
			return
		}
	}
}

func TestDisconnectStartsGraceAndRejoinResumes(t *testing.T) {
	srv := createTestServer(t)
	alice := srv.Register("alice", "Alice")
	bob := srv.Register("bob", "Bob")

	srv.HandleCommand(alice, command(t, CmdJoinMatchmaking, nil))
	srv.HandleCommand(bob, command(t, CmdJoinMatchmaking, nil))
	awaitEnvelope(t, bob, string(ponggame.EvSessionUpdate))

	srv.Unregister(bob)
	awaitEnvelope(t, alice, string(ponggame.EvOpponentDisconnected))

	sess := srv.Registry().SessionForPlayer("alice")
	require.NotNil(t, sess)

	// Bob reconnects within the grace window and play resumes.
	bob = srv.Register("bob", "Bob")
	srv.HandleCommand(bob, command(t, CmdRejoin, nil))
	awaitEnvelope(t, alice, string(ponggame.EvOpponentReconnected))
	awaitEnvelope(t, bob, string(ponggame.EvSessionUpdate))
}

func TestDisconnectExpiryForfeits(t *testing.T) {
	srv := createTestServer(t)
	alice := srv.Register("alice", "Alice")
	bob := srv.Register("bob", "Bob")

	srv.HandleCommand(alice, command(t, CmdJoinMatchmaking, nil))
	srv.HandleCommand(bob, command(t, CmdJoinMatchmaking, nil))
	awaitEnvelope(t, bob, string(ponggame.EvSessionUpdate))

	srv.Unregister(bob)

	env := awaitEnvelope(t, alice, string(ponggame.EvSessionFinished))
	var ev ponggame.Event
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.True(t, ev.Forfeit)
	assert.Equal(t, ponggame.PlayerID("alice"), ev.WinnerID)
}

func TestForfeitAddressesSessionByID(t *testing.T) {
	srv := createTestServer(t)
	alice := srv.Register("alice", "Alice")
	bob := srv.Register("bob", "Bob")

	srv.HandleCommand(alice, command(t, CmdJoinMatchmaking, nil))
	srv.HandleCommand(bob, command(t, CmdJoinMatchmaking, nil))
	awaitEnvelope(t, bob, string(ponggame.EvSessionUpdate))

	sess := srv.Registry().SessionForPlayer("bob")
	require.NotNil(t, sess)

	// A stale session id is rejected without touching the live session.
	srv.HandleCommand(bob, command(t, CmdForfeit, sessionCmd{SessionID: "missing"}))
	env := awaitEnvelope(t, bob, EvError)
	var p errorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, ponggame.KindNotFound, p.Kind)

	srv.HandleCommand(bob, command(t, CmdForfeit, sessionCmd{SessionID: sess.ID}))
	fin := awaitEnvelope(t, alice, string(ponggame.EvSessionFinished))
	var ev ponggame.Event
	require.NoError(t, json.Unmarshal(fin.Data, &ev))
	assert.True(t, ev.Forfeit)
	assert.Equal(t, ponggame.PlayerID("alice"), ev.WinnerID)
}

func TestTournamentCommandsRoundTrip(t *testing.T) {
	srv := createTestServer(t)
	alice := srv.Register("alice", "Alice")
	bob := srv.Register("bob", "Bob")

	srv.HandleCommand(alice, command(t, CmdTournamentCreate, tournamentCreateCmd{Name: "Cup", Capacity: 2}))
	created := awaitEnvelope(t, alice, tournament.EvCreated)

	var cev tournament.Event
	require.NoError(t, json.Unmarshal(created.Data, &cev))
	require.NotEmpty(t, cev.TournamentID)

	srv.HandleCommand(bob, command(t, CmdTournamentJoin, tournamentCmd{TournamentID: cev.TournamentID}))
	awaitEnvelope(t, alice, tournament.EvJoined)

	srv.HandleCommand(bob, command(t, CmdListTournaments, nil))
	list := awaitEnvelope(t, bob, EvTournamentList)
	var views []tournament.BracketView
	require.NoError(t, json.Unmarshal(list.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "Cup", views[0].Name)

	srv.HandleCommand(alice, command(t, CmdTournamentStart, tournamentCmd{TournamentID: cev.TournamentID}))
	ready := awaitEnvelope(t, bob, tournament.EvMatchReady)
	var rev tournament.Event
	require.NoError(t, json.Unmarshal(ready.Data, &rev))
	assert.Equal(t, "r1m0", rev.MatchID)

	srv.HandleCommand(alice, command(t, CmdTournamentReady, tournamentMatchCmd{TournamentID: cev.TournamentID, MatchID: "r1m0"}))
	srv.HandleCommand(bob, command(t, CmdTournamentReady, tournamentMatchCmd{TournamentID: cev.TournamentID, MatchID: "r1m0"}))
	starting := awaitEnvelope(t, alice, tournament.EvMatchStarting)
	var sev tournament.Event
	require.NoError(t, json.Unmarshal(starting.Data, &sev))
	assert.NotEmpty(t, sev.SessionID)

	// The bracket match and the live session are linked both ways.
	srv.HandleCommand(alice, command(t, CmdGetBracket, tournamentCmd{TournamentID: cev.TournamentID}))
	snap := awaitEnvelope(t, alice, tournament.EvBracketSnapshot)
	var bev tournament.Event
	require.NoError(t, json.Unmarshal(snap.Data, &bev))
	require.NotNil(t, bev.Bracket)
	assert.Equal(t, sev.SessionID, bev.Bracket.Rounds[0][0].SessionID)

	// The match winner finishes the two-player bracket.
	sess, err := srv.Registry().Get(sev.SessionID)
	require.NoError(t, err)
	require.NoError(t, sess.Forfeit(2))
	completed := awaitEnvelope(t, bob, tournament.EvCompleted)
	var done tournament.Event
	require.NoError(t, json.Unmarshal(completed.Data, &done))
	assert.Equal(t, ponggame.PlayerID("alice"), done.WinnerID)
}

func TestHistoryLogKeepsRecentRecords(t *testing.T) {
	h := NewHistoryLog(testLogger())

	for i := 0; i < 5; i++ {
		h.RecordSession(ponggame.SessionRecord{
			SessionID:  string(rune('a' + i)),
			Mode:       ponggame.ModeQuick,
			Nicks:      [2]string{"A", "B"},
			WinnerSlot: 1,
		})
	}

	recent := h.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "e", recent[0].SessionID)
	assert.Equal(t, "d", recent[1].SessionID)
	assert.Len(t, h.Recent(0), 5)
}
