package ponggame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineServesTowardSeatOne(t *testing.T) {
	e := NewEngine(testLogger())

	snap := e.Snapshot()
	assert.Equal(t, courtWidth, snap.GameWidth)
	assert.Equal(t, (courtWidth-ballSize)/2, snap.BallX)
	assert.Less(t, e.BallVel.X, 0.0)
}

func TestEngineScoresWhenBallLeavesCourt(t *testing.T) {
	e := NewEngine(testLogger())

	// Drop the ball past seat 1's goal line.
	e.BallPos = Vec2{-ballSize - 1, courtHeight / 2}
	e.BallVel = Vec2{-5, 0}

	winner := e.Advance()
	assert.Equal(t, 2, winner)

	p1, p2 := e.Scores()
	assert.Equal(t, 0, p1)
	assert.Equal(t, 1, p2)

	// The serve alternates to the other side and the rally state resets.
	assert.Greater(t, e.BallVel.X, 0.0)
	assert.Equal(t, 1.0, e.VelocityMultiplier)
	assert.Equal(t, (courtWidth-ballSize)/2, e.BallPos.X)
}

func TestEngineWallBounce(t *testing.T) {
	e := NewEngine(testLogger())

	e.BallPos = Vec2{courtWidth / 2, 1}
	e.BallVel = Vec2{2, -6}

	require.Equal(t, 0, e.Advance())
	assert.Greater(t, e.BallVel.Y, 0.0, "ball must bounce off the top wall")
	assert.GreaterOrEqual(t, e.BallPos.Y, 0.0)
}

func TestEnginePaddleDeflectSpeedsBallUp(t *testing.T) {
	e := NewEngine(testLogger())

	// Park the ball just right of seat 1's paddle, moving left into it.
	e.P1Pos = Vec2{paddleMargin, 200}
	e.BallPos = Vec2{paddleMargin + paddleWidth + 1, 220}
	e.BallVel = Vec2{-4, 0}

	require.Equal(t, 0, e.Advance())
	assert.Greater(t, e.BallVel.X, 0.0, "ball must deflect back toward seat 2")
	assert.Greater(t, e.VelocityMultiplier, 1.0)
}

func TestEnginePaddleClampsToCourt(t *testing.T) {
	e := NewEngine(testLogger())

	e.SetInput(1, MoveUp, 1.0)
	for i := 0; i < 200; i++ {
		e.Advance()
		// Keep the rally alive; only paddle motion matters here.
		e.BallPos = Vec2{courtWidth / 2, courtHeight / 2}
	}
	assert.Equal(t, 0.0, e.P1Pos.Y)

	e.SetInput(1, MoveDown, 1.0)
	for i := 0; i < 200; i++ {
		e.Advance()
		e.BallPos = Vec2{courtWidth / 2, courtHeight / 2}
	}
	assert.Equal(t, courtHeight-paddleHeight, e.P1Pos.Y)
}

func TestEngineAISteersTowardBall(t *testing.T) {
	e := NewEngine(testLogger())

	e.BallPos = Vec2{600, 50}
	e.P2Pos = Vec2{courtWidth - paddleMargin - paddleWidth, 400}

	e.SteerAI(AIHard)
	assert.Less(t, e.P2Vel.Y, 0.0, "paddle must move up toward the ball")

	// Inside the dead zone the paddle holds still.
	e.BallPos = Vec2{600, e.P2Pos.Y + paddleHeight/2 - ballSize/2}
	e.SteerAI(AIHard)
	assert.Equal(t, 0.0, e.P2Vel.Y)
}
