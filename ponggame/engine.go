package ponggame

import (
	"sync"

	"github.com/decred/slog"
	"github.com/ndabAP/ping-pong/engine"
)

const (
	courtWidth  = 800.0
	courtHeight = 600.0

	paddleWidth  = 10.0
	paddleHeight = 75.0
	ballSize     = 15.0

	// Per-frame speeds as ratios of the court dimensions.
	yVelRatio      = 0.02
	ballVelRatio   = 0.011
	defaultVelIncr = 1.06
	maxVelMult     = 3.0

	paddleMargin = 20.0
)

// Vec2 is a 2D position or velocity.
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Add(w Vec2) Vec2 {
	return Vec2{v.X + w.X, v.Y + w.Y}
}

func (v Vec2) Scale(s float64) Vec2 {
	return Vec2{v.X * s, v.Y * s}
}

// Snapshot is one frame of simulation state, emitted on every tick.
type Snapshot struct {
	GameWidth  float64 `json:"gameWidth"`
	GameHeight float64 `json:"gameHeight"`

	PaddleWidth  float64 `json:"paddleWidth"`
	PaddleHeight float64 `json:"paddleHeight"`
	BallWidth    float64 `json:"ballWidth"`
	BallHeight   float64 `json:"ballHeight"`

	P1X   float64 `json:"p1X"`
	P1Y   float64 `json:"p1Y"`
	P2X   float64 `json:"p2X"`
	P2Y   float64 `json:"p2Y"`
	BallX float64 `json:"ballX"`
	BallY float64 `json:"ballY"`

	P1Score int `json:"p1Score"`
	P2Score int `json:"p2Score"`
}

// CanvasEngine advances the Pong simulation one frame at a time. It owns
// its own lock so move intents can land between ticks without holding the
// session lock.
type CanvasEngine struct {
	Game engine.Game

	P1Score, P2Score int

	BallPos, BallVel Vec2
	P1Pos, P2Pos     Vec2
	P1Vel, P2Vel     Vec2

	// Ball speeds up on every paddle return.
	VelocityMultiplier float64
	VelocityIncrease   float64

	// Err marks the current rally's end, engine.ErrP1Win or ErrP2Win.
	Err error

	serveTo int // seat receiving the next serve, 1 or 2

	log slog.Logger
	mu  sync.RWMutex
}

// NewEngine creates a CanvasEngine on the standard court.
func NewEngine(log slog.Logger) *CanvasEngine {
	game := engine.NewGame(
		courtWidth, courtHeight,
		engine.NewPlayer(paddleWidth, paddleHeight),
		engine.NewPlayer(paddleWidth, paddleHeight),
		engine.NewBall(ballSize, ballSize),
	)

	e := &CanvasEngine{
		Game:             game,
		VelocityIncrease: defaultVelIncr,
		serveTo:          1,
		log:              log,
	}
	e.mu.Lock()
	e.reset()
	e.mu.Unlock()
	return e
}

// reset recenters paddles and serves the ball. Scores survive; callers
// hold e.mu.
func (e *CanvasEngine) reset() {
	e.Err = nil
	e.VelocityMultiplier = 1.0

	e.P1Pos = Vec2{paddleMargin, (courtHeight - paddleHeight) / 2}
	e.P2Pos = Vec2{courtWidth - paddleMargin - paddleWidth, (courtHeight - paddleHeight) / 2}
	e.P1Vel, e.P2Vel = Vec2{}, Vec2{}

	e.BallPos = Vec2{(courtWidth - ballSize) / 2, (courtHeight - ballSize) / 2}
	vx := ballVelRatio * courtWidth
	if e.serveTo == 1 {
		vx = -vx
	}
	// Alternate serves; slight vertical drift so rallies do not stall on
	// the horizontal axis.
	e.BallVel = Vec2{vx, ballVelRatio * courtHeight * 0.5}
	if e.serveTo == 1 {
		e.serveTo = 2
	} else {
		e.serveTo = 1
	}
}

// SetInput records a seat's movement intent for subsequent frames.
// speedRatio scales the paddle speed, 1.0 for human players.
func (e *CanvasEngine) SetInput(slot int, dir MoveDir, speedRatio float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	speed := yVelRatio * e.Game.Height * speedRatio
	var vel Vec2
	switch dir {
	case MoveUp:
		vel = Vec2{0, -speed}
	case MoveDown:
		vel = Vec2{0, speed}
	case MoveStop:
		vel = Vec2{}
	}

	if slot == 1 {
		e.P1Vel = vel
	} else if slot == 2 {
		e.P2Vel = vel
	}
}

// SteerAI points seat 2's paddle toward the ball at a difficulty-scaled
// speed. Called once per tick for AI sessions.
func (e *CanvasEngine) SteerAI(diff AIDifficulty) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ratio float64
	switch diff {
	case AIEasy:
		ratio = 0.45
	case AIHard:
		ratio = 1.0
	default:
		ratio = 0.7
	}

	paddleCenter := e.P2Pos.Y + paddleHeight/2
	ballCenter := e.BallPos.Y + ballSize/2
	speed := yVelRatio * e.Game.Height * ratio

	// Dead zone so the paddle does not jitter around the ball.
	switch {
	case ballCenter < paddleCenter-ballSize:
		e.P2Vel = Vec2{0, -speed}
	case ballCenter > paddleCenter+ballSize:
		e.P2Vel = Vec2{0, speed}
	default:
		e.P2Vel = Vec2{}
	}
}

// Advance runs one simulation frame. It returns the seat that won the
// rally, or 0 while the rally continues. Scores are applied internally.
func (e *CanvasEngine) Advance() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick()

	var winner int
	switch e.Err {
	case engine.ErrP1Win:
		e.P1Score++
		winner = 1
	case engine.ErrP2Win:
		e.P2Score++
		winner = 2
	default:
		return 0
	}

	e.reset()
	return winner
}

// tick integrates one frame. Callers hold e.mu.
func (e *CanvasEngine) tick() {
	// Paddles, clamped to the court.
	e.P1Pos = clampY(e.P1Pos.Add(e.P1Vel), e.Game.Height, paddleHeight)
	e.P2Pos = clampY(e.P2Pos.Add(e.P2Vel), e.Game.Height, paddleHeight)

	// Ball.
	e.BallPos = e.BallPos.Add(e.BallVel.Scale(e.VelocityMultiplier))

	// Wall bounces.
	if e.BallPos.Y <= 0 {
		e.BallPos.Y = 0
		e.BallVel.Y = -e.BallVel.Y
	} else if e.BallPos.Y+ballSize >= e.Game.Height {
		e.BallPos.Y = e.Game.Height - ballSize
		e.BallVel.Y = -e.BallVel.Y
	}

	// Paddle returns. The return angle follows where the ball struck the
	// paddle face.
	if e.BallVel.X < 0 && e.overlaps(e.P1Pos) {
		e.BallPos.X = e.P1Pos.X + paddleWidth
		e.deflect(e.P1Pos)
	} else if e.BallVel.X > 0 && e.overlaps(e.P2Pos) {
		e.BallPos.X = e.P2Pos.X - ballSize
		e.deflect(e.P2Pos)
	}

	// Rally end.
	if e.BallPos.X+ballSize < 0 {
		e.Err = engine.ErrP2Win
	} else if e.BallPos.X > e.Game.Width {
		e.Err = engine.ErrP1Win
	}
}

func (e *CanvasEngine) overlaps(paddle Vec2) bool {
	return e.BallPos.X < paddle.X+paddleWidth &&
		e.BallPos.X+ballSize > paddle.X &&
		e.BallPos.Y < paddle.Y+paddleHeight &&
		e.BallPos.Y+ballSize > paddle.Y
}

func (e *CanvasEngine) deflect(paddle Vec2) {
	offset := (e.BallPos.Y + ballSize/2 - paddle.Y - paddleHeight/2) / (paddleHeight / 2)
	e.BallVel.X = -e.BallVel.X
	e.BallVel.Y = offset * ballVelRatio * e.Game.Height
	if e.VelocityMultiplier < maxVelMult {
		e.VelocityMultiplier *= e.VelocityIncrease
	}
}

func clampY(pos Vec2, height, size float64) Vec2 {
	if pos.Y < 0 {
		pos.Y = 0
	} else if pos.Y+size > height {
		pos.Y = height - size
	}
	return pos
}

// Scores returns the current score pair.
func (e *CanvasEngine) Scores() (int, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.P1Score, e.P2Score
}

// Snapshot captures the current frame for consumers.
func (e *CanvasEngine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &Snapshot{
		GameWidth:    e.Game.Width,
		GameHeight:   e.Game.Height,
		PaddleWidth:  paddleWidth,
		PaddleHeight: paddleHeight,
		BallWidth:    ballSize,
		BallHeight:   ballSize,
		P1X:          e.P1Pos.X,
		P1Y:          e.P1Pos.Y,
		P2X:          e.P2Pos.X,
		P2Y:          e.P2Pos.Y,
		BallX:        e.BallPos.X,
		BallY:        e.BallPos.Y,
		P1Score:      e.P1Score,
		P2Score:      e.P2Score,
	}
}
