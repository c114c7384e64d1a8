package poker

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/decred/slog"
)

// Notifier delivers chat lines and snapshots to a single player. The server
// implements it on top of its session registry; tests use an in-memory fake.
type Notifier interface {
	ChatToPlayer(gameID, tableID, clientID int32, text string)
	SnapToPlayer(gameID, tableID, clientID int32, snapID int, payload string)
}

// GameConfig carries the create-time parameters of a game.
type GameConfig struct {
	Name       string
	Owner      int32
	MaxPlayers int
	Stake      int64
	Blind      int64
	Timeout    time.Duration
	Restart    bool
}

// GameController owns one game: its roster before the start, its single
// table once running, and the pacing timers between hands. All methods are
// called from the server's tick goroutine only.
type GameController struct {
	gameID  int32
	name    string
	owner   int32
	restart bool

	maxPlayers int
	stake      int64
	blind      int64

	playerTimeout   time.Duration
	settleDelay     time.Duration
	roundStartDelay time.Duration
	actionDelay     time.Duration
	askShowTimeout  time.Duration

	players []*Player
	table   *Table
	started bool
	ended   bool
	handNo  int

	gameStart  time.Time
	roundStart time.Time

	rng      *rand.Rand
	notifier Notifier
	log      slog.Logger
}

// NewGameController validates the config and returns a controller in the
// waiting state. Zero-value fields fall back to the server defaults;
// explicit out-of-range values are rejected, not clamped.
func NewGameController(gameID int32, cfg GameConfig, notifier Notifier, log slog.Logger) (*GameController, error) {
	if cfg.MaxPlayers == 0 {
		cfg.MaxPlayers = 10
	}
	if cfg.Stake == 0 {
		cfg.Stake = 1500
	}
	if cfg.Blind == 0 {
		cfg.Blind = 10
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	switch {
	case cfg.MaxPlayers < 2 || cfg.MaxPlayers > 10:
		return nil, fmt.Errorf("player count %d out of range 2-10", cfg.MaxPlayers)
	case cfg.Stake < 10:
		return nil, fmt.Errorf("stake %d below minimum 10", cfg.Stake)
	case cfg.Blind < 0:
		return nil, fmt.Errorf("invalid blind %d", cfg.Blind)
	case cfg.Timeout < 10*time.Second || cfg.Timeout > 300*time.Second:
		return nil, fmt.Errorf("timeout %s out of range 10s-300s", cfg.Timeout)
	}

	return &GameController{
		gameID:     gameID,
		name:       cfg.Name,
		owner:      cfg.Owner,
		restart:    cfg.Restart,
		maxPlayers: cfg.MaxPlayers,
		stake:      cfg.Stake,
		blind:      cfg.Blind,

		playerTimeout:   cfg.Timeout,
		settleDelay:     5 * time.Second,
		roundStartDelay: 4 * time.Second,
		actionDelay:     1 * time.Second,
		askShowTimeout:  4 * time.Second,

		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		notifier: notifier,
		log:      log,
	}, nil
}

func (g *GameController) GameID() int32    { return g.gameID }
func (g *GameController) Name() string     { return g.name }
func (g *GameController) Owner() int32     { return g.owner }
func (g *GameController) MaxPlayers() int  { return g.maxPlayers }
func (g *GameController) Stake() int64     { return g.stake }
func (g *GameController) Blind() int64     { return g.blind }
func (g *GameController) Restart() bool    { return g.restart }
func (g *GameController) Started() bool    { return g.started }
func (g *GameController) Ended() bool      { return g.ended }
func (g *GameController) PlayerCount() int { return len(g.players) }

// Config returns the create-time parameters, used to clone a restarting game.
func (g *GameController) Config() GameConfig {
	return GameConfig{
		Name:       g.name,
		Owner:      g.owner,
		MaxPlayers: g.maxPlayers,
		Stake:      g.stake,
		Blind:      g.blind,
		Timeout:    g.playerTimeout,
		Restart:    g.restart,
	}
}

// AddPlayer registers a client for the game. Registration is only possible
// before the game starts and while seats remain.
func (g *GameController) AddPlayer(clientID int32) error {
	if g.started {
		return fmt.Errorf("game %d already started", g.gameID)
	}
	if len(g.players) >= g.maxPlayers {
		return fmt.Errorf("game %d is full", g.gameID)
	}
	if g.findPlayer(clientID) != nil {
		return fmt.Errorf("client %d already registered", clientID)
	}
	g.players = append(g.players, NewPlayer(clientID, g.stake))
	return nil
}

// RemovePlayer unregisters a client. Like registration, this is only
// possible before the game starts.
func (g *GameController) RemovePlayer(clientID int32) error {
	if g.started {
		return fmt.Errorf("game %d already started", g.gameID)
	}
	for i, p := range g.players {
		if p.clientID == clientID {
			g.players = append(g.players[:i], g.players[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("client %d not registered", clientID)
}

// IsPlayer reports whether the client is registered for this game.
func (g *GameController) IsPlayer(clientID int32) bool {
	return g.findPlayer(clientID) != nil
}

// PlayerIDs returns the registered client ids in seating order.
func (g *GameController) PlayerIDs() []int32 {
	ids := make([]int32, len(g.players))
	for i, p := range g.players {
		ids[i] = p.clientID
	}
	return ids
}

func (g *GameController) findPlayer(clientID int32) *Player {
	for _, p := range g.players {
		if p.clientID == clientID {
			return p
		}
	}
	return nil
}

// SetPlayerAction schedules the client's next action. The table picks it up
// on the next tick; scheduling before one's turn acts as a pre-action.
func (g *GameController) SetPlayerAction(clientID int32, action PlayerAction, amount int64) error {
	p := g.findPlayer(clientID)
	if p == nil {
		return fmt.Errorf("client %d not in game %d", clientID, g.gameID)
	}

	switch action {
	case ActionResetAction:
		p.clearAction()
		return nil
	case ActionSitout:
		p.sitout = true
		return nil
	case ActionBack:
		p.sitout = false
		return nil
	}

	p.nextAction = SchedAction{Valid: true, Action: action, Amount: amount}
	return nil
}

// Tick drives the game forward one step. It returns false once the game is
// over and the controller can be discarded.
func (g *GameController) Tick() bool {
	if g.ended {
		return false
	}

	if !g.started {
		if len(g.players) < g.maxPlayers {
			return true
		}
		g.start()
		return true
	}

	if g.table.tick() {
		return true
	}

	// one seat left; the game is decided
	winner := g.table.seats[0].player
	g.chatGame("[%d] wins the game", winner.clientID)
	g.notifySnapGame(SnapGameStateEnd)

	g.log.Infof("game %d ended, winner %d", g.gameID, winner.clientID)
	g.ended = true
	return false
}

func (g *GameController) start() {
	g.started = true
	g.gameStart = time.Now()

	seats := make([]*Seat, len(g.players))
	for i, p := range g.players {
		seats[i] = &Seat{seatNo: i, player: p}
	}
	g.table = newTable(g, 0, seats, NewDeck(g.rng))

	g.log.Infof("game %d started with %d players", g.gameID, len(g.players))
	g.notifySnapGame(SnapGameStateStart)
	g.sendTableSnapshot(g.table)
}

const (
	SnapGameStateStart = "start"
	SnapGameStateEnd   = "end"
)

func (g *GameController) chatGame(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	for _, p := range g.players {
		g.notifier.ChatToPlayer(g.gameID, -1, p.clientID, text)
	}
}

func (g *GameController) chatTable(t *Table, format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	for _, p := range g.players {
		g.notifier.ChatToPlayer(g.gameID, t.tableID, p.clientID, text)
	}
}

func (g *GameController) chatPlayer(t *Table, clientID int32, format string, args ...interface{}) {
	g.notifier.ChatToPlayer(g.gameID, t.tableID, clientID, fmt.Sprintf(format, args...))
}
