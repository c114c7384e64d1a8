package poker

// PlayerAction enumerates everything a client may schedule for its player.
// The closed set makes unhandled verbs a compile-visible omission instead of
// a silently ignored string.
type PlayerAction int

const (
	ActionNone PlayerAction = iota
	ActionResetAction

	ActionCheck
	ActionFold
	ActionCall
	ActionBet
	ActionRaise
	ActionAllin

	ActionShow
	ActionMuck

	ActionSitout
	ActionBack
)

// ParseAction maps a wire action token to its PlayerAction. The bool result
// is false for unknown tokens.
func ParseAction(s string) (PlayerAction, bool) {
	switch s {
	case "check":
		return ActionCheck, true
	case "fold":
		return ActionFold, true
	case "call":
		return ActionCall, true
	case "bet":
		return ActionBet, true
	case "raise":
		return ActionRaise, true
	case "allin":
		return ActionAllin, true
	case "show":
		return ActionShow, true
	case "muck":
		return ActionMuck, true
	case "sitout":
		return ActionSitout, true
	case "back":
		return ActionBack, true
	case "reset":
		return ActionResetAction, true
	default:
		return ActionNone, false
	}
}

// SchedAction is a pending action request set by the protocol layer and
// consumed by the table state machine. Amount is the round-total target for
// bet/raise.
type SchedAction struct {
	Valid  bool
	Action PlayerAction
	Amount int64
}

// Player is one registered participant of a game. The GameController is the
// only mutator of a player's internals; other components read through
// accessors.
type Player struct {
	clientID int32

	stake int64

	holeCards []Card

	nextAction SchedAction

	sitout bool
}

// NewPlayer creates a player with the given identity and starting stake.
func NewPlayer(clientID int32, stake int64) *Player {
	return &Player{
		clientID:  clientID,
		stake:     stake,
		holeCards: make([]Card, 0, 2),
	}
}

// ClientID returns the player's session identity.
func (p *Player) ClientID() int32 { return p.clientID }

// Stake returns the player's remaining chips.
func (p *Player) Stake() int64 { return p.stake }

// HoleCards returns the player's concealed cards.
func (p *Player) HoleCards() []Card { return p.holeCards }

// debit removes up to amount chips from the stake, capped at the remaining
// balance, and returns what was actually taken. Stakes never go negative.
func (p *Player) debit(amount int64) int64 {
	if amount > p.stake {
		amount = p.stake
	}
	p.stake -= amount
	return amount
}

func (p *Player) credit(amount int64) {
	p.stake += amount
}

func (p *Player) setHoleCards(c1, c2 Card) {
	p.holeCards = append(p.holeCards[:0], c1, c2)
}

func (p *Player) clearAction() {
	p.nextAction = SchedAction{}
}
