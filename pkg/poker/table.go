package poker

import (
	"time"

	"github.com/lxq2537664558/holdingnuts/pkg/statemachine"
)

// TableState is the phase of a hand in play.
type TableState int

const (
	StateGameStart TableState = iota
	StateNewRound
	StateBlinds
	StateBetting
	StateAskShow
	StateAllFolded
	StateShowdown
	StateEndRound
)

// BetRound is the current betting street.
type BetRound int

const (
	BetPreflop BetRound = iota
	BetFlop
	BetTurn
	BetRiver
)

// Seat holds one player's per-table state. A seat persists across hands
// until its player goes broke; bet and inRound reset every hand.
type Seat struct {
	seatNo    int
	player    *Player
	inRound   bool
	showCards bool
	bet       int64
}

// Table runs one hand after another for a fixed set of seats. All mutation
// happens on the owning controller's tick, so no locking is needed here.
type Table struct {
	g       *GameController
	tableID int32

	seats []*Seat

	dealer        int
	sb            int
	bb            int
	curPlayer     int
	lastBetPlayer int

	state    TableState
	betRound BetRound

	betAmount     int64
	lastBetAmount int64

	deck      *Deck
	community []Card
	pots      []*Pot

	noMoreAction bool

	betroundStart time.Time
	timeoutStart  time.Time

	sm *statemachine.Machine[Table]
}

func newTable(g *GameController, tableID int32, seats []*Seat, deck *Deck) *Table {
	t := &Table{
		g:       g,
		tableID: tableID,
		seats:   seats,
		deck:    deck,
		state:   StateGameStart,
	}
	t.sm = statemachine.New(t, stateGameStart)
	return t
}

// tick advances the hand by one state-machine step. It returns false once
// the table is finished (a single seat remains after a hand).
func (t *Table) tick() bool {
	t.sm.Step()
	return !t.sm.Done()
}

// nextActiveSeat finds the next seat still contesting the hand.
func (t *Table) nextActiveSeat(cur int) int {
	for i := 0; i < len(t.seats); i++ {
		cur = (cur + 1) % len(t.seats)
		if t.seats[cur].inRound {
			return cur
		}
	}
	return -1
}

func (t *Table) countActiveSeats() int {
	n := 0
	for _, s := range t.seats {
		if s.inRound {
			n++
		}
	}
	return n
}

// isAllin reports whether no further betting is possible because at most one
// contesting seat still has chips behind.
func (t *Table) isAllin() bool {
	n := 0
	for _, s := range t.seats {
		if s.inRound && s.player.stake > 0 {
			n++
		}
	}
	return n <= 1
}

// minimumBet is the lowest round-total a bet or raise must reach: the
// current table bet plus at least the previous raise size, and never less
// than one big blind on top.
func (t *Table) minimumBet() int64 {
	raise := t.betAmount - t.lastBetAmount
	if raise < t.g.blind {
		raise = t.g.blind
	}
	return t.betAmount + raise
}

func (t *Table) dealHole() {
	// two face-down cards each, starting left of the dealer
	for i := 0; i < len(t.seats); i++ {
		seat := t.seats[(t.dealer+1+i)%len(t.seats)]
		if !seat.inRound {
			continue
		}
		c1, _ := t.deck.Draw()
		c2, _ := t.deck.Draw()
		seat.player.setHoleCards(c1, c2)

		t.g.sendHoleCards(t, seat.player)
	}
}

func (t *Table) dealCommunity(n int) {
	for i := 0; i < n; i++ {
		c, _ := t.deck.Draw()
		t.community = append(t.community, c)
	}
}

func stateGameStart(t *Table) statemachine.StateFn[Table] {
	if time.Since(t.g.gameStart) < t.g.settleDelay {
		return stateGameStart
	}

	t.g.chatTable(t, "Game started")

	t.dealer = 0
	t.state = StateNewRound
	t.g.roundStart = time.Now()
	return stateNewRound
}

func stateNewRound(t *Table) statemachine.StateFn[Table] {
	if time.Since(t.g.roundStart) < t.g.roundStartDelay {
		return stateNewRound
	}

	t.g.handNo++
	t.g.chatTable(t, "A new hand #%d begins", t.g.handNo)

	t.deck.Fill()
	t.deck.Shuffle()

	t.community = t.community[:0]
	t.pots = append(t.pots[:0], newPot())
	t.noMoreAction = false
	t.betRound = BetPreflop
	t.betAmount = 0
	t.lastBetAmount = 0

	for _, s := range t.seats {
		s.inRound = true
		s.showCards = false
		s.bet = 0
		s.player.clearAction()
	}

	if len(t.seats) == 2 {
		// heads-up: the dealer posts the small blind and acts first preflop
		t.sb = t.dealer
		t.bb = t.nextActiveSeat(t.sb)
	} else {
		t.sb = t.nextActiveSeat(t.dealer)
		t.bb = t.nextActiveSeat(t.sb)
	}

	t.state = StateBlinds
	return stateBlinds
}

func stateBlinds(t *Table) statemachine.StateFn[Table] {
	sbSeat := t.seats[t.sb]
	bbSeat := t.seats[t.bb]
	sbSeat.bet = sbSeat.player.debit(t.g.blind / 2)
	bbSeat.bet = bbSeat.player.debit(t.g.blind)

	t.g.chatTable(t, "[%d] posts small blind %d, [%d] posts big blind %d",
		sbSeat.player.clientID, sbSeat.bet, bbSeat.player.clientID, bbSeat.bet)

	t.betAmount = t.g.blind
	t.lastBetAmount = 0

	t.dealHole()

	// preflop action opens left of the big blind; the big blind closes it
	t.curPlayer = t.nextActiveSeat(t.bb)
	t.lastBetPlayer = t.curPlayer

	t.betroundStart = time.Now()
	t.timeoutStart = time.Now()

	t.state = StateBetting
	t.g.sendTableSnapshot(t)
	return stateBetting
}

func stateBetting(t *Table) statemachine.StateFn[Table] {
	if time.Since(t.betroundStart) < t.g.actionDelay {
		return stateBetting
	}

	seat := t.seats[t.curPlayer]
	p := seat.player

	minimum := t.minimumBet()

	var action PlayerAction
	var amount int64
	allowed := false
	autoAction := false

	if t.noMoreAction || p.stake == 0 {
		action = ActionNone
		allowed = true
	} else if p.nextAction.Valid {
		action = p.nextAction.Action

		switch action {
		case ActionFold:
			allowed = true
		case ActionCheck:
			if seat.bet == t.betAmount {
				allowed = true
			} else {
				t.g.chatPlayer(t, p.clientID, "You cannot check, there is a bet")
			}
		case ActionCall:
			if t.betAmount == 0 || t.betAmount == seat.bet {
				// nothing to call; retry as a check
				p.nextAction.Action = ActionCheck
				return stateBetting
			}
			if t.betAmount > seat.bet+p.stake {
				p.nextAction.Action = ActionAllin
				return stateBetting
			}
			amount = t.betAmount - seat.bet
			allowed = true
		case ActionBet:
			if t.betAmount > 0 {
				t.g.chatPlayer(t, p.clientID, "You cannot bet, there was already a bet")
			} else if p.nextAction.Amount < minimum {
				t.g.chatPlayer(t, p.clientID, "Minimum bet is %d", minimum)
			} else {
				amount = p.nextAction.Amount - seat.bet
				allowed = true
			}
		case ActionRaise:
			if t.betAmount == 0 {
				// nothing to raise; retry as a bet
				p.nextAction.Action = ActionBet
				return stateBetting
			}
			if p.nextAction.Amount < minimum {
				t.g.chatPlayer(t, p.clientID, "Minimum raise is %d", minimum)
			} else {
				amount = p.nextAction.Amount - seat.bet
				allowed = true
			}
		case ActionAllin:
			amount = p.stake
			allowed = true
		}

		p.nextAction.Valid = false
	} else if p.sitout || time.Since(t.timeoutStart) > t.g.playerTimeout {
		// defaulted: check when free, fold when facing a bet
		if seat.bet < t.betAmount {
			action = ActionFold
		} else {
			action = ActionCheck
		}
		allowed = true
		autoAction = true
	}

	if !allowed {
		return stateBetting
	}

	switch action {
	case ActionFold:
		seat.inRound = false
		t.g.chatTable(t, "[%d] folds%s", p.clientID, autoNote(autoAction))
	case ActionCheck:
		t.g.chatTable(t, "[%d] checks%s", p.clientID, autoNote(autoAction))
	case ActionNone:
		// nothing to do
	default:
		amount = p.debit(amount)
		seat.bet += amount

		switch action {
		case ActionCall:
			t.g.chatTable(t, "[%d] calls %d", p.clientID, amount)
		case ActionBet:
			t.g.chatTable(t, "[%d] bets %d", p.clientID, seat.bet)
		case ActionRaise:
			t.g.chatTable(t, "[%d] raises to %d", p.clientID, seat.bet)
		case ActionAllin:
			t.g.chatTable(t, "[%d] is all-in with %d", p.clientID, seat.bet)
		}

		if seat.bet > t.betAmount && seat.bet >= minimum {
			t.lastBetPlayer = t.curPlayer
			t.lastBetAmount = t.betAmount
			t.betAmount = seat.bet
		}
	}

	if t.countActiveSeats() == 1 {
		t.collectBets()

		t.state = StateAskShow
		t.curPlayer = t.nextActiveSeat(t.curPlayer)
		t.timeoutStart = time.Now()
		t.g.sendTableSnapshot(t)
		return stateAskShow
	}

	next := t.nextActiveSeat(t.curPlayer)

	if next == t.lastBetPlayer {
		// betting round closed
		t.collectBets()
		t.betAmount = 0
		t.lastBetAmount = 0

		if t.isAllin() {
			t.noMoreAction = true
		}

		if t.betRound == BetRiver {
			t.state = StateAskShow
			t.seats[t.lastBetPlayer].showCards = true
			t.curPlayer = t.nextActiveSeat(t.lastBetPlayer)
			t.timeoutStart = time.Now()
			t.g.sendTableSnapshot(t)
			return stateAskShow
		}

		switch t.betRound {
		case BetPreflop:
			t.betRound = BetFlop
			t.dealCommunity(3)
		case BetFlop:
			t.betRound = BetTurn
			t.dealCommunity(1)
		case BetTurn:
			t.betRound = BetRiver
			t.dealCommunity(1)
		}

		// post-flop action opens left of the dealer, one seat further
		// heads-up so the dealer opens again
		t.curPlayer = t.nextActiveSeat(t.dealer)
		if len(t.seats) == 2 {
			t.curPlayer = t.nextActiveSeat(t.curPlayer)
		}
		t.lastBetPlayer = t.curPlayer

		t.betroundStart = time.Now()
		t.timeoutStart = time.Now()
		t.g.sendTableSnapshot(t)
		return stateBetting
	}

	// the aggressor folding hands round-closure duty to the next seat
	if action == ActionFold && t.curPlayer == t.lastBetPlayer {
		t.lastBetPlayer = t.nextActiveSeat(t.lastBetPlayer)
	}

	t.curPlayer = next
	t.betroundStart = time.Now()
	t.timeoutStart = time.Now()

	if !t.noMoreAction && t.seats[next].player.stake > 0 {
		t.g.chatPlayer(t, t.seats[next].player.clientID, "It's your turn")
	}

	t.g.sendTableSnapshot(t)
	return stateBetting
}

func autoNote(auto bool) string {
	if auto {
		return " (auto)"
	}
	return ""
}

func stateAskShow(t *Table) statemachine.StateFn[Table] {
	seat := t.seats[t.curPlayer]
	p := seat.player

	chose := false

	if t.noMoreAction {
		// everyone is all-in; all hands go on their backs
		seat.showCards = true
		chose = true
	} else if p.nextAction.Valid {
		switch p.nextAction.Action {
		case ActionMuck:
			if t.countActiveSeats() > 1 {
				seat.inRound = false
			} else {
				// the last player standing cannot muck a won hand
				seat.showCards = true
			}
			chose = true
		case ActionShow:
			seat.showCards = true
			chose = true
		}
		p.nextAction.Valid = false
	} else if time.Since(t.timeoutStart) > t.g.askShowTimeout {
		// a seat that never answers shows
		seat.showCards = true
		chose = true
	}

	if !chose {
		return stateAskShow
	}

	if seat.showCards {
		t.g.chatTable(t, "[%d] shows the hand", p.clientID)
	} else {
		t.g.chatTable(t, "[%d] mucks the hand", p.clientID)
	}

	if t.countActiveSeats() == 1 {
		t.state = StateAllFolded
		t.g.sendTableSnapshot(t)
		return stateAllFolded
	}

	next := t.nextActiveSeat(t.curPlayer)
	if next == t.lastBetPlayer || t.seats[next].showCards {
		t.state = StateShowdown
		t.g.sendTableSnapshot(t)
		return stateShowdown
	}

	t.curPlayer = next
	t.timeoutStart = time.Now()
	return stateAskShow
}

func stateAllFolded(t *Table) statemachine.StateFn[Table] {
	winner := t.seats[t.nextActiveSeat(t.curPlayer)]

	// the sole contesting seat takes everything, uncalled chips included
	var total int64
	for _, pot := range t.pots {
		total += pot.amount
	}
	winner.player.credit(total)
	t.pots = t.pots[:0]

	t.g.chatTable(t, "[%d] wins %d, everyone else folded", winner.player.clientID, total)

	t.state = StateEndRound
	t.g.sendTableSnapshot(t)
	return stateEndRound
}

func stateShowdown(t *Table) statemachine.StateFn[Table] {
	// the last aggressor reveals first, then clockwise from there
	var strengths []HandStrength
	for i := 0; i < len(t.seats); i++ {
		s := t.seats[(t.lastBetPlayer+i)%len(t.seats)]
		if !s.inRound {
			continue
		}
		hs := EvaluateHand(s.player.holeCards, t.community)
		hs.ClientID = s.player.clientID
		strengths = append(strengths, hs)

		t.g.chatTable(t, "[%d] has %s", s.player.clientID, hs.Description)
	}

	t.payoutPots(WinList(strengths))

	t.state = StateEndRound
	t.g.sendTableSnapshot(t)
	return stateEndRound
}

func stateEndRound(t *Table) statemachine.StateFn[Table] {
	// broke players leave the table
	kept := t.seats[:0]
	for _, s := range t.seats {
		if s.player.stake == 0 {
			t.g.chatPlayer(t, s.player.clientID, "You are broke")
			t.g.chatTable(t, "[%d] is out of the game", s.player.clientID)
			continue
		}
		kept = append(kept, s)
	}
	t.seats = kept

	if len(t.seats) == 1 {
		return nil
	}

	t.dealer = (t.dealer + 1) % len(t.seats)

	t.state = StateNewRound
	t.g.roundStart = time.Now()
	t.g.sendTableSnapshot(t)
	return stateNewRound
}
