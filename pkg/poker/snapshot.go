package poker

import (
	"fmt"
	"strings"

	"github.com/lxq2537664558/holdingnuts/pkg/protocol"
)

// buildTableSnapshot renders the table as the positional snapshot payload
// pushed to every player of the game:
//
//	<state>:<betround> <dealer>:<sb>:<bb>:<cur>:<lastagg> cc:<cards> s#... p#... <minbet>
//
// Hole cards appear in a seat element only once they are face up; until then
// each player learns their own cards through a private snapshot.
func buildTableSnapshot(t *Table) string {
	var sb strings.Builder

	betRound := -1
	if t.state == StateBetting {
		betRound = int(t.betRound)
	}
	fmt.Fprintf(&sb, "%d:%d", int(t.state), betRound)

	cur := t.curPlayer
	if t.state == StateGameStart || t.state == StateNewRound {
		cur = -1
	}
	fmt.Fprintf(&sb, " %d:%d:%d:%d:%d", t.dealer, t.sb, t.bb, cur, t.lastBetPlayer)

	sb.WriteString(" cc:")
	for i, c := range t.community {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(c.String())
	}

	for _, seat := range t.seats {
		p := seat.player

		inRound := "-"
		if seat.inRound {
			inRound = "*"
		}
		sitout := 0
		if p.sitout {
			sitout = 1
		}

		hole := "-"
		if (seat.showCards || t.noMoreAction) && len(p.holeCards) == 2 {
			hole = p.holeCards[0].String() + ":" + p.holeCards[1].String()
		}

		fmt.Fprintf(&sb, " s%d:%d:%s:%d:%d:%d:%s",
			seat.seatNo, p.clientID, inRound, p.stake, seat.bet, sitout, hole)
	}

	for i, pot := range t.pots {
		fmt.Fprintf(&sb, " p%d:%d", i, pot.amount)
	}

	var minimum int64
	if t.state == StateBetting {
		minimum = t.minimumBet()
	}
	fmt.Fprintf(&sb, " %d", minimum)

	return sb.String()
}

func (g *GameController) sendTableSnapshot(t *Table) {
	payload := buildTableSnapshot(t)
	for _, p := range g.players {
		g.notifier.SnapToPlayer(g.gameID, t.tableID, p.clientID, protocol.SnapTable, payload)
	}
}

func (g *GameController) sendHoleCards(t *Table, p *Player) {
	payload := p.holeCards[0].String() + " " + p.holeCards[1].String()
	g.notifier.SnapToPlayer(g.gameID, t.tableID, p.clientID, protocol.SnapHoleCards, payload)
}

func (g *GameController) notifySnapGame(state string) {
	for _, p := range g.players {
		g.notifier.SnapToPlayer(g.gameID, -1, p.clientID, protocol.SnapGameState, state)
	}
}
