package poker

// Pot is one pot of collected bets. A pot is final once a capped (all-in)
// contributor prevents any further contributions; later bets then flow into a
// fresh side pot. Eligibility to win a pot is implicit in its contributor
// set: only contesting seats that paid into a pot can be paid out of it.
type Pot struct {
	amount       int64
	final        bool
	settled      bool
	contributors map[int32]struct{}
}

func newPot() *Pot {
	return &Pot{contributors: make(map[int32]struct{})}
}

// Amount returns the chips currently in the pot.
func (p *Pot) Amount() int64 { return p.amount }

// Final reports whether the pot accepts no further contributions.
func (p *Pot) Final() bool { return p.final }

// HasContributor reports whether the given player paid into this pot while
// still contesting the hand.
func (p *Pot) HasContributor(cid int32) bool {
	_, ok := p.contributors[cid]
	return ok
}

func (p *Pot) addContribution(cid int32, amount int64, contesting bool) {
	p.amount += amount
	if contesting {
		p.contributors[cid] = struct{}{}
	}
}

// collectBets moves every seat's current-round bet into the pot list. The
// collection caps each pass at the smallest outstanding bet of a contesting
// seat; whenever that cap leaves other contesting seats with chips still on
// the table, the current pot is finalized and a side pot is opened for the
// excess. Folded seats forfeit into whichever pots their chips reach.
func (t *Table) collectBets() {
	for {
		// smallest outstanding bet among contesting seats
		var level int64
		haveLevel := false
		anyBet := false
		for _, s := range t.seats {
			if s.bet <= 0 {
				continue
			}
			anyBet = true
			if s.inRound && (!haveLevel || s.bet < level) {
				level = s.bet
				haveLevel = true
			}
		}
		if !anyBet {
			return
		}
		if !haveLevel {
			// only folded seats still have chips out; dump them as-is
			for _, s := range t.seats {
				if s.bet > level {
					level = s.bet
				}
			}
		}

		pot := t.pots[len(t.pots)-1]
		if pot.final {
			pot = newPot()
			t.pots = append(t.pots, pot)
		}

		for _, s := range t.seats {
			if s.bet <= 0 {
				continue
			}
			c := s.bet
			if c > level {
				c = level
			}
			s.bet -= c
			pot.addContribution(s.player.clientID, c, s.inRound)
		}

		// anything left means the cap came from an all-in seat; close this
		// pot so the remainder contests a side pot
		remaining := false
		for _, s := range t.seats {
			if s.bet > 0 {
				remaining = true
				break
			}
		}
		if !remaining {
			return
		}
		pot.final = true
	}
}

// totalPot returns the chips across all pots.
func (t *Table) totalPot() int64 {
	var total int64
	for _, p := range t.pots {
		total += p.amount
	}
	return total
}

// payoutPots divides each pot among the winning tiers. For every pot the best
// tier containing at least one contributor takes it; the pot's amount is
// split into whole chips per winner and any indivisible remainder stays with
// the pot, unpaid. That truncation is deliberate, mirroring the original
// engine's behavior.
func (t *Table) payoutPots(winlist [][]HandStrength) {
	for _, tier := range winlist {
		for pi, pot := range t.pots {
			if pot.settled || pot.amount == 0 {
				continue
			}

			var involved []int32
			for _, hs := range tier {
				if pot.HasContributor(hs.ClientID) {
					involved = append(involved, hs.ClientID)
				}
			}
			if len(involved) == 0 {
				continue
			}

			share := pot.amount / int64(len(involved))
			if share > 0 {
				for _, cid := range involved {
					p := t.g.findPlayer(cid)
					if p == nil {
						continue
					}
					p.credit(share)
					pot.amount -= share

					t.g.chatTable(t, "[%d] wins pot #%d with %d", cid, pi+1, share)
				}
			}
			pot.settled = true
		}
	}

	t.pots = t.pots[:0]
}
