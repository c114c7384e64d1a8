package poker

import "math/rand"

// Suit represents a card suit.
type Suit byte

const (
	Clubs    Suit = 'c'
	Diamonds Suit = 'd'
	Hearts   Suit = 'h'
	Spades   Suit = 's'
)

// Rank represents a card rank.
type Rank byte

const (
	Two   Rank = '2'
	Three Rank = '3'
	Four  Rank = '4'
	Five  Rank = '5'
	Six   Rank = '6'
	Seven Rank = '7'
	Eight Rank = '8'
	Nine  Rank = '9'
	Ten   Rank = 'T'
	Jack  Rank = 'J'
	Queen Rank = 'Q'
	King  Rank = 'K'
	Ace   Rank = 'A'
)

var suits = []Suit{Clubs, Diamonds, Hearts, Spades}
var ranks = []Rank{Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King, Ace}

// Card represents a playing card.
type Card struct {
	rank Rank
	suit Suit
}

// NewCard creates a card with the given rank and suit.
func NewCard(rank Rank, suit Suit) Card {
	return Card{rank: rank, suit: suit}
}

// Rank returns the card's rank.
func (c Card) Rank() Rank { return c.rank }

// Suit returns the card's suit.
func (c Card) Suit() Suit { return c.suit }

// String returns the two-character wire name of the card, e.g. "As" or "7c".
func (c Card) String() string {
	return string([]byte{byte(c.rank), byte(c.suit)})
}

// Deck represents a deck of cards with a draw cursor.
type Deck struct {
	cards []Card
	rng   *rand.Rand
}

// NewDeck creates a full, shuffled 52-card deck using the given random number
// generator.
func NewDeck(rng *rand.Rand) *Deck {
	d := &Deck{
		cards: make([]Card, 0, 52),
		rng:   rng,
	}
	d.Fill()
	d.Shuffle()
	return d
}

// Fill resets the deck to all 52 cards in canonical order.
func (d *Deck) Fill() {
	d.cards = d.cards[:0]
	for _, s := range suits {
		for _, r := range ranks {
			d.cards = append(d.cards, Card{rank: r, suit: s})
		}
	}
}

// Shuffle randomizes the order of the remaining cards.
func (d *Deck) Shuffle() {
	d.rng.Shuffle(len(d.cards), func(i, j int) {
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	})
}

// Draw removes and returns the top card from the deck.
func (d *Deck) Draw() (Card, bool) {
	if len(d.cards) == 0 {
		return Card{}, false
	}
	card := d.cards[0]
	d.cards = d.cards[1:]
	return card, true
}

// Size returns the number of cards remaining in the deck.
func (d *Deck) Size() int {
	return len(d.cards)
}
