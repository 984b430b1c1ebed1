// Package cards implements the trick-taking card game server: the game
// data model, the line protocol, a readiness-multiplexed reactor, and
// the orchestrator that drives deals to completion.
package cards

import (
	"github.com/pkg/errors"
)

// Rank is one of the thirteen card ranks, ordered low to high.
type Rank int

const (
	Rank2 Rank = iota
	Rank3
	Rank4
	Rank5
	Rank6
	Rank7
	Rank8
	Rank9
	Rank10
	RankJ
	RankQ
	RankK
	RankA
)

var rankNames = [...]string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "A"}

func (r Rank) String() string {
	if r < 0 || int(r) >= len(rankNames) {
		return "?"
	}
	return rankNames[r]
}

// Suit is one of the four suits.
type Suit byte

const (
	Clubs Suit = iota
	Diamonds
	Hearts
	Spades
)

func (s Suit) String() string {
	switch s {
	case Clubs:
		return "C"
	case Diamonds:
		return "D"
	case Hearts:
		return "H"
	case Spades:
		return "S"
	default:
		return "?"
	}
}

// Card is a (rank, suit) pair. Comparison by rank is only meaningful
// within the same suit (spec.md §3).
type Card struct {
	Rank Rank
	Suit Suit
}

func (c Card) String() string { return c.Rank.String() + c.Suit.String() }

// ParseCard greedily parses the longest rank token ("10" before "1"),
// then exactly one suit character, per spec.md §4.5 and §8's boundary
// behaviour for "10" split mid-token.
func ParseCard(s string) (Card, int, error) {
	if len(s) < 2 {
		return Card{}, 0, errors.Errorf("card %q too short", s)
	}
	var rank Rank
	consumed := 1
	if len(s) >= 2 && s[:2] == "10" {
		rank, consumed = Rank10, 2
	} else {
		switch s[0] {
		case '2':
			rank = Rank2
		case '3':
			rank = Rank3
		case '4':
			rank = Rank4
		case '5':
			rank = Rank5
		case '6':
			rank = Rank6
		case '7':
			rank = Rank7
		case '8':
			rank = Rank8
		case '9':
			rank = Rank9
		case 'J':
			rank = RankJ
		case 'Q':
			rank = RankQ
		case 'K':
			rank = RankK
		case 'A':
			rank = RankA
		default:
			return Card{}, 0, errors.Errorf("card %q: bad rank", s)
		}
	}
	if len(s) <= consumed {
		return Card{}, 0, errors.Errorf("card %q: missing suit", s)
	}
	var suit Suit
	switch s[consumed] {
	case 'C':
		suit = Clubs
	case 'D':
		suit = Diamonds
	case 'H':
		suit = Hearts
	case 'S':
		suit = Spades
	default:
		return Card{}, 0, errors.Errorf("card %q: bad suit", s)
	}
	return Card{Rank: rank, Suit: suit}, consumed + 1, nil
}

// Seat is one of the four table positions.
type Seat int

const (
	North Seat = iota
	East
	South
	West
)

func (s Seat) String() string {
	switch s {
	case North:
		return "N"
	case East:
		return "E"
	case South:
		return "S"
	case West:
		return "W"
	default:
		return "?"
	}
}

// ParseSeat parses a single seat letter.
func ParseSeat(b byte) (Seat, error) {
	switch b {
	case 'N':
		return North, nil
	case 'E':
		return East, nil
	case 'S':
		return South, nil
	case 'W':
		return West, nil
	default:
		return 0, errors.Errorf("bad seat letter %q", b)
	}
}

// Next returns the seat to the current seat's left (play proceeds
// clockwise N→E→S→W→N).
func (s Seat) Next() Seat { return (s + 1) % 4 }

// Deck is an ordered, duplicate-free sequence of cards.
type Deck []Card

// Contains reports whether c is present in the deck.
func (d Deck) Contains(c Card) bool {
	for _, x := range d {
		if x == c {
			return true
		}
	}
	return false
}

// ContainsSuit reports whether any card of suit s is present.
func (d Deck) ContainsSuit(s Suit) bool {
	for _, x := range d {
		if x.Suit == s {
			return true
		}
	}
	return false
}

// Remove deletes the first occurrence of c, reporting whether it was
// present.
func (d *Deck) Remove(c Card) bool {
	for i, x := range *d {
		if x == c {
			*d = append((*d)[:i], (*d)[i+1:]...)
			return true
		}
	}
	return false
}

// Push appends c to the deck.
func (d *Deck) Push(c Card) { *d = append(*d, c) }

// PenaltyTable scores one completed trick according to the deal
// variant (spec.md §4.5). trickIndex is 1-based.
func PenaltyTable(variant int, trickIndex int, trick [4]Card) (int, error) {
	switch variant {
	case 1:
		return 1, nil
	case 2:
		n := 0
		for _, c := range trick {
			if c.Suit == Hearts {
				n++
			}
		}
		return n, nil
	case 3:
		n := 0
		for _, c := range trick {
			if c.Rank == RankQ {
				n++
			}
		}
		return 5 * n, nil
	case 4:
		n := 0
		for _, c := range trick {
			if c.Rank == RankJ || c.Rank == RankK {
				n++
			}
		}
		return 2 * n, nil
	case 5:
		for _, c := range trick {
			if c.Rank == RankK && c.Suit == Hearts {
				return 18, nil
			}
		}
		return 0, nil
	case 6:
		if trickIndex == 7 || trickIndex == 13 {
			return 10, nil
		}
		return 0, nil
	case 7:
		total := 0
		for v := 1; v <= 6; v++ {
			p, err := PenaltyTable(v, trickIndex, trick)
			if err != nil {
				return 0, err
			}
			total += p
		}
		return total, nil
	default:
		return 0, errors.Errorf("unknown deal variant %d", variant)
	}
}

// trickTaker returns the seat that won a trick whose opener was
// `opener` and whose four cards are `trick[opener], trick[opener.Next()], ...`
// in play order. Off-suit cards never win (spec.md §4.5).
func trickTaker(opener Seat, trick [4]Card) Seat {
	openSuit := trick[opener].Suit
	best := opener
	for i := 1; i < 4; i++ {
		s := (opener + Seat(i)) % 4
		if trick[s].Suit == openSuit && trick[s].Rank > trick[best].Rank {
			best = s
		}
	}
	return best
}

// TrickRecord is one completed trick, kept for replay to late joiners.
type TrickRecord struct {
	Cards   [4]Card // indexed by Seat
	Starter Seat
	Taker   Seat
}

// Deal is one round of 13 tricks under a chosen scoring variant.
type Deal struct {
	Variant int
	Starter Seat
	Hands   [4]Deck

	// InitialHands is a snapshot of each seat's 13 cards as dealt,
	// unaffected by subsequent Play calls; it is what a newly seated
	// or replaced player's DEAL message reports (spec.md §4.8.2).
	InitialHands [4]Deck

	TrickCards   [4]Card
	TrickStarter Seat
	Placed       int
	Completed    int
	Scores       [4]int

	History []TrickRecord
}

// NewDeal constructs a deal in its initial state: hands as dealt,
// zero tricks completed, no history.
func NewDeal(variant int, starter Seat, hands [4]Deck) (*Deal, error) {
	if variant < 1 || variant > 7 {
		return nil, errors.Errorf("bad deal variant %d", variant)
	}
	for _, h := range hands {
		if len(h) != 13 {
			return nil, errors.Errorf("hand has %d cards, want 13", len(h))
		}
	}
	initial := [4]Deck{}
	for s, h := range hands {
		initial[s] = append(Deck(nil), h...)
	}
	return &Deal{
		Variant:      variant,
		Starter:      starter,
		Hands:        hands,
		InitialHands: initial,
		TrickStarter: starter,
	}, nil
}

// NextPlayer returns the seat whose turn it currently is.
func (d *Deal) NextPlayer() Seat {
	return (d.TrickStarter + Seat(d.Placed)) % 4
}

// TrickIndex returns the 1-based index of the trick currently being played.
func (d *Deal) TrickIndex() int { return d.Completed + 1 }

// Finished reports whether all 13 tricks have completed.
func (d *Deal) Finished() bool { return d.Completed == 13 }

// Legal reports whether seat p may play c right now: it must be p's
// turn, c must be in p's hand, and c must follow suit of the trick
// opener if p holds any card of that suit (spec.md §3 invariants).
func (d *Deal) Legal(p Seat, c Card) error {
	if p != d.NextPlayer() {
		return errors.Errorf("not %s's turn", p)
	}
	if !d.Hands[p].Contains(c) {
		return errors.Errorf("%s does not hold %s", p, c)
	}
	if d.Placed > 0 {
		openSuit := d.TrickCards[d.TrickStarter].Suit
		if c.Suit != openSuit && d.Hands[p].ContainsSuit(openSuit) {
			return errors.Errorf("%s must follow suit %s", p, openSuit)
		}
	}
	return nil
}

// Play applies a legal card play by seat p, completing the trick and
// updating scores/history when the fourth card lands (spec.md §4.8.3).
// The play is checked with Legal first; an illegal play returns its error
// and leaves the deal unchanged.
func (d *Deal) Play(p Seat, c Card) (completed *TrickRecord, err error) {
	if err := d.Legal(p, c); err != nil {
		return nil, err
	}
	d.Hands[p].Remove(c)
	d.TrickCards[p] = c
	d.Placed++
	if d.Placed < 4 {
		return nil, nil
	}

	taker := trickTaker(d.TrickStarter, d.TrickCards)
	penalty, err := PenaltyTable(d.Variant, d.TrickIndex(), d.TrickCards)
	if err != nil {
		return nil, err
	}
	d.Scores[taker] += penalty

	rec := TrickRecord{Cards: d.TrickCards, Starter: d.TrickStarter, Taker: taker}
	d.History = append(d.History, rec)
	d.Completed++
	d.Placed = 0
	d.TrickStarter = taker
	d.TrickCards = [4]Card{}
	return &rec, nil
}

// Game is an ordered sequence of deals read from the deal file.
type Game struct {
	Deals   []*Deal
	Cursor  int
	Totals  [4]int
}

// Current returns the deal currently in progress, or nil if the game
// has no more deals.
func (g *Game) Current() *Deal {
	if g.Cursor >= len(g.Deals) {
		return nil
	}
	return g.Deals[g.Cursor]
}

// Advance folds the current deal's scores into Totals and moves the
// cursor to the next deal. Reports whether a next deal exists.
func (g *Game) Advance() bool {
	if d := g.Current(); d != nil {
		for s := 0; s < 4; s++ {
			g.Totals[s] += d.Scores[s]
		}
	}
	g.Cursor++
	return g.Cursor < len(g.Deals)
}

// ValidateDeal checks that a deal's four hands form a valid partition
// of the 52-card deck: 13 cards each, every card distinct, every card
// legal. This is a supplementary check a deal-file loader can call
// before handing hands to NewDeal; NewDeal itself only checks counts.
func ValidateDeal(hands [4]Deck) error {
	seen := make(map[Card]Seat, 52)
	for seat, h := range hands {
		if len(h) != 13 {
			return errors.Errorf("seat %s has %d cards, want 13", Seat(seat), len(h))
		}
		for _, c := range h {
			if c.Rank < Rank2 || c.Rank > RankA || c.Suit > Spades {
				return errors.Errorf("seat %s holds invalid card %s", Seat(seat), c)
			}
			if other, dup := seen[c]; dup {
				return errors.Errorf("card %s dealt to both %s and %s", c, other, Seat(seat))
			}
			seen[c] = Seat(seat)
		}
	}
	if len(seen) != 52 {
		return errors.Errorf("deal covers %d distinct cards, want 52", len(seen))
	}
	return nil
}
