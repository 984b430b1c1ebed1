package cards

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DealSource loads the game a server will run. The Task 2 server's CLI
// shell is the only documented caller; this package ships one real
// implementation (NewFileGameSource) so cmd/cards-server runs end-to-end,
// but any source satisfying this interface may be substituted.
type DealSource interface {
	LoadGame() (*Game, error)
}

// fileGameSource implements DealSource against the deal-file format of
// spec.md §6.3: one block per deal, first line "<variant><starter>",
// next 4 lines each seat's 13 cards concatenated, blocks repeat.
type fileGameSource struct {
	r io.Reader
}

// NewFileGameSource wraps an already-open deal file.
func NewFileGameSource(r io.Reader) DealSource {
	return &fileGameSource{r: r}
}

func (s *fileGameSource) LoadGame() (*Game, error) {
	scanner := bufio.NewScanner(s.r)
	var deals []*Deal
	for {
		header, ok := nextNonBlankLine(scanner)
		if !ok {
			break
		}
		if len(header) < 2 {
			return nil, errors.Errorf("deal file: bad header %q", header)
		}
		if header[0] < '1' || header[0] > '7' {
			return nil, errors.Errorf("deal file: bad variant in %q", header)
		}
		variant := int(header[0] - '0')
		starter, err := ParseSeat(header[1])
		if err != nil {
			return nil, errors.Wrapf(err, "deal file: bad starter in %q", header)
		}
		var hands [4]Deck
		for seat := 0; seat < 4; seat++ {
			line, ok := nextNonBlankLine(scanner)
			if !ok {
				return nil, errors.Errorf("deal file: truncated hand for seat %s", Seat(seat))
			}
			hand, err := parseHandLine(line)
			if err != nil {
				return nil, errors.Wrapf(err, "deal file: seat %s", Seat(seat))
			}
			hands[seat] = hand
		}
		if err := ValidateDeal(hands); err != nil {
			return nil, errors.Wrap(err, "deal file")
		}
		deal, err := NewDeal(variant, starter, hands)
		if err != nil {
			return nil, errors.Wrap(err, "deal file")
		}
		deals = append(deals, deal)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "deal file: read")
	}
	if len(deals) == 0 {
		return nil, errors.New("deal file: no deals")
	}
	return &Game{Deals: deals}, nil
}

func nextNonBlankLine(scanner *bufio.Scanner) (string, bool) {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line, true
		}
	}
	return "", false
}

func parseHandLine(line string) (Deck, error) {
	var hand Deck
	for line != "" {
		c, n, err := ParseCard(line)
		if err != nil {
			return nil, err
		}
		hand = append(hand, c)
		line = line[n:]
	}
	if len(hand) != 13 {
		return nil, errors.Errorf("hand has %d cards, want 13", len(hand))
	}
	return hand, nil
}

// CardChooser picks the next card to play for a client operating in
// automatic mode (spec.md §6.3's "-a").
type CardChooser interface {
	Choose(hand Deck, soFar []Card) (Card, error)
}

// randomChooser picks uniformly among the cards that legally follow
// soFar, using an injected *rand.Rand (the "global random" redesign
// note of spec.md §9: no package-level generator, so tests can seed
// their own).
type randomChooser struct {
	rng *rand.Rand
}

// NewRandomChooser wraps rng (caller-seeded, so callers control
// determinism).
func NewRandomChooser(rng *rand.Rand) CardChooser {
	return &randomChooser{rng: rng}
}

func (c *randomChooser) Choose(hand Deck, soFar []Card) (Card, error) {
	if len(hand) == 0 {
		return Card{}, errors.New("cards: empty hand, nothing to play")
	}
	legal := hand
	if len(soFar) > 0 {
		open := soFar[0].Suit
		if hand.ContainsSuit(open) {
			var following Deck
			for _, card := range hand {
				if card.Suit == open {
					following = append(following, card)
				}
			}
			legal = following
		}
	}
	return legal[c.rng.Intn(len(legal))], nil
}

// UI prompts a human operator in manual mode (spec.md §6.3: "prompts
// the operator with the protocol's contents").
type UI interface {
	PromptCard(hand Deck, soFar []Card) (Card, error)
	ShowWrong(index int)
	ShowTaken(m TakenMsg)
	ShowScore(m ScoreMsg)
	ShowTotal(m TotalMsg)
}

// stdioUI is the default manual-mode UI: plain text on stdout/stdin.
type stdioUI struct {
	in  *bufio.Reader
	out io.Writer
}

// NewStdioUI wraps the process's standard input/output.
func NewStdioUI(in io.Reader, out io.Writer) UI {
	return &stdioUI{in: bufio.NewReader(in), out: out}
}

func (u *stdioUI) PromptCard(hand Deck, soFar []Card) (Card, error) {
	fmt.Fprintf(u.out, "hand:")
	for _, c := range hand {
		fmt.Fprintf(u.out, " %s", c)
	}
	fmt.Fprintln(u.out)
	if len(soFar) > 0 {
		fmt.Fprintf(u.out, "trick so far:")
		for _, c := range soFar {
			fmt.Fprintf(u.out, " %s", c)
		}
		fmt.Fprintln(u.out)
	}
	fmt.Fprint(u.out, "play card: ")
	for {
		line, err := u.in.ReadString('\n')
		if err != nil {
			return Card{}, errors.Wrap(err, "read card")
		}
		line = strings.TrimSpace(line)
		c, n, err := ParseCard(line)
		if err != nil || n != len(line) {
			fmt.Fprint(u.out, "unrecognised card, try again: ")
			continue
		}
		return c, nil
	}
}

func (u *stdioUI) ShowWrong(index int) { fmt.Fprintf(u.out, "WRONG %d\n", index) }
func (u *stdioUI) ShowTaken(m TakenMsg) {
	fmt.Fprintf(u.out, "trick %d taken by %s\n", m.Index, m.Taker)
}
func (u *stdioUI) ShowScore(m ScoreMsg) { fmt.Fprintf(u.out, "score: %s\n", formatSeatScoresForUI(m.Scores)) }
func (u *stdioUI) ShowTotal(m TotalMsg) { fmt.Fprintf(u.out, "total: %s\n", formatSeatScoresForUI(m.Scores)) }

func formatSeatScoresForUI(scores [4]int) string {
	parts := make([]string, 4)
	for s := 0; s < 4; s++ {
		parts[s] = Seat(s).String() + strconv.Itoa(scores[s])
	}
	return strings.Join(parts, " ")
}
