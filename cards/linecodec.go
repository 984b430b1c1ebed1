package cards

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Message is implemented by each of the eight game-protocol lines.
// Parsers are total functions with explicit rejection (spec.md §4.6):
// ParseMessage never panics, it returns a *ParseError naming the
// offending slice.
type Message interface {
	// Format renders the message as its wire line, without the
	// trailing CRLF (the connection layer appends that).
	Format() string
}

// ParseError carries the slice that failed to match the grammar.
type ParseError struct{ Offending string }

func (e *ParseError) Error() string {
	return "cards: parse error: " + strconv.Quote(e.Offending)
}

// IAMMsg announces the seat a freshly connected player wants.
type IAMMsg struct{ Seat Seat }

func (m IAMMsg) Format() string { return "IAM" + m.Seat.String() }

// BusyMsg rejects a seat request, listing the seats already occupied.
type BusyMsg struct{ Seats []Seat }

func (m BusyMsg) Format() string {
	var b strings.Builder
	b.WriteString("BUSY")
	for _, s := range m.Seats {
		b.WriteString(s.String())
	}
	return b.String()
}

// DealMsg announces a new deal's variant, starter and the recipient's
// own 13 cards.
type DealMsg struct {
	Variant int
	Starter Seat
	Cards   [13]Card
}

func (m DealMsg) Format() string {
	var b strings.Builder
	b.WriteString("DEAL")
	b.WriteString(strconv.Itoa(m.Variant))
	b.WriteString(m.Starter.String())
	for _, c := range m.Cards {
		b.WriteString(c.String())
	}
	return b.String()
}

// TrickMsg asks (or informs) about the trick currently being played:
// its 1-based index and the cards placed so far, in play order.
type TrickMsg struct {
	Index int
	Cards []Card
}

func (m TrickMsg) Format() string {
	var b strings.Builder
	b.WriteString("TRICK")
	b.WriteString(strconv.Itoa(m.Index))
	for _, c := range m.Cards {
		b.WriteString(c.String())
	}
	return b.String()
}

// WrongMsg rejects an illegal play at the given trick index.
type WrongMsg struct{ Index int }

func (m WrongMsg) Format() string { return "WRONG" + strconv.Itoa(m.Index) }

// TakenMsg announces a completed trick's four cards and its taker.
type TakenMsg struct {
	Index int
	Cards [4]Card
	Taker Seat
}

func (m TakenMsg) Format() string {
	var b strings.Builder
	b.WriteString("TAKEN")
	b.WriteString(strconv.Itoa(m.Index))
	for _, c := range m.Cards {
		b.WriteString(c.String())
	}
	b.WriteString(m.Taker.String())
	return b.String()
}

// seatScores is the shared body of SCORE and TOTAL: four distinct
// seat,decimal pairs.
type seatScores [4]int

func formatSeatScores(prefix string, scores seatScores) string {
	var b strings.Builder
	b.WriteString(prefix)
	for s := 0; s < 4; s++ {
		if s > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(Seat(s).String())
		b.WriteString(strconv.Itoa(scores[s]))
	}
	return b.String()
}

// ScoreMsg reports the scores accumulated so far in the current deal.
type ScoreMsg struct{ Scores [4]int }

func (m ScoreMsg) Format() string { return formatSeatScores("SCORE", m.Scores) }

// TotalMsg reports the cumulative scores across all completed deals.
type TotalMsg struct{ Scores [4]int }

func (m TotalMsg) Format() string { return formatSeatScores("TOTAL", m.Scores) }

// ParseMessage parses one protocol line (without its CRLF) against the
// published grammar (spec.md §4.6), returning a *ParseError for any
// non-matching input.
func ParseMessage(line string) (Message, error) {
	switch {
	case strings.HasPrefix(line, "IAM"):
		return parseIAM(line)
	case strings.HasPrefix(line, "BUSY"):
		return parseBusy(line)
	case strings.HasPrefix(line, "DEAL"):
		return parseDeal(line)
	case strings.HasPrefix(line, "TRICK"):
		return parseTrick(line)
	case strings.HasPrefix(line, "WRONG"):
		return parseWrong(line)
	case strings.HasPrefix(line, "TAKEN"):
		return parseTaken(line)
	case strings.HasPrefix(line, "SCORE"):
		return parseSeatScoresMsg(line, "SCORE")
	case strings.HasPrefix(line, "TOTAL"):
		return parseSeatScoresMsg(line, "TOTAL")
	default:
		return nil, &ParseError{Offending: line}
	}
}

func parseIAM(line string) (Message, error) {
	rest := line[len("IAM"):]
	if len(rest) != 1 {
		return nil, &ParseError{Offending: line}
	}
	seat, err := ParseSeat(rest[0])
	if err != nil {
		return nil, &ParseError{Offending: line}
	}
	return IAMMsg{Seat: seat}, nil
}

func parseBusy(line string) (Message, error) {
	rest := line[len("BUSY"):]
	seats := make([]Seat, 0, 4)
	seen := map[Seat]bool{}
	for i := 0; i < len(rest); i++ {
		s, err := ParseSeat(rest[i])
		if err != nil || seen[s] {
			return nil, &ParseError{Offending: line}
		}
		seen[s] = true
		seats = append(seats, s)
	}
	return BusyMsg{Seats: seats}, nil
}

func parseDeal(line string) (Message, error) {
	rest := line[len("DEAL"):]
	if len(rest) < 2 {
		return nil, &ParseError{Offending: line}
	}
	if rest[0] < '1' || rest[0] > '7' {
		return nil, &ParseError{Offending: line}
	}
	variant := int(rest[0] - '0')
	starter, err := ParseSeat(rest[1])
	if err != nil {
		return nil, &ParseError{Offending: line}
	}
	rest = rest[2:]
	var cards [13]Card
	for i := 0; i < 13; i++ {
		c, n, err := ParseCard(rest)
		if err != nil {
			return nil, &ParseError{Offending: line}
		}
		cards[i] = c
		rest = rest[n:]
	}
	if rest != "" {
		return nil, &ParseError{Offending: line}
	}
	return DealMsg{Variant: variant, Starter: starter, Cards: cards}, nil
}

func parseTrick(line string) (Message, error) {
	rest := line[len("TRICK"):]
	index, cards, err := parseIndexAndCards(rest, 3)
	if err != nil {
		return nil, &ParseError{Offending: line}
	}
	return TrickMsg{Index: index, Cards: cards}, nil
}

func parseWrong(line string) (Message, error) {
	rest := line[len("WRONG"):]
	index, err := parseFullUint(rest)
	if err != nil {
		return nil, &ParseError{Offending: line}
	}
	return WrongMsg{Index: index}, nil
}

func parseTaken(line string) (Message, error) {
	rest := line[len("TAKEN"):]
	n := indexDigitLen(rest)
	if n == 0 {
		return nil, &ParseError{Offending: line}
	}
	index, err := parseFullUint(rest[:n])
	if err != nil || index < 1 || index > 13 {
		return nil, &ParseError{Offending: line}
	}
	tail := rest[n:]
	var cards [4]Card
	for i := 0; i < 4; i++ {
		c, consumed, err := ParseCard(tail)
		if err != nil {
			return nil, &ParseError{Offending: line}
		}
		cards[i] = c
		tail = tail[consumed:]
	}
	if len(tail) != 1 {
		return nil, &ParseError{Offending: line}
	}
	taker, err := ParseSeat(tail[0])
	if err != nil {
		return nil, &ParseError{Offending: line}
	}
	return TakenMsg{Index: index, Cards: cards, Taker: taker}, nil
}

func parseSeatScoresMsg(line, prefix string) (Message, error) {
	rest := strings.TrimPrefix(line, prefix)
	fields := strings.Fields(rest)
	if len(fields) != 4 {
		return nil, &ParseError{Offending: line}
	}
	var scores [4]int
	seen := map[Seat]bool{}
	for _, f := range fields {
		if len(f) < 2 {
			return nil, &ParseError{Offending: line}
		}
		seat, err := ParseSeat(f[0])
		if err != nil || seen[seat] {
			return nil, &ParseError{Offending: line}
		}
		v, err := parseFullUint(f[1:])
		if err != nil {
			return nil, &ParseError{Offending: line}
		}
		seen[seat] = true
		scores[seat] = v
	}
	if prefix == "SCORE" {
		return ScoreMsg{Scores: scores}, nil
	}
	return TotalMsg{Scores: scores}, nil
}

// parseFullUint parses s entirely as a decimal unsigned integer,
// rejecting overflow past 32 bits and any trailing non-digit.
func parseFullUint(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty decimal field")
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "decimal field")
	}
	return int(v), nil
}

// parseIndexAndCards implements the "trick index optionally followed
// by cards" resolution rule of spec.md §4.6: digits are consumed into
// the index only while the remaining tail does not yet look like a
// valid card, so "10" is never split mid-token.
func parseIndexAndCards(s string, maxCards int) (int, []Card, error) {
	n := indexDigitLen(s)
	if n == 0 {
		return 0, nil, errors.New("no trick index")
	}
	index, err := parseFullUint(s[:n])
	if err != nil {
		return 0, nil, err
	}
	if index < 1 || index > 13 {
		return 0, nil, errors.Errorf("trick index %d out of range", index)
	}
	rest := s[n:]
	var cards []Card
	for rest != "" {
		if len(cards) >= maxCards {
			return 0, nil, errors.New("too many cards")
		}
		c, consumed, err := ParseCard(rest)
		if err != nil {
			return 0, nil, err
		}
		cards = append(cards, c)
		rest = rest[consumed:]
	}
	return index, cards, nil
}

// indexDigitLen finds how many leading digits of s belong to the trick
// index, stopping as soon as the remaining tail is empty or starts a
// valid card.
func indexDigitLen(s string) int {
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return 0
	}
	for i := 1; i <= digits; i++ {
		tail := s[i:]
		if tail == "" {
			return i
		}
		if _, _, err := ParseCard(tail); err == nil {
			return i
		}
	}
	return digits
}
