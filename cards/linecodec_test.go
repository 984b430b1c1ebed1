package cards

import (
	"reflect"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		IAMMsg{Seat: West},
		BusyMsg{Seats: []Seat{North, South}},
		DealMsg{Variant: 3, Starter: East, Cards: [13]Card{
			{Rank: Rank2, Suit: Clubs}, {Rank: Rank10, Suit: Hearts}, {Rank: RankA, Suit: Spades},
			{Rank: Rank3, Suit: Diamonds}, {Rank: Rank4, Suit: Clubs}, {Rank: Rank5, Suit: Hearts},
			{Rank: Rank6, Suit: Spades}, {Rank: Rank7, Suit: Diamonds}, {Rank: Rank8, Suit: Clubs},
			{Rank: Rank9, Suit: Hearts}, {Rank: RankJ, Suit: Spades}, {Rank: RankQ, Suit: Diamonds},
			{Rank: RankK, Suit: Clubs},
		}},
		TrickMsg{Index: 10, Cards: []Card{{Rank: Rank10, Suit: Hearts}, {Rank: Rank2, Suit: Hearts}}},
		WrongMsg{Index: 7},
		TakenMsg{Index: 13, Cards: [4]Card{
			{Rank: RankA, Suit: Spades}, {Rank: Rank2, Suit: Spades},
			{Rank: Rank3, Suit: Spades}, {Rank: Rank4, Suit: Spades},
		}, Taker: South},
		ScoreMsg{Scores: [4]int{1, 2, 3, 4}},
		TotalMsg{Scores: [4]int{10, 0, 0, 92}},
	}
	for _, want := range cases {
		line := want.Format()
		got, err := ParseMessage(line)
		if err != nil {
			t.Fatalf("ParseMessage(%q): %v", line, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ParseMessage(%q) = %#v, want %#v", line, got, want)
		}
	}
}

func TestParseMessageRejectsGarbage(t *testing.T) {
	bad := []string{
		"",
		"IAM",
		"IAMX",
		"BUSYNN",
		"DEAL9N",
		"TRICK0",
		"TRICK14",
		"WRONG",
		"WRONGx",
		"TAKEN1",
		"SCORE N1 E2 S3",
		"HELLO",
	}
	for _, line := range bad {
		if _, err := ParseMessage(line); err == nil {
			t.Errorf("ParseMessage(%q): expected error, got none", line)
		}
	}
}

func TestTrickIndexTenDisambiguation(t *testing.T) {
	// Index 10 followed by a single card "2H": the digit run "10" must
	// not be split into index 1 + a stray leading "0".
	msg, err := ParseMessage("TRICK102H")
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	trick, ok := msg.(TrickMsg)
	if !ok {
		t.Fatalf("got %T, want TrickMsg", msg)
	}
	if trick.Index != 10 {
		t.Errorf("Index = %d, want 10", trick.Index)
	}
	if len(trick.Cards) != 1 || trick.Cards[0] != (Card{Rank: Rank2, Suit: Hearts}) {
		t.Errorf("Cards = %v, want [2H]", trick.Cards)
	}
}

func TestTrickIndexSmallWithTenOfSuit(t *testing.T) {
	// Index 1 followed by the ten of clubs: "110C" must parse as
	// index 1, card 10C — not index 11 with a missing card.
	msg, err := ParseMessage("TRICK110C")
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	trick := msg.(TrickMsg)
	if trick.Index != 1 {
		t.Errorf("Index = %d, want 1", trick.Index)
	}
	if len(trick.Cards) != 1 || trick.Cards[0] != (Card{Rank: Rank10, Suit: Clubs}) {
		t.Errorf("Cards = %v, want [10C]", trick.Cards)
	}
}

func TestParseCardGreedyTen(t *testing.T) {
	c, n, err := ParseCard("10S")
	if err != nil {
		t.Fatalf("ParseCard: %v", err)
	}
	if n != 3 || c.Rank != Rank10 || c.Suit != Spades {
		t.Errorf("ParseCard(10S) = %v, %d, want {10,S}, 3", c, n)
	}
}

func TestBusyRejectsDuplicateSeats(t *testing.T) {
	if _, err := ParseMessage("BUSYNN"); err == nil {
		t.Error("expected error on duplicate seat in BUSY")
	}
}
