// Command cards-client connects to a cards-server as one of the four
// seats, playing automatically or prompting an operator for each card.
package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/jkbart/ppcb/cards"
)

func main() {
	// -h is the host flag, so the built-in help flag keeps only its long
	// name; the default "help, h" would register h twice.
	cli.HelpFlag = cli.BoolFlag{Name: "help", Usage: "show help"}
	app := cli.NewApp()
	app.Name = "cards-client"
	app.Usage = "join a card game as one seat"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "h", Usage: "server host", Value: "127.0.0.1"},
		cli.IntFlag{Name: "p", Usage: "server port"},
		cli.BoolFlag{Name: "4", Usage: "force IPv4"},
		cli.BoolFlag{Name: "6", Usage: "force IPv6"},
		cli.BoolFlag{Name: "N", Usage: "claim seat North"},
		cli.BoolFlag{Name: "E", Usage: "claim seat East"},
		cli.BoolFlag{Name: "S", Usage: "claim seat South"},
		cli.BoolFlag{Name: "W", Usage: "claim seat West"},
		cli.BoolFlag{Name: "a", Usage: "automatic play: choose legal cards at random"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cards-client:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if !c.IsSet("p") {
		return cli.NewExitError("missing required -p <port>", 2)
	}
	seat, err := seatFromFlags(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	network := "tcp"
	if c.Bool("4") {
		network = "tcp4"
	} else if c.Bool("6") {
		network = "tcp6"
	}

	addr := net.JoinHostPort(c.String("h"), strconv.Itoa(c.Int("p")))
	conn, err := net.Dial(network, addr)
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "dial").Error(), 1)
	}
	defer conn.Close()

	var chooser cards.CardChooser
	var ui cards.UI
	if c.Bool("a") {
		chooser = cards.NewRandomChooser(rand.New(rand.NewSource(int64(os.Getpid()))))
	} else {
		ui = cards.NewStdioUI(os.Stdin, os.Stdout)
	}

	observedTotal := false
	if err := playSeat(conn, seat, chooser, ui, &observedTotal); err != nil {
		if err == errRejected {
			return nil
		}
		return cli.NewExitError(err.Error(), 1)
	}
	if !observedTotal {
		return cli.NewExitError("connection closed before the final TOTAL", 1)
	}
	return nil
}

func seatFromFlags(c *cli.Context) (cards.Seat, error) {
	n := 0
	var seat cards.Seat
	for flag, s := range map[string]cards.Seat{"N": cards.North, "E": cards.East, "S": cards.South, "W": cards.West} {
		if c.Bool(flag) {
			seat = s
			n++
		}
	}
	if n != 1 {
		return 0, errors.New("exactly one of -N, -E, -S, -W is required")
	}
	return seat, nil
}

var errRejected = errors.New("cards: seat request rejected")

// playSeat drives one client connection end to end: send IAM, then
// respond to DEAL/TRICK/WRONG/TAKEN/SCORE/TOTAL lines until the
// connection closes.
func playSeat(conn net.Conn, seat cards.Seat, chooser cards.CardChooser, ui cards.UI, observedTotal *bool) error {
	w := bufio.NewWriter(conn)
	if _, err := fmt.Fprintf(w, "%s\r\n", cards.IAMMsg{Seat: seat}.Format()); err != nil {
		return errors.Wrap(err, "send IAM")
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "send IAM")
	}

	var hand cards.Deck
	scanner := bufio.NewScanner(conn)
	scanner.Split(scanLinesCRLF)
	for scanner.Scan() {
		line := scanner.Text()
		msg, err := cards.ParseMessage(line)
		if err != nil {
			return errors.Wrapf(err, "unparseable line %q", line)
		}
		switch m := msg.(type) {
		case cards.BusyMsg:
			return errRejected
		case cards.DealMsg:
			hand = append(cards.Deck(nil), m.Cards[:]...)
		case cards.TrickMsg:
			play, err := choosePlay(hand, m.Cards, chooser, ui)
			if err != nil {
				return errors.Wrap(err, "choose card")
			}
			removeCard(&hand, play)
			reply := cards.TrickMsg{Index: m.Index, Cards: []cards.Card{play}}.Format()
			if _, err := fmt.Fprintf(w, "%s\r\n", reply); err != nil {
				return errors.Wrap(err, "send TRICK")
			}
			if err := w.Flush(); err != nil {
				return errors.Wrap(err, "send TRICK")
			}
		case cards.WrongMsg:
			if ui != nil {
				ui.ShowWrong(m.Index)
			}
		case cards.TakenMsg:
			if ui != nil {
				ui.ShowTaken(m)
			}
		case cards.ScoreMsg:
			if ui != nil {
				ui.ShowScore(m)
			}
		case cards.TotalMsg:
			*observedTotal = true
			if ui != nil {
				ui.ShowTotal(m)
			}
		}
	}
	return scanner.Err()
}

func choosePlay(hand cards.Deck, soFar []cards.Card, chooser cards.CardChooser, ui cards.UI) (cards.Card, error) {
	if chooser != nil {
		return chooser.Choose(hand, soFar)
	}
	return ui.PromptCard(hand, soFar)
}

func removeCard(hand *cards.Deck, c cards.Card) {
	for i, card := range *hand {
		if card == c {
			*hand = append((*hand)[:i], (*hand)[i+1:]...)
			return
		}
	}
}

func scanLinesCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == '\r' && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
