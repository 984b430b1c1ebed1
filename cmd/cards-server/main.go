// Command cards-server runs the trick-taking card game server: it
// loads a deal file, listens for four players, and drives deals to
// completion per the game line protocol.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/jkbart/ppcb/cards"
	"github.com/jkbart/ppcb/internal/xlog"
)

func main() {
	app := cli.NewApp()
	app.Name = "cards-server"
	app.Usage = "run the card game server"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "p", Usage: "listen port (OS-assigned if 0)", Value: 0},
		cli.StringFlag{Name: "f", Usage: "deal file path (required)"},
		cli.IntFlag{Name: "t", Usage: "per-move timeout in seconds", Value: 5},
		cli.BoolFlag{Name: "debug", Usage: "enable verbose logging"},
		cli.StringFlag{Name: "log-file", Usage: "also write JSON logs to this rotated file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cards-server:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	dealFile := c.String("f")
	if dealFile == "" {
		return cli.NewExitError("missing required -f <deal-file>", 2)
	}
	log := xlog.New(c.Bool("debug"), c.String("log-file"))
	defer log.Sync()

	f, err := os.Open(dealFile)
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "open deal file").Error(), 2)
	}
	defer f.Close()

	game, err := cards.NewFileGameSource(f).LoadGame()
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "load deal file").Error(), 2)
	}

	addr := net.JoinHostPort("", strconv.Itoa(c.Int("p")))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "listen").Error(), 1)
	}
	log.Info("listening", zap.String("addr", ln.Addr().String()))

	reactor := cards.NewReactor()
	transcript := cards.NewTranscript(os.Stdout)
	orch, err := cards.NewOrchestrator(reactor, ln, game, time.Duration(c.Int("t"))*time.Second, transcript, log)
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "build orchestrator").Error(), 1)
	}

	if err := orch.Run(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}
