// Command ppcb-server accepts PPCB transfers and writes received bytes
// to standard output.
package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/jkbart/ppcb/internal/xlog"
	"github.com/jkbart/ppcb/ppcb"
)

func main() {
	app := cli.NewApp()
	app.Name = "ppcb-server"
	app.Usage = "receive a PPCB transfer and write it to standard output"
	app.UsageText = "ppcb-server [options] <port> <protocol>"
	app.ArgsUsage = "<port> <protocol>"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "debug", Usage: "enable verbose logging"},
		cli.StringFlag{Name: "log-file", Usage: "also write JSON logs to this rotated file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ppcb-server:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: ppcb-server [options] <port> <protocol>", 2)
	}
	port, protoName := c.Args()[0], c.Args()[1]
	log := xlog.New(c.Bool("debug"), c.String("log-file"))
	defer log.Sync()

	stdout := func() io.Writer { return os.Stdout }

	switch protoName {
	case "tcp":
		l, err := net.Listen("tcp", net.JoinHostPort("", port))
		if err != nil {
			return cli.NewExitError(errors.Wrap(err, "listen").Error(), 1)
		}
		log.Info("ppcb-server listening", zap.String("proto", "tcp"), zap.String("addr", l.Addr().String()))
		srv := ppcb.NewStreamServer(stdout, log)
		if err := srv.Serve(l); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	case "udp":
		pc, err := net.ListenPacket("udp", net.JoinHostPort("", port))
		if err != nil {
			return cli.NewExitError(errors.Wrap(err, "listen").Error(), 1)
		}
		log.Info("ppcb-server listening", zap.String("proto", "udp (udp+udpr)"), zap.String("addr", pc.LocalAddr().String()))
		srv := ppcb.NewDatagramServer(pc, stdout, log)
		if err := srv.Serve(); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	default:
		return cli.NewExitError(fmt.Sprintf("unknown protocol %q, want tcp or udp", protoName), 2)
	}
}
