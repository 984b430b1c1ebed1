// Command ppcb-client sends standard input to a PPCB server over one
// of the three link variants.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/jkbart/ppcb/internal/xlog"
	"github.com/jkbart/ppcb/ppcb"
)

func main() {
	app := cli.NewApp()
	app.Name = "ppcb-client"
	app.Usage = "send standard input to a PPCB server"
	app.UsageText = "ppcb-client [options] <protocol> <ip> <port>"
	app.ArgsUsage = "<protocol> <ip> <port>"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "session", Usage: "PPCB session id (current time in nanoseconds if unset)"},
		cli.BoolFlag{Name: "debug", Usage: "enable verbose logging"},
		cli.StringFlag{Name: "log-file", Usage: "also write JSON logs to this rotated file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ppcb-client:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: ppcb-client [options] <protocol> <ip> <port>", 2)
	}
	protoName, ip, port := c.Args()[0], c.Args()[1], c.Args()[2]
	log := xlog.New(c.Bool("debug"), c.String("log-file"))
	defer log.Sync()

	proto, usesStream, hasRetransmit, err := parseProtocol(protoName)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	id := uint64(time.Now().UnixNano())
	if s := c.String("session"); s != "" {
		parsed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("invalid -session value %q", s), 2)
		}
		id = parsed
	}

	addr := net.JoinHostPort(ip, port)
	var tr ppcb.Transport
	switch proto {
	case ppcb.ProtoTCP:
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return cli.NewExitError(errors.Wrap(err, "dial").Error(), 1)
		}
		tr = ppcb.NewStreamTransport(conn, time.Time{})
	case ppcb.ProtoUDP, ppcb.ProtoUDPR:
		raddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return cli.NewExitError(errors.Wrap(err, "resolve").Error(), 1)
		}
		pc, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return cli.NewExitError(errors.Wrap(err, "listen").Error(), 1)
		}
		tr = ppcb.NewDatagramClientTransport(pc, raddr, time.Time{})
	}

	if err := ppcb.ClientTransfer(tr, id, proto, usesStream, hasRetransmit, os.Stdin, log); err != nil {
		if err == ppcb.ErrConnRejected {
			return nil
		}
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func parseProtocol(name string) (proto ppcb.Protocol, usesStream, hasRetransmit bool, err error) {
	switch name {
	case "tcp":
		return ppcb.ProtoTCP, true, false, nil
	case "udp":
		return ppcb.ProtoUDP, false, false, nil
	case "udpr":
		return ppcb.ProtoUDPR, false, true, nil
	default:
		return 0, false, false, errors.Errorf("unknown protocol %q, want tcp, udp or udpr", name)
	}
}
