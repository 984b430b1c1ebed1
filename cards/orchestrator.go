package cards

import (
	"net"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// defaultMaxInbound bounds a connection's inbound line buffer before
// Recv reports ErrBufferOverflow (spec.md §9's "make the cap a
// tunable").
const defaultMaxInbound = 16 * 1024

// Orchestrator is the game orchestrator of spec.md §4.8 (C8): it owns
// the listening slot, the four seats, the waiting/draining sets, and
// drives deals to completion one reactor wake at a time.
type Orchestrator struct {
	reactor      *Reactor
	listener     net.Listener
	acceptHandle Handle
	acceptOpen   bool

	players  [4]*Connection
	waiting  map[*Connection]bool
	draining map[*Connection]bool

	game *Game

	moveTimeoutMs int

	// ReconnectGrace, if non-zero, keeps a just-dropped seat off limits
	// for this long: every IAM for that seat during the window is
	// answered BUSY, including one from the client that dropped, and
	// afterwards any comer may claim it. A returning client is not
	// recognised (supplemented from the original's per-seat reconnect
	// grace; spec.md's literal behaviour is the zero-value default).
	ReconnectGrace time.Duration
	reopenAt       [4]time.Time

	transcript *Transcript
	log        *zap.Logger

	// recentBusy is an advisory, log-only record of peer addresses that
	// were recently turned away with BUSY; it never feeds a protocol
	// decision (spec.md §3's invariants remain the sole source of
	// truth), only enriches the "busy" log line with a repeat-offender
	// count.
	recentBusy *cache.Cache

	done bool
}

// NewOrchestrator builds an orchestrator around an already-listening
// socket and a loaded game. moveTimeout is the per-move deadline T of
// spec.md §6.3 (also used as the IAM deadline of §4.8.2).
func NewOrchestrator(reactor *Reactor, listener net.Listener, game *Game, moveTimeout time.Duration, transcript *Transcript, log *zap.Logger) (*Orchestrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fd, err := rawFD(listener)
	if err != nil {
		return nil, errors.Wrap(err, "cards: listener fd")
	}
	o := &Orchestrator{
		reactor:       reactor,
		listener:      listener,
		waiting:       make(map[*Connection]bool),
		draining:      make(map[*Connection]bool),
		game:          game,
		moveTimeoutMs: int(moveTimeout / time.Millisecond),
		transcript:    transcript,
		log:           log,
		recentBusy:    cache.New(time.Minute, 5*time.Minute),
	}
	o.acceptHandle = reactor.Add(fd)
	reactor.SetEvents(o.acceptHandle, EventRead)
	o.acceptOpen = true
	return o, nil
}

// rawFD returns the listener's raw descriptor without duplicating it:
// the listener, not the orchestrator, owns it (spec.md §9's "ownership
// of descriptors" note applies fully to Connection, not to the single
// long-lived accept slot).
func rawFD(l net.Listener) (int, error) {
	sc, ok := l.(syscall.Conn)
	if !ok {
		return -1, errors.New("cards: listener does not expose a raw fd")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if err := rc.Control(func(ufd uintptr) { fd = int(ufd) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// Done reports whether the orchestrator has finished: the accept slot
// is closed and every seated/waiting/draining connection is gone
// (spec.md §4.8.1 step 5's termination condition; the transcript
// logger here writes synchronously, so its queue is always empty).
func (o *Orchestrator) Done() bool { return o.done }

// Run drives reactor wakes until Done, one main-loop pass per wake.
func (o *Orchestrator) Run() error {
	for !o.Done() {
		if err := o.reactor.Run(); err != nil {
			return err
		}
		o.Step()
	}
	return nil
}

// Step runs one pass of the five-phase main loop of spec.md §4.8.1.
func (o *Orchestrator) Step() {
	o.stepAccept()
	o.stepDrainers()
	if o.allSeatsFilled() {
		o.stepGame()
	}
	o.stepWaiting()
	o.stepLoggerDrainAndTerminate()
}

// stepAccept is step (1).
func (o *Orchestrator) stepAccept() {
	if !o.acceptOpen {
		return
	}
	if o.reactor.Events(o.acceptHandle)&EventRead == 0 {
		return
	}
	conn, err := o.listener.Accept()
	if err != nil {
		return
	}
	c, err := NewConnection(o.reactor, conn, defaultMaxInbound, o.transcript)
	if err != nil {
		o.log.Debug("accept: wrap connection failed", zap.Error(err))
		return
	}
	if o.allSeatsFilled() {
		o.rejectBusy(c, c.PeerAddr())
		return
	}
	c.SetDeadline(o.moveTimeoutMs)
	o.waiting[c] = true
}

// rejectBusy sends BUSY, moves c to draining, and notes the rejection
// in the advisory repeat-offender cache for logging only.
func (o *Orchestrator) rejectBusy(c *Connection, peerAddr string) {
	_ = c.Send(BusyMsg{Seats: o.occupiedSeats()}.Format())
	o.draining[c] = true
	count := 1
	if n, ok := o.recentBusy.Get(peerAddr); ok {
		count = n.(int) + 1
	}
	o.recentBusy.Set(peerAddr, count, 0)
	if count > 1 {
		o.log.Debug("repeat BUSY rejection", zap.String("peer", peerAddr), zap.Int("count", count))
	}
}

// stepDrainers is step (2).
func (o *Orchestrator) stepDrainers() {
	for c := range o.draining {
		_ = c.Flush()
		lines, err := c.Recv()
		if c.Closed() || err != nil || len(lines) > 0 || !c.Pending() {
			delete(o.draining, c)
			c.Close()
		}
	}
}

// stepGame is step (3): advance the game when all four seats are
// filled.
func (o *Orchestrator) stepGame() {
	deal := o.game.Current()
	if deal == nil {
		return
	}
	for seat := Seat(0); seat < 4; seat++ {
		c := o.players[seat]
		if c == nil {
			continue
		}
		_ = c.Flush()
		lines, err := c.Recv()
		if err != nil || c.Closed() {
			o.closeSeat(seat)
			continue
		}
		for _, line := range lines {
			if !o.handleSeatedLine(seat, deal, line) {
				o.closeSeat(seat)
				break
			}
		}
		if c2 := o.players[seat]; c2 != nil && c2.TimedOut() && deal.NextPlayer() == seat {
			o.promptTrick(deal, seat)
		}
	}
}

// handleSeatedLine processes one inbound line from a seated player.
// It returns false when the connection must be closed outright (a
// non-TRICK line).
func (o *Orchestrator) handleSeatedLine(seat Seat, deal *Deal, line string) bool {
	c := o.players[seat]
	msg, err := ParseMessage(line)
	trick, isTrick := msg.(TrickMsg)
	if err != nil || !isTrick {
		return false
	}
	if deal.NextPlayer() != seat || len(trick.Cards) != 1 {
		_ = c.Send(WrongMsg{Index: deal.TrickIndex()}.Format())
		return true
	}
	played := trick.Cards[0]
	if legalErr := deal.Legal(seat, played); legalErr != nil {
		_ = c.Send(WrongMsg{Index: deal.TrickIndex()}.Format())
		return true
	}
	c.ClearDeadline()
	rec, playErr := deal.Play(seat, played)
	if playErr != nil {
		_ = c.Send(WrongMsg{Index: deal.TrickIndex()}.Format())
		return true
	}
	if rec != nil {
		o.broadcastSeated(TakenMsg{Index: len(deal.History), Cards: rec.Cards, Taker: rec.Taker}.Format())
		o.endTrick(deal)
		return true
	}
	o.promptTrick(deal, deal.NextPlayer())
	return true
}

// endTrick implements spec.md §4.8.1's end_trick: SCORE/TOTAL and
// either the next deal's opening DEAL+TRICK, or end-of-game draining.
func (o *Orchestrator) endTrick(deal *Deal) {
	if !deal.Finished() {
		o.promptTrick(deal, deal.NextPlayer())
		return
	}
	o.broadcastSeated(ScoreMsg{Scores: deal.Scores}.Format())
	more := o.game.Advance()
	o.broadcastSeated(TotalMsg{Scores: o.game.Totals}.Format())
	if !more {
		o.endGame()
		return
	}
	next := o.game.Current()
	for seat := Seat(0); seat < 4; seat++ {
		c := o.players[seat]
		if c == nil {
			continue
		}
		_ = c.Send(DealMsg{Variant: next.Variant, Starter: next.Starter, Cards: hand13(next.InitialHands[seat])}.Format())
	}
	o.promptTrick(next, next.NextPlayer())
}

// endGame implements spec.md §4.8.4.
func (o *Orchestrator) endGame() {
	for seat := Seat(0); seat < 4; seat++ {
		c := o.players[seat]
		if c == nil {
			continue
		}
		o.players[seat] = nil
		o.draining[c] = true
	}
	o.closeAccept()
}

// closeAccept removes the listening slot from the reactor and closes
// the listener; the orchestrator no longer owns anything to accept.
func (o *Orchestrator) closeAccept() {
	if !o.acceptOpen {
		return
	}
	o.acceptOpen = false
	o.reactor.Remove(o.acceptHandle)
	o.listener.Close()
}

// promptTrick sends TRICK(index, cards-so-far) to seat and arms its
// move deadline.
func (o *Orchestrator) promptTrick(deal *Deal, seat Seat) {
	c := o.players[seat]
	if c == nil {
		return
	}
	_ = c.Send(TrickMsg{Index: deal.TrickIndex(), Cards: cardsSoFar(deal)}.Format())
	c.SetDeadline(o.moveTimeoutMs)
}

// cardsSoFar returns the current trick's cards in play order, starter
// first.
func cardsSoFar(deal *Deal) []Card {
	cards := make([]Card, deal.Placed)
	for i := 0; i < deal.Placed; i++ {
		s := (deal.TrickStarter + Seat(i)) % 4
		cards[i] = deal.TrickCards[s]
	}
	return cards
}

// hand13 copies a deck snapshot into the fixed-size array the DEAL
// message carries.
func hand13(d Deck) [13]Card {
	var cards [13]Card
	copy(cards[:], d)
	return cards
}

// stepWaiting is step (4).
func (o *Orchestrator) stepWaiting() {
	for c := range o.waiting {
		_ = c.Flush()
		lines, err := c.Recv()
		if err != nil || c.Closed() {
			delete(o.waiting, c)
			c.Close()
			continue
		}
		if o.handleWaitingLines(c, lines) {
			continue
		}
		if c.TimedOut() {
			delete(o.waiting, c)
			c.Close()
		}
	}
}

// handleWaitingLines processes inbound lines from one not-yet-seated
// connection. Returns true if the connection was consumed (moved to
// players, draining, or closed) this pass.
func (o *Orchestrator) handleWaitingLines(c *Connection, lines []string) bool {
	for _, line := range lines {
		msg, err := ParseMessage(line)
		if err != nil {
			delete(o.waiting, c)
			c.Close()
			return true
		}
		iam, isIAM := msg.(IAMMsg)
		if !isIAM {
			delete(o.waiting, c)
			c.Close()
			return true
		}
		if o.players[iam.Seat] != nil || o.gameOver() || o.inReconnectGrace(iam.Seat) {
			delete(o.waiting, c)
			o.rejectBusy(c, c.PeerAddr())
			return true
		}
		o.seatPlayer(iam.Seat, c)
		delete(o.waiting, c)
		return true
	}
	return false
}

// gameOver reports whether the game has no current deal left to play.
func (o *Orchestrator) gameOver() bool { return o.game.Current() == nil }

func (o *Orchestrator) inReconnectGrace(seat Seat) bool {
	return o.ReconnectGrace > 0 && time.Now().Before(o.reopenAt[seat])
}

// seatPlayer seats c at seat, replays the current deal's transcript
// (DEAL plus each completed TAKEN), and — if this fills the table —
// restores interest on all seated connections and prompts the
// seat-on-turn (spec.md §4.8.2/§4.8.1 step 4).
func (o *Orchestrator) seatPlayer(seat Seat, c *Connection) {
	c.ClearDeadline()
	o.players[seat] = c
	if deal := o.game.Current(); deal != nil {
		_ = c.Send(DealMsg{Variant: deal.Variant, Starter: deal.Starter, Cards: hand13(deal.InitialHands[seat])}.Format())
		for i, rec := range deal.History {
			_ = c.Send(TakenMsg{Index: i + 1, Cards: rec.Cards, Taker: rec.Taker}.Format())
		}
	}
	if o.allSeatsFilled() {
		o.resumeAllSeated()
		if deal := o.game.Current(); deal != nil {
			// send_if_no_timeout (inout.hpp): only (re)send TRICK to the
			// seat on turn if it doesn't already have one outstanding —
			// reseating an unrelated dropped seat must not duplicate or
			// re-arm the on-turn player's move deadline.
			next := deal.NextPlayer()
			if nc := o.players[next]; nc != nil && !nc.HasDeadline() {
				o.promptTrick(deal, next)
			}
		}
	}
}

// closeSeat drops the player at seat, pauses IO on the remaining
// seated players (spec.md §4.8.1's "while a seat is empty..." rule),
// and arms the reconnect grace window if configured.
func (o *Orchestrator) closeSeat(seat Seat) {
	c := o.players[seat]
	if c == nil {
		return
	}
	o.players[seat] = nil
	c.Close()
	o.pauseAllSeated()
	if o.ReconnectGrace > 0 {
		o.reopenAt[seat] = time.Now().Add(o.ReconnectGrace)
	}
}

func (o *Orchestrator) allSeatsFilled() bool {
	for _, c := range o.players {
		if c == nil {
			return false
		}
	}
	return true
}

func (o *Orchestrator) occupiedSeats() []Seat {
	var seats []Seat
	for s, c := range o.players {
		if c != nil {
			seats = append(seats, Seat(s))
		}
	}
	return seats
}

func (o *Orchestrator) pauseAllSeated() {
	for _, c := range o.players {
		if c != nil {
			c.PauseIO()
		}
	}
}

func (o *Orchestrator) resumeAllSeated() {
	for _, c := range o.players {
		if c != nil {
			c.ResumeIO()
		}
	}
}

func (o *Orchestrator) broadcastSeated(line string) {
	for _, c := range o.players {
		if c != nil {
			_ = c.Send(line)
		}
	}
}

// stepLoggerDrainAndTerminate is step (5). The transcript logger here
// is a synchronous best-effort writer with no queue of its own
// (spec.md §4.9), so "logger drain" is a no-op; only the termination
// check remains.
func (o *Orchestrator) stepLoggerDrainAndTerminate() {
	if o.acceptOpen {
		return
	}
	if len(o.waiting) > 0 || len(o.draining) > 0 {
		return
	}
	for _, c := range o.players {
		if c != nil {
			return
		}
	}
	o.done = true
}
