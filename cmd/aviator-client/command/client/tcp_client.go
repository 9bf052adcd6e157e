package client

// tcp_client.go = game session state for the aviator terminal client.

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"aviatorhub/internal/protocol"
	"aviatorhub/internal/settlement"
)

const MaxNicknameLength = 13

var (
	ErrNicknameTooLong = fmt.Errorf("nickname too long (max %d)", MaxNicknameLength)
	ErrInvalidBet      = errors.New("invalid bet value")
	ErrInvalidCommand  = errors.New("invalid command")
)

// GamePhase is the client's view of the round.
type GamePhase int

const (
	PhaseWaiting GamePhase = iota
	PhaseBetting
	PhaseFlight
)

func (p GamePhase) String() string {
	switch p {
	case PhaseBetting:
		return "betting"
	case PhaseFlight:
		return "flight"
	default:
		return "waiting"
	}
}

// GameClient tracks one player's round state. Frames from the server and
// lines from the terminal arrive on different goroutines.
type GameClient struct {
	conn net.Conn
	nick string
	out  io.Writer

	mu         sync.Mutex
	writeMu    sync.Mutex
	phase      GamePhase
	hasBet     bool
	cashedOut  bool
	stake      decimal.Decimal
	sawStart   bool
	closeOnce  sync.Once
	serverGone bool
}

func ValidateNickname(nick string) error {
	if len(nick) > MaxNicknameLength {
		return ErrNicknameTooLong
	}
	return nil
}

// Dial connects to the server, retrying every interval until it succeeds or
// ctx is done.
func Dial(ctx context.Context, host, port string, interval time.Duration) (net.Conn, error) {
	addr := net.JoinHostPort(host, port)
	dialer := net.Dialer{Timeout: 10 * time.Second}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connection failed: %w", err)
		case <-time.After(interval):
		}
	}
}

func NewGameClient(conn net.Conn, nick string, out io.Writer) *GameClient {
	return &GameClient{
		conn: conn,
		nick: nick,
		out:  out,
	}
}

func (c *GameClient) Phase() GamePhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *GameClient) HasBet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasBet
}

// ReadLoop prints server frames until the server says Bye or the connection
// drops. A Bye from the server returns nil.
func (c *GameClient) ReadLoop() error {
	reader := bufio.NewReader(c.conn)
	for {
		msg, err := protocol.ReadMessage(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		if c.HandleFrame(msg) {
			return nil
		}
	}
}

// HandleFrame applies one server frame and reports whether the session ended.
func (c *GameClient) HandleFrame(msg protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Kind {
	case protocol.KindStart:
		// only the first countdown frame opens the round
		if c.sawStart {
			return false
		}
		c.sawStart = true
		c.phase = PhaseBetting
		c.hasBet = false
		c.cashedOut = false
		c.stake = decimal.Zero
		c.printf("Round open! Enter your bet or [Q] to quit (%s seconds left):\n", msg.Value.String())

	case protocol.KindClosed:
		c.phase = PhaseFlight
		c.printf("Betting closed for this round.\n")
		if c.hasBet {
			c.printf("Enter [C] to cash out.\n")
		}

	case protocol.KindMultiplier:
		c.printf("Multiplier: %sx\n", msg.Value.StringFixed(2))

	case protocol.KindExplode:
		c.phase = PhaseWaiting
		c.sawStart = false
		c.printf("Exploded at %sx\n", msg.Value.StringFixed(2))

	case protocol.KindPayout:
		c.cashedOut = true
		multiplier := decimal.Zero
		if c.stake.IsPositive() {
			multiplier = msg.Value.Div(c.stake)
		}
		c.printf("Cashed out at %sx and won %s!\n", multiplier.StringFixed(2), msg.Value.StringFixed(2))
		c.printf("Profit: %s\n", msg.PlayerProfit.StringFixed(2))

	case protocol.KindProfit:
		if !c.hasBet || c.phase != PhaseWaiting {
			return false
		}
		if !c.cashedOut {
			c.printf("You lost %s. Better luck next round!\n", c.stake.StringFixed(2))
			c.printf("Profit: %s\n", msg.PlayerProfit.StringFixed(2))
		}
		c.printf("House profit: %s\n", msg.HouseProfit.StringFixed(2))

	case protocol.KindBye:
		c.serverGone = true
		c.printf("The server went away. See you soon, %s!\n", c.nick)
		return true
	}
	return false
}

// HandleInput applies one terminal line. It reports whether the player quit.
func (c *GameClient) HandleInput(line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch strings.ToUpper(line) {
	case "":
		return false, nil
	case "Q":
		return true, c.Bye()
	case "C":
		c.mu.Lock()
		ok := c.phase == PhaseFlight && c.hasBet && !c.cashedOut
		c.mu.Unlock()
		if !ok {
			return false, nil
		}
		return false, c.send(protocol.Cashout())
	}

	c.mu.Lock()
	if c.phase != PhaseBetting || c.hasBet {
		c.mu.Unlock()
		return false, ErrInvalidCommand
	}
	stake, err := parseBet(line)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	c.hasBet = true
	c.stake = stake
	c.mu.Unlock()

	if err := c.send(protocol.Bet(stake)); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.printf("Bet placed: %s\n", stake.StringFixed(2))
	c.mu.Unlock()
	return false, nil
}

// Bye tells the server the player is leaving. Safe to call more than once.
func (c *GameClient) Bye() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		gone := c.serverGone
		c.printf("Play responsibly. Come back soon, %s.\n", c.nick)
		c.mu.Unlock()
		if !gone {
			err = c.send(protocol.Bye())
		}
	})
	return err
}

func (c *GameClient) Close() error {
	return c.conn.Close()
}

func (c *GameClient) send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteMessage(c.conn, msg); err != nil {
		return fmt.Errorf("send %s failed: %w", msg.Kind, err)
	}
	return nil
}

func (c *GameClient) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func parseBet(input string) (decimal.Decimal, error) {
	stake, err := decimal.NewFromString(input)
	if err != nil || !settlement.ValidStake(stake) {
		return decimal.Zero, ErrInvalidBet
	}
	return stake, nil
}
