package tcp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"aviatorhub/internal/protocol"
	"aviatorhub/internal/settlement"
)

// SessionConfig bounds what a single client may do.
type SessionConfig struct {
	IdleTimeout time.Duration // read deadline, refreshed before every frame
	RateLimit   float64       // frames per second
	RateBurst   int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout: 5 * time.Minute,
		RateLimit:   10,
		RateBurst:   20,
	}
}

// ClientConnection is the handler for one player's connection. It only ever
// touches the registry slot identified by ID.
type ClientConnection struct {
	ID       int
	conn     net.Conn
	registry *Registry
	limiter  *rate.Limiter
	cfg      SessionConfig
	events   EventLogger
	logger   *slog.Logger
}

func NewClientConnection(id int, conn net.Conn, registry *Registry, cfg SessionConfig, events EventLogger, logger *slog.Logger) *ClientConnection {
	if events == nil {
		events = nopEvents{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultSessionConfig().RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultSessionConfig().RateBurst
	}
	return &ClientConnection{
		ID:       id,
		conn:     conn,
		registry: registry,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:      cfg,
		events:   events,
		logger:   logger,
	}
}

// Listen reads frames until the client leaves, the connection fails or ctx
// is cancelled. The session's slot is always released on return, and the
// exit is reported to the event log as "bye" or "disconnect".
func (c *ClientConnection) Listen(ctx context.Context) {
	event, reason := "disconnect", "shutdown"
	defer func() {
		c.registry.Release(c.ID)
		c.events.LogEvent(event, c.ID, slog.String("reason", reason))
	}()
	reader := bufio.NewReaderSize(c.conn, protocol.FrameSize*8)

	c.logger.Info("client_started_listening",
		"client_id", c.ID,
		"remote_addr", c.conn.RemoteAddr().String(),
	)

	for {
		if c.cfg.IdleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		msg, err := protocol.ReadMessage(reader)
		if err != nil {
			reason = c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn("rate_limit_exceeded",
				"client_id", c.ID,
				"kind", msg.Kind.String(),
			)
			continue
		}

		switch msg.Kind {
		case protocol.KindBet:
			c.handleBet(msg)
		case protocol.KindCashout:
			if !c.handleCashout(ctx) {
				return
			}
		case protocol.KindBye:
			event, reason = "bye", "client_bye"
			c.logger.Info("client_said_bye", "client_id", c.ID)
			return
		default:
			c.logger.Debug("frame_ignored",
				"client_id", c.ID,
				"kind", msg.Kind.String(),
			)
		}
	}
}

// logReadError logs why the read loop ended and returns a short reason.
func (c *ClientConnection) logReadError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Info("client_disconnected", "client_id", c.ID)
		return "eof"
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Warn("client_read_timeout", "client_id", c.ID)
		return "idle_timeout"
	case errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "closed network connection") ||
		strings.Contains(err.Error(), "connection reset"):
		// released elsewhere or shut down
		return "closed"
	case errors.Is(err, protocol.ErrShortFrame),
		errors.Is(err, protocol.ErrBadVersion),
		errors.Is(err, protocol.ErrUnknownKind):
		c.logger.Warn("invalid_frame_received",
			"client_id", c.ID,
			"error", err.Error(),
		)
		return "invalid_frame"
	default:
		c.logger.Error("client_read_error",
			"client_id", c.ID,
			"error", err,
		)
		return "read_error"
	}
}

func (c *ClientConnection) handleBet(msg protocol.Message) {
	if !settlement.ValidStake(msg.Value) {
		c.logger.Debug("bet_ignored",
			"client_id", c.ID,
			"reason", "stake_out_of_range",
			"stake", msg.Value.String(),
		)
		return
	}
	receipt := c.registry.PlaceBet(c.ID, msg.Value)
	if !receipt.Accepted {
		c.logger.Debug("bet_ignored",
			"client_id", c.ID,
			"reason", "phase_or_duplicate",
		)
		return
	}
	c.events.LogEvent("bet", c.ID,
		slog.Int("N", receipt.Bettors),
		slog.String("V", receipt.TotalStake.StringFixed(2)),
		slog.String("bet", msg.Value.StringFixed(2)),
	)
}

// handleCashout reports false when the session should stop.
func (c *ClientConnection) handleCashout(ctx context.Context) bool {
	receipt, ok := c.registry.Cashout(c.ID)
	if !ok {
		c.logger.Debug("cashout_ignored", "client_id", c.ID)
		return true
	}
	c.events.LogEvent("cashout", c.ID,
		slog.String("m", receipt.Multiplier.StringFixed(2)),
	)
	c.events.LogEvent("payout", c.ID,
		slog.String("payout", receipt.Payout.StringFixed(2)),
	)

	// the final Profit frame carries house totals only once settlement is done
	select {
	case <-receipt.Settled:
	case <-ctx.Done():
		return false
	}

	playerProfit, houseProfit, err := c.registry.SendProfit(c.ID)
	if err != nil {
		return !errors.Is(err, ErrUnknownSession)
	}
	c.events.LogEvent("profit", c.ID,
		slog.String("player_profit", playerProfit.StringFixed(2)),
		slog.String("house_profit", houseProfit.StringFixed(2)),
	)
	return true
}

// Close closes the underlying connection. Listen then returns and releases
// the slot.
func (c *ClientConnection) Close() {
	c.conn.Close()
}
