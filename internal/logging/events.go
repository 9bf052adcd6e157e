package logging

import (
	"context"
	"log/slog"
)

// EventLog records round and player events (bet, cashout, payout, explode,
// profit, bye...) as structured log lines. Broadcast events carry
// player_id="*".
type EventLog struct {
	logger *slog.Logger
}

func NewEventLog(logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{logger: logger.With("component", "round_events")}
}

func (e *EventLog) LogEvent(event string, playerID int, attrs ...slog.Attr) {
	all := make([]slog.Attr, 0, len(attrs)+2)
	all = append(all, slog.String("event", event))
	if playerID < 0 {
		all = append(all, slog.String("player_id", "*"))
	} else if playerID > 0 {
		all = append(all, slog.Int("player_id", playerID))
	}
	all = append(all, attrs...)
	e.logger.LogAttrs(context.Background(), slog.LevelInfo, "game_event", all...)
}
