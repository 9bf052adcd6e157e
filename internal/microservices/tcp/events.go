package tcp

import (
	"log/slog"

	"aviatorhub/internal/protocol"
)

// allPlayers is the player id logged with broadcast events.
const allPlayers = int(protocol.BroadcastID)

// EventLogger records round and player events. playerID < 0 marks a
// broadcast event, 0 the house.
type EventLogger interface {
	LogEvent(event string, playerID int, attrs ...slog.Attr)
}

type nopEvents struct{}

func (nopEvents) LogEvent(string, int, ...slog.Attr) {}
