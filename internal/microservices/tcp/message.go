package tcp

import (
	"time"

	"aviatorhub/internal/protocol"
)

// Message is the JSON mirror of a broadcast frame, sent to spectators.
type Message struct {
	Type         string `json:"type"` // frame kind: start, closed, multiplier, explode, bye
	PlayerID     int32  `json:"player_id,omitempty"`
	Value        string `json:"value,omitempty"`
	PlayerProfit string `json:"player_profit,omitempty"`
	HouseProfit  string `json:"house_profit,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

func NewMessage(m protocol.Message) Message {
	out := Message{
		Type:      m.Kind.String(),
		Timestamp: time.Now().UnixMilli(),
	}
	if m.PlayerID > 0 {
		out.PlayerID = m.PlayerID
	}
	switch m.Kind {
	case protocol.KindStart:
		out.Value = m.Value.String()
	case protocol.KindMultiplier, protocol.KindExplode, protocol.KindBet, protocol.KindPayout:
		out.Value = m.Value.StringFixed(2)
	}
	if m.Kind == protocol.KindPayout || m.Kind == protocol.KindProfit {
		out.PlayerProfit = m.PlayerProfit.StringFixed(2)
		out.HouseProfit = m.HouseProfit.StringFixed(2)
	}
	return out
}
