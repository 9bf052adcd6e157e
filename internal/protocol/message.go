package protocol

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies what a frame means. Values are part of the wire format.
type Kind uint8

const (
	KindStart Kind = iota + 1
	KindClosed
	KindMultiplier
	KindExplode
	KindBet
	KindCashout
	KindPayout
	KindProfit
	KindBye

	kindMax
)

// BroadcastID marks a frame addressed to every player.
// HouseID marks a frame that carries house totals only.
const (
	BroadcastID int32 = -1
	HouseID     int32 = 0
)

var kindNames = [...]string{
	KindStart:      "start",
	KindClosed:     "closed",
	KindMultiplier: "multiplier",
	KindExplode:    "explode",
	KindBet:        "bet",
	KindCashout:    "cashout",
	KindPayout:     "payout",
	KindProfit:     "profit",
	KindBye:        "bye",
}

func (k Kind) Valid() bool {
	return k >= KindStart && k < kindMax
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Message is the unit exchanged in both directions.
// Value is overloaded by kind: countdown seconds for Start, the current
// multiplier for Multiplier, the explosion point for Explode, the stake for
// Bet and the payout for Payout.
type Message struct {
	Kind         Kind
	PlayerID     int32
	Value        decimal.Decimal
	PlayerProfit decimal.Decimal
	HouseProfit  decimal.Decimal
}

func Start(countdown int) Message {
	return Message{Kind: KindStart, PlayerID: BroadcastID, Value: decimal.NewFromInt(int64(countdown))}
}

func Closed() Message {
	return Message{Kind: KindClosed, PlayerID: BroadcastID}
}

func Multiplier(m decimal.Decimal) Message {
	return Message{Kind: KindMultiplier, PlayerID: BroadcastID, Value: m}
}

func Explode(point decimal.Decimal) Message {
	return Message{Kind: KindExplode, PlayerID: BroadcastID, Value: point}
}

func Bet(stake decimal.Decimal) Message {
	return Message{Kind: KindBet, Value: stake}
}

func Cashout() Message {
	return Message{Kind: KindCashout}
}

func Payout(playerID int, payout, playerProfit, houseProfit decimal.Decimal) Message {
	return Message{
		Kind:         KindPayout,
		PlayerID:     int32(playerID),
		Value:        payout,
		PlayerProfit: playerProfit,
		HouseProfit:  houseProfit,
	}
}

// Profit reports a player's running total together with the house total.
// Value repeats the player profit.
func Profit(playerID int, playerProfit, houseProfit decimal.Decimal) Message {
	return Message{
		Kind:         KindProfit,
		PlayerID:     int32(playerID),
		Value:        playerProfit,
		PlayerProfit: playerProfit,
		HouseProfit:  houseProfit,
	}
}

func Bye() Message {
	return Message{Kind: KindBye, PlayerID: BroadcastID}
}
