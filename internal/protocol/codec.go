package protocol

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/shopspring/decimal"
)

// Frame layout, big endian:
//
//	0  version      uint8
//	1  kind         uint8
//	2  reserved     uint16
//	4  playerId     int32
//	8  value        int64 fixed point
//	16 playerProfit int64 fixed point
//	24 houseProfit  int64 fixed point
const (
	Version   = 1
	FrameSize = 32

	// FixedPointDigits is the number of fractional digits carried by every
	// decimal field on the wire.
	FixedPointDigits = 4
)

// MaxWireValue is the largest magnitude a decimal field can carry. Larger
// values are clamped on encode.
var MaxWireValue = decimal.New(math.MaxInt64, -FixedPointDigits)

var (
	ErrShortFrame  = errors.New("protocol: short frame")
	ErrBadVersion  = errors.New("protocol: unsupported frame version")
	ErrUnknownKind = errors.New("protocol: unknown message kind")
)

var (
	_ encoding.BinaryMarshaler   = Message{}
	_ encoding.BinaryUnmarshaler = (*Message)(nil)
)

// Encode returns the fixed-size frame for m. Decimal fields are rounded to
// FixedPointDigits fractional digits and clamped to ±MaxWireValue.
func Encode(m Message) []byte {
	buf := make([]byte, FrameSize)
	buf[0] = Version
	buf[1] = byte(m.Kind)
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.PlayerID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(toFixed(m.Value)))
	binary.BigEndian.PutUint64(buf[16:24], uint64(toFixed(m.PlayerProfit)))
	binary.BigEndian.PutUint64(buf[24:32], uint64(toFixed(m.HouseProfit)))
	return buf
}

// Decode parses one frame. Only framing is checked here; whether a stake is
// positive or a kind is valid for the current phase is up to the caller.
func Decode(data []byte) (Message, error) {
	if len(data) < FrameSize {
		return Message{}, fmt.Errorf("%w: got %d of %d bytes", ErrShortFrame, len(data), FrameSize)
	}
	if data[0] != Version {
		return Message{}, fmt.Errorf("%w: %d", ErrBadVersion, data[0])
	}
	kind := Kind(data[1])
	if !kind.Valid() {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, data[1])
	}
	return Message{
		Kind:         kind,
		PlayerID:     int32(binary.BigEndian.Uint32(data[4:8])),
		Value:        fromFixed(int64(binary.BigEndian.Uint64(data[8:16]))),
		PlayerProfit: fromFixed(int64(binary.BigEndian.Uint64(data[16:24]))),
		HouseProfit:  fromFixed(int64(binary.BigEndian.Uint64(data[24:32]))),
	}, nil
}

func (m Message) MarshalBinary() ([]byte, error) {
	return Encode(m), nil
}

func (m *Message) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

// ReadMessage blocks until one whole frame has been read from r.
// A peer that closes cleanly between frames yields io.EOF; one that closes
// mid-frame yields ErrShortFrame.
func ReadMessage(r io.Reader) (Message, error) {
	buf := make([]byte, FrameSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, fmt.Errorf("%w: %v", ErrShortFrame, err)
		}
		return Message{}, err
	}
	return Decode(buf)
}

// WriteMessage writes m as a single frame.
func WriteMessage(w io.Writer, m Message) error {
	if _, err := w.Write(Encode(m)); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", m.Kind, err)
	}
	return nil
}

func toFixed(d decimal.Decimal) int64 {
	d = d.Round(FixedPointDigits)
	switch {
	case d.GreaterThan(MaxWireValue):
		return math.MaxInt64
	case d.LessThan(MaxWireValue.Neg()):
		return -math.MaxInt64
	}
	return d.Shift(FixedPointDigits).IntPart()
}

func fromFixed(v int64) decimal.Decimal {
	return decimal.New(v, -FixedPointDigits)
}
