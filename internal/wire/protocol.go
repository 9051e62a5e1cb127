// Package wire implements the thin binary protocol used by cmd/server and
// cmd/client to drive the matching engine's public library API over TCP.
// It is a collaborator of the core, not part of it: the core exposes a
// library API, not a wire protocol.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"matchbook/internal/domain"
)

// MessageType tags the kind of frame sent by a client.
type MessageType uint16

const (
	NewOrder MessageType = iota
	CancelOrder
	LogBook
)

// ReportMessageType tags the kind of frame sent back by the server.
type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
)

var (
	ErrMessageTooShort    = errors.New("wire: message too short")
	ErrInvalidMessageType = errors.New("wire: invalid message type")
	ErrInvalidOrderParams = errors.New("wire: invalid order parameters")
)

// BaseHeaderLen is the size of the 2-byte message-type prefix every frame
// carries.
const BaseHeaderLen = 2

// Message is any decoded client frame.
type Message interface {
	Type() MessageType
}

// NewOrderFrame requests placement of a new order. Symbol and Owner are
// length-prefixed strings rather than a fixed-width ticker, since a
// symbol here is an unconstrained instrument identifier.
type NewOrderFrame struct {
	Kind   domain.OrderKind
	Side   domain.Side
	Symbol string
	Price  domain.Price // ignored for Market orders
	Size   uint64
	Owner  string
}

func (NewOrderFrame) Type() MessageType { return NewOrder }

// CancelOrderFrame requests cancellation of a previously placed order.
type CancelOrderFrame struct {
	OrderID string
}

func (CancelOrderFrame) Type() MessageType { return CancelOrder }

// LogBookFrame requests a log-book entry in the server logs. The server
// records only that the request arrived; it does not dump book state.
type LogBookFrame struct{}

func (LogBookFrame) Type() MessageType { return LogBook }

// ParseMessage decodes a raw client frame.
func ParseMessage(buf []byte) (Message, error) {
	if len(buf) < BaseHeaderLen {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(buf[0:2]))
	body := buf[2:]
	switch typeOf {
	case NewOrder:
		return parseNewOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	case LogBook:
		return LogBookFrame{}, nil
	default:
		return nil, ErrInvalidMessageType
	}
}

// parseNewOrder layout: kind(2) side(1) price(8, int64 BE ticks)
// size(8) symbolLen(1) symbol(n) ownerLen(1) owner(n)
func parseNewOrder(buf []byte) (NewOrderFrame, error) {
	const fixedLen = 2 + 1 + 8 + 8 + 1
	if len(buf) < fixedLen {
		return NewOrderFrame{}, ErrMessageTooShort
	}
	f := NewOrderFrame{
		Kind:  domain.OrderKind(binary.BigEndian.Uint16(buf[0:2])),
		Side:  domain.Side(buf[2]),
		Price: domain.Price(int64(binary.BigEndian.Uint64(buf[3:11]))),
		Size:  binary.BigEndian.Uint64(buf[11:19]),
	}
	symbolLen := int(buf[19])
	offset := fixedLen
	if len(buf) < offset+symbolLen+1 {
		return NewOrderFrame{}, ErrMessageTooShort
	}
	f.Symbol = string(buf[offset : offset+symbolLen])
	offset += symbolLen
	ownerLen := int(buf[offset])
	offset++
	if len(buf) < offset+ownerLen {
		return NewOrderFrame{}, ErrMessageTooShort
	}
	f.Owner = string(buf[offset : offset+ownerLen])

	if f.Size == 0 || (f.Kind == domain.Limit && f.Price <= 0) || f.Symbol == "" {
		return NewOrderFrame{}, fmt.Errorf("%w: size=%d price=%d symbol=%q", ErrInvalidOrderParams, f.Size, f.Price, f.Symbol)
	}
	return f, nil
}

// parseCancelOrder layout: orderIDLen(1) orderID(n)
func parseCancelOrder(buf []byte) (CancelOrderFrame, error) {
	if len(buf) < 1 {
		return CancelOrderFrame{}, ErrMessageTooShort
	}
	idLen := int(buf[0])
	if len(buf) < 1+idLen {
		return CancelOrderFrame{}, ErrMessageTooShort
	}
	return CancelOrderFrame{OrderID: string(buf[1 : 1+idLen])}, nil
}

// EncodeNewOrder serializes a NewOrderFrame for a client to send.
func EncodeNewOrder(f NewOrderFrame) []byte {
	symbolBytes := []byte(f.Symbol)
	ownerBytes := []byte(f.Owner)
	total := BaseHeaderLen + 2 + 1 + 8 + 8 + 1 + len(symbolBytes) + 1 + len(ownerBytes)
	buf := make([]byte, total)

	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	binary.BigEndian.PutUint16(buf[2:4], uint16(f.Kind))
	buf[4] = byte(f.Side)
	binary.BigEndian.PutUint64(buf[5:13], uint64(int64(f.Price)))
	binary.BigEndian.PutUint64(buf[13:21], f.Size)
	buf[21] = byte(len(symbolBytes))
	offset := 22
	copy(buf[offset:], symbolBytes)
	offset += len(symbolBytes)
	buf[offset] = byte(len(ownerBytes))
	offset++
	copy(buf[offset:], ownerBytes)
	return buf
}

// EncodeCancelOrder serializes a CancelOrderFrame for a client to send.
func EncodeCancelOrder(f CancelOrderFrame) []byte {
	idBytes := []byte(f.OrderID)
	buf := make([]byte, BaseHeaderLen+1+len(idBytes))
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	buf[2] = byte(len(idBytes))
	copy(buf[3:], idBytes)
	return buf
}

// EncodeLogBook serializes a LogBookFrame for a client to send.
func EncodeLogBook() []byte {
	buf := make([]byte, BaseHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(LogBook))
	return buf
}

// Report is a server-to-client frame describing either a completed trade
// or an error encountered while handling a request.
type Report struct {
	MessageType  ReportMessageType
	Side         domain.Side
	Size         uint64
	Price        domain.Price
	OrderID      string
	Counterparty string
	Err          string
}

// ReportFixedHeaderLen is the size of a Report header: msgType(1) side(1) size(8) price(8) orderIDLen(1)
// counterpartyLen(1) errLen(2)
const ReportFixedHeaderLen = 1 + 1 + 8 + 8 + 1 + 1 + 2

// Serialize encodes a Report for the wire.
func (r Report) Serialize() []byte {
	orderIDBytes := []byte(r.OrderID)
	counterpartyBytes := []byte(r.Counterparty)
	errBytes := []byte(r.Err)

	total := ReportFixedHeaderLen + len(orderIDBytes) + len(counterpartyBytes) + len(errBytes)
	buf := make([]byte, total)

	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.Size)
	binary.BigEndian.PutUint64(buf[10:18], uint64(int64(r.Price)))
	buf[18] = byte(len(orderIDBytes))
	buf[19] = byte(len(counterpartyBytes))
	binary.BigEndian.PutUint16(buf[20:22], uint16(len(errBytes)))

	offset := ReportFixedHeaderLen
	copy(buf[offset:], orderIDBytes)
	offset += len(orderIDBytes)
	copy(buf[offset:], counterpartyBytes)
	offset += len(counterpartyBytes)
	copy(buf[offset:], errBytes)

	return buf
}

// DecodeReport parses a Report previously produced by Serialize, given the
// raw bytes already read off the wire in full.
func DecodeReport(buf []byte) (Report, error) {
	if len(buf) < ReportFixedHeaderLen {
		return Report{}, ErrMessageTooShort
	}
	r := Report{
		MessageType: ReportMessageType(buf[0]),
		Side:        domain.Side(buf[1]),
		Size:        binary.BigEndian.Uint64(buf[2:10]),
		Price:       domain.Price(int64(binary.BigEndian.Uint64(buf[10:18]))),
	}
	orderIDLen := int(buf[18])
	counterpartyLen := int(buf[19])
	errLen := int(binary.BigEndian.Uint16(buf[20:22]))

	offset := ReportFixedHeaderLen
	if len(buf) < offset+orderIDLen+counterpartyLen+errLen {
		return Report{}, ErrMessageTooShort
	}
	r.OrderID = string(buf[offset : offset+orderIDLen])
	offset += orderIDLen
	r.Counterparty = string(buf[offset : offset+counterpartyLen])
	offset += counterpartyLen
	r.Err = string(buf[offset : offset+errLen])
	return r, nil
}

// ReportByteLen returns the number of body bytes that follow a Report's
// fixed header (the sum of the three variable-length sizes encoded in it),
// excluding the header itself. Clients read the fixed header first to learn
// how many more bytes to read.
func ReportByteLen(header []byte) (int, error) {
	if len(header) < ReportFixedHeaderLen {
		return 0, ErrMessageTooShort
	}
	orderIDLen := int(header[18])
	counterpartyLen := int(header[19])
	errLen := int(binary.BigEndian.Uint16(header[20:22]))
	return orderIDLen + counterpartyLen + errLen, nil
}
