package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	. "fenrir/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidReportType  = errors.New("invalid report type")
	ErrInvalidSide        = errors.New("invalid side")
	ErrMessageTooShort    = errors.New("message too short")
	ErrReportTooLarge     = errors.New("report too large")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	QueryTop
	QueryLevel
)

func (m MessageType) String() string {
	switch m {
	case Heartbeat:
		return "heartbeat"
	case NewOrder:
		return "new_order"
	case QueryTop:
		return "query_top"
	case QueryLevel:
		return "query_level"
	}
	return fmt.Sprintf("MessageType(%d)", uint16(m))
}

type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
	TopOfBookReport
	LevelReport
	AckReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants
const (
	BaseMessageHeaderLen       = 2
	NewOrderMessageHeaderLen   = 1 + 8 + 8 + 8
	QueryLevelMessageHeaderLen = 1 + 8

	MaxErrLen      = 4 * 1024
	MaxLevelOrders = 1 << 20
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func (m BaseMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf, uint16(m.TypeOf))
	return buf
}

// ReadMessage reads exactly one client message off r. The body length is
// implied by the message type.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, BaseMessageHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	typeOf := MessageType(binary.BigEndian.Uint16(header))
	switch typeOf {
	case Heartbeat, QueryTop:
		return BaseMessage{TypeOf: typeOf}, nil
	case NewOrder:
		body, err := readBody(r, NewOrderMessageHeaderLen)
		if err != nil {
			return nil, err
		}
		return parseNewOrder(body)
	case QueryLevel:
		body, err := readBody(r, QueryLevelMessageHeaderLen)
		if err != nil {
			return nil, err
		}
		return parseQueryLevel(body)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
	}
}

func readBody(r io.Reader, n int) ([]byte, error) {
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrMessageTooShort, err)
		}
		return nil, err
	}
	return body, nil
}

func parseSide(b byte) (Side, error) {
	side := Side(b)
	if side != Buy && side != Sell {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSide, b)
	}
	return side, nil
}

type NewOrderMessage struct {
	BaseMessage
	Side     Side   // 1 byte
	Price    uint64 // 8 bytes
	Quantity uint64 // 8 bytes
	ID       uint64 // 8 bytes
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	side, err := parseSide(msg[0])
	if err != nil {
		return NewOrderMessage{}, err
	}
	return NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		Side:        side,
		Price:       binary.BigEndian.Uint64(msg[1:9]),
		Quantity:    binary.BigEndian.Uint64(msg[9:17]),
		ID:          binary.BigEndian.Uint64(msg[17:25]),
	}, nil
}

func (m NewOrderMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+NewOrderMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	buf[2] = byte(m.Side)
	binary.BigEndian.PutUint64(buf[3:11], m.Price)
	binary.BigEndian.PutUint64(buf[11:19], m.Quantity)
	binary.BigEndian.PutUint64(buf[19:27], m.ID)
	return buf
}

type QueryLevelMessage struct {
	BaseMessage
	Side  Side   // 1 byte
	Price uint64 // 8 bytes
}

func parseQueryLevel(msg []byte) (QueryLevelMessage, error) {
	side, err := parseSide(msg[0])
	if err != nil {
		return QueryLevelMessage{}, err
	}
	return QueryLevelMessage{
		BaseMessage: BaseMessage{TypeOf: QueryLevel},
		Side:        side,
		Price:       binary.BigEndian.Uint64(msg[1:9]),
	}, nil
}

func (m QueryLevelMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+QueryLevelMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(QueryLevel))
	buf[2] = byte(m.Side)
	binary.BigEndian.PutUint64(buf[3:11], m.Price)
	return buf
}

// ---- Reports ----

// Report is a server to client message. The first byte on the wire is the
// report type.
type Report interface {
	ReportType() ReportMessageType
	Serialize() []byte
}

type ExecutionReportMessage struct {
	Trade Trade
}

const executionReportLen = 1 + 8 + 8 + 8 + 8

func (r ExecutionReportMessage) ReportType() ReportMessageType { return ExecutionReport }

func (r ExecutionReportMessage) Serialize() []byte {
	buf := make([]byte, executionReportLen)
	buf[0] = byte(ExecutionReport)
	binary.BigEndian.PutUint64(buf[1:9], r.Trade.Price)
	binary.BigEndian.PutUint64(buf[9:17], r.Trade.Quantity)
	binary.BigEndian.PutUint64(buf[17:25], r.Trade.MakerID)
	binary.BigEndian.PutUint64(buf[25:33], r.Trade.TakerID)
	return buf
}

type ErrorReportMessage struct {
	Err string
}

func (r ErrorReportMessage) ReportType() ReportMessageType { return ErrorReport }

func (r ErrorReportMessage) Serialize() []byte {
	errStr := r.Err
	if len(errStr) > MaxErrLen {
		errStr = errStr[:MaxErrLen]
	}
	buf := make([]byte, 1+4+len(errStr))
	buf[0] = byte(ErrorReport)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(errStr)))
	copy(buf[5:], errStr)
	return buf
}

type TopOfBookReportMessage struct {
	HasBuy       bool
	BuyPrice     uint64
	BuyQuantity  uint64
	HasSell      bool
	SellPrice    uint64
	SellQuantity uint64
}

const topOfBookReportLen = 1 + 1 + 8 + 8 + 8 + 8

const (
	flagHasBuy  = 1 << 0
	flagHasSell = 1 << 1
)

func (r TopOfBookReportMessage) ReportType() ReportMessageType { return TopOfBookReport }

func (r TopOfBookReportMessage) Serialize() []byte {
	buf := make([]byte, topOfBookReportLen)
	buf[0] = byte(TopOfBookReport)
	if r.HasBuy {
		buf[1] |= flagHasBuy
	}
	if r.HasSell {
		buf[1] |= flagHasSell
	}
	binary.BigEndian.PutUint64(buf[2:10], r.BuyPrice)
	binary.BigEndian.PutUint64(buf[10:18], r.BuyQuantity)
	binary.BigEndian.PutUint64(buf[18:26], r.SellPrice)
	binary.BigEndian.PutUint64(buf[26:34], r.SellQuantity)
	return buf
}

// LevelReportMessage carries the queue at one price level, oldest first.
// Timestamps travel as unix milliseconds.
type LevelReportMessage struct {
	Side   Side
	Price  uint64
	Orders []Order
}

const (
	levelReportHeaderLen = 1 + 1 + 8 + 4
	levelReportOrderLen  = 8 + 8 + 8
)

func (r LevelReportMessage) ReportType() ReportMessageType { return LevelReport }

func (r LevelReportMessage) Serialize() []byte {
	buf := make([]byte, levelReportHeaderLen+len(r.Orders)*levelReportOrderLen)
	buf[0] = byte(LevelReport)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.Price)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(r.Orders)))

	offset := levelReportHeaderLen
	for _, order := range r.Orders {
		binary.BigEndian.PutUint64(buf[offset:offset+8], order.ID)
		binary.BigEndian.PutUint64(buf[offset+8:offset+16], order.Quantity)
		binary.BigEndian.PutUint64(buf[offset+16:offset+24], uint64(order.Timestamp.UnixMilli()))
		offset += levelReportOrderLen
	}
	return buf
}

// AckReportMessage closes the reply to a new order.
type AckReportMessage struct {
	ID      uint64
	Filled  uint64
	Resting uint64
}

const ackReportLen = 1 + 8 + 8 + 8

func (r AckReportMessage) ReportType() ReportMessageType { return AckReport }

func (r AckReportMessage) Serialize() []byte {
	buf := make([]byte, ackReportLen)
	buf[0] = byte(AckReport)
	binary.BigEndian.PutUint64(buf[1:9], r.ID)
	binary.BigEndian.PutUint64(buf[9:17], r.Filled)
	binary.BigEndian.PutUint64(buf[17:25], r.Resting)
	return buf
}

// ReadReport reads exactly one report off r.
func ReadReport(r io.Reader) (Report, error) {
	header := make([]byte, 1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	switch ReportMessageType(header[0]) {
	case ExecutionReport:
		body, err := readBody(r, executionReportLen-1)
		if err != nil {
			return nil, err
		}
		return ExecutionReportMessage{Trade: Trade{
			Price:    binary.BigEndian.Uint64(body[0:8]),
			Quantity: binary.BigEndian.Uint64(body[8:16]),
			MakerID:  binary.BigEndian.Uint64(body[16:24]),
			TakerID:  binary.BigEndian.Uint64(body[24:32]),
		}}, nil

	case ErrorReport:
		lenBuf, err := readBody(r, 4)
		if err != nil {
			return nil, err
		}
		errLen := binary.BigEndian.Uint32(lenBuf)
		if errLen > MaxErrLen {
			return nil, fmt.Errorf("%w: error string of %d bytes", ErrReportTooLarge, errLen)
		}
		body, err := readBody(r, int(errLen))
		if err != nil {
			return nil, err
		}
		return ErrorReportMessage{Err: string(body)}, nil

	case TopOfBookReport:
		body, err := readBody(r, topOfBookReportLen-1)
		if err != nil {
			return nil, err
		}
		return TopOfBookReportMessage{
			HasBuy:       body[0]&flagHasBuy != 0,
			BuyPrice:     binary.BigEndian.Uint64(body[1:9]),
			BuyQuantity:  binary.BigEndian.Uint64(body[9:17]),
			HasSell:      body[0]&flagHasSell != 0,
			SellPrice:    binary.BigEndian.Uint64(body[17:25]),
			SellQuantity: binary.BigEndian.Uint64(body[25:33]),
		}, nil

	case LevelReport:
		head, err := readBody(r, levelReportHeaderLen-1)
		if err != nil {
			return nil, err
		}
		side, err := parseSide(head[0])
		if err != nil {
			return nil, err
		}
		count := binary.BigEndian.Uint32(head[9:13])
		if count > MaxLevelOrders {
			return nil, fmt.Errorf("%w: %d orders", ErrReportTooLarge, count)
		}
		body, err := readBody(r, int(count)*levelReportOrderLen)
		if err != nil {
			return nil, err
		}

		report := LevelReportMessage{
			Side:   side,
			Price:  binary.BigEndian.Uint64(head[1:9]),
			Orders: make([]Order, count),
		}
		for i := range report.Orders {
			offset := i * levelReportOrderLen
			report.Orders[i] = Order{
				ID:        binary.BigEndian.Uint64(body[offset : offset+8]),
				Price:     report.Price,
				Quantity:  binary.BigEndian.Uint64(body[offset+8 : offset+16]),
				Timestamp: time.UnixMilli(int64(binary.BigEndian.Uint64(body[offset+16 : offset+24]))),
			}
		}
		return report, nil

	case AckReport:
		body, err := readBody(r, ackReportLen-1)
		if err != nil {
			return nil, err
		}
		return AckReportMessage{
			ID:      binary.BigEndian.Uint64(body[0:8]),
			Filled:  binary.BigEndian.Uint64(body[8:16]),
			Resting: binary.BigEndian.Uint64(body[16:24]),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidReportType, header[0])
	}
}
