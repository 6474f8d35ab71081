package common

import (
	"fmt"
	"time"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (side Side) String() string {
	switch side {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(side))
}

// Opposite returns the side an order on this side matches against.
func (side Side) Opposite() Side {
	if side == Buy {
		return Sell
	}
	return Buy
}

// Order is a resting order. Quantity is decremented in place as the order is
// filled; an order never rests with a zero quantity.
type Order struct {
	ID        uint64    // Caller assigned id, not checked for uniqueness
	Price     uint64    // Limit price
	Quantity  uint64    // Remaining quantity
	Timestamp time.Time // Time of arrival of order into the book
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:        %d
Price:     %d
Quantity:  %d
Timestamp: %v`,
		order.ID,
		order.Price,
		order.Quantity,
		order.Timestamp.Format(time.RFC3339Nano),
	)
}
