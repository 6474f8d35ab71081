package engine

import (
	"cmp"

	"fenrir/internal/common"
)

// PriceLevel keys a queue of resting orders in one side of the book. Its
// ordering depends on the side so that, for either side, the best price is
// the minimum key.
//
// Comparison is only meaningful between levels of the same side.
type PriceLevel struct {
	Price uint64
	Side  common.Side
}

func NewPriceLevel(price uint64, side common.Side) PriceLevel {
	return PriceLevel{Price: price, Side: side}
}

// Compare orders bids highest first and asks lowest first. Equal prices
// compare equal; time priority is kept by queue position, not by the key.
func (pl PriceLevel) Compare(other PriceLevel) int {
	switch pl.Side {
	case common.Buy:
		return cmp.Compare(other.Price, pl.Price)
	default:
		return cmp.Compare(pl.Price, other.Price)
	}
}

func (pl PriceLevel) Less(other PriceLevel) bool {
	return pl.Compare(other) < 0
}

// crosses reports whether a taker on side at price may trade against a
// resting level priced at levelPrice.
func crosses(side common.Side, price, levelPrice uint64) bool {
	if side == common.Buy {
		return price >= levelPrice
	}
	return price <= levelPrice
}
