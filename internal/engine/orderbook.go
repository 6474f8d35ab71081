package engine

import (
	"math"

	"fenrir/internal/common"

	"github.com/tidwall/btree"
)

// level is a FIFO queue of resting orders sharing one PriceLevel. The oldest
// order is at the front.
type level struct {
	key    PriceLevel
	orders []*common.Order
}

type priceLevels = btree.BTreeG[*level]

func newPriceLevels() *priceLevels {
	return btree.NewBTreeG(func(a, b *level) bool {
		return a.key.Less(b.key)
	})
}

// OrderBook is a two-sided limit order book matching in price-time priority.
//
// A level is present in a side if and only if its queue is non-empty, and
// every resting order has a quantity greater than zero.
//
// OrderBook is not safe for concurrent use. All calls for one book must be
// serialized by the caller.
type OrderBook struct {
	clock Clock

	// Price levels to orders sat on the price level, sorted by time added
	// as they will be push-back'd. Both sides are sorted best first.
	bids *priceLevels
	asks *priceLevels
}

func NewOrderBook(clock Clock) *OrderBook {
	if clock == nil {
		clock = RealClock{}
	}
	return &OrderBook{
		clock: clock,
		bids:  newPriceLevels(),
		asks:  newPriceLevels(),
	}
}

func (book *OrderBook) levels(side common.Side) *priceLevels {
	if side == common.Buy {
		return book.bids
	}
	return book.asks
}

// PlaceOrder submits a limit order. It matches against the opposite side while
// the best opposite level crosses, then rests any remainder on its own side.
// Trades are returned in the order they were produced: best price first, and
// oldest resting order first within a price.
//
// A zero quantity is a no-op.
func (book *OrderBook) PlaceOrder(side common.Side, price, quantity, id uint64) []common.Trade {
	if quantity == 0 {
		return nil
	}

	order := common.Order{
		ID:        id,
		Price:     price,
		Quantity:  quantity,
		Timestamp: stamp(book.clock),
	}

	var trades []common.Trade
	opposite := book.levels(side.Opposite())
	for order.Quantity > 0 {
		// Min accounts for bids and asks being in inverse order, based on
		// their comparison method.
		best, ok := opposite.Min()
		if !ok {
			break
		}
		// The best level is the most favourable one left. If it does not
		// cross, nothing deeper will.
		if !crosses(side, price, best.key.Price) {
			break
		}
		order.Quantity, trades = book.matchAtLevel(best.key, order.Quantity, id, trades)
	}

	if order.Quantity > 0 {
		book.rest(side, &order)
	}
	return trades
}

// matchAtLevel fills the taker against the queue at key, oldest first, until
// either the taker or the queue is exhausted. Produced trades are appended to
// trades. Returns the taker's remaining quantity.
func (book *OrderBook) matchAtLevel(key PriceLevel, qty, takerID uint64, trades []common.Trade) (uint64, []common.Trade) {
	levels := book.levels(key.Side)
	lvl, ok := levels.GetMut(&level{key: key})
	if !ok {
		return qty, trades
	}

	for qty > 0 && len(lvl.orders) > 0 {
		front := lvl.orders[0]

		fillQty := min(qty, front.Quantity)
		trades = append(trades, common.Trade{
			Price:    key.Price,
			Quantity: fillQty,
			MakerID:  front.ID,
			TakerID:  takerID,
		})

		qty -= fillQty
		front.Quantity -= fillQty

		if front.Quantity == 0 {
			lvl.orders[0] = nil
			lvl.orders = lvl.orders[1:]
		}
	}

	// Full consumption case (i.e. empty level).
	if len(lvl.orders) == 0 {
		levels.Delete(lvl)
	}
	return qty, trades
}

// rest appends the order to the back of its price level, creating the level
// if it does not exist yet.
func (book *OrderBook) rest(side common.Side, order *common.Order) {
	levels := book.levels(side)
	key := NewPriceLevel(order.Price, side)

	// Levels comparator only accounts for the key, so we create a dummy
	// level for the search.
	if lvl, ok := levels.GetMut(&level{key: key}); ok {
		lvl.orders = append(lvl.orders, order)
		return
	}
	levels.Set(&level{
		key:    key,
		orders: []*common.Order{order},
	})
}

// BestBuy returns the highest bid price and the total quantity resting at it.
// Totals saturate at math.MaxUint64.
func (book *OrderBook) BestBuy() (price, quantity uint64, ok bool) {
	return best(book.bids)
}

// BestSell returns the lowest ask price and the total quantity resting at it.
// Totals saturate at math.MaxUint64.
func (book *OrderBook) BestSell() (price, quantity uint64, ok bool) {
	return best(book.asks)
}

func best(levels *priceLevels) (uint64, uint64, bool) {
	lvl, ok := levels.Min()
	if !ok {
		return 0, 0, false
	}
	return lvl.key.Price, lvl.total(), true
}

func (lvl *level) total() uint64 {
	var total uint64
	for _, order := range lvl.orders {
		if order.Quantity > math.MaxUint64-total {
			return math.MaxUint64
		}
		total += order.Quantity
	}
	return total
}

// Levels walks one side of the book best price first, passing each level's
// price, total resting quantity and order count to fn until fn returns false.
func (book *OrderBook) Levels(side common.Side, fn func(price, quantity uint64, orders int) bool) {
	book.levels(side).Scan(func(lvl *level) bool {
		return fn(lvl.key.Price, lvl.total(), len(lvl.orders))
	})
}

// GetOrders returns a copy of the queue at key, oldest first.
func (book *OrderBook) GetOrders(key PriceLevel) ([]common.Order, bool) {
	lvl, ok := book.levels(key.Side).Get(&level{key: key})
	if !ok {
		return nil, false
	}
	orders := make([]common.Order, len(lvl.orders))
	for i, order := range lvl.orders {
		orders[i] = *order
	}
	return orders, true
}

func (book *OrderBook) IsBuySideEmpty() bool {
	return book.bids.Len() == 0
}

func (book *OrderBook) IsSellSideEmpty() bool {
	return book.asks.Len() == 0
}
