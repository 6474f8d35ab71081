package engine

import (
	"fenrir/internal/common"

	"github.com/rs/zerolog/log"
)

// Reporter receives every trade the engine produces, in order.
type Reporter interface {
	ReportTrade(trade common.Trade) error
}

// Engine drives a single order book and fans produced trades out to a
// reporter. Like the book it owns, it has no internal locking; one goroutine
// must own it.
type Engine struct {
	book     *OrderBook
	reporter Reporter
}

type Option func(*Engine)

// WithClock overrides the time source used to stamp orders.
func WithClock(clock Clock) Option {
	return func(engine *Engine) {
		if clock != nil {
			engine.book.clock = clock
		}
	}
}

func New(opts ...Option) *Engine {
	engine := &Engine{
		book: NewOrderBook(RealClock{}),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

func (engine *Engine) SetReporter(reporter Reporter) {
	engine.reporter = reporter
}

// Book exposes the book for read-only queries.
func (engine *Engine) Book() *OrderBook {
	return engine.book
}

// PlaceOrder places the order on the book and reports each resulting trade.
// A failing reporter is logged and does not affect the book.
func (engine *Engine) PlaceOrder(side common.Side, price, quantity, id uint64) []common.Trade {
	trades := engine.book.PlaceOrder(side, price, quantity, id)

	log.Debug().
		Uint64("id", id).
		Stringer("side", side).
		Uint64("price", price).
		Uint64("quantity", quantity).
		Int("trades", len(trades)).
		Msg("order placed")

	if engine.reporter == nil {
		return trades
	}
	for _, trade := range trades {
		if err := engine.reporter.ReportTrade(trade); err != nil {
			log.Error().
				Err(err).
				Uint64("maker", trade.MakerID).
				Uint64("taker", trade.TakerID).
				Msg("unable to report trade")
		}
	}
	return trades
}
