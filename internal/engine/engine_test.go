package engine_test

import (
	"errors"
	"testing"
	"time"

	. "fenrir/internal/common"
	"fenrir/internal/engine"

	"github.com/stretchr/testify/assert"
)

type MockReporter struct {
	trades []Trade
	err    error
}

func (r *MockReporter) ReportTrade(trade Trade) error {
	r.trades = append(r.trades, trade)
	return r.err
}

func TestEngine_ReportsTradesInOrder(t *testing.T) {
	reporter := &MockReporter{}
	eng := engine.New(engine.WithClock(&stepClock{now: time.Unix(1, 0)}))
	eng.SetReporter(reporter)

	eng.PlaceOrder(Sell, 99, 5, 101)
	eng.PlaceOrder(Sell, 100, 5, 102)
	trades := eng.PlaceOrder(Buy, 100, 10, 2)

	assert.Equal(t, trades, reporter.trades)
	assert.Len(t, reporter.trades, 2)
	assert.True(t, eng.Book().IsSellSideEmpty())
}

func TestEngine_ReporterErrorDoesNotAffectBook(t *testing.T) {
	reporter := &MockReporter{err: errors.New("boom")}
	eng := engine.New()
	eng.SetReporter(reporter)

	eng.PlaceOrder(Buy, 100, 10, 1)
	trades := eng.PlaceOrder(Sell, 100, 4, 2)

	assert.Len(t, trades, 1)
	price, qty, ok := eng.Book().BestBuy()
	assert.True(t, ok)
	assert.Equal(t, uint64(100), price)
	assert.Equal(t, uint64(6), qty)
}

func TestEngine_NoReporter(t *testing.T) {
	eng := engine.New()

	assert.Empty(t, eng.PlaceOrder(Buy, 100, 10, 1))
	assert.Len(t, eng.PlaceOrder(Sell, 90, 10, 2), 1)
}
