package net

import (
	"context"
	"net"
	"testing"
	"time"

	. "fenrir/internal/common"
	"fenrir/internal/config"
	"fenrir/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

func startTestServer(t *testing.T, opts ...func(*config.Config)) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.Workers = 4
	cfg.ConnTimeout = 20 * time.Millisecond
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := New(cfg, engine.New())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(context.Background())
	}()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, buf []byte) {
	t.Helper()
	_, err := conn.Write(buf)
	require.NoError(t, err)
}

func readReport(t *testing.T, conn net.Conn) Report {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	report, err := ReadReport(conn)
	require.NoError(t, err)
	return report
}

func placeOrder(side Side, price, quantity, id uint64) []byte {
	return NewOrderMessage{Side: side, Price: price, Quantity: quantity, ID: id}.Serialize()
}

// --- Tests ------------------------------------------------------------------

func TestServer_PlaceAndQuery(t *testing.T) {
	srv := startTestServer(t)
	conn := dial(t, srv)

	send(t, conn, placeOrder(Buy, 100, 10, 1))
	assert.Equal(t, AckReportMessage{ID: 1, Filled: 0, Resting: 10}, readReport(t, conn))

	send(t, conn, BaseMessage{TypeOf: QueryTop}.Serialize())
	assert.Equal(t, TopOfBookReportMessage{
		HasBuy:      true,
		BuyPrice:    100,
		BuyQuantity: 10,
	}, readReport(t, conn))

	send(t, conn, QueryLevelMessage{Side: Buy, Price: 100}.Serialize())
	level, ok := readReport(t, conn).(LevelReportMessage)
	require.True(t, ok)
	require.Len(t, level.Orders, 1)
	assert.Equal(t, uint64(1), level.Orders[0].ID)
	assert.Equal(t, uint64(10), level.Orders[0].Quantity)

	// Missing levels come back empty.
	send(t, conn, QueryLevelMessage{Side: Sell, Price: 100}.Serialize())
	level, ok = readReport(t, conn).(LevelReportMessage)
	require.True(t, ok)
	assert.Empty(t, level.Orders)
}

func TestServer_ExecutionReportsReachBothParties(t *testing.T) {
	srv := startTestServer(t)
	maker := dial(t, srv)
	taker := dial(t, srv)

	send(t, maker, placeOrder(Sell, 100, 10, 101))
	assert.Equal(t, AckReportMessage{ID: 101, Resting: 10}, readReport(t, maker))

	// Heartbeats are not answered, the next report is the execution.
	send(t, taker, BaseMessage{TypeOf: Heartbeat}.Serialize())
	send(t, taker, placeOrder(Buy, 105, 15, 2))

	execution := ExecutionReportMessage{Trade: Trade{Price: 100, Quantity: 10, MakerID: 101, TakerID: 2}}
	assert.Equal(t, execution, readReport(t, taker))
	assert.Equal(t, AckReportMessage{ID: 2, Filled: 10, Resting: 5}, readReport(t, taker))
	assert.Equal(t, execution, readReport(t, maker))

	send(t, maker, BaseMessage{TypeOf: QueryTop}.Serialize())
	assert.Equal(t, TopOfBookReportMessage{
		HasBuy:      true,
		BuyPrice:    105,
		BuyQuantity: 5,
	}, readReport(t, maker))
}

func TestServer_InvalidSideKeepsSession(t *testing.T) {
	srv := startTestServer(t)
	conn := dial(t, srv)

	send(t, conn, placeOrder(Side(9), 100, 10, 1))
	report, ok := readReport(t, conn).(ErrorReportMessage)
	require.True(t, ok)
	assert.Contains(t, report.Err, ErrInvalidSide.Error())

	send(t, conn, placeOrder(Sell, 100, 0, 2))
	assert.Equal(t, AckReportMessage{ID: 2}, readReport(t, conn))
}

func TestServer_InvalidTypeDropsSession(t *testing.T) {
	srv := startTestServer(t)
	conn := dial(t, srv)

	send(t, conn, []byte{0, 77})
	report, ok := readReport(t, conn).(ErrorReportMessage)
	require.True(t, ok)
	assert.Contains(t, report.Err, ErrInvalidMessageType.Error())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := ReadReport(conn)
	assert.Error(t, err)
}

func TestServer_ServesBeyondQueueCapacity(t *testing.T) {
	srv := startTestServer(t, func(cfg *config.Config) {
		cfg.Workers = 2
		cfg.ConnTimeout = 5 * time.Millisecond
	})

	// Enough idle sessions to overflow the worker pool's task queue.
	for range 120 {
		dial(t, srv)
	}

	conn := dial(t, srv)
	send(t, conn, placeOrder(Buy, 100, 10, 1))
	assert.Equal(t, AckReportMessage{ID: 1, Resting: 10}, readReport(t, conn))
}

func TestServer_ReusedIDReportsEachMaker(t *testing.T) {
	srv := startTestServer(t)
	first := dial(t, srv)
	second := dial(t, srv)
	taker := dial(t, srv)

	send(t, first, placeOrder(Sell, 100, 5, 7))
	assert.Equal(t, AckReportMessage{ID: 7, Resting: 5}, readReport(t, first))
	send(t, second, placeOrder(Sell, 100, 5, 7))
	assert.Equal(t, AckReportMessage{ID: 7, Resting: 5}, readReport(t, second))

	send(t, taker, placeOrder(Buy, 100, 10, 2))

	execution := ExecutionReportMessage{Trade: Trade{Price: 100, Quantity: 5, MakerID: 7, TakerID: 2}}
	assert.Equal(t, execution, readReport(t, first))
	assert.Equal(t, execution, readReport(t, second))
	assert.Equal(t, execution, readReport(t, taker))
	assert.Equal(t, execution, readReport(t, taker))
	assert.Equal(t, AckReportMessage{ID: 2, Filled: 10}, readReport(t, taker))
}

type unknownMessage struct {
	BaseMessage
}

func TestServer_UnexpectedMessageIsReported(t *testing.T) {
	srv := New(config.Default(), engine.New())
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		_ = serverSide.Close()
		_ = clientSide.Close()
	})
	session := srv.addClientSession(serverSide)

	go srv.handleMessage(ClientMessage{sessionID: session.id, message: unknownMessage{}})

	report, ok := readReport(t, clientSide).(ErrorReportMessage)
	require.True(t, ok)
	assert.Contains(t, report.Err, ErrImproperConversion.Error())
}

func TestServer_ShutdownConcurrentWithRun(t *testing.T) {
	cfg := config.Default()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	srv := New(cfg, engine.New())

	assert.Nil(t, srv.Addr())

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(context.Background())
	}()
	srv.Shutdown()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RunStopsWithContext(t *testing.T) {
	cfg := config.Default()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	srv := New(cfg, engine.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()
	<-srv.Ready()
	assert.NotNil(t, srv.Addr())
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
