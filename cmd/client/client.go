package main

import (
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"fenrir/internal/common"
	fenrirNet "fenrir/internal/net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	action := flag.String("action", "place", "Action to perform: ['place', 'top', 'level']")

	// Order Parameters
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	price := flag.Uint64("price", 100, "Limit price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")
	id := flag.Uint64("id", 1, "Order id of the first order, incremented per quantity")
	wait := flag.Duration("wait", 0, "Keep listening for reports for this long (0 exits after the replies)")

	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	side, err := parseSide(*sideStr)
	if err != nil {
		log.Fatal().Err(err).Str("side", *sideStr).Msg("invalid side")
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect to server")
	}
	defer conn.Close()
	log.Info().Str("server", *serverAddr).Msg("connected")

	// Execute Action. expected counts the replies we block for.
	expected := 0
	switch strings.ToLower(*action) {
	case "place":
		for i, q := range parseQuantities(*qtyStr) {
			orderID := *id + uint64(i)
			msg := fenrirNet.NewOrderMessage{Side: side, Price: *price, Quantity: q, ID: orderID}
			if _, err := conn.Write(msg.Serialize()); err != nil {
				log.Fatal().Err(err).Uint64("id", orderID).Msg("failed to place order")
			}
			log.Info().
				Uint64("id", orderID).
				Stringer("side", side).
				Uint64("price", *price).
				Uint64("qty", q).
				Msg("sent order")
			expected++
		}

	case "top":
		if _, err := conn.Write(fenrirNet.BaseMessage{TypeOf: fenrirNet.QueryTop}.Serialize()); err != nil {
			log.Fatal().Err(err).Msg("failed to query top of book")
		}
		expected++

	case "level":
		msg := fenrirNet.QueryLevelMessage{Side: side, Price: *price}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Fatal().Err(err).Msg("failed to query level")
		}
		expected++

	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	readReports(conn, expected, *wait)
}

func parseSide(input string) (common.Side, error) {
	switch strings.ToLower(input) {
	case "buy":
		return common.Buy, nil
	case "sell":
		return common.Sell, nil
	}
	return 0, fenrirNet.ErrInvalidSide
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Warn().Str("qty", p).Msg("invalid quantity, skipping")
		}
	}
	return result
}

// readReports prints reports until every request got its closing reply, then
// keeps listening for wait.
func readReports(conn net.Conn, expected int, wait time.Duration) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if expected == 0 {
			if wait == 0 {
				return
			}
			deadline = time.Now().Add(wait)
			wait = 0
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			log.Fatal().Err(err).Msg("unable to set deadline")
		}

		report, err := fenrirNet.ReadReport(conn)
		if err != nil {
			var netErr net.Error
			if errors.Is(err, io.EOF) || (errors.As(err, &netErr) && netErr.Timeout()) {
				return
			}
			log.Fatal().Err(err).Msg("connection lost")
		}

		switch r := report.(type) {
		case fenrirNet.ExecutionReportMessage:
			log.Info().
				Uint64("price", r.Trade.Price).
				Uint64("qty", r.Trade.Quantity).
				Uint64("maker", r.Trade.MakerID).
				Uint64("taker", r.Trade.TakerID).
				Msg("execution")
		case fenrirNet.AckReportMessage:
			log.Info().
				Uint64("id", r.ID).
				Uint64("filled", r.Filled).
				Uint64("resting", r.Resting).
				Msg("ack")
			expected--
		case fenrirNet.TopOfBookReportMessage:
			event := log.Info()
			if r.HasBuy {
				event = event.Uint64("bid", r.BuyPrice).Uint64("bid_qty", r.BuyQuantity)
			}
			if r.HasSell {
				event = event.Uint64("ask", r.SellPrice).Uint64("ask_qty", r.SellQuantity)
			}
			event.Msg("top of book")
			expected--
		case fenrirNet.LevelReportMessage:
			for i, order := range r.Orders {
				log.Info().
					Int("position", i).
					Uint64("id", order.ID).
					Uint64("qty", order.Quantity).
					Time("timestamp", order.Timestamp).
					Msg("resting")
			}
			log.Info().Stringer("side", r.Side).Uint64("price", r.Price).Int("orders", len(r.Orders)).Msg("level")
			expected--
		case fenrirNet.ErrorReportMessage:
			log.Error().Str("err", r.Err).Msg("server error")
			expected--
		}
	}
}
