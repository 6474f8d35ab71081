package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	envPath := flag.String("env", "", "Path to a .env file (defaults to ./.env)")
	address := flag.String("address", "", "Listen address (overrides FENRIR_ADDRESS)")
	port := flag.Int("port", 0, "Listen port (overrides FENRIR_PORT)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.LoadFromEnv(*envPath)
	if *address != "" {
		cfg.Address = *address
	}
	if *port != 0 {
		cfg.Port = *port
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the TCP server and the matching engine. The server is the only
	// writer to the book.
	eng := engine.New()
	srv := net.New(cfg, eng)

	// Block on running the server.
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
