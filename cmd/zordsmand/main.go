// zordsmand runs a standalone zordnet server with the stock game handlers:
// chat broadcast, ping and the optional map service. Configuration comes
// from the environment (a .env file is honored when present):
//
//	ZORDNET_ADDR         primary listen address (default :4544)
//	ZORDNET_UDP_ADDR     secondary-transport bind address (default :4545)
//	ZORDNET_WS_ADDR      WebSocket gateway address (empty disables it)
//	ZORDNET_MAX_CLIENTS  connection cap (default 32)
//	ZORDNET_MAP          path to a map file served via map.request
//	ZORDNET_LOG_LEVEL    debug, info, warn or error (default info)
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zordsman/zordnet"
	"github.com/zordsman/zordnet/tcp"
)

func main() {
	// A missing .env is fine; the environment still applies.
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	cfg := tcp.DefaultConfig()
	if addr := os.Getenv("ZORDNET_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if addr := os.Getenv("ZORDNET_UDP_ADDR"); addr != "" {
		cfg.UDPAddr = addr
	}
	if addr := os.Getenv("ZORDNET_WS_ADDR"); addr != "" {
		cfg.WebSocketAddr = addr
		cfg.CheckOrigin = tcp.AllOrigins()
	}
	if v := os.Getenv("ZORDNET_MAX_CLIENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Fatalf("Invalid ZORDNET_MAX_CLIENTS %q", v)
		}
		cfg.MaxClients = n
	}
	if path := os.Getenv("ZORDNET_MAP"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to load map: %v", err)
		}
		cfg.MapName = filepath.Base(path)
		cfg.MapData = data
	}

	cfg.OnConnect = func(client zordnet.Client) {
		logger.Info("client_connected",
			"id", client.ID(),
			"remote_addr", client.RemoteAddr(),
		)
	}
	cfg.OnRejected = func(remoteAddr string, reason error) {
		logger.Warn("connection_rejected",
			"remote_addr", remoteAddr,
			"reason", reason.Error(),
		)
	}
	cfg.OnDisconnect = func(client zordnet.Client, reason error) {
		logger.Info("client_disconnected",
			"id", client.ID(),
			"reason", reason.Error(),
		)
	}
	cfg.OnProtocolError = func(client zordnet.Client, err error) {
		logger.Warn("protocol_error",
			"id", client.ID(),
			"error", err.Error(),
		)
	}
	cfg.OnHandlerFault = func(client zordnet.Client, msgType string, err error) {
		logger.Error("handler_fault",
			"id", client.ID(),
			"type", msgType,
			"error", err.Error(),
		)
	}

	server := tcp.New(cfg)

	server.AddHandler("net.ping", func(client zordnet.Client, _ json.RawMessage) error {
		return client.Send("net.pong", nil)
	})
	server.AddHandler("chat.message", func(client zordnet.Client, entity json.RawMessage) error {
		return server.SendAll("chat.message", entity)
	})

	if err := server.Start(context.Background()); err != nil {
		logger.Error("start_failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server_started",
		"addr", server.Addr().String(),
		"max_clients", cfg.MaxClients,
		"map", cfg.MapName,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("received_shutdown_signal")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("shutdown_error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server_stopped_gracefully")
}

func logLevel() slog.Level {
	switch os.Getenv("ZORDNET_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
