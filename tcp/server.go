// Package tcp is the public entry point for running a zordnet server over
// plain TCP, with an optional WebSocket gateway for browser clients.
package tcp

import (
	"github.com/zordsman/zordnet"
	"github.com/zordsman/zordnet/internal/gateway"
	"github.com/zordsman/zordnet/internal/server"
)

type Config = server.Config
type RateLimitConfig = server.RateLimitConfig
type CheckOriginFn = gateway.CheckOriginFn

// New creates a server from the given configuration.
//
// Example:
//
//	cfg := tcp.DefaultConfig()
//	cfg.Addr = ":4544"
//	cfg.MapName = "level1"
//	cfg.MapData = mapBytes
//	srv := tcp.New(cfg)
//
//	srv.AddHandler("chat.message", func(client zordnet.Client, entity json.RawMessage) error {
//	    return srv.SendAll("chat.message", entity)
//	})
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(cfg *Config) zordnet.Server {
	return server.New(cfg)
}

// DefaultConfig returns the stock ports and limits.
func DefaultConfig() *Config {
	return server.DefaultConfig()
}

// DefaultRateLimitConfig allows 100 reads per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return server.DefaultRateLimitConfig()
}

// NoRateLimit disables per-client rate limiting.
func NoRateLimit() *RateLimitConfig {
	return server.NoRateLimit()
}

// AllOrigins allows every WebSocket origin. Development use only.
func AllOrigins() CheckOriginFn {
	return gateway.AllOrigins()
}
