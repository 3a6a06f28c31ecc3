// Package injector wires the server and client binaries from a config file.
package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/worldsync/internal/client"
	"github.com/zeusync/worldsync/internal/config"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/transport"
	"github.com/zeusync/worldsync/internal/core/transport/quic"
	"github.com/zeusync/worldsync/internal/core/transport/websocket"
	"github.com/zeusync/worldsync/internal/game/chunk"
	"github.com/zeusync/worldsync/internal/game/worldgen"
	"github.com/zeusync/worldsync/internal/server"
)

// ConfigPath is the YAML file to load. Empty means defaults.
type ConfigPath string

// Server is everything the server binary needs.
type Server struct {
	Config *config.Config
	Logger *log.Logger
	Host   *server.Host
}

// Client is everything the client binary needs.
type Client struct {
	Config *config.Config
	Logger *log.Logger
	App    *client.App
}

var commonSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
)

var ServerSet = wire.NewSet(
	commonSet,
	ProvideServerConfig,
	ProvideGenerator,
	wire.Bind(new(chunk.Generator), new(*worldgen.Generator)),
	server.Endpoints,
	server.New,
	wire.Struct(new(Server), "*"),
)

var ClientSet = wire.NewSet(
	commonSet,
	ProvideClientConfig,
	ProvideClientTransport,
	ProvideClientOptions,
	client.New,
	wire.Struct(new(Client), "*"),
)

func ProvideConfig(path ConfigPath) (*config.Config, error) {
	return config.Load(string(path))
}

// ProvideLogger builds the process logger. The cleanup flushes it.
func ProvideLogger(cfg *config.Config) (*log.Logger, func()) {
	logger := log.NewWithConfig(cfg.Log.Logger())
	return logger, func() { _ = logger.Sync() }
}

func ProvideServerConfig(cfg *config.Config) config.ServerConfig { return cfg.Server }

func ProvideClientConfig(cfg *config.Config) config.ClientConfig { return cfg.Client }

func ProvideGenerator(cfg config.ServerConfig) *worldgen.Generator {
	return worldgen.New(cfg.Seed, cfg.WorldSize)
}

// ProvideClientTransport picks the transport named by client.transport.
func ProvideClientTransport(cfg config.ClientConfig, logger log.Log) transport.Transport {
	if cfg.Transport == config.TransportWebSocket {
		wc := websocket.DefaultConfig()
		wc.Linger = cfg.Linger
		return websocket.New(wc, logger)
	}
	qc := quic.DefaultConfig()
	qc.Linger = cfg.Linger
	return quic.New(qc, logger)
}

func ProvideClientOptions(cfg config.ClientConfig) client.Options {
	return client.Options{
		Name:           cfg.Name,
		ConnectTimeout: cfg.ConnectTimeout,
		LoadRadius:     cfg.LoadRadius,
		WorldSize:      cfg.WorldSize,
	}
}
