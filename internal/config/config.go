// Package config loads the YAML configuration shared by the server and client
// binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/game/roster"
)

// Transport names.
const (
	TransportQUIC      = "quic"
	TransportWebSocket = "websocket"
	TransportBoth      = "both"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Address       string `yaml:"address"`
	Port          int    `yaml:"port"`
	Transport     string `yaml:"transport"`
	WebSocketPort int    `yaml:"websocket_port"`

	Mode            string `yaml:"mode"`
	LocalPlayerID   uint64 `yaml:"local_player_id"`
	LocalPlayerName string `yaml:"local_player_name"`

	TickRate  int           `yaml:"tick_rate"`
	WorldSize int32         `yaml:"world_size"`
	Seed      int64         `yaml:"seed"`
	Linger    time.Duration `yaml:"linger"`

	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type ClientConfig struct {
	Name           string        `yaml:"name"`
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port"`
	Transport      string        `yaml:"transport"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	LoadRadius     int32         `yaml:"load_radius"`
	TickRate       int           `yaml:"tick_rate"`
	WorldSize      int32         `yaml:"world_size"`
	Linger         time.Duration `yaml:"linger"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "0.0.0.0",
			Port:            7777,
			Transport:       TransportQUIC,
			WebSocketPort:   7778,
			Mode:            roster.Dedicated.String(),
			LocalPlayerName: "host",
			TickRate:        30,
			WorldSize:       64,
			Seed:            1,
			Linger:          100 * time.Millisecond,
		},
		Client: ClientConfig{
			Name:           "player",
			Address:        "127.0.0.1",
			Port:           7777,
			Transport:      TransportQUIC,
			ConnectTimeout: 5 * time.Second,
			LoadRadius:     2,
			TickRate:       30,
			WorldSize:      64,
			Linger:         100 * time.Millisecond,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and validates the file at path. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	return Decode(bytes.NewReader(data))
}

func Decode(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	s := &c.Server
	if err := validPort(s.Port); err != nil {
		errs = append(errs, fmt.Errorf("server.port: %w", err))
	}
	if err := validTransport(s.Transport, true); err != nil {
		errs = append(errs, fmt.Errorf("server.transport: %w", err))
	}
	if s.Transport != TransportQUIC {
		if err := validPort(s.WebSocketPort); err != nil {
			errs = append(errs, fmt.Errorf("server.websocket_port: %w", err))
		}
		if s.Transport == TransportBoth && s.WebSocketPort == s.Port {
			errs = append(errs, errors.New("server.websocket_port: must differ from server.port"))
		}
	}
	mode, err := roster.ParseMode(s.Mode)
	if err != nil {
		errs = append(errs, fmt.Errorf("server.mode: %w", err))
	} else if mode == roster.Host && s.LocalPlayerID == 0 {
		errs = append(errs, errors.New("server.local_player_id: required in host mode"))
	}
	if s.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("server.tick_rate: %d is not positive", s.TickRate))
	}
	if s.WorldSize <= 0 {
		errs = append(errs, fmt.Errorf("server.world_size: %d is not positive", s.WorldSize))
	}
	if (s.CertFile == "") != (s.KeyFile == "") {
		errs = append(errs, errors.New("server.cert_file and server.key_file go together"))
	}

	cl := &c.Client
	if err := validPort(cl.Port); err != nil {
		errs = append(errs, fmt.Errorf("client.port: %w", err))
	}
	if err := validTransport(cl.Transport, false); err != nil {
		errs = append(errs, fmt.Errorf("client.transport: %w", err))
	}
	if cl.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("client.connect_timeout: %s is not positive", cl.ConnectTimeout))
	}
	if cl.LoadRadius <= 0 {
		errs = append(errs, fmt.Errorf("client.load_radius: %d is not positive", cl.LoadRadius))
	}
	if cl.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("client.tick_rate: %d is not positive", cl.TickRate))
	}
	if cl.WorldSize <= 0 {
		errs = append(errs, fmt.Errorf("client.world_size: %d is not positive", cl.WorldSize))
	}
	return errors.Join(errs...)
}

func validPort(p int) error {
	if p <= 0 || p > 65535 {
		return fmt.Errorf("%d out of range", p)
	}
	return nil
}

func validTransport(name string, allowBoth bool) error {
	switch name {
	case TransportQUIC, TransportWebSocket:
		return nil
	case TransportBoth:
		if allowBoth {
			return nil
		}
	}
	return fmt.Errorf("unknown transport %q", name)
}

// ListenAddr is the QUIC listen address, or the WebSocket one when only
// WebSocket is enabled.
func (s ServerConfig) ListenAddr() string {
	if s.Transport == TransportWebSocket {
		return s.WebSocketAddr()
	}
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

func (s ServerConfig) WebSocketAddr() string {
	port := s.WebSocketPort
	if s.Transport == TransportWebSocket && port == 0 {
		port = s.Port
	}
	return net.JoinHostPort(s.Address, strconv.Itoa(port))
}

func (s ServerConfig) TickInterval() time.Duration { return interval(s.TickRate) }

func (c ClientConfig) TickInterval() time.Duration { return interval(c.TickRate) }

func interval(rate int) time.Duration {
	if rate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(rate)
}

// Logger converts the log section to the logger's configuration.
func (l LogConfig) Logger() log.Config {
	return log.Config{
		Level:      log.ParseLevel(l.Level),
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}
