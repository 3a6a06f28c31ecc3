package server

import (
	"crypto/tls"

	"github.com/zeusync/worldsync/internal/config"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/transport/quic"
	"github.com/zeusync/worldsync/internal/core/transport/websocket"
)

// Endpoints builds the listeners the config asks for.
func Endpoints(cfg config.ServerConfig, logger log.Log) ([]Endpoint, error) {
	var endpoints []Endpoint
	if cfg.Transport == config.TransportQUIC || cfg.Transport == config.TransportBoth {
		var tlsConfig *tls.Config
		if cfg.CertFile != "" {
			var err error
			if tlsConfig, err = quic.LoadTLS(cfg.CertFile, cfg.KeyFile); err != nil {
				return nil, err
			}
		}
		qc := quic.DefaultConfig()
		qc.Linger = cfg.Linger
		qc.TLSConfig = tlsConfig
		endpoints = append(endpoints, Endpoint{Transport: quic.New(qc, logger), Addr: cfg.ListenAddr()})
	}
	if cfg.Transport == config.TransportWebSocket || cfg.Transport == config.TransportBoth {
		wc := websocket.DefaultConfig()
		wc.Linger = cfg.Linger
		endpoints = append(endpoints, Endpoint{Transport: websocket.New(wc, logger), Addr: cfg.WebSocketAddr()})
	}
	return endpoints, nil
}
