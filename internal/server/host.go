// Package server runs the authoritative game: the server session, roster
// announcements, entity authority and chunk service, driven by a fixed tick.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/worldsync/internal/config"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/core/session"
	"github.com/zeusync/worldsync/internal/core/transport"
	"github.com/zeusync/worldsync/internal/game/chunk"
	"github.com/zeusync/worldsync/internal/game/entity"
	"github.com/zeusync/worldsync/internal/game/messages"
	"github.com/zeusync/worldsync/internal/game/roster"
	"github.com/zeusync/worldsync/internal/game/terrain"
	"github.com/zeusync/worldsync/internal/game/world"
)

// Endpoint is a transport and the address it listens on.
type Endpoint struct {
	Transport transport.Transport
	Addr      string
}

// Host owns every server-side component. Everything but Start and Addrs runs
// on the tick goroutine.
type Host struct {
	config    config.ServerConfig
	endpoints []Endpoint
	logger    log.Log

	registry *protocol.Registry
	session  *session.Server
	roster   *roster.Server
	entities *entity.Authority
	terrain  *terrain.Service
	store    *chunk.Store

	mu        sync.Mutex
	listeners []transport.Listener
}

func New(cfg config.ServerConfig, endpoints []Endpoint, generator chunk.Generator, logger log.Log) (*Host, error) {
	if logger == nil {
		logger = log.Provide()
	}
	mode, err := roster.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.WorldSize <= 0 {
		cfg.WorldSize = world.DefaultSize
	}

	var localID player.ID
	if mode == roster.Host {
		localID = cfg.LocalPlayerID
	}

	registry := protocol.NewRegistry(logger)
	if err = messages.Register(registry); err != nil {
		return nil, err
	}
	sess := session.NewServer(registry, session.ServerOptions{LocalPlayerID: localID}, logger)
	store := chunk.NewStore(0, generator)

	h := &Host{
		config:    cfg,
		endpoints: endpoints,
		logger:    logger.With(log.String("component", "host")),
		registry:  registry,
		session:   sess,
		roster:    roster.NewServer(sess, mode, localID, logger),
		terrain:   terrain.NewService(store, sess, cfg.WorldSize, logger),
		store:     store,
	}
	h.entities = entity.NewAuthority(sess, h.spawnPoint, logger)

	if err = errors.Join(h.entities.Register(registry), h.terrain.Register(registry)); err != nil {
		return nil, err
	}

	// Roster first: a joiner learns who is here before it sees their
	// characters.
	sess.OnPlayerConnect.Subscribe(h.roster.OnPlayerConnect)
	sess.OnPlayerConnect.Subscribe(h.entities.OnPlayerConnect)
	sess.OnPlayerDisconnect.Subscribe(h.roster.OnPlayerDisconnect)
	sess.OnPlayerDisconnect.Subscribe(h.entities.OnPlayerDisconnect)
	sess.OnPlayerDisconnect.Subscribe(h.terrain.OnPlayerDisconnect)
	return h, nil
}

func (h *Host) Registry() *protocol.Registry { return h.registry }
func (h *Host) Session() *session.Server     { return h.session }
func (h *Host) Entities() *entity.Authority  { return h.entities }
func (h *Host) Terrain() *terrain.Service    { return h.terrain }
func (h *Host) Store() *chunk.Store          { return h.store }

// spawnPoint scatters characters over the world by player id.
func (h *Host) spawnPoint(p *player.Player) world.Vec2 {
	span := uint64(h.config.WorldSize) * world.ChunkEdge
	return world.Vec2{
		X: float32(p.ID%span) + 0.5,
		Y: float32((p.ID/span)%span) + 0.5,
	}
}

// Start opens every endpoint side by side and, in host mode, adds the local
// player. If any endpoint fails the ones already open are closed again.
func (h *Host) Start(ctx context.Context) error {
	listeners := make([]transport.Listener, len(h.endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range h.endpoints {
		g.Go(func() error {
			l, err := ep.Transport.Listen(gctx, ep.Addr)
			if err != nil {
				return fmt.Errorf("%s listen on %s: %w", ep.Transport.Name(), ep.Addr, err)
			}
			listeners[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, l := range listeners {
			if l != nil {
				_ = l.Close()
			}
		}
		return err
	}

	h.mu.Lock()
	h.listeners = listeners
	h.mu.Unlock()
	for _, l := range listeners {
		if err := h.session.Serve(l); err != nil {
			return err
		}
	}

	if h.session.LocalPlayerID() != 0 {
		if _, err := h.session.AddLocalPlayer(h.config.LocalPlayerName); err != nil {
			return err
		}
	}
	h.logger.Info("Server started",
		log.Int("endpoints", len(listeners)),
		log.Int32("world_size", h.config.WorldSize),
		log.Int("tick_rate", h.config.TickRate))
	return nil
}

// Addrs returns the bound listener addresses in endpoint order.
func (h *Host) Addrs() []net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]net.Addr, len(h.listeners))
	for i, l := range h.listeners {
		out[i] = l.Addr()
	}
	return out
}

// Tick drains the transports, runs the handlers and sends the moves queued
// during the tick.
func (h *Host) Tick(dt time.Duration) {
	h.session.Update(dt)
	if err := h.entities.Flush(); err != nil {
		h.logger.Warn("Movement flush failed", log.Error(err))
	}
}

// Run ticks at the configured rate until ctx is done, then shuts down.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.config.TickInterval())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return h.Stop("server shutting down")
		case now := <-ticker.C:
			h.Tick(now.Sub(last))
			last = now
		}
	}
}

// Stop disconnects every player and closes the listeners.
func (h *Host) Stop(reason string) error {
	return h.session.Close(reason)
}
