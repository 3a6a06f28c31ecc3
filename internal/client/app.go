// Package client runs the game client: a session to the server plus the
// roster, entity and chunk mirrors fed by it.
package client

import (
	"errors"
	"time"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/core/session"
	"github.com/zeusync/worldsync/internal/core/transport"
	"github.com/zeusync/worldsync/internal/game/entity"
	"github.com/zeusync/worldsync/internal/game/messages"
	"github.com/zeusync/worldsync/internal/game/roster"
	"github.com/zeusync/worldsync/internal/game/terrain"
	"github.com/zeusync/worldsync/internal/game/world"
)

type Options struct {
	Name           string
	ConnectTimeout time.Duration
	LoadRadius     int32
	WorldSize      int32
}

// App ties the client components to one tick. All methods must be called
// from the tick goroutine.
type App struct {
	session  *session.Client
	roster   *roster.Mirror
	entities *entity.Mirror
	terrain  *terrain.Streamer
	logger   log.Log
}

func New(t transport.Transport, options Options, logger log.Log) (*App, error) {
	if logger == nil {
		logger = log.Provide()
	}
	registry := protocol.NewRegistry(logger)
	if err := messages.Register(registry); err != nil {
		return nil, err
	}

	a := &App{
		session: session.NewClient(registry, t, session.ClientOptions{
			Name:           options.Name,
			ConnectTimeout: options.ConnectTimeout,
		}, logger),
		roster:   roster.NewMirror(logger),
		entities: entity.NewMirror(logger),
		terrain:  terrain.NewStreamer(options.LoadRadius, options.WorldSize, logger),
		logger:   logger.With(log.String("component", "client_app")),
	}
	err := errors.Join(
		a.roster.Register(registry),
		a.entities.Register(registry),
		a.terrain.Register(registry),
	)
	if err != nil {
		return nil, err
	}

	a.session.OnConnect.Subscribe(a.onConnect)
	a.session.OnDisconnect.Subscribe(a.onDisconnect)
	return a, nil
}

func (a *App) Session() *session.Client   { return a.session }
func (a *App) Roster() *roster.Mirror     { return a.roster }
func (a *App) Entities() *entity.Mirror   { return a.entities }
func (a *App) Terrain() *terrain.Streamer { return a.terrain }
func (a *App) Connected() bool            { return a.session.State() == session.StateConnected }

func (a *App) Connect(address string, port int) error { return a.session.Connect(address, port) }

func (a *App) Disconnect(reason string) error { return a.session.Disconnect(reason) }

func (a *App) onConnect(ev session.ConnectEvent) error {
	a.entities.SetLocalID(ev.PlayerID)
	return nil
}

func (a *App) onDisconnect(ev session.DisconnectEvent) error {
	a.logger.Info("Disconnected, clearing world", log.String("reason", ev.Reason), log.Error(ev.Err))
	a.roster.Clear()
	a.entities.Clear()
	a.terrain.Reset()
	return nil
}

// Move moves the controlled character. It fails until the server has spawned
// it.
func (a *App) Move(pos world.Vec2, mode messages.SyncMode) error {
	return a.entities.MoveControlled(pos, mode)
}

// Tick drains the session, streams chunks around the controlled character
// and sends the moves made since the last tick.
func (a *App) Tick(dt time.Duration) {
	a.session.Update(dt)
	if !a.Connected() {
		return
	}
	if local, ok := a.entities.Local(); ok {
		if err := a.terrain.Tick(local.Position, a.session.SendToServer); err != nil {
			a.logger.Warn("Chunk request failed", log.Error(err))
		}
	}
	if err := a.entities.Flush(a.session.SendToServer); err != nil {
		a.logger.Warn("Movement flush failed", log.Error(err))
	}
}
