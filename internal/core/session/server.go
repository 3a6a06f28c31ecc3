package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeusync/worldsync/internal/core/events"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/core/transport"
	"github.com/zeusync/worldsync/pkg/concurrent"
)

type ServerOptions struct {
	// LocalPlayerID is the host's own player when the server also plays.
	// Nothing is ever sent to it. Zero means a dedicated server.
	LocalPlayerID player.ID
}

// Server is the authoritative side of a session. It owns the connection set
// and the player records created from accepted handshakes. Update and the
// send methods must be called from the tick goroutine; Serve may be called
// from any goroutine.
type Server struct {
	registry *protocol.Registry
	options  ServerOptions
	logger   log.Log

	mx        sync.Mutex
	listeners []transport.Listener
	closed    bool

	players []*player.Player
	byID    map[player.ID]*player.Player
	byConn  map[string]*player.Player

	OnPlayerConnect    events.Observers[*player.Player]
	OnPlayerDisconnect events.Observers[*player.Player]
}

func NewServer(registry *protocol.Registry, options ServerOptions, logger log.Log) *Server {
	if logger == nil {
		logger = log.Provide()
	}
	return &Server{
		registry: registry,
		options:  options,
		logger:   logger.With(log.String("component", "server_session")),
		byID:     make(map[player.ID]*player.Player),
		byConn:   make(map[string]*player.Player),
	}
}

func (s *Server) Registry() *protocol.Registry { return s.registry }

func (s *Server) LocalPlayerID() player.ID { return s.options.LocalPlayerID }

// Serve attaches a listener. Its events are drained from the next Update on.
func (s *Server) Serve(l transport.Listener) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.listeners = append(s.listeners, l)
	s.logger.Info("Serving", log.String("addr", l.Addr().String()))
	return nil
}

// Update drains every listener's events queued since the previous tick.
func (s *Server) Update(_ time.Duration) {
	s.registry.Seal()

	s.mx.Lock()
	listeners := append([]transport.Listener(nil), s.listeners...)
	s.mx.Unlock()

	for _, l := range listeners {
		events := l.Events()
		for n := len(events); n > 0; n-- {
			s.handle(<-events)
		}
	}
}

func (s *Server) handle(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		s.accept(ev)
	case transport.EventDisconnected:
		s.remove(ev.Conn, ev.Reason, ev.Err)
	case transport.EventData:
		p, ok := s.byConn[ev.Conn.ID()]
		if !ok {
			s.logger.Debug("Dropped frame from unknown connection", log.String("conn_id", ev.Conn.ID()))
			return
		}
		dispatch(s.registry, s.logger, ev, p)
	}
}

func (s *Server) accept(ev transport.Event) {
	hs := ev.Handshake
	if err := s.validate(hs); err != nil {
		s.logger.Warn("Rejected handshake",
			log.String("conn_id", ev.Conn.ID()),
			log.Uint64("player_id", hs.PlayerID),
			log.Error(err))
		_ = ev.Conn.Close(err.Error())
		return
	}

	p := player.NewRemote(hs.PlayerID, player.NormalizeName(hs.PlayerName), ev.Conn)
	s.players = append(s.players, p)
	s.byID[p.ID] = p
	s.byConn[ev.Conn.ID()] = p

	s.logger.Info("Player connected",
		log.Uint64("player_id", p.ID),
		log.String("name", p.Name),
		log.String("remote_addr", ev.Conn.RemoteAddr().String()),
		log.Int("players", len(s.players)))
	if err := s.OnPlayerConnect.Emit(p); err != nil {
		s.logger.Warn("Player connect observer failed", log.Error(err))
	}
}

func (s *Server) validate(hs transport.Handshake) error {
	if hs.PlayerID == 0 {
		return fmt.Errorf("%w: player id 0", ErrHandshakeRejected)
	}
	if _, taken := s.byID[hs.PlayerID]; taken || hs.PlayerID == s.options.LocalPlayerID {
		return fmt.Errorf("%w: player id %d in use", ErrHandshakeRejected, hs.PlayerID)
	}
	return nil
}

func (s *Server) remove(conn transport.Conn, reason string, err error) {
	p, ok := s.byConn[conn.ID()]
	if !ok {
		return
	}
	delete(s.byConn, conn.ID())
	s.drop(p, reason, err)
}

func (s *Server) drop(p *player.Player, reason string, err error) {
	delete(s.byID, p.ID)
	for i, q := range s.players {
		if q == p {
			s.players = append(s.players[:i], s.players[i+1:]...)
			break
		}
	}

	s.logger.Info("Player disconnected",
		log.Uint64("player_id", p.ID),
		log.String("reason", reason),
		log.Error(err),
		log.Int("players", len(s.players)))
	if emitErr := s.OnPlayerDisconnect.Emit(p); emitErr != nil {
		s.logger.Warn("Player disconnect observer failed", log.Error(emitErr))
	}
}

// AddLocalPlayer registers the host's own player. It has no connection and is
// never sent anything, but it is announced and synchronized like any other.
func (s *Server) AddLocalPlayer(name string) (*player.Player, error) {
	id := s.options.LocalPlayerID
	if id == 0 {
		return nil, fmt.Errorf("%w: no local player id configured", ErrUnknownPlayer)
	}
	if _, taken := s.byID[id]; taken {
		return nil, ErrAlreadyConnected
	}
	p := player.New(id, player.NormalizeName(name))
	s.players = append(s.players, p)
	s.byID[id] = p

	s.logger.Info("Local player added", log.Uint64("player_id", id), log.String("name", p.Name))
	if err := s.OnPlayerConnect.Emit(p); err != nil {
		s.logger.Warn("Player connect observer failed", log.Error(err))
	}
	return p, nil
}

// Players returns the connected players in join order.
func (s *Server) Players() []*player.Player {
	return append([]*player.Player(nil), s.players...)
}

func (s *Server) PlayerCount() int { return len(s.players) }

func (s *Server) Player(id player.ID) (*player.Player, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// SendToPlayer unicasts msg. Sending to the local host player is a no-op.
func (s *Server) SendToPlayer(msg protocol.Message, p *player.Player) error {
	if p == nil {
		return ErrUnknownPlayer
	}
	if s.options.LocalPlayerID != 0 && p.ID == s.options.LocalPlayerID {
		return nil
	}
	conn := p.Conn()
	if conn == nil {
		return fmt.Errorf("%w: %d has no connection", ErrUnknownPlayer, p.ID)
	}
	return send(s.registry, conn, msg)
}

// Broadcast sends msg to every player for which skip returns false. A nil
// skip sends to everyone. The frame is encoded once.
func (s *Server) Broadcast(msg protocol.Message, skip func(*player.Player) bool) error {
	frame, err := s.registry.Encode(msg)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range s.players {
		if skip != nil && skip(p) {
			continue
		}
		if s.options.LocalPlayerID != 0 && p.ID == s.options.LocalPlayerID {
			continue
		}
		if err = p.Conn().Send(msg.Delivery(), frame); err != nil {
			errs = append(errs, fmt.Errorf("player %d: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Kick closes p's connection with reason and removes it immediately.
func (s *Server) Kick(p *player.Player, reason string) error {
	if _, ok := s.byID[p.ID]; !ok {
		return ErrUnknownPlayer
	}
	conn := p.Conn()
	if conn == nil {
		return fmt.Errorf("%w: %d has no connection", ErrUnknownPlayer, p.ID)
	}
	err := conn.Close(reason)
	s.remove(conn, reason, nil)
	return err
}

// Close disconnects every player with reason and closes all listeners.
func (s *Server) Close(reason string) error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	s.mx.Unlock()

	// Connections linger while closing, so close them side by side.
	players := s.Players()
	var errs []error
	err := concurrent.Concurrent(players, func(p *player.Player) error {
		if conn := p.Conn(); conn != nil {
			return conn.Close(reason)
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	for _, p := range players {
		if conn := p.Conn(); conn != nil {
			s.remove(conn, reason, nil)
		} else {
			s.drop(p, reason, nil)
		}
	}
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("Server session closed", log.String("reason", reason))
	return errors.Join(errs...)
}
