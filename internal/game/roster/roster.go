// Package roster keeps every client's player list in step with the server's.
// A joining player receives the full list once; everyone else receives
// incremental connect and disconnect notices afterwards.
package roster

import (
	"errors"
	"fmt"

	"github.com/zeusync/worldsync/internal/core/events"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/game/messages"
)

// Mode is how the server process takes part in the game.
type Mode uint8

const (
	// Dedicated servers have no player of their own.
	Dedicated Mode = iota
	// Host servers also run the local player.
	Host
)

func (m Mode) String() string {
	if m == Host {
		return "host"
	}
	return "dedicated"
}

// ParseMode accepts "dedicated" and "host".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "dedicated":
		return Dedicated, nil
	case "host":
		return Host, nil
	default:
		return Dedicated, fmt.Errorf("roster: unknown mode %q", s)
	}
}

// Sender is the part of the server session the roster needs.
type Sender interface {
	SendToPlayer(msg protocol.Message, p *player.Player) error
	Broadcast(msg protocol.Message, skip func(*player.Player) bool) error
	Players() []*player.Player
}

// Server announces joins and departures.
type Server struct {
	sender  Sender
	mode    Mode
	localID player.ID
	logger  log.Log
}

func NewServer(sender Sender, mode Mode, localID player.ID, logger log.Log) *Server {
	if logger == nil {
		logger = log.Provide()
	}
	return &Server{
		sender:  sender,
		mode:    mode,
		localID: localID,
		logger:  logger.With(log.String("component", "roster")),
	}
}

// OnPlayerConnect sends the joiner the full roster, itself included, then
// tells every other player about the joiner.
func (s *Server) OnPlayerConnect(joined *player.Player) error {
	players := s.sender.Players()
	snapshot := &messages.PlayerListSync{Players: make([]messages.PlayerEntry, 0, len(players))}
	for _, p := range players {
		snapshot.Players = append(snapshot.Players, messages.PlayerEntry{ID: p.ID, Name: p.Name})
	}
	if err := s.sender.SendToPlayer(snapshot, joined); err != nil {
		return fmt.Errorf("roster sync to %d: %w", joined.ID, err)
	}
	if len(players) < 2 {
		return nil
	}

	notice := &messages.PlayerConnect{ID: joined.ID, Name: joined.Name}
	return s.sender.Broadcast(notice, func(p *player.Player) bool {
		return p.ID == joined.ID || p.ID == s.localID
	})
}

// OnPlayerDisconnect tells the remaining players who left, unless the session
// is winding down.
func (s *Server) OnPlayerDisconnect(left *player.Player) error {
	remaining := len(s.sender.Players())
	if suppressDeparture(remaining, s.mode) {
		s.logger.Debug("Departure notice suppressed",
			log.Uint64("player_id", left.ID),
			log.Int("remaining", remaining),
			log.Stringer("mode", s.mode))
		return nil
	}
	notice := &messages.PlayerDisconnect{ID: left.ID}
	return s.sender.Broadcast(notice, func(p *player.Player) bool {
		return p.ID == left.ID || p.ID == s.localID
	})
}

// suppressDeparture is true when nobody is left to tell, or when a host
// session is down to two players.
func suppressDeparture(remaining int, mode Mode) bool {
	return remaining == 0 || (remaining == 2 && mode == Host)
}

// Change describes one update of a Mirror.
type Change struct {
	Kind   ChangeKind
	Player *player.Player
}

type ChangeKind uint8

const (
	ChangeReplaced ChangeKind = iota
	ChangeJoined
	ChangeLeft
	ChangeCleared
)

// Mirror is the client's copy of the roster. Roster messages travel on
// independent streams, so deltas may overtake the full sync they follow, and
// a departure may overtake the arrival it ends. Deltas are held until the
// first sync, and departures of unknown players are remembered so the late
// arrival is dropped.
type Mirror struct {
	players  []*player.Player
	synced   bool
	early    []func() error
	departed map[player.ID]struct{}
	logger   log.Log

	OnChange events.Observers[Change]
}

func NewMirror(logger log.Log) *Mirror {
	if logger == nil {
		logger = log.Provide()
	}
	return &Mirror{
		departed: make(map[player.ID]struct{}),
		logger:   logger.With(log.String("component", "roster_mirror")),
	}
}

// Register installs the mirror's handlers for the three roster messages.
func (m *Mirror) Register(r *protocol.Registry) error {
	if err := protocol.Handle[messages.PlayerListSync](r, m.handleSync); err != nil {
		return err
	}
	if err := protocol.Handle[messages.PlayerConnect](r, m.handleConnect); err != nil {
		return err
	}
	return protocol.Handle[messages.PlayerDisconnect](r, m.handleDisconnect)
}

func (m *Mirror) handleSync(msg *messages.PlayerListSync, _ *player.Player) error {
	m.players = m.players[:0]
	for _, e := range msg.Players {
		m.upsert(player.New(e.ID, e.Name))
	}
	m.logger.Debug("Roster replaced", log.Int("players", len(m.players)))
	errs := []error{m.OnChange.Emit(Change{Kind: ChangeReplaced})}

	m.synced = true
	early := m.early
	m.early = nil
	for _, apply := range early {
		errs = append(errs, apply())
	}
	return errors.Join(errs...)
}

func (m *Mirror) handleConnect(msg *messages.PlayerConnect, from *player.Player) error {
	if !m.synced {
		m.early = append(m.early, func() error { return m.handleConnect(msg, from) })
		return nil
	}
	if _, gone := m.departed[msg.ID]; gone {
		delete(m.departed, msg.ID)
		m.logger.Debug("Dropped arrival of departed player", log.Uint64("player_id", msg.ID))
		return nil
	}
	p := player.New(msg.ID, msg.Name)
	m.upsert(p)
	return m.OnChange.Emit(Change{Kind: ChangeJoined, Player: p})
}

func (m *Mirror) handleDisconnect(msg *messages.PlayerDisconnect, from *player.Player) error {
	if !m.synced {
		m.early = append(m.early, func() error { return m.handleDisconnect(msg, from) })
		return nil
	}
	for i, p := range m.players {
		if p.ID == msg.ID {
			m.players = append(m.players[:i], m.players[i+1:]...)
			return m.OnChange.Emit(Change{Kind: ChangeLeft, Player: p})
		}
	}
	m.departed[msg.ID] = struct{}{}
	return nil
}

func (m *Mirror) upsert(p *player.Player) {
	for i, q := range m.players {
		if q.ID == p.ID {
			m.players[i] = p
			return
		}
	}
	m.players = append(m.players, p)
}

// Players returns the mirrored players in the order the server reported them.
func (m *Mirror) Players() []*player.Player {
	return append([]*player.Player(nil), m.players...)
}

func (m *Mirror) Get(id player.ID) (*player.Player, bool) {
	for _, p := range m.players {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (m *Mirror) Len() int { return len(m.players) }

// Clear forgets every player, as after a local disconnect.
func (m *Mirror) Clear() {
	m.synced = false
	m.early = nil
	clear(m.departed)
	if len(m.players) == 0 {
		return
	}
	m.players = nil
	if err := m.OnChange.Emit(Change{Kind: ChangeCleared}); err != nil {
		m.logger.Warn("Roster observer failed", log.Error(err))
	}
}
