package session

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/zeusync/worldsync/internal/core/events"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/core/transport"
)

// ConnectEvent is raised when the client reaches StateConnected.
type ConnectEvent struct {
	PlayerID player.ID
	Name     string
}

// DisconnectEvent is raised whenever a connected or connecting client returns
// to StateDisconnected, whichever side initiated it.
type DisconnectEvent struct {
	Reason string
	Err    error
}

type ClientOptions struct {
	Name           string
	ConnectTimeout time.Duration
}

// Client is the client side of a session: at most one link to a server.
// All methods must be called from the tick goroutine.
type Client struct {
	registry  *protocol.Registry
	transport transport.Transport
	options   ClientOptions
	logger    log.Log

	state    State
	playerID player.ID
	link     transport.Link
	dial     *dialAttempt
	elapsed  time.Duration

	OnConnect    events.Observers[ConnectEvent]
	OnDisconnect events.Observers[DisconnectEvent]
}

func NewClient(registry *protocol.Registry, t transport.Transport, options ClientOptions, logger log.Log) *Client {
	if logger == nil {
		logger = log.Provide()
	}
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = DefaultConnectTimeout
	}
	options.Name = player.NormalizeName(options.Name)
	return &Client{
		registry:  registry,
		transport: t,
		options:   options,
		logger:    logger.With(log.String("component", "client_session"), log.String("transport", t.Name())),
	}
}

func (c *Client) State() State { return c.state }

// PlayerID is the id generated by the latest Connect call.
func (c *Client) PlayerID() player.ID { return c.playerID }

func (c *Client) Name() string { return c.options.Name }

func (c *Client) Registry() *protocol.Registry { return c.registry }

// Connect generates a fresh player id and starts dialing. The outcome is
// reported by Update through OnConnect or OnDisconnect.
func (c *Client) Connect(address string, port int) error {
	if c.state != StateDisconnected {
		return ErrAlreadyConnected
	}
	c.playerID = player.GenerateID()
	c.state = StateConnecting
	c.elapsed = 0

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	hs := transport.Handshake{PlayerID: c.playerID, PlayerName: c.options.Name}
	c.dial = startDial(c.transport, addr, hs)

	c.logger.Info("Connecting",
		log.String("address", addr),
		log.Uint64("player_id", c.playerID),
		log.String("name", c.options.Name))
	return nil
}

// Update drains the link's events for this tick. While connecting it also
// accumulates dt and gives up after the connect timeout.
func (c *Client) Update(dt time.Duration) {
	c.registry.Seal()

	if c.state == StateConnecting && c.link == nil {
		if res, ok := c.dial.poll(); ok {
			c.dial = nil
			if res.err != nil {
				c.finish("dial failed", res.err)
				return
			}
			c.link = res.link
		}
	}

	if c.link != nil {
		c.drain()
	}

	if c.state == StateConnecting {
		c.elapsed += dt
		if c.elapsed >= c.options.ConnectTimeout {
			c.logger.Warn("Connect timed out", log.Duration("timeout", c.options.ConnectTimeout))
			c.abort("connect timeout")
			c.finish("connect timeout", ErrConnectTimeout)
		}
	}
}

func (c *Client) drain() {
	events := c.link.Events()
	for n := len(events); n > 0 && c.link != nil; n-- {
		ev, ok := <-events
		if !ok {
			c.link = nil
			c.finish("link closed", transport.ErrClosed)
			return
		}
		c.handle(ev)
	}
}

func (c *Client) handle(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		if c.state != StateConnecting {
			return
		}
		c.state = StateConnected
		c.logger.Info("Connected", log.Uint64("player_id", c.playerID))
		if err := c.OnConnect.Emit(ConnectEvent{PlayerID: c.playerID, Name: c.options.Name}); err != nil {
			c.logger.Warn("Connect observer failed", log.Error(err))
		}
	case transport.EventData:
		if c.state != StateConnected {
			return
		}
		dispatch(c.registry, c.logger, ev, nil)
	case transport.EventDisconnected:
		c.link = nil
		c.finish(ev.Reason, ev.Err)
	}
}

// SendToServer queues msg on the channel its type declares.
func (c *Client) SendToServer(msg protocol.Message) error {
	if c.state != StateConnected || c.link == nil {
		return ErrNotConnected
	}
	return send(c.registry, c.link, msg)
}

// Disconnect closes the link with reason. The transport flushes ordered data
// and lingers briefly so the notice reaches the server. OnDisconnect is raised
// before Disconnect returns.
func (c *Client) Disconnect(reason string) error {
	if c.state == StateDisconnected {
		return nil
	}
	c.abort(reason)
	c.finish(reason, nil)
	return nil
}

// abort tears down the dial or link without raising events.
func (c *Client) abort(reason string) {
	if c.dial != nil {
		c.dial.abandon(reason)
		c.dial = nil
	}
	if c.link != nil {
		if err := c.link.Close(reason); err != nil {
			c.logger.Debug("Link close failed", log.Error(err))
		}
		c.link = nil
	}
}

func (c *Client) finish(reason string, err error) {
	c.state = StateDisconnected
	c.logger.Info("Disconnected", log.String("reason", reason), log.Error(err))
	if emitErr := c.OnDisconnect.Emit(DisconnectEvent{Reason: reason, Err: err}); emitErr != nil {
		c.logger.Warn("Disconnect observer failed", log.Error(emitErr))
	}
}

type dialResult struct {
	link transport.Link
	err  error
}

// dialAttempt runs Dial off the tick goroutine. A link that arrives after the
// attempt was abandoned is closed instead of delivered.
type dialAttempt struct {
	cancel context.CancelFunc
	result chan dialResult

	mx        sync.Mutex
	abandoned bool
	reason    string
}

func startDial(t transport.Transport, addr string, hs transport.Handshake) *dialAttempt {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dialAttempt{cancel: cancel, result: make(chan dialResult, 1)}
	go func() {
		link, err := t.Dial(ctx, addr, hs)
		d.mx.Lock()
		defer d.mx.Unlock()
		if d.abandoned {
			if link != nil {
				_ = link.Close(d.reason)
			}
			return
		}
		d.result <- dialResult{link: link, err: err}
	}()
	return d
}

func (d *dialAttempt) poll() (dialResult, bool) {
	select {
	case res := <-d.result:
		return res, true
	default:
		return dialResult{}, false
	}
}

func (d *dialAttempt) abandon(reason string) {
	d.cancel()
	d.mx.Lock()
	defer d.mx.Unlock()
	d.abandoned = true
	d.reason = reason
	if res, ok := d.poll(); ok && res.link != nil {
		_ = res.link.Close(reason)
	}
}
