// Command client is a headless client that wanders the world, streaming the
// chunks around it.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/worldsync/internal/client"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/session"
	"github.com/zeusync/worldsync/internal/game/messages"
	"github.com/zeusync/worldsync/internal/game/world"
	"github.com/zeusync/worldsync/internal/injector"
)

const (
	speed      = 6 // world units per second
	turnEvery  = 2 * time.Second
	reportEach = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (defaults when empty)")
	flag.Parse()

	cl, cleanup, err := injector.InitializeClient(injector.ConfigPath(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error initializing client:", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cl); err != nil {
		cl.Logger.Error("Client stopped", log.Error(err))
	}
}

func run(ctx context.Context, cl *injector.Client) error {
	app := cl.App
	var lost *session.DisconnectEvent
	app.Session().OnDisconnect.Subscribe(func(ev session.DisconnectEvent) error {
		lost = &ev
		return nil
	})

	cfg := cl.Config.Client
	if err := app.Connect(cfg.Address, cfg.Port); err != nil {
		return err
	}

	w := &wanderer{app: app, logger: cl.Logger}
	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return app.Disconnect("client quit")
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			app.Tick(dt)
			if lost != nil {
				return lost.Err
			}
			w.step(dt)
		}
	}
}

// wanderer walks the controlled character in a straight line, picking a new
// heading now and then.
type wanderer struct {
	app    *client.App
	logger log.Log

	heading   float64
	sinceTurn time.Duration
	sinceLog  time.Duration
}

func (w *wanderer) step(dt time.Duration) {
	local, ok := w.app.Entities().Local()
	if !ok {
		return
	}
	w.sinceTurn += dt
	if w.sinceTurn >= turnEvery {
		w.sinceTurn = 0
		w.heading = rand.Float64() * 2 * math.Pi
	}
	d := float32(speed * dt.Seconds())
	next := local.Position.Add(world.Vec2{
		X: d * float32(math.Cos(w.heading)),
		Y: d * float32(math.Sin(w.heading)),
	})
	if err := w.app.Move(next, messages.Interpolate); err != nil {
		w.logger.Warn("Move failed", log.Error(err))
	}

	w.sinceLog += dt
	if w.sinceLog >= reportEach {
		w.sinceLog = 0
		w.logger.Info("Wandering",
			log.Stringer("position", next),
			log.Int("players", w.app.Roster().Len()),
			log.Int("entities", w.app.Entities().Table().Len()),
			log.Int("chunks", w.app.Terrain().Cache().Len()))
	}
}
