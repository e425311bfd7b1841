// Command client runs one headless peer against the relay server. It walks
// the course with a scripted input, stopping on red light, and logs what it
// sees on the local event bus.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/wfunc/coursesync/bus"
	"github.com/wfunc/coursesync/config"
	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/network"
	"github.com/wfunc/coursesync/obstacle"
	"github.com/wfunc/coursesync/player"
	"github.com/wfunc/coursesync/sim"
	"github.com/wfunc/coursesync/transport"
)

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()
	logger.Init("info")

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	course, err := loadCourse(cfg.Sim.LayoutFile)
	if err != nil {
		logger.Log.Fatalf("Failed to load course: %v", err)
	}
	role, err := player.ParseRole(cfg.Peer.Role)
	if err != nil {
		logger.Log.Fatalf("Invalid role: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	relay, err := transport.DialRelay(dialCtx, cfg.Peer.RelayURL, network.JoinRoom{
		Room:  cfg.Peer.Room,
		Name:  cfg.Peer.Name,
		Color: cfg.Peer.Color,
	})
	cancel()
	if err != nil {
		logger.Log.Fatalf("Failed to join relay %s: %v", cfg.Peer.RelayURL, err)
	}
	defer relay.Close()

	peer := sim.NewPeer(relay, sim.Options{
		Course:           course,
		Role:             role,
		Seed:             cfg.Sim.Seed,
		ReassertInterval: cfg.Sim.ReassertInterval,
	})
	defer peer.Close()
	watch(peer)

	go func() {
		select {
		case <-relay.Done():
			logger.Log.Warn("Relay connection lost.")
			stop()
		case <-ctx.Done():
		}
	}()

	logger.Log.Infof("Peer %s running as %s", relay.Self().ID, role)
	w := &walker{peer: peer}
	if err := peer.Run(ctx, cfg.Peer.TickInterval(), w.input); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Errorf("Peer stopped: %v", err)
	}
	logger.Log.Info("Peer stopped.")
}

func loadCourse(path string) (obstacle.Course, error) {
	if path == "" {
		return obstacle.DefaultCourse(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return obstacle.Course{}, err
	}
	defer f.Close()
	return obstacle.LoadCourse(f)
}

func watch(peer *sim.Peer) {
	events := peer.Events()
	bus.Subscribe(events, bus.Stage, func(e bus.StageEvent) {
		logger.Log.Infof("Stage %s", e.Stage)
	})
	bus.Subscribe(events, bus.Light, func(e bus.LightEvent) {
		logger.Log.Infof("Light %s", e.Light)
	})
	bus.Subscribe(events, bus.Death, func(e bus.DeathEvent) {
		logger.Log.Infof("Dead=%v", e.Dead)
	})
	bus.Subscribe(events, bus.Obstacle, func(e bus.ObstacleEvent) {
		logger.Log.Debugf("Obstacle %s %s -> %s", e.Kind, e.ID, e.Status)
	})
	bus.Subscribe(events, bus.Shot, func(e bus.ShotEvent) {
		logger.Log.Infof("Peer %s shot on red light", e.Peer)
	})
	bus.Subscribe(events, bus.Follow, func(e bus.FollowHintEvent) {
		if e.Show {
			logger.Log.Infof("Special player %s out of range", e.Peer)
		}
	})
}

// walker holds forward, hops every two seconds, charges a shot every five
// and catches up with a special player every ten. It stands still while the
// light is red.
type walker struct {
	peer *sim.Peer
}

func (w *walker) input(now time.Duration) player.Input {
	if w.peer.Controller().RedLight() {
		return player.Input{}
	}
	return player.Input{
		Forward: true,
		Jump:    now%(2*time.Second) < 100*time.Millisecond,
		Fire:    now%(5*time.Second) < 700*time.Millisecond,
		Follow:  now%(10*time.Second) < 100*time.Millisecond,
		Aim:     mgl64.Vec3{0, 0.2, 1}.Normalize(),
	}
}
