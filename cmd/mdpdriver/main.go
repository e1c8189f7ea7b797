// Command mdpdriver is a simulated robot that connects to the server
// through the driver bridge. Register it with a "bridge_" tag matching
// -name, or pass -type bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/teslashibe/go-mdp/internal/config"
	ilog "github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/backend/sim"
	"github.com/teslashibe/go-mdp/pkg/bridge"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/protocol"
)

// vehicle is a sim.Model shared between the read loop and the stepper.
type vehicle struct {
	mu    sync.Mutex
	model *sim.Model
}

func (v *vehicle) step(now time.Time) geom.Pose {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.model.Step(now)
	return v.model.Pose()
}

func (v *vehicle) handle(msg *protocol.Message) error {
	now := time.Now()
	switch msg.Type {
	case protocol.TypeHello:
		d, err := msg.GetHelloData()
		if err != nil {
			return err
		}
		fmt.Printf("🤝 Bound to robot %d (%s)\n", d.ID, d.Robot)
		return nil
	case protocol.TypePong:
		d, err := msg.GetPongData()
		if err != nil {
			return err
		}
		fmt.Printf("🏓 Latency %d ms\n", d.LatencyMs)
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	switch msg.Type {
	case protocol.TypeGoTo:
		d, err := msg.GetGoToData()
		if err != nil {
			return err
		}
		v.model.GoTo(geom.FromArray(d.Target), d.Yaw, d.Duration, d.Relative, now)
	case protocol.TypeVelocity:
		d, err := msg.GetVelocityData()
		if err != nil {
			return err
		}
		v.model.SetVelocity(geom.FromArray(d.Linear), d.YawRate, d.Duration, now)
	case protocol.TypeTakeoff:
		d, err := msg.GetTakeoffData()
		if err != nil {
			return err
		}
		v.model.Takeoff(d.Height, d.Duration, now)
	case protocol.TypeLand:
		d, err := msg.GetLandData()
		if err != nil {
			return err
		}
		v.model.Land(d.Duration, now)
	case protocol.TypeEmergency:
		v.model.Emergency(now)
	default:
		return fmt.Errorf("unsupported message type %q", msg.Type)
	}
	return nil
}

func main() {
	server := flag.String("server", config.ServerURL(config.DefaultServerURL), "Server URL")
	name := flag.String("name", "bridge_00", "Driver name (the robot tag)")
	x := flag.Float64("x", -1, "Spawn x in meters")
	y := flag.Float64("y", 0, "Spawn y in meters")
	accel := flag.Float64("accel", sim.DefaultAcceleration, "Acceleration limit in m/s²")
	rate := flag.Float64("rate", 100, "Pose report rate in Hz")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		ilog.SetLevel("debug")
	}
	if *rate <= 0 {
		log.Fatalf("rate must be positive, got %v", *rate)
	}

	fmt.Println("🛸 MDP bridge driver")
	fmt.Printf("   Server: %s\n", *server)
	fmt.Printf("   Name:   %s\n", *name)
	fmt.Printf("   Spawn:  (%.2f, %.2f)\n", *x, *y)
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Shutting down...")
		cancel()
	}()

	v := &vehicle{model: sim.NewModel(geom.Vec(*x, *y, 0), *accel)}
	period := time.Duration(float64(time.Second) / *rate)

	for ctx.Err() == nil {
		if err := session(ctx, *server, *name, v, period); err != nil && ctx.Err() == nil {
			log.Printf("⚠️  %v, reconnecting in 2s", err)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}
	fmt.Println("👋 Goodbye!")
}

// session runs one connection: the read loop plus a stepper reporting the
// simulated pose every period.
func session(ctx context.Context, server, name string, v *vehicle, period time.Duration) error {
	c, err := bridge.Dial(ctx, server, name)
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Println("✅ Connected")

	sctx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		pings := time.NewTicker(10 * time.Second)
		defer pings.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-pings.C:
				_ = c.Ping(name)
			case now := <-ticker.C:
				p := v.step(now)
				if err := c.SendPose(p.Position.Array(), p.Yaw); err != nil {
					return
				}
			}
		}
	}()

	return c.Run(sctx, v.handle)
}
