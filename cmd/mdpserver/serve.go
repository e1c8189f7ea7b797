package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-mdp/internal/clock"
	"github.com/teslashibe/go-mdp/internal/codec"
	"github.com/teslashibe/go-mdp/internal/config"
	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/internal/messaging"
	"github.com/teslashibe/go-mdp/internal/params"
	"github.com/teslashibe/go-mdp/internal/store"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/backend/httpdrv"
	"github.com/teslashibe/go-mdp/pkg/backend/obstacle"
	"github.com/teslashibe/go-mdp/pkg/backend/sim"
	"github.com/teslashibe/go-mdp/pkg/bridge"
	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/hub"
	"github.com/teslashibe/go-mdp/pkg/mocap"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
	"github.com/teslashibe/go-mdp/pkg/safety"
	"github.com/teslashibe/go-mdp/pkg/scheduler"
	"github.com/teslashibe/go-mdp/pkg/telemetry"
	"github.com/teslashibe/go-mdp/pkg/web"
)

// telemetryQueue is the depth of the async telemetry worker.
const telemetryQueue = 4096

func serveCmd() *cobra.Command {
	var (
		port   int
		robots []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Web.Port = port
			}
			for _, tag := range robots {
				cfg.Robots = append(cfg.Robots, config.RobotConfig{Tag: tag})
			}
			return serve(cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Web port (overrides config)")
	cmd.Flags().StringArrayVarP(&robots, "robot", "r", nil, "Robot tag to add at start-up (repeatable)")
	return cmd
}

func settingsFrom(cfg *config.Config) (rigidbody.Settings, error) {
	box, err := safety.NewBox(cfg.Safety.Min, cfg.Safety.Max)
	if err != nil {
		return rigidbody.Settings{}, err
	}
	return rigidbody.Settings{
		Box:            box,
		TimeoutMargin:  cfg.Safety.TimeoutMargin,
		HoverTimeout:   cfg.Safety.HoverTimeout,
		LandedTimeout:  cfg.Safety.LandedTimeout,
		InitialTimeout: cfg.Safety.InitialTimeout,
		MailboxSize:    cfg.Server.MailboxSize,
	}, nil
}

func serve(cfg *config.Config) error {
	log.InitFormat(cfg.Log.Level, cfg.Log.Format)
	logger := log.Component("server")

	settings, err := settingsFrom(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("🛸 MDP control server")
	fmt.Printf("   Rate:   %.0f Hz\n", cfg.Server.UpdateRateHz)
	fmt.Printf("   Web:    http://%s\n", cfg.Web.Addr())
	fmt.Printf("   Safety: %v .. %v\n", geom.FromArray(cfg.Safety.Min), geom.FromArray(cfg.Safety.Max))
	fmt.Println()

	var (
		sinks     telemetry.Fanout
		flightLog web.FlightLog
	)

	// Flight log
	if cfg.Database.Driver != "" {
		db, err := store.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("open flight log: %w", err)
		}
		defer db.Close()
		sinks = append(sinks, telemetry.NewStoreSink(db))
		flightLog = db
		fmt.Printf("📒 Flight log: %s\n", db.Driver())
	}

	// Parameters
	pstore := params.Open(ctx, cfg.Redis)
	defer pstore.Close()
	keys := params.Keys{Prefix: cfg.Redis.KeyPrefix}
	sinks = append(sinks, telemetry.NewParamSink(pstore, keys))

	// Dashboards
	wsHub := hub.New("telemetry")
	sinks = append(sinks, telemetry.NewHubSink(wsHub, codec.JSON, cfg.Web.TelemetryHz))

	// Pub/sub
	busCodec, err := codec.New(cfg.Messaging.Codec)
	if err != nil {
		return err
	}
	var bus messaging.Bus
	if cfg.Messaging.Backend != "" {
		mc := messaging.NewClient(cfg.Messaging)
		if err := mc.Connect(); err != nil {
			return fmt.Errorf("connect %s: %w", cfg.Messaging.Backend, err)
		}
		defer mc.Close()
		bus = mc
		sinks = append(sinks, telemetry.NewBusSink(bus, busCodec, cfg.Messaging.TelemetryTopic, cfg.Web.TelemetryHz))
		fmt.Printf("📡 Messaging: %s (%s)\n", cfg.Messaging.Backend, busCodec.Name())
	}

	sink := telemetry.NewAsync("telemetry", sinks, telemetryQueue)
	defer sink.Close()

	// Drivers
	bridgeHub := bridge.NewHub()
	factory := backend.NewFactory()
	factory.Register(sim.Type, sim.Prefix, sim.Constructor(cfg.Drivers.Sim.Acceleration, clock.Real()))
	factory.Register(obstacle.Type, obstacle.Prefix, obstacle.Constructor)
	factory.Register(httpdrv.Type, httpdrv.Prefix, httpdrv.Constructor(httpdrv.Config{
		BaseURL:    cfg.Drivers.HTTP.BaseURL,
		Timeout:    cfg.Drivers.HTTP.Timeout,
		QueueSize:  cfg.Drivers.HTTP.QueueSize,
		LinkURI:    cfg.Drivers.HTTP.LinkURI,
		LandHeight: cfg.Drivers.HTTP.LandHeight,
	}))
	factory.Register(bridge.Type, bridge.Prefix, bridge.Constructor(bridgeHub))

	reg := fleet.NewRegistry(factory,
		fleet.WithObserver(sink),
		fleet.WithBodyOptions(rigidbody.WithSettings(settings), rigidbody.WithSink(sink)))

	sched, err := scheduler.New(reg, scheduler.Config{
		RateHz:          cfg.Server.UpdateRateHz,
		SummaryInterval: cfg.Server.SummaryInterval,
		ShutdownGrace:   cfg.Server.ShutdownGrace,
	}, scheduler.WithRecorder(sink))
	if err != nil {
		return err
	}

	for _, rc := range cfg.Robots {
		id, err := sched.AddRobot(backend.Request{Tag: rc.Tag, Type: rc.Type, Spawn: geom.FromArray(rc.Spawn)})
		if err != nil {
			logger.Error("failed to add robot", "tag", rc.Tag, "error", err)
			continue
		}
		fmt.Printf("   + %s\n", id)
	}

	if bus != nil {
		if err := mocap.NewFeed(bus, busCodec, cfg.Messaging.PoseTopic, reg).Start(); err != nil {
			return fmt.Errorf("pose feed: %w", err)
		}
		if err := scheduler.NewIngress(sched, bus, busCodec, cfg.Messaging.CommandTopic).Start(); err != nil {
			return fmt.Errorf("command feed: %w", err)
		}
	}

	srv := web.NewServer(web.Options{
		Addr:      cfg.Web.Addr(),
		Scheduler: sched,
		Factory:   factory,
		Telemetry: wsHub,
		Bridge:    bridgeHub,
		FlightLog: flightLog,
		Shutdown:  sched.Stop,
	})
	srv.StartAsync()
	defer func() {
		if err := srv.Shutdown(); err != nil {
			logger.Warn("web shutdown", "error", err)
		}
	}()

	go params.WatchShutdown(ctx, pstore, keys, cfg.Server.ShutdownPoll, sched.Stop)

	// SIGTERM lands the fleet, SIGINT or a second signal drops it.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		graceful := false
		for sig := range sigChan {
			if sig == syscall.SIGTERM && !graceful {
				graceful = true
				fmt.Println("\n🛬 Landing all robots...")
				sched.Stop()
				continue
			}
			fmt.Println("\n⚠️  Forced shutdown, robots are not landed")
			sched.Interrupt()
			return
		}
	}()

	fmt.Println("✅ Control loop running")
	start := time.Now()
	err = sched.Run(ctx)
	cancel()

	switch {
	case err == nil:
		fmt.Printf("👋 All robots landed, up %s\n", time.Since(start).Round(time.Second))
		return nil
	case errors.Is(err, scheduler.ErrShutdownTimeout):
		fmt.Println("⚠️  Grace period elapsed before every robot landed")
	case errors.Is(err, scheduler.ErrInterrupted):
		fmt.Println("👋 Stopped without landing")
	}
	return err
}
