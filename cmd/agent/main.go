package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskwatch/agent/internal/aggregator"
	"github.com/deskwatch/agent/internal/config"
	"github.com/deskwatch/agent/internal/controller"
	"github.com/deskwatch/agent/internal/coordinator"
	"github.com/deskwatch/agent/internal/debounce"
	"github.com/deskwatch/agent/internal/event"
	"github.com/deskwatch/agent/internal/metrics"
	"github.com/deskwatch/agent/internal/sensor/sim"
	"github.com/deskwatch/agent/internal/sensor/sysmon"
	"github.com/deskwatch/agent/internal/sink"
	"github.com/deskwatch/agent/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	simulate := flag.Bool("simulate", false, "Run with simulated sensors instead of host hooks")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	m := metrics.New()

	eventLog, err := sink.NewEventLog(cfg.Sinks.EventLog)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer eventLog.Close()

	alertLog, err := sink.NewAlertLog(cfg.Sinks.AlertLog)
	if err != nil {
		log.Fatalf("Failed to open alert log: %v", err)
	}
	defer alertLog.Close()

	log.Printf("Persisting events to %s, alerts to %s", eventLog.Path(), alertLog.Path())

	agg := aggregator.New(eventLog, alertLog, m)
	pipe := aggregator.NewPipeline(agg, cfg.Engine.IntakeBuffer, m)

	debouncer := debounce.New(func(s debounce.Summary) {
		pipe.Publish(s.Record("input"))
	})
	debouncer.SetSensitivity(cfg.Engine.DebounceSensitivity)

	coord := coordinator.New(m)
	coord.Register(debouncer)
	coord.Register(sysmon.New(sysmon.Config{
		Interval:   cfg.Sysmon.SampleInterval,
		CPUPercent: cfg.Sysmon.CPUPercent,
		MemPercent: cfg.Sysmon.MemPercent,
	}, pipe.Publish))

	ctrl := controller.New(coord, pipe)

	if *simulate {
		log.Println("Starting with simulated sensors")
		for _, svc := range sim.Sensors(sim.Hooks{
			Publish:       pipe.Publish,
			SessionChange: ctrl.HandleSessionChange,
		}) {
			coord.Register(svc)
		}
	}

	broadcaster := ws.NewBroadcaster(func() ws.SnapshotPayload {
		return ws.SnapshotPayload{
			Status:   ctrl.GetMonitoringStatus(),
			Stats:    agg.GetStats(),
			Services: coord.GetStatus(),
		}
	}, cfg.Engine.BroadcastThrottle, cfg.Engine.SnapshotInterval)

	agg.SetNotify(func(rec *event.Record, alerted bool) {
		broadcaster.QueueEvent(rec)
		if alerted {
			broadcaster.BroadcastAlert(rec)
		}
	})
	ctrl.SetNotify(broadcaster.BroadcastStatus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeDone := make(chan struct{})
	go func() {
		pipe.Run(ctx)
		close(pipeDone)
	}()

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := coord.StartAll(startCtx); err != nil {
		log.Printf("Sensor startup incomplete: %v", err)
	}
	startCancel()

	if *simulate {
		go sim.DriveInput(ctx, debouncer.Tick)
	}

	server := ws.NewServer(cfg.Server, broadcaster, agg, coord, ctrl)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := coord.StopAll(stopCtx); err != nil {
			log.Printf("Sensor shutdown incomplete: %v", err)
		}
		stopCancel()

		// Drain whatever the sensors flushed on the way down.
		cancel()
		<-pipeDone

		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, server.Router()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
