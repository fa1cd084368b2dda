package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/obsmix/obs-midi-mixer/internal/audio"
	"github.com/obsmix/obs-midi-mixer/internal/config"
	"github.com/obsmix/obs-midi-mixer/internal/events"
	"github.com/obsmix/obs-midi-mixer/internal/midi"
	"github.com/obsmix/obs-midi-mixer/internal/obs"
)

func main() {
	zl, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	// Load configuration
	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatalw("failed to load settings", "error", err)
	}

	bus := events.NewBus()

	// Wire the components: MIDI dispatch executes against the projection,
	// the projection follows the control-protocol session.
	obsSession := obs.NewSession(cfg, bus, logger)
	midiSession := midi.NewSession(cfg, bus, logger)
	defer midiSession.Close()

	projection := audio.NewProjection(obsSession, cfg, bus, logger)
	projection.SetMappingRemover(midiSession)
	projection.Bind()
	midiSession.SetTarget(projection)

	logBridgeEvents(bus, logger)

	// Bring up the MIDI side.
	devices := midiSession.ListDevices()
	if deviceID := cfg.GetString("midi.deviceId", ""); deviceID != "" && cfg.GetBool("midi.autoConnect", true) {
		for _, d := range devices {
			if d.ID == deviceID {
				midiSession.ConnectToDevice(deviceID)
				break
			}
		}
	}

	// Bring up the control-protocol side.
	if cfg.GetBool("obs.autoConnect", true) {
		url := cfg.GetString("obs.url", "ws://localhost:4455")
		password := cfg.GetString("obs.password", "")
		if err := obsSession.Connect(url, password); err != nil {
			logger.Warnw("initial connect failed, reconnect scheduled", "error", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	obsSession.Disconnect()
}

// logBridgeEvents surfaces the bridge's event stream on the console, the way
// a UI shell would render it.
func logBridgeEvents(bus *events.Bus, logger *zap.SugaredLogger) {
	l := logger.Named("bridge")

	bus.Subscribe(events.KindConnected, func(events.Event) {
		l.Info("control connection ready")
	})
	bus.Subscribe(events.KindDisconnected, func(e events.Event) {
		l.Infow("control connection lost", "reason", e.(events.Disconnected).Reason)
	})
	bus.Subscribe(events.KindSourcesUpdated, func(e events.Event) {
		l.Infow("sources updated", "sources", e.(events.SourcesUpdated).Sources)
	})
	bus.Subscribe(events.KindScenesUpdated, func(e events.Event) {
		l.Infow("scenes updated", "scenes", e.(events.ScenesUpdated).Scenes)
	})
	bus.Subscribe(events.KindSceneChanged, func(e events.Event) {
		l.Infow("scene changed", "scene", e.(events.SceneChanged).Scene)
	})
	bus.Subscribe(events.KindDeviceConnected, func(e events.Event) {
		l.Infow("midi device connected", "device", e.(events.DeviceConnected).Device.Name)
	})
	bus.Subscribe(events.KindDeviceDisconnected, func(events.Event) {
		l.Info("midi device disconnected")
	})
	bus.Subscribe(events.KindMappingAdded, func(e events.Event) {
		l.Infow("mapping added", "control", e.(events.MappingAdded).ControlID)
	})
	bus.Subscribe(events.KindMappingRemoved, func(e events.Event) {
		l.Infow("mapping removed", "control", e.(events.MappingRemoved).ControlID)
	})
}
