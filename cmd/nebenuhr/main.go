// Command nebenuhr drives a polarity-reversing slave clock from two GPIO
// lines and keeps it in step with NTP time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/nebenuhr/internal/config"
	"github.com/sweeney/nebenuhr/internal/gpio"
	"github.com/sweeney/nebenuhr/internal/logging"
	"github.com/sweeney/nebenuhr/internal/logic"
	"github.com/sweeney/nebenuhr/internal/mqtt"
	"github.com/sweeney/nebenuhr/internal/persist"
	"github.com/sweeney/nebenuhr/internal/pulse"
	"github.com/sweeney/nebenuhr/internal/restart"
	"github.com/sweeney/nebenuhr/internal/status"
	"github.com/sweeney/nebenuhr/internal/timesource"
	"github.com/sweeney/nebenuhr/internal/web"
	"github.com/sweeney/nebenuhr/internal/zone"
)

// clockPoll is how often the boot sequence checks for a valid clock.
const clockPoll = 100 * time.Millisecond

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "nebenuhr: %v\n", err)
		os.Exit(2)
	}

	history := logging.NewHistory(logging.HistorySize)
	log := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		History: history,
	})

	err = run(cfg, log, history)
	if errors.Is(err, timesource.ErrBootTimeout) {
		log.Error().Dur("timeout", cfg.BootTimeout).Msg("clock never became valid, restarting")
		err = restart.Self(restart.Exec)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func run(cfg config.Config, log zerolog.Logger, history *logging.History) error {
	zones, err := zone.NewRegistry(zone.Names)
	if err != nil {
		log.Warn().Err(err).Msg("some zones unavailable")
	}
	defZone, err := zones.ByName(cfg.Zone)
	if err != nil {
		log.Warn().Err(err).Str("zone", cfg.Zone).Msg("configured zone unknown, using default")
		if defZone, err = zones.ByName(zone.DefaultName); err != nil {
			return fmt.Errorf("default zone: %w", err)
		}
	}

	// Persistence
	store, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	hook, err := persist.Load(store, defZone.ID, zones.Valid, log.With().Str("component", "persist").Logger())
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	if cfg.PrintState {
		rec := hook.Record()
		z, _ := zones.ByID(rec.ZoneID)
		fmt.Printf("zone: %s (%#x)\nreboots: %d\nuptime total: %ds\n", z.Name, rec.ZoneID, rec.Reboots, rec.UptimeSecondsTotal)
		return nil
	}

	if err := hook.Boot(); err != nil {
		log.Warn().Err(err).Msg("failed to record reboot")
	}
	active, err := zones.ByID(hook.Record().ZoneID)
	if err != nil {
		active = defZone
	}

	// Outputs start low so the coil is never energized before the first decision.
	out, err := openOutput(cfg.Drive, log)
	if err != nil {
		return fmt.Errorf("init outputs: %w", err)
	}
	defer out.Close()
	for _, line := range []gpio.Line{gpio.Out1, gpio.Out2} {
		if err := out.SetLevel(line, false); err != nil {
			log.Warn().Err(err).Stringer("line", line).Msg("failed to drive line low")
		}
	}

	session := uuid.NewString()
	startTime := time.Now()
	tracker := status.NewTracker(startTime, session, statusConfig(cfg))
	tracker.SetZone(active)
	tracker.SetRecord(hook.Record())
	tracker.SetLogSource(history.Lines)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// MQTT
	publisher, mqttStatus := openPublisher(cfg.MQTT, log)
	defer publisher.Close()

	// HTTP
	sets := make(chan setOp)
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, zones, &queueSetter{ops: sets}, log.With().Str("component", "web").Logger())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http operator page listening")
	}

	// Time source
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := openClock(ctx, cfg, log)
	if err := timesource.WaitValid(ctx, clock, cfg.BootTimeout, clockPoll); err != nil {
		return err
	}
	adapter := timesource.NewAdapter(clock, active, cfg.PreAdvance)

	initial, ok := cfg.DisplayMinute()
	if !ok {
		if initial, err = adapter.TargetMinute(); err != nil {
			return fmt.Errorf("initial target: %w", err)
		}
	}

	gen := pulse.NewGenerator(out, cfg.PulseConfig(), nil, log.With().Str("component", "pulse").Logger())
	ctrl := logic.NewController(logic.NewTracker(initial), gen, cfg.AheadTolerance)

	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}

	d := &daemon{
		ctrl:       ctrl,
		adapter:    adapter,
		zones:      zones,
		hook:       hook,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		schedule:   schedule,
		out:        out,
		log:        log,
		now:        time.Now,
		start:      startTime,
	}
	d.refreshTarget()
	d.updateStatus()
	d.publishSystem("STARTUP", "", true)

	log.Info().
		Str("session", session).
		Str("displayed", logic.FormatMinute(initial)).
		Str("zone", active.Name).
		Int("tolerance", ctrl.Tolerance()).
		Dur("pulse", cfg.PulseConfig().Duration()).
		Msg("started")

	tick := time.NewTicker(cfg.Tick)
	defer tick.Stop()
	house := time.NewTicker(cfg.Housekeeping)
	defer house.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(tick.C, house.C, sets, sigCh)
}

func openStore(cfg config.Store) (persist.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	switch cfg.Backend {
	case config.StoreSQLite:
		return persist.NewSQLiteStore(cfg.Path)
	default:
		return persist.NewFileStore(cfg.Path), nil
	}
}

func openOutput(cfg config.Drive, log zerolog.Logger) (gpio.Output, error) {
	switch cfg.Backend {
	case config.BackendPeriph:
		return gpio.NewPeriphOutput(cfg.Out1Name, cfg.Out2Name, cfg.PWMFrequency)
	case config.BackendFake:
		log.Warn().Msg("fake drive backend: no hardware will be driven")
		return gpio.NewFakeOutput(), nil
	default:
		return gpio.NewRealOutput(cfg.Chip, cfg.Out1, cfg.Out2, cfg.PWMPeriod, log)
	}
}

func openPublisher(cfg config.MQTT, log zerolog.Logger) (mqtt.Publisher, mqtt.ConnectionStatus) {
	if cfg.Broker == "" {
		log.Info().Msg("no mqtt broker configured, events not published")
		return mqtt.Discard{}, mqtt.Discard{}
	}
	p := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.Broker,
		ClientID:    cfg.ClientID,
		TopicPrefix: cfg.TopicPrefix,
	}, log.With().Str("component", "mqtt").Logger())
	return p, p
}

// openClock returns the NTP-corrected clock, or the system clock when no
// server is configured. NTP syncing continues in the background until ctx ends.
func openClock(ctx context.Context, cfg config.Config, log zerolog.Logger) timesource.Clock {
	if cfg.NTPServer == "" {
		return timesource.NewSystemClock(nil)
	}
	c := timesource.NewNTPClock(cfg.NTPServer, cfg.NTPTimeout, nil, nil, log.With().Str("component", "ntp").Logger())
	go func() {
		for {
			err := c.Sync()
			if err == nil {
				break
			}
			log.Warn().Err(err).Msg("ntp sync failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
		if cfg.NTPInterval > 0 {
			c.Run(ctx, cfg.NTPInterval)
		}
	}()
	return c
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		HTTPAddr:        cfg.HTTPAddr,
		Broker:          cfg.MQTT.Broker,
		NTPServer:       cfg.NTPServer,
		Drive:           cfg.Drive.Backend,
		Store:           cfg.Store.Backend,
		PersistSchedule: cfg.PersistSchedule,
		AheadTolerance:  cfg.AheadTolerance,
		PreAdvance:      cfg.PreAdvance,
		TickMs:          cfg.Tick.Milliseconds(),
		HousekeepingMs:  cfg.Housekeeping.Milliseconds(),
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
