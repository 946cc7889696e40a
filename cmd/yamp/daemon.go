package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/yamp/internal/config"
	"github.com/sweeney/yamp/internal/firmware"
	"github.com/sweeney/yamp/internal/gpio"
	"github.com/sweeney/yamp/internal/led"
	"github.com/sweeney/yamp/internal/link"
	"github.com/sweeney/yamp/internal/mqtt"
	"github.com/sweeney/yamp/internal/status"
	"github.com/sweeney/yamp/internal/web"
)

const shutdownTimeout = 5 * time.Second

// runDaemon opens the hardware, wires the collaborators and runs the control
// loop until SIGINT or SIGTERM.
func runDaemon(ctx context.Context, cfg config.Config, logger hclog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.InputPins(), cfg.Buttons.KernelDebounce)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	relay, err := gpio.NewRealOutput(cfg.GPIO.Chip, "relay", cfg.GPIO.Relay, cfg.GPIO.RelayActiveLow)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer relay.Close()

	ledLogger := logger.Named("led")
	var lines []*led.Line
	var ledOuts []*gpio.RealOutput
	defer func() {
		for _, l := range lines {
			l.Stop()
		}
		for _, o := range ledOuts {
			o.Close()
		}
	}()
	openLED := func(name string, pin int) (led.Renderer, error) {
		if pin == gpio.NotFitted {
			return nil, nil
		}
		out, err := gpio.NewRealOutput(cfg.GPIO.Chip, "led-"+name, pin, false)
		if err != nil {
			return nil, fmt.Errorf("init %s led: %w", name, err)
		}
		ledOuts = append(ledOuts, out)
		l := led.NewLine(name, out, ledLogger)
		lines = append(lines, l)
		return l, nil
	}
	linkLED, err := openLED("link", cfg.LEDs.Link)
	if err != nil {
		return err
	}
	activityLED, err := openLED("activity", cfg.LEDs.Activity)
	if err != nil {
		return err
	}
	powerLED, err := openLED("power", cfg.LEDs.Power)
	if err != nil {
		return err
	}

	linkLogger := logger.Named("link")
	queue := link.NewQueue(cfg.Bluetooth.QueueSize, linkLogger)
	bluez, err := link.NewBlueZ(link.BlueZConfig{
		Adapter:      cfg.Bluetooth.Adapter,
		DataInterval: cfg.Bluetooth.DataInterval,
	}, linkLogger)
	if err != nil {
		return fmt.Errorf("init bluetooth: %w", err)
	}
	defer bluez.Close()
	monitor := link.NewMonitor(bluez, queue, cfg.Device.Name, cfg.Bluetooth.AutoReconnect, time.Now, linkLogger)

	fwLogger := logger.Named("firmware")
	restarter, err := firmware.NewRestarter(cfg.Firmware.RestartMode, fwLogger)
	if err != nil {
		return err
	}
	fw := firmware.NewController(firmware.Config{
		Hostname:     cfg.Hostname(),
		Retries:      cfg.Firmware.Retries,
		RestartDelay: cfg.Firmware.RestartDelay,
	},
		firmware.NewNMCLIStation(firmware.StationConfig{
			Interface: cfg.WiFi.Interface,
			SSID:      cfg.WiFi.SSID,
			Password:  cfg.WiFi.Password,
		}, fwLogger),
		firmware.NewMDNSAnnouncer(fwLogger),
		firmware.NewHTTPTransport(firmware.HTTPConfig{
			Addr:       cfg.Firmware.UpdateAddr,
			TargetPath: cfg.Firmware.TargetPath,
			MaxSize:    cfg.Firmware.MaxSize,
		}, fwLogger),
		restarter,
		fwLogger,
	)

	var publisher mqtt.Publisher = mqtt.Discard{}
	var mqttStatus mqtt.ConnectionStatus = mqtt.Discard{}
	if cfg.MQTT.Broker != "" {
		p := mqtt.NewRealPublisher(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			Prefix:   cfg.MQTT.Prefix,
			ClientID: cfg.MQTT.ClientID,
		}, logger.Named("mqtt"))
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	d := &daemon{
		reader:         reader,
		detectors:      newDetectors(cfg.ButtonTimings()),
		queue:          queue,
		monitor:        monitor,
		relay:          relay,
		leds:           led.NewApplier(linkLED, activityLED, powerLED),
		firmware:       fw,
		publisher:      publisher,
		mqttStatus:     mqttStatus,
		tracker:        tracker,
		logger:         logger.Named("loop"),
		now:            time.Now,
		handleInterval: cfg.Firmware.HandleInterval,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, logger.Named("web"))
		g.Go(func() error {
			logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	if err := d.boot(gctx, cfg.ControllerOptions()); err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}
	d.publishSystem(mqtt.EventStartup, "")
	logger.Info("started",
		"name", cfg.Device.Name,
		"poll", cfg.Device.Poll,
		"standby_timeout", cfg.Standby.Timeout,
		"adapter", cfg.Bluetooth.Adapter,
		"broker", cfg.MQTT.Broker,
	)

	g.Go(func() error {
		defer cancel()
		ticker := time.NewTicker(cfg.Device.Poll)
		defer ticker.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		return d.runLoop(gctx, ticker.C, sigCh)
	})

	return g.Wait()
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		DeviceName:       cfg.Device.Name,
		PollMs:           cfg.Device.Poll.Milliseconds(),
		StandbyTimeoutMs: cfg.Standby.Timeout.Milliseconds(),
		ApproachWindowMs: cfg.Standby.ApproachWindow.Milliseconds(),
		Adapter:          cfg.Bluetooth.Adapter,
		Broker:           cfg.MQTT.Broker,
		HTTPAddr:         cfg.HTTP.Addr,
	}
}
