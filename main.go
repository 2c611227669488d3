package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cepro/gpio2mqtt/config"
	"github.com/cepro/gpio2mqtt/coordinator"
	"github.com/cepro/gpio2mqtt/covers"
	"github.com/cepro/gpio2mqtt/dataplatform"
	"github.com/cepro/gpio2mqtt/events"
	"github.com/cepro/gpio2mqtt/homeassistant"
	"github.com/cepro/gpio2mqtt/modbus"
	"github.com/cepro/gpio2mqtt/mqtt"
	"github.com/cepro/gpio2mqtt/poller"
	"github.com/cepro/gpio2mqtt/supabase"
	"github.com/cepro/gpio2mqtt/varta"
	"github.com/jonboulle/clockwork"
)

// routerShutdownTimeout bounds how long we wait for in-flight actuations before releasing the gpio lines
const routerShutdownTimeout = 2 * time.Second

func main() {

	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Read(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("Starting gpio2mqtt...", "config", *configPath, "covers", len(cfg.Covers), "sunspec_devices", len(cfg.SunspecDevices))

	err = run(cfg)
	if err != nil {
		slog.Error("Exiting", "error", err)
		closeLog()
		os.Exit(1)
	}

	slog.Info("Exiting")
}

func run(cfg config.Config) error {

	clock := clockwork.NewRealClock()
	eventsCh := make(chan events.Event, 128)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var discovery []homeassistant.Config

	// covers, grouped so that covers sharing a chip (or a configured group) are never actuated at the same time
	groups := make(map[string]*covers.Group)
	var routers []*covers.Router
	var gpioCovers []*covers.GPIOCover
	defer func() {
		for _, cover := range gpioCovers {
			err := cover.Close()
			if err != nil {
				slog.Warn("Failed to release gpio lines", "error", err)
			}
		}
	}()

	for _, coverCfg := range cfg.Covers {
		id := coverCfg.Device.Identifier

		gpioCover, err := covers.NewGPIOCover(id, covers.GPIOOptions{
			Chip:       coverCfg.Chip,
			UpOffset:   coverCfg.UpPin,
			DownOffset: coverCfg.DownPin,
			StopOffset: coverCfg.StopPin,
			Pulse:      coverCfg.Pulse(),
		})
		if err != nil {
			return fmt.Errorf("create cover %s: %w", id, err)
		}
		gpioCovers = append(gpioCovers, gpioCover)

		groupName := coverCfg.GroupName()
		group, ok := groups[groupName]
		if !ok {
			group = covers.NewGroup(groupName, cfg.GroupDelay(groupName), clock)
			groups[groupName] = group
		}

		routers = append(routers, covers.NewRouter(homeassistant.CommandTopic(id), gpioCover, group, coverCfg.DeviceDelay(), clock))
		discovery = append(discovery, homeassistant.CoverConfig(homeassistant.DeviceInfo{
			Identifier:   id,
			Name:         coverCfg.Name,
			Manufacturer: coverCfg.Device.Manufacturer,
			Model:        coverCfg.Device.Model,
		}))
	}

	// telemetry devices
	var pollers []*poller.Poller
	for _, devCfg := range cfg.SunspecDevices {
		id := devCfg.Device.Identifier
		stateTopic := homeassistant.StateTopic(id)

		var device *varta.Client
		if devCfg.Emulated {
			device = varta.NewEmulated(stateTopic, clock)
		} else {
			client, err := varta.New(stateTopic, modbus.Config{
				Host:    devCfg.Address(),
				UnitID:  devCfg.UnitID,
				Timeout: devCfg.Timeout(),
				Driver:  devCfg.Driver,
			})
			if err != nil {
				return fmt.Errorf("create sunspec device %s: %w", id, err)
			}
			device = client
		}
		defer device.Close()

		swVersion := devCfg.Device.SWVersion
		if swVersion == "" {
			specs, err := device.Specifications()
			if err != nil {
				slog.Warn("Failed to read device specifications", "device", id, "error", err)
			} else {
				swVersion = homeassistant.DecodeVersion(specs.SoftwareVersionEMS[:])
			}
		}

		pollers = append(pollers, poller.New(stateTopic, device, devCfg.PollInterval(), eventsCh, clock))
		discovery = append(discovery, homeassistant.SensorConfigs(homeassistant.DeviceInfo{
			Identifier:   id,
			Name:         devCfg.Name,
			Manufacturer: devCfg.Device.Manufacturer,
			Model:        devCfg.Device.Model,
			SWVersion:    swVersion,
		})...)
	}

	broker := mqtt.New(mqtt.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    os.Getenv("MQTT_PASSWORD"),
		WillTopic:   homeassistant.AvailabilityTopic,
		WillPayload: homeassistant.PayloadOffline,
	})
	defer broker.Disconnect()

	coord := coordinator.New(eventsCh, homeassistant.NewPublisher(broker, discovery))
	for _, router := range routers {
		coord.AddCover(router.Key(), router)
	}
	for _, devCfg := range cfg.SunspecDevices {
		coord.AddDevice(homeassistant.StateTopic(devCfg.Device.Identifier))
	}

	if dpCfg := cfg.DataPlatform; dpCfg != nil {
		supabaseClient := supabase.New(dpCfg.Supabase.Url, os.Getenv("SUPABASE_KEY"), dpCfg.Supabase.Schema)
		dataPlatform, err := dataplatform.New(supabaseClient, dpCfg.Supabase.Table, dpCfg.BufferFile, dpCfg.UploadInterval())
		if err != nil {
			return fmt.Errorf("create data platform: %w", err)
		}
		coord.SetRecorder(dataPlatform)
		go dataPlatform.Run(ctx)
	}

	var routersWg sync.WaitGroup
	for _, router := range routers {
		routersWg.Add(1)
		go func(router *covers.Router) {
			defer routersWg.Done()
			router.Run()
		}(router)
	}

	for _, p := range pollers {
		go p.Run(ctx)
	}

	go coordinator.NewBridge(broker.Stream(), eventsCh).Run(ctx)

	coordinatorDone := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(coordinatorDone)
	}()

	err := broker.Connect()
	if err != nil {
		cancel()
		<-coordinatorDone
		return err
	}

	// wait for a ctrl-c interrupt or a stop from the service manager before exiting
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	sig := <-signalChan
	slog.Info("Received signal, shutting down", "signal", sig)

	// the coordinator announces that we are offline and closes the cover mailboxes
	cancel()
	<-coordinatorDone

	routersDone := make(chan struct{})
	go func() {
		routersWg.Wait()
		close(routersDone)
	}()
	select {
	case <-routersDone:
	case <-time.After(routerShutdownTimeout):
		slog.Warn("Timed out waiting for covers to finish actuating")
	}

	return nil
}
