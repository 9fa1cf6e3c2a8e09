package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluetuith-org/api-ble/api/attributes"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/config"
	"github.com/bluetuith-org/api-ble/bridge"
	"github.com/bluetuith-org/api-ble/manager"
	"github.com/bluetuith-org/api-ble/platform"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()

	app.Name = "blesessiond"
	app.Usage = "Track BLE peripherals and stream their events over a websocket"
	app.Version = "0.1.0"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path of a YAML configuration file"},
		cli.StringFlag{Name: "backend, b", Usage: "radio backend (simulated / native)"},
		cli.StringFlag{Name: "log-level, l", Usage: "logging level"},
	}

	app.Commands = []cli.Command{
		{
			Name:    "serve",
			Aliases: []string{"sv"},
			Usage:   "Run the session and serve the websocket bridge",
			Action:  serve,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen", Usage: "bridge listen address"},
				cli.BoolFlag{Name: "scan, s", Usage: "start scanning on launch"},
			},
		},
		{
			Name:    "scan",
			Aliases: []string{"s"},
			Usage:   "Scan for peripherals and print what was discovered",
			Action:  scan,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Value: time.Second * 5, Usage: "duration"},
				cli.StringSliceFlag{Name: "service", Usage: "only discover peripherals advertising this service"},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("blesessiond failed")
	}
}

// setup loads the configuration, applies the global flags, and
// constructs the session for the selected backend.
func setup(c *cli.Context) (config.Configuration, *manager.Manager, error) {
	cfg := config.New()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, nil, err
		}
	}

	if backend := c.GlobalString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if level := c.GlobalString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if c.IsSet("listen") {
		cfg.ListenAddress = c.String("listen")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	log := logrus.StandardLogger()
	log.SetLevel(cfg.Level())

	backend, info, err := platform.Backend(cfg, log)
	if err != nil {
		return cfg, nil, err
	}

	log.WithFields(logrus.Fields{
		"os":    info.OS,
		"stack": info.Stack,
	}).Info("Radio backend selected")

	m, err := manager.New(cfg, backend, manager.WithLogger(log))
	if err != nil {
		return cfg, nil, err
	}

	return cfg, m, m.Start()
}

func serve(c *cli.Context) error {
	cfg, m, err := setup(c)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("scan") {
		if err := m.StartScan(); err != nil {
			logrus.WithError(err).Warn("Cannot start scanning")
		}
	}

	return bridge.New(m, bridge.WithLogger(logrus.StandardLogger())).ListenAndServe(ctx, cfg.ListenAddress)
}

func scan(c *cli.Context) error {
	_, m, err := setup(c)
	if err != nil {
		return err
	}
	defer m.Close()

	services, err := attributes.ParseAll(c.StringSlice("service"))
	if err != nil {
		return err
	}

	sub := m.Subscribe(bluetooth.EventScanStateChanged)
	defer sub.Close()

	if err := m.StartScanFor(c.Duration("duration"), services...); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for scanning := true; scanning; {
		select {
		case ev, ok := <-sub.C:
			scanning = ok && ev.(bluetooth.ScanStateChanged).State == bluetooth.ScanScanning

		case <-ctx.Done():
			m.StopScan()
			scanning = false
		}
	}

	for _, p := range m.Peripherals() {
		fmt.Printf("%-20s %4d dBm  %s\n", p.ID, p.RSSI, p.Name)
	}

	return nil
}
