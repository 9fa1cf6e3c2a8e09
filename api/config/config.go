package config

import (
	"context"
	"os"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSubscriberBuffer is the default capacity of each event subscriber's channel.
	DefaultSubscriberBuffer = 64

	// DefaultLossyQueueSize is the default number of queued signal strength and
	// value events per subscriber, before the oldest ones are dropped.
	DefaultLossyQueueSize = 256

	// DefaultListenAddress is the default address of the event bridge.
	DefaultListenAddress = "127.0.0.1:8765"

	// DefaultRequestTimeout bounds how long a public operation waits for the
	// radio session to accept it.
	DefaultRequestTimeout = 5 * time.Second
)

// Backend names.
const (
	BackendSimulated = "simulated"
	BackendNative    = "native"
)

// DefaultNamePrefixes holds the advertised name prefixes of recognized peripherals.
var DefaultNamePrefixes = []string{
	"Movesense",
	"WH-",
	"PressureSensor",
	"FLexsense",
	"NordicHRM",
	"Thingy",
	"nRF Blinky",
	"Power",
}

// Configuration describes a general configuration.
type Configuration struct {
	// NamePrefixes holds the advertised name prefixes of peripherals which are
	// announced on discovery. Other peripherals are tracked, but not announced.
	// An empty list announces all peripherals.
	NamePrefixes []string `yaml:"name_prefixes"`

	// SubscriberBuffer holds the capacity of each event subscriber's channel.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// LossyQueueSize holds the number of queued lossy events per subscriber.
	LossyQueueSize int `yaml:"lossy_queue_size"`

	// ScanTimeout holds the duration after which a scan is stopped.
	// A zero value scans until stopped.
	ScanTimeout time.Duration `yaml:"scan_timeout"`

	// RequestTimeout bounds how long an operation waits for the radio session to accept it.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Backend holds the name of the radio backend.
	Backend string `yaml:"backend"`

	// SimulatorFile holds the path of a YAML file which describes the
	// peripherals of the simulated backend. If empty, a demo set is used.
	SimulatorFile string `yaml:"simulator_file"`

	// ListenAddress holds the address of the event bridge.
	ListenAddress string `yaml:"listen_address"`

	// LogLevel holds the logging level.
	LogLevel string `yaml:"log_level"`
}

// New returns a new configuration with the default values.
func New() Configuration {
	return Configuration{
		NamePrefixes:     append([]string(nil), DefaultNamePrefixes...),
		SubscriberBuffer: DefaultSubscriberBuffer,
		LossyQueueSize:   DefaultLossyQueueSize,
		RequestTimeout:   DefaultRequestTimeout,
		Backend:          BackendSimulated,
		ListenAddress:    DefaultListenAddress,
		LogLevel:         "info",
	}
}

// Load reads a YAML configuration file. Missing fields keep their default values.
func Load(path string) (Configuration, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fault.Wrap(err,
			fctx.With(context.Background(), "path", path),
			ftag.With(ftag.NotFound),
			fmsg.With("Cannot read configuration file"),
		)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fault.Wrap(err,
			fctx.With(context.Background(), "path", path),
			ftag.With(ftag.InvalidArgument),
			fmsg.With("Cannot parse configuration file"),
		)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c Configuration) Validate() error {
	invalid := func(field, msg string) error {
		return fault.Wrap(fault.New(field+": "+msg),
			fctx.With(context.Background(), "field", field),
			ftag.With(ftag.InvalidArgument),
			fmsg.With("Invalid configuration"),
		)
	}

	if c.SubscriberBuffer <= 0 {
		return invalid("subscriber_buffer", "must be greater than zero")
	}

	if c.LossyQueueSize <= 0 {
		return invalid("lossy_queue_size", "must be greater than zero")
	}

	if c.ScanTimeout < 0 {
		return invalid("scan_timeout", "must not be negative")
	}

	if c.RequestTimeout <= 0 {
		return invalid("request_timeout", "must be greater than zero")
	}

	switch c.Backend {
	case BackendSimulated, BackendNative:
	default:
		return invalid("backend", "must be \""+BackendSimulated+"\" or \""+BackendNative+"\"")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", err.Error())
	}

	return nil
}

// Level returns the logging level, or the info level if it is invalid.
func (c Configuration) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}

	return level
}
