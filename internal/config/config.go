// Package config decodes the proxy's YAML settings file. The generic
// plugin-config registry the teacher builds (core/pluginconfig.go) is
// out of scope for this proxy (spec.md §1: "the configuration loader"
// is explicitly excluded); only the shape of a flat settings struct
// and its YAML decoding survive as ambient stack (SPEC_FULL.md §2.3).
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Segment describes one side of the proxy's network attachment: a
// platform interface name (used where the OS supports binding by
// interface) and a fallback source IP (used elsewhere, spec.md §4.2).
type Segment struct {
	Interface string `yaml:"interface"`
	Address   string `yaml:"address"`
}

// Ports holds the three configurable TCP/UDP ports from spec.md §6.
type Ports struct {
	Discovery     int `yaml:"discovery"`
	BoilerControl int `yaml:"boilerControl"`
	Auxiliary     int `yaml:"auxiliary"`
}

// Config is the complete set of proxy settings.
type Config struct {
	GatewaySegment Segment       `yaml:"gatewaySegment"`
	BoilerSegment  Segment       `yaml:"boilerSegment"`
	Ports          Ports         `yaml:"ports"`
	Delta          int           `yaml:"delta"`
	Tick           time.Duration `yaml:"tick"`
	ScanPeriod     time.Duration `yaml:"scanPeriod"`
	QueueCapacity  int           `yaml:"queueCapacity"`
	TelemetryChannels []string   `yaml:"telemetryChannels"`
	Log            LogConfig     `yaml:"log"`
	MetricsAddress string        `yaml:"metricsAddress"`
}

// LogConfig configures internal/diagnostics.
type LogConfig struct {
	Level  string `yaml:"level"`
	Syslog string `yaml:"syslog"`
}

// Default returns a Config populated with spec.md's documented
// defaults (discovery port 35601, boiler control 23, auxiliary 4000,
// one-second tick, 10,000 queue capacity).
func Default() Config {
	return Config{
		Ports: Ports{
			Discovery:     35601,
			BoilerControl: 23,
			Auxiliary:     4000,
		},
		Tick:          time.Second,
		ScanPeriod:    500 * time.Millisecond,
		QueueCapacity: 10000,
		Log:           LogConfig{Level: "info"},
		MetricsAddress: ":9090",
	}
}

// Load reads and decodes a YAML file at path, starting from Default()
// so unset fields keep their documented default.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate applies the configuration-error checks described in
// spec.md §7: bad interface specification and missing ports are fatal
// at startup.
func (c Config) Validate() error {
	if c.Ports.Discovery <= 0 || c.Ports.BoilerControl <= 0 || c.Ports.Auxiliary <= 0 {
		return errors.New("all three ports must be configured to a positive value")
	}
	if c.GatewaySegment.Interface == "" && c.GatewaySegment.Address == "" {
		return errors.New("gatewaySegment needs an interface or an address")
	}
	if c.BoilerSegment.Interface == "" && c.BoilerSegment.Address == "" {
		return errors.New("boilerSegment needs an interface or an address")
	}
	if c.Delta < 0 {
		return errors.New("delta must not be negative")
	}
	return nil
}
