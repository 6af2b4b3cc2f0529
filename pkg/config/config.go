// Package config loads the hotspot daemon configuration.
//
// Values come from three layers, later ones winning: built-in defaults, the
// YAML file (/etc/hotspot-manager/config.yaml), and HOTSPOT_* environment
// variables, which may themselves be loaded from an env file.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/davytheprogrammer/hotspot-manager/pkg/apsvc"
	"github.com/davytheprogrammer/hotspot-manager/pkg/audit"
	"github.com/davytheprogrammer/hotspot-manager/pkg/auth"
	"github.com/davytheprogrammer/hotspot-manager/pkg/devices"
	"github.com/davytheprogrammer/hotspot-manager/pkg/engine"
	"github.com/davytheprogrammer/hotspot-manager/pkg/events"
	"github.com/davytheprogrammer/hotspot-manager/pkg/link"
	"github.com/davytheprogrammer/hotspot-manager/pkg/settings"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// Default file locations.
const (
	DefaultPath    = "/etc/hotspot-manager/config.yaml"
	DefaultEnvFile = "/etc/hotspot-manager/hotspot.env"
	DefaultState   = "/run/hotspot-manager"
)

// Config is the daemon configuration.
type Config struct {
	// Interface is the wireless interface reported on while idle.
	Interface string `yaml:"interface"`

	GracePeriod    time.Duration `yaml:"grace_period"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	DeviceSilence  time.Duration `yaml:"device_silence"`
	LeaseTime      time.Duration `yaml:"lease_time"`

	Subnet      string `yaml:"subnet"`
	PoolStart   int    `yaml:"pool_start"`
	PoolEnd     int    `yaml:"pool_end"`
	CountryCode string `yaml:"country_code"`

	StateDir    string `yaml:"state_dir"`
	HostapdPath string `yaml:"hostapd_path"`
	DnsmasqPath string `yaml:"dnsmasq_path"`
	// History is the session history log. Empty disables it.
	History string `yaml:"history"`

	Socket        string `yaml:"socket"`
	MetricsListen string `yaml:"metrics_listen"`
	// Netlink wakes the uplink poller on kernel link and address changes.
	Netlink bool `yaml:"netlink"`

	// Access controls which local users may use the control socket.
	Access auth.Policy `yaml:"access"`

	Redis RedisConfig `yaml:"redis"`
	Log   LogConfig   `yaml:"log"`
}

// RedisConfig enables the transition publisher when Addr is set.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// LogConfig selects the log level and format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		GracePeriod:    engine.DefaultGracePeriod,
		PollInterval:   link.DefaultInterval,
		StartupTimeout: apsvc.DefaultStartupTimeout,
		DeviceSilence:  devices.DefaultWindow,
		LeaseTime:      apsvc.DefaultLeaseTime,
		Subnet:         apsvc.DefaultSubnet,
		PoolStart:      apsvc.DefaultPoolStart,
		PoolEnd:        apsvc.DefaultPoolEnd,
		StateDir:       DefaultState,
		HostapdPath:    "hostapd",
		DnsmasqPath:    "dnsmasq",
		History:        audit.DefaultPath,
		Socket:         settings.DefaultSocketPath,
		Netlink:        true,
		Access:         auth.DefaultPolicy(),
		Redis:          RedisConfig{Channel: events.DefaultChannel},
		Log:            LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies HOTSPOT_* overrides and
// validates the result. A missing file at DefaultPath is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		util.Debugf("no config at %s, using defaults", path)
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile adds the variables in path to the process environment
// without replacing variables already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	util.Debugf("loaded environment from %s", path)
	return nil
}

// ApplyEnv overrides fields from HOTSPOT_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	v := &util.ValidationBuilder{}

	str := func(key string, dst *string) {
		if val := strings.TrimSpace(getenv(key)); val != "" {
			*dst = val
		}
	}
	dur := func(key string, dst *time.Duration) {
		if val := getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				v.AddErrorf("%s: %v", key, err)
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if val := getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				v.AddErrorf("%s: not a number: %q", key, val)
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if val := getenv(key); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				v.AddErrorf("%s: not a boolean: %q", key, val)
				return
			}
			*dst = b
		}
	}

	str("HOTSPOT_INTERFACE", &c.Interface)
	dur("HOTSPOT_GRACE_PERIOD", &c.GracePeriod)
	dur("HOTSPOT_POLL_INTERVAL", &c.PollInterval)
	dur("HOTSPOT_STARTUP_TIMEOUT", &c.StartupTimeout)
	dur("HOTSPOT_DEVICE_SILENCE", &c.DeviceSilence)
	dur("HOTSPOT_LEASE_TIME", &c.LeaseTime)
	str("HOTSPOT_SUBNET", &c.Subnet)
	num("HOTSPOT_POOL_START", &c.PoolStart)
	num("HOTSPOT_POOL_END", &c.PoolEnd)
	str("HOTSPOT_COUNTRY", &c.CountryCode)
	str("HOTSPOT_STATE_DIR", &c.StateDir)
	str("HOTSPOT_HISTORY", &c.History)
	str("HOTSPOT_SOCKET", &c.Socket)
	str("HOTSPOT_METRICS_LISTEN", &c.MetricsListen)
	flag("HOTSPOT_NETLINK", &c.Netlink)
	str("HOTSPOT_REDIS_ADDR", &c.Redis.Addr)
	str("HOTSPOT_REDIS_CHANNEL", &c.Redis.Channel)
	str("HOTSPOT_LOG_LEVEL", &c.Log.Level)
	str("HOTSPOT_LOG_FORMAT", &c.Log.Format)

	return v.Build()
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	v := &util.ValidationBuilder{}

	v.Add(c.GracePeriod > 0, "grace_period must be positive")
	v.Add(c.PollInterval >= 500*time.Millisecond && c.PollInterval <= time.Minute,
		"poll_interval must be between 500ms and 1m")
	v.Add(c.StartupTimeout > 0, "startup_timeout must be positive")
	v.Add(c.DeviceSilence > 0, "device_silence must be positive")
	v.Add(c.LeaseTime >= 2*time.Minute, "lease_time must be at least 2m")

	subnet, err := util.ParseSubnet(c.Subnet)
	if err != nil {
		v.AddErrorf("subnet: %v", err)
	} else {
		size := 1 << (32 - subnet.Bits())
		v.Add(c.PoolStart >= 2 && c.PoolStart <= c.PoolEnd && c.PoolEnd < size-1,
			fmt.Sprintf("pool %d-%d does not fit %s (gateway is host 1)", c.PoolStart, c.PoolEnd, subnet))
	}

	if c.CountryCode != "" {
		v.Add(len(c.CountryCode) == 2 && strings.ToUpper(c.CountryCode) == c.CountryCode,
			fmt.Sprintf("country_code %q must be two upper-case letters", c.CountryCode))
	}
	v.Add(c.StateDir != "", "state_dir is required")
	v.Add(c.Socket != "", "socket is required")
	for _, name := range c.Access.Unknown() {
		v.AddErrorf("access: unknown permission %q", name)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		v.AddErrorf("log.level: %v", err)
	}
	v.Add(c.Log.Format == "text" || c.Log.Format == "json",
		fmt.Sprintf("log.format %q must be text or json", c.Log.Format))

	return v.Build()
}

// SubnetPrefix returns the parsed access point subnet. Call after Validate.
func (c *Config) SubnetPrefix() netip.Prefix {
	p, err := util.ParseSubnet(c.Subnet)
	if err != nil {
		return netip.Prefix{}
	}
	return p
}
