// Package config loads the improvd configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	Name     string         `yaml:"name"`    // advertised local name
	Backend  string         `yaml:"backend"` // "gatt" or "bluez"
	GATT     GATTConfig     `yaml:"gatt"`
	Improv   ImprovConfig   `yaml:"improv"`
	WiFi     WiFiConfig     `yaml:"wifi"`
	Log      LogConfig      `yaml:"log"`
	Trace    TraceConfig    `yaml:"trace"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Announce AnnounceConfig `yaml:"announce"`
}

// GATTConfig holds settings of the HCI user channel backend.
type GATTConfig struct {
	DeviceID       int           `yaml:"device_id"` // hciN, -1 picks the first usable one
	CheckLE        bool          `yaml:"check_le"`
	MaxConnections int           `yaml:"max_connections"`
	AdvInterval    time.Duration `yaml:"adv_interval"`
}

// ImprovConfig holds protocol behaviour settings.
type ImprovConfig struct {
	Identify    bool          `yaml:"identify"`
	Reprovision bool          `yaml:"reprovision"`
	JoinTimeout time.Duration `yaml:"join_timeout"`
	ChunkSize   int           `yaml:"chunk_size"` // 0 uses the negotiated notification size
}

// WiFiConfig selects how networks are joined.
type WiFiConfig struct {
	Backend      string        `yaml:"backend"` // "static" or "networkmanager"
	Interface    string        `yaml:"interface"`
	RedirectURLs []string      `yaml:"redirect_urls"` // {ip} is replaced by the acquired address
	StaticIP     string        `yaml:"static_ip"`
	StaticDelay  time.Duration `yaml:"static_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // "text" or "json"
	Output   string `yaml:"output"` // "stdout", "stderr" or "file"
	FilePath string `yaml:"file_path"`
}

// TraceConfig holds protocol capture settings.
type TraceConfig struct {
	Path string `yaml:"path"` // empty disables capture
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// AnnounceConfig holds the post-provisioning announcers.
type AnnounceConfig struct {
	MDNS MDNSConfig `yaml:"mdns"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MDNSConfig advertises the device web UI over DNS-SD.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"` // defaults to Name
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
	Port     int    `yaml:"port"`
}

// MQTTConfig publishes a retained status message.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Name:    "Improv Device",
		Backend: "gatt",
		GATT: GATTConfig{
			DeviceID:       -1,
			CheckLE:        true,
			MaxConnections: 1,
			AdvInterval:    100 * time.Millisecond,
		},
		Improv: ImprovConfig{
			Identify:    true,
			JoinTimeout: 30 * time.Second,
		},
		WiFi: WiFiConfig{
			Backend:      "static",
			Interface:    "wlan0",
			RedirectURLs: []string{"http://{ip}"},
			StaticIP:     "192.168.2.123",
			StaticDelay:  3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Listen: ":9110",
		},
		Announce: AnnounceConfig{
			MDNS: MDNSConfig{
				Service: "_http._tcp",
				Domain:  "local.",
				Port:    80,
			},
			MQTT: MQTTConfig{
				ClientID: "improvd",
				Topic:    "improv/{name}/status",
				QoS:      1,
			},
		},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join("/etc", "improvd", "config.yaml")
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults. Environment overrides are applied afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides settings from IMPROV_* environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("IMPROV_NAME"); ok {
		c.Name = v
	}
	if v, ok := lookup("IMPROV_BACKEND"); ok {
		c.Backend = v
	}
	if v, ok := lookup("IMPROV_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("IMPROV_WIFI_BACKEND"); ok {
		c.WiFi.Backend = v
	}
	if v, ok := lookup("IMPROV_WIFI_INTERFACE"); ok {
		c.WiFi.Interface = v
	}
	if v, ok := lookup("IMPROV_METRICS_LISTEN"); ok {
		c.Metrics.Enabled = v != ""
		c.Metrics.Listen = v
	}
	if v, ok := lookup("IMPROV_REPROVISION"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Improv.Reprovision = b
		}
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}

	switch c.Backend {
	case "gatt", "bluez":
	default:
		return fmt.Errorf("backend must be \"gatt\" or \"bluez\", got %q", c.Backend)
	}

	if c.GATT.MaxConnections < 1 {
		return fmt.Errorf("gatt.max_connections must be > 0")
	}

	if c.Improv.JoinTimeout < 0 {
		return fmt.Errorf("improv.join_timeout must not be negative")
	}
	if c.Improv.ChunkSize < 0 || c.Improv.ChunkSize > 512 {
		return fmt.Errorf("improv.chunk_size must be between 0 and 512, got %d", c.Improv.ChunkSize)
	}

	switch c.WiFi.Backend {
	case "static":
		if c.WiFi.StaticIP == "" {
			return fmt.Errorf("wifi.static_ip must not be empty for the static backend")
		}
	case "networkmanager":
		if c.WiFi.Interface == "" {
			return fmt.Errorf("wifi.interface must not be empty for the networkmanager backend")
		}
	default:
		return fmt.Errorf("wifi.backend must be \"static\" or \"networkmanager\", got %q", c.WiFi.Backend)
	}
	if len(c.WiFi.RedirectURLs) == 0 {
		return fmt.Errorf("wifi.redirect_urls must not be empty")
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be trace, debug, info, warn, or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	switch c.Log.Output {
	case "stdout", "stderr":
	case "file":
		if c.Log.FilePath == "" {
			return fmt.Errorf("log.file_path must be set when log.output is \"file\"")
		}
	default:
		return fmt.Errorf("log.output must be stdout, stderr, or file, got %q", c.Log.Output)
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen must be set when metrics are enabled")
	}

	if m := c.Announce.MDNS; m.Enabled {
		if m.Service == "" || m.Port <= 0 || m.Port > 65535 {
			return fmt.Errorf("announce.mdns needs a service and a port in 1..65535")
		}
	}
	if m := c.Announce.MQTT; m.Enabled {
		if m.Broker == "" || m.Topic == "" {
			return fmt.Errorf("announce.mqtt needs a broker and a topic")
		}
		if m.QoS > 2 {
			return fmt.Errorf("announce.mqtt.qos must be 0, 1, or 2, got %d", m.QoS)
		}
	}

	return nil
}

// MQTTTopic returns the MQTT topic with {name} replaced by a
// topic-safe form of the device name.
func (c *Config) MQTTTopic() string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '+', '#':
			return '_'
		}
		return r
	}, c.Name)
	return strings.ReplaceAll(c.Announce.MQTT.Topic, "{name}", name)
}

// MDNSInstance returns the DNS-SD instance name.
func (c *Config) MDNSInstance() string {
	if c.Announce.MDNS.Instance != "" {
		return c.Announce.MDNS.Instance
	}
	return c.Name
}
