// Package config loads relay settings from an optional YAML file, the environment and flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/pumprelay/pkg/mirror"
	"github.com/edgeflare/pumprelay/pkg/mqtt"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"github.com/edgeflare/pumprelay/pkg/util"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/pumprelay/pkg/config.Version=...".
var Version = "dev"

// Config holds application-wide configuration
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
}

type HTTPConfig struct {
	Port        int    `mapstructure:"port"`
	TLSCertFile string `mapstructure:"tlsCertFile"`
	TLSKeyFile  string `mapstructure:"tlsKeyFile"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"maxConns"`
	MinConns        int32         `mapstructure:"minConns"`
	MaxConnLifetime time.Duration `mapstructure:"maxConnLifetime"`
	PingMaxElapsed  time.Duration `mapstructure:"pingMaxElapsed"`
}

type MQTTConfig struct {
	TLS *util.TLSOptions `mapstructure:"tls"`
	// BrokerURL may list several brokers separated by commas.
	BrokerURL      string        `mapstructure:"brokerURL"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"clientID"`
	TopicPrefix    string        `mapstructure:"topicPrefix"`
	SubscribeQoS   int           `mapstructure:"subscribeQoS"`
	ControlQoS     int           `mapstructure:"controlQoS"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	PublishTimeout time.Duration `mapstructure:"publishTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	// OnAPI additionally serves /metrics on the HTTP API listener.
	OnAPI bool `mapstructure:"onAPI"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MirrorConfig struct {
	Sinks []mirror.SinkConfig `mapstructure:"sinks"`
}

var defaults = map[string]any{
	"http.port":                3000,
	"database.url":             "postgres://localhost:5432/pump_monitoring",
	"database.maxConns":        10,
	"database.minConns":        1,
	"database.maxConnLifetime": time.Hour,
	"database.pingMaxElapsed":  30 * time.Second,
	"mqtt.brokerURL":           "tcp://localhost:1883",
	"mqtt.topicPrefix":         telemetry.DefaultTopicPrefix,
	"mqtt.subscribeQoS":        0,
	"mqtt.controlQoS":          1,
	"mqtt.connectTimeout":      30 * time.Second,
	"mqtt.publishTimeout":      10 * time.Second,
	"mqtt.writeTimeout":        10 * time.Second,
	"metrics.enabled":          true,
	"metrics.addr":             ":9100",
	"log.level":                "info",
}

var envBindings = map[string][]string{
	"http.port":           {"PORT"},
	"http.tlsCertFile":    {"TLS_CERT_FILE"},
	"http.tlsKeyFile":     {"TLS_KEY_FILE"},
	"database.url":        {"DATABASE_URL"},
	"database.maxConns":   {"DATABASE_MAX_CONNS"},
	"database.minConns":   {"DATABASE_MIN_CONNS"},
	"mqtt.brokerURL":      {"MQTT_BROKER_URL", "MQTT_BROKER"},
	"mqtt.username":       {"MQTT_USERNAME"},
	"mqtt.password":       {"MQTT_PASSWORD"},
	"mqtt.clientID":       {"MQTT_CLIENT_ID"},
	"mqtt.topicPrefix":    {"MQTT_TOPIC_PREFIX"},
	"mqtt.subscribeQoS":   {"MQTT_SUBSCRIBE_QOS"},
	"mqtt.controlQoS":     {"MQTT_CONTROL_QOS"},
	"mqtt.connectTimeout": {"MQTT_CONNECT_TIMEOUT"},
	"mqtt.publishTimeout": {"MQTT_PUBLISH_TIMEOUT"},
	"metrics.enabled":     {"METRICS_ENABLED"},
	"metrics.addr":        {"METRICS_ADDR"},
	"log.level":           {"LOG_LEVEL"},
}

// flagBindings maps command-line flag names onto config keys.
var flagBindings = map[string]string{
	"port":         "http.port",
	"database-url": "database.url",
	"mqtt-broker":  "mqtt.brokerURL",
	"topic-prefix": "mqtt.topicPrefix",
	"metrics-addr": "metrics.addr",
	"log-level":    "log.level",
}

// Load reads config from file, environment and flags. flags may be nil. An explicit cfgFile
// must exist; the default locations are optional.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pumprelay")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if flags != nil {
		for name, key := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.MQTT.TopicPrefix = strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")

	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range 1..65535", c.HTTP.Port))
	}
	if (c.HTTP.TLSCertFile == "") != (c.HTTP.TLSKeyFile == "") {
		errs = append(errs, errors.New("http.tlsCertFile and http.tlsKeyFile must be set together"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		errs = append(errs, fmt.Errorf("database.minConns %d exceeds maxConns %d", c.Database.MinConns, c.Database.MaxConns))
	}
	if len(c.MQTT.Brokers()) == 0 {
		errs = append(errs, errors.New("mqtt.brokerURL is required"))
	}
	for _, b := range c.MQTT.Brokers() {
		if _, err := mqtt.NormalizeBrokerURL(b); err != nil {
			errs = append(errs, fmt.Errorf("mqtt.brokerURL: %w", err))
		}
	}
	if err := telemetry.ValidatePrefix(c.MQTT.TopicPrefix); err != nil {
		errs = append(errs, fmt.Errorf("mqtt.topicPrefix: %w", err))
	}
	if c.MQTT.SubscribeQoS < 0 || c.MQTT.SubscribeQoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.subscribeQoS %d must be 0, 1 or 2", c.MQTT.SubscribeQoS))
	}
	if c.MQTT.ControlQoS < 0 || c.MQTT.ControlQoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.controlQoS %d must be 0, 1 or 2", c.MQTT.ControlQoS))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	for i, s := range c.Mirror.Sinks {
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("mirror.sinks[%d]: type is required", i))
		}
	}
	return errors.Join(errs...)
}

// Brokers splits BrokerURL on commas.
func (m MQTTConfig) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(m.BrokerURL, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ClientOptions converts the settings into options for the bus client.
func (m MQTTConfig) ClientOptions() mqtt.Options {
	opts := mqtt.DefaultOptions()
	opts.Brokers = m.Brokers()
	opts.ClientID = m.ClientID
	opts.Username = m.Username
	opts.Password = m.Password
	opts.TLS = m.TLS
	if m.ConnectTimeout > 0 {
		opts.ConnectMaxElapsed = m.ConnectTimeout
	}
	return opts
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
