package mqtt

import (
	"cmp"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/pumprelay/pkg/util"
	"github.com/edgeflare/pumprelay/pkg/util/rand"
)

// Options configures the broker connection.
type Options struct {
	TLS                  *util.TLSOptions `mapstructure:"tls"`
	ClientID             string           `mapstructure:"clientID"`
	Username             string           `mapstructure:"username"`
	Password             string           `mapstructure:"password"`
	Brokers              []string         `mapstructure:"brokers"`
	KeepAlive            time.Duration    `mapstructure:"keepAlive"`
	PingTimeout          time.Duration    `mapstructure:"pingTimeout"`
	ConnectTimeout       time.Duration    `mapstructure:"connectTimeout"`
	WriteTimeout         time.Duration    `mapstructure:"writeTimeout"`
	MaxReconnectInterval time.Duration    `mapstructure:"maxReconnectInterval"`
	// ConnectMaxElapsed bounds the total time spent retrying the initial connect.
	ConnectMaxElapsed time.Duration `mapstructure:"connectMaxElapsed"`
	CleanSession      bool          `mapstructure:"cleanSession"`
}

// DefaultOptions returns options for a local broker.
func DefaultOptions() Options {
	return Options{
		Brokers:              []string{"tcp://127.0.0.1:1883"},
		KeepAlive:            30 * time.Second,
		PingTimeout:          10 * time.Second,
		ConnectTimeout:       10 * time.Second,
		MaxReconnectInterval: time.Minute,
		ConnectMaxElapsed:    30 * time.Second,
		CleanSession:         true,
	}
}

// NormalizeBrokerURL maps the mqtt:// and mqtts:// schemes used by most tooling onto the
// tcp:// and ssl:// schemes paho dials. A bare host:port is treated as tcp.
func NormalizeBrokerURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty broker URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse broker URL %q: %w", raw, err)
	}

	switch u.Scheme {
	case "mqtt", "tcp":
		u.Scheme = "tcp"
	case "mqtts", "ssl", "tls":
		u.Scheme = "ssl"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("broker URL %q has no host", raw)
	}
	if u.Port() == "" {
		port := "1883"
		switch u.Scheme {
		case "ssl":
			port = "8883"
		case "ws":
			port = "80"
		case "wss":
			port = "443"
		}
		u.Host = u.Host + ":" + port
	}
	return u, nil
}

func toPahoOptions(opts Options) (*mqtt.ClientOptions, error) {
	pahoOpts := mqtt.NewClientOptions()

	if len(opts.Brokers) == 0 {
		opts.Brokers = DefaultOptions().Brokers
	}
	for _, b := range opts.Brokers {
		u, err := NormalizeBrokerURL(b)
		if err != nil {
			return nil, err
		}
		pahoOpts.AddBroker(u.String())
	}

	pahoOpts.SetClientID(cmp.Or(opts.ClientID, "pumprelay-"+rand.NewName()))
	if opts.Username != "" {
		pahoOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		pahoOpts.SetPassword(opts.Password)
	}

	if opts.TLS != nil {
		tlsConfig, err := opts.TLS.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		pahoOpts.SetTLSConfig(tlsConfig)
	}

	if opts.KeepAlive > 0 {
		pahoOpts.SetKeepAlive(opts.KeepAlive)
	}
	if opts.PingTimeout > 0 {
		pahoOpts.SetPingTimeout(opts.PingTimeout)
	}
	if opts.ConnectTimeout > 0 {
		pahoOpts.SetConnectTimeout(opts.ConnectTimeout)
	}
	if opts.WriteTimeout > 0 {
		pahoOpts.SetWriteTimeout(opts.WriteTimeout)
	}
	if opts.MaxReconnectInterval > 0 {
		pahoOpts.SetMaxReconnectInterval(opts.MaxReconnectInterval)
	}

	pahoOpts.SetCleanSession(opts.CleanSession)
	pahoOpts.SetAutoReconnect(true)
	// initial connect is retried by Client.Connect with backoff
	pahoOpts.SetConnectRetry(false)
	// handlers spawn their own goroutines; in-order delivery would serialize them
	pahoOpts.SetOrderMatters(false)

	return pahoOpts, nil
}
