// Package config loads bridge settings from defaults, an optional YAML file,
// a .env file and BRIDGE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "BRIDGE_"

type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Transport      string        `yaml:"transport"`
	WSPath         string        `yaml:"ws_path"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	JoinTimeout    time.Duration `yaml:"join_timeout"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	SendRate       float64       `yaml:"send_rate"`
	SendBurst      int           `yaml:"send_burst"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	Reconnect      bool          `yaml:"reconnect"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	HTTPAddr   string `yaml:"http_addr"`
	MCP        bool   `yaml:"mcp"`
	Discover   bool   `yaml:"discover"`
	AvatarNode string `yaml:"avatar_node"`
}

func Defaults() Config {
	return Config{
		Host:           "localhost",
		Port:           9000,
		Transport:      "tcp",
		WSPath:         "/",
		DialTimeout:    10 * time.Second,
		JoinTimeout:    5 * time.Second,
		ReadBufferSize: 1024,
		CallTimeout:    5 * time.Second,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load returns Defaults overlaid with the YAML file at path (skipped when
// path is empty), then .env and the process environment. A missing .env is
// not an error; a missing explicit path is.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(envPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("HOST", &c.Host)
	integer("PORT", &c.Port)
	str("TRANSPORT", &c.Transport)
	str("WS_PATH", &c.WSPath)
	duration("DIAL_TIMEOUT", &c.DialTimeout)
	duration("JOIN_TIMEOUT", &c.JoinTimeout)
	integer("READ_BUFFER_SIZE", &c.ReadBufferSize)
	float("SEND_RATE", &c.SendRate)
	integer("SEND_BURST", &c.SendBurst)
	duration("CALL_TIMEOUT", &c.CallTimeout)
	boolean("RECONNECT", &c.Reconnect)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("HTTP_ADDR", &c.HTTPAddr)
	boolean("MCP", &c.MCP)
	boolean("DISCOVER", &c.Discover)
	str("AVATAR_NODE", &c.AvatarNode)

	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if c.Host == "" && !c.Discover {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch strings.ToLower(c.Transport) {
	case "tcp", "websocket", "ws":
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want tcp or websocket)", c.Transport))
	}
	if c.DialTimeout < 0 || c.JoinTimeout < 0 || c.CallTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.ReadBufferSize < 0 {
		errs = append(errs, errors.New("read_buffer_size must not be negative"))
	}
	if c.SendRate < 0 || c.SendBurst < 0 {
		errs = append(errs, errors.New("send_rate and send_burst must not be negative"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (want text or json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Address is host:port for the TCP variant.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL is the WebSocket endpoint.
func (c Config) URL() string {
	path := c.WSPath
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: "ws", Host: c.Address(), Path: path}
	return u.String()
}

// Endpoint is what transport.New expects for the configured variant.
func (c Config) Endpoint() string {
	if c.IsWebSocket() {
		return c.URL()
	}
	return c.Address()
}

func (c Config) IsWebSocket() bool {
	t := strings.ToLower(c.Transport)
	return t == "websocket" || t == "ws"
}
