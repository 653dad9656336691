// Package config builds the monitor configuration from defaults, an optional
// YAML file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"corsOrigin"`
}

type MQTT struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	ClientID       string        `yaml:"clientId"`
	RealtimeTopic  string        `yaml:"realtimeTopic"`
	DurableTopic   string        `yaml:"durableTopic"`
	RealtimeQoS    int           `yaml:"realtimeQos"`
	DurableQoS     int           `yaml:"durableQos"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
}

type Store struct {
	Path         string        `yaml:"path"`
	OpenRetries  int           `yaml:"openRetries"`
	OpenDelay    time.Duration `yaml:"openDelay"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	DefaultDays  int           `yaml:"defaultDays"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

type Bin struct {
	Depth         float64 `yaml:"depth"`
	FullThreshold float64 `yaml:"fullThreshold"`
}

// Influx configures the optional mirror; it is off when URL is empty.
type Influx struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type Liveness struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Broadcast struct {
	ReconcileTimeout time.Duration `yaml:"reconcileTimeout"`
	BreakerFails     int           `yaml:"breakerFails"`
	BreakerOpen      time.Duration `yaml:"breakerOpen"`
	SendQueue        int           `yaml:"sendQueue"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	MQTT      MQTT      `yaml:"mqtt"`
	Store     Store     `yaml:"store"`
	Bin       Bin       `yaml:"bin"`
	Influx    Influx    `yaml:"influx"`
	Liveness  Liveness  `yaml:"liveness"`
	Broadcast Broadcast `yaml:"broadcast"`
	Log       Log       `yaml:"log"`
}

func Default() Config {
	return Config{
		HTTP: HTTP{Addr: ":5000", CORSOrigin: "*"},
		MQTT: MQTT{
			Host:           "localhost",
			Port:           1883,
			ClientID:       "waste-monitor",
			RealtimeTopic:  "sensor/realtime",
			DurableTopic:   "sensor/durable",
			RealtimeQoS:    0,
			DurableQoS:     1,
			ReconnectDelay: 5 * time.Second,
		},
		Store: Store{
			Path:         "smartbin.db",
			OpenRetries:  5,
			OpenDelay:    2 * time.Second,
			WriteTimeout: 5 * time.Second,
			DefaultDays:  7,
			QueryTimeout: 10 * time.Second,
		},
		Bin:      Bin{Depth: 30, FullThreshold: 5},
		Liveness: Liveness{Interval: 2 * time.Second, Timeout: 10 * time.Second},
		Broadcast: Broadcast{
			ReconcileTimeout: 2 * time.Second,
			BreakerFails:     3,
			BreakerOpen:      10 * time.Second,
			SendQueue:        16,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// Load reads CONFIG_FILE when set, then applies the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML file at path; absent keys keep their value.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) ApplyEnv() {
	c.HTTP.Addr = envStr("HTTP_ADDR", c.HTTP.Addr)
	if port := os.Getenv("PORT"); port != "" {
		c.HTTP.Addr = ":" + port
	}
	c.HTTP.CORSOrigin = envStr("CORS_ORIGIN", c.HTTP.CORSOrigin)

	c.MQTT.Host = envStr("MQTT_HOST", c.MQTT.Host)
	c.MQTT.Port = envInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.User = envStr("MQTT_USER", c.MQTT.User)
	c.MQTT.Password = envStr("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.ClientID = envStr("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.RealtimeTopic = envStr("MQTT_REALTIME_TOPIC", c.MQTT.RealtimeTopic)
	c.MQTT.DurableTopic = envStr("MQTT_DURABLE_TOPIC", c.MQTT.DurableTopic)
	c.MQTT.RealtimeQoS = envInt("MQTT_REALTIME_QOS", c.MQTT.RealtimeQoS)
	c.MQTT.DurableQoS = envInt("MQTT_DURABLE_QOS", c.MQTT.DurableQoS)
	c.MQTT.ReconnectDelay = envDuration("MQTT_RECONNECT_DELAY", c.MQTT.ReconnectDelay)

	c.Store.Path = envStr("DB_PATH", c.Store.Path)
	c.Store.OpenRetries = envInt("DB_OPEN_RETRIES", c.Store.OpenRetries)
	c.Store.OpenDelay = envDuration("DB_OPEN_DELAY", c.Store.OpenDelay)
	c.Store.WriteTimeout = envDuration("DB_WRITE_TIMEOUT", c.Store.WriteTimeout)
	c.Store.DefaultDays = envInt("DAILY_DEFAULT_DAYS", c.Store.DefaultDays)
	c.Store.QueryTimeout = envDuration("DB_QUERY_TIMEOUT", c.Store.QueryTimeout)

	c.Bin.Depth = envFloat("BIN_DEPTH_CM", c.Bin.Depth)
	c.Bin.FullThreshold = envFloat("BIN_FULL_THRESHOLD_CM", c.Bin.FullThreshold)

	c.Influx.URL = envStr("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = envStr("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = envStr("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = envStr("INFLUX_BUCKET", c.Influx.Bucket)

	c.Liveness.Interval = envDuration("LIVENESS_INTERVAL", c.Liveness.Interval)
	c.Liveness.Timeout = envDuration("LIVENESS_TIMEOUT", c.Liveness.Timeout)

	c.Broadcast.ReconcileTimeout = envDuration("RECONCILE_TIMEOUT", c.Broadcast.ReconcileTimeout)
	c.Broadcast.BreakerFails = envInt("CB_STORE_FAILS", c.Broadcast.BreakerFails)
	c.Broadcast.BreakerOpen = envDuration("CB_STORE_OPEN", c.Broadcast.BreakerOpen)
	c.Broadcast.SendQueue = envInt("OBSERVER_QUEUE", c.Broadcast.SendQueue)

	c.Log.Level = envStr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("LOG_FORMAT", c.Log.Format)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.MQTT.Host == "" {
		errs = append(errs, errors.New("mqtt.host is required"))
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port))
	}
	if c.MQTT.RealtimeTopic == "" || c.MQTT.DurableTopic == "" {
		errs = append(errs, errors.New("mqtt realtime and durable topics are required"))
	}
	if c.MQTT.RealtimeTopic == c.MQTT.DurableTopic {
		errs = append(errs, fmt.Errorf("realtime and durable topics must differ (both %q)", c.MQTT.RealtimeTopic))
	}
	for name, q := range map[string]int{"realtimeQos": c.MQTT.RealtimeQoS, "durableQos": c.MQTT.DurableQoS} {
		if q < 0 || q > 2 {
			errs = append(errs, fmt.Errorf("mqtt.%s %d must be 0, 1 or 2", name, q))
		}
	}
	if c.MQTT.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("mqtt.reconnectDelay must be positive"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Store.OpenRetries < 1 {
		errs = append(errs, errors.New("store.openRetries must be at least 1"))
	}
	if c.Bin.Depth <= c.Bin.FullThreshold {
		errs = append(errs, fmt.Errorf("bin.depth %.1f must exceed bin.fullThreshold %.1f", c.Bin.Depth, c.Bin.FullThreshold))
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		errs = append(errs, errors.New("influx.org and influx.bucket are required when influx.url is set"))
	}
	if c.Liveness.Interval <= 0 || c.Liveness.Timeout <= 0 {
		errs = append(errs, errors.New("liveness interval and timeout must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// envDuration accepts Go durations ("5s") or plain milliseconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
