// Package config holds the go-mdp server configuration.
//
// Configuration is read from a YAML file. A missing file yields Defaults().
// A few settings can be overridden from the environment, see ApplyEnv.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Safety    SafetyConfig    `yaml:"safety"`
	Robots    []RobotConfig   `yaml:"robots"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Drivers   DriversConfig   `yaml:"drivers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	UpdateRateHz    float64       `yaml:"update_rate_hz"`
	SummaryInterval time.Duration `yaml:"summary_interval"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
	MailboxSize     int           `yaml:"mailbox_size"`
	ShutdownPoll    time.Duration `yaml:"shutdown_poll"`
}

// SafetyConfig bounds every position target and sets the supervisor timeouts.
type SafetyConfig struct {
	Min            [3]float64    `yaml:"min"`
	Max            [3]float64    `yaml:"max"`
	TimeoutMargin  time.Duration `yaml:"timeout_margin"`
	HoverTimeout   time.Duration `yaml:"hover_timeout"`
	LandedTimeout  time.Duration `yaml:"landed_timeout"`
	InitialTimeout time.Duration `yaml:"initial_timeout"`
}

// RobotConfig describes a robot added at start-up. Type may be empty, in
// which case the backend is picked from the tag prefix.
type RobotConfig struct {
	Tag   string     `yaml:"tag"`
	Type  string     `yaml:"type,omitempty"`
	Spawn [3]float64 `yaml:"spawn,omitempty"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// TelemetryHz caps how often robot frames are pushed to dashboards.
	TelemetryHz float64 `yaml:"telemetry_hz"`
}

type MessagingConfig struct {
	Backend        string      `yaml:"backend"` // "", "mqtt" or "kafka"
	Codec          string      `yaml:"codec"`   // "json" or "cbor"
	MQTT           MQTTConfig  `yaml:"mqtt"`
	Kafka          KafkaConfig `yaml:"kafka"`
	PoseTopic      string      `yaml:"pose_topic"`
	CommandTopic   string      `yaml:"command_topic"`
	TelemetryTopic string      `yaml:"telemetry_topic"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "", "sqlite" or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig selects the parameter store. An empty address keeps
// parameters in memory.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type DriversConfig struct {
	HTTP HTTPDriverConfig `yaml:"http"`
	Sim  SimDriverConfig  `yaml:"sim"`
}

// HTTPDriverConfig points radio quadrotors at the HTTP driver service.
type HTTPDriverConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	QueueSize  int           `yaml:"queue_size"`
	LinkURI    string        `yaml:"link_uri"`
	LandHeight float64       `yaml:"land_height"`
}

// SimDriverConfig tunes the kinematic simulator. Acceleration is in m/s².
type SimDriverConfig struct {
	Acceleration float64 `yaml:"acceleration"`
}

func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			UpdateRateHz:    100,
			SummaryInterval: 5 * time.Second,
			ShutdownGrace:   10 * time.Second,
			MailboxSize:     64,
			ShutdownPoll:    500 * time.Millisecond,
		},
		Safety: SafetyConfig{
			Min:            [3]float64{-1.60, -1.30, 0.10},
			Max:            [3]float64{0.95, 1.30, 1.80},
			TimeoutMargin:  200 * time.Millisecond,
			HoverTimeout:   4 * time.Second,
			LandedTimeout:  100 * time.Second,
			InitialTimeout: 1000 * time.Second,
		},
		Web: WebConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			TelemetryHz: 20,
		},
		Messaging: MessagingConfig{
			Codec: "json",
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "mdp-server",
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "mdp-server",
			},
			PoseTopic:      "mdp/mocap",
			CommandTopic:   "mdp/api",
			TelemetryTopic: "mdp/telemetry",
		},
		Database: DatabaseConfig{
			SQLite: SQLiteConfig{Path: "mdp.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "mdp",
				User:     "mdp",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{KeyPrefix: "mdp"},
		Drivers: DriversConfig{
			HTTP: HTTPDriverConfig{
				BaseURL:    "http://localhost:8000",
				Timeout:    2 * time.Second,
				QueueSize:  32,
				LinkURI:    "radio://0/80/2M",
				LandHeight: 0.05,
			},
			Sim: SimDriverConfig{
				Acceleration: 2.0,
			},
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports the first setting that would make the server unusable.
func (c *Config) Validate() error {
	if c.Server.UpdateRateHz <= 0 {
		return fmt.Errorf("server.update_rate_hz must be positive, got %v", c.Server.UpdateRateHz)
	}
	if c.Server.MailboxSize <= 0 {
		return fmt.Errorf("server.mailbox_size must be positive, got %d", c.Server.MailboxSize)
	}
	for i := 0; i < 3; i++ {
		if c.Safety.Min[i] > c.Safety.Max[i] {
			return fmt.Errorf("safety box axis %d: min %v > max %v", i, c.Safety.Min[i], c.Safety.Max[i])
		}
	}
	switch c.Messaging.Backend {
	case "", "mqtt", "kafka":
	default:
		return fmt.Errorf("unknown messaging backend %q", c.Messaging.Backend)
	}
	switch c.Messaging.Codec {
	case "", "json", "cbor":
	default:
		return fmt.Errorf("unknown messaging codec %q", c.Messaging.Codec)
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	return nil
}

// Period returns the control loop period for the configured rate.
func (s ServerConfig) Period() time.Duration {
	return time.Duration(float64(time.Second) / s.UpdateRateHz)
}

// Addr returns the host:port the web server listens on.
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}
