package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Control  ControlConfig  `mapstructure:"control"`
	Fault    FaultConfig    `mapstructure:"fault"`
	Stages   StagesConfig   `mapstructure:"stages"`
	Hardware HardwareConfig `mapstructure:"hardware"`
	Profile  ProfileConfig  `mapstructure:"profile"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig configures the optional move journal.
type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	// JournalQueue and WriteTimeout bound the background journal writer.
	JournalQueue int           `mapstructure:"journal_queue"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Username       string        `mapstructure:"username"`
	// PasswordHash is an argon2id PHC string as produced by auth.PasswordHasher.
	PasswordHash string `mapstructure:"password_hash"`
}

// SerialConfig configures the diagnostic line port.
type SerialConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
}

type ControlConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	IdleInterval      time.Duration `mapstructure:"idle_interval"`
	InboxSize         int           `mapstructure:"inbox_size"`
	// ParserMode is lenient, strict or recovery.
	ParserMode string `mapstructure:"parser_mode"`
	// SequencerMode is closed_loop or staged.
	SequencerMode string `mapstructure:"sequencer_mode"`
	JogSpeed      uint8  `mapstructure:"jog_speed"`
}

type FaultConfig struct {
	AllowConfirm bool `mapstructure:"allow_confirm"`
}

type StagesConfig struct {
	Travel    time.Duration `mapstructure:"travel"`
	PickPlace time.Duration `mapstructure:"pick_place"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

type HardwareConfig struct {
	// Driver is sim or modbus.
	Driver string       `mapstructure:"driver"`
	Modbus ModbusConfig `mapstructure:"modbus"`
	GPIO   GPIOConfig   `mapstructure:"gpio"`
}

type ModbusConfig struct {
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MagnetCoil is the coil driving the electromagnet, or -1 when the magnet
	// is wired to GPIO.
	MagnetCoil int `mapstructure:"magnet_coil"`
	UnitID     int `mapstructure:"unit_id"`
}

// GPIOConfig uses BCM pin numbers. A zero pin leaves that output unwired.
type GPIOConfig struct {
	Mock       bool `mapstructure:"mock"`
	BusyLEDPin int  `mapstructure:"busy_led_pin"`
	MagnetPin  int  `mapstructure:"magnet_pin"`
	ActiveLow  bool `mapstructure:"active_low"`
}

type ProfileConfig struct {
	Name        string   `mapstructure:"name"`
	SearchPaths []string `mapstructure:"search_paths"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

const (
	SequencerClosedLoop = "closed_loop"
	SequencerStaged     = "staged"

	DriverSim    = "sim"
	DriverModbus = "modbus"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "vibechess")
	v.SetDefault("database.user", "vibechess")
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.journal_queue", 64)
	v.SetDefault("database.write_timeout", "500ms")

	// Auth Defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.username", "operator")

	v.SetDefault("serial.enabled", false)
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 115200)

	v.SetDefault("control.heartbeat_interval", "5s")
	v.SetDefault("control.idle_interval", "10ms")
	v.SetDefault("control.inbox_size", 8)
	v.SetDefault("control.parser_mode", "recovery")
	v.SetDefault("control.sequencer_mode", SequencerClosedLoop)
	v.SetDefault("control.jog_speed", 120)

	v.SetDefault("fault.allow_confirm", true)

	v.SetDefault("stages.travel", "1500ms")
	v.SetDefault("stages.pick_place", "800ms")
	v.SetDefault("stages.cooldown", "400ms")

	v.SetDefault("hardware.driver", DriverSim)
	v.SetDefault("hardware.modbus.address", "127.0.0.1:502")
	v.SetDefault("hardware.modbus.timeout", "500ms")
	v.SetDefault("hardware.modbus.magnet_coil", -1)
	v.SetDefault("hardware.modbus.unit_id", 1)
	v.SetDefault("hardware.gpio.mock", true)

	v.SetDefault("profile.name", "xy-belt")
	v.SetDefault("profile.search_paths", []string{"./profiles"})
}

// Load reads the YAML file at path. An empty path uses defaults and
// environment only. Environment variables use the VIBECHESS_ prefix with
// underscores for nesting, e.g. VIBECHESS_CONTROL_PARSER_MODE.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables automatisch binden
	v.SetEnvPrefix("VIBECHESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Control.SequencerMode {
	case SequencerClosedLoop, SequencerStaged:
	default:
		return fmt.Errorf("invalid control.sequencer_mode %q", c.Control.SequencerMode)
	}
	switch c.Hardware.Driver {
	case DriverSim, DriverModbus:
	default:
		return fmt.Errorf("invalid hardware.driver %q", c.Hardware.Driver)
	}
	if c.Control.InboxSize < 1 {
		return fmt.Errorf("control.inbox_size must be positive")
	}
	if c.Control.HeartbeatInterval <= 0 {
		return fmt.Errorf("control.heartbeat_interval must be positive")
	}
	// Modbus-Adressraum: Unit 0..247, Coil 0..65535
	if mb := c.Hardware.Modbus; mb.UnitID < 0 || mb.UnitID > 247 {
		return fmt.Errorf("hardware.modbus.unit_id %d out of range 0..247", mb.UnitID)
	}
	if mb := c.Hardware.Modbus; mb.MagnetCoil < -1 || mb.MagnetCoil > 0xFFFF {
		return fmt.Errorf("hardware.modbus.magnet_coil %d out of range -1..65535", mb.MagnetCoil)
	}
	if c.Auth.Enabled && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.password_hash is required when auth is enabled")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}
	if secret := os.Getenv(envVar); secret != "" {
		return secret
	}
	return devSecret
}

// IsProductionReady reports whether a real secret of sufficient length is set.
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
