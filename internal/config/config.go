package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Influx        InfluxConfig        `mapstructure:"influx"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Recorder      RecorderConfig      `mapstructure:"recorder"`
	Boards        []BoardConfig       `mapstructure:"boards"`
	BoardProfiles BoardProfilesConfig `mapstructure:"board_profiles"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	Migrate        bool   `mapstructure:"migrate"`
}

// InfluxDB sink, token is read from TokenEnv
type InfluxConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`
	TokenEnv    string `mapstructure:"token_env"`
	Org         string `mapstructure:"org"`
	Bucket      string `mapstructure:"bucket"`
	Measurement string `mapstructure:"measurement"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	JWTSecretEnv   string         `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration  `mapstructure:"access_token_ttl"`
	APIKeys        []APIKeyConfig `mapstructure:"api_keys"`
}

// APIKeyConfig is one accepted API key, stored as Argon2id hash
type APIKeyConfig struct {
	Name string `mapstructure:"name"`
	Hash string `mapstructure:"hash"`
	Role string `mapstructure:"role"`
}

// Serial bridge defaults for all boards
type TransportConfig struct {
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type RecorderConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	StatsWindow   int           `mapstructure:"stats_window"`
}

// BoardConfig attaches one board. Either Port (live serial bridge) or
// Replay (capture file) must be set.
type BoardConfig struct {
	Name                string        `mapstructure:"name"`
	Profile             string        `mapstructure:"profile"`
	Port                string        `mapstructure:"port"`
	Replay              string        `mapstructure:"replay"`
	CaptureFile         string        `mapstructure:"capture_file"`
	BatteryPollInterval time.Duration `mapstructure:"battery_poll_interval"`
}

type BoardProfilesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	// Environment Variables automatisch binden (Viper Feature)
	v.AutomaticEnv()
	v.SetEnvPrefix("OSC") // Environment Variables mit Prefix OSC_

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.migrate", true)

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.token_env", "INFLUX_TOKEN")
	v.SetDefault("influx.measurement", "sensor_signal")

	// Auth Defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("transport.baud_rate", 115200)
	v.SetDefault("transport.read_timeout", "100ms")

	v.SetDefault("recorder.enabled", true)
	v.SetDefault("recorder.batch_size", 500)
	v.SetDefault("recorder.flush_interval", "1s")
	v.SetDefault("recorder.stats_window", 256)

	v.SetDefault("board_profiles.search_paths", []string{"./configs/boards"})
}

// Validate checks settings viper cannot express as defaults.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Boards))
	for i, b := range c.Boards {
		if b.Name == "" {
			return fmt.Errorf("boards[%d]: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("boards[%d]: duplicate board name %q", i, b.Name)
		}
		seen[b.Name] = true

		if b.Profile == "" {
			return fmt.Errorf("board %s: profile is required", b.Name)
		}
		if (b.Port == "") == (b.Replay == "") {
			return fmt.Errorf("board %s: exactly one of port or replay must be set", b.Name)
		}
	}

	if c.Recorder.BatchSize <= 0 {
		return fmt.Errorf("recorder.batch_size must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// InfluxToken reads the API token from the configured environment variable
func (c *InfluxConfig) InfluxToken() string {
	return os.Getenv(c.TokenEnv)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devJWTSecret
	}
	return secret
}

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
