package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix scopes environment overrides: FACTORY_DEVICE_ID overrides device.id.
const envPrefix = "FACTORY"

// Connection modes selectable at startup.
const (
	ModeIoTHub     = "iothub"     // X.509 primary
	ModeIoTCentral = "iotcentral" // connection string primary
	ModeBoth       = "both"       // connection string primary, X.509 secondary
)

// Config is the root configuration loaded from configs/config.yml.
type Config struct {
	Device    DeviceConfig    `mapstructure:"device"`
	Transport TransportConfig `mapstructure:"transport"`
	Reporter  ReporterConfig  `mapstructure:"reporter"`
	InfluxDB  InfluxDBConfig  `mapstructure:"influxdb"`
	DB        DBConfig        `mapstructure:"db"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DeviceConfig identifies the simulated device.
type DeviceConfig struct {
	ID   string `mapstructure:"id"`
	Seed int64  `mapstructure:"seed"` // 0 seeds from the clock
}

// TransportConfig contains control-plane connection settings.
type TransportConfig struct {
	Mode             string        `mapstructure:"mode"`
	ConnectionString string        `mapstructure:"connection_string"`
	Hub              string        `mapstructure:"hub"`
	CertPath         string        `mapstructure:"cert_path"`
	PasswordEnv      string        `mapstructure:"password_env"`
	Port             int           `mapstructure:"port"`
	QoS              int           `mapstructure:"qos"`
	APIVersion       string        `mapstructure:"api_version"`
	SASTokenTTL      time.Duration `mapstructure:"sas_token_ttl"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ReceiveTimeout   time.Duration `mapstructure:"receive_timeout"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
	InboxSize        int           `mapstructure:"inbox_size"`
}

// ReporterConfig controls reported-property pushes.
type ReporterConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	PushTimeout   time.Duration `mapstructure:"push_timeout"`
}

// InfluxDBConfig contains the optional telemetry exporter settings.
type InfluxDBConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	Org           string `mapstructure:"org"`
	Bucket        string `mapstructure:"bucket"`
	BatchSize     int    `mapstructure:"batch_size"`
	FlushInterval int    `mapstructure:"flush_interval"` // seconds
}

// DBConfig contains the local SQLite settings.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPConfig contains the local console server settings.
type HTTPConfig struct {
	Port string `mapstructure:"port"`
}

// AuthConfig contains console token settings.
type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers a default for every key so env overrides work even
// when the key is missing from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("device.id", "")
	v.SetDefault("device.seed", 0)

	v.SetDefault("transport.mode", ModeBoth)
	v.SetDefault("transport.connection_string", "")
	v.SetDefault("transport.hub", "")
	v.SetDefault("transport.cert_path", "certs/device.pfx")
	v.SetDefault("transport.password_env", "FACTORY_CERT_PASSWORD")
	v.SetDefault("transport.port", 8883)
	v.SetDefault("transport.qos", 1)
	v.SetDefault("transport.api_version", "2021-04-12")
	v.SetDefault("transport.sas_token_ttl", time.Hour)
	v.SetDefault("transport.connect_timeout", 10*time.Second)
	v.SetDefault("transport.request_timeout", 10*time.Second)
	v.SetDefault("transport.receive_timeout", 5*time.Second)
	v.SetDefault("transport.reconnect_max", time.Minute)
	v.SetDefault("transport.inbox_size", 64)

	v.SetDefault("reporter.retry_interval", 5*time.Second)
	v.SetDefault("reporter.push_timeout", 10*time.Second)

	v.SetDefault("influxdb.enabled", false)
	v.SetDefault("influxdb.url", "http://localhost:8086")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.org", "factory")
	v.SetDefault("influxdb.bucket", "telemetry")
	v.SetDefault("influxdb.batch_size", 100)
	v.SetDefault("influxdb.flush_interval", 10)

	v.SetDefault("db.path", "app.db")
	v.SetDefault("http.port", "8080")

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads the YAML file at path (a missing file falls back to defaults)
// and applies FACTORY_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("read config %q: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Transport.Mode = strings.ToLower(strings.TrimSpace(cfg.Transport.Mode))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Transport.Mode {
	case ModeIoTHub, ModeIoTCentral, ModeBoth:
	default:
		return fmt.Errorf("invalid transport.mode %q: must be %s, %s, or %s", c.Transport.Mode, ModeIoTHub, ModeIoTCentral, ModeBoth)
	}
	if c.Transport.QoS < 0 || c.Transport.QoS > 1 {
		return fmt.Errorf("invalid transport.qos %d: must be 0 or 1", c.Transport.QoS)
	}
	if c.Transport.ReceiveTimeout <= 0 {
		return errors.New("transport.receive_timeout must be positive")
	}
	if c.Reporter.RetryInterval <= 0 {
		return errors.New("reporter.retry_interval must be positive")
	}
	return nil
}

// isMissingFile reports whether err means the config file does not exist.
// viper only returns ConfigFileNotFoundError when searching config paths,
// not for an explicit SetConfigFile.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
