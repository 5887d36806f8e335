package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/charlesng35/radiolink/internal/auth"
	"github.com/charlesng35/radiolink/internal/database"
	"github.com/charlesng35/radiolink/internal/gateway"
	"github.com/charlesng35/radiolink/internal/radio"
	"github.com/charlesng35/radiolink/internal/session"
	"github.com/charlesng35/radiolink/pkg/validator"
)

// Config represents the runtime configuration for radiolink.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Session     SessionConfig     `mapstructure:"session"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address         string        `mapstructure:"address" validate:"required"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format" validate:"omitempty,oneof=json console"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver" validate:"oneof=sqlite postgres postgresql mysql"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port" validate:"min=0,max=65535"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	Mode        string        `mapstructure:"mode" validate:"oneof=gui multistation"`
	StationName string        `mapstructure:"station_name"`
	NewAPIMajor int           `mapstructure:"new_api_major" validate:"min=1"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// RelayConfig configures the relay authorization provider.
type RelayConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	AuthorizeURL string        `mapstructure:"authorize_url" validate:"omitempty,url"`
	TokenURL     string        `mapstructure:"token_url" validate:"omitempty,url"`
	RedirectURL  string        `mapstructure:"redirect_url" validate:"omitempty,url"`
	ResponseType string        `mapstructure:"response_type"`
	Scopes       []string      `mapstructure:"scopes"`
	Device       string        `mapstructure:"device"`
	StateLength  int           `mapstructure:"state_length" validate:"min=16"`
	Issuer       string        `mapstructure:"issuer"`
	JWKSURL      string        `mapstructure:"jwks_url" validate:"omitempty,url"`
	Verify       bool          `mapstructure:"verify"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// GatewayConfig selects and configures the radio gateway link.
type GatewayConfig struct {
	Driver            string        `mapstructure:"driver" validate:"oneof=websocket mqtt"`
	URL               string        `mapstructure:"url" validate:"required_if=Driver websocket"`
	MQTT              MQTTConfig    `mapstructure:"mqtt"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

// MQTTConfig holds broker settings for the mqtt gateway driver.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// VaultConfig holds the key protecting stored refresh credentials. A key that
// is not 16, 24 or 32 bytes (raw or hex) is stretched with Argon2id using Salt.
type VaultConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
	Salt          string `mapstructure:"salt"`
}

// MaintenanceConfig schedules background jobs.
type MaintenanceConfig struct {
	RefreshSchedule      string `mapstructure:"refresh_schedule" validate:"cronspec"`
	HistorySchedule      string `mapstructure:"history_schedule" validate:"cronspec"`
	HistoryRetentionDays int    `mapstructure:"history_retention_days" validate:"min=0"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint" validate:"urlpath"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("RADIOLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if err := validator.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Relay.Verify && strings.TrimSpace(c.Relay.JWKSURL) == "" {
		return errors.New("config: relay.jwks_url is required when relay.verify is set")
	}
	if c.Gateway.Driver == "mqtt" && strings.TrimSpace(c.Gateway.MQTT.Broker) == "" {
		return errors.New("config: gateway.mqtt.broker is required for the mqtt driver")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/radiolink.sqlite")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("session.mode", string(radio.ModeGui))
	v.SetDefault("session.station_name", session.DefaultStationName)
	v.SetDefault("session.new_api_major", radio.DefaultNewAPIMajor)
	v.SetDefault("session.settle_delay", "1s")

	v.SetDefault("relay.response_type", "token")
	v.SetDefault("relay.scopes", []string{"openid", "offline_access", "email", "given_name", "family_name", "picture"})
	v.SetDefault("relay.device", "radiolink")
	v.SetDefault("relay.state_length", 32)
	v.SetDefault("relay.verify", false)
	v.SetDefault("relay.timeout", "15s")

	v.SetDefault("gateway.driver", "websocket")
	v.SetDefault("gateway.url", "ws://127.0.0.1:4992/gateway")
	v.SetDefault("gateway.mqtt.client_id", "radiolink")
	v.SetDefault("gateway.mqtt.topic_prefix", "radiolink")
	v.SetDefault("gateway.reconnect_interval", "5s")

	v.SetDefault("vault.salt", "radiolink.vault")

	v.SetDefault("maintenance.refresh_schedule", "@every 30m")
	v.SetDefault("maintenance.history_schedule", "@daily")
	v.SetDefault("maintenance.history_retention_days", 90)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Connection maps the configured driver onto database open options.
func (c DatabaseConfig) Connection() database.Config {
	out := database.Config{Driver: c.Driver, Path: c.Path, DSN: c.DSN}

	var host DBAuthConfig
	switch strings.ToLower(c.Driver) {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	default:
		return out
	}
	out.Host = host.Host
	out.Port = host.Port
	out.Name = host.Database
	out.User = host.Username
	out.Password = host.Password
	out.Options = host.Options
	return out
}

// ManagerConfig converts SessionConfig into session manager settings.
func (c SessionConfig) ManagerConfig() session.Config {
	return session.Config{
		Mode:        radio.ParseMode(c.Mode),
		StationName: c.StationName,
		NewAPIMajor: c.NewAPIMajor,
		SettleDelay: c.SettleDelay,
	}
}

// Configured reports whether a relay provider is set up.
func (c RelayConfig) Configured() bool {
	return strings.TrimSpace(c.ClientID) != "" &&
		strings.TrimSpace(c.AuthorizeURL) != "" &&
		strings.TrimSpace(c.TokenURL) != ""
}

// OAuthConfig converts RelayConfig into exchanger parameters.
func (c RelayConfig) OAuthConfig() auth.OAuthConfig {
	return auth.OAuthConfig{
		ClientID:     c.ClientID,
		AuthURL:      c.AuthorizeURL,
		TokenURL:     c.TokenURL,
		RedirectURL:  c.RedirectURL,
		ResponseType: c.ResponseType,
		Scopes:       c.Scopes,
		Device:       c.Device,
		Timeout:      c.Timeout,
	}
}

// SessionConfig converts RelayConfig into authorization session settings.
func (c RelayConfig) SessionConfig() auth.Config {
	return auth.Config{StateLength: c.StateLength}
}

// Options converts GatewayConfig into gateway tuning.
func (c GatewayConfig) Options() gateway.Options {
	return gateway.Options{RetryInterval: c.ReconnectInterval}
}

// MQTTLinkConfig converts the mqtt section into link settings.
func (c GatewayConfig) MQTTLinkConfig() gateway.MQTTConfig {
	return gateway.MQTTConfig{
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		Username:    c.MQTT.Username,
		Password:    c.MQTT.Password,
		TopicPrefix: c.MQTT.TopicPrefix,
	}
}
