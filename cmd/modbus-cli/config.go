package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/grid-x/modbustcp"
)

const defaultPort = "502"

// Config holds the settings of one CLI run.
type Config struct {
	Address     string        `mapstructure:"address"`
	UnitID      int           `mapstructure:"unit_id"`
	Timeout     time.Duration `mapstructure:"timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	TLS         TLSConfig     `mapstructure:"tls"`
	Log         LogConfig     `mapstructure:"log"`
}

// TLSConfig secures the connection.
type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ServerName string `mapstructure:"server_name"`
	Insecure   bool   `mapstructure:"insecure"`
	CAFile     string `mapstructure:"ca_file"`
}

// LogConfig configures the zap logger. File adds a rotating log file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	// Frame logs every sent and received frame at debug level.
	Frame bool `mapstructure:"frame"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Address: "127.0.0.1:502",
		UnitID:  int(modbustcp.DefaultUnitID),
		Timeout: 5 * time.Second,
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  2,
			MaxBackups: 5,
		},
	}
}

// setDefaults registers every key so that environment overrides reach
// Unmarshal.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("address", d.Address)
	v.SetDefault("unit_id", d.UnitID)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("idle_timeout", d.IdleTimeout)
	v.SetDefault("tls.enabled", d.TLS.Enabled)
	v.SetDefault("tls.server_name", d.TLS.ServerName)
	v.SetDefault("tls.insecure", d.TLS.Insecure)
	v.SetDefault("tls.ca_file", d.TLS.CAFile)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.frame", d.Log.Frame)
}

// LoadConfig reads configPath, or modbus-cli.{json,yaml,toml} from the
// working or home directory when configPath is empty, and applies MBTCP_*
// environment overrides (MBTCP_LOG_LEVEL for log.level).
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("modbus-cli")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.modbus-cli/")
	}

	v.SetEnvPrefix("MBTCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Address = withDefaultPort(cfg.Address)
	if cfg.Log.Frame {
		cfg.Log.Level = zapcore.DebugLevel.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// withDefaultPort appends the MODBUS TCP port to an address without one.
func withDefaultPort(address string) string {
	_, _, err := net.SplitHostPort(address)
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(addrErr.Err, "missing port") {
		return net.JoinHostPort(strings.Trim(address, "[]"), defaultPort)
	}
	return address
}

// Validate checks the settings before anything is dialed.
func (c *Config) Validate() error {
	host, port, err := net.SplitHostPort(c.Address)
	if err != nil {
		return fmt.Errorf("address %q: %w", c.Address, err)
	}
	if host == "" {
		return fmt.Errorf("address %q: missing host", c.Address)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("address %q: invalid port", c.Address)
	}
	if c.UnitID < 0 || c.UnitID > 255 {
		return fmt.Errorf("unit id %d out of range 0..255", c.UnitID)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative, got %v", c.IdleTimeout)
	}
	if c.TLS.Insecure && !c.TLS.Enabled {
		return errors.New("tls.insecure requires tls.enabled")
	}
	return c.Log.Validate()
}

// Validate checks level, format and rotation settings.
func (c *LogConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log format %q must be console or json", c.Format)
	}
	if c.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB, got %d", c.MaxSizeMB)
	}
	if c.MaxBackups < 0 {
		return fmt.Errorf("log max backups must not be negative, got %d", c.MaxBackups)
	}
	return nil
}

// ClientConfig builds the TLS client configuration, or nil when TLS is off.
func (c *TLSConfig) ClientConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.Insecure,
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		cfg.RootCAs = x509.NewCertPool()
		if !cfg.RootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
	}
	return cfg, nil
}

// ClientOptions maps the settings onto the client. frameLogger receives the
// frame trace when Log.Frame is set.
func (c *Config) ClientOptions(frameLogger modbustcp.Logger) ([]modbustcp.ClientOption, error) {
	opts := []modbustcp.ClientOption{
		modbustcp.WithTimeout(c.Timeout),
		modbustcp.WithDialTimeout(c.Timeout),
		modbustcp.WithIdleTimeout(c.IdleTimeout),
		modbustcp.WithUnitID(byte(c.UnitID)),
	}
	if c.Log.Frame && frameLogger != nil {
		opts = append(opts, modbustcp.WithLogger(frameLogger))
	}
	tlsConfig, err := c.TLS.ClientConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, modbustcp.WithTLSConfig(tlsConfig))
	}
	return opts, nil
}
