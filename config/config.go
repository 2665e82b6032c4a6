// Package config loads the bridge configuration from defaults, an optional
// YAML file, a .env file, NFC_BRIDGE_* environment variables and command
// line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fvisticot/nfc-reader-bridge/buildinfo"
)

// Reader drivers.
const (
	DriverLibNFC = "libnfc"
	DriverPCSC   = "pcsc"
	DriverRemote = "remote"
)

const (
	configName = "config"
	configType = "yaml"
)

// Config is the complete bridge configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Reader ReaderConfig `mapstructure:"reader" yaml:"reader"`
	TLS    TLSConfig    `mapstructure:"tls" yaml:"tls"`

	// Tray runs the system tray UI instead of a headless server.
	Tray bool `mapstructure:"tray" yaml:"tray"`
}

type ServerConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret,omitempty"`
	MDNS      bool   `mapstructure:"mdns" yaml:"mdns"`
}

type ReaderConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Device is a libnfc connection string or a PC/SC reader name. Empty
	// picks the first one found.
	Device string `mapstructure:"device" yaml:"device,omitempty"`

	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// Timeout ends a session that saw no tag. Zero waits forever.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type TLSConfig struct {
	Enabled       bool     `mapstructure:"enabled" yaml:"enabled"`
	Dir           string   `mapstructure:"dir" yaml:"dir"`
	BootstrapPort int      `mapstructure:"bootstrap_port" yaml:"bootstrap_port"`
	Hosts         []string `mapstructure:"hosts" yaml:"hosts,omitempty"`
}

// Dir returns the per-user configuration directory.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "." + buildinfo.Name
	}
	return filepath.Join(base, buildinfo.Name)
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 18080)
	v.SetDefault("server.api_secret", "")
	v.SetDefault("server.mdns", true)

	v.SetDefault("reader.driver", DriverLibNFC)
	v.SetDefault("reader.device", "")
	v.SetDefault("reader.poll_interval", 250*time.Millisecond)
	v.SetDefault("reader.timeout", 60*time.Second)

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.dir", Dir())
	v.SetDefault("tls.bootstrap_port", 18081)
	v.SetDefault("tls.hosts", []string{})

	v.SetDefault("tray", false)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"host":       "server.host",
	"port":       "server.port",
	"api-secret": "server.api_secret",
	"mdns":       "server.mdns",
	"driver":     "reader.driver",
	"device":     "reader.device",
	"timeout":    "reader.timeout",
	"tls":        "tls.enabled",
	"tray":       "tray",
}

// BindFlags binds the flags of fs that have a configuration key. Flags
// missing from fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

// LoadDotEnv loads environment variables from path. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads the configuration into a Config. An explicit file must exist;
// without one, config.yaml is looked up in the working directory and in
// Dir(), and its absence is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(buildinfo.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Reader.Driver {
	case DriverLibNFC, DriverPCSC, DriverRemote:
	default:
		return fmt.Errorf("reader.driver %q is not one of %s, %s, %s", c.Reader.Driver, DriverLibNFC, DriverPCSC, DriverRemote)
	}
	if c.Reader.PollInterval <= 0 {
		return errors.New("reader.poll_interval must be positive")
	}
	if c.Reader.Timeout < 0 {
		return errors.New("reader.timeout must not be negative")
	}
	if c.TLS.Enabled && c.TLS.BootstrapPort == c.Server.Port {
		return errors.New("tls.bootstrap_port must differ from server.port")
	}
	return nil
}

// YAML renders the configuration as a config file. The API secret is
// masked unless showSecrets is set.
func (c Config) YAML(showSecrets bool) ([]byte, error) {
	if !showSecrets && c.Server.APISecret != "" {
		c.Server.APISecret = "********"
	}
	return yaml.Marshal(c)
}
