package config

import (
	"os"
	"strings"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel       = "info"
	DefaultEnvPrefix      = "ENVIRO"
	DefaultConfigName     = "enviro"
	DefaultBroker         = "tcp://localhost:1883"
	DefaultClientID       = "enviro-dashboard"
	DefaultTopicPrefix    = "enviro"
	DefaultFetchLimit     = 48
	DefaultWindow         = 24
	DefaultStaleAfter     = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultHTTPAddr       = ":8080"
	DefaultTelemetryDB    = "/var/lib/enviro/history.db"
	DefaultBatchSize      = 1
	DefaultBatchTimeout   = 5
	DefaultPIDFile        = "enviro.pid"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	PIDFile   string          `mapstructure:"pid_file"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Feed      FeedConfig      `mapstructure:"feed"`
	History   HistoryConfig   `mapstructure:"history"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type FeedConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type HistoryConfig struct {
	FetchLimit int    `mapstructure:"fetch_limit"`
	Window     int    `mapstructure:"window"`
	Location   string `mapstructure:"location"`
	ExportDir  string `mapstructure:"export_dir"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from defaults, config file, environment and
// flags, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if o.args == nil {
		o.args = os.Args[1:]
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if p, _ := fs.GetString("config"); p != "" {
		path = p
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/enviro")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("pid_file", DefaultPIDFile)
	v.SetDefault("mqtt.broker", DefaultBroker)
	v.SetDefault("mqtt.client_id", DefaultClientID)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", DefaultTopicPrefix)
	v.SetDefault("mqtt.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("feed.stale_after", DefaultStaleAfter)
	v.SetDefault("history.fetch_limit", DefaultFetchLimit)
	v.SetDefault("history.window", DefaultWindow)
	v.SetDefault("history.location", "Local")
	v.SetDefault("history.export_dir", "")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.db_path", DefaultTelemetryDB)
	v.SetDefault("telemetry.batch_size", DefaultBatchSize)
	v.SetDefault("telemetry.batch_timeout", DefaultBatchTimeout)
	v.SetDefault("http.addr", DefaultHTTPAddr)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("enviro", pflag.ContinueOnError)
	fs.String("config", "", "Path to a TOML configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("mqtt-broker", DefaultBroker, "MQTT broker URL")
	fs.String("topic-prefix", DefaultTopicPrefix, "Topic prefix of the device documents")
	fs.String("http-addr", DefaultHTTPAddr, "HTTP listen address")
	fs.Int("window", DefaultWindow, "Default history window in samples (6, 8 or 24)")
	fs.Bool("telemetry", true, "Persist history entries to SQLite")
	fs.String("db", DefaultTelemetryDB, "Path to the history database")
	fs.String("export-dir", "", "Directory CSV exports are also written to")
	return fs
}

var flagKeys = map[string]string{
	"log-level":    "log_level",
	"mqtt-broker":  "mqtt.broker",
	"topic-prefix": "mqtt.topic_prefix",
	"http-addr":    "http.addr",
	"window":       "history.window",
	"telemetry":    "telemetry.enabled",
	"db":           "telemetry.db_path",
	"export-dir":   "history.export_dir",
}

// bindFlags binds only flags that were set on the command line so that
// unset flag defaults do not shadow file and environment values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() && c.LogLevel != "warn" {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	switch c.History.Window {
	case 6, 8, 24:
	default:
		return errFactory.WithData(errors.ErrInvalidWindow, c.History.Window)
	}
	if c.History.FetchLimit <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value int
		}{"history.fetch_limit", c.History.FetchLimit})
	}
	if c.Feed.StaleAfter <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value time.Duration
		}{"feed.stale_after", c.Feed.StaleAfter})
	}
	if strings.TrimSpace(c.MQTT.Broker) == "" || strings.TrimSpace(c.MQTT.TopicPrefix) == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "mqtt broker and topic prefix are required")
	}
	if c.Telemetry.Enabled && c.Telemetry.DBPath == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "telemetry.db_path is required when telemetry is enabled")
	}

	return nil
}

// GetLocation resolves the configured history time zone
func (c *Config) GetLocation() (*time.Location, error) {
	if c.History.Location == "" || c.History.Location == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.History.Location)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidConfig, err)
	}
	return loc, nil
}
