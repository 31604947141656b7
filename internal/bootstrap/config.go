package bootstrap

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	GrpcPort    string `mapstructure:"GRPC_PORT"`
	IsLocalCors bool   `mapstructure:"LOCAL_CORS"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	KatagoPath           string        `mapstructure:"KATAGO_PATH"`
	KatagoModel          string        `mapstructure:"KATAGO_MODEL"`
	KatagoConfig         string        `mapstructure:"KATAGO_CONFIG"`
	KatagoExtraArgs      string        `mapstructure:"KATAGO_EXTRA_ARGS"`
	KatagoReadyMarker    string        `mapstructure:"KATAGO_READY_MARKER"`
	KatagoStartupTimeout time.Duration `mapstructure:"KATAGO_STARTUP_TIMEOUT"`
	KatagoParseRetries   int           `mapstructure:"KATAGO_PARSE_RETRIES"`

	MaxVisits     int           `mapstructure:"MAX_VISITS"`
	DefaultRules  string        `mapstructure:"DEFAULT_RULES"`
	DefaultKomi   float64       `mapstructure:"DEFAULT_KOMI"`
	IncludePolicy bool          `mapstructure:"INCLUDE_POLICY"`
	JobTimeout    time.Duration `mapstructure:"JOB_TIMEOUT"`
	HistorySize   int           `mapstructure:"HISTORY_SIZE"`

	RedisUrl       string        `mapstructure:"REDIS_URL"`
	RedisLatestTTL time.Duration `mapstructure:"REDIS_LATEST_TTL"`
	MongoUri       string        `mapstructure:"MONGO_URI"`
	MongoDatabase  string        `mapstructure:"MONGO_DATABASE"`
}

var defaults = map[string]any{
	"SERVER_PORT":            "8080",
	"GRPC_PORT":              "8082",
	"LOCAL_CORS":             false,
	"LOG_LEVEL":              "info",
	"KATAGO_PATH":            "./katago",
	"KATAGO_MODEL":           "kata1-b40c256-s11840935168-d2898845681.bin",
	"KATAGO_CONFIG":          "analysis.cfg",
	"KATAGO_EXTRA_ARGS":      "",
	"KATAGO_READY_MARKER":    "Started, ready to begin handling requests",
	"KATAGO_STARTUP_TIMEOUT": "90s",
	"KATAGO_PARSE_RETRIES":   3,
	"MAX_VISITS":             500,
	"DEFAULT_RULES":          "japanese",
	"DEFAULT_KOMI":           6.5,
	"INCLUDE_POLICY":         false,
	"JOB_TIMEOUT":            "30s",
	"HISTORY_SIZE":           2,
	"REDIS_URL":              "",
	"REDIS_LATEST_TTL":       "6h",
	"MONGO_URI":              "",
	"MONGO_DATABASE":         "baduk_relay",
}

// Setup reads cfgPath (a .env style file) on top of defaults and the process
// environment. A missing file is not an error.
func Setup(cfgPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if strings.HasSuffix(cfgPath, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HistorySize < 2 {
		cfg.HistorySize = 2
	}
	if cfg.KatagoParseRetries < 0 {
		cfg.KatagoParseRetries = 0
	}

	return &cfg, nil
}

// KatagoArgs is the argument list for the analysis engine subprocess.
func (c *Config) KatagoArgs() []string {
	args := []string{"analysis", "-model", c.KatagoModel, "-config", c.KatagoConfig}
	if extra := strings.Fields(c.KatagoExtraArgs); len(extra) > 0 {
		args = append(args, extra...)
	}
	return args
}
