package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "CLIPTALLY"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "cliptally.db"
	defaultLogLevel     = "info"
	defaultTimezone     = "Asia/Seoul"
	defaultTokenIssuer  = "cliptally-api"
	defaultTokenAud     = "cliptally-shim"
)

// AppConfig captures runtime configuration for the accounting service.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	Timezone      string
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("time.timezone", defaultTimezone)
	configViper.SetDefault("auth.token_issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_audience", defaultTokenAud)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		Timezone:      configViper.GetString("time.timezone"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenIssuer:   configViper.GetString("auth.token_issuer"),
		TokenAudience: configViper.GetString("auth.token_audience"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Timezone) == "" {
		return fmt.Errorf("time.timezone is required")
	}
	return nil
}
