package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Address     string   `mapstructure:"address"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	AgentRunner struct {
		// URL of the agent sidecar. Empty means no runner is configured
		// and executions fall back to the simulated path.
		URL string `mapstructure:"url"`
		// TaskTimeout bounds each task invocation. Zero disables the
		// timeout.
		TaskTimeout time.Duration `mapstructure:"task_timeout"`
	} `mapstructure:"agent_runner"`
	Scheduler struct {
		// MisfirePolicy controls what happens to schedules whose stored
		// next run time is already in the past at startup: "skip"
		// (default) resumes at the next future occurrence, "fire_once"
		// fires immediately once.
		MisfirePolicy string `mapstructure:"misfire_policy"`
	} `mapstructure:"scheduler"`
	Auth struct {
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path falls back to config.yaml in the working directory or ./config.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.AutomaticEnv()

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("scheduler.misfire_policy", "skip")

	if err := viper.ReadInConfig(); err != nil {
		// Running without a config file is fine when none was named
		// explicitly; defaults and environment variables apply.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OIDC issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeIssuer(config.Auth.OktaDomain)

	return &config, nil
}

// AuthConfigured reports whether the OIDC settings are complete enough to
// enforce authentication. When false the server runs with auth bypassed.
func (c *Config) AuthConfigured() bool {
	return c.Auth.OktaDomain != "" && c.Auth.ClientID != "" &&
		c.Auth.ClientSecret != "" && c.Auth.RedirectURL != ""
}

// AuthPartial reports whether the auth section is filled in but missing
// one or more required settings. Callers treat this as a configuration
// error rather than bypassing authentication.
func (c *Config) AuthPartial() bool {
	if c.AuthConfigured() {
		return false
	}
	return c.Auth.OktaDomain != "" || c.Auth.ClientID != "" ||
		c.Auth.ClientSecret != "" || c.Auth.RedirectURL != ""
}

// normalizeIssuer ensures the provided issuer string is in a predictable
// form. It removes any trailing slash and leaves the scheme and path
// intact, so users can paste the full URL from their IdP admin console.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
