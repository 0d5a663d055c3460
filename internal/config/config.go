// Package config provides configuration management for the processing service.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/api3dao/commons-go/pkg/confighash"
	"github.com/api3dao/commons-go/pkg/configparsing"
	"github.com/api3dao/commons-go/pkg/logger"
	"github.com/api3dao/commons-go/pkg/ois"
)

// Config holds all configuration for the processing service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logger     logger.Config    `mapstructure:"logger"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Endpoints  EndpointsConfig  `mapstructure:"endpoints"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig holds authentication configuration. An empty service token
// disables authentication.
type AuthConfig struct {
	ServiceToken string `mapstructure:"service_token"`
}

// ProcessingConfig bounds every pre- and post-processing run.
type ProcessingConfig struct {
	Retries      int           `mapstructure:"retries"`
	TotalTimeout time.Duration `mapstructure:"total_timeout"`
}

// EndpointsConfig points at the endpoint definitions served by name.
type EndpointsConfig struct {
	File        string `mapstructure:"file"`
	SecretsFile string `mapstructure:"secrets_file"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("auth.service_token", "")

	v.SetDefault("logger.enabled", true)
	v.SetDefault("logger.colorize", false)
	v.SetDefault("logger.format", string(logger.FormatJSON))
	v.SetDefault("logger.min_level", string(logger.LevelInfo))

	v.SetDefault("processing.retries", 0)
	v.SetDefault("processing.total_timeout", 10*time.Second)

	v.SetDefault("endpoints.file", "")
	v.SetDefault("endpoints.secrets_file", "")

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/processing")
	}

	// Read environment variables
	v.SetEnvPrefix("ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that viper cannot.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Processing.Retries < 0 {
		return fmt.Errorf("processing retries must not be negative")
	}
	if c.Processing.TotalTimeout <= 0 {
		return fmt.Errorf("processing total timeout must be positive")
	}
	return logger.ValidateConfig(c.Logger)
}

// Endpoints is a set of endpoint definitions addressable by name.
type Endpoints struct {
	ByName map[string]*ois.Endpoint

	// Hash identifies the definitions file contents before secrets are
	// interpolated.
	Hash string
}

// Lookup returns the endpoint with the given name.
func (e *Endpoints) Lookup(name string) (*ois.Endpoint, bool) {
	if e == nil {
		return nil, false
	}
	endpoint, ok := e.ByName[name]
	return endpoint, ok
}

// LoadEndpoints reads endpoint definitions from a JSON or YAML file of the
// form {"endpoints": [...]}. Secrets from secretsPath, if given, are
// interpolated into the definitions.
func LoadEndpoints(path, secretsPath string) (*Endpoints, error) {
	raw, err := configparsing.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	hash, err := confighash.Hash(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to hash endpoints file: %w", err)
	}

	secrets := configparsing.Secrets{}
	if secretsPath != "" {
		if secrets, err = configparsing.LoadSecrets(secretsPath); err != nil {
			return nil, err
		}
	}
	interpolated, err := configparsing.InterpolateSecrets(raw, secrets, configparsing.InterpolationOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to interpolate secrets: %w", err)
	}

	data, err := json.Marshal(interpolated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode endpoints: %w", err)
	}
	var file struct {
		Endpoints []ois.Endpoint `json:"endpoints"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse endpoints: %w", err)
	}

	endpoints := &Endpoints{ByName: make(map[string]*ois.Endpoint, len(file.Endpoints)), Hash: hash}
	for i := range file.Endpoints {
		endpoint := &file.Endpoints[i]
		if endpoint.Name == "" {
			return nil, fmt.Errorf("endpoints[%d]: name is required", i)
		}
		if _, exists := endpoints.ByName[endpoint.Name]; exists {
			return nil, fmt.Errorf("duplicate endpoint name %q", endpoint.Name)
		}
		if err := endpoint.Validate(); err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", endpoint.Name, err)
		}
		endpoints.ByName[endpoint.Name] = endpoint
	}
	return endpoints, nil
}
