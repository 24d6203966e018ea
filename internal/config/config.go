package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Provider exposes read-only access to the host configuration.
type Provider interface {
	GetModulesDir() string
	GetModulesCacheDir() string
	GetModulesContexts() []string
	GetHotReload() bool
	GetWorldTick() time.Duration
	GetAdminAddr() string
	GetRealm() Realm
	GetTracing() Tracing
}

// Realm holds the addresses advertised to connecting clients.
type Realm struct {
	LocalAddress            string `env:"REALM_LOCAL_ADDRESS" envDefault:"127.0.0.1" validate:"required,ip"`
	ExternalAddress         string `env:"REALM_EXTERNAL_ADDRESS" envDefault:"127.0.0.1" validate:"required,ip"`
	LocalSubnetMask         string `env:"REALM_LOCAL_SUBNET_MASK" envDefault:"255.255.255.0" validate:"required,ip"`
	Port                    uint16 `env:"REALM_PORT" envDefault:"8085" validate:"required"`
	AnyPrivateClientIsLocal bool   `env:"NETWORK_ANY_PRIVATE_CLIENT_IS_LOCAL" envDefault:"false"`
}

// Config holds all configuration for the module host.
type Config struct {
	ModulesDir      string        `env:"MODULES_DIR" envDefault:"modules" validate:"required"`
	ModulesCacheDir string        `env:"MODULES_CACHE_DIR" envDefault:"modules/.cache"`
	ModulesContexts []string      `env:"MODULES_CONTEXTS" envSeparator:","`
	HotReload       bool          `env:"MODULES_HOT_RELOAD" envDefault:"true"`
	WorldTick       time.Duration `env:"WORLD_TICK" envDefault:"100ms" validate:"gt=0"`
	AdminAddr       string        `env:"ADMIN_ADDR" envDefault:"127.0.0.1:8095" validate:"omitempty,hostname_port"`

	Realm   Realm
	Tracing Tracing
}

// Tracing configures OpenTelemetry export of module event spans.
type Tracing struct {
	Enabled     bool   `env:"TRACING_ENABLED" envDefault:"false"`
	ServiceName string `env:"TRACING_SERVICE_NAME" envDefault:"modhost"`
	ZipkinURL   string `env:"TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans" validate:"omitempty,url"`
}

// New loads configuration from a .env file (if present) and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return Parse()
}

// Parse reads and validates configuration from the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) GetModulesDir() string        { return c.ModulesDir }
func (c *Config) GetModulesCacheDir() string   { return c.ModulesCacheDir }
func (c *Config) GetModulesContexts() []string { return c.ModulesContexts }
func (c *Config) GetHotReload() bool           { return c.HotReload }
func (c *Config) GetWorldTick() time.Duration  { return c.WorldTick }
func (c *Config) GetAdminAddr() string         { return c.AdminAddr }
func (c *Config) GetRealm() Realm              { return c.Realm }
func (c *Config) GetTracing() Tracing          { return c.Tracing }
