package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config models unr.yml.
type Config struct {
	Database    DatabaseConfig    `yaml:"database" mapstructure:"database"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Auth        AuthConfig        `yaml:"auth" mapstructure:"auth"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Zotero      ZoteroConfig      `yaml:"zotero" mapstructure:"zotero"`
	Marketplace MarketplaceConfig `yaml:"marketplace" mapstructure:"marketplace"`
	Calculation CalculationConfig `yaml:"calculation" mapstructure:"calculation"`
	RBAC        struct {
		Roles map[string]RBACRole `yaml:"roles" mapstructure:"roles"`
	} `yaml:"rbac" mapstructure:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks" mapstructure:"webhooks"`
}

// DatabaseConfig selects the SQL driver. Driver is sqlite or pgx.
type DatabaseConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	DSN       string `yaml:"dsn" mapstructure:"dsn"`
	Workspace string `yaml:"workspace" mapstructure:"workspace"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	BasePath    string   `yaml:"base_path" mapstructure:"base_path"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes" mapstructure:"token_ttl_minutes"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ZoteroConfig points at the group library holding the consortium bibliography.
type ZoteroConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	GroupID           string  `yaml:"group_id" mapstructure:"group_id"`
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	MaxRetries        uint64  `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type MarketplaceConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxRetries        uint64  `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// CalculationConfig holds the visit thresholds used to size services.
// A service with fewer than MediumServiceVisits visits is small, one with at
// least LargeServiceVisits is large.
type CalculationConfig struct {
	MediumServiceVisits int64 `yaml:"medium_service_visits" mapstructure:"medium_service_visits"`
	LargeServiceVisits  int64 `yaml:"large_service_visits" mapstructure:"large_service_visits"`
}

type RBACRole struct {
	Description string   `yaml:"description" mapstructure:"description"`
	Permissions []string `yaml:"permissions" mapstructure:"permissions"`
	// CountryScoped restricts the role to the user's own country.
	CountryScoped bool `yaml:"country_scoped" mapstructure:"country_scoped"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" mapstructure:"url"`
	Events         []string `yaml:"events" mapstructure:"events"`
	Secret         string   `yaml:"secret" mapstructure:"secret"`
	Enabled        *bool    `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("config.database.driver must be 'sqlite' or 'pgx'")
	}
	if c.Database.Driver == "pgx" && c.Database.DSN == "" {
		return fmt.Errorf("config.database.dsn is required for driver pgx")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be 'json' or 'console'")
	}
	if c.Calculation.MediumServiceVisits <= 0 {
		return fmt.Errorf("config.calculation.medium_service_visits must be positive")
	}
	if c.Calculation.LargeServiceVisits <= c.Calculation.MediumServiceVisits {
		return fmt.Errorf("config.calculation.large_service_visits must exceed medium_service_visits")
	}
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	if _, ok := c.RBAC.Roles["admin"]; !ok {
		return fmt.Errorf("config.rbac.roles must include admin")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Permissions returns the permissions granted to an application role.
func (c *Config) Permissions(role string) []string {
	if c == nil {
		return nil
	}
	return c.RBAC.Roles[role].Permissions
}

// CountryScoped reports whether a role only sees its own country.
func (c *Config) CountryScoped(role string) bool {
	if c == nil {
		return true
	}
	r, ok := c.RBAC.Roles[role]
	if !ok {
		return true
	}
	return r.CountryScoped
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "unr.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Load layers the default template, the optional unr.yml of the workspace
// (or the explicit file) and UNR_* environment variables.
func Load(workspace, file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(defaultTemplate)); err != nil {
		return nil, eris.Wrap(err, "config: read defaults")
	}

	v.SetEnvPrefix("UNR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		file = Path(workspace)
		if _, err := os.Stat(file); os.IsNotExist(err) {
			file = ""
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return nil, eris.Wrapf(err, "config: read file %s", file)
		}
	}
	if workspace != "" && v.GetString("database.workspace") == "." {
		v.Set("database.workspace", workspace)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "config: validate")
	}
	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}

const defaultTemplate = `database:
  driver: sqlite
  dsn: ""
  workspace: "."

server:
  addr: "127.0.0.1:8080"
  base_path: /api/v1
  cors_origins: []

auth:
  jwt_secret: ""
  token_ttl_minutes: 720

log:
  level: info
  format: json

zotero:
  base_url: https://api.zotero.org
  group_id: ""
  api_key: ""
  max_retries: 3
  requests_per_second: 2
  timeout_seconds: 20

marketplace:
  base_url: https://marketplace-api.sshopencloud.eu
  requests_per_second: 5
  max_retries: 3
  timeout_seconds: 20

calculation:
  medium_service_visits: 7000
  large_service_visits: 170000

rbac:
  roles:
    admin:
      description: "Consortium office staff"
      country_scoped: false
      permissions:
        - report.read
        - report.write
        - report.confirm
        - report.create
        - reference.read
        - reference.write
        - values.write
        - user.manage
        - campaign.manage
        - ingest.run
        - events.read
        - export.run
    national_coordinator:
      description: "National coordinator of a member country"
      country_scoped: true
      permissions:
        - report.read
        - report.write
        - report.confirm
        - reference.read
        - export.run
    contributor:
      description: "Contributor to a country report"
      country_scoped: true
      permissions:
        - report.read
        - report.write
        - reference.read

webhooks: []
`
