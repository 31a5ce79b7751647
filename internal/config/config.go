package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the waitlist service.
type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	Odoo        OdooConfig
	Kafka       KafkaConfig
	Clickhouse  ClickhouseConfig
	Admin       AdminConfig
	Gate        GateConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// OdooConfig describes the CRM connection. URL points at the Odoo instance
// root; the client appends the /xmlrpc/2/* endpoints itself.
type OdooConfig struct {
	URL         string
	Database    string
	Username    string
	APIKey      string
	CallTimeout time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type AdminConfig struct {
	CleanupAPIKey string
}

// GateConfig drives the access-code cookie gate for the presentation pages.
type GateConfig struct {
	AccessCode string
}

var (
	instance *Config
	once     sync.Once
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	once.Do(func() {
		// .env is optional; real deployments inject environment directly
		_ = godotenv.Load()

		instance = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Odoo: OdooConfig{
				URL:         getEnv("ODOO_URL", ""),
				Database:    getEnv("ODOO_DB", ""),
				Username:    getEnv("ODOO_USERNAME", ""),
				APIKey:      getEnv("ODOO_API_KEY", ""),
				CallTimeout: getEnvDuration("ODOO_CALL_TIMEOUT", 15*time.Second),
			},
			Kafka: KafkaConfig{
				Brokers: getEnvList("KAFKA_BROKERS", nil),
				Topic:   getEnv("KAFKA_WAITLIST_TOPIC", "waitlist.events"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", ""),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "waitlist"),
			},
			Admin: AdminConfig{
				CleanupAPIKey: getEnv("CLEANUP_API_KEY", ""),
			},
			Gate: GateConfig{
				AccessCode: getEnv("GATE_ACCESS_CODE", ""),
			},
		}
	})
	return instance
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

// Validate reports missing required settings. The CRM credentials are the
// only hard requirement; everything else has a workable default.
func (c *Config) Validate() []error {
	var errs []error

	required := map[string]string{
		"ODOO_URL":      c.Odoo.URL,
		"ODOO_DB":       c.Odoo.Database,
		"ODOO_USERNAME": c.Odoo.Username,
		"ODOO_API_KEY":  c.Odoo.APIKey,
	}
	for name, value := range required {
		if value == "" {
			errs = append(errs, fmt.Errorf("missing required environment variable: %s", name))
		}
	}

	if c.IsProduction() && c.Admin.CleanupAPIKey == "" {
		errs = append(errs, fmt.Errorf("CLEANUP_API_KEY is required in production"))
	}

	return errs
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// KafkaEnabled reports whether an event broker was configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// ClickhouseEnabled reports whether the audit sink was configured.
func (c *Config) ClickhouseEnabled() bool {
	return c.Clickhouse.URL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
