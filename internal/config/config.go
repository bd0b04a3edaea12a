package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env        string           `mapstructure:"env"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	ChangeFeed ChangeFeedConfig `mapstructure:"change_feed"`
	Busy       BusyConfig       `mapstructure:"busy"`
	Mail       MailConfig       `mapstructure:"mail"`
	Log        LogConfig        `mapstructure:"log"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout_seconds"`
	WriteTimeout int      `mapstructure:"write_timeout_seconds"`
	IdleTimeout  int      `mapstructure:"idle_timeout_seconds"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            string `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time_seconds"`
}

type AuthConfig struct {
	JWTSecret                string        `mapstructure:"jwt_secret"`
	AccessTTL                time.Duration `mapstructure:"access_ttl"`
	RefreshTTL               time.Duration `mapstructure:"refresh_ttl"`
	RequireEmailConfirmation bool          `mapstructure:"require_email_confirmation"`
	SiteURL                  string        `mapstructure:"site_url"`
	CookieSecure             bool          `mapstructure:"cookie_secure"`
}

type ChangeFeedConfig struct {
	// Driver is one of "local", "nats" or "kafka".
	Driver string      `mapstructure:"driver"`
	NATS   NATSConfig  `mapstructure:"nats"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type BusyConfig struct {
	// Driver is "memory" or "redis".
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
	Redis  RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MailConfig struct {
	// Driver is "console" or "sendgrid".
	Driver      string `mapstructure:"driver"`
	FromName    string `mapstructure:"from_name"`
	FromAddress string `mapstructure:"from_address"`
	APIKey      string `mapstructure:"api_key"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

func Load() (*Config, error) {
	env := os.Getenv("ENV")
	if env == "" {
		env = "local"
	}

	v := viper.New()
	setDefaults(v)
	v.Set("env", env)

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	v.AddConfigPath("/configs")   // Kubernetes mount
	v.AddConfigPath("./configs")  // repository root
	v.AddConfigPath("../configs") // cmd/
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}

	// Config file is optional, ENV variables still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("busy.redis.password", "REDIS_PASSWORD")
	v.BindEnv("mail.api_key", "SENDGRID_API_KEY")
	v.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 0)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "student_records")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.site_url", "http://localhost:8080")
	v.SetDefault("change_feed.driver", "local")
	v.SetDefault("change_feed.nats.url", "nats://localhost:4222")
	v.SetDefault("change_feed.nats.subject_prefix", "student_records.changes")
	v.SetDefault("change_feed.kafka.topic", "student_records.changes")
	v.SetDefault("busy.driver", "memory")
	v.SetDefault("busy.ttl", 30*time.Second)
	v.SetDefault("mail.driver", "console")
	v.SetDefault("mail.from_name", "Student Records")
	v.SetDefault("mail.from_address", "no-reply@localhost")
	v.SetDefault("telemetry.endpoint", "localhost:4317")
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (JWT_SECRET)")
	}
	switch c.ChangeFeed.Driver {
	case "local", "nats", "kafka":
	default:
		return fmt.Errorf("unknown change_feed.driver %q", c.ChangeFeed.Driver)
	}
	if c.ChangeFeed.Driver == "kafka" && len(c.ChangeFeed.Kafka.Brokers) == 0 {
		return fmt.Errorf("change_feed.kafka.brokers is required for the kafka driver")
	}
	switch c.Busy.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown busy.driver %q", c.Busy.Driver)
	}
	switch c.Mail.Driver {
	case "console", "sendgrid":
	default:
		return fmt.Errorf("unknown mail.driver %q", c.Mail.Driver)
	}
	return nil
}

// IsProduction reports whether cookies and logging should use production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}
