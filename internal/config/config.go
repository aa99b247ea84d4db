package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Auth        AuthConfig
	Realtime    RealtimeConfig
	Redis       RedisConfig
	Store       StoreConfig
	Kafka       KafkaConfig
	Collections map[string]CollectionConfig
	Channels    ChannelConfig
	LogLevel    string
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type AuthConfig struct {
	JWTSecret   string
	RequireAuth bool
	APIKeys     []APIKeyConfig
}

// APIKeyConfig holds one bcrypt-hashed API key and the identity it maps to.
type APIKeyConfig struct {
	ID     string   `mapstructure:"id"`
	Role   string   `mapstructure:"role"`
	Scopes []string `mapstructure:"scopes"`
	Hash   string   `mapstructure:"hash"`
}

type RealtimeConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	SendBuffer        int
	RateLimitMax      int
	RateLimitWindow   time.Duration
}

type RedisConfig struct {
	URL          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

// StoreConfig selects the document store backend. Driver is one of
// "memory", "mongo" or "mysql".
type StoreConfig struct {
	Driver   string
	MongoURI string
	MongoDB  string
	MySQLDSN string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// CollectionConfig describes one exposed collection. When at least one
// collection is configured the set acts as an allow-list.
type CollectionConfig struct {
	AllowedRoles    []string `mapstructure:"allowed_roles"`
	ProtectedFields []string `mapstructure:"protected_fields"`
}

type ChannelConfig struct {
	Enabled bool
	// Guards maps a channel base name (or "*") to the roles allowed to
	// join its private/presence variants. An empty role list admits any
	// authenticated identity.
	Guards map[string][]string `mapstructure:"guards"`
}

var (
	ConfigInstance *Config
	once           sync.Once
)

func LoadConfig() (*Config, error) {
	var loadErr error
	once.Do(func() {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		viper.SetDefault("RT_HOST", "")
		viper.SetDefault("RT_PORT", "8080")
		viper.SetDefault("RT_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("RT_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("RT_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("RT_LOG_LEVEL", "info")
		viper.SetDefault("RT_JWT_SECRET", "")
		viper.SetDefault("RT_REQUIRE_AUTH", false)
		viper.SetDefault("RT_HEARTBEAT_INTERVAL", 30*time.Second)
		viper.SetDefault("RT_HEARTBEAT_TIMEOUT", 10*time.Second)
		viper.SetDefault("RT_WS_WRITE_TIMEOUT", 10*time.Second)
		viper.SetDefault("RT_MAX_MESSAGE_SIZE", 65536)
		viper.SetDefault("RT_SEND_BUFFER", 256)
		viper.SetDefault("RT_RATE_LIMIT_MAX", 100)
		viper.SetDefault("RT_RATE_LIMIT_WINDOW", time.Second)
		viper.SetDefault("RT_CHANNELS_ENABLED", true)
		viper.SetDefault("RT_STORE_DRIVER", "memory")
		viper.SetDefault("RT_MONGO_URI", "")
		viper.SetDefault("RT_MONGO_DB", "realtime")
		viper.SetDefault("RT_MYSQL_DSN", "")
		viper.SetDefault("RT_KAFKA_BROKERS", []string{})
		viper.SetDefault("RT_KAFKA_TOPIC", "store-changes")
		viper.SetDefault("REDIS_URL", "")
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.AutomaticEnv()

		// The config file is optional; collections, guards and API keys
		// can only come from it, everything else can come from env.
		_ = viper.ReadInConfig()

		cfg := &Config{
			Server: ServerConfig{
				Host:         viper.GetString("RT_HOST"),
				Port:         viper.GetString("RT_PORT"),
				ReadTimeout:  viper.GetDuration("RT_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("RT_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("RT_IDLE_TIMEOUT"),
			},
			Auth: AuthConfig{
				JWTSecret:   viper.GetString("RT_JWT_SECRET"),
				RequireAuth: viper.GetBool("RT_REQUIRE_AUTH"),
			},
			Realtime: RealtimeConfig{
				HeartbeatInterval: viper.GetDuration("RT_HEARTBEAT_INTERVAL"),
				HeartbeatTimeout:  viper.GetDuration("RT_HEARTBEAT_TIMEOUT"),
				WriteTimeout:      viper.GetDuration("RT_WS_WRITE_TIMEOUT"),
				MaxMessageSize:    viper.GetInt64("RT_MAX_MESSAGE_SIZE"),
				SendBuffer:        viper.GetInt("RT_SEND_BUFFER"),
				RateLimitMax:      viper.GetInt("RT_RATE_LIMIT_MAX"),
				RateLimitWindow:   viper.GetDuration("RT_RATE_LIMIT_WINDOW"),
			},
			Redis: RedisConfig{
				URL:          viper.GetString("REDIS_URL"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			Store: StoreConfig{
				Driver:   viper.GetString("RT_STORE_DRIVER"),
				MongoURI: viper.GetString("RT_MONGO_URI"),
				MongoDB:  viper.GetString("RT_MONGO_DB"),
				MySQLDSN: viper.GetString("RT_MYSQL_DSN"),
			},
			Kafka: KafkaConfig{
				Brokers: viper.GetStringSlice("RT_KAFKA_BROKERS"),
				Topic:   viper.GetString("RT_KAFKA_TOPIC"),
			},
			Channels: ChannelConfig{
				Enabled: viper.GetBool("RT_CHANNELS_ENABLED"),
			},
			LogLevel: viper.GetString("RT_LOG_LEVEL"),
		}

		if err := viper.UnmarshalKey("collections", &cfg.Collections); err != nil {
			loadErr = err
			return
		}
		if err := viper.UnmarshalKey("channel_guards", &cfg.Channels.Guards); err != nil {
			loadErr = err
			return
		}
		if err := viper.UnmarshalKey("api_keys", &cfg.Auth.APIKeys); err != nil {
			loadErr = err
			return
		}

		ConfigInstance = cfg
	})

	return ConfigInstance, loadErr
}
