package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig PostgreSQL数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 构建PostgreSQL连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT broker配置（员工端App通过broker接收通知）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// PushConfig 推送网关配置（角色通知的HTTP推送通道）
type PushConfig struct {
	BaseURL string
	APIKey  string
	Timeout int // 秒
	Retries int
}

// Config 酒店运营服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Push     PushConfig

	// 工作流服务特定配置
	Workflow struct {
		// 实体快照流（供前台实时看板消费）
		LiveStream    string // Redis Stream 名称
		ConsumerGroup string // 消费者组名称
		ConsumerName  string // 消费者名称（通常为主机名）

		// 通知去重配置
		Dedupe struct {
			KeyPrefix string // 去重键前缀，如 "hotel:notify:dedupe:"
			TTL       int    // 去重键 TTL（秒），默认 86400
		}

		// 通知深链前缀（员工端 App 打开实体详情页用）
		DeepLinkBase string
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "hotelops")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "hotel-ops")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")

	cfg.Push.BaseURL = getEnv("PUSH_BASE_URL", "")
	cfg.Push.APIKey = getEnv("PUSH_API_KEY", "")
	cfg.Push.Timeout = getEnvInt("PUSH_TIMEOUT", 10)
	cfg.Push.Retries = getEnvInt("PUSH_RETRIES", 2)

	cfg.Workflow.LiveStream = getEnv("LIVE_STREAM", "hotel:entity:updates")
	cfg.Workflow.ConsumerGroup = getEnv("LIVE_CONSUMER_GROUP", "hotel-ops-live")
	cfg.Workflow.ConsumerName = getEnv("LIVE_CONSUMER_NAME", defaultConsumerName())
	cfg.Workflow.Dedupe.KeyPrefix = getEnv("DEDUPE_KEY_PREFIX", "hotel:notify:dedupe:")
	cfg.Workflow.Dedupe.TTL = getEnvInt("DEDUPE_TTL", 86400)
	cfg.Workflow.DeepLinkBase = getEnv("DEEP_LINK_BASE", "hotelops://entities")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func defaultConsumerName() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "hotel-ops-1"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
