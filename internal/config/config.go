// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	JWT       JWTConfig       `mapstructure:"jwt" yaml:"jwt"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Speech    SpeechConfig    `mapstructure:"speech" yaml:"speech"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	MinIO     MinIOConfig     `mapstructure:"minio" yaml:"minio"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port        string   `mapstructure:"port" yaml:"port"`
	Mode        string   `mapstructure:"mode" yaml:"mode"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
}

// DatabaseConfig 存储用户表和 Redis 的连接配置。
// Driver 取值 supabase、postgres、mysql、sqlite 或 memory。
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver" yaml:"driver"`
	Timeout  time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	Supabase SupabaseConfig `mapstructure:"supabase" yaml:"supabase"`
	Postgres DSNConfig      `mapstructure:"postgres" yaml:"postgres"`
	MySQL    DSNConfig      `mapstructure:"mysql" yaml:"mysql"`
	SQLite   DSNConfig      `mapstructure:"sqlite" yaml:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
}

// SupabaseConfig 存储 Supabase PostgREST 的地址与密钥。
type SupabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	Key string `mapstructure:"key" yaml:"key"`
}

// DSNConfig 存储 gorm 直连数据库的 DSN。
type DSNConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret" yaml:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours" yaml:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days" yaml:"refresh_token_expire_days"`
}

// AuthConfig 存储账号体系相关的配置。
type AuthConfig struct {
	PrimaryAdmin      string `mapstructure:"primary_admin" yaml:"primary_admin"`
	AllowRegistration bool   `mapstructure:"allow_registration" yaml:"allow_registration"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey        string              `mapstructure:"api_key" yaml:"api_key"`
	APIKeyFile    string              `mapstructure:"api_key_file" yaml:"api_key_file"`
	BaseURL       string              `mapstructure:"base_url" yaml:"base_url"`
	Model         string              `mapstructure:"model" yaml:"model"`
	Timeout       time.Duration       `mapstructure:"timeout" yaml:"timeout"`
	HistoryWindow int                 `mapstructure:"history_window" yaml:"history_window"`
	Generation    LLMGenerationConfig `mapstructure:"generation" yaml:"generation"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	TopP        float64 `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SpeechConfig 存储 Google 语音服务相关的配置。
type SpeechConfig struct {
	CredentialsPath string        `mapstructure:"credentials_path" yaml:"credentials_path"`
	CredentialsJSON string        `mapstructure:"credentials_json" yaml:"credentials_json"`
	LanguageCode    string        `mapstructure:"language_code" yaml:"language_code"`
	SampleRateHertz int32         `mapstructure:"sample_rate_hertz" yaml:"sample_rate_hertz"`
	DefaultVoice    string        `mapstructure:"default_voice" yaml:"default_voice"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SessionConfig 存储会话存储相关的配置，Store 取值 memory 或 redis。
type SessionConfig struct {
	Store    string `mapstructure:"store" yaml:"store"`
	TTLHours int    `mapstructure:"ttl_hours" yaml:"ttl_hours"`
}

// RateLimitConfig 存储限流配置，QPS 为 0 时关闭限流。
type RateLimitConfig struct {
	QPS int `mapstructure:"qps" yaml:"qps"`
}

// MinIOConfig 存储语音缓存所用的 MinIO 配置。
type MinIOConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool          `mapstructure:"use_ssl" yaml:"use_ssl"`
	BucketName      string        `mapstructure:"bucket_name" yaml:"bucket_name"`
	PresignExpiry   time.Duration `mapstructure:"presign_expiry" yaml:"presign_expiry"`
}

// KafkaConfig 存储审计事件所用的 Kafka 配置，Brokers 为空时不发送事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string `mapstructure:"topic" yaml:"topic"`
}

// setDefaults 注册所有默认值。每个键都需要注册，环境变量覆盖才会生效。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("database.driver", "supabase")
	v.SetDefault("database.timeout", 10*time.Second)
	v.SetDefault("database.supabase.url", "")
	v.SetDefault("database.supabase.key", "")
	v.SetDefault("database.postgres.dsn", "")
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.sqlite.dsn", "")
	v.SetDefault("database.redis.enabled", false)
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_hours", 24*7)
	v.SetDefault("jwt.refresh_token_expire_days", 30)

	v.SetDefault("auth.primary_admin", "admin")
	v.SetDefault("auth.allow_registration", false)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_key_file", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.history_window", 6)
	v.SetDefault("llm.generation.temperature", 0.7)
	v.SetDefault("llm.generation.top_p", 0)
	v.SetDefault("llm.generation.max_tokens", 500)

	v.SetDefault("speech.credentials_path", "")
	v.SetDefault("speech.credentials_json", "")
	v.SetDefault("speech.language_code", "en-US")
	v.SetDefault("speech.sample_rate_hertz", 48000)
	v.SetDefault("speech.default_voice", "en-US-Neural2-F")
	v.SetDefault("speech.timeout", 20*time.Second)

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.ttl_hours", 24)

	v.SetDefault("rate_limit.qps", 0)

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "tutor-audio")
	v.SetDefault("minio.presign_expiry", time.Hour)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "tutor-user-events")
}

// Load 读取 YAML 配置文件并叠加环境变量（如 LLM_API_KEY 覆盖 llm.api_key）。
// configPath 为空时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容常见的 Supabase 环境变量名
	_ = v.BindEnv("database.supabase.url", "DATABASE_SUPABASE_URL", "SUPABASE_URL")
	_ = v.BindEnv("database.supabase.key", "DATABASE_SUPABASE_KEY", "SUPABASE_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Redacted 返回隐藏了密钥的配置副本，用于打印。
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "******"
	}
	c.Database.Supabase.Key = mask(c.Database.Supabase.Key)
	c.Database.Postgres.DSN = mask(c.Database.Postgres.DSN)
	c.Database.MySQL.DSN = mask(c.Database.MySQL.DSN)
	c.Database.Redis.Password = mask(c.Database.Redis.Password)
	c.JWT.Secret = mask(c.JWT.Secret)
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.Speech.CredentialsJSON = mask(c.Speech.CredentialsJSON)
	c.MinIO.AccessKeyID = mask(c.MinIO.AccessKeyID)
	c.MinIO.SecretAccessKey = mask(c.MinIO.SecretAccessKey)
	c.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return c
}
