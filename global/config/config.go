package config

import (
	"time"

	"SocialChat/data/database/mgo/mongoutil"
	"SocialChat/service/natsx"
	redis "SocialChat/service/storage/redis"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// AppConfig 进程级配置，全部来自环境变量（可用 .env 覆盖本地开发）
type AppConfig struct {
	Port           string   `envconfig:"PORT" default:"5000"`
	HealthAddr     string   `envconfig:"HEALTH_ADDR" default:":50051"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	NodeID         int64    `envconfig:"NODE_ID" default:"1"`
	JWTSecret      string   `envconfig:"JWT_SECRET" required:"true"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`

	Mongo  MongoConfig
	Redis  RedisConfig
	Nats   NatsConfig
	Socket SocketConfig
}

// 嵌套结构体不写 envconfig 名称，避免回落读取同名的裸环境变量（如 USERNAME）
type MongoConfig struct {
	URI         string `default:"mongodb://localhost:27017"`
	Database    string `default:"chat-app"`
	Username    string
	Password    string
	MaxPoolSize int `split_words:"true" default:"50"`
	MaxRetry    int `split_words:"true" default:"3"`
}

// RedisConfig Addr 为空时不启用在线状态镜像
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int           `default:"0"`
	PoolSize    int           `split_words:"true" default:"20"`
	PresenceTTL time.Duration `split_words:"true" default:"24h"`
	// 在线连接的 key 续期间隔；0 取 PresenceTTL/3
	PresenceRefresh time.Duration `split_words:"true"`
}

// NatsConfig Servers 为空时不导出事件
type NatsConfig struct {
	Servers   []string
	Name      string `default:"social-chat"`
	User      string
	Password  string
	JetStream bool `split_words:"true" default:"false"`
}

type SocketConfig struct {
	SendQueue       int           `split_words:"true" default:"256"`
	WriteTimeout    time.Duration `split_words:"true" default:"5s"`
	PersistTimeout  time.Duration `split_words:"true" default:"3s"`
	ReadLimit       int64         `split_words:"true" default:"65536"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
}

// Load 先读 .env（不存在则忽略），再解析环境变量
func Load(envFiles ...string) (*AppConfig, error) {
	_ = godotenv.Load(envFiles...)

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "load config from env")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.Socket.SendQueue <= 0 {
		return nil, errors.New("SOCKET_SEND_QUEUE must be positive")
	}
	return &cfg, nil
}

func (c *AppConfig) MongoUtil() *mongoutil.Config {
	return &mongoutil.Config{
		Uri:         c.Mongo.URI,
		Database:    c.Mongo.Database,
		Username:    c.Mongo.Username,
		Password:    c.Mongo.Password,
		MaxPoolSize: c.Mongo.MaxPoolSize,
		MaxRetry:    c.Mongo.MaxRetry,
	}
}

func (c *AppConfig) RedisEnabled() bool { return c.Redis.Addr != "" }

func (c *AppConfig) PresenceRefreshEvery() time.Duration {
	if c.Redis.PresenceRefresh > 0 {
		return c.Redis.PresenceRefresh
	}
	return c.Redis.PresenceTTL / 3
}

func (c *AppConfig) RedisClient() redis.Config {
	return redis.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		PoolSize: c.Redis.PoolSize,
	}
}

func (c *AppConfig) NatsEnabled() bool { return len(c.Nats.Servers) > 0 }

func (c *AppConfig) NatsClient() natsx.NatsxConfig {
	return natsx.NatsxConfig{
		Servers:  c.Nats.Servers,
		Name:     c.Nats.Name,
		User:     c.Nats.User,
		Password: c.Nats.Password,
	}
}

func (c *AppConfig) JWTSecretBytes() []byte { return []byte(c.JWTSecret) }
