package config

import "time"

type AppConfig struct {
	NodeID   int64  `mapstructure:"nodeId" yaml:"nodeId"`
	NodeName string `mapstructure:"nodeName" yaml:"nodeName"`
	HTTPAddr string `mapstructure:"httpAddr" yaml:"httpAddr"`
	GRPCAddr string `mapstructure:"grpcAddr" yaml:"grpcAddr"`
	LogLevel string `mapstructure:"logLevel" yaml:"logLevel"`

	JWTSecret      string        `mapstructure:"jwtSecret" yaml:"jwtSecret"`
	TokenTTL       time.Duration `mapstructure:"tokenTTL" yaml:"tokenTTL"`
	AllowedOrigins []string      `mapstructure:"allowedOrigins" yaml:"allowedOrigins"`

	StoreTimeout time.Duration `mapstructure:"storeTimeout" yaml:"storeTimeout"`
	EmptyGrace   time.Duration `mapstructure:"emptyGrace" yaml:"emptyGrace"`

	SendQueue       int           `mapstructure:"sendQueue" yaml:"sendQueue"`
	WriteWait       time.Duration `mapstructure:"writeWait" yaml:"writeWait"`
	PingInterval    time.Duration `mapstructure:"pingInterval" yaml:"pingInterval"`
	PongWait        time.Duration `mapstructure:"pongWait" yaml:"pongWait"`
	MaxMessageBytes int64         `mapstructure:"maxMessageBytes" yaml:"maxMessageBytes"`
	MaxPerUser      int           `mapstructure:"maxPerUser" yaml:"maxPerUser"`
	UnauthTTL       time.Duration `mapstructure:"unauthTTL" yaml:"unauthTTL"`
	AuthTTL         time.Duration `mapstructure:"authTTL" yaml:"authTTL"`

	NotifyWorkers int `mapstructure:"notifyWorkers" yaml:"notifyWorkers"`
	PushQueue     int `mapstructure:"pushQueue" yaml:"pushQueue"`

	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
	Mongo     MongoConfig     `mapstructure:"mongo" yaml:"mongo"`
	Nats      NatsConfig      `mapstructure:"nats" yaml:"nats"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Nacos     NacosConfig     `mapstructure:"nacos" yaml:"nacos"`
}

// ReconnectConfig is handed to client transports built by this process.
type ReconnectConfig struct {
	Base        time.Duration `mapstructure:"base" yaml:"base"`
	Max         time.Duration `mapstructure:"max" yaml:"max"`
	MaxAttempts int           `mapstructure:"maxAttempts" yaml:"maxAttempts"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	Password    string        `mapstructure:"password" yaml:"password"`
	DB          int           `mapstructure:"db" yaml:"db"`
	OnlineTTL   time.Duration `mapstructure:"onlineTTL" yaml:"onlineTTL"`
	RecentLimit int64         `mapstructure:"recentLimit" yaml:"recentLimit"`
}

type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

type MongoConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	URI         string `mapstructure:"uri" yaml:"uri"`
	Database    string `mapstructure:"database" yaml:"database"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	MaxPoolSize int    `mapstructure:"maxPoolSize" yaml:"maxPoolSize"`
	MaxRetry    int    `mapstructure:"maxRetry" yaml:"maxRetry"`
}

type NatsConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Servers []string `mapstructure:"servers" yaml:"servers"`
	Subject string   `mapstructure:"subject" yaml:"subject"`
	Queue   string   `mapstructure:"queue" yaml:"queue"`
	Mode    string   `mapstructure:"mode" yaml:"mode"` // core or jetstream
	Stream  string   `mapstructure:"stream" yaml:"stream"`
	Durable string   `mapstructure:"durable" yaml:"durable"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type NacosConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Host      string `mapstructure:"host" yaml:"host"`
	Port      uint64 `mapstructure:"port" yaml:"port"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	DataID    string `mapstructure:"dataId" yaml:"dataId"`
	Group     string `mapstructure:"group" yaml:"group"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
}
