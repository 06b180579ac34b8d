package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
	Business  BusinessConfig  `mapstructure:"business"`
	RedPacket RedPacketConfig `mapstructure:"red_packet"`
}

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	Mode   string `mapstructure:"mode"`
	NodeID int64  `mapstructure:"node_id"` // 雪花算法节点ID，多实例部署时必须不同
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	GrabResult       string `mapstructure:"grab_result"`
	SettlementResult string `mapstructure:"settlement_result"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BusinessConfig outbox 投递相关
type BusinessConfig struct {
	MaxRetryCount  int           `mapstructure:"max_retry_count"`
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
	OutboxBatch    int           `mapstructure:"outbox_batch"`
}

// RedPacketConfig 红包引擎参数
type RedPacketConfig struct {
	GrabMaxRetries     int             `mapstructure:"grab_max_retries"`
	PoolTTLGrace       time.Duration   `mapstructure:"pool_ttl_grace"`
	LifecycleInterval  time.Duration   `mapstructure:"lifecycle_interval"`
	LifecycleBatchSize int             `mapstructure:"lifecycle_batch_size"`
	SettlementInterval time.Duration   `mapstructure:"settlement_interval"`
	SettlementBatch    int             `mapstructure:"settlement_batch_size"`
	StatsLookback      time.Duration   `mapstructure:"stats_lookback"`
	EndWhenSoldOut     bool            `mapstructure:"end_when_sold_out"`
	JobLockTTL         time.Duration   `mapstructure:"job_lock_ttl"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Algorithm         string `mapstructure:"algorithm"`
	UserPerSecond     int    `mapstructure:"user_per_second"`
	ActivityPerSecond int    `mapstructure:"activity_per_second"`
	GlobalPerSecond   int    `mapstructure:"global_per_second"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.node_id", 1)

	// 环境变量只会覆盖 viper 已知的 key，所以连接参数都给默认值
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "red_packet")
	v.SetDefault("mysql.log_sql", false)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.max_open_conns", 100)
	v.SetDefault("mysql.max_idle_conns", 20)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 50)

	v.SetDefault("kafka.topic.grab_result", "red_packet_grab_result")
	v.SetDefault("kafka.topic.settlement_result", "red_packet_settlement_result")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.outbox_interval", 500*time.Millisecond)
	v.SetDefault("business.outbox_batch", 100)

	v.SetDefault("red_packet.grab_max_retries", 3)
	v.SetDefault("red_packet.pool_ttl_grace", time.Hour)
	v.SetDefault("red_packet.lifecycle_interval", time.Minute)
	v.SetDefault("red_packet.lifecycle_batch_size", 200)
	v.SetDefault("red_packet.settlement_interval", 5*time.Minute)
	v.SetDefault("red_packet.settlement_batch_size", 100)
	v.SetDefault("red_packet.stats_lookback", 24*time.Hour)
	v.SetDefault("red_packet.end_when_sold_out", false)
	v.SetDefault("red_packet.job_lock_ttl", 2*time.Minute)
	v.SetDefault("red_packet.rate_limit.enabled", true)
	v.SetDefault("red_packet.rate_limit.algorithm", "sliding_window")
	v.SetDefault("red_packet.rate_limit.user_per_second", 1)
	v.SetDefault("red_packet.rate_limit.activity_per_second", 5000)
	v.SetDefault("red_packet.rate_limit.global_per_second", 10000)
}

// LoadConfig 加载配置文件，环境变量 REDPACKET_* 覆盖文件中的值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REDPACKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return config, nil
}

// Default 返回只包含默认值的配置，测试和命令行工具使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	config := &Config{}
	_ = v.Unmarshal(config)
	return config
}
