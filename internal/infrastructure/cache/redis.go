package cache

import (
	"context"
	"fmt"
	"time"

	"redpacket/internal/config"
	"redpacket/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient 只创建客户端，不检查连通性
// 抢红包路径上的超时要短，慢请求宁可失败也不要堆积
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.PoolSize / 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

// InitRedis 创建客户端并 Ping，失败时关闭客户端
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	logger.L().WithField("addr", client.Options().Addr).Info("Redis 连接成功")
	return client, nil
}
