package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"redpacket/internal/config"
	"redpacket/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type Algorithm string

const (
	FixedWindow   Algorithm = "fixed_window"
	SlidingWindow Algorithm = "sliding_window"
	TokenBucket   Algorithm = "token_bucket"
)

func ParseAlgorithm(name string) Algorithm {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case FixedWindow:
		return FixedWindow
	case TokenBucket:
		return TokenBucket
	default:
		return SlidingWindow
	}
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

// ARGV: limit, window(ms), now(ms), member
var slidingWindowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
if redis.call('ZCARD', KEYS[1]) >= limit then
	return 0
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return 1
`)

// ARGV: capacity, window(ms), now(ms)
// 令牌按 capacity/window 匀速补充，tokens 保存为小数避免取整丢失
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(bucket[1]) or capacity
local ts = tonumber(bucket[2]) or now
local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * capacity / window)
local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], window * 2)
return allowed
`)

// Limiter Redis 实现的准入控制
// Redis 出错时不会拒绝请求，而是退化为进程内的固定窗口计数
type Limiter struct {
	client   *redis.Client
	now      func() time.Time
	fallback *localLimiter
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{
		client:   client,
		now:      time.Now,
		fallback: newLocalLimiter(),
	}
}

// AttemptAcquire 尝试获取一次许可
func (l *Limiter) AttemptAcquire(ctx context.Context, key string, algo Algorithm, window time.Duration, maxRequests int) bool {
	if maxRequests <= 0 {
		return true
	}
	if window <= 0 {
		window = time.Second
	}

	now := l.now()
	redisKey := fmt.Sprintf("red_packet:ratelimit:%s:%s", algo, key)

	var (
		res int64
		err error
	)
	switch algo {
	case FixedWindow:
		res, err = fixedWindowScript.Run(ctx, l.client, []string{redisKey}, maxRequests, window.Milliseconds()).Int64()
	case TokenBucket:
		res, err = tokenBucketScript.Run(ctx, l.client, []string{redisKey}, maxRequests, window.Milliseconds(), now.UnixMilli()).Int64()
	default:
		res, err = slidingWindowScript.Run(ctx, l.client, []string{redisKey},
			maxRequests, window.Milliseconds(), now.UnixMilli(), uuid.NewString()).Int64()
	}

	if err != nil {
		logger.L().WithError(err).WithField("key", key).Warn("限流脚本执行失败，使用本地限流")
		return l.fallback.allow(key, window, maxRequests, now)
	}
	return res == 1
}

// localSweepInterval 过期窗口的清理间隔，清理不放在每次新开窗口时做
const localSweepInterval = 10 * time.Second

type localWindow struct {
	start  time.Time
	window time.Duration
	count  int
}

type localLimiter struct {
	mu        sync.Mutex
	windows   map[string]*localWindow
	lastSweep time.Time
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{windows: make(map[string]*localWindow)}
}

func (l *localLimiter) allow(key string, window time.Duration, limit int, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= window {
		l.windows[key] = &localWindow{start: now, window: window, count: 1}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// sweep 防止 map 无限增长，调用方持有锁
func (l *localLimiter) sweep(now time.Time) {
	if l.lastSweep.IsZero() {
		l.lastSweep = now
		return
	}
	if now.Sub(l.lastSweep) < localSweepInterval {
		return
	}
	l.lastSweep = now
	for k, v := range l.windows {
		if now.Sub(v.start) >= v.window {
			delete(l.windows, k)
		}
	}
}

// GrabLimiter 抢红包的三级限流：全局、活动、用户
type GrabLimiter struct {
	limiter *Limiter
	cfg     config.RateLimitConfig
	algo    Algorithm
}

func NewGrabLimiter(limiter *Limiter, cfg config.RateLimitConfig) *GrabLimiter {
	return &GrabLimiter{
		limiter: limiter,
		cfg:     cfg,
		algo:    ParseAlgorithm(cfg.Algorithm),
	}
}

// AllowGrab 任一级被拒绝即返回 false
func (g *GrabLimiter) AllowGrab(ctx context.Context, activityID, userID int64) bool {
	if !g.cfg.Enabled {
		return true
	}
	if !g.limiter.AttemptAcquire(ctx, "grab:global", g.algo, time.Second, g.cfg.GlobalPerSecond) {
		return false
	}
	if !g.limiter.AttemptAcquire(ctx, fmt.Sprintf("grab:activity:%d", activityID), g.algo, time.Second, g.cfg.ActivityPerSecond) {
		return false
	}
	return g.limiter.AttemptAcquire(ctx, fmt.Sprintf("grab:user:%d:%d", activityID, userID), g.algo, time.Second, g.cfg.UserPerSecond)
}
