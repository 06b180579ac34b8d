package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrPoolNotReady = errors.New("红包池尚未就绪")
	ErrPoolEmpty    = errors.New("红包已抢完")
)

const preloadChunk = 1000

// takeOneScript 原子弹出一个红包ID
// -2: 池未预热或已清除  -1: 池已空
var takeOneScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
	return -2
end
local id = redis.call('LPOP', KEYS[1])
if not id then
	return -1
end
return tonumber(id)
`)

// pushBackScript 只在池仍然存在时放回，避免清除后被重新建出来
var pushBackScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[2])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// reserveScript 记录用户已经参与，首次写入时带上过期时间
var reserveScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return added
`)

// PacketPool 每个活动一个可用红包ID列表
//
// key 布局：
//
//	red_packet:pool:{id}   list  可用红包ID
//	red_packet:info:{id}   hash  预热标记，存在即视为就绪
//	red_packet:users:{id}  set   已参与用户
//
// 缓存只是提示，最终以数据库的条件更新为准
type PacketPool struct {
	client *redis.Client
}

func NewPacketPool(client *redis.Client) *PacketPool {
	return &PacketPool{client: client}
}

func poolKey(activityID int64) string {
	return fmt.Sprintf("red_packet:pool:%d", activityID)
}

func infoKey(activityID int64) string {
	return fmt.Sprintf("red_packet:info:%d", activityID)
}

func usersKey(activityID int64) string {
	return fmt.Sprintf("red_packet:users:%d", activityID)
}

// Preload 用可用红包ID重建池，并写入就绪标记
func (p *PacketPool) Preload(ctx context.Context, activityID int64, packetIDs []int64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}

	pool := poolKey(activityID)
	info := infoKey(activityID)

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, pool)
		for start := 0; start < len(packetIDs); start += preloadChunk {
			end := start + preloadChunk
			if end > len(packetIDs) {
				end = len(packetIDs)
			}
			values := make([]interface{}, 0, end-start)
			for _, id := range packetIDs[start:end] {
				values = append(values, id)
			}
			pipe.RPush(ctx, pool, values...)
		}
		pipe.HSet(ctx, info,
			"available", len(packetIDs),
			"preloaded_at", time.Now().Unix(),
		)
		if len(packetIDs) > 0 {
			pipe.PExpire(ctx, pool, ttl)
		}
		pipe.PExpire(ctx, info, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("预热红包池失败: %w", err)
	}
	return nil
}

// Evict 清除池、就绪标记和参与用户
func (p *PacketPool) Evict(ctx context.Context, activityID int64) error {
	err := p.client.Del(ctx, poolKey(activityID), infoKey(activityID), usersKey(activityID)).Err()
	if err != nil {
		return fmt.Errorf("清除红包池失败: %w", err)
	}
	return nil
}

func (p *PacketPool) Ready(ctx context.Context, activityID int64) (bool, error) {
	n, err := p.client.Exists(ctx, infoKey(activityID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PacketPool) Size(ctx context.Context, activityID int64) (int64, error) {
	return p.client.LLen(ctx, poolKey(activityID)).Result()
}

// TakeOne 原子取出一个红包ID
func (p *PacketPool) TakeOne(ctx context.Context, activityID int64) (int64, error) {
	res, err := takeOneScript.Run(ctx, p.client, []string{poolKey(activityID), infoKey(activityID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("从红包池取红包失败: %w", err)
	}
	switch res {
	case -2:
		return 0, ErrPoolNotReady
	case -1:
		return 0, ErrPoolEmpty
	}
	return res, nil
}

// Remove 从池中移除指定红包ID
func (p *PacketPool) Remove(ctx context.Context, activityID, packetID int64) error {
	return p.client.LRem(ctx, poolKey(activityID), 0, strconv.FormatInt(packetID, 10)).Err()
}

// PushBack 领取失败后把红包放回池尾
func (p *PacketPool) PushBack(ctx context.Context, activityID, packetID int64) (bool, error) {
	res, err := pushBackScript.Run(ctx, p.client, []string{poolKey(activityID), infoKey(activityID)}, packetID).Int64()
	if err != nil {
		return false, fmt.Errorf("放回红包失败: %w", err)
	}
	return res == 1, nil
}

// Reserve 占位，返回 false 表示该用户已经参与过
func (p *PacketPool) Reserve(ctx context.Context, activityID, userID int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	res, err := reserveScript.Run(ctx, p.client, []string{usersKey(activityID)}, userID, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("用户占位失败: %w", err)
	}
	return res == 1, nil
}

func (p *PacketPool) Release(ctx context.Context, activityID, userID int64) error {
	return p.client.SRem(ctx, usersKey(activityID), userID).Err()
}
