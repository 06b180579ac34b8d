package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"redpacket/internal/infrastructure/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq int64

// NewTestDB 每个测试一个独立的内存库
// 只保留一个连接，事务内外的语句会串行执行
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("file:redpacket_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(name), database.GormConfig(false))
	if err != nil {
		t.Fatalf("Failed to create in memory db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate db: %v", err)
	}

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// NewTestRedis 启动 miniredis 并返回连接到它的客户端
func NewTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// Clock 测试用的可控时钟
type Clock struct {
	now atomic.Value
}

func NewClock(now time.Time) *Clock {
	c := &Clock{}
	c.Set(now)
	return c
}

func (c *Clock) Now() time.Time {
	return c.now.Load().(time.Time)
}

func (c *Clock) Set(now time.Time) {
	c.now.Store(now)
}

func (c *Clock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}
