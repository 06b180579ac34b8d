package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"redpacket/internal/infrastructure/lock"
	"redpacket/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// ErrAlreadyRunning 同一任务上一轮还没结束，本轮跳过
var ErrAlreadyRunning = errors.New("任务正在执行中，本轮跳过")

// runGuard 保证同一任务不会重叠执行
// 进程内用互斥锁，client 不为空时再加一把 Redis 锁防止多实例同时执行
type runGuard struct {
	name   string
	mu     sync.Mutex
	client *redis.Client
	ttl    time.Duration
}

func newRunGuard(name string, client *redis.Client, ttl time.Duration) *runGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &runGuard{name: name, client: client, ttl: ttl}
}

func (g *runGuard) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.mu.TryLock() {
		return ErrAlreadyRunning
	}
	defer g.mu.Unlock()

	if g.client == nil {
		return fn(ctx)
	}

	jobLock := lock.NewJobLock(g.client, g.name, g.ttl)
	ok, err := jobLock.TryLock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyRunning
	}
	stopRenew := g.keepAlive(ctx, jobLock)
	defer func() {
		stopRenew()
		// 用独立的 context，任务被取消时也要释放锁
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := jobLock.Unlock(unlockCtx); err != nil {
			logger.WithJob(g.name).WithError(err).Warn("释放任务锁失败")
		}
	}()

	return fn(ctx)
}

// keepAlive 任务执行期间每隔 ttl/3 续期一次，单轮执行时间可以超过 ttl
// 续期失败说明锁已丢失，只记录日志，本轮继续执行
func (g *runGuard) keepAlive(ctx context.Context, jobLock *lock.DistributedLock) func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		tk := time.NewTicker(g.ttl / 3)
		defer tk.Stop()
		for {
			select {
			case <-done:
				return
			case <-tk.C:
				renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				err := jobLock.Refresh(renewCtx)
				cancel()
				if err != nil {
					logger.WithJob(g.name).WithError(err).Warn("任务锁续期失败")
					if errors.Is(err, lock.ErrLockNotHeld) {
						return
					}
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// ticker 所有定时任务共用的循环
type ticker struct {
	name     string
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newTicker(name string, interval time.Duration) *ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ticker{name: name, interval: interval, stopCh: make(chan struct{})}
}

func (t *ticker) loop(ctx context.Context, tick func(ctx context.Context)) {
	log := logger.WithJob(t.name)
	log.WithField("interval", t.interval.String()).Info("任务启动")

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("收到停止信号，任务退出")
			return
		case <-t.stopCh:
			log.Info("任务停止")
			return
		case <-tk.C:
			tick(ctx)
		}
	}
}

func (t *ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
