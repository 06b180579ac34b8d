package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"redpacket/internal/config"
	"redpacket/internal/infrastructure/cache"
	"redpacket/internal/infrastructure/mq"
	"redpacket/internal/model"
	"redpacket/internal/repository"
	"redpacket/internal/service"
	"redpacket/internal/testutil"

	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type jobEnv struct {
	db         *gorm.DB
	mr         *miniredis.Miniredis
	client     *redis.Client
	cfg        *config.Config
	clock      *testutil.Clock
	activities *service.ActivityService
	grab       *service.GrabService
	settlement *service.SettlementService
}

func newJobEnv(t *testing.T) *jobEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr, client := testutil.NewTestRedis(t)
	cfg := config.Default()
	clock := testutil.NewClock(time.Now().UTC().Truncate(time.Second))
	pool := cache.NewPacketPool(client)

	env := &jobEnv{
		db:         db,
		mr:         mr,
		client:     client,
		cfg:        cfg,
		clock:      clock,
		activities: service.NewActivityService(db, pool, cfg),
		grab:       service.NewGrabService(db, pool, nil, cfg),
		settlement: service.NewSettlementService(db, service.NewAccountService(db), cfg),
	}
	env.activities.SetClock(clock.Now)
	env.grab.SetClock(clock.Now)
	env.settlement.SetClock(clock.Now)
	return env
}

func (e *jobEnv) pendingActivity(t *testing.T, count int) *model.RedPacketActivity {
	t.Helper()
	now := e.clock.Now()
	activity, err := e.activities.CreateActivity(context.Background(), &service.CreateActivityRequest{
		Name:        "定时红包",
		TotalAmount: int64(count) * 100,
		TotalCount:  count,
		Algorithm:   "EVENLY",
		StartTime:   now.Add(time.Minute),
		EndTime:     now.Add(time.Hour),
	})
	require.NoError(t, err)
	return activity
}

func TestActivityLifecycleJob_RunOnce(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()
	env.cfg.RedPacket.EndWhenSoldOut = true

	activity := env.pendingActivity(t, 2)
	job := NewActivityLifecycleJob(env.activities, env.client, env.cfg)

	summary, err := job.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Started.Processed)

	env.clock.Advance(time.Minute)
	summary, err = job.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Started.Processed)
	// 刚预热完的池子不需要补齐
	require.Equal(t, 1, summary.Healed.Skipped)

	for user := int64(1); user <= 2; user++ {
		res, err := env.grab.Grab(ctx, activity.ID, user)
		require.NoError(t, err)
		require.True(t, res.Success())
	}

	summary, err = job.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.SoldOut.Processed)

	reloaded, err := repository.NewActivityRepository(env.db).GetByID(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, model.ActivityStatusEnded, reloaded.Status)

	// 锁已释放
	require.False(t, env.mr.Exists("red_packet:job:lock:"+lifecycleJobName))
}

func TestActivityLifecycleJob_EndsOverdue(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()

	activity := env.pendingActivity(t, 1)
	env.clock.Advance(2 * time.Hour)

	job := NewActivityLifecycleJob(env.activities, nil, env.cfg)
	summary, err := job.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Started.Processed)
	require.Equal(t, 1, summary.Ended.Processed)

	reloaded, err := repository.NewActivityRepository(env.db).GetByID(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, model.ActivityStatusEnded, reloaded.Status)
}

func TestActivityLifecycleJob_SkipsWhenLockHeld(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()

	env.pendingActivity(t, 1)
	env.clock.Advance(time.Minute)

	// 其他实例持有锁
	require.NoError(t, env.mr.Set("red_packet:job:lock:"+lifecycleJobName, "other-instance"))

	job := NewActivityLifecycleJob(env.activities, env.client, env.cfg)
	_, err := job.RunOnce(ctx)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	ongoing, _, err := env.activities.ListActivities(ctx, repository.ActivityFilter{Status: model.ActivityStatusActive})
	require.NoError(t, err)
	require.Empty(t, ongoing)

	got, err := env.mr.Get("red_packet:job:lock:" + lifecycleJobName)
	require.NoError(t, err)
	require.Equal(t, "other-instance", got)
}

func TestRunGuard_NoOverlapInProcess(t *testing.T) {
	guard := newRunGuard("test", nil, time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- guard.run(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	err := guard.run(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-done)

	// 上一轮结束后可以再次执行
	require.NoError(t, guard.run(context.Background(), func(context.Context) error { return nil }))
}

func TestRunGuard_RenewsLockWhileRunning(t *testing.T) {
	mr, client := testutil.NewTestRedis(t)
	guard := newRunGuard("renew", client, 300*time.Millisecond)
	key := "red_packet:job:lock:renew"

	err := guard.run(context.Background(), func(ctx context.Context) error {
		mr.FastForward(250 * time.Millisecond)
		require.Eventually(t, func() bool {
			return mr.TTL(key) > 200*time.Millisecond
		}, 2*time.Second, 10*time.Millisecond)

		// 累计超过 ttl，锁仍然在
		mr.FastForward(250 * time.Millisecond)
		require.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists(key))
}

func TestSettlementJob_RunOnce(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()

	activity := env.pendingActivity(t, 3)
	_, err := env.activities.StartActivity(ctx, activity.ID)
	require.NoError(t, err)

	for user := int64(1); user <= 3; user++ {
		res, err := env.grab.Grab(ctx, activity.ID, user)
		require.NoError(t, err)
		require.True(t, res.Success())
	}

	job := NewSettlementJob(env.settlement, env.client, env.cfg)
	summary, err := job.RunOnce(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Settle.Applied)

	summary, err = job.RunOnce(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Settle.Applied)

	summary, err = job.RunOnce(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, summary.Settle.Scanned)
}

func TestJobStartStop(t *testing.T) {
	env := newJobEnv(t)
	env.cfg.RedPacket.LifecycleInterval = 10 * time.Millisecond

	job := NewActivityLifecycleJob(env.activities, nil, env.cfg)
	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	job.Stop()
	job.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop")
	}
}

func seedOutbox(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	repo := repository.NewOutboxRepository(db)
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Create(context.Background(), nil, &model.OutboxMessage{
			MessageKey: "RP" + string(rune('A'+i)),
			EventType:  model.EventGrabSucceeded,
			Topic:      "red_packet_grab_result",
			Payload:    `{"amount":100}`,
			Status:     model.OutboxStatusPending,
		}))
	}
}

func TestOutboxSender_Delivers(t *testing.T) {
	db := testutil.NewTestDB(t)
	cfg := config.Default()
	ctx := context.Background()
	seedOutbox(t, db, 2)

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndSucceed()
	mock.ExpectSendMessageAndFail(errors.New("broker down"))
	producer := mq.NewProducer(mock)
	defer producer.Close()

	sender := NewOutboxSender(db, producer, cfg)
	sent, failed := sender.RunOnce(ctx)
	require.Equal(t, 1, sent)
	require.Equal(t, 1, failed)

	repo := repository.NewOutboxRepository(db)
	count, err := repo.CountByStatus(ctx, model.OutboxStatusSent)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].RetryCount)
	require.Equal(t, "broker down", pending[0].LastError)
}

func TestOutboxSender_GivesUpAfterMaxRetries(t *testing.T) {
	db := testutil.NewTestDB(t)
	cfg := config.Default()
	cfg.Business.MaxRetryCount = 2
	ctx := context.Background()
	seedOutbox(t, db, 1)

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(errors.New("broker down"))
	mock.ExpectSendMessageAndFail(errors.New("broker down"))
	producer := mq.NewProducer(mock)
	defer producer.Close()

	sender := NewOutboxSender(db, producer, cfg)
	_, failed := sender.RunOnce(ctx)
	require.Equal(t, 1, failed)
	_, failed = sender.RunOnce(ctx)
	require.Equal(t, 1, failed)

	// 已置为 FAILED，不再投递
	sent, failed := sender.RunOnce(ctx)
	require.Zero(t, sent)
	require.Zero(t, failed)

	repo := repository.NewOutboxRepository(db)
	count, err := repo.CountByStatus(ctx, model.OutboxStatusFailed)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
