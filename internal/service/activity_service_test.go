package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"redpacket/internal/model"
	"redpacket/internal/repository"

	"github.com/stretchr/testify/require"
)

func TestCreateActivity_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	valid := func() *CreateActivityRequest {
		return &CreateActivityRequest{
			Name:        "红包",
			TotalAmount: 1000,
			TotalCount:  10,
			MinAmount:   1,
			StartTime:   now.Add(time.Hour),
			EndTime:     now.Add(2 * time.Hour),
		}
	}

	cases := map[string]func(r *CreateActivityRequest){
		"empty name":        func(r *CreateActivityRequest) { r.Name = "" },
		"zero count":        func(r *CreateActivityRequest) { r.TotalCount = 0 },
		"zero total":        func(r *CreateActivityRequest) { r.TotalAmount = 0 },
		"end before start":  func(r *CreateActivityRequest) { r.EndTime = r.StartTime.Add(-time.Minute) },
		"end in past":       func(r *CreateActivityRequest) { r.StartTime = now.Add(-2 * time.Hour); r.EndTime = now.Add(-time.Hour) },
		"below minimum":     func(r *CreateActivityRequest) { r.MinAmount = 200 },
		"min above max":     func(r *CreateActivityRequest) { r.MinAmount = 50; r.MaxAmount = 40 },
		"unknown algorithm": func(r *CreateActivityRequest) { r.Algorithm = "lottery" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid()
			mutate(req)
			_, err := env.activities.CreateActivity(ctx, req)
			require.Error(t, err)
			require.True(t, IsValidationError(err), "got %v", err)
		})
	}

	// 校验失败不会留下任何数据
	_, total, err := env.activities.ListActivities(ctx, repository.ActivityFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestCreateActivity_EvenlySplit(t *testing.T) {
	env := newTestEnv(t)

	activity := env.createActivity(t, 1000, 3, "EVENLY", false)
	require.Equal(t, model.ActivityStatusPending, activity.Status)
	require.Equal(t, "EVENLY", activity.Algorithm)

	packets := env.packets(t, activity.ID)
	require.Len(t, packets, 3)
	require.Equal(t, int64(333), packets[0].Amount)
	require.Equal(t, int64(333), packets[1].Amount)
	require.Equal(t, int64(334), packets[2].Amount)
	for i, p := range packets {
		require.Equal(t, i+1, p.PacketIndex)
		require.Equal(t, model.PacketStatusAvailable, p.Status)
	}

	// 未开始的活动不预热
	ready, err := env.pool.Ready(context.Background(), activity.ID)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestCreateActivity_SinglePacketEveryAlgorithm(t *testing.T) {
	env := newTestEnv(t)

	for _, algo := range []string{"DOUBLE_AVERAGE", "RANDOM", "EVENLY"} {
		activity := env.createActivity(t, 888, 1, algo, false)
		packets := env.packets(t, activity.ID)
		require.Len(t, packets, 1)
		require.Equal(t, int64(888), packets[0].Amount)
	}
}

func TestCreateActivity_DefaultAlgorithmSumsExactly(t *testing.T) {
	env := newTestEnv(t)

	activity := env.createActivity(t, 99999, 37, "", false)
	require.Equal(t, "DOUBLE_AVERAGE", activity.Algorithm)

	count, amount, err := repository.NewPacketRepository(env.db).SumByActivity(context.Background(), activity.ID)
	require.NoError(t, err)
	require.Equal(t, int64(37), count)
	require.Equal(t, int64(99999), amount)
}

func TestCreateActivity_StartImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	activity := env.createActivity(t, 100, 4, "EVENLY", true)
	require.Equal(t, model.ActivityStatusActive, activity.Status)
	require.True(t, activity.StartTime.Equal(env.clock.Now()))

	size, err := env.pool.Size(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), size)

	res, err := env.grab.Grab(ctx, activity.ID, 1)
	require.NoError(t, err)
	require.Equal(t, GrabSuccess, res.Code)
}

func TestActivityTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.createActivity(t, 100, 2, "", false)

	_, err := env.activities.EndActivity(ctx, pending.ID)
	require.ErrorIs(t, err, ErrStatusConflict)

	started, err := env.activities.StartActivity(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, model.ActivityStatusActive, started.Status)
	require.True(t, env.reload(t, pending.ID).StartTime.Equal(env.clock.Now()))

	ready, err := env.pool.Ready(ctx, pending.ID)
	require.NoError(t, err)
	require.True(t, ready)

	_, err = env.activities.StartActivity(ctx, pending.ID)
	require.ErrorIs(t, err, ErrStatusConflict)

	ended, err := env.activities.EndActivity(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, model.ActivityStatusEnded, ended.Status)

	ready, err = env.pool.Ready(ctx, pending.ID)
	require.NoError(t, err)
	require.False(t, ready)

	// 终态不能再取消
	_, err = env.activities.CancelActivity(ctx, pending.ID)
	require.ErrorIs(t, err, ErrStatusConflict)

	res, err := env.grab.Grab(ctx, pending.ID, 1)
	require.NoError(t, err)
	require.Equal(t, GrabEnded, res.Code)

	_, err = env.activities.StartActivity(ctx, 9999)
	require.ErrorIs(t, err, ErrActivityNotFound)
}

func TestCancelActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.createActivity(t, 100, 2, "", false)
	cancelled, err := env.activities.CancelActivity(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, model.ActivityStatusCancelled, cancelled.Status)

	active := env.createActivity(t, 100, 2, "", true)
	_, err = env.activities.CancelActivity(ctx, active.ID)
	require.NoError(t, err)

	ready, err := env.pool.Ready(ctx, active.ID)
	require.NoError(t, err)
	require.False(t, ready)

	res, err := env.grab.Grab(ctx, active.ID, 1)
	require.NoError(t, err)
	require.Equal(t, GrabCancelled, res.Code)

	_, err = env.activities.Preload(ctx, active.ID)
	require.ErrorIs(t, err, ErrStatusConflict)
}

func TestLifecycle_StartAndEndDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	activity := env.createActivity(t, 300, 3, "EVENLY", false)

	res, err := env.grab.Grab(ctx, activity.ID, 1)
	require.NoError(t, err)
	require.Equal(t, GrabNotStarted, res.Code)

	// 到达开始时间
	env.clock.Advance(time.Hour)
	started, err := env.activities.StartDue(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, BatchResult{Processed: 1}, started)
	require.Equal(t, model.ActivityStatusActive, env.reload(t, activity.ID).Status)

	res, err = env.grab.Grab(ctx, activity.ID, 1)
	require.NoError(t, err)
	require.Equal(t, GrabSuccess, res.Code)
	require.Equal(t, int64(100), res.Amount)
	require.Equal(t, 2, res.RemainingCount)
	require.Equal(t, int64(200), res.RemainingAmount)

	// 重复执行不会重复处理
	started, err = env.activities.StartDue(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, started.Processed)

	// 到达结束时间
	env.clock.Advance(time.Hour)
	ended, err := env.activities.EndDue(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, BatchResult{Processed: 1}, ended)
	require.Equal(t, model.ActivityStatusEnded, env.reload(t, activity.ID).Status)

	ready, err := env.pool.Ready(ctx, activity.ID)
	require.NoError(t, err)
	require.False(t, ready)

	res, err = env.grab.Grab(ctx, activity.ID, 2)
	require.NoError(t, err)
	require.Equal(t, GrabEnded, res.Code)
}

func TestLifecycle_PendingPastEndIsEndedInOneTick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	activity := env.createActivity(t, 300, 3, "EVENLY", false)
	env.clock.Advance(3 * time.Hour)

	started, err := env.activities.StartDue(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, started.Processed)

	// 已经过了结束时间，不预热
	ready, err := env.pool.Ready(ctx, activity.ID)
	require.NoError(t, err)
	require.False(t, ready)

	ended, err := env.activities.EndDue(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, ended.Processed)
	require.Equal(t, model.ActivityStatusEnded, env.reload(t, activity.ID).Status)
}

func TestLifecycle_HealPoolsAndSoldOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	activity := env.createActivity(t, 200, 2, "EVENLY", true)

	// 模拟状态已更新但缓存丢失
	require.NoError(t, env.pool.Evict(ctx, activity.ID))

	res, err := env.grab.Grab(ctx, activity.ID, 1)
	require.NoError(t, err)
	require.Equal(t, GrabSystemBusy, res.Code)

	healed, err := env.activities.HealPools(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, BatchResult{Processed: 1}, healed)

	healed, err = env.activities.HealPools(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, BatchResult{Skipped: 1}, healed)

	for user := int64(1); user <= 2; user++ {
		res, err := env.grab.Grab(ctx, activity.ID, user)
		require.NoError(t, err)
		require.Equal(t, GrabSuccess, res.Code)
	}

	soldOut, err := env.activities.EndSoldOut(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, soldOut.Processed)

	ended := env.reload(t, activity.ID)
	require.Equal(t, model.ActivityStatusEnded, ended.Status)
	require.True(t, ended.EndTime.Equal(env.clock.Now()))
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	activity := env.createActivity(t, 600, 3, "RANDOM", true)
	env.createActivity(t, 100, 1, "", false)

	for user := int64(1); user <= 2; user++ {
		_, err := env.grab.Grab(ctx, activity.ID, user)
		require.NoError(t, err)
	}

	detail, err := env.activities.GetActivityDetail(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, 1, detail.RemainingCount)
	require.True(t, detail.PoolReady)
	require.Equal(t, int64(1), detail.PoolSize)
	require.Equal(t, "6.00", detail.TotalAmountYuan)
	require.NotNil(t, detail.Luckiest)

	stats, err := env.activities.GetActivityStats(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Records.Count)
	require.Equal(t, stats.GrabbedAmount, stats.Records.TotalAmount)
	require.Equal(t, detail.Luckiest.Amount, stats.Records.MaxAmount)

	packets, total, err := env.activities.ListPackets(ctx, activity.ID, model.PacketStatusClaimed, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, packets, 2)

	records, total, err := env.activities.ListRecords(ctx, activity.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, records, 2)

	views, total, err := env.activities.ListOngoingForUser(ctx, 1, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.True(t, views[0].HasGrabbed)
	require.False(t, views[0].CanGrab)
	require.Equal(t, GrabAlreadyGrabbed.Message(), views[0].CannotGrabReason)

	view, err := env.activities.GetActivityForUser(ctx, activity.ID, 3)
	require.NoError(t, err)
	require.True(t, view.CanGrab)
	require.Nil(t, view.MyRecord)

	view, err = env.activities.GetActivityForUser(ctx, activity.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, view.MyRecord)

	userStats, err := env.activities.GetUserStats(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), userStats.Count)
	require.Equal(t, int64(1), userStats.PendingCount)

	_, _, err = env.activities.ListRecords(ctx, 9999, 1, 10)
	require.True(t, errors.Is(err, ErrActivityNotFound))
}
