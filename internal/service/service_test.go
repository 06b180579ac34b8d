package service

import (
	"context"
	"testing"
	"time"

	"redpacket/internal/config"
	"redpacket/internal/infrastructure/cache"
	"redpacket/internal/model"
	"redpacket/internal/repository"
	"redpacket/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db         *gorm.DB
	mr         *miniredis.Miniredis
	pool       *cache.PacketPool
	cfg        *config.Config
	clock      *testutil.Clock
	activities *ActivityService
	grab       *GrabService
	accounts   *AccountService
	settlement *SettlementService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t)
	mr, client := testutil.NewTestRedis(t)
	cfg := config.Default()
	clock := testutil.NewClock(time.Now().UTC().Truncate(time.Second))
	pool := cache.NewPacketPool(client)

	env := &testEnv{
		db:         db,
		mr:         mr,
		pool:       pool,
		cfg:        cfg,
		clock:      clock,
		activities: NewActivityService(db, pool, cfg),
		grab:       NewGrabService(db, pool, nil, cfg),
		accounts:   NewAccountService(db),
	}
	env.settlement = NewSettlementService(db, env.accounts, cfg)

	env.activities.SetClock(clock.Now)
	env.grab.SetClock(clock.Now)
	env.settlement.SetClock(clock.Now)
	return env
}

func (e *testEnv) createActivity(t *testing.T, total int64, count int, algo string, startImmediately bool) *model.RedPacketActivity {
	t.Helper()
	now := e.clock.Now()
	activity, err := e.activities.CreateActivity(context.Background(), &CreateActivityRequest{
		Name:             "新春红包",
		TotalAmount:      total,
		TotalCount:       count,
		MinAmount:        1,
		Algorithm:        algo,
		StartTime:        now.Add(time.Hour),
		EndTime:          now.Add(2 * time.Hour),
		StartImmediately: startImmediately,
	})
	require.NoError(t, err)
	return activity
}

func (e *testEnv) reload(t *testing.T, id int64) *model.RedPacketActivity {
	t.Helper()
	activity, err := repository.NewActivityRepository(e.db).GetByID(context.Background(), id)
	require.NoError(t, err)
	return activity
}

func (e *testEnv) packets(t *testing.T, activityID int64) []*model.RedPacket {
	t.Helper()
	packets, _, err := repository.NewPacketRepository(e.db).ListByActivity(context.Background(), activityID, "", 1, 200)
	require.NoError(t, err)
	return packets
}

type staticAdmission bool

func (a staticAdmission) AllowGrab(context.Context, int64, int64) bool {
	return bool(a)
}
