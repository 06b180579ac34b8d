package repository

import (
	"context"
	"testing"
	"time"

	"redpacket/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func baseTime() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func createActivity(t *testing.T, db *gorm.DB, status string, start, end time.Time, amounts ...int64) *model.RedPacketActivity {
	t.Helper()
	ctx := context.Background()

	var total int64
	for _, a := range amounts {
		total += a
	}
	activity := &model.RedPacketActivity{
		Name:        "test",
		TotalAmount: total,
		TotalCount:  len(amounts),
		MinAmount:   1,
		Algorithm:   "EVENLY",
		StartTime:   start,
		EndTime:     end,
		Status:      status,
	}
	require.NoError(t, NewActivityRepository(db).Create(ctx, nil, activity))

	packets := make([]*model.RedPacket, 0, len(amounts))
	for i, a := range amounts {
		packets = append(packets, &model.RedPacket{
			ActivityID:  activity.ID,
			PacketIndex: i + 1,
			Amount:      a,
			Status:      model.PacketStatusAvailable,
		})
	}
	if len(packets) > 0 {
		require.NoError(t, NewPacketRepository(db).BatchCreate(ctx, nil, packets))
	}
	return activity
}
