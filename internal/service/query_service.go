package service

import (
	"context"
	"time"

	"redpacket/internal/model"
	"redpacket/internal/repository"
	"redpacket/pkg/money"
)

// ActivityDetail 后台活动详情
type ActivityDetail struct {
	*model.RedPacketActivity
	TotalAmountYuan string                 `json:"total_amount_yuan"`
	RemainingCount  int                    `json:"remaining_count"`
	RemainingAmount int64                  `json:"remaining_amount"`
	PoolReady       bool                   `json:"pool_ready"`
	PoolSize        int64                  `json:"pool_size"`
	Luckiest        *model.RedPacketRecord `json:"luckiest,omitempty"`
}

// ActivityStats 活动统计，记录表为准，活动表冗余计数一并返回便于核对
type ActivityStats struct {
	ActivityID    int64 `json:"activity_id"`
	TotalCount    int   `json:"total_count"`
	TotalAmount   int64 `json:"total_amount"`
	GrabbedCount  int   `json:"grabbed_count"`
	GrabbedAmount int64 `json:"grabbed_amount"`

	Records  repository.RecordStats `json:"records"`
	Luckiest *model.RedPacketRecord `json:"luckiest,omitempty"`
}

// ActivityView 用户视角的活动
type ActivityView struct {
	ID               int64                  `json:"id"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	TotalAmount      int64                  `json:"total_amount"`
	TotalCount       int                    `json:"total_count"`
	RemainingCount   int                    `json:"remaining_count"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Status           string                 `json:"status"`
	HasGrabbed       bool                   `json:"has_grabbed"`
	CanGrab          bool                   `json:"can_grab"`
	CannotGrabReason string                 `json:"cannot_grab_reason,omitempty"`
	MyRecord         *model.RedPacketRecord `json:"my_record,omitempty"`
}

func (s *ActivityService) ListActivities(ctx context.Context, filter repository.ActivityFilter) ([]*model.RedPacketActivity, int64, error) {
	return s.activityRepo.List(ctx, filter)
}

func (s *ActivityService) GetActivityDetail(ctx context.Context, id int64) (*ActivityDetail, error) {
	activity, err := s.activityRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &ActivityDetail{
		RedPacketActivity: activity,
		TotalAmountYuan:   money.Yuan(activity.TotalAmount),
		RemainingCount:    activity.RemainingCount(),
		RemainingAmount:   activity.RemainingAmount(),
	}

	detail.PoolReady, err = s.pool.Ready(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.PoolReady {
		if detail.PoolSize, err = s.pool.Size(ctx, id); err != nil {
			return nil, err
		}
	}

	if detail.Luckiest, err = s.recordRepo.GetLuckiest(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *ActivityService) ListPackets(ctx context.Context, activityID int64, status string, page, pageSize int) ([]*model.RedPacket, int64, error) {
	if _, err := s.activityRepo.GetByID(ctx, activityID); err != nil {
		return nil, 0, err
	}
	return s.packetRepo.ListByActivity(ctx, activityID, status, page, pageSize)
}

func (s *ActivityService) ListRecords(ctx context.Context, activityID int64, page, pageSize int) ([]*model.RedPacketRecord, int64, error) {
	if _, err := s.activityRepo.GetByID(ctx, activityID); err != nil {
		return nil, 0, err
	}
	return s.recordRepo.ListByActivity(ctx, activityID, page, pageSize)
}

func (s *ActivityService) GetActivityStats(ctx context.Context, activityID int64) (*ActivityStats, error) {
	activity, err := s.activityRepo.GetByID(ctx, activityID)
	if err != nil {
		return nil, err
	}

	recordStats, err := s.recordRepo.ActivityStats(ctx, activityID)
	if err != nil {
		return nil, err
	}
	luckiest, err := s.recordRepo.GetLuckiest(ctx, activityID)
	if err != nil {
		return nil, err
	}

	return &ActivityStats{
		ActivityID:    activity.ID,
		TotalCount:    activity.TotalCount,
		TotalAmount:   activity.TotalAmount,
		GrabbedCount:  activity.GrabbedCount,
		GrabbedAmount: activity.GrabbedAmount,
		Records:       *recordStats,
		Luckiest:      luckiest,
	}, nil
}

// ListOngoingForUser 用户端活动列表，附带是否已抢和能否抢
func (s *ActivityService) ListOngoingForUser(ctx context.Context, userID int64, page, pageSize int) ([]*ActivityView, int64, error) {
	activities, total, err := s.activityRepo.ListOngoing(ctx, s.now(), page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, 0, len(activities))
	for _, a := range activities {
		ids = append(ids, a.ID)
	}
	grabbed, err := s.recordRepo.GrabbedActivityIDs(ctx, userID, ids)
	if err != nil {
		return nil, 0, err
	}

	now := s.now()
	views := make([]*ActivityView, 0, len(activities))
	for _, a := range activities {
		views = append(views, buildView(a, grabbed[a.ID], nil, now))
	}
	return views, total, nil
}

// GetActivityForUser 用户端活动详情
func (s *ActivityService) GetActivityForUser(ctx context.Context, id, userID int64) (*ActivityView, error) {
	activity, err := s.activityRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	record, err := s.recordRepo.GetByActivityAndUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return buildView(activity, record != nil, record, s.now()), nil
}

func buildView(a *model.RedPacketActivity, hasGrabbed bool, record *model.RedPacketRecord, now time.Time) *ActivityView {
	view := &ActivityView{
		ID:             a.ID,
		Name:           a.Name,
		Description:    a.Description,
		TotalAmount:    a.TotalAmount,
		TotalCount:     a.TotalCount,
		RemainingCount: a.RemainingCount(),
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		Status:         a.Status,
		HasGrabbed:     hasGrabbed,
		MyRecord:       record,
	}

	switch {
	case checkWindow(a, now) != "":
		view.CannotGrabReason = checkWindow(a, now).Message()
	case hasGrabbed:
		view.CannotGrabReason = GrabAlreadyGrabbed.Message()
	case a.RemainingCount() == 0:
		view.CannotGrabReason = GrabNoPacketLeft.Message()
	default:
		view.CanGrab = true
	}
	return view
}

func (s *ActivityService) ListUserRecords(ctx context.Context, userID int64, page, pageSize int) ([]*model.RedPacketRecord, int64, error) {
	return s.recordRepo.ListByUser(ctx, userID, page, pageSize)
}

func (s *ActivityService) GetUserStats(ctx context.Context, userID int64) (*repository.UserStats, error) {
	return s.recordRepo.UserStats(ctx, userID)
}
