package service

import (
	"context"

	"redpacket/internal/model"
)

// BatchResult 批量处理结果，单个活动失败不影响其他活动
type BatchResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// StartDue 开始所有到期的 PENDING 活动并预热
// 已过结束时间的活动只改状态不预热，随后的 EndDue 会把它结束
func (s *ActivityService) StartDue(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult

	now := s.now()
	activities, err := s.activityRepo.GetDueToStart(ctx, now, limit)
	if err != nil {
		return result, err
	}

	for _, activity := range activities {
		err := s.activityRepo.UpdateStatus(ctx, nil, activity.ID, model.ActivityStatusPending, model.ActivityStatusActive, nil)
		if err != nil {
			if isConflict(err) {
				result.Skipped++
				continue
			}
			result.Failed++
			activityLog(activity).WithError(err).Error("开始活动失败")
			continue
		}
		activity.Status = model.ActivityStatusActive
		result.Processed++

		if !activity.EndTime.After(now) {
			continue
		}
		if _, err := s.preload(ctx, activity); err != nil {
			result.Failed++
			activityLog(activity).WithError(err).Error("活动预热失败")
		}
	}

	return result, nil
}

// EndDue 结束所有到期的 ACTIVE 活动并清除缓存池
func (s *ActivityService) EndDue(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult

	activities, err := s.activityRepo.GetDueToEnd(ctx, s.now(), limit)
	if err != nil {
		return result, err
	}
	s.endEach(ctx, activities, &result)
	return result, nil
}

// EndSoldOut 提前结束已经抢完的活动
func (s *ActivityService) EndSoldOut(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult

	activities, err := s.activityRepo.GetSoldOut(ctx, limit)
	if err != nil {
		return result, err
	}
	s.endEach(ctx, activities, &result)
	return result, nil
}

func (s *ActivityService) endEach(ctx context.Context, activities []*model.RedPacketActivity, result *BatchResult) {
	for _, activity := range activities {
		if err := s.end(ctx, activity); err != nil {
			if isConflict(err) {
				result.Skipped++
				continue
			}
			result.Failed++
			activityLog(activity).WithError(err).Error("结束活动失败")
			continue
		}
		result.Processed++
	}
}

// HealPools 补齐丢失的缓存池（状态已更新但预热没有完成的活动）
func (s *ActivityService) HealPools(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult

	activities, err := s.activityRepo.GetActiveInWindow(ctx, s.now(), limit)
	if err != nil {
		return result, err
	}

	for _, activity := range activities {
		ready, err := s.pool.Ready(ctx, activity.ID)
		if err != nil {
			result.Failed++
			activityLog(activity).WithError(err).Error("检查红包池失败")
			continue
		}
		if ready {
			result.Skipped++
			continue
		}
		if _, err := s.preload(ctx, activity); err != nil {
			result.Failed++
			activityLog(activity).WithError(err).Error("补齐红包池失败")
			continue
		}
		result.Processed++
	}

	return result, nil
}
