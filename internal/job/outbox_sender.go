package job

import (
	"context"

	"redpacket/internal/config"
	"redpacket/internal/model"
	"redpacket/internal/repository"
	"redpacket/pkg/logger"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const outboxJobName = "outbox_sender"

// MessageSender 消息投递，mq.Producer 实现
type MessageSender interface {
	Send(topic, key, value string) error
}

// OutboxSender 把 outbox 表里的事件投递到 Kafka
// 失败的消息保留为 PENDING 重试，超过最大重试次数置为 FAILED
type OutboxSender struct {
	*ticker
	outboxRepo    *repository.OutboxRepository
	sender        MessageSender
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(db *gorm.DB, sender MessageSender, cfg *config.Config) *OutboxSender {
	batch := cfg.Business.OutboxBatch
	if batch <= 0 {
		batch = 100
	}
	return &OutboxSender{
		ticker:        newTicker(outboxJobName, cfg.Business.OutboxInterval),
		outboxRepo:    repository.NewOutboxRepository(db),
		sender:        sender,
		batchSize:     batch,
		maxRetryCount: cfg.Business.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.loop(ctx, func(ctx context.Context) {
		s.RunOnce(ctx)
	})
}

// RunOnce 投递一批待发送消息，返回成功和失败的条数
func (s *OutboxSender) RunOnce(ctx context.Context) (sent, failed int) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logger.WithJob(outboxJobName).WithError(err).Error("查询消息失败")
		recordRun(outboxJobName, err)
		return 0, 0
	}

	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		} else {
			failed++
		}
	}
	recordRun(outboxJobName, nil)
	return sent, failed
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	log := logger.WithJob(outboxJobName).WithFields(logrus.Fields{
		"id":         msg.ID,
		"topic":      msg.Topic,
		"key":        msg.MessageKey,
		"event_type": msg.EventType,
	})

	err := s.sender.Send(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			log.WithError(updateErr).Error("更新消息状态失败")
		} else {
			log.Debug("消息发送成功")
		}
		return true
	}

	giveUp := msg.RetryCount+1 >= s.maxRetryCount
	log.WithError(err).WithField("retry_count", msg.RetryCount+1).Warn("消息发送失败")

	if updateErr := s.outboxRepo.RecordFailure(ctx, msg.ID, err.Error(), giveUp); updateErr != nil {
		log.WithError(updateErr).Error("记录发送失败状态失败")
	} else if giveUp {
		log.Error("消息超过最大重试次数，标记为失败")
	}
	return false
}
