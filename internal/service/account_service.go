package service

import (
	"context"
	"errors"
	"fmt"

	"redpacket/internal/model"
	"redpacket/internal/repository"
	"redpacket/pkg/logger"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreditStatus 入账结果
type CreditStatus string

const (
	CreditApplied        CreditStatus = "APPLIED"
	CreditAlreadyApplied CreditStatus = "ALREADY_APPLIED"
)

var ErrIdempotencyMismatch = errors.New("幂等键已被其他入账使用")

// Crediter 账户入账，必须按 idempotencyKey 幂等
type Crediter interface {
	Credit(ctx context.Context, userID, amount int64, idempotencyKey string) (CreditStatus, error)
}

type AccountService struct {
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	db              *gorm.DB
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		db:              db,
	}
}

func (s *AccountService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

// Credit 红包入账
//
// 幂等键作为流水表的 transaction_no 写入，唯一索引兜底：
// 并发重复入账时后到的事务会因唯一键冲突整体回滚，余额不会重复增加
func (s *AccountService) Credit(ctx context.Context, userID, amount int64, idempotencyKey string) (CreditStatus, error) {
	if amount <= 0 {
		return "", errors.New("入账金额必须大于0")
	}
	if idempotencyKey == "" {
		return "", errors.New("幂等键不能为空")
	}

	existing, err := s.transactionRepo.GetByTransactionNo(ctx, idempotencyKey)
	if err != nil {
		return "", fmt.Errorf("查询流水失败: %w", err)
	}
	if existing != nil {
		return s.alreadyApplied(existing, userID, amount)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Ensure(ctx, tx, userID); err != nil {
			return fmt.Errorf("创建账户失败: %w", err)
		}
		if err := s.accountRepo.Increase(ctx, tx, userID, amount); err != nil {
			return fmt.Errorf("增加余额失败: %w", err)
		}
		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("查询账户失败: %w", err)
		}

		trans := &model.AccountTransaction{
			TransactionNo: idempotencyKey,
			UserID:        userID,
			BizNo:         idempotencyKey,
			Amount:        amount,
			Type:          model.TransactionTypeRedPacket,
			BalanceBefore: account.Balance - amount,
			BalanceAfter:  account.Balance,
			Remark:        "红包入账",
		}
		return s.transactionRepo.Create(ctx, tx, trans)
	})

	if err != nil {
		if repository.IsDuplicateKey(err) {
			existing, getErr := s.transactionRepo.GetByTransactionNo(ctx, idempotencyKey)
			if getErr != nil {
				return "", fmt.Errorf("查询流水失败: %w", getErr)
			}
			if existing != nil {
				return s.alreadyApplied(existing, userID, amount)
			}
		}
		return "", err
	}

	logger.L().WithUserID(userID).WithFields(logrus.Fields{
		"amount":         amount,
		"transaction_no": idempotencyKey,
	}).Info("红包入账成功")

	return CreditApplied, nil
}

func (s *AccountService) alreadyApplied(trans *model.AccountTransaction, userID, amount int64) (CreditStatus, error) {
	if trans.UserID != userID || trans.Amount != amount {
		return "", fmt.Errorf("%w: transaction_no=%s", ErrIdempotencyMismatch, trans.TransactionNo)
	}
	return CreditAlreadyApplied, nil
}
