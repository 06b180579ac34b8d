// Package allocator 把一笔总金额拆分成 N 个红包金额。
//
// 所有金额均为最小货币单位（分）。无论使用哪种算法，结果都满足：
// 数量等于 count，总和恰好等于 totalAmount，每个红包不小于 minAmount，
// 设置了 maxAmount 时每个红包不大于 maxAmount。
package allocator

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var ErrInvalidInput = errors.New("红包分配参数不合法")

// Algorithm 红包分配算法，活动创建时确定，按 String() 的名称持久化
type Algorithm uint8

const (
	// DoubleAverage 二倍均值法（默认）
	DoubleAverage Algorithm = iota
	// Random 随机分配，不做二倍均值限制
	Random
	// Evenly 平均分配，最后一个红包吸收余数
	Evenly
)

func (a Algorithm) String() string {
	switch a {
	case DoubleAverage:
		return "DOUBLE_AVERAGE"
	case Random:
		return "RANDOM"
	case Evenly:
		return "EVENLY"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint8(a))
	}
}

// Valid 是否为已知算法
func (a Algorithm) Valid() bool {
	return a <= Evenly
}

// ParseAlgorithm 解析外部传入的算法名称，空字符串表示默认算法
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "DOUBLE_AVERAGE":
		return DoubleAverage, nil
	case "RANDOM":
		return Random, nil
	case "EVENLY":
		return Evenly, nil
	default:
		return 0, fmt.Errorf("%w: 未知的分配算法 %q", ErrInvalidInput, name)
	}
}

// Params 分配参数。MinAmount 为 0 时按 1 分处理；MaxAmount 为 0 表示不限制
type Params struct {
	TotalAmount int64
	Count       int
	MinAmount   int64
	MaxAmount   int64
	Algorithm   Algorithm
}

var (
	globalRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	randMu     sync.Mutex
)

// Allocate 使用全局随机源分配
func Allocate(p Params) ([]int64, error) {
	randMu.Lock()
	defer randMu.Unlock()
	return AllocateWith(globalRand, p)
}

// AllocateWith 使用指定随机源分配，r 不能并发共享
func AllocateWith(r *rand.Rand, p Params) ([]int64, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	var amounts []int64
	switch p.Algorithm {
	case DoubleAverage:
		amounts = split(r, p, true)
	case Random:
		amounts = split(r, p, false)
		r.Shuffle(len(amounts), func(i, j int) {
			amounts[i], amounts[j] = amounts[j], amounts[i]
		})
	case Evenly:
		amounts = evenly(p)
	default:
		return nil, fmt.Errorf("%w: 未知的分配算法 %s", ErrInvalidInput, p.Algorithm)
	}

	if err := verify(amounts, p); err != nil {
		return nil, err
	}
	return amounts, nil
}

func (p *Params) normalize() error {
	if p.Count <= 0 {
		return fmt.Errorf("%w: 红包数量必须大于0", ErrInvalidInput)
	}
	if p.TotalAmount <= 0 {
		return fmt.Errorf("%w: 总金额必须大于0", ErrInvalidInput)
	}
	if p.MinAmount < 0 || p.MaxAmount < 0 {
		return fmt.Errorf("%w: 金额上下限不能为负数", ErrInvalidInput)
	}
	if p.MinAmount == 0 {
		p.MinAmount = 1
	}
	if p.MaxAmount > 0 && p.MinAmount > p.MaxAmount {
		return fmt.Errorf("%w: 最小金额 %d 大于最大金额 %d", ErrInvalidInput, p.MinAmount, p.MaxAmount)
	}
	count := int64(p.Count)
	if p.TotalAmount/count < p.MinAmount {
		return fmt.Errorf("%w: 总金额 %d 不足以给 %d 个红包各分配 %d", ErrInvalidInput, p.TotalAmount, p.Count, p.MinAmount)
	}
	if p.MaxAmount > 0 && (p.TotalAmount+count-1)/count > p.MaxAmount {
		return fmt.Errorf("%w: 总金额 %d 超过 %d 个红包的上限 %d", ErrInvalidInput, p.TotalAmount, p.Count, p.MaxAmount)
	}
	if !p.Algorithm.Valid() {
		return fmt.Errorf("%w: 未知的分配算法 %s", ErrInvalidInput, p.Algorithm)
	}
	return nil
}

// split 逐个抽取红包金额，剩余 k 个时当前红包的取值区间为
//
//	[max(min, R-max*(k-1)), min(2*R/k, R-min*(k-1), max)]
//
// 下界保证剩下的红包不会超过上限，上界保证剩下的红包至少能拿到最小金额。
// capped 为 false 时去掉二倍均值的限制（随机算法）。
func split(r *rand.Rand, p Params, capped bool) []int64 {
	amounts := make([]int64, 0, p.Count)
	remaining := p.TotalAmount

	for k := int64(p.Count); k > 1; k-- {
		lo := p.MinAmount
		hi := remaining - p.MinAmount*(k-1)
		if capped {
			if double := 2 * (remaining / k); double < hi {
				hi = double
			}
		}
		if p.MaxAmount > 0 {
			if hi > p.MaxAmount {
				hi = p.MaxAmount
			}
			if floor := remaining - p.MaxAmount*(k-1); floor > lo {
				lo = floor
			}
		}
		if hi < lo {
			hi = lo
		}

		amount := lo
		if hi > lo {
			amount = lo + r.Int63n(hi-lo+1)
		}
		amounts = append(amounts, amount)
		remaining -= amount
	}

	// 最后一个红包拿走剩余全部金额
	return append(amounts, remaining)
}

func evenly(p Params) []int64 {
	count := int64(p.Count)
	avg := p.TotalAmount / count
	amounts := make([]int64, p.Count)
	for i := range amounts {
		amounts[i] = avg
	}
	amounts[p.Count-1] = p.TotalAmount - avg*(count-1)
	return amounts
}

func verify(amounts []int64, p Params) error {
	if len(amounts) != p.Count {
		return fmt.Errorf("%w: 红包数量不匹配，期望 %d 实际 %d", ErrInvalidInput, p.Count, len(amounts))
	}
	var sum int64
	for _, a := range amounts {
		if a < p.MinAmount {
			return fmt.Errorf("%w: 存在小于最小金额 %d 的红包 %d", ErrInvalidInput, p.MinAmount, a)
		}
		if p.MaxAmount > 0 && a > p.MaxAmount {
			return fmt.Errorf("%w: 存在大于最大金额 %d 的红包 %d", ErrInvalidInput, p.MaxAmount, a)
		}
		sum += a
	}
	if sum != p.TotalAmount {
		return fmt.Errorf("%w: 红包总金额不匹配，期望 %d 实际 %d", ErrInvalidInput, p.TotalAmount, sum)
	}
	return nil
}
