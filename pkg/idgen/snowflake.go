package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 交易流水号要求：
//   1. 全局唯一 - 同时作为记账服务的幂等键
//   2. 趋势递增 - 便于数据库索引
//   3. 多实例部署时互不冲突 - 每个实例使用不同的 nodeID
//
// 结构（bwmarrin/snowflake 默认布局）：41位时间戳 - 10位节点ID - 12位序列号
//
// ============================================================================

// 2024-01-01 00:00:00 UTC
const epochMillis = int64(1704067200000)

var (
	node *snowflake.Node
	mu   sync.Mutex
)

// Init 初始化默认节点，nodeID 取值 0-1023
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	snowflake.Epoch = epochMillis
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("初始化雪花节点失败: %w", err)
	}
	node = n
	return nil
}

// NextID 生成下一个ID
func NextID() int64 {
	mu.Lock()
	n := node
	mu.Unlock()

	if n == nil {
		// 默认使用 nodeID = 1
		if err := Init(1); err != nil {
			panic(err)
		}
		mu.Lock()
		n = node
		mu.Unlock()
	}
	return n.Generate().Int64()
}

// GenerateTransactionNo 生成抢红包流水号
// 格式：RP + 年月日时分秒 + 雪花ID
// 例如：RP202401151430521746473452134400
func GenerateTransactionNo() string {
	return fmt.Sprintf("RP%s%d", time.Now().Format("20060102150405"), NextID())
}

