package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateTransactionNo_Unique(t *testing.T) {
	require.NoError(t, Init(3))

	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				no := GenerateTransactionNo()
				mu.Lock()
				seen[no] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}

func TestGenerateTransactionNo_Format(t *testing.T) {
	no := GenerateTransactionNo()
	require.True(t, strings.HasPrefix(no, "RP"))
	require.LessOrEqual(t, len(no), 64)
}

func TestInit_InvalidNode(t *testing.T) {
	require.Error(t, Init(4096))
	// 恢复一个合法节点，避免影响其他用例
	require.NoError(t, Init(1))
}
