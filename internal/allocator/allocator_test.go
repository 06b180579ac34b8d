package allocator

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func sum(amounts []int64) int64 {
	var s int64
	for _, a := range amounts {
		s += a
	}
	return s
}

func requireContract(t *testing.T, p Params, amounts []int64) {
	t.Helper()
	require.Len(t, amounts, p.Count)
	require.Equal(t, p.TotalAmount, sum(amounts))
	min := p.MinAmount
	if min == 0 {
		min = 1
	}
	for _, a := range amounts {
		require.GreaterOrEqual(t, a, min)
		if p.MaxAmount > 0 {
			require.LessOrEqual(t, a, p.MaxAmount)
		}
	}
}

func TestAllocate_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	cases := []Params{
		{TotalAmount: 1000, Count: 10, MinAmount: 1},
		{TotalAmount: 100, Count: 100, MinAmount: 1},
		{TotalAmount: 99999, Count: 7, MinAmount: 50},
		{TotalAmount: 5000, Count: 20, MinAmount: 10, MaxAmount: 400},
		{TotalAmount: 1000, Count: 4, MinAmount: 200, MaxAmount: 300},
		{TotalAmount: 10, Count: 3},
	}

	for _, algo := range []Algorithm{DoubleAverage, Random, Evenly} {
		for _, base := range cases {
			p := base
			p.Algorithm = algo
			for i := 0; i < 200; i++ {
				amounts, err := AllocateWith(r, p)
				if algo == Evenly && err != nil {
					// 平均分配时余数可能把最后一个红包推过上限
					require.True(t, errors.Is(err, ErrInvalidInput))
					require.NotZero(t, p.MaxAmount)
					break
				}
				require.NoError(t, err, "algo=%s params=%+v", algo, p)
				requireContract(t, p, amounts)
			}
		}
	}
}

func TestAllocate_DoubleAverageCap(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	p := Params{TotalAmount: 10000, Count: 10, MinAmount: 1, Algorithm: DoubleAverage}
	for i := 0; i < 100; i++ {
		amounts, err := AllocateWith(r, p)
		require.NoError(t, err)

		remaining := p.TotalAmount
		for idx, a := range amounts[:len(amounts)-1] {
			left := int64(p.Count - idx)
			require.LessOrEqual(t, a, 2*(remaining/left))
			remaining -= a
		}
	}
}

func TestAllocate_EvenlyScenario(t *testing.T) {
	amounts, err := Allocate(Params{TotalAmount: 1000, Count: 3, MinAmount: 1, Algorithm: Evenly})
	require.NoError(t, err)
	require.Equal(t, []int64{333, 333, 334}, amounts)
}

func TestAllocate_SinglePacket(t *testing.T) {
	for _, algo := range []Algorithm{DoubleAverage, Random, Evenly} {
		amounts, err := Allocate(Params{TotalAmount: 888, Count: 1, MinAmount: 1, Algorithm: algo})
		require.NoError(t, err)
		require.Equal(t, []int64{888}, amounts)
	}
}

func TestAllocate_Rejects(t *testing.T) {
	cases := map[string]Params{
		"zero count":      {TotalAmount: 100, Count: 0},
		"negative count":  {TotalAmount: 100, Count: -1},
		"zero total":      {TotalAmount: 0, Count: 1},
		"negative total":  {TotalAmount: -5, Count: 1},
		"below minimum":   {TotalAmount: 99, Count: 10, MinAmount: 10},
		"min above max":   {TotalAmount: 100, Count: 2, MinAmount: 60, MaxAmount: 50},
		"above maximum":   {TotalAmount: 1001, Count: 10, MaxAmount: 100},
		"negative bound":  {TotalAmount: 100, Count: 2, MinAmount: -1},
		"unknown algo":    {TotalAmount: 100, Count: 2, Algorithm: Algorithm(9)},
		"evenly over max": {TotalAmount: 10, Count: 4, MaxAmount: 3, Algorithm: Evenly},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			amounts, err := Allocate(p)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidInput))
			require.Nil(t, amounts)
		})
	}
}

func TestAllocate_ExactFit(t *testing.T) {
	// 总金额恰好等于 count*min 时每个红包都只能是最小金额
	for _, algo := range []Algorithm{DoubleAverage, Random, Evenly} {
		amounts, err := Allocate(Params{TotalAmount: 50, Count: 5, MinAmount: 10, Algorithm: algo})
		require.NoError(t, err)
		require.Equal(t, []int64{10, 10, 10, 10, 10}, amounts)
	}
}

func TestParseAlgorithm(t *testing.T) {
	algo, err := ParseAlgorithm("")
	require.NoError(t, err)
	require.Equal(t, DoubleAverage, algo)

	algo, err = ParseAlgorithm("evenly")
	require.NoError(t, err)
	require.Equal(t, Evenly, algo)

	algo, err = ParseAlgorithm(" RANDOM ")
	require.NoError(t, err)
	require.Equal(t, Random, algo)

	_, err = ParseAlgorithm("fibonacci")
	require.ErrorIs(t, err, ErrInvalidInput)

	require.Equal(t, "DOUBLE_AVERAGE", DoubleAverage.String())
}
