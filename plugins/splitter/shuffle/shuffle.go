package shuffle

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"labelsplit/pkg/contract"
)

// Options 为打乱划分器的可选配置。
type Options struct {
	// Stream: PCG 第二个种子分量；不同 Stream 在同一 Seed 下产生独立序列。
	Stream uint64 `json:"stream"`
}

// Splitter 对 ID 列表做一次带种子的 Fisher–Yates 打乱，前 n_test 个为测试集。
// 取整策略：n_test = ceil(test_size × N)，n_train = N − n_test；
// 显式 TestCount>0 时 n_test = TestCount。
type Splitter struct {
	stream uint64
}

// New 创建打乱划分器。
func New(opts *Options) *Splitter {
	s := &Splitter{}
	if opts != nil {
		s.stream = opts.Stream
	}
	return s
}

var _ contract.Splitter = (*Splitter)(nil)

// Split 不修改 ids；返回的 Train/Test 为打乱后的顺序。
func (s *Splitter) Split(ctx context.Context, ids []contract.ID, p contract.SplitParams) (contract.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return contract.Assignment{}, err
	}
	n := len(ids)
	nTest, err := TestCount(n, p)
	if err != nil {
		return contract.Assignment{}, err
	}
	perm := make([]contract.ID, n)
	copy(perm, ids)
	rng := rand.New(rand.NewPCG(p.Seed, s.stream))
	rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return contract.Assignment{
		Test:  perm[:nTest:nTest],
		Train: perm[nTest:],
	}, nil
}

// TestCount 按取整策略计算测试集大小，并校验两侧非空。
func TestCount(n int, p contract.SplitParams) (int, error) {
	if n == 0 {
		return 0, fmt.Errorf("%w: no ids to split", contract.ErrInvalidInput)
	}
	var nTest int
	switch {
	case p.TestCount > 0:
		nTest = p.TestCount
	case p.TestSize > 0 && p.TestSize < 1:
		nTest = int(math.Ceil(p.TestSize * float64(n)))
	default:
		return 0, fmt.Errorf("%w: test_size must be in (0,1), got %v", contract.ErrInvalidInput, p.TestSize)
	}
	if nTest >= n {
		return 0, fmt.Errorf("%w: with %d ids, test size %d leaves an empty train set", contract.ErrInvalidInput, n, nTest)
	}
	return nTest, nil
}
