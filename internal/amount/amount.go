// Package amount 生成订单支付金额
// 所有订单共用同一收款地址，依靠 6 位小数中的低 4 位区分并发支付
package amount

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	// Places 代币精度（USDT-TRC20 为 6 位小数）
	Places = 6
	// BasePlaces 商品价格精度
	BasePlaces = 2

	MinSuffix = 1
	MaxSuffix = 9999
)

var (
	ErrInvalidBase   = errors.New("base amount must be positive with at most 2 fractional digits")
	ErrInvalidSuffix = fmt.Errorf("suffix must be within [%d, %d]", MinSuffix, MaxSuffix)

	unit = decimal.New(1, -Places)
)

// Generate 返回 base + suffix/1_000_000，固定 6 位小数
func Generate(base decimal.Decimal, suffix int) (decimal.Decimal, error) {
	if !base.IsPositive() || !base.Equal(base.Truncate(BasePlaces)) {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrInvalidBase, base.String())
	}
	if suffix < MinSuffix || suffix > MaxSuffix {
		return decimal.Decimal{}, fmt.Errorf("%w: %d", ErrInvalidSuffix, suffix)
	}
	return base.Add(unit.Mul(decimal.NewFromInt(int64(suffix)))).Round(Places), nil
}

// Format 按 6 位小数格式化金额，即传输使用的格式
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// Suffix 从生成的金额中提取 4 位识别尾数
func Suffix(d decimal.Decimal) int {
	frac := d.Sub(d.Truncate(BasePlaces)).Shift(Places)
	return int(frac.IntPart())
}

// SuffixSource 尾数来源，无需避免重复，调用方在唯一约束冲突时重试
type SuffixSource interface {
	Next() int
}

// RandomSource 在 [1, 9999] 中均匀随机取值
type RandomSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource 创建随机尾数来源，r 为 nil 时使用运行时种子
func NewRandomSource(r *rand.Rand) *RandomSource {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomSource{rng: r}
}

func (s *RandomSource) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MinSuffix + s.rng.IntN(MaxSuffix)
}

