package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ExposurePerUnit 没有实时价格时每单位持仓的估算价值
var ExposurePerUnit = decimal.NewFromInt(100)

// Position 交易员持仓（/api/positions 和 /topic/positions）
type Position struct {
	ID       int64  `json:"id,omitempty"`
	Trader   string `json:"trader"`
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// IsLong 是否多头
func (p Position) IsLong() bool { return p.Quantity > 0 }

// IsShort 是否空头
func (p Position) IsShort() bool { return p.Quantity < 0 }

// EstimatedExposure 估算敞口 = |数量| × 100
func (p Position) EstimatedExposure() decimal.Decimal {
	q := p.Quantity
	if q < 0 {
		q = -q
	}
	return decimal.NewFromInt(q).Mul(ExposurePerUnit)
}

// TraderExposure 单个交易员的持仓汇总
type TraderExposure struct {
	Trader        string
	Positions     []Position
	TotalExposure decimal.Decimal
	PositionCount int
}

// ExposureByTrader 按交易员分组汇总敞口，按敞口从大到小排序，相同时按交易员名排序
func ExposureByTrader(positions []Position) []TraderExposure {
	index := make(map[string]int)
	var out []TraderExposure
	for _, p := range positions {
		i, ok := index[p.Trader]
		if !ok {
			i = len(out)
			index[p.Trader] = i
			out = append(out, TraderExposure{Trader: p.Trader, TotalExposure: decimal.Zero})
		}
		out[i].Positions = append(out[i].Positions, p)
		out[i].TotalExposure = out[i].TotalExposure.Add(p.EstimatedExposure())
		out[i].PositionCount++
	}
	sort.SliceStable(out, func(a, b int) bool {
		if c := out[a].TotalExposure.Cmp(out[b].TotalExposure); c != 0 {
			return c > 0
		}
		return out[a].Trader < out[b].Trader
	})
	return out
}
