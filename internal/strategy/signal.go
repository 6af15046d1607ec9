package strategy

import (
	"math"

	"quantsim/internal/indicator"
)

// ErrMissingColumns 由缺少必要指标列的策略返回。
var ErrMissingColumns = indicator.ErrMissingColumns

// Direction 是信号方向。
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Signal 是某策略在某个交易日对某标的给出的方向性判断。
// Strength 取值 [-1, 1]，正值看多，负值看空。
type Signal struct {
	Direction Direction      `json:"direction"`
	Strength  float64        `json:"strength"`
	Symbol    string         `json:"symbol"`
	Strategy  string         `json:"strategy"`
	Reason    string         `json:"reason"`
	Date      string         `json:"date"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewSignal 构造信号，强度被截断到 [-1, 1]，日期同时写入 Metadata["date"]。
func NewSignal(dir Direction, strength float64, symbol, strategy, date, reason string, meta map[string]any) Signal {
	if math.IsNaN(strength) {
		strength = 0
	}
	strength = math.Max(-1, math.Min(1, strength))
	md := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		md[k] = v
	}
	md["date"] = date
	return Signal{
		Direction: dir,
		Strength:  strength,
		Symbol:    symbol,
		Strategy:  strategy,
		Reason:    reason,
		Date:      date,
		Metadata:  md,
	}
}

// Strategy 是信号生成器的统一能力接口。
// GenerateSignals 必须是纯函数，返回按日期升序的信号。
type Strategy interface {
	Name() string
	Weight() float64
	GenerateSignals(data *indicator.Enriched, symbol string) ([]Signal, error)
}

// SMAConsumer 由依赖特定均线周期的策略实现，便于预先计算指标列。
type SMAConsumer interface {
	SMAPeriods() []int
}

// RequiredSMAPeriods 汇总策略依赖的均线周期。
func RequiredSMAPeriods(strategies []Strategy) []int {
	var out []int
	for _, s := range strategies {
		if c, ok := s.(SMAConsumer); ok {
			out = append(out, c.SMAPeriods()...)
		}
	}
	return out
}

// RSIConsumer 由自带 RSI 周期的策略实现。
type RSIConsumer interface {
	RSIPeriods() []int
}

// MACDConsumer 由自带 MACD 周期的策略实现。
type MACDConsumer interface {
	MACDSets() []indicator.MACDParams
}

// RequiredSettings 在 base 上补齐策略组合依赖的均线、RSI 与 MACD 周期。
func RequiredSettings(base indicator.Settings, strategies []Strategy) indicator.Settings {
	out := base.EnsureSMA(RequiredSMAPeriods(strategies)...)
	for _, s := range strategies {
		if c, ok := s.(RSIConsumer); ok {
			out = out.EnsureRSI(c.RSIPeriods()...)
		}
		if c, ok := s.(MACDConsumer); ok {
			out = out.EnsureMACD(c.MACDSets()...)
		}
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// bothValid 判断相邻两个点是否都有效。
func bothValid(a, b float64) bool {
	return indicator.Valid(a) && indicator.Valid(b)
}
