package market

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"quantsim/internal/pkg/money"
)

// SyntheticProvider 使用几何布朗运动生成可复现的日线数据，用于演示与测试。
// 同一 symbol + seed 总是得到相同的序列。
type SyntheticProvider struct {
	Seed uint64
	// Drift/Volatility 为日收益率的均值与标准差。
	Drift      float64
	Volatility float64
}

func NewSyntheticProvider(seed uint64) *SyntheticProvider {
	return &SyntheticProvider{Seed: seed, Drift: 0.0002, Volatility: 0.02}
}

func (p *SyntheticProvider) Name() string { return "synthetic" }

func (p *SyntheticProvider) History(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	if err := ctx.Err(); err != nil {
		return Series{}, err
	}
	dates := businessDays(start, end)
	series := Series{Symbol: symbol}
	if len(dates) == 0 {
		return series, nil
	}
	rng := rand.New(rand.NewPCG(p.Seed, symbolSeed(symbol)))

	n := len(dates)
	price := 50 + rng.Float64()*150
	returns := make([]float64, n)
	for i := range returns {
		returns[i] = p.Drift + p.Volatility*rng.NormFloat64()
	}
	// 叠加若干趋势段，使序列更接近真实行情。
	periods := 3 + rng.IntN(5)
	span := n / periods
	if span == 0 {
		span = n
	}
	for i := 0; i < periods; i++ {
		trend := (rng.Float64()*2 - 1) * 0.001
		for j := i * span; j < min((i+1)*span, n); j++ {
			returns[j] += trend
		}
	}

	series.Bars = make([]Bar, n)
	for i, d := range dates {
		price *= math.Exp(returns[i])
		closePx := price
		rangePx := closePx * (0.005 + rng.Float64()*0.025)
		openPx := closePx + (rng.Float64()-0.5)*rangePx
		high := math.Max(openPx, closePx) + rng.Float64()*rangePx/2
		low := math.Min(openPx, closePx) - rng.Float64()*rangePx/2
		volFactor := math.Abs(closePx-openPx) / closePx
		volume := math.Floor(1_000_000 * (1 + volFactor*20) * (0.5 + rng.Float64()))
		series.Bars[i] = Bar{
			Date:   d,
			Open:   money.RoundCents(openPx),
			High:   money.RoundCents(high),
			Low:    money.RoundCents(math.Max(low, 0.01)),
			Close:  money.RoundCents(closePx),
			Volume: volume,
		}
	}
	return series, nil
}

func symbolSeed(symbol string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return h.Sum64()
}

// businessDays 返回 [start, end] 内的周一至周五（UTC 零点）。
func businessDays(start, end time.Time) []time.Time {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil
	}
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}
