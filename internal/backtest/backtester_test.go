package backtest

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"quantsim/internal/config"
	"quantsim/internal/execution"
	"quantsim/internal/indicator"
	"quantsim/internal/logger"
	"quantsim/internal/market"
	"quantsim/internal/portfolio"
	"quantsim/internal/risk"
	"quantsim/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Silence()
}

// scripted 按 symbol → 日序号 → 强度 输出固定信号。
type scripted struct {
	name   string
	weight float64
	plan   map[string]map[int]float64
}

func (s scripted) Name() string    { return s.name }
func (s scripted) Weight() float64 { return s.weight }

func (s scripted) GenerateSignals(data *indicator.Enriched, symbol string) ([]strategy.Signal, error) {
	var out []strategy.Signal
	for i := 0; i < data.Len(); i++ {
		v, ok := s.plan[symbol][i]
		if !ok {
			continue
		}
		dir := strategy.Buy
		if v < 0 {
			dir = strategy.Sell
		}
		out = append(out, strategy.NewSignal(dir, v, symbol, s.name, data.Date(i), "scripted", nil))
	}
	return out, nil
}

type needsColumn struct{}

func (needsColumn) Name() string    { return "needs_column" }
func (needsColumn) Weight() float64 { return 1 }
func (needsColumn) GenerateSignals(data *indicator.Enriched, _ string) ([]strategy.Signal, error) {
	if err := data.Require("sma_999", indicator.ColClose); err != nil {
		return nil, err
	}
	return nil, nil
}

// agreeing 返回两个权重相同、信号相同的策略，满足共识要求。
func agreeing(plan map[string]map[int]float64) []strategy.Strategy {
	return []strategy.Strategy{
		scripted{name: "a", weight: 1, plan: plan},
		scripted{name: "b", weight: 1, plan: plan},
	}
}

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(symbol string, closes ...float64) market.Series {
	s := market.Series{Symbol: symbol}
	for i, c := range closes {
		s.Bars = append(s.Bars, market.Bar{
			Date:   day0.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1000,
		})
	}
	return s
}

func flat(symbol string, n int, price float64) market.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return series(symbol, closes...)
}

func dateAt(i int) string { return market.DateKey(day0.AddDate(0, 0, i)) }

func zeroCostOptions() Options {
	o := DefaultOptions()
	o.CommissionRate = 0
	o.Slippage = 0
	o.SignalThreshold = 0.3
	return o
}

func run(t *testing.T, opts Options, strategies []strategy.Strategy, data map[string]market.Series) *Result {
	t.Helper()
	bt, err := New(opts)
	require.NoError(t, err)
	res, err := bt.Run(strategies, data)
	require.NoError(t, err)
	return res
}

func TestBuyOnConsensus(t *testing.T) {
	plan := map[string]map[int]float64{"AAA": {2: 0.8}}
	res := run(t, zeroCostOptions(), agreeing(plan), map[string]market.Series{"AAA": flat("AAA", 10, 100)})

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, dateAt(2), tr.Date)
	assert.Equal(t, portfolio.SideBuy, tr.Side)
	// floor(1e6 * 0.8 * 0.25 / 100)
	assert.Equal(t, 2000, tr.Quantity)
	assert.Len(t, res.EquityCurve, 10)
	assert.InDelta(t, 1_000_000, res.Metrics.FinalEquity, 1e-6)
	require.Len(t, res.Holdings, 1)
	assert.Equal(t, "AAA", res.Holdings[0].Symbol)
}

func TestNoTradeWithoutConsensus(t *testing.T) {
	data := map[string]market.Series{"AAA": flat("AAA", 10, 100)}

	single := []strategy.Strategy{scripted{name: "solo", weight: 1, plan: map[string]map[int]float64{"AAA": {2: 1}}}}
	assert.Empty(t, run(t, zeroCostOptions(), single, data).Trades)

	split := []strategy.Strategy{
		scripted{name: "bull", weight: 1, plan: map[string]map[int]float64{"AAA": {2: 0.8}}},
		scripted{name: "bear", weight: 1, plan: map[string]map[int]float64{"AAA": {2: -0.2}}},
	}
	// combined = 0.3 但只有一个 BUY 票
	assert.Empty(t, run(t, zeroCostOptions(), split, data).Trades)
}

func TestThresholdGate(t *testing.T) {
	plan := map[string]map[int]float64{"AAA": {2: 0.5}}
	data := map[string]market.Series{"AAA": flat("AAA", 10, 100)}

	opts := zeroCostOptions()
	opts.SignalThreshold = 0.6
	assert.Empty(t, run(t, opts, agreeing(plan), data).Trades)

	opts.SignalThreshold = 0.4
	assert.Len(t, run(t, opts, agreeing(plan), data).Trades, 1)
}

func TestCooldownBlocksEarlyExit(t *testing.T) {
	plan := map[string]map[int]float64{"AAA": {2: 0.8, 5: -0.8, 12: -0.8}}
	res := run(t, zeroCostOptions(), agreeing(plan), map[string]market.Series{"AAA": flat("AAA", 20, 100)})

	require.Len(t, res.Trades, 2)
	assert.Equal(t, portfolio.SideBuy, res.Trades[0].Side)
	assert.Equal(t, portfolio.SideSell, res.Trades[1].Side)
	assert.Equal(t, dateAt(12), res.Trades[1].Date)
	assert.Equal(t, 2000, res.Trades[1].Quantity)
	assert.Empty(t, res.Holdings)
}

func TestStopLossExit(t *testing.T) {
	plan := map[string]map[int]float64{"AAA": {2: 0.8}}
	data := map[string]market.Series{"AAA": series("AAA", 100, 100, 100, 100, 92, 92, 92, 92, 92, 92)}
	res := run(t, zeroCostOptions(), agreeing(plan), data)

	require.Len(t, res.Trades, 2)
	exit := res.Trades[1]
	assert.Equal(t, portfolio.SideSell, exit.Side)
	assert.Equal(t, dateAt(4), exit.Date)
	assert.InDelta(t, -16_000, exit.PnL, 1e-6)
	assert.Equal(t, 0, res.Metrics.WinningTrades)
	assert.Equal(t, 1, res.Metrics.LosingTrades)
	assert.Contains(t, res.Summary(), "平均亏损")
}

func TestTrailingStopExit(t *testing.T) {
	plan := map[string]map[int]float64{"AAA": {2: 0.8}}
	data := map[string]market.Series{"AAA": series("AAA", 100, 100, 100, 102, 104, 98.5, 98.5, 98.5)}
	res := run(t, zeroCostOptions(), agreeing(plan), data)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, dateAt(5), res.Trades[1].Date)
	assert.InDelta(t, -3_000, res.Trades[1].PnL, 1e-6)
}

func TestTakeProfitExit(t *testing.T) {
	plan := map[string]map[int]float64{"AAA": {2: 0.8}}
	data := map[string]market.Series{"AAA": series("AAA", 100, 100, 100, 105, 111, 111, 111)}
	res := run(t, zeroCostOptions(), agreeing(plan), data)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, dateAt(4), res.Trades[1].Date)
	assert.InDelta(t, 22_000, res.Trades[1].PnL, 1e-6)
	assert.Equal(t, 1.0, res.Metrics.WinRate)
}

func TestExitPriority(t *testing.T) {
	cases := []struct {
		name   string
		closes []float64
		day    int
		reason string
	}{
		// 92 同时满足止损 (8% >= 7%) 与移动止损 (自 104 回撤 11.5%)
		{"stop loss before trailing", []float64{100, 100, 100, 104, 92, 92, 92}, 4, "触发止损"},
		{"trailing only", []float64{100, 100, 100, 102, 104, 98.5, 98.5}, 5, "触发移动止损"},
		{"take profit", []float64{100, 100, 100, 105, 111, 111}, 4, "触发止盈"},
	}
	plan := map[string]map[int]float64{"AAA": {2: 0.8}}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := run(t, zeroCostOptions(), agreeing(plan), map[string]market.Series{"AAA": series("AAA", tc.closes...)})
			require.Len(t, res.Orders, 2)
			exit := res.Orders[1]
			assert.Equal(t, execution.Sell, exit.Side)
			assert.Equal(t, execution.StatusFilled, exit.Status)
			assert.Equal(t, dateAt(tc.day), exit.Date)
			assert.True(t, strings.HasPrefix(exit.Note, tc.reason), exit.Note)
			assert.Contains(t, res.Orders[0].Note, "融合信号")
			assert.Len(t, res.DailyReturns, len(res.EquityCurve)-1)
		})
	}
}

func TestLookbackWindow(t *testing.T) {
	cases := []struct {
		name  string
		a, b  map[int]float64
		trade int // -1 表示不成交
	}{
		// a 在 idx-3 卖、idx-1 买，取最近的买信号与 b 形成共识
		{"nearest signal wins", map[int]float64{2: -0.9, 4: 0.9}, map[int]float64{5: 0.9}, 5},
		// 反过来最近的是卖信号，与 b 方向相反，无共识
		{"nearest sell cancels", map[int]float64{2: 0.9, 4: -0.9}, map[int]float64{5: 0.9}, -1},
		// 4 个交易日前的信号仍在窗口内
		{"edge of window", map[int]float64{1: 0.8}, map[int]float64{5: 0.8}, 5},
		// 5 个交易日前的信号已过期
		{"expired signal", map[int]float64{1: 0.8}, map[int]float64{6: 0.8}, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			strategies := []strategy.Strategy{
				scripted{name: "a", weight: 1, plan: map[string]map[int]float64{"AAA": tc.a}},
				scripted{name: "b", weight: 1, plan: map[string]map[int]float64{"AAA": tc.b}},
			}
			res := run(t, zeroCostOptions(), strategies, map[string]market.Series{"AAA": flat("AAA", 12, 100)})
			if tc.trade < 0 {
				assert.Empty(t, res.Trades)
				return
			}
			require.Len(t, res.Trades, 1)
			assert.Equal(t, portfolio.SideBuy, res.Trades[0].Side)
			assert.Equal(t, dateAt(tc.trade), res.Trades[0].Date)
		})
	}
}

func TestDrawdownHaltPersists(t *testing.T) {
	closes := []float64{100, 100, 100, 100}
	for len(closes) < 20 {
		closes = append(closes, 90)
	}
	data := map[string]market.Series{"AAA": series("AAA", closes...)}
	plan := map[string]map[int]float64{"AAA": {2: 0.8, 14: -0.8}}

	opts := zeroCostOptions()
	opts.Limits = risk.DefaultLimits()
	opts.Limits.StopLossPct = 0.5

	control := run(t, opts, agreeing(plan), data)
	require.Len(t, control.Trades, 2)
	assert.Equal(t, dateAt(14), control.Trades[1].Date)

	opts.Limits.MaxDrawdownPct = 0.01
	halted := run(t, opts, agreeing(plan), data)
	assert.Len(t, halted.Trades, 1)
	assert.Len(t, halted.Holdings, 1)
	assert.Len(t, halted.EquityCurve, 20)
}

func TestDailyLossGateDelaysEntry(t *testing.T) {
	data := map[string]market.Series{
		"AAA": series("AAA", 100, 100, 100, 100, 90, 90, 90, 90),
		"BBB": flat("BBB", 8, 50),
	}
	plan := map[string]map[int]float64{
		"AAA": {2: 0.8},
		"BBB": {4: 0.8},
	}
	opts := zeroCostOptions()
	opts.Limits = risk.DefaultLimits()
	opts.Limits.MaxDailyLossPct = 0.01

	free := run(t, opts, agreeing(plan), data)
	bbb := tradesFor(free.Trades, "BBB")
	require.Len(t, bbb, 1)
	assert.Equal(t, dateAt(4), bbb[0].Date)

	opts.EnforceDailyLoss = true
	gated := run(t, opts, agreeing(plan), data)
	bbb = tradesFor(gated.Trades, "BBB")
	require.Len(t, bbb, 1)
	assert.Equal(t, dateAt(5), bbb[0].Date)
	// 止损离场先于单日亏损检查执行
	aaa := tradesFor(gated.Trades, "AAA")
	require.Len(t, aaa, 2)
	assert.Equal(t, dateAt(4), aaa[1].Date)
}

func tradesFor(trades []portfolio.TradeRecord, symbol string) []portfolio.TradeRecord {
	var out []portfolio.TradeRecord
	for _, t := range trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

func syntheticData(t *testing.T, symbols ...string) map[string]market.Series {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	data, err := market.LoadAll(context.Background(), market.NewSyntheticProvider(7), symbols, start, end)
	require.NoError(t, err)
	return data
}

func TestEquityInvariantAndDeterminism(t *testing.T) {
	data := syntheticData(t, "AAA", "BBB", "CCC")
	opts := DefaultOptions()
	opts.SignalThreshold = 0.2

	first := run(t, opts, strategy.Defaults(), data)
	second := run(t, opts, strategy.Defaults(), data)

	require.NotEmpty(t, first.EquityCurve)
	for _, snap := range first.EquityCurve {
		assert.InDelta(t, snap.Cash+snap.PositionValue, snap.Equity, 1e-6, snap.Date)
	}
	last := first.EquityCurve[len(first.EquityCurve)-1]
	assert.InDelta(t, last.Equity, first.Metrics.FinalEquity, 1e-6)
	assert.Len(t, first.DailyReturns, len(first.EquityCurve)-1)
	require.NotNil(t, first.Metrics.Returns)

	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestRunWithPerStrategyPeriods(t *testing.T) {
	strategies, err := strategy.Build([]config.StrategyConfig{
		{Kind: "rsi", Params: map[string]float64{"period": 7}},
		{Kind: "rsi", Params: map[string]float64{"period": 21}},
		{Kind: "macd", Params: map[string]float64{"fast_period": 6, "slow_period": 19, "signal_period": 6}},
	})
	require.NoError(t, err)
	res := run(t, DefaultOptions(), strategies, syntheticData(t, "AAA", "BBB"))
	assert.NotEmpty(t, res.EquityCurve)
	assert.Empty(t, res.Metrics.Error)
}

func TestHigherThresholdNeverTradesMore(t *testing.T) {
	data := syntheticData(t, "AAA", "BBB")
	opts := DefaultOptions()

	opts.SignalThreshold = 0.1
	low := run(t, opts, strategy.Defaults(), data)
	opts.SignalThreshold = 0.8
	high := run(t, opts, strategy.Defaults(), data)

	assert.LessOrEqual(t, high.Metrics.TotalTrades, low.Metrics.TotalTrades)
}

func TestEmptyDataYieldsErrorMarker(t *testing.T) {
	bt, err := New(DefaultOptions())
	require.NoError(t, err)

	for _, data := range []map[string]market.Series{
		nil,
		{"AAA": {Symbol: "AAA"}},
	} {
		res, err := bt.Run(strategy.Defaults(), data)
		require.NoError(t, err)
		assert.Equal(t, ErrNoData, res.Metrics.Error)
		assert.Empty(t, res.EquityCurve)
		assert.Empty(t, res.Trades)
		assert.Nil(t, res.Metrics.Returns)
		assert.Contains(t, res.Summary(), ErrNoData)
	}
}

func TestMissingColumnsFailFast(t *testing.T) {
	bt, err := New(DefaultOptions())
	require.NoError(t, err)
	_, err = bt.Run([]strategy.Strategy{needsColumn{}}, map[string]market.Series{"AAA": flat("AAA", 5, 10)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, strategy.ErrMissingColumns))
	assert.Contains(t, err.Error(), "sma_999")
}

func TestInvalidSeriesRejected(t *testing.T) {
	s := flat("AAA", 3, 10)
	s.Bars[1].Date = s.Bars[0].Date
	bt, err := New(DefaultOptions())
	require.NoError(t, err)
	_, err = bt.Run(strategy.Defaults(), map[string]market.Series{"AAA": s})
	assert.ErrorIs(t, err, market.ErrInvalidSeries)
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bt, err := New(DefaultOptions())
	require.NoError(t, err)
	_, err = bt.RunContext(ctx, agreeing(nil), map[string]market.Series{"AAA": flat("AAA", 5, 10)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptionsValidation(t *testing.T) {
	opts := DefaultOptions()
	opts.SignalThreshold = 1.5
	_, err := New(opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.Slippage = -0.1
	_, err = New(opts)
	assert.Error(t, err)

	bt, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, float64(defaultInitialCapital), bt.Options().InitialCapital)
	assert.Equal(t, defaultLookbackDays, bt.Options().LookbackDays)
	assert.Equal(t, defaultMinConsensus, bt.Options().MinConsensus)
	assert.Equal(t, risk.DefaultLimits(), bt.Options().Limits)
}

func TestReturnStats(t *testing.T) {
	equity := []float64{100, 110, 99}
	returns := []float64{0.1, -0.1}
	rs := computeReturnStats(-0.01, 0.03, equity, returns)

	ann := math.Pow(0.99, 126) - 1
	assert.InDelta(t, ann, rs.AnnualizedReturn, 1e-12)
	vol := math.Sqrt(0.02) * math.Sqrt(252)
	assert.InDelta(t, vol, rs.AnnualVolatility, 1e-9)
	assert.InDelta(t, (ann-0.03)/vol, rs.SharpeRatio, 1e-9)
	assert.InDelta(t, 0.1, rs.MaxDrawdown, 1e-12)
	assert.InDelta(t, ann/0.1, rs.CalmarRatio, 1e-9)
	// 只有一个负收益时样本标准差为 0，索提诺记为 0
	assert.Equal(t, 0.0, rs.SortinoRatio)
}
