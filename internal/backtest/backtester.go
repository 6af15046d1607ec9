package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"

	"quantsim/internal/execution"
	"quantsim/internal/indicator"
	"quantsim/internal/logger"
	"quantsim/internal/market"
	"quantsim/internal/portfolio"
	"quantsim/internal/risk"
	"quantsim/internal/strategy"
)

// Backtester 是按交易日推进的多策略、多标的日线回测引擎。
// 每次 Run 都会新建 Portfolio / Limiter / Executor，因此同一个 Backtester 可以被多个 goroutine 复用。
type Backtester struct {
	opts Options
}

func New(opts Options) (*Backtester, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Backtester{opts: opts}, nil
}

func (b *Backtester) Options() Options { return b.opts }

// Run 在后台上下文中执行回测。
func (b *Backtester) Run(strategies []strategy.Strategy, data map[string]market.Series) (*Result, error) {
	return b.RunContext(context.Background(), strategies, data)
}

// signalIndex[strategy][symbol][date]
type signalIndex []map[string]map[string]strategy.Signal

// runState 是单次回测独占的可变状态，只由日循环写入。
type runState struct {
	opts      Options
	pf        *portfolio.Portfolio
	limiter   *risk.Limiter
	exec      *execution.Executor
	highs     map[string]float64
	lastTrade map[string]int

	// lastEquity 是上一条权益快照，作为单日亏损的基准。
	lastEquity float64
}

func newRunState(opts Options) *runState {
	limiter := risk.NewLimiter(opts.Limits)
	limiter.UpdatePeakEquity(opts.InitialCapital)
	return &runState{
		opts:       opts,
		pf:         portfolio.New(opts.InitialCapital),
		limiter:    limiter,
		exec:       execution.NewExecutor(opts.CommissionRate, opts.Slippage),
		highs:      make(map[string]float64),
		lastTrade:  make(map[string]int),
		lastEquity: opts.InitialCapital,
	}
}

// RunContext 执行回测；ctx 在每个交易日开始前检查一次。
// 行情为空时返回带 Metrics.Error 的空结果而不是错误。
func (b *Backtester) RunContext(ctx context.Context, strategies []strategy.Strategy, data map[string]market.Series) (*Result, error) {
	opts := b.opts
	symbols := sortedKeys(data)

	settings := strategy.RequiredSettings(opts.Indicators, strategies)
	enriched := make(map[string]*indicator.Enriched, len(symbols))
	for _, sym := range symbols {
		series := data[sym]
		if series.Empty() {
			continue
		}
		if err := series.Validate(); err != nil {
			return nil, fmt.Errorf("标的 %s 行情无效: %w", sym, err)
		}
		enriched[sym] = indicator.Enrich(series, settings)
	}

	dates, prices := tradingCalendar(enriched)
	if len(dates) == 0 {
		logger.Warnf("[backtest] 无有效行情数据，跳过回测")
		return emptyResult(opts), nil
	}

	index, err := pregenerate(strategies, enriched)
	if err != nil {
		return nil, err
	}
	logger.Infof("[backtest] 开始回测: %d个策略, %d个标的, %d个交易日", len(strategies), len(enriched), len(dates))

	st := newRunState(opts)
	for idx, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("回测在 %s 中断: %w", date, err)
		}
		st.step(idx, date, dates, prices[date], strategies, index)
	}

	res := newResult(opts, st.pf, st.exec)
	logger.Infof("[backtest] 回测完成: 最终权益 %.2f, 收益率 %.2f%%, 成交 %d 笔",
		res.Metrics.FinalEquity, res.Metrics.TotalReturn*100, res.Metrics.TotalTrades)
	return res, nil
}

func (st *runState) step(idx int, date string, dates []string, today map[string]float64, strategies []strategy.Strategy, index signalIndex) {
	if st.opts.EnforceDailyLoss {
		st.limiter.BeginDay(st.lastEquity)
	}
	st.pf.UpdatePrices(today)
	for _, sym := range st.pf.Symbols() {
		if price, ok := today[sym]; ok {
			if high, seen := st.highs[sym]; !seen || price > high {
				st.highs[sym] = price
			}
		}
	}

	st.exitPass(date, today)

	equity := st.pf.TotalEquity()
	if hit, reason := st.limiter.CheckMaxDrawdown(equity); hit {
		logger.Warnf("[backtest] %s %s，暂停开仓", date, reason)
		st.record(date)
		return
	}
	if st.opts.EnforceDailyLoss {
		if hit, reason := st.limiter.CheckDailyLoss(equity, st.limiter.DailyStartEquity()); hit {
			logger.Warnf("[backtest] %s %s，暂停信号交易", date, reason)
			st.limiter.UpdatePeakEquity(equity)
			st.record(date)
			return
		}
	}

	for _, sym := range sortedKeys(today) {
		st.trade(idx, date, sym, today[sym], dates, strategies, index)
	}

	st.limiter.UpdatePeakEquity(st.pf.TotalEquity())
	st.record(date)
}

func (st *runState) record(date string) {
	st.lastEquity = st.pf.RecordEquity(date).Equity
}

// exitPass 依次检查止损、移动止损、止盈，命中即全量卖出。
// 离场不经过风控，也不刷新冷却期。
func (st *runState) exitPass(date string, today map[string]float64) {
	type exit struct {
		symbol string
		qty    int
		reason string
	}
	var queue []exit
	for _, sym := range st.pf.Symbols() {
		price, ok := today[sym]
		if !ok {
			continue
		}
		pos, _ := st.pf.Position(sym)
		highest, seen := st.highs[sym]
		if !seen {
			highest = price
		}
		if hit, reason := st.limiter.CheckStopLoss(pos.AvgPrice, price); hit {
			queue = append(queue, exit{sym, pos.Quantity, reason})
		} else if hit, reason := st.limiter.CheckTrailingStop(pos.AvgPrice, price, highest); hit {
			queue = append(queue, exit{sym, pos.Quantity, reason})
		} else if hit, reason := st.limiter.CheckTakeProfit(pos.AvgPrice, price); hit {
			queue = append(queue, exit{sym, pos.Quantity, reason})
		}
	}
	for _, e := range queue {
		logger.Debugf("[backtest] %s %s %s", date, e.symbol, e.reason)
		o := st.exec.CreateOrder(e.symbol, execution.Sell, e.qty, today[e.symbol], date)
		o.Note = e.reason
		st.exec.Execute(o, st.pf, nil)
		if o.Status == execution.StatusFilled {
			delete(st.highs, e.symbol)
		}
	}
}

// trade 融合回看窗口内各策略的最新信号，满足门槛、共识与冷却后开仓或清仓。
func (st *runState) trade(idx int, date, sym string, price float64, dates []string, strategies []strategy.Strategy, index signalIndex) {
	combined, totalWeight := 0.0, 0.0
	buys, sells := 0, 0
	for si, s := range strategies {
		bySymbol := index[si][sym]
		if len(bySymbol) == 0 {
			continue
		}
		for d := 0; d < st.opts.LookbackDays; d++ {
			sig, ok := bySymbol[dates[max(0, idx-d)]]
			if !ok {
				continue
			}
			combined += sig.Strength * s.Weight()
			totalWeight += s.Weight()
			switch sig.Direction {
			case strategy.Buy:
				buys++
			case strategy.Sell:
				sells++
			}
			break
		}
	}
	if totalWeight > 0 {
		combined /= totalWeight
	}

	need := st.opts.MinConsensus
	consensus := (buys >= need && combined > 0) || (sells >= need && combined < 0)
	if !consensus || math.Abs(combined) < st.opts.SignalThreshold {
		return
	}
	if last, ok := st.lastTrade[sym]; ok && idx-last < st.opts.CooldownDays {
		return
	}

	switch {
	case combined > 0 && !st.pf.HasPosition(sym):
		qty := st.limiter.CalculatePositionSize(st.pf.TotalEquity(), price, combined, 0)
		if qty <= 0 {
			return
		}
		o := st.exec.CreateOrder(sym, execution.Buy, qty, price, date)
		o.Note = fmt.Sprintf("融合信号 %.2f (买%d/卖%d)", combined, buys, sells)
		st.exec.Execute(o, st.pf, st.limiter)
		if o.Status == execution.StatusFilled {
			st.highs[sym] = o.FilledPrice
			st.lastTrade[sym] = idx
		}
	case combined < 0 && st.pf.HasPosition(sym):
		pos, _ := st.pf.Position(sym)
		o := st.exec.CreateOrder(sym, execution.Sell, pos.Quantity, price, date)
		o.Note = fmt.Sprintf("融合信号 %.2f (买%d/卖%d)", combined, buys, sells)
		st.exec.Execute(o, st.pf, st.limiter)
		if o.Status == execution.StatusFilled {
			delete(st.highs, sym)
			st.lastTrade[sym] = idx
		}
	}
}

// pregenerate 一次性生成所有 (策略, 标的) 的信号并按日期索引；任何策略报错立即返回。
func pregenerate(strategies []strategy.Strategy, enriched map[string]*indicator.Enriched) (signalIndex, error) {
	index := make(signalIndex, len(strategies))
	for si, s := range strategies {
		index[si] = make(map[string]map[string]strategy.Signal, len(enriched))
		for _, sym := range sortedKeys(enriched) {
			signals, err := s.GenerateSignals(enriched[sym], sym)
			if err != nil {
				return nil, fmt.Errorf("策略 %s 生成 %s 信号失败: %w", s.Name(), sym, err)
			}
			byDate := make(map[string]strategy.Signal, len(signals))
			for _, sig := range signals {
				byDate[sig.Date] = sig
			}
			index[si][sym] = byDate
		}
	}
	return index, nil
}

// tradingCalendar 返回所有标的交易日的并集（升序）以及每日收盘价快照。
func tradingCalendar(enriched map[string]*indicator.Enriched) ([]string, map[string]map[string]float64) {
	prices := make(map[string]map[string]float64)
	for sym, e := range enriched {
		for _, bar := range e.Bars {
			key := bar.Key()
			day, ok := prices[key]
			if !ok {
				day = make(map[string]float64)
				prices[key] = day
			}
			day[sym] = bar.Close
		}
	}
	return sortedKeys(prices), prices
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
