package backtest

import (
	"context"
	"fmt"
	"time"

	"quantsim/internal/indicator"
	"quantsim/internal/logger"
	"quantsim/internal/pkg/symbol"
	"quantsim/internal/strategy"
)

// maxAnalysisHistory 限制内存中保留的分析记录数，超出后丢弃最早的。
const maxAnalysisHistory = 500

// noSignalReason 标记策略在区间内没有产生任何信号。
const noSignalReason = "无信号"

// AnalyzeRequest 是单标的最新信号分析的入参；日期为空时沿用 Simulator 默认区间。
type AnalyzeRequest struct {
	Symbol          string   `json:"symbol"`
	Profile         string   `json:"profile"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
	SignalThreshold *float64 `json:"signal_threshold,omitempty"`
}

// Analysis 是某标的在区间末尾的融合判断，Signals 为各策略的最新信号。
type Analysis struct {
	Symbol      string             `json:"symbol"`
	Profile     string             `json:"profile"`
	Date        string             `json:"date"`
	LatestPrice float64            `json:"latest_price"`
	Direction   strategy.Direction `json:"signal_type"`
	Strength    float64            `json:"signal_strength"`
	Threshold   float64            `json:"threshold"`
	Signals     []strategy.Signal  `json:"strategy_signals"`
	AnalyzedAt  time.Time          `json:"analyzed_at"`
}

// Fuse 按策略权重对信号强度做加权平均并乘以 decay，再与门槛比较得出方向。
// 找不到权重的策略按 1 计；没有信号或权重和为 0 时返回 HOLD。
func Fuse(signals []strategy.Signal, weights map[string]float64, threshold, decay float64) (strategy.Direction, float64) {
	var total, weighted float64
	for _, sig := range signals {
		w, ok := weights[sig.Strategy]
		if !ok {
			w = 1
		}
		weighted += sig.Strength * w
		total += w
	}
	if total == 0 {
		return strategy.Hold, 0
	}
	combined := weighted / total * decay
	switch {
	case combined > 0 && combined >= threshold:
		return strategy.Buy, combined
	case combined < 0 && combined <= -threshold:
		return strategy.Sell, combined
	default:
		return strategy.Hold, combined
	}
}

// LatestSignals 返回每个策略在 data 上的最后一个信号；策略没有信号时补一个强度为 0 的 HOLD。
func LatestSignals(strategies []strategy.Strategy, data *indicator.Enriched, sym string) ([]strategy.Signal, error) {
	date := ""
	if data.Len() > 0 {
		date = data.Date(data.Len() - 1)
	}
	out := make([]strategy.Signal, 0, len(strategies))
	for _, s := range strategies {
		signals, err := s.GenerateSignals(data, sym)
		if err != nil {
			return nil, fmt.Errorf("策略 %s 生成 %s 信号失败: %w", s.Name(), sym, err)
		}
		if len(signals) == 0 {
			out = append(out, strategy.NewSignal(strategy.Hold, 0, sym, s.Name(), date, noSignalReason, nil))
			continue
		}
		out = append(out, signals[len(signals)-1])
	}
	return out, nil
}

// Analyze 拉取单个标的行情，融合各策略最新信号，并记入分析历史。
func (s *Simulator) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	sym := symbol.Normalize(req.Symbol)
	if sym == "" {
		return Analysis{}, fmt.Errorf("symbol 不能为空")
	}
	p, err := s.resolve(RunRequest{
		Profile:         req.Profile,
		Symbols:         []string{sym},
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		SignalThreshold: req.SignalThreshold,
	})
	if err != nil {
		return Analysis{}, err
	}
	data, err := s.enrich(ctx, sym, p)
	if err != nil {
		return Analysis{}, err
	}
	signals, err := LatestSignals(p.strategies, data, sym)
	if err != nil {
		return Analysis{}, err
	}
	weights := make(map[string]float64, len(p.strategies))
	for _, st := range p.strategies {
		weights[st.Name()] = st.Weight()
	}
	opts := p.cfg.Options
	dir, strength := Fuse(signals, weights, opts.SignalThreshold, opts.ConfidenceDecay)

	last := data.Len() - 1
	out := Analysis{
		Symbol:      sym,
		Profile:     p.cfg.Profile,
		Date:        data.Date(last),
		LatestPrice: data.Bars[last].Close,
		Direction:   dir,
		Strength:    strength,
		Threshold:   opts.SignalThreshold,
		Signals:     signals,
		AnalyzedAt:  time.Now(),
	}
	s.mu.Lock()
	s.analyses = append(s.analyses, out)
	if over := len(s.analyses) - maxAnalysisHistory; over > 0 {
		s.analyses = append(s.analyses[:0:0], s.analyses[over:]...)
	}
	s.mu.Unlock()
	logger.Infof("[analyze] %s %s: %s 强度 %.3f", sym, out.Date, dir, strength)
	return out, nil
}

// AnalysisHistory 返回分析记录副本，按时间升序。
func (s *Simulator) AnalysisHistory() []Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Analysis(nil), s.analyses...)
}

// MarketRequest 是行情与指标查询的入参；Profile 决定额外计算哪些策略专属指标列。
type MarketRequest struct {
	Symbol    string
	Profile   string
	StartDate string
	EndDate   string
}

// MarketData 返回单个标的在区间内的日线及全部指标列。
func (s *Simulator) MarketData(ctx context.Context, req MarketRequest) (*indicator.Enriched, error) {
	sym := symbol.Normalize(req.Symbol)
	if sym == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	p, err := s.resolve(RunRequest{
		Profile:   req.Profile,
		Symbols:   []string{sym},
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, sym, p)
}

// enrich 读取单标的行情并按 plan 中策略所需的设置计算指标；行情为空时报错。
func (s *Simulator) enrich(ctx context.Context, sym string, p plan) (*indicator.Enriched, error) {
	series, err := s.provider.History(ctx, sym, p.start, p.end)
	if err != nil {
		return nil, fmt.Errorf("%s 加载 %s 失败: %w", s.provider.Name(), sym, err)
	}
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("标的 %s 行情无效: %w", sym, err)
	}
	if series.Empty() {
		return nil, fmt.Errorf("标的 %s %s", sym, ErrNoData)
	}
	settings := strategy.RequiredSettings(p.cfg.Options.Indicators, p.strategies)
	return indicator.Enrich(series, settings), nil
}
