package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantsim/internal/logger"
	"quantsim/internal/market"
	"quantsim/internal/pkg/symbol"
	"quantsim/internal/strategy"
)

// StrategyFactory 根据 profile 名称构造策略组合；threshold > 0 时覆盖默认信号门槛。
type StrategyFactory func(profile string) (strategies []strategy.Strategy, threshold float64, err error)

// SimulatorConfig 描述 Simulator 依赖。
type SimulatorConfig struct {
	Provider      market.Provider
	Strategy      StrategyFactory
	Options       Options
	Symbols       []string
	Start         time.Time
	End           time.Time
	MaxConcurrent int
}

// Simulator 管理异步回测任务：创建、排队执行、保存结果。
// 结果只保存在内存中，进程退出即丢失。
type Simulator struct {
	provider market.Provider
	factory  StrategyFactory
	base     Options
	symbols  []string
	start    time.Time
	end      time.Time

	sem chan struct{}

	// mu 保护 baseCtx、runs 与 analyses。
	mu       sync.RWMutex
	baseCtx  context.Context
	runs     map[string]*runEntry
	analyses []Analysis
}

type runEntry struct {
	run    Run
	result *Result
	done   chan struct{}
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider 不能为空")
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("strategy factory 不能为空")
	}
	base := cfg.Options.withDefaults()
	if err := base.validate(); err != nil {
		return nil, err
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		provider: cfg.Provider,
		factory:  cfg.Strategy,
		base:     base,
		symbols:  append([]string(nil), cfg.Symbols...),
		start:    cfg.Start,
		end:      cfg.End,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
		runs:     make(map[string]*runEntry),
	}, nil
}

// SetContext 设置后台任务使用的根 ctx，之后启动的任务生效。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

func (s *Simulator) ctx() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// plan 把请求解析为参数快照、策略组合和日期区间。
type plan struct {
	cfg        RunConfig
	strategies []strategy.Strategy
	start      time.Time
	end        time.Time
}

func (s *Simulator) resolve(req RunRequest) (plan, error) {
	strategies, threshold, err := s.factory(req.Profile)
	if err != nil {
		return plan{}, err
	}
	if len(strategies) == 0 {
		return plan{}, fmt.Errorf("profile %q 未配置策略", req.Profile)
	}
	symbols := symbol.NormalizeList(req.Symbols)
	if len(symbols) == 0 {
		symbols = symbol.NormalizeList(s.symbols)
	}
	if len(symbols) == 0 {
		return plan{}, fmt.Errorf("symbols 不能为空")
	}
	start, err := pickDate(req.StartDate, s.start)
	if err != nil {
		return plan{}, fmt.Errorf("start_date 无效: %w", err)
	}
	end, err := pickDate(req.EndDate, s.end)
	if err != nil {
		return plan{}, fmt.Errorf("end_date 无效: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return plan{}, fmt.Errorf("start/end 非法")
	}

	opts := s.base
	if threshold > 0 {
		opts.SignalThreshold = threshold
	}
	if req.SignalThreshold != nil {
		opts.SignalThreshold = *req.SignalThreshold
	}
	if err := opts.validate(); err != nil {
		return plan{}, err
	}
	names := make([]string, len(strategies))
	for i, st := range strategies {
		names[i] = st.Name()
	}
	return plan{
		cfg: RunConfig{
			Profile:         req.Profile,
			Symbols:         symbols,
			StartDate:       formatDate(start),
			EndDate:         formatDate(end),
			Strategies:      names,
			Options:         opts,
			SignalThreshold: opts.SignalThreshold,
		},
		strategies: strategies,
		start:      start,
		end:        end,
	}, nil
}

// StartRun 创建回测任务并立即返回，回测过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	p, err := s.resolve(req)
	if err != nil {
		return Run{}, err
	}
	now := time.Now()
	entry := &runEntry{
		run: Run{
			ID:        uuid.NewString(),
			Profile:   p.cfg.Profile,
			Status:    RunStatusPending,
			Config:    p.cfg,
			Stats:     RunStats{FinalEquity: p.cfg.Options.InitialCapital},
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.runs[entry.run.ID] = entry
	s.mu.Unlock()

	go s.runLoop(entry, p)
	return entry.run, nil
}

// RunSync 同步执行回测并返回结果。
func (s *Simulator) RunSync(ctx context.Context, req RunRequest) (Run, *Result, error) {
	run, err := s.StartRun(req)
	if err != nil {
		return Run{}, nil, err
	}
	run, err = s.Wait(ctx, run.ID)
	if err != nil {
		return run, nil, err
	}
	if run.Status == RunStatusFailed {
		return run, nil, fmt.Errorf("回测失败: %s", run.Message)
	}
	res, _ := s.Result(run.ID)
	return run, res, nil
}

func (s *Simulator) runLoop(entry *runEntry, p plan) {
	defer close(entry.done)
	runID := entry.run.ID
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", runID)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	s.update(runID, func(r *Run) {
		r.Status = RunStatusRunning
		r.Message = "加载行情…"
	})
	res, err := s.execute(ctx, p)
	if err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", runID, err)
		s.update(runID, func(r *Run) {
			r.Status = RunStatusFailed
			r.Message = err.Error()
			r.CompletedAt = time.Now()
		})
		return
	}
	s.mu.Lock()
	entry.result = res
	s.mu.Unlock()
	s.update(runID, func(r *Run) {
		r.Status = RunStatusDone
		r.Message = res.Metrics.Error
		r.Stats = statsFromResult(res)
		r.CompletedAt = r.Stats.FinishedAt
	})
	logger.Infof("[backtest] run %s 完成: 收益率 %.2f%%", runID, res.Metrics.TotalReturn*100)
}

func (s *Simulator) execute(ctx context.Context, p plan) (*Result, error) {
	data, err := market.LoadAll(ctx, s.provider, p.cfg.Symbols, p.start, p.end)
	if err != nil {
		return nil, err
	}
	bt, err := New(p.cfg.Options)
	if err != nil {
		return nil, err
	}
	return bt.RunContext(ctx, p.strategies, data)
}

// Sweep 加载一次行情，对多个门槛并发回测。
func (s *Simulator) Sweep(ctx context.Context, req RunRequest, thresholds []float64, parallel int) ([]SweepPoint, error) {
	p, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	data, err := market.LoadAll(ctx, s.provider, p.cfg.Symbols, p.start, p.end)
	if err != nil {
		return nil, err
	}
	if parallel <= 0 {
		parallel = cap(s.sem)
	}
	return Sweep(ctx, p.cfg.Options, thresholds, p.strategies, data, parallel)
}

func (s *Simulator) update(runID string, fn func(*Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[runID]
	if !ok {
		return
	}
	fn(&entry.run)
	entry.run.UpdatedAt = time.Now()
}

// Wait 阻塞直到任务结束或 ctx 取消。
func (s *Simulator) Wait(ctx context.Context, runID string) (Run, error) {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return Run{}, fmt.Errorf("run %s 不存在", runID)
	}
	select {
	case <-entry.done:
	case <-ctx.Done():
		return Run{}, ctx.Err()
	}
	run, _ := s.Get(runID)
	return run, nil
}

func (s *Simulator) Get(runID string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[runID]
	if !ok {
		return Run{}, false
	}
	return entry.run, true
}

// Result 返回已完成任务的结果。
func (s *Simulator) Result(runID string) (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[runID]
	if !ok || entry.result == nil {
		return nil, false
	}
	return entry.result, true
}

// List 按创建时间倒序返回任务。
func (s *Simulator) List() []Run {
	s.mu.RLock()
	out := make([]Run, 0, len(s.runs))
	for _, entry := range s.runs {
		out = append(out, entry.run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func pickDate(raw string, def time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return market.ParseDate(raw)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return market.DateKey(t)
}
