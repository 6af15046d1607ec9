package app

import (
	"context"
	"fmt"
	"strings"

	"quantsim/internal/backtest"
	qcfg "quantsim/internal/config"
	cfgloader "quantsim/internal/config/loader"
	"quantsim/internal/logger"
	backtesthttp "quantsim/internal/transport/http/backtest"
)

type AppBuilder struct {
	cfg *qcfg.Config

	marketStackFn func(*qcfg.Config) (*MarketStack, error)
	profilesFn    func(string) (*cfgloader.ProfileLoader, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *qcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		marketStackFn: buildMarketStack,
		profilesFn:    loadProfiles,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	profileLoader, err := b.profilesFn(cfg.App.ProfilesPath)
	if err != nil {
		return nil, err
	}
	var profiles backtesthttp.ProfileSource
	if profileLoader != nil {
		profiles = profileLoader
		logger.Infof("✓ 已加载 profile: %v", profileLoader.Snapshot().Names())
	}

	stack, err := b.marketStackFn(cfg)
	if err != nil {
		return nil, err
	}
	success := false
	defer func() {
		if !success {
			stack.Close()
		}
	}()

	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		Provider:      stack.Provider,
		Strategy:      newStrategyFactory(cfg.Strategies, profiles),
		Options:       engineOptions(cfg),
		Symbols:       cfg.Data.Symbols,
		Start:         stack.Start,
		End:           stack.End,
		MaxConcurrent: cfg.App.MaxConcurrentRuns,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测模拟器失败: %w", err)
	}
	sim.SetContext(ctx)

	var manifests backtesthttp.ManifestReader
	if stack.Store != nil {
		manifests = stack.Store
	}
	server, err := buildBacktestHTTPServer(cfg.App, sim, profiles, manifests)
	if err != nil {
		return nil, err
	}

	success = true
	return &App{
		cfg: cfg,
		backtest: &BacktestService{
			market:   stack,
			profiles: profileLoader,
			sim:      sim,
			server:   server,
		},
		Summary: newStartupSummary(cfg, stack, profileLoader),
	}, nil
}

func newStartupSummary(cfg *qcfg.Config, stack *MarketStack, loader *cfgloader.ProfileLoader) *StartupSummary {
	s := &StartupSummary{
		Data: DataSummary{
			Source:  stack.Provider.Name(),
			Dir:     cfg.Data.Dir,
			Symbols: append([]string(nil), cfg.Data.Symbols...),
			Start:   cfg.Data.StartDate,
			End:     cfg.Data.EndDate,
		},
		Engine:   cfg.Engine,
		Risk:     cfg.Risk,
		HTTPAddr: cfg.App.HTTPAddr,
	}
	for _, sc := range cfg.Strategies {
		name := sc.Kind
		if sc.Name != "" {
			name = sc.Name
		}
		s.Strategies = append(s.Strategies, fmt.Sprintf("%s (weight=%.2f)", name, sc.Weight))
	}
	if loader != nil {
		snap := loader.Snapshot()
		for _, name := range snap.Names() {
			def := snap.Profiles[name]
			kinds := make([]string, 0, len(def.Strategies))
			for _, sc := range def.Strategies {
				kinds = append(kinds, sc.Kind)
			}
			line := fmt.Sprintf("%s: %s", name, strings.Join(kinds, "+"))
			if def.SignalThreshold > 0 {
				line += fmt.Sprintf(" (threshold=%.2f)", def.SignalThreshold)
			}
			if def.Default {
				line += " [default]"
			}
			s.Profiles = append(s.Profiles, line)
		}
	}
	return s
}

func WithMarketStack(fn func(*qcfg.Config) (*MarketStack, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.marketStackFn = fn
		}
	}
}

func WithProfileLoader(fn func(string) (*cfgloader.ProfileLoader, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.profilesFn = fn
		}
	}
}
