package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"quantsim/internal/backtest"
	qcfg "quantsim/internal/config"
	"quantsim/internal/logger"
	"quantsim/internal/report"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→执行回测或启动 HTTP 服务。
type App struct {
	cfg      *qcfg.Config
	backtest *BacktestService
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *qcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Simulator 暴露底层回测管理器。
func (a *App) Simulator() *backtest.Simulator {
	if a == nil || a.backtest == nil {
		return nil
	}
	return a.backtest.sim
}

// RunOnce 按配置的标的与区间同步执行一次回测。
func (a *App) RunOnce(ctx context.Context, profile string) (backtest.Run, *backtest.Result, error) {
	if a == nil || a.backtest == nil {
		return backtest.Run{}, nil, fmt.Errorf("app not initialized")
	}
	return a.backtest.sim.RunSync(ctx, backtest.RunRequest{Profile: profile})
}

// RunSweep 对一组阈值做参数扫描；thresholds 为空时使用 sweep.thresholds。
func (a *App) RunSweep(ctx context.Context, profile string, thresholds []float64) ([]backtest.SweepPoint, error) {
	if a == nil || a.backtest == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	if len(thresholds) == 0 {
		thresholds = a.cfg.Sweep.Thresholds
	}
	return a.backtest.sim.Sweep(ctx, backtest.RunRequest{Profile: profile}, thresholds, a.cfg.Sweep.Parallel)
}

// Analyze 按配置区间融合 symbol 的各策略最新信号。
func (a *App) Analyze(ctx context.Context, symbol, profile string) (backtest.Analysis, error) {
	if a == nil || a.backtest == nil {
		return backtest.Analysis{}, fmt.Errorf("app not initialized")
	}
	return a.backtest.sim.Analyze(ctx, backtest.AnalyzeRequest{Symbol: symbol, Profile: profile})
}

// Serve 启动回测 HTTP 服务，阻塞到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.backtest == nil || a.backtest.server == nil {
		return fmt.Errorf("backtest service not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)
	a.backtest.Start(ctx)
	group.Go(func() error {
		if err := a.backtest.server.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// WriteReports 按 report.html_path / report.png_path 输出报告，未配置的格式跳过。
func (a *App) WriteReports(ctx context.Context, title string, res *backtest.Result) ([]string, error) {
	var written []string
	if path := strings.TrimSpace(a.cfg.Report.HTMLPath); path != "" {
		html, err := report.RenderEquityBytes(title, res)
		if err != nil {
			return written, err
		}
		if err := writeFile(path, html); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if path := strings.TrimSpace(a.cfg.Report.PNGPath); path != "" {
		png, err := report.RenderEquityPNG(ctx, title, res)
		if err != nil {
			return written, err
		}
		if err := writeFile(path, png); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// Close 释放行情库等资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.backtest.Close()
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
