package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	qcfg "quantsim/internal/config"
	"quantsim/internal/logger"
	"quantsim/internal/market"
	"quantsim/internal/pkg/symbol"
)

// MarketStack 是一次构建得到的行情依赖。Store 仅在 sqlite 数据源时非空。
type MarketStack struct {
	Provider market.Provider
	Store    *market.Store
	Start    time.Time
	End      time.Time
}

func (m *MarketStack) Close() {
	if m != nil && m.Store != nil {
		_ = m.Store.Close()
	}
}

func buildMarketStack(cfg *qcfg.Config) (*MarketStack, error) {
	start, err := cfg.Data.Start()
	if err != nil {
		return nil, err
	}
	end, err := cfg.Data.End()
	if err != nil {
		return nil, err
	}
	stack := &MarketStack{Start: start, End: end}
	switch cfg.Data.Source {
	case "synthetic":
		stack.Provider = market.NewSyntheticProvider(cfg.Data.Seed)
	case "csv":
		stack.Provider = market.NewCSVProvider(cfg.Data.Dir)
	case "sqlite":
		store, err := market.NewStore(cfg.Data.Dir)
		if err != nil {
			return nil, fmt.Errorf("打开本地行情库失败: %w", err)
		}
		stack.Provider = store
		stack.Store = store
	default:
		return nil, fmt.Errorf("未知数据源 %q", cfg.Data.Source)
	}
	logger.Infof("✓ 行情源=%s，区间 %s ~ %s，标的 %v", stack.Provider.Name(), cfg.Data.StartDate, cfg.Data.EndDate, cfg.Data.Symbols)
	return stack, nil
}

// ImportResult 记录单个 CSV 文件的导入结果。
type ImportResult struct {
	Symbol string
	Path   string
	Rows   int
}

// ImportCSV 把 CSV 日线导入 root 下的 SQLite 行情库，标的名取自文件名。
// paths 中的目录会被展开为其中的 *.csv 文件。
func ImportCSV(ctx context.Context, root string, paths []string) ([]ImportResult, error) {
	files, err := expandCSVPaths(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("没有可导入的 CSV 文件")
	}
	store, err := market.NewStore(root)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	out := make([]ImportResult, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sym := symbol.Normalize(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		series, err := readCSVFile(path, sym)
		if err != nil {
			return out, err
		}
		n, err := store.ImportSeries(ctx, series, path)
		if err != nil {
			return out, fmt.Errorf("写入 %s 失败: %w", sym, err)
		}
		logger.Infof("[import] %s <- %s: %d 条", sym, path, n)
		out = append(out, ImportResult{Symbol: sym, Path: path, Rows: n})
	}
	return out, nil
}

func readCSVFile(path, sym string) (market.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return market.Series{}, err
	}
	defer f.Close()
	series, err := market.ReadCSV(f, sym)
	if err != nil {
		return market.Series{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := series.Validate(); err != nil {
		return market.Series{}, fmt.Errorf("%s: %w", path, err)
	}
	return series, nil
}

func expandCSVPaths(paths []string) ([]string, error) {
	var files []string
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(path, "*.csv"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}
