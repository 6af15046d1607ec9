package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quantsim/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Provider 统一不同数据源（合成/CSV/SQLite）的日线读取行为。
// 返回的序列必须按日期升序且无重复日期。
type Provider interface {
	Name() string
	History(ctx context.Context, symbol string, start, end time.Time) (Series, error)
}

const loadConcurrency = 4

// LoadAll 并发拉取多个标的的历史数据，返回 symbol→Series。
// 任一标的失败或序列不合法都会返回错误。
func LoadAll(ctx context.Context, p Provider, symbols []string, start, end time.Time) (map[string]Series, error) {
	if p == nil {
		return nil, fmt.Errorf("provider 不能为空")
	}
	var (
		mu  sync.Mutex
		out = make(map[string]Series, len(symbols))
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(loadConcurrency)
	for _, raw := range symbols {
		symbol := strings.TrimSpace(raw)
		if symbol == "" {
			continue
		}
		group.Go(func() error {
			series, err := p.History(gctx, symbol, start, end)
			if err != nil {
				return fmt.Errorf("%s 加载 %s 失败: %w", p.Name(), symbol, err)
			}
			if err := series.Validate(); err != nil {
				return err
			}
			mu.Lock()
			out[symbol] = series
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		logger.Infof("[data] %s %s: %d 条日线", p.Name(), k, out[k].Len())
	}
	return out, nil
}
