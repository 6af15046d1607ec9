package strategy

import (
	"fmt"
	"strings"

	"quantsim/internal/config"
	"quantsim/internal/indicator"
)

var defaultWeights = map[string]float64{
	"ma_crossover": 0.4,
	"rsi":          0.3,
	"macd":         0.3,
	"bollinger":    0.2,
}

type renamer interface {
	rename(string)
}

// Build 按配置顺序创建策略；weight 为 0 时使用该类型的默认权重。
func Build(specs []config.StrategyConfig) ([]Strategy, error) {
	out := make([]Strategy, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		kind := strings.ToLower(strings.TrimSpace(spec.Kind))
		weight := spec.Weight
		if weight == 0 {
			weight = defaultWeights[kind]
		}
		var s Strategy
		switch kind {
		case "ma_crossover":
			s = NewMACrossover(int(spec.Param("short_window", 10)), int(spec.Param("long_window", 30)), weight)
		case "rsi":
			s = NewRSIReversal(spec.Param("overbought", 70), spec.Param("oversold", 30), weight).
				WithPeriod(int(spec.Param("period", 0)))
		case "macd":
			s = NewMACDCross(weight).WithParams(macdParams(spec))
		case "bollinger":
			s = NewBollingerReversion(weight)
		default:
			return nil, fmt.Errorf("strategies[%d]: 未知策略类型 %q", i, spec.Kind)
		}
		if err := ValidateParams(kind, spec.Params); err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		if name := strings.TrimSpace(spec.Name); name != "" {
			if r, ok := s.(renamer); ok {
				r.rename(name)
			}
		}
		if seen[s.Name()] {
			return nil, fmt.Errorf("strategies[%d]: 策略名称 %s 重复", i, s.Name())
		}
		seen[s.Name()] = true
		out = append(out, s)
	}
	return out, nil
}

// Defaults 返回默认三策略组合。
func Defaults() []Strategy {
	out, _ := Build(config.DefaultStrategies())
	return out
}

// macdParams 读取 fast_period / slow_period / signal_period；三者都未配置时返回零值，沿用全局 MACD 列。
func macdParams(spec config.StrategyConfig) indicator.MACDParams {
	if len(spec.Params) == 0 {
		return indicator.MACDParams{}
	}
	p := indicator.MACDParams{
		Fast:   int(spec.Param("fast_period", 0)),
		Slow:   int(spec.Param("slow_period", 0)),
		Signal: int(spec.Param("signal_period", 0)),
	}
	if p == (indicator.MACDParams{}) {
		return p
	}
	if p.Fast == 0 {
		p.Fast = 12
	}
	if p.Slow == 0 {
		p.Slow = 26
	}
	if p.Signal == 0 {
		p.Signal = 9
	}
	return p
}
