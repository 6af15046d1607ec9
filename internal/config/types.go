package config

import "strings"

// Config 是 quantsim 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app" yaml:"app"`
	Engine     EngineConfig     `toml:"engine" yaml:"engine"`
	Risk       RiskConfig       `toml:"risk" yaml:"risk"`
	Data       DataConfig       `toml:"data" yaml:"data"`
	Indicators IndicatorConfig  `toml:"indicators" yaml:"indicators"`
	Strategies []StrategyConfig `toml:"strategies" yaml:"strategies"`
	Sweep      SweepConfig      `toml:"sweep" yaml:"sweep"`
	Report     ReportConfig     `toml:"report" yaml:"report"`
}

type AppConfig struct {
	Env      string `toml:"env" yaml:"env"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	LogPath  string `toml:"log_path" yaml:"log_path"`
	HTTPAddr string `toml:"http_addr" yaml:"http_addr"`

	// HTTPRunsPerMinute 限制 HTTP 创建回测的频率，显式写 0 表示不限。
	HTTPRunsPerMinute int `toml:"http_runs_per_minute" yaml:"http_runs_per_minute"`
	MaxConcurrentRuns int `toml:"max_concurrent_runs" yaml:"max_concurrent_runs"`

	// ProfilesPath 指向可热更新的策略组合文件，为空则不启用。
	ProfilesPath string `toml:"profiles_path" yaml:"profiles_path"`
}

// EngineConfig 控制撮合成本与信号融合门槛。
type EngineConfig struct {
	InitialCapital   float64 `toml:"initial_capital" yaml:"initial_capital"`
	CommissionRate   float64 `toml:"commission_rate" yaml:"commission_rate"`
	Slippage         float64 `toml:"slippage" yaml:"slippage"`
	SignalThreshold  float64 `toml:"signal_threshold" yaml:"signal_threshold"`
	LookbackDays     int     `toml:"lookback_days" yaml:"lookback_days"`
	CooldownDays     int     `toml:"cooldown_days" yaml:"cooldown_days"`
	MinConsensus     int     `toml:"min_consensus" yaml:"min_consensus"`
	RiskFreeRate     float64 `toml:"risk_free_rate" yaml:"risk_free_rate"`
	EnforceDailyLoss bool    `toml:"enforce_daily_loss" yaml:"enforce_daily_loss"`
	// ConfidenceDecay 只作用于最新信号分析，不影响回测。
	ConfidenceDecay float64 `toml:"confidence_decay" yaml:"confidence_decay"`
}

// RiskConfig 对应风控限额，全部为比例。
type RiskConfig struct {
	MaxPositionPct        float64 `toml:"max_position_pct" yaml:"max_position_pct"`
	MaxTotalPositionPct   float64 `toml:"max_total_position_pct" yaml:"max_total_position_pct"`
	StopLossPct           float64 `toml:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct         float64 `toml:"take_profit_pct" yaml:"take_profit_pct"`
	MaxDrawdownPct        float64 `toml:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxDailyLossPct       float64 `toml:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	TrailingStopPct       float64 `toml:"trailing_stop_pct" yaml:"trailing_stop_pct"`
	TrailingActivationPct float64 `toml:"trailing_activation_pct" yaml:"trailing_activation_pct"`
}

// DataConfig 描述行情来源：synthetic / csv / sqlite。
type DataConfig struct {
	Source    string   `toml:"source" yaml:"source"`
	Dir       string   `toml:"dir" yaml:"dir"`
	Symbols   []string `toml:"symbols" yaml:"symbols"`
	StartDate string   `toml:"start_date" yaml:"start_date"`
	EndDate   string   `toml:"end_date" yaml:"end_date"`
	Seed      uint64   `toml:"seed" yaml:"seed"`
}

type IndicatorConfig struct {
	SMAPeriods []int   `toml:"sma_periods" yaml:"sma_periods"`
	RSIPeriod  int     `toml:"rsi_period" yaml:"rsi_period"`
	MACDFast   int     `toml:"macd_fast" yaml:"macd_fast"`
	MACDSlow   int     `toml:"macd_slow" yaml:"macd_slow"`
	MACDSignal int     `toml:"macd_signal" yaml:"macd_signal"`
	BBPeriod   int     `toml:"bb_period" yaml:"bb_period"`
	BBStdDev   float64 `toml:"bb_std_dev" yaml:"bb_std_dev"`
	ATRPeriod  int     `toml:"atr_period" yaml:"atr_period"`
}

// StrategyConfig 描述单个信号策略；Kind 取 ma_crossover / rsi / macd / bollinger。
type StrategyConfig struct {
	Kind   string             `toml:"kind" yaml:"kind" json:"kind"`
	Name   string             `toml:"name" yaml:"name,omitempty" json:"name,omitempty"`
	Weight float64            `toml:"weight" yaml:"weight" json:"weight"`
	Params map[string]float64 `toml:"params" yaml:"params,omitempty" json:"params,omitempty"`
}

// Param 返回参数值，缺省时返回 def。
func (s StrategyConfig) Param(key string, def float64) float64 {
	if v, ok := s.Params[strings.ToLower(strings.TrimSpace(key))]; ok {
		return v
	}
	return def
}

type SweepConfig struct {
	Thresholds []float64 `toml:"thresholds" yaml:"thresholds"`
	Parallel   int       `toml:"parallel" yaml:"parallel"`
}

type ReportConfig struct {
	HTMLPath string `toml:"html_path" yaml:"html_path"`
	// PNGPath 需要本机可用的 headless Chrome。
	PNGPath  string `toml:"png_path" yaml:"png_path"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
