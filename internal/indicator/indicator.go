package indicator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/markcheno/go-talib"

	"quantsim/internal/market"
)

// ErrMissingColumns 表示策略依赖的指标列不存在。
var ErrMissingColumns = errors.New("missing indicator columns")

const (
	ColClose      = "close"
	ColOpen       = "open"
	ColHigh       = "high"
	ColLow        = "low"
	ColVolume     = "volume"
	ColRSI        = "rsi"
	ColMACD       = "macd"
	ColMACDSignal = "macd_signal"
	ColMACDHist   = "macd_hist"
	ColBBUpper    = "bb_upper"
	ColBBMiddle   = "bb_middle"
	ColBBLower    = "bb_lower"
	ColATR        = "atr"
)

// SMA 返回 sma_<n> 列名。
func SMA(period int) string { return fmt.Sprintf("sma_%d", period) }

// EMA 返回 ema_<n> 列名。
func EMA(period int) string { return fmt.Sprintf("ema_%d", period) }

// RSI 返回 rsi_<n> 列名，用于策略自带周期的 RSI。
func RSI(period int) string { return fmt.Sprintf("rsi_%d", period) }

// MACDParams 是一组 MACD 周期。
type MACDParams struct {
	Fast   int `json:"fast"`
	Slow   int `json:"slow"`
	Signal int `json:"signal"`
}

// Columns 返回 macd_<f>_<s>_<g> / macd_signal_... / macd_hist_... 三个列名。
func (p MACDParams) Columns() (macd, signal, hist string) {
	suffix := fmt.Sprintf("%d_%d_%d", p.Fast, p.Slow, p.Signal)
	return "macd_" + suffix, "macd_signal_" + suffix, "macd_hist_" + suffix
}

func (p MACDParams) lookback() int { return p.Slow - 1 + p.Signal - 1 }

// Settings 描述指标计算参数。
type Settings struct {
	SMAPeriods []int   `toml:"sma_periods" yaml:"sma_periods" json:"sma_periods"`
	RSIPeriod  int     `toml:"rsi_period" yaml:"rsi_period" json:"rsi_period"`
	MACDFast   int     `toml:"macd_fast" yaml:"macd_fast" json:"macd_fast"`
	MACDSlow   int     `toml:"macd_slow" yaml:"macd_slow" json:"macd_slow"`
	MACDSignal int     `toml:"macd_signal" yaml:"macd_signal" json:"macd_signal"`
	BBPeriod   int     `toml:"bb_period" yaml:"bb_period" json:"bb_period"`
	BBStdDev   float64 `toml:"bb_std_dev" yaml:"bb_std_dev" json:"bb_std_dev"`
	ATRPeriod  int     `toml:"atr_period" yaml:"atr_period" json:"atr_period"`

	// RSIPeriods 与 MACDSets 是策略额外要求的周期，分别生成 rsi_<n> 与 macd_<f>_<s>_<g> 列。
	RSIPeriods []int        `toml:"-" yaml:"-" json:"rsi_periods,omitempty"`
	MACDSets   []MACDParams `toml:"-" yaml:"-" json:"macd_sets,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		SMAPeriods: []int{10, 20, 30, 60},
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		BBPeriod:   20,
		BBStdDev:   2.0,
		ATRPeriod:  14,
	}
}

// EnsureSMA 返回包含给定均线周期的设置副本（去重并排序）。
func (s Settings) EnsureSMA(periods ...int) Settings {
	seen := make(map[int]struct{}, len(s.SMAPeriods)+len(periods))
	out := make([]int, 0, len(s.SMAPeriods)+len(periods))
	for _, p := range append(append([]int(nil), s.SMAPeriods...), periods...) {
		if p <= 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	s.SMAPeriods = out
	return s
}

// EnsureRSI 返回包含给定 RSI 周期的设置副本。
func (s Settings) EnsureRSI(periods ...int) Settings {
	seen := make(map[int]struct{}, len(s.RSIPeriods)+len(periods))
	out := make([]int, 0, len(s.RSIPeriods)+len(periods))
	for _, p := range append(append([]int(nil), s.RSIPeriods...), periods...) {
		if p <= 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	s.RSIPeriods = out
	return s
}

// EnsureMACD 返回包含给定 MACD 周期组的设置副本；非法组合（fast >= slow 等）被忽略。
func (s Settings) EnsureMACD(sets ...MACDParams) Settings {
	seen := make(map[MACDParams]struct{}, len(s.MACDSets)+len(sets))
	out := make([]MACDParams, 0, len(s.MACDSets)+len(sets))
	for _, p := range append(append([]MACDParams(nil), s.MACDSets...), sets...) {
		if p.Fast <= 0 || p.Slow <= p.Fast || p.Signal <= 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Fast != b.Fast {
			return a.Fast < b.Fast
		}
		if a.Slow != b.Slow {
			return a.Slow < b.Slow
		}
		return a.Signal < b.Signal
	})
	s.MACDSets = out
	return s
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if len(s.SMAPeriods) == 0 {
		s.SMAPeriods = def.SMAPeriods
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = def.RSIPeriod
	}
	if s.MACDFast <= 0 {
		s.MACDFast = def.MACDFast
	}
	if s.MACDSlow <= 0 {
		s.MACDSlow = def.MACDSlow
	}
	if s.MACDSignal <= 0 {
		s.MACDSignal = def.MACDSignal
	}
	if s.BBPeriod <= 0 {
		s.BBPeriod = def.BBPeriod
	}
	if s.BBStdDev <= 0 {
		s.BBStdDev = def.BBStdDev
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = def.ATRPeriod
	}
	return s
}

// Enriched 是带指标列的日线序列，所有列与 Bars 等长。
// 预热期（数据不足）的值为 NaN。
type Enriched struct {
	Symbol string
	Bars   []market.Bar
	cols   map[string][]float64
}

func (e *Enriched) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Bars)
}

// Date 返回第 i 根 K 线的日期键。
func (e *Enriched) Date(i int) string { return e.Bars[i].Key() }

// Column 返回整列数据。
func (e *Enriched) Column(name string) ([]float64, bool) {
	if e == nil {
		return nil, false
	}
	col, ok := e.cols[name]
	return col, ok
}

// Value 返回第 i 行的列值，列不存在或越界时返回 NaN。
func (e *Enriched) Value(name string, i int) float64 {
	col, ok := e.Column(name)
	if !ok || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

func (e *Enriched) Columns() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.cols))
	for k := range e.cols {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Set 写入或覆盖一列；长度必须与 Bars 一致。
func (e *Enriched) Set(name string, values []float64) error {
	if len(values) != len(e.Bars) {
		return fmt.Errorf("列 %s 长度 %d 与 K 线数量 %d 不一致", name, len(values), len(e.Bars))
	}
	if e.cols == nil {
		e.cols = make(map[string][]float64)
	}
	e.cols[name] = values
	return nil
}

// Require 检查列是否齐全，一次性列出全部缺失列。
func (e *Enriched) Require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := e.Column(c); !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	symbol := ""
	if e != nil {
		symbol = e.Symbol
	}
	return fmt.Errorf("%w: %s 缺少 %s", ErrMissingColumns, symbol, strings.Join(missing, ","))
}

// Slice 返回前 n 行的视图（不复制底层数据）。
func (e *Enriched) Slice(n int) *Enriched {
	if n > e.Len() {
		n = e.Len()
	}
	if n < 0 {
		n = 0
	}
	out := &Enriched{Symbol: e.Symbol, Bars: e.Bars[:n], cols: make(map[string][]float64, len(e.cols))}
	for k, v := range e.cols {
		out.cols[k] = v[:n]
	}
	return out
}

// Tail 返回最后 n 行的视图；n 不小于总行数时返回自身。
func (e *Enriched) Tail(n int) *Enriched {
	if n >= e.Len() {
		return e
	}
	if n < 0 {
		n = 0
	}
	from := e.Len() - n
	out := &Enriched{Symbol: e.Symbol, Bars: e.Bars[from:], cols: make(map[string][]float64, len(e.cols))}
	for k, v := range e.cols {
		out.cols[k] = v[from:]
	}
	return out
}

// Enrich 使用 TA-Lib 计算全部指标列。
func Enrich(series market.Series, settings Settings) *Enriched {
	cfg := settings.withDefaults()
	n := series.Len()
	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()
	opens := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range series.Bars {
		opens[i] = b.Open
		volumes[i] = b.Volume
	}
	e := &Enriched{
		Symbol: series.Symbol,
		Bars:   series.Bars,
		cols: map[string][]float64{
			ColClose:  closes,
			ColOpen:   opens,
			ColHigh:   highs,
			ColLow:    lows,
			ColVolume: volumes,
		},
	}

	for _, p := range cfg.SMAPeriods {
		e.cols[SMA(p)] = guarded(n, p-1, func() []float64 { return talib.Sma(closes, p) })
		e.cols[EMA(p)] = guarded(n, p-1, func() []float64 { return talib.Ema(closes, p) })
	}
	e.cols[ColRSI] = guarded(n, cfg.RSIPeriod, func() []float64 { return talib.Rsi(closes, cfg.RSIPeriod) })

	for _, p := range cfg.RSIPeriods {
		e.cols[RSI(p)] = guarded(n, p, func() []float64 { return talib.Rsi(closes, p) })
	}

	e.setMACD(closes, MACDParams{Fast: cfg.MACDFast, Slow: cfg.MACDSlow, Signal: cfg.MACDSignal}, ColMACD, ColMACDSignal, ColMACDHist)
	for _, p := range cfg.MACDSets {
		macdCol, signalCol, histCol := p.Columns()
		e.setMACD(closes, p, macdCol, signalCol, histCol)
	}

	bbLookback := cfg.BBPeriod - 1
	if n > bbLookback {
		upper, middle, lower := talib.BBands(closes, cfg.BBPeriod, cfg.BBStdDev, cfg.BBStdDev, talib.SMA)
		e.cols[ColBBUpper] = maskWarmup(upper, bbLookback)
		e.cols[ColBBMiddle] = maskWarmup(middle, bbLookback)
		e.cols[ColBBLower] = maskWarmup(lower, bbLookback)
	} else {
		e.cols[ColBBUpper] = nanSeries(n)
		e.cols[ColBBMiddle] = nanSeries(n)
		e.cols[ColBBLower] = nanSeries(n)
	}

	e.cols[ColATR] = guarded(n, cfg.ATRPeriod, func() []float64 { return talib.Atr(highs, lows, closes, cfg.ATRPeriod) })
	return e
}

func (e *Enriched) setMACD(closes []float64, p MACDParams, macdCol, signalCol, histCol string) {
	n := len(closes)
	lookback := p.lookback()
	if n <= lookback {
		e.cols[macdCol] = nanSeries(n)
		e.cols[signalCol] = nanSeries(n)
		e.cols[histCol] = nanSeries(n)
		return
	}
	macd, signal, hist := talib.Macd(closes, p.Fast, p.Slow, p.Signal)
	e.cols[macdCol] = maskWarmup(macd, lookback)
	e.cols[signalCol] = maskWarmup(signal, lookback)
	e.cols[histCol] = maskWarmup(hist, lookback)
}

// guarded 仅在数据长度超过 lookback 时调用 TA-Lib，避免短序列越界。
func guarded(n, lookback int, fn func() []float64) []float64 {
	if n <= lookback {
		return nanSeries(n)
	}
	return maskWarmup(fn(), lookback)
}

// maskWarmup 把 TA-Lib 在预热期填充的 0 替换为 NaN。
func maskWarmup(src []float64, lookback int) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		if i < lookback || math.IsInf(v, 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Valid 判断值是否可用（非 NaN/Inf）。
func Valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
