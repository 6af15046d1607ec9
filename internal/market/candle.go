package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout 是日线在整个回测中的日期键格式。
const DateLayout = "2006-01-02"

// ErrInvalidSeries 表示价格序列不满足时间升序/无重复的约定。
var ErrInvalidSeries = errors.New("invalid price series")

// Bar 表示单个交易日的 OHLCV。
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Key 返回该 K 线的日期键。
func (b Bar) Key() string { return DateKey(b.Date) }

// Series 为单个标的的日线序列（按日期升序）。
type Series struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// DateKey 把时间规整为 UTC 日期键。
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate 解析 YYYY-MM-DD。
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("日期格式错误 %q: %w", s, err)
	}
	return t, nil
}

func (s Series) Len() int { return len(s.Bars) }

func (s Series) Empty() bool { return len(s.Bars) == 0 }

func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

func (s Series) Highs() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.High
	}
	return out
}

func (s Series) Lows() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Low
	}
	return out
}

// Validate 检查日期严格递增且收盘价为正。
func (s Series) Validate() error {
	var prev string
	for i, b := range s.Bars {
		key := b.Key()
		if i > 0 && key <= prev {
			return fmt.Errorf("%w: %s 第 %d 根 K 线日期 %s 不晚于前一根 %s", ErrInvalidSeries, s.Symbol, i, key, prev)
		}
		if b.Close <= 0 {
			return fmt.Errorf("%w: %s %s 收盘价 %.4f 非正", ErrInvalidSeries, s.Symbol, key, b.Close)
		}
		prev = key
	}
	return nil
}

// Normalize 按日期排序并去重（同日保留最后一条），返回新序列。
func (s Series) Normalize() Series {
	bars := append([]Bar(nil), s.Bars...)
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Key() == b.Key() {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return Series{Symbol: s.Symbol, Bars: out}
}

// Between 返回 [start, end] 闭区间内的 K 线；零值时间表示不限制。
func (s Series) Between(start, end time.Time) Series {
	out := make([]Bar, 0, len(s.Bars))
	startKey, endKey := "", ""
	if !start.IsZero() {
		startKey = DateKey(start)
	}
	if !end.IsZero() {
		endKey = DateKey(end)
	}
	for _, b := range s.Bars {
		k := b.Key()
		if startKey != "" && k < startKey {
			continue
		}
		if endKey != "" && k > endKey {
			continue
		}
		out = append(out, b)
	}
	return Series{Symbol: s.Symbol, Bars: out}
}
