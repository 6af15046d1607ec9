package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CSVProvider 从 <Dir>/<SYMBOL>.csv 读取日线。
// 列头需包含 date,open,high,low,close，volume 可选；列顺序不限。
type CSVProvider struct {
	Dir string
}

func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{Dir: dir}
}

func (p *CSVProvider) Name() string { return "csv" }

func (p *CSVProvider) Path(symbol string) string {
	return filepath.Join(p.Dir, symbol+".csv")
}

func (p *CSVProvider) History(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	if err := ctx.Err(); err != nil {
		return Series{}, err
	}
	path := p.Path(symbol)
	f, err := os.Open(path)
	if err != nil {
		return Series{}, fmt.Errorf("找不到数据文件 %s: %w", path, err)
	}
	defer f.Close()
	series, err := ReadCSV(f, symbol)
	if err != nil {
		return Series{}, fmt.Errorf("%s: %w", path, err)
	}
	return series.Between(start, end), nil
}

var requiredCSVColumns = []string{"date", "open", "high", "low", "close"}

// ReadCSV 解析日线 CSV，结果按日期升序并去重。
func ReadCSV(r io.Reader, symbol string) (Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Series{Symbol: symbol}, nil
		}
		return Series{}, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, col := range requiredCSVColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return Series{}, fmt.Errorf("CSV 缺少必要列: %s", strings.Join(missing, ","))
	}
	series := Series{Symbol: symbol}
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Series{}, err
		}
		bar, err := parseCSVRecord(rec, idx)
		if err != nil {
			return Series{}, fmt.Errorf("第 %d 行: %w", line, err)
		}
		series.Bars = append(series.Bars, bar)
	}
	return series.Normalize(), nil
}

func parseCSVRecord(rec []string, idx map[string]int) (Bar, error) {
	field := func(name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	raw := field("date")
	if len(raw) > len(DateLayout) {
		raw = raw[:len(DateLayout)]
	}
	date, err := ParseDate(raw)
	if err != nil {
		return Bar{}, err
	}
	bar := Bar{Date: date}
	targets := []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
	}
	for _, t := range targets {
		v := field(t.name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Bar{}, fmt.Errorf("%s=%q 不是数字", t.name, v)
		}
		*t.dst = f
	}
	return bar, nil
}

// WriteCSV 以 ReadCSV 可读的格式输出序列。
func WriteCSV(w io.Writer, s Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range s.Bars {
		rec := []string{
			b.Key(),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
