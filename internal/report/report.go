// Package report 把回测结果渲染为 go-echarts 页面。
package report

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"quantsim/internal/backtest"
	"quantsim/internal/portfolio"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorCash          = "#fbbf24"
	colorPosition      = "#a78bfa"
	colorDrawdown      = "#f87171"
	colorWin           = "#34d399"
	colorLoss          = "#f87171"

	chartWidthPx     = 1400
	equityHeightPx   = 520
	drawdownHeightPx = 240
	tradesHeightPx   = 260
)

// RenderEquityHTML 输出权益曲线、回撤与卖出盈亏三张图。
func RenderEquityHTML(w io.Writer, title string, res *backtest.Result) error {
	if res == nil {
		return fmt.Errorf("result 不能为空")
	}
	if len(res.EquityCurve) == 0 {
		return fmt.Errorf("权益曲线为空: %s", res.Metrics.Error)
	}
	page := components.NewPage()
	page.PageTitle = title
	page.SetLayout(components.PageFlexLayout)

	xAxis := make([]string, len(res.EquityCurve))
	for i, snap := range res.EquityCurve {
		xAxis[i] = snap.Date
	}
	page.AddCharts(
		buildEquityChart(title, xAxis, res),
		buildDrawdownChart(xAxis, res.EquityCurve),
	)
	if bar := buildTradeChart(res.Trades); bar != nil {
		page.AddCharts(bar)
	}
	return page.Render(w)
}

// RenderEquityBytes 与 RenderEquityHTML 相同，返回 HTML 字节。
func RenderEquityBytes(title string, res *backtest.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderEquityHTML(&buf, title, res); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func axisOpts() (opts.XAxis, opts.YAxis) {
	x := opts.XAxis{
		Type:      "category",
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
	}
	y := opts.YAxis{
		Scale:     opts.Bool(true),
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
	}
	return x, y
}

func buildEquityChart(title string, xAxis []string, res *backtest.Result) *charts.Line {
	m := res.Metrics
	subtitle := fmt.Sprintf("收益率 %.2f%% | 成交 %d 笔 | 胜率 %.1f%%", m.TotalReturn*100, m.TotalTrades, m.WinRate*100)
	if m.Returns != nil {
		subtitle += fmt.Sprintf(" | 夏普 %.2f | 最大回撤 %.2f%%", m.Returns.SharpeRatio, m.Returns.MaxDrawdown*100)
	}
	x, y := axisOpts()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(equityHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(x),
		charts.WithYAxisOpts(y),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	equity := make([]opts.LineData, len(res.EquityCurve))
	cash := make([]opts.LineData, len(res.EquityCurve))
	position := make([]opts.LineData, len(res.EquityCurve))
	for i, snap := range res.EquityCurve {
		equity[i] = opts.LineData{Value: round(snap.Equity, 2)}
		cash[i] = opts.LineData{Value: round(snap.Cash, 2)}
		position[i] = opts.LineData{Value: round(snap.PositionValue, 2)}
	}
	line.SetXAxis(xAxis).
		AddSeries("权益", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2})).
		AddSeries("现金", cash, charts.WithLineStyleOpts(opts.LineStyle{Color: colorCash, Width: 1})).
		AddSeries("持仓市值", position, charts.WithLineStyleOpts(opts.LineStyle{Color: colorPosition, Width: 1}))
	return line
}

func buildDrawdownChart(xAxis []string, curve []portfolio.EquitySnapshot) *charts.Line {
	x, y := axisOpts()
	x.AxisLabel = &opts.AxisLabel{Show: opts.Bool(false)}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(drawdownHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "回撤 %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(x),
		charts.WithYAxisOpts(y),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3), Color: colorDrawdown}),
	)
	line.SetXAxis(xAxis).AddSeries("回撤", drawdownSeries(curve),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}))
	return line
}

// drawdownSeries 返回每日相对历史峰值的回撤百分比（非正数）。
func drawdownSeries(curve []portfolio.EquitySnapshot) []opts.LineData {
	out := make([]opts.LineData, len(curve))
	peak := 0.0
	for i, snap := range curve {
		peak = math.Max(peak, snap.Equity)
		dd := 0.0
		if peak > 0 {
			dd = (snap.Equity - peak) / peak * 100
		}
		out[i] = opts.LineData{Value: round(dd, 4)}
	}
	return out
}

// buildTradeChart 只展示卖出成交的已实现盈亏，无卖出时返回 nil。
func buildTradeChart(trades []portfolio.TradeRecord) *charts.Bar {
	var (
		xAxis []string
		data  []opts.BarData
	)
	for _, t := range trades {
		if t.Side != portfolio.SideSell {
			continue
		}
		color := colorLoss
		if t.PnL > 0 {
			color = colorWin
		}
		xAxis = append(xAxis, fmt.Sprintf("%s %s", t.Date, t.Symbol))
		data = append(data, opts.BarData{Value: round(t.PnL, 2), ItemStyle: &opts.ItemStyle{Color: color}})
	}
	if len(data) == 0 {
		return nil
	}
	x, y := axisOpts()
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(tradesHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "卖出盈亏", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(x),
		charts.WithYAxisOpts(y),
	)
	bar.SetXAxis(xAxis).AddSeries("PnL", data)
	return bar
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
