package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	qcfg "quantsim/internal/config"
)

type StartupSummary struct {
	Data       DataSummary
	Engine     qcfg.EngineConfig
	Risk       qcfg.RiskConfig
	Strategies []string
	Profiles   []string
	HTTPAddr   string
}

type DataSummary struct {
	Source  string
	Dir     string
	Symbols []string
	Start   string
	End     string
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[行情数据 (MARKET DATA)]")
	fmt.Fprintf(w, "  数据源: %s\n", s.Data.Source)
	if s.Data.Source != "synthetic" {
		fmt.Fprintf(w, "  目录:   %s\n", s.Data.Dir)
	}
	fmt.Fprintf(w, "  标的:   %s\n", formatList(s.Data.Symbols))
	fmt.Fprintf(w, "  区间:   %s ~ %s\n", orDash(s.Data.Start), orDash(s.Data.End))
	fmt.Fprintln(w)

	e := s.Engine
	fmt.Fprintln(w, "[撮合与信号 (ENGINE)]")
	fmt.Fprintf(w, "  初始资金: %.2f\n", e.InitialCapital)
	fmt.Fprintf(w, "  手续费率: %.4f  滑点: %.4f\n", e.CommissionRate, e.Slippage)
	fmt.Fprintf(w, "  信号阈值: %.2f  回看: %d 天  冷却: %d 天  最少共识: %d\n",
		e.SignalThreshold, e.LookbackDays, e.CooldownDays, e.MinConsensus)
	if e.EnforceDailyLoss {
		fmt.Fprintln(w, "  单日亏损闸门: 开启")
	}
	fmt.Fprintln(w)

	r := s.Risk
	fmt.Fprintln(w, "[风控 (RISK)]")
	fmt.Fprintf(w, "  单票上限 %.0f%% | 总仓位 %.0f%% | 止损 %.0f%% | 止盈 %.0f%%\n",
		r.MaxPositionPct*100, r.MaxTotalPositionPct*100, r.StopLossPct*100, r.TakeProfitPct*100)
	fmt.Fprintf(w, "  最大回撤 %.0f%% | 单日亏损 %.0f%% | 移动止损 %.0f%% (激活 %.0f%%)\n",
		r.MaxDrawdownPct*100, r.MaxDailyLossPct*100, r.TrailingStopPct*100, r.TrailingActivationPct*100)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略组合 (STRATEGIES)]")
	printItems(w, s.Strategies)
	if len(s.Profiles) > 0 {
		fmt.Fprintln(w, "  profiles:")
		printItems(w, s.Profiles)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "[HTTP] %s\n", orDash(s.HTTPAddr))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func printItems(w io.Writer, items []string) {
	if len(items) == 0 {
		fmt.Fprintln(w, "    - (无)")
		return
	}
	for _, item := range items {
		fmt.Fprintf(w, "    - %s\n", item)
	}
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
