package backtest

import (
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunRequest 是发起一次回测的入参；空字段沿用 Manager 的默认值。
type RunRequest struct {
	Profile         string   `json:"profile"`
	Symbols         []string `json:"symbols"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
	SignalThreshold *float64 `json:"signal_threshold,omitempty"`
}

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Profile         string   `json:"profile"`
	Symbols         []string `json:"symbols"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
	Strategies      []string `json:"strategies"`
	Options         Options  `json:"options"`
	SignalThreshold float64  `json:"signal_threshold"`
}

// RunStats 汇总收益、风控指标，供前端列表展示。
type RunStats struct {
	FinalEquity    float64   `json:"final_equity"`
	TotalReturn    float64   `json:"total_return"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	Trades         int       `json:"trades"`
	Orders         int       `json:"orders"`
	RejectedOrders int       `json:"rejected_orders"`
	TradingDays    int       `json:"trading_days"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run 表示一次回测任务。
type Run struct {
	ID          string    `json:"id"`
	Profile     string    `json:"profile"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Config      RunConfig `json:"config"`
	Stats       RunStats  `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Finished 判断任务是否已结束（成功或失败）。
func (r Run) Finished() bool {
	return r.Status == RunStatusDone || r.Status == RunStatusFailed
}

func statsFromResult(res *Result) RunStats {
	m := res.Metrics
	st := RunStats{
		FinalEquity:    m.FinalEquity,
		TotalReturn:    m.TotalReturn,
		WinRate:        m.WinRate,
		Trades:         m.TotalTrades,
		Orders:         len(res.Orders),
		RejectedOrders: m.RejectedOrders,
		TradingDays:    m.TradingDays,
		FinishedAt:     time.Now(),
	}
	if m.Returns != nil {
		st.MaxDrawdown = m.Returns.MaxDrawdown
		st.SharpeRatio = m.Returns.SharpeRatio
	}
	return st
}
