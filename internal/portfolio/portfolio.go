package portfolio

import (
	"fmt"
	"sort"

	"quantsim/internal/logger"
)

// Side 是成交方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Position 是单个标的的多头持仓。
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     int     `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
}

func (p Position) MarketValue() float64 { return float64(p.Quantity) * p.CurrentPrice }

func (p Position) CostBasis() float64 { return float64(p.Quantity) * p.AvgPrice }

func (p Position) UnrealizedPnL() float64 { return p.MarketValue() - p.CostBasis() }

func (p Position) UnrealizedPnLPct() float64 {
	cost := p.CostBasis()
	if cost == 0 {
		return 0
	}
	return p.UnrealizedPnL() / cost
}

// TradeRecord 是不可变的成交记录，PnL 仅卖出时非零。
type TradeRecord struct {
	Date       string  `json:"date"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	Commission float64 `json:"commission"`
	PnL        float64 `json:"pnl"`
}

// EquitySnapshot 是某日收盘后的权益快照。
type EquitySnapshot struct {
	Date          string  `json:"date"`
	Equity        float64 `json:"equity"`
	Cash          float64 `json:"cash"`
	PositionValue float64 `json:"position_value"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// TradeSummary 统计成交次数与卖出盈亏。
type TradeSummary struct {
	TotalTrades   int     `json:"total_trades"`
	BuyTrades     int     `json:"buy_trades"`
	SellTrades    int     `json:"sell_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
}

// Holding 是对外展示的持仓快照。
type Holding struct {
	Symbol           string  `json:"symbol"`
	Quantity         int     `json:"quantity"`
	AvgPrice         float64 `json:"avg_price"`
	CurrentPrice     float64 `json:"current_price"`
	MarketValue      float64 `json:"market_value"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
}

// Portfolio 管理现金、持仓与历史记录。
// 非并发安全：同一时刻只能由一个回测循环写入。
type Portfolio struct {
	initialCapital float64
	cash           float64
	positions      map[string]*Position
	trades         []TradeRecord
	equity         []EquitySnapshot
	realizedPnL    float64
}

func New(initialCapital float64) *Portfolio {
	return &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*Position),
	}
}

func (p *Portfolio) InitialCapital() float64 { return p.initialCapital }

func (p *Portfolio) Cash() float64 { return p.cash }

func (p *Portfolio) RealizedPnL() float64 { return p.realizedPnL }

// Buy 买入；数量非正或资金不足时返回 false 且不修改任何状态。
func (p *Portfolio) Buy(symbol string, quantity int, price, commission float64, date string) bool {
	if quantity <= 0 {
		return false
	}
	total := float64(quantity)*price + commission
	if total > p.cash {
		logger.Debugf("[portfolio] 资金不足: %s 需要 %.2f, 可用 %.2f", symbol, total, p.cash)
		return false
	}
	p.cash -= total
	if pos, ok := p.positions[symbol]; ok {
		qty := pos.Quantity + quantity
		pos.AvgPrice = (pos.AvgPrice*float64(pos.Quantity) + price*float64(quantity)) / float64(qty)
		pos.Quantity = qty
		pos.CurrentPrice = price
	} else {
		p.positions[symbol] = &Position{Symbol: symbol, Quantity: quantity, AvgPrice: price, CurrentPrice: price}
	}
	p.trades = append(p.trades, TradeRecord{
		Date:       date,
		Symbol:     symbol,
		Side:       SideBuy,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
	})
	logger.Debugf("[portfolio] %s 买入 %s: %d股 @ %.2f, 手续费 %.2f", date, symbol, quantity, price, commission)
	return true
}

// Sell 卖出；无持仓、数量非正或超过持仓时返回 false。
func (p *Portfolio) Sell(symbol string, quantity int, price, commission float64, date string) bool {
	pos, ok := p.positions[symbol]
	if !ok {
		logger.Debugf("[portfolio] 无持仓: %s", symbol)
		return false
	}
	if quantity <= 0 || quantity > pos.Quantity {
		logger.Debugf("[portfolio] 持仓不足: %s 持有 %d, 拟卖出 %d", symbol, pos.Quantity, quantity)
		return false
	}
	pnl := (price-pos.AvgPrice)*float64(quantity) - commission
	p.realizedPnL += pnl
	p.cash += float64(quantity)*price - commission
	pos.Quantity -= quantity
	pos.CurrentPrice = price
	if pos.Quantity == 0 {
		delete(p.positions, symbol)
	}
	p.trades = append(p.trades, TradeRecord{
		Date:       date,
		Symbol:     symbol,
		Side:       SideSell,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		PnL:        pnl,
	})
	logger.Debugf("[portfolio] %s 卖出 %s: %d股 @ %.2f, 盈亏 %.2f, 手续费 %.2f", date, symbol, quantity, price, pnl, commission)
	return true
}

// UpdatePrices 更新持仓标的的最新价格，未持仓的标的忽略。
func (p *Portfolio) UpdatePrices(prices map[string]float64) {
	for symbol, price := range prices {
		if pos, ok := p.positions[symbol]; ok {
			pos.CurrentPrice = price
		}
	}
}

// RecordEquity 追加当前权益快照。
func (p *Portfolio) RecordEquity(date string) EquitySnapshot {
	snap := EquitySnapshot{
		Date:          date,
		Equity:        p.TotalEquity(),
		Cash:          p.cash,
		PositionValue: p.TotalPositionValue(),
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: p.UnrealizedPnL(),
	}
	p.equity = append(p.equity, snap)
	return snap
}

// Symbols 返回按字母排序的持仓标的，保证累加顺序确定。
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.positions))
	for s := range p.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (p *Portfolio) TotalPositionValue() float64 {
	total := 0.0
	for _, s := range p.Symbols() {
		total += p.positions[s].MarketValue()
	}
	return total
}

// TotalEquity = 现金 + 持仓市值。
func (p *Portfolio) TotalEquity() float64 {
	return p.cash + p.TotalPositionValue()
}

func (p *Portfolio) TotalReturn() float64 {
	if p.initialCapital == 0 {
		return 0
	}
	return (p.TotalEquity() - p.initialCapital) / p.initialCapital
}

func (p *Portfolio) UnrealizedPnL() float64 {
	total := 0.0
	for _, s := range p.Symbols() {
		total += p.positions[s].UnrealizedPnL()
	}
	return total
}

// Position 返回持仓副本。
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// PositionValue 返回单个标的的持仓市值，无持仓为 0。
func (p *Portfolio) PositionValue(symbol string) float64 {
	if pos, ok := p.positions[symbol]; ok {
		return pos.MarketValue()
	}
	return 0
}

func (p *Portfolio) HasPosition(symbol string) bool {
	_, ok := p.positions[symbol]
	return ok
}

func (p *Portfolio) Trades() []TradeRecord {
	return append([]TradeRecord(nil), p.trades...)
}

func (p *Portfolio) EquityCurve() []EquitySnapshot {
	return append([]EquitySnapshot(nil), p.equity...)
}

func (p *Portfolio) TradeSummary() TradeSummary {
	var sum TradeSummary
	sum.TotalTrades = len(p.trades)
	for _, t := range p.trades {
		switch t.Side {
		case SideBuy:
			sum.BuyTrades++
		case SideSell:
			sum.SellTrades++
			sum.TotalPnL += t.PnL
			if t.PnL > 0 {
				sum.WinningTrades++
			} else if t.PnL < 0 {
				sum.LosingTrades++
			}
		}
	}
	if sum.SellTrades > 0 {
		sum.WinRate = float64(sum.WinningTrades) / float64(sum.SellTrades)
		sum.AvgPnL = sum.TotalPnL / float64(sum.SellTrades)
	}
	return sum
}

// Holdings 返回按标的排序的持仓快照。
func (p *Portfolio) Holdings() []Holding {
	out := make([]Holding, 0, len(p.positions))
	for _, s := range p.Symbols() {
		pos := p.positions[s]
		out = append(out, Holding{
			Symbol:           pos.Symbol,
			Quantity:         pos.Quantity,
			AvgPrice:         pos.AvgPrice,
			CurrentPrice:     pos.CurrentPrice,
			MarketValue:      pos.MarketValue(),
			UnrealizedPnL:    pos.UnrealizedPnL(),
			UnrealizedPnLPct: pos.UnrealizedPnLPct(),
		})
	}
	return out
}

// Reset 恢复到初始资金，仅用于两次独立回测之间。
func (p *Portfolio) Reset() {
	p.cash = p.initialCapital
	p.positions = make(map[string]*Position)
	p.trades = nil
	p.equity = nil
	p.realizedPnL = 0
}

func (p *Portfolio) String() string {
	return fmt.Sprintf("Portfolio(equity=%.2f, cash=%.2f, positions=%d, return=%.2f%%)",
		p.TotalEquity(), p.cash, len(p.positions), p.TotalReturn()*100)
}
