package execution

import (
	"quantsim/internal/logger"
	"quantsim/internal/pkg/money"
)

const rejectExecutionFailed = "execution failed: 资金或持仓不足"

// Book 是执行器需要的账户能力，由 portfolio.Portfolio 实现。
type Book interface {
	Buy(symbol string, quantity int, price, commission float64, date string) bool
	Sell(symbol string, quantity int, price, commission float64, date string) bool
	PositionValue(symbol string) float64
	TotalPositionValue() float64
	TotalEquity() float64
}

// RiskChecker 是买入前的风控检查，由 risk.Limiter 实现。
type RiskChecker interface {
	CheckPositionSize(symbol string, proposedQty int, price, portfolioValue, currentPositionValue float64) (bool, int, string)
	CheckTotalExposure(totalPositionValue, proposedTradeValue, portfolioValue float64) (bool, string)
}

// Executor 模拟市价单撮合：滑点、手续费与买入风控。
type Executor struct {
	commissionRate float64
	slippage       float64
	orders         []*Order
}

func NewExecutor(commissionRate, slippage float64) *Executor {
	return &Executor{commissionRate: commissionRate, slippage: slippage}
}

// CreateOrder 创建 PENDING 订单并记入历史。
func (e *Executor) CreateOrder(symbol string, side Side, quantity int, price float64, date string) *Order {
	o := &Order{
		ID:       newOrderID(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Status:   StatusPending,
		Date:     date,
	}
	e.orders = append(e.orders, o)
	return o
}

// FillPrice 返回含滑点并按分取整的成交价。
func (e *Executor) FillPrice(side Side, price float64) float64 {
	if side == Buy {
		return money.RoundCents(price * (1 + e.slippage))
	}
	return money.RoundCents(price * (1 - e.slippage))
}

// Commission 返回按分取整的手续费。
func (e *Executor) Commission(quantity int, fillPrice float64) float64 {
	return money.RoundCents(float64(quantity) * fillPrice * e.commissionRate)
}

// Execute 执行订单。已终结的订单原样返回。
// risk 非空时仅对买单做仓位与总暴露检查；卖单永远不经过风控。
func (e *Executor) Execute(o *Order, book Book, risk RiskChecker) *Order {
	if o == nil || o.Status.Terminal() {
		return o
	}
	fill := e.FillPrice(o.Side, o.Price)

	if risk != nil && o.Side == Buy {
		equity := book.TotalEquity()
		allowed, adjusted, reason := risk.CheckPositionSize(o.Symbol, o.Quantity, fill, equity, book.PositionValue(o.Symbol))
		if !allowed {
			return e.reject(o, reason)
		}
		if adjusted < o.Quantity {
			o.Quantity = adjusted
		}
		allowed, reason = risk.CheckTotalExposure(book.TotalPositionValue(), float64(o.Quantity)*fill, equity)
		if !allowed {
			return e.reject(o, reason)
		}
	}

	commission := e.Commission(o.Quantity, fill)
	var ok bool
	switch o.Side {
	case Buy:
		ok = book.Buy(o.Symbol, o.Quantity, fill, commission, o.Date)
	case Sell:
		ok = book.Sell(o.Symbol, o.Quantity, fill, commission, o.Date)
	}
	if !ok {
		return e.reject(o, rejectExecutionFailed)
	}
	o.Status = StatusFilled
	o.FilledQuantity = o.Quantity
	o.FilledPrice = fill
	o.Commission = commission
	logger.Debugf("[exec] 订单成交: %s %s %s %d股 @ %.2f", o.ID, o.Side, o.Symbol, o.Quantity, fill)
	return o
}

func (e *Executor) reject(o *Order, reason string) *Order {
	o.Status = StatusRejected
	o.RejectReason = reason
	logger.Debugf("[exec] 订单被拒绝: %s %s %s - %s", o.ID, o.Side, o.Symbol, reason)
	return o
}

// Orders 返回全部订单的快照。
func (e *Executor) Orders() []Order {
	return e.filter(func(*Order) bool { return true })
}

func (e *Executor) FilledOrders() []Order {
	return e.filter(func(o *Order) bool { return o.Status == StatusFilled })
}

func (e *Executor) RejectedOrders() []Order {
	return e.filter(func(o *Order) bool { return o.Status == StatusRejected })
}

func (e *Executor) filter(keep func(*Order) bool) []Order {
	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	return out
}

// Reset 清空订单历史。
func (e *Executor) Reset() {
	e.orders = nil
}
