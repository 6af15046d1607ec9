package execution

import (
	"github.com/google/uuid"
)

// Side 是订单方向。
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Status 是订单状态；PENDING 只会迁移一次到终态。
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusFilled          Status = "FILLED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusRejected        Status = "REJECTED"
	StatusCancelled       Status = "CANCELLED"
)

// Terminal 判断状态是否已终结。
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Order 是市价单请求及其执行结果。Quantity 可能被风控下调。
type Order struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Side           Side    `json:"side"`
	Quantity       int     `json:"quantity"`
	Price          float64 `json:"price"`
	Status         Status  `json:"status"`
	FilledQuantity int     `json:"filled_quantity"`
	FilledPrice    float64 `json:"filled_price"`
	Commission     float64 `json:"commission"`
	RejectReason   string  `json:"reject_reason,omitempty"`
	// Note 记录下单原因，如触发的止损规则或融合后的信号强度。
	Note           string  `json:"note,omitempty"`
	Date           string  `json:"date"`
}

func newOrderID() string {
	return uuid.NewString()[:8]
}
