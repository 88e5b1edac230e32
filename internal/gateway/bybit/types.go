package bybit

import (
	"strconv"
	"strings"
	"time"

	"voltrap/internal/gateway/exchange"
)

// Bybit v5 的数值字段一律是字符串，这里集中做解析。

type positionList struct {
	Category string          `json:"category"`
	List     []positionEntry `json:"list"`
}

type positionEntry struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	MarkPrice     string `json:"markPrice"`
	Leverage      string `json:"leverage"`
	StopLoss      string `json:"stopLoss"`
	TakeProfit    string `json:"takeProfit"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	UpdatedTime   string `json:"updatedTime"`
}

func (p positionEntry) toPosition() *exchange.Position {
	size := parseFloat(p.Size)
	if size <= 0 {
		return nil
	}
	side := exchange.SideBuy
	if strings.EqualFold(p.Side, "Sell") {
		side = exchange.SideSell
	}
	return &exchange.Position{
		Symbol:        strings.ToUpper(p.Symbol),
		Side:          side,
		Size:          size,
		EntryPrice:    parseFloat(p.AvgPrice),
		MarkPrice:     parseFloat(p.MarkPrice),
		Leverage:      parseFloat(p.Leverage),
		StopLoss:      parseFloat(p.StopLoss),
		TakeProfit:    parseFloat(p.TakeProfit),
		UnrealisedPnL: parseFloat(p.UnrealisedPnl),
		UpdatedAt:     parseMilliTime(p.UpdatedTime),
		Raw: map[string]any{
			"side":      p.Side,
			"size":      p.Size,
			"avgPrice":  p.AvgPrice,
			"markPrice": p.MarkPrice,
		},
	}
}

type walletBalanceList struct {
	List []walletAccount `json:"list"`
}

type walletAccount struct {
	AccountType string       `json:"accountType"`
	Coin        []walletCoin `json:"coin"`
}

type walletCoin struct {
	Coin                string `json:"coin"`
	Equity              string `json:"equity"`
	WalletBalance       string `json:"walletBalance"`
	AvailableToWithdraw string `json:"availableToWithdraw"`
}

type orderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderList struct {
	Category string       `json:"category"`
	List     []orderEntry `json:"list"`
}

type orderEntry struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderStatus string `json:"orderStatus"`
	Qty         string `json:"qty"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	CreatedTime string `json:"createdTime"`
}

func (o orderEntry) toOrder() *exchange.Order {
	side := exchange.SideBuy
	if strings.EqualFold(o.Side, "Sell") {
		side = exchange.SideSell
	}
	return &exchange.Order{
		OrderID:      o.OrderID,
		OrderLinkID:  o.OrderLinkID,
		Symbol:       strings.ToUpper(o.Symbol),
		Side:         side,
		Qty:          parseFloat(o.Qty),
		Price:        parseFloat(o.Price),
		AvgFillPrice: parseFloat(o.AvgPrice),
		Status:       mapOrderStatus(o.OrderStatus),
		CreatedAt:    parseMilliTime(o.CreatedTime),
	}
}

func mapOrderStatus(raw string) exchange.OrderStatus {
	switch strings.TrimSpace(raw) {
	case "New", "Untriggered", "Created":
		return exchange.OrderStatusNew
	case "PartiallyFilled":
		return exchange.OrderStatusPartiallyFilled
	case "Filled":
		return exchange.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return exchange.OrderStatusCancelled
	case "Rejected":
		return exchange.OrderStatusRejected
	default:
		return exchange.OrderStatusUnknown
	}
}

type tickerList struct {
	Category string        `json:"category"`
	List     []tickerEntry `json:"list"`
}

type tickerEntry struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
}

type setLeveragePayload struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	BuyLeverage  string `json:"buyLeverage"`
	SellLeverage string `json:"sellLeverage"`
}

type orderCreatePayload struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

type tradingStopPayload struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	TakeProfit  string `json:"takeProfit,omitempty"`
	StopLoss    string `json:"stopLoss,omitempty"`
	PositionIdx int    `json:"positionIdx"`
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func parseMilliTime(v string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
