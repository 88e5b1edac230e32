package bybit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"voltrap/internal/gateway/exchange"
)

// Trading 接口实现。所有方法都假定调用方已经套了有限超时的 context。

func (c *Client) GetOpenPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	query := url.Values{}
	query.Set("category", c.category)
	query.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	var result positionList
	if err := c.get(ctx, "/v5/position/list", query, &result); err != nil {
		return nil, err
	}
	for _, entry := range result.List {
		if pos := entry.toPosition(); pos != nil {
			return pos, nil
		}
	}
	return nil, nil
}

func (c *Client) GetBalance(ctx context.Context, accountClass string) (exchange.Balance, error) {
	accountClass = strings.ToUpper(strings.TrimSpace(accountClass))
	if accountClass == "" {
		accountClass = "UNIFIED"
	}
	query := url.Values{}
	query.Set("accountType", accountClass)
	var result walletBalanceList
	if err := c.get(ctx, "/v5/account/wallet-balance", query, &result); err != nil {
		return exchange.Balance{}, err
	}
	for _, acct := range result.List {
		if !strings.EqualFold(acct.AccountType, accountClass) {
			continue
		}
		for _, coin := range acct.Coin {
			if !strings.EqualFold(coin.Coin, "USDT") {
				continue
			}
			available := parseFloat(coin.AvailableToWithdraw)
			if available <= 0 {
				available = parseFloat(coin.WalletBalance)
			}
			return exchange.Balance{
				AccountClass: accountClass,
				Coin:         coin.Coin,
				Equity:       parseFloat(coin.Equity),
				Available:    available,
				UpdatedAt:    time.Now(),
			}, nil
		}
	}
	return exchange.Balance{AccountClass: accountClass, Coin: "USDT", UpdatedAt: time.Now()}, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("杠杆倍数无效: %d", leverage)
	}
	payload := setLeveragePayload{
		Category:     c.category,
		Symbol:       strings.ToUpper(strings.TrimSpace(symbol)),
		BuyLeverage:  fmt.Sprintf("%d", leverage),
		SellLeverage: fmt.Sprintf("%d", leverage),
	}
	return c.post(ctx, "/v5/position/set-leverage", payload, nil)
}

func (c *Client) SubmitLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (string, error) {
	if req.Qty <= 0 || req.Price <= 0 {
		return "", fmt.Errorf("限价单参数无效: qty=%f price=%f", req.Qty, req.Price)
	}
	tif := strings.TrimSpace(req.TimeInForce)
	if tif == "" {
		tif = "GTC"
	}
	payload := orderCreatePayload{
		Category:    c.category,
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:        string(req.Side),
		OrderType:   "Limit",
		Qty:         formatFloat(req.Qty),
		Price:       formatFloat(req.Price),
		TimeInForce: tif,
		OrderLinkID: strings.TrimSpace(req.OrderLinkID),
	}
	var result orderCreateResult
	if err := c.post(ctx, "/v5/order/create", payload, &result); err != nil {
		return "", err
	}
	if strings.TrimSpace(result.OrderID) == "" {
		return "", fmt.Errorf("bybit 未返回 orderId")
	}
	return result.OrderID, nil
}

func (c *Client) SubmitMarketClose(ctx context.Context, req exchange.MarketCloseRequest) (string, error) {
	if req.Qty <= 0 {
		return "", fmt.Errorf("平仓数量无效: %f", req.Qty)
	}
	payload := orderCreatePayload{
		Category:   c.category,
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:       string(req.Side),
		OrderType:  "Market",
		Qty:        formatFloat(req.Qty),
		ReduceOnly: true,
	}
	var result orderCreateResult
	if err := c.post(ctx, "/v5/order/create", payload, &result); err != nil {
		return "", err
	}
	return result.OrderID, nil
}

// GetOrderStatus 先查活动单，再回落历史单；两边都没有则返回 ErrOrderNotFound。
func (c *Client) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("orderID 不能为空")
	}
	if order, err := c.queryOrder(ctx, "/v5/order/realtime", symbol, orderID); err != nil {
		return nil, err
	} else if order != nil {
		return order, nil
	}
	if order, err := c.queryOrder(ctx, "/v5/order/history", symbol, orderID); err != nil {
		return nil, err
	} else if order != nil {
		return order, nil
	}
	return nil, exchange.ErrOrderNotFound
}

func (c *Client) queryOrder(ctx context.Context, path, symbol, orderID string) (*exchange.Order, error) {
	query := url.Values{}
	query.Set("category", c.category)
	query.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	query.Set("orderId", orderID)
	var result orderList
	if err := c.get(ctx, path, query, &result); err != nil {
		return nil, err
	}
	for _, entry := range result.List {
		if entry.OrderID == orderID {
			return entry.toOrder(), nil
		}
	}
	return nil, nil
}

func (c *Client) SetTradingStop(ctx context.Context, symbol string, levels exchange.StopLevels) error {
	payload := tradingStopPayload{
		Category:    c.category,
		Symbol:      strings.ToUpper(strings.TrimSpace(symbol)),
		PositionIdx: 0,
	}
	touched := false
	if levels.TakeProfit != nil {
		payload.TakeProfit = formatFloat(*levels.TakeProfit)
		if *levels.TakeProfit == 0 {
			payload.TakeProfit = "0"
		}
		touched = true
	}
	if levels.StopLoss != nil {
		payload.StopLoss = formatFloat(*levels.StopLoss)
		if *levels.StopLoss == 0 {
			payload.StopLoss = "0"
		}
		touched = true
	}
	if !touched {
		return nil
	}
	return c.post(ctx, "/v5/position/trading-stop", payload, nil)
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (exchange.PriceQuote, error) {
	query := url.Values{}
	query.Set("category", c.category)
	query.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	var result tickerList
	if err := c.get(ctx, "/v5/market/tickers", query, &result); err != nil {
		return exchange.PriceQuote{}, err
	}
	if len(result.List) == 0 {
		return exchange.PriceQuote{}, fmt.Errorf("bybit tickers 返回为空: %s", symbol)
	}
	entry := result.List[0]
	quote := exchange.PriceQuote{
		Symbol:    strings.ToUpper(entry.Symbol),
		Last:      parseFloat(entry.LastPrice),
		MarkPrice: parseFloat(entry.MarkPrice),
		Bid:       parseFloat(entry.Bid1Price),
		Ask:       parseFloat(entry.Ask1Price),
		UpdatedAt: time.Now(),
	}
	if quote.Last <= 0 {
		return exchange.PriceQuote{}, fmt.Errorf("bybit ticker 价格无效: %s", entry.LastPrice)
	}
	return quote, nil
}
