package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mreyes/signalrunner/models"
)

// restTrade mirrors the hub's REST representation of one open trade; it is
// intentionally narrower than models.TradeOpen since the hub only knows
// about the signal side of a position, not the engine's funding internals.
type restTrade struct {
	TradeID      string `json:"trade_id"`
	StrategyID   string `json:"strategy_id"`
	StrategyName string `json:"strategy_name"`
	Symbol       string `json:"symbol"`
	PositionType string `json:"position_type"`
	PriceBuy     string `json:"price_buy"`
}

// FetchOpenTrades calls the hub's REST endpoint for a single strategy's
// open trades (spec.md §6 "Two HTTP calls"), used during startup
// reconciliation (spec.md §4.6) when the engine's own persisted state is
// missing or untrusted.
func (c *Client) FetchOpenTrades(ctx context.Context, strategyID string) ([]*models.TradeOpen, error) {
	return c.getTrades(ctx, restBaseURL(c.url)+"/strategies/"+strategyID+"/trades")
}

// FetchAllOpenTrades calls the hub's REST endpoint for every open trade the
// hub believes the user currently holds.
func (c *Client) FetchAllOpenTrades(ctx context.Context) ([]*models.TradeOpen, error) {
	return c.getTrades(ctx, restBaseURL(c.url)+"/trades")
}

func (c *Client) getTrades(ctx context.Context, url string) ([]*models.TradeOpen, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch open trades: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch open trades: unexpected status %d", resp.StatusCode)
	}

	var rows []restTrade
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode open trades: %w", err)
	}

	out := make([]*models.TradeOpen, 0, len(rows))
	for _, row := range rows {
		priceBuy, err := models.NewDecimalFromString(row.PriceBuy)
		if err != nil {
			continue
		}
		out = append(out, &models.TradeOpen{
			ID:           row.TradeID,
			StrategyID:   row.StrategyID,
			StrategyName: row.StrategyName,
			Symbol:       row.Symbol,
			PositionType: models.PositionType(row.PositionType),
			PriceBuy:     priceBuy,
		})
	}
	return out, nil
}

// restBaseURL derives the hub's HTTP REST root from its websocket URL:
// ws(s):// swaps for http(s)://, and the /socket path (if present) is
// dropped in favor of the REST API's own path prefix.
func restBaseURL(wsURL string) string {
	base := strings.Replace(wsURL, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)
	if i := strings.Index(base, "/socket"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, "/") + "/api"
}
