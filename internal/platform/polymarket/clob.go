// Package polymarket implements the venue adapters: the market-data
// WebSocket, the CLOB REST client used for order submission, and interval
// market resolution.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mkarlin/updownbot/internal/crypto"
	"github.com/mkarlin/updownbot/internal/domain"
)

// ClobClient is the REST client for the venue's CLOB API: order placement,
// cancellation and market metadata. It implements the executor's Venue
// contract.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth

	// markets maps market ID to the resolved interval market so order
	// requests can be translated to outcome-token orders.
	mu      sync.RWMutex
	markets map[string]IntervalMarket
}

// NewClobClient creates a CLOB REST client.
//
// baseURL is the API root, e.g. "https://clob.polymarket.com". auth may be
// nil for read-only use (market resolution only).
func NewClobClient(baseURL string, auth *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		auth:       auth,
		markets:    make(map[string]IntervalMarket),
	}
}

// RegisterMarket makes an interval market's token mapping available for
// order submission. Called on every market roll.
func (c *ClobClient) RegisterMarket(m IntervalMarket) {
	c.mu.Lock()
	c.markets[m.ID] = m
	c.mu.Unlock()
}

// ResolveIntervalMarket fetches the metadata of the interval market covering
// t and returns its outcome-token mapping.
func (c *ClobClient) ResolveIntervalMarket(ctx context.Context, prefix string, t time.Time) (IntervalMarket, error) {
	slug := IntervalMarketID(prefix, t)

	respBody, err := c.doRequest(ctx, http.MethodGet, "/markets/"+slug, nil)
	if err != nil {
		return IntervalMarket{}, fmt.Errorf("polymarket/clob: resolve market %s: %w", slug, err)
	}

	var api APIMarket
	if err := json.Unmarshal(respBody, &api); err != nil {
		return IntervalMarket{}, fmt.Errorf("polymarket/clob: decode market %s: %w", slug, err)
	}

	start := IntervalStart(t)
	m := IntervalMarket{
		ID:        slug,
		StartTime: start,
		EndTime:   start.Add(IntervalLength),
	}
	for _, tok := range api.Tokens {
		switch tok.Outcome {
		case "Up", "Yes":
			m.UpAssetID = tok.TokenID
		case "Down", "No":
			m.DownAssetID = tok.TokenID
		}
	}
	if m.UpAssetID == "" || m.DownAssetID == "" {
		return IntervalMarket{}, fmt.Errorf("polymarket/clob: market %s: missing outcome tokens: %w", slug, domain.ErrNotFound)
	}
	return m, nil
}

// SubmitOrder places one limit order and returns the venue acknowledgment.
func (c *ClobClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	c.mu.RLock()
	market, known := c.markets[req.MarketID]
	c.mu.RUnlock()
	if !known {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: market %s not registered: %w", req.MarketID, domain.ErrNotFound)
	}

	body := map[string]any{
		"order": map[string]any{
			"tokenID":   market.AssetID(req.Side),
			"price":     strconv.FormatFloat(req.LimitPrice, 'f', 4, 64),
			"size":      strconv.FormatFloat(req.Quantity, 'f', 2, 64),
			"side":      sideToAPI(req.Direction),
			"clientID":  req.ID,
			"orderType": "FAK",
		},
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := apiResult.ToDomainOrderResult(req.Quantity)
	if !apiResult.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", apiResult.ErrorMsg)
	}
	return result, nil
}

// CancelOrder cancels the unfilled remainder of an order.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// Resolution returns the winning side of a settled market, or false while
// unresolved.
func (c *ClobClient) Resolution(ctx context.Context, marketID string) (domain.TokenSide, bool, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/markets/"+marketID, nil)
	if err != nil {
		return "", false, fmt.Errorf("polymarket/clob: resolution of %s: %w", marketID, err)
	}

	var api APIMarket
	if err := json.Unmarshal(respBody, &api); err != nil {
		return "", false, fmt.Errorf("polymarket/clob: decode market %s: %w", marketID, err)
	}
	if !api.Closed {
		return "", false, nil
	}
	for _, tok := range api.Tokens {
		if tok.Winner {
			switch tok.Outcome {
			case "Up", "Yes":
				return domain.TokenSideUp, true, nil
			case "Down", "No":
				return domain.TokenSideDown, true, nil
			}
		}
	}
	return "", false, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, signs, sends and reads an HTTP request against the CLOB
// API, returning the raw response body.
func (c *ClobClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	if statusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, string(body))
	}
	return fmt.Errorf("HTTP %d: %s", statusCode, string(body))
}

func sideToAPI(dir domain.OrderSide) string {
	if dir == domain.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}
