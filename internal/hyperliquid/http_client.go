package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/concurrency"
	"github.com/hlindexer/pnl-indexer/internal/logger"
	"github.com/hlindexer/pnl-indexer/internal/ratebudget"
)

// HTTPClient is the /info POST caller. Every call withdraws from budget
// before the request goes out, and retries transient failures with
// exponential backoff while treating 4xx (other than 429) as terminal.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	budget     *ratebudget.Budget
	breaker    *concurrency.CircuitBreaker
}

// NewHTTPClient builds a client against baseURL, sharing budget with the
// WebSocket client so both transports draw from one bucket.
func NewHTTPClient(baseURL string, budget *ratebudget.Budget) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		budget:     budget,
		breaker: concurrency.NewCircuitBreaker(concurrency.CircuitBreakerConfig{
			Name:             "hyperliquid-http",
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		}),
	}
}

// Info issues one /info request of the given weight and decodes the JSON
// response body into out.
func (c *HTTPClient) Info(ctx context.Context, req InfoRequest, weight ratebudget.Weight, out interface{}) error {
	if err := c.budget.Withdraw(ctx, weight); err != nil {
		return fmt.Errorf("rate budget withdrawal cancelled: %w", err)
	}

	return concurrency.RetryWithBackoff(func() error {
		return c.breaker.Call(func() error {
			return c.doInfo(ctx, req, out)
		})
	}, concurrency.DefaultBackoffConfig())
}

func (c *HTTPClient) doInfo(ctx context.Context, req InfoRequest, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return &FatalError{StatusCode: 0, Body: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("info request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read info response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(respBody, out); err != nil {
			logger.Warn("failed to decode info response, skipping record", "type", req.Type, "error", err.Error())
			return nil
		}
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if secs, err := strconv.Atoi(retryAfter); err == nil {
				time.Sleep(time.Duration(secs) * time.Second)
			}
		}
		return fmt.Errorf("rate limited (429): %s", string(respBody))

	case resp.StatusCode >= 500:
		return fmt.Errorf("upstream server error (%d): %s", resp.StatusCode, string(respBody))

	default:
		return &FatalError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
}
