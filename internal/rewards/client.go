// Package rewards предоставляет клиент для внешней системы вознаграждений.
package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с системой вознаграждений.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// OrderReward описывает решение системы вознаграждений по одному заказу.
// Points — сумма баллов за заказ, ExpiresInDays — срок их жизни в днях
// (nil означает бессрочные баллы).
type OrderReward struct {
	Order         string `json:"order"`
	Status        string `json:"status"`
	Points        *int64 `json:"points,omitempty"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty"`
}

// NewClient создаёт HTTP-клиент для обращения к системе вознаграждений по указанному адресу.
func NewClient(baseURL string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.Logger = nil
	httpClient.HTTPClient.Timeout = 5 * time.Second

	// 429 и 204 обрабатываются вызывающим кодом, ретраим только сетевые сбои и 5xx.
	httpClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err != nil || resp == nil {
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
		return resp.StatusCode >= http.StatusInternalServerError, nil
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// GetOrderReward запрашивает решение о вознаграждении для указанного номера заказа.
func (c *Client) GetOrderReward(ctx context.Context, number string) (*OrderReward, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("rewards client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/orders/%s", base, number)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.StatusCode, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result OrderReward
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return &result, resp.StatusCode, 0, nil
}
