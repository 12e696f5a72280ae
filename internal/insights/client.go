// Package insights предоставляет клиент для внешнего генератора рекомендаций маляру.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/painter-loyalty/internal/model"
)

const maxBodySize = 1 << 20

// Client инкапсулирует HTTP-взаимодействие с генератором рекомендаций.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// Request описывает агрегированные данные маляра, передаваемые генератору.
type Request struct {
	PainterID           int64      `json:"painterId"`
	TotalConsumed       int64      `json:"totalConsumed"`
	TotalAccrued        string     `json:"totalAccrued"`
	TotalRedeemed       string     `json:"totalRedeemed"`
	Pending             string     `json:"pending"`
	LastConsumedAt      *time.Time `json:"lastConsumedAt,omitempty"`
	LastPurchaseDaysAgo *int       `json:"lastPurchaseDaysAgo,omitempty"`
}

// RateLimitError возвращается, если генератор ответил 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("insights generator rate limited, retry after %s", e.RetryAfter)
}

// NewClient создаёт HTTP-клиент для обращения к генератору по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

// NewRequest формирует запрос к генератору по агрегированным данным маляра.
func NewRequest(stats model.PainterStats, now time.Time) Request {
	req := Request{
		PainterID:      stats.PainterID,
		TotalConsumed:  stats.ConsumedCount,
		TotalAccrued:   stats.TotalAccrued.String(),
		TotalRedeemed:  stats.TotalRedeemed.String(),
		Pending:        stats.Pending.String(),
		LastConsumedAt: stats.LastConsumedAt,
	}
	if stats.LastConsumedAt != nil {
		days := int(now.Sub(*stats.LastConsumedAt).Hours() / 24)
		req.LastPurchaseDaysAgo = &days
	}
	return req
}

// Generate запрашивает рекомендации для маляра. Если генератор вернул не JSON,
// текст ответа сохраняется в поле Raw.
func (c *Client) Generate(ctx context.Context, stats model.PainterStats) (*model.Insights, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("insights client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload, err := json.Marshal(NewRequest(stats, c.now()))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/insights", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result model.Insights
	if err := json.Unmarshal(body, &result); err != nil {
		return &model.Insights{Raw: strings.TrimSpace(string(body))}, nil
	}

	return &result, nil
}
