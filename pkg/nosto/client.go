package nosto

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ==================== 账号凭证 ====================

// Account 调用 Nosto API 所需的商户凭证
type Account struct {
	AccountID string
	APIToken  string
	Domain    string
}

// ==================== 客户端 ====================

const (
	// UpsertTimeout upsert 响应超时 (批量上传较重)
	UpsertTimeout = 60 * time.Second
	// DeleteTimeout delete 响应超时
	DeleteTimeout = 30 * time.Second

	defaultBaseURL = "https://api.nosto.com"
)

// Client Nosto API 客户端
// 自带 QPS 限流，超时后按失败处理，由调用方决定是否补偿
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	baseURL string
}

// NewClient 创建客户端
// baseURL 为空时使用官方地址；限流 5 QPS，突发 10
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:    resty.New(),
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		baseURL: baseURL,
	}
}

// Upsert 批量上传/更新商品快照
func (c *Client) Upsert(ctx context.Context, account Account, products []*Product) error {
	if len(products) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, UpsertTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("限流等待被中断: %w", err)
	}

	url := fmt.Sprintf("%s/v1/products/upsert", c.baseURL)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+account.APIToken).
		SetHeader("X-Nosto-Account", account.AccountID).
		SetHeader("Content-Type", "application/json").
		SetBody(products).
		Post(url)

	if err != nil {
		return fmt.Errorf("网络请求失败: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("Nosto upsert 异常 [%d]: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Delete 通知 Nosto 下架一批商品
func (c *Client) Delete(ctx context.Context, account Account, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, DeleteTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("限流等待被中断: %w", err)
	}

	url := fmt.Sprintf("%s/v1/products/discontinue", c.baseURL)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+account.APIToken).
		SetHeader("X-Nosto-Account", account.AccountID).
		SetHeader("Content-Type", "application/json").
		SetBody(productIDs).
		Post(url)

	if err != nil {
		return fmt.Errorf("网络请求失败: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("Nosto delete 异常 [%d]: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
