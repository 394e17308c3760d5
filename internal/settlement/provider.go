// Package settlement 清算处理
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Request 单次清算请求
type Request struct {
	PaymentID         string `json:"paymentId"`
	OrderID           string `json:"orderId"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	AuthorizationCode string `json:"authorizationCode"`
}

// Provider 外部清算通道抽象。返回 error 表示本次尝试失败。
type Provider interface {
	Settle(ctx context.Context, req *Request) error
}

// MockProvider 模拟通道，按失败率随机失败
type MockProvider struct {
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockProvider 创建模拟通道
func NewMockProvider(failureRate float64) *MockProvider {
	return &MockProvider{
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Settle 模拟清算
func (p *MockProvider) Settle(ctx context.Context, req *Request) error {
	p.mu.Lock()
	n := p.rng.Float64()
	p.mu.Unlock()

	if n < p.FailureRate {
		return fmt.Errorf("provider declined payment %s", req.PaymentID)
	}
	return nil
}

// HTTPProvider 真实通道，POST 到清算网关
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider 创建 HTTP 通道
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Settle 调用清算网关
func (p *HTTPProvider) Settle(ctx context.Context, req *Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal settlement request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/settlements", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build settlement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call settlement provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("settlement provider status %s", resp.Status)
	}
	return nil
}
