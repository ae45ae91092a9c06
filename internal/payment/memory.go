package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Gateway used for local development and tests.  It
// deduplicates refunds by idempotency key the same way the real processor
// does and can be told to fail or stall.
type Memory struct {
	mu      sync.Mutex
	refunds map[string]RefundReceipt
	calls   []RefundRequest

	// FailWith, when set, is returned by every Refund call.
	FailWith error
	// Delay stalls every call, honouring ctx cancellation.
	Delay time.Duration
}

// NewMemory returns an empty Memory gateway.
func NewMemory() *Memory {
	return &Memory{refunds: make(map[string]RefundReceipt)}
}

// Refund records the refund, replaying the first receipt for a repeated key.
func (m *Memory) Refund(ctx context.Context, req RefundRequest) (RefundReceipt, error) {
	if err := m.wait(ctx); err != nil {
		return RefundReceipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.FailWith != nil {
		return RefundReceipt{}, m.FailWith
	}
	if r, ok := m.refunds[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return r, nil
	}
	r := RefundReceipt{ID: "re_" + uuid.NewString(), Amount: req.Amount, Status: "succeeded"}
	if req.IdempotencyKey != "" {
		m.refunds[req.IdempotencyKey] = r
	}
	return r, nil
}

// CreateCheckoutSession returns a fake hosted page.
func (m *Memory) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if err := m.wait(ctx); err != nil {
		return CheckoutSession{}, err
	}
	id := "cs_" + uuid.NewString()
	return CheckoutSession{
		ID:        id,
		URL:       fmt.Sprintf("https://checkout.invalid/%s?amount=%s", id, req.Amount.StringFixed(2)),
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}, nil
}

// Calls returns every refund request received, including failed ones.
func (m *Memory) Calls() []RefundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RefundRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Refunded sums the distinct refunds recorded.
func (m *Memory) Refunded() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, r := range m.refunds {
		total = total.Add(r.Amount)
	}
	return total
}

func (m *Memory) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(m.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
