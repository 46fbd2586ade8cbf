package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vericrop/internal/loan"
)

// InMemory is a payment collaborator that executes each token at most once.
type InMemory struct {
	mu       sync.Mutex
	byToken  map[string]string
	requests []loan.DisbursementRequest
	failNext int
}

func NewInMemory() *InMemory {
	return &InMemory{byToken: make(map[string]string)}
}

// FailNext makes the next n disbursements fail.
func (p *InMemory) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
}

func (p *InMemory) Disburse(ctx context.Context, req loan.DisbursementRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ref, ok := p.byToken[req.IdempotencyToken]; ok {
		return ref, nil
	}
	if p.failNext > 0 {
		p.failNext--
		return "", errors.New("payment rail unavailable")
	}
	ref := fmt.Sprintf("pay-%d", len(p.byToken)+1)
	p.byToken[req.IdempotencyToken] = ref
	p.requests = append(p.requests, req)
	return ref, nil
}

// Executed returns the disbursements actually executed.
func (p *InMemory) Executed() []loan.DisbursementRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]loan.DisbursementRequest(nil), p.requests...)
}
