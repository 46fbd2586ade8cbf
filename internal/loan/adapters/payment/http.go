// Package payment adapts the payment/disbursement collaborator.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vericrop/internal/loan"
)

// Client calls the payment HTTP API. It never retries: the collaborator
// deduplicates by idempotency token, and the engine avoids double payment
// by leaving retries to operators.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type disburseRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Reference   string `json:"reference"`
}

type disburseResponse struct {
	DisbursementRef string `json:"disbursement_ref"`
}

func (c *Client) Disburse(ctx context.Context, req loan.DisbursementRequest) (string, error) {
	body, err := json.Marshal(disburseRequest{
		Amount:      fmt.Sprintf("%.2f", req.Amount),
		Currency:    "INR",
		Destination: req.Destination,
		Reference:   req.LoanID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("encode disbursement: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/disbursements", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build disbursement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyToken)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("disbursement request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read disbursement response: %w", err)
	}
	return parseDisburseResponse(resp.StatusCode, respBody)
}

func parseDisburseResponse(status int, body []byte) (string, error) {
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("payment collaborator returned status %d", status)
	}
	var resp disburseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode disbursement response: %w", err)
	}
	if resp.DisbursementRef == "" {
		return "", fmt.Errorf("payment collaborator returned no reference")
	}
	return resp.DisbursementRef, nil
}
