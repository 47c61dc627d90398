// Package ledger credits point balances held by the external account
// service. The service only exposes relative credits; every request carries
// an Idempotency-Key so a retried credit is applied once.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"checkin-backend/checkin"
)

type creditRequest struct {
	AccountKind string `json:"account_kind"`
	AccountID   string `json:"account_id"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	Source      string `json:"source"`
}

// Client implements checkin.Ledger over HTTP.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Credit posts one credit. A 409 means the service already applied this key.
func (c *Client) Credit(ctx context.Context, credit checkin.Credit) error {
	body, err := json.Marshal(creditRequest{
		AccountKind: credit.AccountKind,
		AccountID:   credit.AccountID,
		Amount:      credit.Amount,
		Reference:   credit.EventID,
		Source:      "check_in",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/credits", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", credit.IdempotencyKey())
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("account service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("account service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
