package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"rumiprotocol/crypto"
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPClient speaks to a ledger bridge over JSON. Rejections arrive as a
// structured error body and surface as *TransferError so callers can
// react to bad fees and duplicates the same way regardless of transport.
type HTTPClient struct {
	base string
	doer HTTPDoer
}

// NewHTTPClient returns a client for the bridge at base.
func NewHTTPClient(base string, doer HTTPDoer) *HTTPClient {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &HTTPClient{base: strings.TrimRight(base, "/"), doer: doer}
}

type balanceRequest struct {
	Owner string `json:"owner"`
}

type balanceResponse struct {
	BalanceE8s uint64 `json:"balance_e8s"`
}

type feeResponse struct {
	FeeE8s uint64 `json:"fee_e8s"`
}

type transferRequest struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	AmountE8s uint64 `json:"amount_e8s"`
	FeeE8s    uint64 `json:"fee_e8s,omitempty"`
	Memo      uint64 `json:"memo,omitempty"`
	CreatedAt uint64 `json:"created_at,omitempty"`
}

type transferResponse struct {
	BlockIndex uint64 `json:"block_index"`
}

type errorBody struct {
	Error struct {
		Code           string `json:"code"`
		ExpectedFeeE8s uint64 `json:"expected_fee_e8s"`
		BalanceE8s     uint64 `json:"balance_e8s"`
		AllowanceE8s   uint64 `json:"allowance_e8s"`
		DuplicateOf    uint64 `json:"duplicate_of"`
		Message        string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) BalanceOf(ctx context.Context, owner crypto.Address) (uint64, error) {
	var out balanceResponse
	if err := c.post(ctx, "/v1/balance_of", balanceRequest{Owner: owner.String()}, &out); err != nil {
		return 0, err
	}
	return out.BalanceE8s, nil
}

func (c *HTTPClient) Fee(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/fee", nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: build fee request: %w", err)
	}
	var out feeResponse
	if err := c.roundTrip(req, &out); err != nil {
		return 0, err
	}
	return out.FeeE8s, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, args TransferArgs) (uint64, error) {
	body := transferRequest{
		To:        args.To.String(),
		AmountE8s: args.Amount,
		FeeE8s:    args.Fee,
		Memo:      args.Memo,
		CreatedAt: args.CreatedAt,
	}
	var out transferResponse
	if err := c.post(ctx, "/v1/transfer", body, &out); err != nil {
		return 0, err
	}
	return out.BlockIndex, nil
}

func (c *HTTPClient) TransferFrom(ctx context.Context, args TransferFromArgs) (uint64, error) {
	body := transferRequest{
		From:      args.From.String(),
		AmountE8s: args.Amount,
		Memo:      args.Memo,
		CreatedAt: args.CreatedAt,
	}
	var out transferResponse
	if err := c.post(ctx, "/v1/transfer_from", body, &out); err != nil {
		return 0, err
	}
	return out.BlockIndex, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ledger: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.roundTrip(req, out)
}

func (c *HTTPClient) roundTrip(req *http.Request, out any) error {
	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ledger: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var rejection errorBody
		if err := json.Unmarshal(raw, &rejection); err == nil && rejection.Error.Code != "" {
			return &TransferError{
				Code:        rejection.Error.Code,
				ExpectedFee: rejection.Error.ExpectedFeeE8s,
				Balance:     rejection.Error.BalanceE8s,
				Allowance:   rejection.Error.AllowanceE8s,
				DuplicateOf: rejection.Error.DuplicateOf,
				Message:     rejection.Error.Message,
			}
		}
		return fmt.Errorf("ledger: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ledger: decode response: %w", err)
	}
	return nil
}
