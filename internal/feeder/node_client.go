package feeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/sbtcoptions/internal/crypto"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// OracleView is the node's GET /api/oracle response.
type OracleView struct {
	Updater       string `json:"updater"`
	Price         uint64 `json:"price"`
	UpdatedHeight uint64 `json:"updated_height"`
}

// NodeClient talks to a node's HTTP API.
type NodeClient struct {
	baseURL string
	apiKey  string
	auth    *crypto.HMACAuth
	client  *http.Client
}

// NewNodeClient creates a client for baseURL. A non-empty hmacSecret signs
// every request; otherwise a non-empty apiKey is sent as a bearer token.
func NewNodeClient(baseURL, apiKey, hmacSecret string) *NodeClient {
	c := &NodeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	if hmacSecret != "" {
		c.auth = &crypto.HMACAuth{Key: apiKey, Secret: hmacSecret}
	}
	return c
}

// SubmitTx posts call to /api/tx and returns the transaction id.
func (c *NodeClient) SubmitTx(ctx context.Context, call domain.Call) (string, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("feeder: marshal call: %w", err)
	}
	var out struct {
		TxID string `json:"tx_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tx", body, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// Oracle fetches the node's oracle state.
func (c *NodeClient) Oracle(ctx context.Context) (OracleView, error) {
	var out OracleView
	err := c.do(ctx, http.MethodGet, "/api/oracle", nil, &out)
	return out, err
}

func (c *NodeClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("feeder: %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.auth != nil:
		for k, v := range c.auth.Headers(method, path, string(body)) {
			req.Header.Set(k, v)
		}
	case c.apiKey != "":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("feeder: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("feeder: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("feeder: decode %s: %w", path, err)
	}
	return nil
}
