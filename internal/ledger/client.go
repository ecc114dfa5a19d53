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
)

const (
	rpcTimeout       = 15 * time.Second
	rpcMaxBodyBytes  = 10 << 20
	rpcUserAgent     = "todochain/1.0"
	DefaultPageLimit = 50
)

// Client is a JSON-RPC implementation of QueryClient over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a client for the given JSON-RPC endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: rpcTimeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// GetOwnedObjects requests one page of objects owned by query.Owner.
func (c *Client) GetOwnedObjects(ctx context.Context, query OwnedObjectsQuery) (*ObjectsPage, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	request := map[string]any{
		"options": map[string]any{"showContent": true, "showType": true},
	}
	if strings.TrimSpace(query.StructType) != "" {
		request["filter"] = map[string]any{"StructType": query.StructType}
	}

	params := []any{query.Owner, request, nullableCursor(query.Cursor), limit}

	var page ObjectsPage

	err := c.call(ctx, "suix_getOwnedObjects", params, &page)
	if err != nil {
		return nil, fmt.Errorf("get owned objects for %s: %w", query.Owner, err)
	}

	return &page, nil
}

// GetObject looks up a single object by identifier.
func (c *Client) GetObject(ctx context.Context, objectID string) (*RawObject, error) {
	params := []any{objectID, map[string]any{"showContent": true, "showType": true}}

	var obj RawObject

	err := c.call(ctx, "sui_getObject", params, &obj)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectID, err)
	}

	return &obj, nil
}

// MultiGetObjects looks up a batch of objects by identifier.
func (c *Client) MultiGetObjects(ctx context.Context, objectIDs []string) ([]RawObject, error) {
	if len(objectIDs) == 0 {
		return nil, nil
	}

	params := []any{objectIDs, map[string]any{"showContent": true, "showType": true}}

	var objects []RawObject

	err := c.call(ctx, "sui_multiGetObjects", params, &objects)
	if err != nil {
		return nil, fmt.Errorf("multi get %d objects: %w", len(objectIDs), err)
	}

	return objects, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", rpcUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", method, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, method)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, rpcMaxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope rpcResponse

	err = json.Unmarshal(data, &envelope)
	if err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}

	if envelope.Error != nil {
		return fmt.Errorf("%s failed: %w", method, envelope.Error)
	}

	if result == nil || len(envelope.Result) == 0 {
		return nil
	}

	err = json.Unmarshal(envelope.Result, result)
	if err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}

	return nil
}

func nullableCursor(cursor string) any {
	if strings.TrimSpace(cursor) == "" {
		return nil
	}

	return cursor
}
