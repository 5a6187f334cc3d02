// Package http sends RPC calls as single POST /rpc exchanges.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/surrealdb/surrealtodo/internal/rand"
	"github.com/surrealdb/surrealtodo/pkg/connection"
)

type Connection struct {
	cfg        connection.Config
	httpClient *http.Client
}

var _ connection.Sender = (*Connection)(nil)

func New(cfg *connection.Config) *Connection {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = connection.DefaultTimeout
	}
	return &Connection{
		cfg: *cfg,
		httpClient: &http.Client{
			Timeout: timeout, // Set a default timeout to avoid hanging requests
		},
	}
}

func (c *Connection) SetHTTPClient(client *http.Client) *Connection {
	c.httpClient = client
	return c
}

// Connect checks that the server answers GET /health.
func (c *Connection) Connect(ctx context.Context) error {
	return c.Health(ctx)
}

func (c *Connection) Health(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return connection.ErrNoBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", http.NoBody)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *Connection) Close(context.Context) error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	request := &connection.RPCRequest{
		ID:     rand.NewRequestID(rand.RequestIDLength),
		Method: method,
		Params: params,
	}
	reqBody, err := connection.Codec.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rpc", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", connection.Codec.ContentType())
	req.Header.Set("Content-Type", connection.Codec.ContentType())
	req.Header.Set("Surreal-NS", c.cfg.Namespace)
	req.Header.Set("Surreal-DB", c.cfg.Database)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	respData, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var res connection.RPCResponse[cbor.RawMessage]
	if err := connection.Codec.Unmarshal(respData, &res); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if res.Error != nil {
		return nil, res.Error
	}

	return &res, nil
}

func (c *Connection) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBytes, nil
	}

	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if contentType == connection.Codec.ContentType() {
		var errorResponse connection.RPCResponse[any]
		if err := connection.Codec.Unmarshal(respBytes, &errorResponse); err == nil && errorResponse.Error != nil {
			return nil, errorResponse.Error
		}
	}
	return nil, &connection.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBytes))}
}
