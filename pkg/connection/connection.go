// Package connection carries RPC calls to the remote document database.
//
// Requests and responses are CBOR encoded envelopes. Transports live in the
// http and gorillaws subpackages and share the types defined here.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/surrealdb/surrealtodo/internal/codec"
	"github.com/surrealdb/surrealtodo/pkg/logger"
)

var (
	ErrIDInUse         = errors.New("id already in use")
	ErrTimeout         = errors.New("timeout")
	ErrNoBaseURL       = errors.New("base url not set")
	ErrNoNamespaceOrDB = errors.New("namespace or database or both are not set")
	ErrClosed          = errors.New("connection closed")
)

// DefaultTimeout bounds each call when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Sender sends one RPC call and waits for its response.
type Sender interface {
	Send(ctx context.Context, method string, params ...any) (*RPCResponse[cbor.RawMessage], error)
	Close(ctx context.Context) error
}

type Config struct {
	// BaseURL is scheme://host[:port] of the server, without a path.
	BaseURL   string
	Namespace string
	Database  string
	// Token is sent as a bearer token (HTTP) or with authenticate (WebSocket).
	Token   string
	Timeout time.Duration
	Logger  logger.Logger
}

// NewConfig creates a Config for the endpoint u, e.g. "ws://localhost:8000/rpc"
// or "http://localhost:8000".
func NewConfig(u *url.URL) *Config {
	return &Config{
		BaseURL: fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		Timeout: DefaultTimeout,
		Logger:  logger.Default(),
	}
}

// Validate checks that the config can reach a database.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	if c.Namespace == "" || c.Database == "" {
		return ErrNoNamespaceOrDB
	}
	return nil
}

// Codec is the wire encoding of every transport.
var Codec codec.Codec = codec.CBOR{}

// Send calls method and decodes the result into res.Result.
// res may be nil when the result is not needed.
func Send[Result any](c Sender, ctx context.Context, res *RPCResponse[Result], method string, params ...any) error {
	rawRes, err := c.Send(ctx, method, params...)
	if err != nil {
		return err
	}

	if res == nil {
		return nil
	}

	res.ID = rawRes.ID
	res.Error = rawRes.Error

	if rawRes.Result == nil {
		res.Result = nil
		return nil
	}

	var r Result
	if err := Codec.Unmarshal(*rawRes.Result, &r); err != nil {
		return fmt.Errorf("Send: error unmarshaling result: %w", err)
	}
	res.Result = &r

	return nil
}
