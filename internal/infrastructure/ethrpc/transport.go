package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Transport is a minimal JSON-RPC 2.0 client over HTTP. It is shared by the
// chain, bundler and paymaster clients.
type Transport struct {
	name       string
	url        string
	httpClient *http.Client
	idCounter  uint64
}

// NewTransport validates endpoint and returns a transport labelled name in
// traces.
func NewTransport(name, endpoint string, timeout time.Duration) (*Transport, error) {
	if err := ValidateEndpoint(endpoint); err != nil {
		return nil, fmt.Errorf("%s endpoint: %w", name, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Transport{
		name:       name,
		url:        endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// ValidateEndpoint accepts absolute http(s) URLs only.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("url is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("url host is required")
	}
	return nil
}

// RPCError is an error object returned by the remote endpoint. Message is
// kept verbatim so callers can show it to users.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) RemoteMessage() string {
	return e.Message
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Call invokes method and decodes the result into result. A JSON null result
// leaves pointer results nil.
func (t *Transport) Call(ctx context.Context, method string, params []any, result any) error {
	ctx, span := otel.Tracer("aawallet/ethrpc").Start(ctx, t.name+"."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
			attribute.String("rpc.endpoint", t.name),
		),
	)
	defer span.End()

	if err := t.call(ctx, method, params, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (t *Transport) call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	id := atomic.AddUint64(&t.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil || len(decoded.Result) == 0 || string(decoded.Result) == "null" {
		return nil
	}
	return json.Unmarshal(decoded.Result, result)
}
