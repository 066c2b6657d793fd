// Package transport sends the oracle's outbound HTTP: signed webhook
// deliveries, CVAT calls and escrow gateway reads.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/goliatone/go-oracle/core"
)

const (
	DefaultTimeout = 30 * time.Second
	// DefaultBodyLimit caps response bodies; CVAT annotation archives are
	// the largest payloads read.
	DefaultBodyLimit int64 = 64 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type BasicAuth struct {
	Username string
	Password string
}

// Request describes one call. JSON, when set, is encoded as the body and
// wins over Body.
type Request struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      []byte
	JSON      any
	BasicAuth *BasicAuth
	Timeout   time.Duration
	BodyLimit int64
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Snippet returns the start of the body for error messages.
func (r Response) Snippet() string {
	const limit = 256
	if len(r.Body) <= limit {
		return string(r.Body)
	}
	return string(r.Body[:limit]) + "..."
}

type ClientConfig struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
	Logger       core.Logger
}

// NewHTTPClient returns a go-retryablehttp backed client that retries
// connection errors and 5xx. Once retries run out the last response is
// returned as is so callers decide what the status means.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	retrying := retryablehttp.NewClient()
	retrying.RetryMax = max(cfg.RetryMax, 0)
	if cfg.RetryWaitMin > 0 {
		retrying.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		retrying.RetryWaitMax = cfg.RetryWaitMax
	}
	retrying.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retrying.Logger = nil
	if cfg.Logger != nil {
		retrying.Logger = retryablehttp.LeveledLogger(cfg.Logger)
	}
	client := retrying.StandardClient()
	client.Timeout = cfg.Timeout
	if client.Timeout <= 0 {
		client.Timeout = DefaultTimeout
	}
	return client
}

type RESTAdapter struct {
	Client    HTTPDoer
	UserAgent string
	BodyLimit int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = NewHTTPClient(ClientConfig{})
	}
	return &RESTAdapter{Client: client, UserAgent: "go-oracle", BodyLimit: DefaultBodyLimit}
}

// Do sends req. Network failures, timeouts and oversized bodies come back
// as external errors; every HTTP status is a Response.
func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, misconfigured("transport: rest adapter has no http client")
	}
	httpReq, cancel, err := a.build(ctx, req)
	if err != nil {
		return Response{}, err
	}
	defer cancel()

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, exchangeFailed(httpReq, "send request", err)
	}
	defer httpRes.Body.Close()

	limit := a.BodyLimit
	if req.BodyLimit > 0 {
		limit = req.BodyLimit
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, exchangeFailed(httpReq, "read response", err)
	}
	if int64(len(body)) > limit {
		return Response{}, exchangeFailed(httpReq, fmt.Sprintf("response larger than %d bytes", limit), nil)
	}
	return Response{
		StatusCode: httpRes.StatusCode,
		Header:     httpRes.Header.Clone(),
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

func (a *RESTAdapter) build(ctx context.Context, req Request) (*http.Request, context.CancelFunc, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target := strings.TrimSpace(req.URL)
	body := req.Body
	if req.JSON != nil {
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, nil, invalidRequest(target, "encode json body", err)
		}
		body = encoded
	}

	cancel := context.CancelFunc(func() {})
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, invalidRequest(target, "build request", err)
	}
	if httpReq.URL.Host == "" {
		cancel()
		return nil, nil, invalidRequest(target, "url has no host", nil)
	}

	if a.UserAgent != "" {
		httpReq.Header.Set("User-Agent", a.UserAgent)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.JSON != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		if key = strings.TrimSpace(key); key != "" {
			httpReq.Header.Set(key, strings.TrimSpace(value))
		}
	}
	if req.BasicAuth != nil && req.BasicAuth.Username != "" {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}
	return httpReq, cancel, nil
}
