// Package edge 通过 Supabase Edge Functions / PostgREST 访问菜单与身份数据。
package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gacha-admin/internal/metrics"
	"gacha-admin/internal/repository"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("repository/edge")

// ErrNoCredentials 请求 context 中没有可转发的 access token
var ErrNoCredentials = errors.New("edge: access token required")

// Error 非成功响应；Message 取自 envelope.error
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("edge: status %d: %s", e.Status, e.Message)
}

// StatusCode 上游 HTTP 状态码，handler 据此映射业务码
func (e *Error) StatusCode() int { return e.Status }

type Config struct {
	BaseURL       string
	FunctionsPath string
	RestPath      string
	AnonKey       string
	Timeout       time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}}
}

// NewWithHTTPClient 测试注入
func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	c := New(cfg)
	c.http = hc
	return c
}

// envelope {success, data, error}；error 可能是字符串也可能是 {message}
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}
	return string(raw)
}

type call struct {
	op       string
	method   string
	url      string
	body     any
	bearer   string
	apiKey   bool
	envelope bool
}

func (c *Client) functionURL(endpoint string) string {
	return c.cfg.BaseURL + c.cfg.FunctionsPath + endpoint
}

func (c *Client) restURL(endpoint string) string {
	return c.cfg.BaseURL + c.cfg.RestPath + endpoint
}

// userToken 取当前请求的 access token
func userToken(ctx context.Context) (string, error) {
	cred, ok := repository.CredentialsFrom(ctx)
	if !ok || cred.AccessToken == "" {
		return "", ErrNoCredentials
	}
	return cred.AccessToken, nil
}

func (c *Client) do(ctx context.Context, cl call, out any) (err error) {
	ctx, span := tracer.Start(ctx, "edge."+cl.op)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", cl.method), attribute.String("edge.op", cl.op))
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.RepositoryDuration.WithLabelValues("edge", cl.op, result).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("edge %s: encode body: %w", cl.op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, cl.url, body)
	if err != nil {
		return fmt.Errorf("edge %s: new request: %w", cl.op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cl.bearer)
	if cl.apiKey && c.cfg.AnonKey != "" {
		req.Header.Set("apikey", c.cfg.AnonKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("edge %s: %w", cl.op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("edge %s: read body: %w", cl.op, err)
	}

	if !cl.envelope {
		if resp.StatusCode >= 300 {
			return &Error{Status: resp.StatusCode, Message: restErrorMessage(raw, resp.Status)}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("edge %s: decode: %w", cl.op, err)
		}
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &Error{Status: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("edge %s: decode envelope: %w", cl.op, err)
	}
	if !env.Success || resp.StatusCode >= 300 {
		msg := errorMessage(env.Error)
		if msg == "" {
			msg = "API call failed"
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("edge %s: decode data: %w", cl.op, err)
	}
	return nil
}

// PostgREST 错误体 {message, code, details}
func restErrorMessage(raw []byte, fallback string) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return e.Message
	}
	return fallback
}
