// Package gateway is the HTTP client for the remote payment API. Every
// method is a single request with a fixed timeout and no retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"paykiosk/pkg/config"
	"paykiosk/pkg/errors"
	"paykiosk/pkg/models"
	"paykiosk/pkg/order"
	"paykiosk/pkg/utils"
)

const (
	tracerName   = "paykiosk/gateway"
	maxBodyBytes = 1 << 20
)

// Client talks to the remote payment API
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	tracer  trace.Tracer
	logins  *rate.Limiter
	logger  *zap.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTracer sets the tracer used for call spans
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// New creates a client for the configured API
func New(cfg config.GatewayConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if cfg.LoginPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.LoginPerMinute))
		burst = cfg.LoginPerMinute
	}

	c := &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: otel.Tracer(tracerName),
		logins: rate.NewLimiter(limit, burst),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate logs an operator in
func (c *Client) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	if !c.logins.Allow() {
		return nil, errors.ErrTooManyAttempts.Clone()
	}

	status, body, err := c.call(ctx, "authenticate", http.MethodPost, "login", "",
		loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return nil, invalidCredentials(body)
	default:
		return nil, c.statusError("authenticate", status, body)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed("authenticate", err)
	}
	if env.Status != StatusSuccess {
		return nil, invalidCredentials(body)
	}

	var res AuthResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		return nil, malformed("authenticate", err)
	}
	if res.Token == "" {
		return nil, errors.ErrInvalidCredentials.Clone().
			WithContext("reason", "empty token")
	}
	return &res, nil
}

// Logout invalidates the token server side
func (c *Client) Logout(ctx context.Context, token string) error {
	status, body, err := c.call(ctx, "logout", http.MethodPost, "account/logout", token, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.statusError("logout", status, body)
	}
	return nil
}

// FetchCatalog returns the categories available to the operator
func (c *Client) FetchCatalog(ctx context.Context, token string) ([]models.Category, error) {
	var data catalogData
	if err := c.getData(ctx, "fetch_catalog", "account", token, &data); err != nil {
		return nil, err
	}
	return data.Categories, nil
}

// FetchIssuanceInfo returns the credential pair to write onto card uid
func (c *Client) FetchIssuanceInfo(ctx context.Context, token, uid string) (*IssuanceInfo, error) {
	var info IssuanceInfo
	if err := c.getData(ctx, "fetch_issuance_info", "pay-card/info/"+url.PathEscape(uid), token, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ConfirmWrite tells the server both card blocks were written
func (c *Client) ConfirmWrite(ctx context.Context, token, uid string) error {
	status, body, err := c.call(ctx, "confirm_write", http.MethodPut, "pay-card/write", token,
		confirmWriteRequest{UUID: uid})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.statusError("confirm_write", status, body)
	}
	return nil
}

// ResolveCredential looks up the account behind a card's number and secret
func (c *Client) ResolveCredential(ctx context.Context, token, cardNumber, secret string) (*Credential, error) {
	path := "pay-card/read/" + url.PathEscape(cardNumber) + "/" + url.PathEscape(secret)
	var cred Credential
	if err := c.getData(ctx, "resolve_credential", path, token, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Checkout submits an order against the account. The returned body is
// parsed for any HTTP status; its Status decides the outcome.
func (c *Client) Checkout(ctx context.Context, token, slug string, o order.Order) (*StatusResponse, error) {
	return c.statusCall(ctx, "checkout", http.MethodPost, "pay-card/checkout", token, checkoutRequest{
		Slug:        slug,
		TotalAmount: o.TotalPrice,
		Cart:        o.Lines,
	})
}

// MutateBalance credits or debits the account by amount
func (c *Client) MutateBalance(ctx context.Context, token, slug string, dir models.Direction, amount decimal.Decimal) (*StatusResponse, error) {
	return c.statusCall(ctx, "mutate_balance", http.MethodPut, "pay-card/change-balance", token, balanceRequest{
		Slug:      slug,
		Operation: dir,
		Value:     json.Number(amount.String()),
	})
}

func (c *Client) getData(ctx context.Context, op, path, token string, out interface{}) error {
	status, body, err := c.call(ctx, op, http.MethodGet, path, token, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.statusError(op, status, body)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return malformed(op, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return malformed(op, fmt.Errorf("response has no data"))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return malformed(op, err)
	}
	return nil
}

func (c *Client) statusCall(ctx context.Context, op, method, path, token string, in interface{}) (*StatusResponse, error) {
	status, body, err := c.call(ctx, op, method, path, token, in)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, c.statusError(op, status, body)
	}

	var resp StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.ErrNetwork.Clone().
			WithCause(err).
			WithContext("operation", op).
			WithContext("status", status)
	}
	resp.HTTPStatus = status
	return &resp, nil
}

// call performs one request inside a client span and returns the status
// and body. Only transport failures are returned as errors.
func (c *Client) call(ctx context.Context, op, method, path, token string, in interface{}) (int, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, nil, errors.Wrap(err, errors.ErrTypeApp, "REQUEST_ENCODE_FAILED",
				"failed to encode request").WithContext("operation", op)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, errors.ErrNetwork.Clone().WithCause(err).WithContext("operation", op)
	}
	requestID := utils.GenerateRequestID()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	span.SetAttributes(attribute.String("request.id", requestID))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.Warn("gateway call failed",
			zap.String("operation", op),
			zap.String("request_id", requestID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return 0, nil, errors.ErrNetwork.Clone().
			WithCause(err).
			WithContext("operation", op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "body read failure")
		return 0, nil, errors.ErrNetwork.Clone().
			WithCause(err).
			WithContext("operation", op)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	c.logger.Debug("gateway call",
		zap.String("operation", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return resp.StatusCode, body, nil
}

// statusError maps an unexpected HTTP status to the error taxonomy
func (c *Client) statusError(op string, status int, body []byte) error {
	msg := serverMessage(body)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.ErrTokenRejected.Clone().
			WithContext("operation", op).
			WithContext("status", status)
	case http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		err := errors.ErrDeclined.Clone().
			WithContext("operation", op).
			WithContext("status", status)
		if msg != "" {
			err = err.WithUserMessage(msg)
		}
		return err
	}

	return errors.ErrNetwork.Clone().
		WithCause(fmt.Errorf("unexpected status %d", status)).
		WithContext("operation", op).
		WithContext("status", status)
}

func invalidCredentials(body []byte) error {
	err := errors.ErrInvalidCredentials.Clone()
	if msg := serverMessage(body); msg != "" {
		err = err.WithUserMessage(msg)
	}
	return err
}

func malformed(op string, cause error) error {
	return errors.ErrNetwork.Clone().
		WithCause(cause).
		WithContext("operation", op).
		WithContext("reason", "malformed response")
}

func serverMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Message
}
