package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/config"
	"github.com/x402arcade/backend/internal/logger"
)

const (
	settlePath    = "/v2/x402/settle"
	supportedPath = "/v2/x402/supported"

	DefaultTimeout = 30 * time.Second

	maxResponseBody = 1 << 20
)

// Client settles signed payments through an x402 facilitator.
type Client struct {
	baseURL      string
	apiKey       string
	chainID      int64
	tokenAddress string
	timeout      time.Duration
	httpClient   *http.Client
	log          logrus.FieldLogger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a facilitator client from configuration
func NewClient(cfg *config.Config, log logrus.FieldLogger, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(cfg.FacilitatorURL, "/"),
		apiKey:       cfg.FacilitatorAPIKey,
		chainID:      cfg.ChainID,
		tokenAddress: cfg.TokenAddress,
		timeout:      cfg.FacilitatorTimeout,
		httpClient:   &http.Client{},
		log:          logger.Component(log, "payment"),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Timeout() time.Duration { return c.timeout }

// NewSettlementRequest builds the facilitator request for a decoded X-PAYMENT header.
func (c *Client) NewSettlementRequest(p *PaymentPayload, header, resource string) SettlementRequest {
	version := p.X402Version
	if version == 0 {
		version = X402Version
	}
	return SettlementRequest{
		X402Version:   version,
		PaymentHeader: header,
		Payload:       p.Payload,
		ChainID:       c.chainID,
		TokenAddress:  c.tokenAddress,
		Resource:      resource,
	}
}

// Settle makes one settlement attempt. A reply from the facilitator, successful or not,
// comes back as a Response; only failures to obtain a reply are returned as errors.
func (c *Client) Settle(ctx context.Context, req SettlementRequest) (*Response, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settlement request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+settlePath, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Reason: ReasonFacilitator, Err: err}
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	from := req.Payload.Authorization.From
	c.log.WithFields(logrus.Fields{"from": from, "value": req.Payload.Authorization.Value}).Info("Submitting settlement")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		terr := c.classify(ctx, err)
		c.log.WithError(err).WithFields(logrus.Fields{"from": from, "reason": terr.Reason}).Warn("Settlement request failed")
		return nil, terr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		terr := c.classify(ctx, err)
		c.log.WithError(err).WithField("reason", terr.Reason).Warn("Failed to read settlement response")
		return nil, terr
	}

	out := &Response{
		Status:    resp.StatusCode,
		OK:        resp.StatusCode >= 200 && resp.StatusCode < 300,
		Headers:   resp.Header.Clone(),
		ElapsedMs: time.Since(start).Milliseconds(),
		Raw:       raw,
	}
	if err := json.Unmarshal(raw, &out.Body); err != nil {
		out.Body = SettlementBody{
			Success: false,
			Error: &FacilitatorError{
				Code:    CodeInvalidResponse,
				Message: fmt.Sprintf("failed to parse facilitator response: %v", err),
			},
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"from":   from,
			"status": out.Status,
			"body":   string(raw),
		}).Warn("Unparseable settlement response")
	}

	c.log.WithFields(logrus.Fields{
		"from":       from,
		"status":     out.Status,
		"success":    out.Body.Success,
		"elapsed_ms": out.ElapsedMs,
	}).Info("Settlement response received")

	return out, nil
}

// Supported calls the facilitator's capability endpoint.
func (c *Client) Supported(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+supportedPath, nil)
	if err != nil {
		return 0, err
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, c.classify(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	latency := time.Since(start)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return latency, fmt.Errorf("facilitator returned status %d", resp.StatusCode)
	}
	return latency, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) classify(ctx context.Context, err error) *TransportError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &TransportError{Reason: ReasonTimeout, Timeout: c.timeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &TransportError{Reason: ReasonTimeout, Timeout: c.timeout, Err: err}
	case isNetworkError(err):
		return &TransportError{Reason: ReasonNetwork, Err: err}
	default:
		return &TransportError{Reason: ReasonFacilitator, Err: err}
	}
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}

// IsSuccess reports whether resp carries a settled transaction.
func IsSuccess(resp *Response) bool {
	return resp != nil && resp.OK && resp.Body.Success &&
		resp.Body.Transaction != nil && resp.Body.Transaction.Hash != ""
}

// Malformed reports whether resp arrived but its body could not be parsed.
func Malformed(resp *Response) bool {
	return resp != nil && resp.Body.Error != nil && resp.Body.Error.Code == CodeInvalidResponse
}

// ExtractError returns the facilitator's error, or one built from the HTTP status.
func ExtractError(resp *Response) FacilitatorError {
	if resp == nil {
		return FacilitatorError{Code: "NO_RESPONSE", Message: "no response from facilitator"}
	}
	if e := resp.Body.Error; e != nil && (e.Code != "" || e.Message != "") {
		return *e
	}
	if resp.OK {
		return FacilitatorError{Code: "SETTLEMENT_FAILED", Message: "facilitator did not settle the payment"}
	}
	return FacilitatorError{
		Code:    fmt.Sprintf("HTTP_%d", resp.Status),
		Message: http.StatusText(resp.Status),
	}
}
