package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 60 * time.Second

	RequestIDHeader = "X-Request-ID"

	maxBodySize = 1 << 20
)

// Client talks to the remote assistant endpoint. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	logger     zerolog.Logger
}

type Option func(*Client) error

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout bounds every exchange. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.Errorf("invalid timeout %s", d)
		}
		c.timeout = d
		return nil
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = strings.TrimSpace(ua)
		return nil
	}
}

// NewClient creates a client for the assistant rooted at baseURL. An empty
// baseURL selects DefaultBaseURL.
func NewClient(baseURL string, options ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("base url %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("base url %q has no host", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		userAgent:  "supportchat",
		logger:     log.Logger,
	}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "failed to apply client option")
		}
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// Send performs one POST /chat exchange. Every outcome, including transport
// errors and undecodable bodies, is folded into the returned Result.
func (c *Client) Send(ctx context.Context, req ChatRequest) Result {
	requestID := uuid.NewString()
	logger := c.logger.With().Str("request_id", requestID).Logger()

	body, err := json.Marshal(req)
	if err != nil {
		return failure(FailureInternal, 0, GenericFailureMessage, errors.Wrap(err, "encode chat request"))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/chat"), bytes.NewReader(body))
	if err != nil {
		return failure(FailureInternal, 0, GenericFailureMessage, errors.Wrap(err, "build chat request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("chat request failed")
		return failure(FailureTransport, 0, GenericFailureMessage, errors.Wrap(err, "post chat"))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	logger.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(raw)).
		Dur("elapsed", time.Since(start)).
		Msg("chat response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := detailMessage(raw)
		if msg == "" {
			msg = statusMessage(resp.StatusCode)
		}
		return failure(FailureServer, resp.StatusCode, msg, errors.Errorf("assistant returned %s", resp.Status))
	}

	if readErr != nil {
		logger.Warn().Err(readErr).Msg("failed to read chat response body")
		return failure(FailureTransport, resp.StatusCode, GenericFailureMessage, errors.Wrap(readErr, "read chat response"))
	}

	out, err := decodeChatResponse(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed chat response")
		return failure(FailureMalformedResponse, resp.StatusCode, MalformedResponseMessage, err)
	}
	return success(out)
}

type chatResponseBody struct {
	Response    *string  `json:"response"`
	Route       string   `json:"route"`
	Category    string   `json:"category"`
	RouterRoute string   `json:"router_route"`
	Confidence  *float64 `json:"confidence"`
}

// route returns the first routing key the backend reported.
func (b chatResponseBody) route() string {
	for _, r := range []string{b.Route, b.Category, b.RouterRoute} {
		if r = strings.TrimSpace(r); r != "" {
			return r
		}
	}
	return ""
}

func decodeChatResponse(raw []byte) (*ChatResponse, error) {
	var body chatResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errors.Wrap(err, "decode chat response")
	}
	if body.Response == nil {
		return nil, errors.New("chat response has no response field")
	}
	return &ChatResponse{
		Response:   *body.Response,
		Route:      body.route(),
		Confidence: body.Confidence,
	}, nil
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type validationIssue struct {
	Msg string `json:"msg"`
}

// detailMessage extracts the server-provided detail from an error body. It
// returns "" when the body is not JSON or carries no usable detail.
func detailMessage(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return ""
		}
		return s
	}

	// validation errors come back as a list of {"loc", "msg", "type"}
	var issues []validationIssue
	if err := json.Unmarshal(body.Detail, &issues); err == nil {
		msgs := make([]string, 0, len(issues))
		for _, issue := range issues {
			if m := strings.TrimSpace(issue.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return ""
}

func statusMessage(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", code)
}

type healthBody struct {
	Status string `json:"status"`
}

// Health checks GET /health on the assistant.
func (c *Client) Health(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return errors.Wrap(err, "build health request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "health request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("health check returned %s", resp.Status)
	}

	var body healthBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		return errors.Wrap(err, "decode health response")
	}
	if body.Status != "ok" {
		return errors.Errorf("unexpected health status %q", body.Status)
	}
	return nil
}
