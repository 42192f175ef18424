// Package client delivers single triggers to the display peer over HTTP,
// without the queueing and reconnect behavior of the channel client.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/facecontrol/face-remote/internal/bus"
	"github.com/facecontrol/face-remote/internal/catalog"
	"github.com/facecontrol/face-remote/internal/config"
	"github.com/facecontrol/face-remote/internal/pkg/errors"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

// DefaultTimeout bounds each one-shot request.
const DefaultTimeout = 5 * time.Second

// ClientIDHeader carries the stable sender identifier.
const ClientIDHeader = "X-Client-ID"

// Event topics published by the one-shot client.
const (
	TopicDelivered = "oneshot.delivered"
	TopicFailed    = "oneshot.failed"
)

const (
	eventSource    = "oneshot"
	publishTimeout = 2 * time.Second
	maxErrorBody   = 4096
)

// Config configures the client.
type Config struct {
	// BaseURL is the peer's HTTP origin.
	BaseURL string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// ClientID is sent with every request. Generated when empty.
	ClientID string
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://" + config.DefaultPeerHost,
		Timeout: DefaultTimeout,
	}
}

// ConfigFrom maps the application config section onto a client Config.
func ConfigFrom(cfg config.HTTPConfig) Config {
	return Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}
}

// Client sends triggers with POST /api/trigger.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	bus        bus.Bus
	log        *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBus publishes delivery outcomes to b.
func WithBus(b bus.Bus) Option {
	return func(c *Client) { c.bus = b }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its Timeout is overwritten.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a one-shot client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = GenerateClientID()
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientID:   cfg.ClientID,
		httpClient: &http.Client{},
		log:        logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Timeout = cfg.Timeout
	c.log = c.log.WithComponent("oneshot")
	return c
}

// GenerateClientID derives a stable identifier for this machine.
func GenerateClientID() string {
	parts := []string{runtime.GOOS, runtime.GOARCH}
	if hostname, err := os.Hostname(); err == nil {
		parts = append([]string{hostname}, parts...)
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:8])
}

// ClientID returns the identifier sent with each request.
func (c *Client) ClientID() string {
	return c.clientID
}

// TriggerRequest is the body of POST /api/trigger.
type TriggerRequest struct {
	Key    string `json:"key"`
	Action string `json:"action"`
}

// TriggerResponse is the peer's reply to a delivered trigger.
type TriggerResponse struct {
	Success bool `json:"success"`
	Clients int  `json:"clients"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients"`
}

// DeliveredPayload is the payload for oneshot.delivered events.
type DeliveredPayload struct {
	Key       string `json:"key"`
	Action    string `json:"action"`
	Clients   int    `json:"clients"`
	LatencyMs int64  `json:"latency_ms"`
}

// FailedPayload is the payload for oneshot.failed events.
type FailedPayload struct {
	Key    string `json:"key"`
	Action string `json:"action"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// Send delivers a catalog trigger, using its name as the action.
func (c *Client) Send(ctx context.Context, t catalog.Trigger) (*TriggerResponse, error) {
	return c.SendTrigger(ctx, t.Key, t.Name)
}

// SendTrigger posts one trigger. Any non-2xx status or timeout is a
// delivery failure; nothing is retried.
func (c *Client) SendTrigger(ctx context.Context, key, action string) (*TriggerResponse, error) {
	if key == "" {
		return nil, errors.ValidationError("trigger key is required")
	}

	start := time.Now()
	var resp TriggerResponse
	err := c.post(ctx, "/api/trigger", TriggerRequest{Key: key, Action: action}, &resp)
	if err != nil {
		c.log.WithTrigger(key).WithError(err).Warn("one-shot delivery failed")
		c.publish(TopicFailed, FailedPayload{Key: key, Action: action, Code: errors.CodeOf(err), Error: err.Error()})
		return nil, err
	}

	latency := time.Since(start)
	c.log.WithTrigger(key).Info("one-shot delivered", "clients", resp.Clients, "latency", latency)
	c.publish(TopicDelivered, DeliveredPayload{Key: key, Action: action, Clients: resp.Clients, LatencyMs: latency.Milliseconds()})
	return &resp, nil
}

// Health checks if the peer is up.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) publish(topic string, payload any) {
	if c.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.bus.Publish(ctx, topic, bus.NewEvent(topic, eventSource, payload)); err != nil {
		c.log.WithError(err).Debug("event publish failed", "topic", topic)
	}
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(errors.CodeInvalidRequest, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(errors.CodeInvalidRequest, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set(ClientIDHeader, c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return errors.TimeoutError(req.Method+" "+req.URL.Path).WithDetail("cause", err.Error())
		}
		return errors.DeliveryError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, body)
	}

	if result == nil {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.DeliveryError("failed to read response", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return errors.DeliveryError("failed to decode response", err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	msg := fmt.Sprintf("peer returned HTTP %d", status)

	var apiErr errors.ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, apiErr.Message)
	} else if text := strings.TrimSpace(string(body)); text != "" {
		msg = fmt.Sprintf("%s: %s", msg, text)
	}

	return errors.DeliveryError(msg, nil).WithDetail("status", fmt.Sprintf("%d", status))
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
