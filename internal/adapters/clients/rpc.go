// Package clients implements the remote calls to sibling services over
// HTTP JSON RPC. Every call is either mandatory (timeout and propagate) or
// advisory (timeout and fall back to a safe default); the mode is declared
// at the call site, never inferred.
package clients

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

	"github.com/charmbracelet/log"
)

// Default call timeouts, overridable per caller.
const (
	defaultAdvisoryTimeout  = 3 * time.Second
	defaultMandatoryTimeout = 10 * time.Second
)

// envelope is the wire format shared by all sibling services.
type envelope struct {
	Status       string          `json:"status"`
	Data         json.RawMessage `json:"data"`
	ErrorMessage string          `json:"errorMessage"`
}

// request is the common call body. The subdomain discriminates tenants.
type request struct {
	Subdomain string `json:"subdomain"`
	Data      any    `json:"data"`
}

// Caller posts actions to one service's RPC endpoint.
type Caller struct {
	base             string
	client           *http.Client
	advisoryTimeout  time.Duration
	mandatoryTimeout time.Duration
	logger           *log.Logger
}

// CallerConfig tunes one service caller. Zero values take defaults.
type CallerConfig struct {
	AdvisoryTimeout  time.Duration
	MandatoryTimeout time.Duration
	Logger           *log.Logger
}

// NewCaller builds a caller for one service base URL.
func NewCaller(base string, cfg CallerConfig) *Caller {
	if cfg.AdvisoryTimeout <= 0 {
		cfg.AdvisoryTimeout = defaultAdvisoryTimeout
	}
	if cfg.MandatoryTimeout <= 0 {
		cfg.MandatoryTimeout = defaultMandatoryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Caller{
		base:             strings.TrimRight(base, "/"),
		client:           &http.Client{},
		advisoryTimeout:  cfg.AdvisoryTimeout,
		mandatoryTimeout: cfg.MandatoryTimeout,
		logger:           cfg.Logger,
	}
}

// Mandatory performs one call and propagates every failure. A service-side
// error comes back verbatim so callers can match on the message.
func (c *Caller) Mandatory(ctx context.Context, subdomain, action string, data, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.mandatoryTimeout)
	defer cancel()
	return c.do(ctx, subdomain, action, data, out)
}

// Advisory performs one call and reports success. On failure the out value
// is left untouched so the caller's prepared default survives.
func (c *Caller) Advisory(ctx context.Context, subdomain, action string, data, out any) bool {
	ctx, cancel := context.WithTimeout(ctx, c.advisoryTimeout)
	defer cancel()
	if err := c.do(ctx, subdomain, action, data, out); err != nil {
		c.logger.Warn("advisory call failed, using default",
			"action", action, "err", err)
		return false
	}
	return true
}

// do posts one action and decodes the response envelope.
func (c *Caller) do(ctx context.Context, subdomain, action string, data, out any) error {
	body, err := json.Marshal(request{Subdomain: subdomain, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", action, err)
	}

	url := fmt.Sprintf("%s/rpc/v1/%s", c.base, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("call %s: unexpected status %d", action, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s envelope: %w", action, err)
	}
	if env.Status != "success" {
		if env.ErrorMessage != "" {
			return errors.New(env.ErrorMessage)
		}
		return fmt.Errorf("call %s: status %q", action, env.Status)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", action, err)
	}
	return nil
}
