// Package client is an HTTP and realtime client for the game server, plus
// an automated aiming loop built on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fax-hunt/internal/game"
)

// Config holds connection and retry settings.
type Config struct {
	BaseURL  string
	ClientID string
	Secret   string // client secret derived from the server secret
	Name     string

	MaxAttempts       int
	RetryDelay        time.Duration
	DefaultRetryAfter time.Duration
	Timeout           time.Duration
}

// DefaultConfig returns the retry policy used by the aiming client.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:3000",
		MaxAttempts:       5,
		RetryDelay:        time.Second,
		DefaultRetryAfter: 5 * time.Second,
		Timeout:           10 * time.Second,
	}
}

// ErrNoToken is returned by calls that need a joined player.
var ErrNoToken = errors.New("not joined")

// StatusError is a non-2xx response other than 429.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// RateLimitError is a 429 response.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Client talks to the game API. A Client is not safe for concurrent Join
// calls; the other methods may be used concurrently once joined.
type Client struct {
	cfg   Config
	http  *http.Client
	token string

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client. Zero retry settings fall back to DefaultConfig.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = def.DefaultRetryAfter
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		sleep: sleepCtx,
	}
}

func (c *Client) Token() string { return c.token }

// SetToken reuses a token from an earlier join.
func (c *Client) SetToken(token string) { c.token = token }

// Join proves the client secret and stores the issued token.
func (c *Client) Join(ctx context.Context) (game.PlayerView, error) {
	body := map[string]string{"clientId": c.cfg.ClientID, "secret": c.cfg.Secret}
	if c.cfg.Name != "" {
		body["name"] = c.cfg.Name
	}
	var view game.PlayerView
	if err := c.do(ctx, http.MethodPost, "/api/join", body, &view); err != nil {
		return game.PlayerView{}, fmt.Errorf("join: %w", err)
	}
	c.token = view.Token
	return view, nil
}

// Target fetches one noisy position.
func (c *Client) Target(ctx context.Context) (game.Vec, error) {
	var pos game.Vec
	if c.token == "" {
		return pos, ErrNoToken
	}
	err := c.do(ctx, http.MethodGet, "/api/target", nil, &pos)
	return pos, err
}

// PollTarget retries Target up to MaxAttempts times. A 429 waits for the
// server's Retry-After (DefaultRetryAfter when absent); any other failure
// waits RetryDelay. The last error is returned when every attempt fails.
func (c *Client) PollTarget(ctx context.Context) (game.Vec, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		pos, err := c.Target(ctx)
		if err == nil {
			return pos, nil
		}
		if errors.Is(err, ErrNoToken) || ctx.Err() != nil {
			return game.Vec{}, err
		}
		lastErr = err

		if attempt == c.cfg.MaxAttempts {
			break
		}
		wait := c.cfg.RetryDelay
		var rl *RateLimitError
		if errors.As(err, &rl) {
			wait = rl.RetryAfter
		}
		if err := c.sleep(ctx, wait); err != nil {
			return game.Vec{}, err
		}
	}
	return game.Vec{}, fmt.Errorf("target after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// Fire submits one shot.
func (c *Client) Fire(ctx context.Context, pos game.Vec) (game.FireResult, error) {
	var res game.FireResult
	if c.token == "" {
		return res, ErrNoToken
	}
	err := c.do(ctx, http.MethodPost, "/api/fire", pos, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return &RateLimitError{RetryAfter: c.retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return c.cfg.DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
