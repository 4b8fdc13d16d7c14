// Package backend is the client for the remote language-model API. It
// speaks the OpenAI Responses protocol and understands the chat completion
// envelope as well.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// Observer receives one call per HTTP round trip.
type Observer interface {
	ObserveRequest(model, outcome string, elapsed time.Duration)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// Proxy is an explicit proxy URL; HTTP_PROXY/HTTPS_PROXY apply otherwise.
	Proxy   string
	Timeout time.Duration
	// MaxRetries bounds retries of rate-limited, 5xx and transport failures.
	MaxRetries int
	// RetryWait is the base of the exponential backoff. Defaults to 1s.
	RetryWait time.Duration
	Logger    logrus.FieldLogger
	Observer  Observer
}

// Client sends completion requests.
type Client struct {
	cfg  Config
	http *resty.Client
	log  logrus.FieldLogger
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	h := resty.New().
		SetTimeout(cfg.Timeout).
		SetLogger(logger).
		SetHeader("Content-Type", "application/json")
	if cfg.Proxy != "" {
		h.SetProxy(cfg.Proxy)
	}
	if cfg.APIKey != "" {
		h.SetAuthToken(cfg.APIKey)
	}

	return &Client{cfg: cfg, http: h, log: logger}
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/responses"
}

// Complete returns the generated text for req.
//
// A request rejected for an unsupported parameter is retried once without
// it. A truncated response is retried once with budget RetryBudget; the
// retry reuses whatever reduction the first step settled on.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	text, effective, err := c.attempt(ctx, req)

	var trunc *TruncatedError
	if errors.As(err, &trunc) {
		effective.MaxOutputTokens = RetryBudget(effective.MaxOutputTokens)
		c.log.WithFields(logrus.Fields{
			"model":  effective.Model,
			"budget": effective.MaxOutputTokens,
		}).Warn("Response truncated, retrying with a larger output budget")
		text, _, err = c.attempt(ctx, effective)
	}
	return text, err
}

// attempt sends req, retrying once with a reduced request when a parameter
// is rejected. It returns the request that produced the result.
func (c *Client) attempt(ctx context.Context, req Request) (string, Request, error) {
	text, err := c.send(ctx, req)

	var unsupported *UnsupportedParameterError
	if !errors.As(err, &unsupported) {
		return text, req, err
	}
	reduced, ok := req.Without(unsupported.Param)
	if !ok {
		return "", req, err
	}
	c.log.WithFields(logrus.Fields{
		"model": req.Model,
		"param": unsupported.Param,
	}).Warn("Model rejected a parameter, retrying without it")
	text, err = c.send(ctx, reduced)
	return text, reduced, err
}

// send performs one logical request, absorbing rate limits, 5xx responses
// and transport errors up to MaxRetries times.
func (c *Client) send(ctx context.Context, req Request) (string, error) {
	body := req.wire()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		start := time.Now()
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			Post(c.endpoint())
		elapsed := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.observe(req.Model, "transport_error", elapsed)
			if attempt < c.cfg.MaxRetries {
				if werr := c.wait(ctx, c.backoff(attempt)); werr != nil {
					return "", werr
				}
				continue
			}
			return "", &BackendError{Message: err.Error(), Err: err}
		}

		status := resp.StatusCode()
		raw := resp.Body()

		switch {
		case status == http.StatusTooManyRequests:
			c.observe(req.Model, "rate_limited", elapsed)
			if attempt < c.cfg.MaxRetries {
				delay := retryDelay(resp.Header().Get("Retry-After"), raw, c.backoff(attempt))
				c.log.WithFields(logrus.Fields{
					"model":   req.Model,
					"wait":    delay,
					"attempt": attempt + 1,
				}).Warn("Rate limited, waiting before retry")
				if werr := c.wait(ctx, delay); werr != nil {
					return "", werr
				}
				continue
			}
			return "", &BackendError{Status: status, Message: fmt.Sprintf("rate limited after %d retries: %s", c.cfg.MaxRetries, truncate(string(raw), 500))}

		case status == http.StatusBadRequest:
			err := classify400(raw)
			var unsupported *UnsupportedParameterError
			if errors.As(err, &unsupported) {
				c.observe(req.Model, "unsupported_parameter", elapsed)
			} else {
				c.observe(req.Model, "error", elapsed)
			}
			return "", err

		case status >= 500:
			c.observe(req.Model, "error", elapsed)
			if attempt < c.cfg.MaxRetries {
				if werr := c.wait(ctx, c.backoff(attempt)); werr != nil {
					return "", werr
				}
				continue
			}
			return "", &BackendError{Status: status, Message: truncate(string(raw), 500)}

		case status < 200 || status > 299:
			c.observe(req.Model, "error", elapsed)
			return "", &BackendError{Status: status, Message: truncate(string(raw), 500)}
		}

		r, err := decode(status, raw)
		if err != nil {
			c.observe(req.Model, "malformed", elapsed)
			return "", err
		}
		if r.truncated {
			c.observe(req.Model, "truncated", elapsed)
			return "", &TruncatedError{Budget: req.MaxOutputTokens}
		}
		if r.shape == shapeUnknown {
			c.observe(req.Model, "malformed", elapsed)
			return "", &MalformedResponseError{Snippet: truncate(string(raw), 500)}
		}
		c.observe(req.Model, "ok", elapsed)
		c.log.WithFields(logrus.Fields{
			"model":   req.Model,
			"shape":   r.shape.String(),
			"elapsed": elapsed,
		}).Debug("Response received")
		return r.text, nil
	}
}

func (c *Client) observe(model, outcome string, elapsed time.Duration) {
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveRequest(model, outcome, elapsed)
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * c.cfg.RetryWait
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryDelay picks the wait before retrying a 429: the Retry-After header,
// then a RetryInfo detail in the body, then the backoff fallback.
func retryDelay(header string, body []byte, fallback time.Duration) time.Duration {
	if header != "" {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(header), 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if at, err := http.ParseTime(header); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
			return 0
		}
	}
	if d, ok := parseRetryInfo(body); ok {
		return d
	}
	return fallback
}
