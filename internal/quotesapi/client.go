// Package quotesapi is the request/response client for the artifact API.
package quotesapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/observability"
	"github.com/quotebot/quotegallery/internal/quotes"
)

var ErrUnauthorized = errors.New("unauthorized")

type HTTPError struct {
	StatusCode    int
	Code          string
	Message       string
	CorrelationID string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case quotes.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// TokenSource supplies the bearer token used on behalf of an owner.
type TokenSource interface {
	Token(ownerID string) (string, error)
}

// StaticToken uses one token for every owner.
type StaticToken string

func (t StaticToken) Token(string) (string, error) {
	return string(t), nil
}

type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     logrus.FieldLogger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

type Option func(*Client)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = observability.OrDiscard(logger) }
}

func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     observability.DiscardLogger(),
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListQuotes(ctx context.Context, ownerID string, q quotes.PageQuery) (quotes.Page, error) {
	var out quotes.Page
	err := c.doJSON(ctx, ownerID, http.MethodGet, "/v1/quotes?"+q.Values().Encode(), nil, &out)
	if err != nil {
		return quotes.Page{}, err
	}
	if out.Items == nil {
		out.Items = []quotes.Artifact{}
	}
	return out, nil
}

func (c *Client) DeleteQuote(ctx context.Context, ownerID, id string) error {
	if strings.TrimSpace(id) == "" {
		return quotes.ErrInvalidInput
	}
	return c.doJSON(ctx, ownerID, http.MethodDelete, "/v1/quotes/"+url.PathEscape(id), nil, nil)
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (c *Client) BulkDeleteQuotes(ctx context.Context, ownerID string, ids []string) error {
	if len(ids) == 0 {
		return quotes.ErrInvalidInput
	}
	return c.doJSON(ctx, ownerID, http.MethodPost, "/v1/quotes/bulk-delete", bulkDeleteRequest{IDs: ids}, nil)
}

func (c *Client) doJSON(ctx context.Context, ownerID, method, requestPath string, body any, out any) error {
	token, err := c.tokens.Token(ownerID)
	if err != nil {
		return fmt.Errorf("token for %s: %w", ownerID, err)
	}
	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		correlation := correlationID()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("X-Correlation-Id", correlation)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				c.logger.WithError(err).WithField("attempt", attempt+1).Debug("retrying request")
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			c.logger.WithFields(logrus.Fields{
				"status":        resp.StatusCode,
				"attempt":       attempt + 1,
				"correlationId": correlation,
			}).Debug("retrying request")
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code          string `json:"code"`
			Message       string `json:"message"`
			CorrelationID string `json:"correlationId"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		if errPayload.CorrelationID == "" {
			errPayload.CorrelationID = correlation
		}
		return &HTTPError{
			StatusCode:    resp.StatusCode,
			Code:          errPayload.Code,
			Message:       errPayload.Message,
			CorrelationID: errPayload.CorrelationID,
		}
	}
}

func correlationID() string {
	return "gw_" + strings.ToLower(ulid.Make().String())
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
