package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// MaxURLLength is the longest URL sent as-is; longer requests are tunnelled.
const MaxURLLength = 1000

// MethodOverrideHeader carries the tunnelled method on a POST.
const MethodOverrideHeader = "X-HTTP-Method-Override"

// ErrAuthExpired matches an APIError for a 401 or 403 response.
var ErrAuthExpired = errors.New("authentication expired")

// APIError represents a non-2xx response from the realtime API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("realtime api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports a 5xx response. All 5xx codes are treated alike.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode/100 == 5
}

// IsUnauthorized reports a 401 or 403 response.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Unwrap lets errors.Is match ErrAuthExpired for unauthorized responses.
func (e *APIError) Unwrap() error {
	if e.IsUnauthorized() {
		return ErrAuthExpired
	}
	return nil
}

// IsStaleSession reports a precondition failure (409/412), meaning the server
// no longer recognizes the client connection.
func (e *APIError) IsStaleSession() bool {
	return e.StatusCode == http.StatusPreconditionFailed || e.StatusCode == http.StatusConflict
}

// StatusCode returns the HTTP status carried by err, or 0 when the request never
// produced a response (transport failure, cancellation).
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// doRequest performs an HTTP request. rawQuery is appended verbatim and extra
// headers are added after the authentication headers.
func (c *Client) doRequest(ctx context.Context, method, path, rawQuery string, body any, extra http.Header) ([]byte, error) {
	fullURL := c.baseURL + path
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	var req *http.Request
	var err error
	if len(fullURL) > MaxURLLength {
		req, err = tunnelRequest(ctx, method, c.baseURL+path, rawQuery, payload)
	} else {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err = http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err == nil && payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		h, err := c.headers.Headers()
		if err != nil {
			return nil, fmt.Errorf("request headers: %w", err)
		}
		for k, vs := range h {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
	}

	return respBody, nil
}

// tunnelRequest folds method, query and body into a POST. The query travels as a
// form-encoded part and the JSON body as a second part of a multipart/mixed payload.
func tunnelRequest(ctx context.Context, method, target, rawQuery string, payload []byte) (*http.Request, error) {
	var buf bytes.Buffer
	contentType := "application/x-www-form-urlencoded"

	if payload == nil {
		buf.WriteString(rawQuery)
	} else {
		mw := multipart.NewWriter(&buf)

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type": {"application/x-www-form-urlencoded"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(part, rawQuery); err != nil {
			return nil, err
		}

		part, err = mw.CreatePart(textproto.MIMEHeader{
			"Content-Type": {"application/json"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(payload); err != nil {
			return nil, err
		}

		if err := mw.Close(); err != nil {
			return nil, err
		}
		contentType = "multipart/mixed; boundary=" + mw.Boundary()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set(MethodOverrideHeader, method)
	req.Header.Set("Content-Type", contentType)
	return req, nil
}

// doWithRetry performs a request with jittered exponential backoff on 5xx.
func (c *Client) doWithRetry(ctx context.Context, method, path, rawQuery string, body any) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		resp, err := c.doRequest(ctx, method, path, rawQuery, body, nil)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// getOnce performs a single GET. Callers that time the round trip must not have
// retries folded into it.
func (c *Client) getOnce(ctx context.Context, path, rawQuery string, result any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, rawQuery, nil, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
