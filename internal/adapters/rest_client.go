package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"compliance-gate/internal/shared"
)

const defaultRESTRetries = 3
const defaultRESTRetryDelay = 200 * time.Millisecond
const defaultRESTTimeout = 60 * time.Second
const maxRESTRetryDelay = 2 * time.Second

// restClient is the bearer-token JSON client shared by the HTTP adapters.
// Transport failures, 5xx and 429 responses are retried with capped
// exponential backoff.
type restClient struct {
	Endpoint   string
	Token      string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	HTTP       *http.Client
	// Service names the remote in error messages.
	Service string
}

func newRESTClient(service string, endpoint string, token string, timeoutSec int, retries int, retryDelayMs int) restClient {
	timeout := normalizeRESTTimeout(timeoutSec)
	return restClient{
		Endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		Token:      strings.TrimSpace(token),
		Timeout:    timeout,
		Retries:    normalizeRESTRetries(retries),
		RetryDelay: normalizeRESTRetryDelay(retryDelayMs),
		HTTP:       &http.Client{Timeout: timeout},
		Service:    service,
	}
}

type restResponse struct {
	Status int
	Body   []byte
	URL    string
}

// url resolves a path against the endpoint; absolute hrefs returned by the
// remote are used as they are.
func (c restClient) url(pathOrHref string) string {
	if strings.HasPrefix(pathOrHref, "http://") || strings.HasPrefix(pathOrHref, "https://") {
		return pathOrHref
	}
	return c.Endpoint + "/" + strings.TrimLeft(pathOrHref, "/")
}

// do sends the request and returns any response that was not retried away.
// Non-2xx statuses are not errors here; callers classify them.
func (c restClient) do(ctx context.Context, method string, pathOrHref string, payload any) (restResponse, error) {
	if c.Endpoint == "" {
		return restResponse{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(c.Service + " endpoint is empty")
	}
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return restResponse{}, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to encode " + c.Service + " request").
				WithCause(err)
		}
		body = encoded
	}
	target := c.url(pathOrHref)
	var lastErr error
	for attempt := 0; attempt < c.Retries; attempt++ {
		if ctx.Err() != nil {
			return restResponse{}, ctx.Err()
		}
		resp, retry, err := c.doOnce(ctx, method, target, body)
		if err == nil && !retry {
			return resp, nil
		}
		if err == nil {
			lastErr = c.statusError(resp)
		} else {
			lastErr = err
		}
		if !retry || attempt == c.Retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return restResponse{}, ctx.Err()
		case <-time.After(c.retryDelay(attempt)):
		}
	}
	if lastErr == nil {
		lastErr = errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(c.Service + " request failed")
	}
	return restResponse{}, lastErr
}

func (c restClient) doOnce(ctx context.Context, method string, target string, body []byte) (restResponse, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return restResponse{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create " + c.Service + " request").
			WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return restResponse{}, true, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(c.Service + " request failed").
			WithCause(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	out := restResponse{Status: resp.StatusCode, Body: data, URL: target}
	retry := resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
	return out, retry, nil
}

// statusError maps a non-2xx response onto an errbuilder code.
func (c restClient) statusError(resp restResponse) error {
	code := errbuilder.CodeInternal
	switch resp.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = errbuilder.CodePermissionDenied
	case http.StatusNotFound:
		code = errbuilder.CodeNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		code = errbuilder.CodeAlreadyExists
	case http.StatusBadRequest:
		code = errbuilder.CodeInvalidArgument
	}
	return errbuilder.New().
		WithCode(code).
		WithMsg(c.Service + " request failed").
		WithCause(shared.HTTPStatusErrorWithBody(resp.Status, resp.URL, strings.TrimSpace(string(resp.Body))))
}

// getJSON decodes a 2xx body into out and classifies everything else.
func (c restClient) getJSON(ctx context.Context, pathOrHref string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, pathOrHref, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return c.statusError(resp)
	}
	return c.decode(resp, out)
}

func (c restClient) decode(resp restResponse, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to decode " + c.Service + " response").
			WithCause(fmt.Errorf("url=%s: %w", resp.URL, err))
	}
	return nil
}

func (r restResponse) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

func (c restClient) retryDelay(attempt int) time.Duration {
	delay := c.RetryDelay * time.Duration(1<<attempt)
	if delay > maxRESTRetryDelay {
		delay = maxRESTRetryDelay
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(delay/2+1))
	return delay + jitter
}

func normalizeRESTTimeout(value int) time.Duration {
	timeout := time.Duration(value) * time.Second
	if timeout <= 0 {
		return defaultRESTTimeout
	}
	return timeout
}

func normalizeRESTRetries(value int) int {
	if value <= 0 {
		return defaultRESTRetries
	}
	return value
}

func normalizeRESTRetryDelay(value int) time.Duration {
	delay := time.Duration(value) * time.Millisecond
	if delay <= 0 {
		return defaultRESTRetryDelay
	}
	return delay
}
