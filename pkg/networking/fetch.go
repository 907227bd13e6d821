// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

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

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/mcpapps/pkg/logger"
)

const (
	// DefaultMaxResponseSize is the default maximum response body size (1MB).
	DefaultMaxResponseSize = 1024 * 1024

	// DefaultErrorPreviewSize is the maximum size of error body preview in HTTPError.
	DefaultErrorPreviewSize = 1024

	// DefaultRetryInterval is the first delay between retried attempts.
	DefaultRetryInterval = 200 * time.Millisecond

	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"

	// ContentTypeFormURLEncoded is the form-urlencoded content type.
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"
)

// FetchResult contains the result of a successful JSON fetch operation.
type FetchResult[T any] struct {
	// Data is the parsed JSON response body.
	Data T

	// Raw is the unparsed response body, for gjson lookups.
	Raw []byte

	StatusCode  int
	Headers     http.Header
	ContentType string
}

// FetchOption configures a fetch request.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	method                    string
	headers                   http.Header
	body                      []byte
	bodyErr                   error
	maxResponseSize           int64
	skipContentTypeValidation bool
	errorHandler              func(*http.Response, []byte) error
	maxTries                  uint
	retryInterval             time.Duration
}

func newFetchOptions() *fetchOptions {
	return &fetchOptions{
		method:          http.MethodGet,
		headers:         make(http.Header),
		maxResponseSize: DefaultMaxResponseSize,
		maxTries:        1,
		retryInterval:   DefaultRetryInterval,
	}
}

// WithMethod sets the HTTP method for the request.
func WithMethod(method string) FetchOption {
	return func(opts *fetchOptions) {
		opts.method = method
	}
}

// WithHeader sets a single header on the request.
func WithHeader(key, value string) FetchOption {
	return func(opts *fetchOptions) {
		opts.headers.Set(key, value)
	}
}

// WithBearerToken sets the Authorization header.
func WithBearerToken(token string) FetchOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithBody sets the request body. The body is buffered so it can be
// replayed on retries.
func WithBody(body io.Reader) FetchOption {
	return func(opts *fetchOptions) {
		opts.body, opts.bodyErr = io.ReadAll(body)
	}
}

// WithJSONBody encodes v as the request body and sets Content-Type.
func WithJSONBody(v any) FetchOption {
	return func(opts *fetchOptions) {
		opts.body, opts.bodyErr = json.Marshal(v)
		opts.headers.Set("Content-Type", ContentTypeJSON)
	}
}

// WithMaxResponseSize sets the maximum response body size.
func WithMaxResponseSize(size int64) FetchOption {
	return func(opts *fetchOptions) {
		opts.maxResponseSize = size
	}
}

// WithoutContentTypeValidation disables Content-Type validation.
func WithoutContentTypeValidation() FetchOption {
	return func(opts *fetchOptions) {
		opts.skipContentTypeValidation = true
	}
}

// WithErrorHandler sets a custom error handler for non-2xx responses.
// If the handler returns nil, the default HTTPError is returned.
func WithErrorHandler(handler func(*http.Response, []byte) error) FetchOption {
	return func(opts *fetchOptions) {
		opts.errorHandler = handler
	}
}

// WithRetry retries transport failures, 5xx and 429 responses with
// exponential backoff, for at most maxTries attempts in total.
func WithRetry(maxTries uint, initialInterval time.Duration) FetchOption {
	return func(opts *fetchOptions) {
		opts.maxTries = max(maxTries, 1)
		if initialInterval > 0 {
			opts.retryInterval = initialInterval
		}
	}
}

// FetchJSON performs an HTTP request and parses the JSON response body.
// Any 2xx status is a success. Other statuses return an HTTPError or the
// result of a custom error handler.
func FetchJSON[T any](
	ctx context.Context,
	client HTTPClient,
	requestURL string,
	opts ...FetchOption,
) (*FetchResult[T], error) {
	options := newFetchOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.bodyErr != nil {
		return nil, fmt.Errorf("failed to prepare request body: %w", options.bodyErr)
	}
	if options.headers.Get("Accept") == "" {
		options.headers.Set("Accept", ContentTypeJSON)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = options.retryInterval
	expBackoff.Reset()

	attempt := 0
	return backoff.Retry(ctx, func() (*FetchResult[T], error) {
		attempt++
		result, err := fetchOnce[T](ctx, client, requestURL, options)
		if err != nil && !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return result, err
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(options.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debugf("Retrying %s %s after %v (attempt %d/%d): %v",
				options.method, redactQuery(requestURL), d, attempt, options.maxTries, err)
		}),
	)
}

func fetchOnce[T any](ctx context.Context, client HTTPClient, requestURL string, options *fetchOptions) (*FetchResult[T], error) {
	var body io.Reader
	if options.body != nil {
		body = bytes.NewReader(options.body)
	}
	req, err := http.NewRequestWithContext(ctx, options.method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range options.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, options.maxResponseSize))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if options.errorHandler != nil {
			if customErr := options.errorHandler(resp, data); customErr != nil {
				return nil, customErr
			}
		}
		preview := string(data)
		if len(preview) > DefaultErrorPreviewSize {
			preview = preview[:DefaultErrorPreviewSize]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: preview, URL: redactQuery(requestURL)}
	}

	if !options.skipContentTypeValidation {
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(strings.ToLower(contentType), ContentTypeJSON) {
			return nil, fmt.Errorf("unexpected content type: %s", contentType)
		}
	}

	var parsed T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse JSON response: %w", err)
		}
	}

	return &FetchResult[T]{
		Data:        parsed,
		Raw:         data,
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// FetchJSONWithForm performs a POST request with a form-urlencoded body
// and parses the JSON response. Token endpoints use it.
func FetchJSONWithForm[T any](
	ctx context.Context,
	client HTTPClient,
	requestURL string,
	formData url.Values,
	opts ...FetchOption,
) (*FetchResult[T], error) {
	formOpts := []FetchOption{
		WithMethod(http.MethodPost),
		WithHeader("Content-Type", ContentTypeFormURLEncoded),
		WithBody(strings.NewReader(formData.Encode())),
	}
	return FetchJSON[T](ctx, client, requestURL, append(formOpts, opts...)...)
}

// redactQuery drops the query string, which often carries API keys.
func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
