// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResponse struct {
	Message string `json:"message"`
	Value   int    `json:"value"`
}

func jsonHandler(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

func TestFetchJSON_SuccessfulGET(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("X-Custom-Header", "test-value")
		jsonHandler(http.StatusOK, testResponse{Message: "hello", Value: 42})(w, r)
	}))
	defer server.Close()

	result, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL, WithBearerToken("tok"))
	require.NoError(t, err)

	assert.Equal(t, "hello", result.Data.Message)
	assert.Equal(t, 42, result.Data.Value)
	assert.Equal(t, "test-value", result.Headers.Get("X-Custom-Header"))
	assert.JSONEq(t, `{"message":"hello","value":42}`, string(result.Raw))
}

func TestFetchJSON_JSONBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ContentTypeJSON, r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"input":"test"}`, string(body))
		jsonHandler(http.StatusCreated, testResponse{Message: "created"})(w, r)
	}))
	defer server.Close()

	result, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL,
		WithMethod(http.MethodPost), WithJSONBody(map[string]string{"input": "test"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "created", result.Data.Message)
}

func TestFetchJSONWithForm(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ContentTypeFormURLEncoded, r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "abc", r.PostForm.Get("code"))
		jsonHandler(http.StatusOK, map[string]string{"access_token": "t"})(w, r)
	}))
	defer server.Close()

	result, err := FetchJSONWithForm[map[string]string](context.Background(), server.Client(), server.URL,
		url.Values{"code": {"abc"}})
	require.NoError(t, err)
	assert.Equal(t, "t", result.Data["access_token"])
}

func TestFetchJSON_HTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(jsonHandler(http.StatusNotFound, map[string]string{"error": "missing"}))
	defer server.Close()

	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL+"/thing?apiKey=secret")
	require.Error(t, err)
	assert.True(t, IsHTTPError(err, http.StatusNotFound))
	assert.True(t, IsHTTPError(err, 0))
	assert.False(t, IsHTTPError(err, http.StatusBadRequest))
	assert.NotContains(t, err.Error(), "secret")

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Contains(t, httpErr.Body, "missing")
}

func TestFetchJSON_CustomErrorHandler(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(jsonHandler(http.StatusBadRequest, map[string]string{"error": "invalid_grant"}))
	defer server.Close()

	sentinel := errors.New("grant rejected")
	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL,
		WithErrorHandler(func(resp *http.Response, body []byte) error {
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), "invalid_grant")
			return sentinel
		}))
	require.ErrorIs(t, err, sentinel)
}

func TestFetchJSON_ContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"message":"hi"}`))
	}))
	defer server.Close()

	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL)
	require.ErrorContains(t, err, "unexpected content type")

	result, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL, WithoutContentTypeValidation())
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Data.Message)
}

func TestFetchJSON_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"n":1}`, string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		jsonHandler(http.StatusOK, testResponse{Message: "ok"})(w, r)
	}))
	defer server.Close()

	result, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL,
		WithMethod(http.MethodPost), WithJSONBody(map[string]int{"n": 1}), WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Data.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchJSON_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL, WithRetry(5, time.Millisecond))
	require.Error(t, err)
	assert.True(t, IsHTTPError(err, http.StatusUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchJSON_GivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL, WithRetry(2, time.Millisecond))
	require.Error(t, err)
	assert.True(t, IsHTTPError(err, http.StatusServiceUnavailable))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, Retryable(&transportError{err: errors.New("reset")}))
	assert.True(t, Retryable(&HTTPError{StatusCode: http.StatusInternalServerError}))
	assert.True(t, Retryable(&HTTPError{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, Retryable(&HTTPError{StatusCode: http.StatusForbidden}))
	assert.False(t, Retryable(errors.New("parse failure")))
}

func TestClientBuilder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(jsonHandler(http.StatusOK, testResponse{Message: "hi"}))
	defer server.Close()

	strict, err := NewHTTPClientBuilder().Build()
	require.NoError(t, err)
	_, err = FetchJSON[testResponse](context.Background(), strict, server.URL)
	require.ErrorContains(t, err, "not HTTPS scheme")

	local, err := NewHTTPClientBuilder().WithInsecureHTTP(true).WithPrivateIPs(true).WithTimeout(5 * time.Second).Build()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, local.Timeout)
	result, err := FetchJSON[testResponse](context.Background(), local, server.URL)
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Data.Message)

	noPrivate, err := NewHTTPClientBuilder().WithInsecureHTTP(true).Build()
	require.NoError(t, err)
	_, err = FetchJSON[testResponse](context.Background(), noPrivate, server.URL)
	require.ErrorContains(t, err, "private IP")

	_, err = NewHTTPClientBuilder().WithCABundle("/nonexistent/ca.pem").Build()
	require.ErrorContains(t, err, "failed to read CA certificate bundle")
}

func TestIsPrivateIP(t *testing.T) {
	t.Parallel()

	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "172.20.0.1", "192.168.1.1", "169.254.1.1", "::1"} {
		assert.True(t, IsPrivateIP(net.ParseIP(ip)), ip)
	}
	for _, ip := range []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"} {
		assert.False(t, IsPrivateIP(net.ParseIP(ip)), ip)
	}
}
