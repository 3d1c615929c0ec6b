package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "tradefusion", r.Header.Get("User-Agent"))
		assert.Equal(t, "BTC", r.URL.Query().Get("asset"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["side"]})
	}))
	defer srv.Close()

	var out map[string]string
	err := NewClient().SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodPost,
		URL:         srv.URL,
		QueryParams: map[string][]string{"asset": {"BTC"}},
		Body:        map[string]string{"side": "buy"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "buy", out["echo"])
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/busy" {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		http.Error(w, strings.Repeat("x", 10000), http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	var se *StatusError

	err := c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL + "/busy"}, nil)
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Temporary())

	err = c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL + "/gone"}, nil)
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Temporary())
	assert.Len(t, se.Body, errorBodyLimit)
}

func TestClient_RawBodyKeepsCallerHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	var raw []byte
	err := NewClient(WithUserAgent("probe")).SendAndParse(context.Background(), &RequestOptions{
		Method:  MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    "ping",
	}, &raw)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(raw))
}
