package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

func TestFetchForwardsRangeUnmodified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 0-3/100")
		w.Header().Set("X-Seen-Range", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("abcd"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), offline.Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/movie.mp4",
		Header: http.Header{"Range": {"bytes=0-3"}, "Connection": {"keep-alive"}},
		Stream: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, "bytes=0-3", resp.Header.Get("X-Seen-Range"))
	require.False(t, resp.Cacheable())
	data, err := io.ReadAll(resp.BodyReader())
	require.NoError(t, err)
	require.Equal(t, "abcd", string(data))
}

func TestFetchBuffersAndForwardsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "offline-worker-test"})
	resp, err := f.Fetch(context.Background(), offline.Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/api/chat",
		Body:   []byte("hello"),
	})
	require.NoError(t, err)
	require.Nil(t, resp.Stream)
	require.Equal(t, "POST", resp.Header.Get("X-Method"))
	require.Equal(t, "hello", string(resp.Body))
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{}).Fetch(context.Background(), offline.Request{URL: url})
	require.Error(t, err)
}
