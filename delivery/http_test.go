package delivery_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singlestore-labs/dispatch/delivery"
	"github.com/singlestore-labs/dispatch/dispatchmodels"
	"github.com/singlestore-labs/dispatch/dispatchtest"
)

func TestHTTPTargetPosts(t *testing.T) {
	var lock sync.Mutex
	var got *http.Request
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		defer lock.Unlock()
		got = r
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	msg := dispatchtest.Msg("orders", 3, 17)
	msg.Headers = []dispatchmodels.Header{{Key: "Content-Type", Value: []byte("application/json")}}
	target := delivery.NewHTTPTarget(server.URL+"/hook", delivery.WithHTTPClient(server.Client()))
	require.NoError(t, target.Deliver(context.Background(), msg))

	lock.Lock()
	defer lock.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/hook", got.URL.Path)
	assert.Equal(t, "orders", got.Header.Get(delivery.HeaderTopic))
	assert.Equal(t, "3", got.Header.Get(delivery.HeaderPartition))
	assert.Equal(t, "17", got.Header.Get(delivery.HeaderOffset))
	assert.Equal(t, "k17", got.Header.Get(delivery.HeaderKey))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, msg.Value, body)
}

func TestHTTPTargetRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("try later"))
	}))
	defer server.Close()

	target := delivery.NewHTTPTarget(server.URL, delivery.WithContentType("text/plain"))
	err := target.Deliver(context.Background(), dispatchtest.Msg("t", 0, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatchmodels.ErrDeliveryRejected)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "try later")
}

func TestHTTPTargetCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := delivery.NewHTTPTarget(server.URL).Deliver(ctx, dispatchtest.Msg("t", 0, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
