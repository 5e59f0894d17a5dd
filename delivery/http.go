// Package delivery has DeliveryTargets that hand messages to something outside
// the process.
package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/memsql/errors"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

const (
	HeaderTopic     = "X-Dispatch-Topic"
	HeaderPartition = "X-Dispatch-Partition"
	HeaderOffset    = "X-Dispatch-Offset"
	HeaderKey       = "X-Dispatch-Key"

	defaultHTTPTimeout = 30 * time.Second
)

// HTTPTarget POSTs the message value to a URL. Message headers become HTTP
// headers and the coordinates are sent as X-Dispatch-* headers. Any 2xx
// status is a successful delivery. Other statuses wrap ErrDeliveryRejected.
// There are no retries.
type HTTPTarget struct {
	url         string
	client      *http.Client
	contentType string
}

var _ dispatchmodels.DeliveryTarget = &HTTPTarget{}

type HTTPOpt func(*HTTPTarget)

// WithHTTPClient replaces the default client, which has a 30 second timeout
func WithHTTPClient(client *http.Client) HTTPOpt {
	return func(t *HTTPTarget) {
		t.client = client
	}
}

// WithContentType sets Content-Type for messages that don't have a
// content-type header of their own
func WithContentType(contentType string) HTTPOpt {
	return func(t *HTTPTarget) {
		t.contentType = contentType
	}
}

func NewHTTPTarget(url string, opts ...HTTPOpt) *HTTPTarget {
	t := &HTTPTarget{
		url:         url,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		contentType: "application/octet-stream",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTarget) Deliver(ctx context.Context, msg *dispatchmodels.Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(msg.Value))
	if err != nil {
		return errors.Errorf("build request to (%s) for message (%s): %w", t.url, msg.Coordinates(), err)
	}
	for _, h := range msg.Headers {
		req.Header.Add(h.Key, string(h.Value))
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", t.contentType)
	}
	req.Header.Set(HeaderTopic, msg.Topic)
	req.Header.Set(HeaderPartition, strconv.Itoa(msg.Partition))
	req.Header.Set(HeaderOffset, strconv.FormatInt(msg.Offset, 10))
	if len(msg.Key) > 0 {
		req.Header.Set(HeaderKey, string(msg.Key))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Errorf("post message (%s) to (%s): %w", msg.Coordinates(), t.url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dispatchmodels.ErrDeliveryRejected.Errorf("post message (%s) to (%s) returned status (%d): %s",
			msg.Coordinates(), t.url, resp.StatusCode, string(body))
	}
	return nil
}
