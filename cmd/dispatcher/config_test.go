package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singlestore-labs/dispatch/delivery"
	"github.com/singlestore-labs/dispatch/dispatchmodels"
	"github.com/singlestore-labs/dispatch/dispatchtest"
)

const sampleConfig = `
consumer:
  topics: [orders]
  deliveryOrder: ordered
  pollTimeout: 250ms
kafka:
  brokers: [localhost:9092]
  groupID: dispatcher
target:
  kind: http
  url: http://localhost:8080/hook
  maxConcurrency: 8
`

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "dispatcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, sampleConfig), env(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, cfg.Consumer.Topics)
	assert.Equal(t, dispatchmodels.Ordered, cfg.Consumer.DeliveryOrder)
	assert.Equal(t, 250*time.Millisecond, cfg.Consumer.PollTimeout)
	assert.Equal(t, "dispatcher", cfg.Kafka.GroupID)
	assert.Equal(t, 8, cfg.Target.MaxConcurrency)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, sampleConfig), env(map[string]string{
		"DISPATCH_TOPICS":         "a,b c",
		"DISPATCH_DELIVERY_ORDER": "unordered",
		"DISPATCH_DRAIN_TIMEOUT":  "5s",
		"DISPATCH_KAFKA_BROKERS":  "k1:9092 k2:9092",
		"DISPATCH_KAFKA_SASL":     "plain:u:p",
		"DISPATCH_KAFKA_TLS":      `{"ServerName":"kafka.internal"}`,
		"DISPATCH_TARGET_URL":     "http://elsewhere/hook",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Consumer.Topics)
	assert.Equal(t, dispatchmodels.Unordered, cfg.Consumer.DeliveryOrder)
	assert.Equal(t, 5*time.Second, cfg.Consumer.DrainTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.NotNil(t, cfg.Kafka.SASL.Mechanism)
	require.NotNil(t, cfg.Kafka.TLS)
	assert.Equal(t, "kafka.internal", cfg.Kafka.TLS.ServerName)
	assert.Equal(t, "http://elsewhere/hook", cfg.Target.URL)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(writeConfig(t, sampleConfig), env(map[string]string{"DISPATCH_POLL_TIMEOUT": "soon"}))
	assert.Error(t, err)
	_, err = loadConfig(writeConfig(t, sampleConfig), env(map[string]string{"DISPATCH_GROUP_BY": "offset"}))
	assert.Error(t, err)
	_, err = loadConfig(writeConfig(t, "target:\n  kind: carrier-pigeon\n"), env(map[string]string{
		"DISPATCH_TOPICS":        "t",
		"DISPATCH_KAFKA_BROKERS": "k:9092",
		"DISPATCH_KAFKA_GROUP":   "g",
	}))
	assert.Error(t, err)
	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.Error(t, err)
}

func TestNewTargetHTTP(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	defer server.Close()

	target, closeTarget, err := newTarget(TargetConfig{Kind: "http", URL: server.URL, MaxConcurrency: 2}, dispatchtest.Tracer(t, "CMD"))
	require.NoError(t, err)
	defer closeTarget()
	_, ok := target.(*delivery.Limited)
	assert.True(t, ok, "max concurrency wraps the target")
	require.NoError(t, target.Deliver(context.Background(), dispatchtest.Msg("t", 0, 1)))
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewTargetSQL(t *testing.T) {
	target, closeTarget, err := newTarget(TargetConfig{Kind: "sql", Driver: "postgres", DSN: "postgres://localhost/db?sslmode=disable", Table: "messages"}, nil)
	require.NoError(t, err)
	defer closeTarget()
	_, ok := target.(*delivery.SQLTarget)
	assert.True(t, ok)

	_, _, err = newTarget(TargetConfig{Kind: "sql", Driver: "sqlite", DSN: "x", Table: "messages"}, nil)
	assert.Error(t, err)
}

func TestMetricsMux(t *testing.T) {
	server := httptest.NewServer(metricsMux())
	defer server.Close()
	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
