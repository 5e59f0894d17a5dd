package kafkalog_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/singlestore-labs/dispatch/kafkalog"
)

func TestSASLConfig(t *testing.T) {
	for _, good := range []string{
		"",
		"none",
		"plain:username:password",
		"plain:username:pass:word",
		"sha256:username:password",
		"sha512:username:password",
	} {
		var sc kafkalog.SASLConfig
		err := sc.UnmarshalText([]byte(good))
		require.NoErrorf(t, err, "unmarshal '%s'", good)
	}

	for _, bad := range []string{
		"None",
		"plane:username:password",
		"sha512:username",
	} {
		var sc kafkalog.SASLConfig
		err := sc.UnmarshalText([]byte(bad))
		require.Errorf(t, err, "unmarshal '%s'", bad)
	}

	var sc kafkalog.SASLConfig
	require.NoError(t, sc.UnmarshalText([]byte("plain:u:p")))
	assert.Equal(t, "PLAIN", sc.Mechanism.Name())
}

func TestTLSConfig(t *testing.T) {
	var tc kafkalog.TLSConfig
	require.NoError(t, json.Unmarshal([]byte(`{"ServerName":"kafka.internal","InsecureSkipVerify":true}`), &tc))
	assert.Equal(t, "kafka.internal", tc.ServerName)
	config, err := tc.Build()
	require.NoError(t, err)
	assert.True(t, config.InsecureSkipVerify)
	assert.Equal(t, "kafka.internal", config.ServerName)

	_, err = (&kafkalog.TLSConfig{CAFile: "/does/not/exist.pem"}).Build()
	assert.Error(t, err)
	_, err = (&kafkalog.TLSConfig{CertFile: "cert.pem"}).Build()
	assert.Error(t, err, "cert without key")
}

func TestConfigYAML(t *testing.T) {
	var cfg kafkalog.Config
	require.NoError(t, yaml.Unmarshal([]byte(`
brokers: [kafka-1:9092, kafka-2:9092]
groupID: dispatcher
maxPollRecords: 100
linger: 10ms
startAt: latest
sasl: sha512:user:secret
tls:
  serverName: kafka.internal
`), &cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	assert.Equal(t, 100, cfg.MaxPollRecords)
	require.NotNil(t, cfg.SASL.Mechanism)
	assert.Equal(t, "SCRAM-SHA-512", cfg.SASL.Mechanism.Name())
	require.NotNil(t, cfg.TLS)
	assert.Equal(t, "kafka.internal", cfg.TLS.ServerName)
}
