package kafkalog

import (
	"crypto/tls"
	"crypto/x509"
	"encoding"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/memsql/errors"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

const dialTimeout = 30 * time.Second

type SASLMethod string

const (
	SASLNone   SASLMethod = "none"
	SASLPlain  SASLMethod = "plain"
	SASLSHA256 SASLMethod = "sha256"
	SASLSHA512 SASLMethod = "sha512"
)

var (
	_ encoding.TextUnmarshaler = &SASLConfig{}
	_ json.Unmarshaler         = &TLSConfig{}
)

// SASLConfig unmarshals into a sasl.Mechanism from strings like:
//
//	"none"
//	"plain:username:password"
//	"sha256:username:password"
//	"sha512:username:password"
//
// The password may itself contain ':'.
type SASLConfig struct {
	Mechanism sasl.Mechanism
}

func (sc *SASLConfig) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" || s == string(SASLNone) {
		sc.Mechanism = nil
		return nil
	}
	components := strings.SplitN(s, ":", 3)
	if len(components) != 3 {
		return errors.Errorf("kafka log invalid SASL config (%s), expected method:username:password", s)
	}
	method, username, password := SASLMethod(components[0]), components[1], components[2]
	var m sasl.Mechanism
	var err error
	switch method {
	case SASLPlain:
		m = plain.Mechanism{
			Username: username,
			Password: password,
		}
	case SASLSHA256:
		m, err = scram.Mechanism(scram.SHA256, username, password)
	case SASLSHA512:
		m, err = scram.Mechanism(scram.SHA512, username, password)
	default:
		return errors.Errorf("kafka log invalid SASL config, method (%s) not supported", string(method))
	}
	if err != nil {
		return errors.Errorf("kafka log could not create SASL (%s) mechanism: %w", string(method), err)
	}
	sc.Mechanism = m
	return nil
}

// TLSConfig describes how to reach TLS brokers. It unmarshals from YAML or
// JSON, for example:
//
//	{"CAFile": "/etc/kafka/ca.pem", "ServerName": "kafka.internal"}
//
// An empty TLSConfig uses the system roots.
type TLSConfig struct {
	CAFile             string `json:"CAFile" yaml:"caFile"`
	CertFile           string `json:"CertFile" yaml:"certFile"`
	KeyFile            string `json:"KeyFile" yaml:"keyFile"`
	ServerName         string `json:"ServerName" yaml:"serverName"`
	InsecureSkipVerify bool   `json:"InsecureSkipVerify" yaml:"insecureSkipVerify"`
}

func (tc *TLSConfig) UnmarshalJSON(b []byte) error {
	type plainTLSConfig TLSConfig
	var p plainTLSConfig
	if err := json.Unmarshal(b, &p); err != nil {
		return errors.Errorf("kafka log invalid TLS config: %w", err)
	}
	*tc = TLSConfig(p)
	return nil
}

// Build loads the certificates named in the config
func (tc *TLSConfig) Build() (*tls.Config, error) {
	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         tc.ServerName,
		InsecureSkipVerify: tc.InsecureSkipVerify, //nolint:gosec // explicitly configured
	}
	if tc.CAFile != "" {
		pem, err := os.ReadFile(tc.CAFile)
		if err != nil {
			return nil, errors.Errorf("kafka log could not read CA file (%s): %w", tc.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("kafka log found no certificates in CA file (%s)", tc.CAFile)
		}
		config.RootCAs = pool
	}
	if (tc.CertFile == "") != (tc.KeyFile == "") {
		return nil, errors.Errorf("kafka log TLS client certificate needs both a cert file (%s) and a key file (%s)", tc.CertFile, tc.KeyFile)
	}
	if tc.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
		if err != nil {
			return nil, errors.Errorf("kafka log could not load client certificate (%s): %w", tc.CertFile, err)
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}

func (c *Client) dialer() *kafka.Dialer {
	nBrokers := len(c.config.Brokers)
	if nBrokers == 0 {
		nBrokers = 1
	}
	return &kafka.Dialer{
		ClientID:      c.clientID,
		Timeout:       dialTimeout * time.Duration(nBrokers), // timeout is divided by number of brokers
		DualStack:     true,
		KeepAlive:     time.Second * 5,
		SASLMechanism: c.config.SASL.Mechanism,
		TLS:           c.tlsConfig,
	}
}
