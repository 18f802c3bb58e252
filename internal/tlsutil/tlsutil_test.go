package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig_Policy(t *testing.T) {
	cfg := DefaultTLSConfig()

	assert.EqualValues(t, tls.VersionTLS12, cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)

	// Every allowed suite is AEAD; the insecure list must stay empty.
	insecure := make(map[uint16]bool)
	for _, cs := range tls.InsecureCipherSuites() {
		insecure[cs.ID] = true
	}
	for _, id := range cfg.CipherSuites {
		assert.False(t, insecure[id], "insecure cipher suite %#x allowed", id)
	}
}

func TestDefaultTLSConfig_CallersAreIsolated(t *testing.T) {
	first := DefaultTLSConfig()
	first.CipherSuites[0] = tls.TLS_RSA_WITH_AES_128_CBC_SHA

	second := DefaultTLSConfig()
	assert.NotEqual(t, uint16(tls.TLS_RSA_WITH_AES_128_CBC_SHA), second.CipherSuites[0])
}

func TestTransport(t *testing.T) {
	tr := Transport()

	require.NotNil(t, tr.TLSClientConfig)
	assert.EqualValues(t, tls.VersionTLS12, tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, 10*time.Second, tr.TLSHandshakeTimeout)
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)

	// Zero means unbounded; the context carries the deadline instead.
	assert.Zero(t, SecureHTTPClient(0).Timeout)
}
