package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLSOptionsConfig(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "tls", "tls.crt")
	keyPath := filepath.Join(dir, "tls", "tls.key")
	require.NoError(t, WriteSelfSignedCert(certPath, keyPath, "broker.local", time.Hour))

	t.Run("nil options", func(t *testing.T) {
		var o *TLSOptions
		cfg, err := o.Config()
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("ca and client certificate", func(t *testing.T) {
		cfg, err := (&TLSOptions{CAFile: certPath, CertFile: certPath, KeyFile: keyPath, ServerName: "broker.local"}).Config()
		require.NoError(t, err)
		assert.NotNil(t, cfg.RootCAs)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, "broker.local", cfg.ServerName)
	})

	t.Run("missing CA file", func(t *testing.T) {
		_, err := (&TLSOptions{CAFile: filepath.Join(dir, "nope.pem")}).Config()
		assert.Error(t, err)
	})

	t.Run("CA file is not PEM", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.pem")
		require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
		_, err := (&TLSOptions{CAFile: bad}).Config()
		assert.Error(t, err)
	})

	t.Run("key without certificate", func(t *testing.T) {
		_, err := (&TLSOptions{KeyFile: keyPath}).Config()
		assert.Error(t, err)
	})
}
