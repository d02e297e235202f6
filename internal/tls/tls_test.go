package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Disabled(t *testing.T) {
	c, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetup_Errors(t *testing.T) {
	_, err := Setup(Config{Enabled: true})
	assert.Error(t, err, "no certificate source")

	_, err = Setup(Config{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err, "dir without certificates or auto-generation")

	_, err = Setup(Config{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.0"})
	assert.Error(t, err)
}

func TestSetup_AutoGenerateAndServe(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	cfg := Config{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.2"}
	tc, err := Setup(cfg)
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, uint16(tls.VersionTLS12), tc.MinVersion)
	for _, f := range []string{tlsCrt, tlsKey, tlsCaCrt} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, f)
	}
	certPath, keyPath := cfg.Paths()
	assert.Equal(t, filepath.Join(dir, tlsCrt), certPath)
	assert.Equal(t, filepath.Join(dir, tlsKey), keyPath)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	srv.TLS = tc
	srv.StartTLS()
	defer srv.Close()

	ca, err := os.ReadFile(filepath.Join(dir, tlsCaCrt))
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(ca))
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// existing pair is reused, not regenerated
	before, _ := os.ReadFile(filepath.Join(dir, tlsCrt))
	_, err = Setup(cfg)
	require.NoError(t, err)
	after, _ := os.ReadFile(filepath.Join(dir, tlsCrt))
	assert.Equal(t, before, after)
}

func TestSetup_ExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, generateCertificate(Config{CommonName: "gw"}, dir))
	cfg := Config{Enabled: true, CertFile: filepath.Join(dir, tlsCrt), KeyFile: filepath.Join(dir, tlsKey)}
	tc, err := Setup(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), tc.MinVersion)
	cert, err := tc.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "gw", leaf.Subject.CommonName)

	_, err = Setup(Config{Enabled: true, CertFile: filepath.Join(dir, "nope.crt"), KeyFile: filepath.Join(dir, tlsKey)})
	assert.Error(t, err)
}
