package config

import (
	"testing"
	"time"

	gconfig "github.com/Laisky/go-config/v2"
	"github.com/stretchr/testify/require"
)

func withConfig(t *testing.T, kv map[string]any) {
	t.Helper()
	for k, v := range kv {
		orig := gconfig.S.Get(k)
		gconfig.S.Set(k, v)
		t.Cleanup(func() { gconfig.S.Set(k, orig) })
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	s := LoadSettingsFromConfig()

	require.Equal(t, "localhost:8080", s.Listen)
	require.Equal(t, int64(64<<20), s.MaxUploadBytes)
	require.True(t, s.ComputeChecksum)
	require.Equal(t, 30*time.Second, s.Store.Timeout)
	require.Equal(t, 60*time.Second, s.Store.BlobTimeout)
	require.Equal(t, "artifacts", s.Store.KeyPrefix)
	require.Equal(t, 60*time.Second, s.Backend.Timeout)
	require.Equal(t, 120*time.Second, s.Backend.DownloadTimeout)
	require.Zero(t, s.Backend.CacheTTL)
	require.Equal(t, time.Hour, s.Token.DefaultTTL)
	require.Equal(t, 24*time.Hour, s.Token.MaxTTL)
	require.False(t, s.Token.EnforceMaxDownloads)
	require.Empty(t, s.TrustedProxies)
}

func TestLoadSettingsOverrides(t *testing.T) {
	withConfig(t, map[string]any{
		"settings.web.listen":                           "0.0.0.0:9000",
		"settings.web.trusted_proxies":                  []string{"10.0.0.0/8"},
		"settings.artifact.max_upload_bytes":            "1024",
		"settings.artifact.compute_checksum":            "no",
		"settings.artifact.store.timeout_ms":            float64(1500),
		"settings.s3.prefix":                            "/jars/",
		"settings.artifact.backend.base_url":            " http://builder:3000 ",
		"settings.artifact.backend.cache_ttl_seconds":   30,
		"settings.artifact.token.default_ttl_seconds":   7200,
		"settings.artifact.token.max_ttl_seconds":       600,
		"settings.artifact.token.enforce_max_downloads": true,
	})

	s := LoadSettingsFromConfig()
	require.Equal(t, "0.0.0.0:9000", s.Listen)
	require.Equal(t, int64(1024), s.MaxUploadBytes)
	require.False(t, s.ComputeChecksum)
	require.Equal(t, 1500*time.Millisecond, s.Store.Timeout)
	require.Equal(t, "jars", s.Store.KeyPrefix)
	require.Equal(t, "http://builder:3000", s.Backend.BaseURL)
	require.Equal(t, 30*time.Second, s.Backend.CacheTTL)
	require.Equal(t, 10*time.Minute, s.Token.MaxTTL)
	require.Equal(t, 10*time.Minute, s.Token.DefaultTTL)
	require.True(t, s.Token.EnforceMaxDownloads)
	require.Equal(t, []string{"10.0.0.0/8"}, s.TrustedProxies)
}
