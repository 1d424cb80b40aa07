// Package config loads the artifact gateway settings.
package config

import (
	"fmt"
	"strings"
	"time"

	gconfig "github.com/Laisky/go-config/v2"
)

// Settings captures runtime configuration of the artifact gateway.
type Settings struct {
	Secret          string
	Listen          string
	PublicBaseURL   string
	AllowedOrigins  []string
	TrustedProxies  []string
	MaxUploadBytes  int64
	ComputeChecksum bool
	Store           StoreSettings
	Backend         BackendSettings
	Token           TokenSettings
}

// StoreSettings bounds calls to mongo and object storage.
type StoreSettings struct {
	Timeout     time.Duration
	BlobTimeout time.Duration
	KeyPrefix   string
}

// BackendSettings configures the external build backend, an empty BaseURL disables it.
type BackendSettings struct {
	BaseURL         string
	Timeout         time.Duration
	DownloadTimeout time.Duration
	CacheTTL        time.Duration
}

// TokenSettings configures download tokens.
type TokenSettings struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	// EnforceMaxDownloads counts redemptions in redis. When off,
	// maxDownloads is advisory because tokens carry no server side state.
	EnforceMaxDownloads bool
}

// LoadSettingsFromConfig reads configuration and applies defaults.
func LoadSettingsFromConfig() Settings {
	settings := Settings{
		Secret:          strings.TrimSpace(gconfig.S.GetString("settings.secret")),
		Listen:          strings.TrimSpace(gconfig.S.GetString("settings.web.listen")),
		PublicBaseURL:   strings.TrimSpace(gconfig.S.GetString("settings.web.public_base_url")),
		AllowedOrigins:  gconfig.S.GetStringSlice("settings.web.allowed_origins"),
		TrustedProxies:  gconfig.S.GetStringSlice("settings.web.trusted_proxies"),
		MaxUploadBytes:  int64FromConfig("settings.artifact.max_upload_bytes", 64<<20),
		ComputeChecksum: boolFromConfig("settings.artifact.compute_checksum", true),
		Store: StoreSettings{
			Timeout:     msFromConfig("settings.artifact.store.timeout_ms", 30_000),
			BlobTimeout: msFromConfig("settings.artifact.store.blob_timeout_ms", 60_000),
			KeyPrefix:   strings.Trim(strings.TrimSpace(gconfig.S.GetString("settings.s3.prefix")), "/"),
		},
		Backend: BackendSettings{
			BaseURL:         strings.TrimSpace(gconfig.S.GetString("settings.artifact.backend.base_url")),
			Timeout:         msFromConfig("settings.artifact.backend.timeout_ms", 60_000),
			DownloadTimeout: msFromConfig("settings.artifact.backend.download_timeout_ms", 120_000),
			CacheTTL:        time.Duration(int64FromConfig("settings.artifact.backend.cache_ttl_seconds", 0)) * time.Second,
		},
		Token: TokenSettings{
			DefaultTTL:          time.Duration(int64FromConfig("settings.artifact.token.default_ttl_seconds", 3600)) * time.Second,
			MaxTTL:              time.Duration(int64FromConfig("settings.artifact.token.max_ttl_seconds", 86400)) * time.Second,
			EnforceMaxDownloads: boolFromConfig("settings.artifact.token.enforce_max_downloads", false),
		},
	}

	if settings.Listen == "" {
		settings.Listen = "localhost:8080"
	}
	if settings.MaxUploadBytes <= 0 {
		settings.MaxUploadBytes = 64 << 20
	}
	if settings.Store.Timeout <= 0 {
		settings.Store.Timeout = 30 * time.Second
	}
	if settings.Store.BlobTimeout <= 0 {
		settings.Store.BlobTimeout = 60 * time.Second
	}
	if settings.Store.KeyPrefix == "" {
		settings.Store.KeyPrefix = "artifacts"
	}
	if settings.Backend.Timeout <= 0 {
		settings.Backend.Timeout = 60 * time.Second
	}
	if settings.Backend.DownloadTimeout <= 0 {
		settings.Backend.DownloadTimeout = 120 * time.Second
	}
	if settings.Backend.CacheTTL < 0 {
		settings.Backend.CacheTTL = 0
	}
	if settings.Token.MaxTTL <= 0 {
		settings.Token.MaxTTL = 24 * time.Hour
	}
	if settings.Token.DefaultTTL <= 0 {
		settings.Token.DefaultTTL = time.Hour
	}
	if settings.Token.DefaultTTL > settings.Token.MaxTTL {
		settings.Token.DefaultTTL = settings.Token.MaxTTL
	}

	return settings
}

func msFromConfig(key string, def int64) time.Duration {
	return time.Duration(int64FromConfig(key, def)) * time.Millisecond
}

// int64FromConfig reads an int64 configuration value with a default fallback.
func int64FromConfig(key string, def int64) int64 {
	switch v := gconfig.S.Get(key).(type) {
	case nil:
		return def
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		var parsed int64
		if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// boolFromConfig reads a boolean configuration value with a default fallback.
func boolFromConfig(key string, def bool) bool {
	switch v := gconfig.S.Get(key).(type) {
	case nil:
		return def
	case bool:
		return v
	case int:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		default:
			return def
		}
	default:
		return def
	}
}
