package cmd

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
)

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

// validateStartupConfig validates startup configuration from the shared config source.
// It returns an error when any configured value is malformed or violates constraints.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// validateStartupConfigWithGetter validates startup configuration via a key-value getter.
// It accepts a value getter and returns nil when all configured values are valid.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	validationErrs := make([]string, 0)

	validateRequiredConfig(get, &validationErrs)
	validateRedisConfig(get, &validationErrs)
	validateWebConfig(get, &validationErrs)
	validateArtifactConfig(get, &validationErrs)
	validateTokenConfig(get, &validationErrs)

	if len(validationErrs) == 0 {
		return nil
	}

	return errors.Errorf("invalid configuration:\n - %s", strings.Join(validationErrs, "\n - "))
}

// validateRequiredConfig checks the keys the api cannot start without.
func validateRequiredConfig(get configGetter, errs *[]string) {
	for _, key := range []string{
		"settings.secret",
		"settings.db.artifact.addr",
		"settings.db.artifact.db",
		"settings.s3.endpoint",
		"settings.s3.bucket",
	} {
		validateRequiredString(get, key, errs)
	}

	validateOptionalBool(get, "settings.s3.use_ssl", errs)
	validateOptionalStringNonEmpty(get, "settings.s3.prefix", errs)
}

// validateRedisConfig validates the optional redis connection.
func validateRedisConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.db.redis.db", 0, errs)
	validateOptionalHostPort(get, "settings.db.redis.addr", errs)
}

// validateWebConfig validates listen address, public url and cors origins.
func validateWebConfig(get configGetter, errs *[]string) {
	validateOptionalHostPort(get, "settings.web.listen", errs)
	validateOptionalURL(get, "settings.web.public_base_url", errs)
	validateTrustedProxies(get, errs)

	raw := get("settings.web.allowed_origins")
	if raw == nil {
		return
	}

	origins, ok := toStringSlice(raw)
	if !ok {
		appendValidationError(errs, "settings.web.allowed_origins must be a list of strings")
		return
	}
	for i, origin := range origins {
		origin = strings.TrimSpace(origin)
		if strings.HasPrefix(origin, "*.") && len(origin) > 2 && !strings.Contains(origin, "/") {
			continue
		}

		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			appendValidationError(errs, "settings.web.allowed_origins[%d] must be an origin or *.domain", i)
		}
	}
}

// validateTrustedProxies requires every entry to be an IP or a CIDR.
func validateTrustedProxies(get configGetter, errs *[]string) {
	raw := get("settings.web.trusted_proxies")
	if raw == nil {
		return
	}

	proxies, ok := toStringSlice(raw)
	if !ok {
		appendValidationError(errs, "settings.web.trusted_proxies must be a list of strings")
		return
	}
	for i, proxy := range proxies {
		proxy = strings.TrimSpace(proxy)
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			appendValidationError(errs, "settings.web.trusted_proxies[%d] must be an IP or CIDR", i)
		}
	}
}

// validateArtifactConfig validates storage limits and the build backend.
func validateArtifactConfig(get configGetter, errs *[]string) {
	validateOptionalInt64Min(get, "settings.artifact.max_upload_bytes", 1, errs)
	validateOptionalBool(get, "settings.artifact.compute_checksum", errs)
	validateOptionalIntMin(get, "settings.artifact.store.timeout_ms", 1, errs)
	validateOptionalIntMin(get, "settings.artifact.store.blob_timeout_ms", 1, errs)

	validateOptionalURL(get, "settings.artifact.backend.base_url", errs)
	validateOptionalIntMin(get, "settings.artifact.backend.timeout_ms", 1, errs)
	validateOptionalIntMin(get, "settings.artifact.backend.download_timeout_ms", 1, errs)
	validateOptionalIntMin(get, "settings.artifact.backend.cache_ttl_seconds", 0, errs)
}

// validateTokenConfig validates download token lifetimes.
func validateTokenConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.artifact.token.default_ttl_seconds", 1, errs)
	validateOptionalIntMin(get, "settings.artifact.token.max_ttl_seconds", 1, errs)
	validateOptionalBool(get, "settings.artifact.token.enforce_max_downloads", errs)

	defaultRaw := get("settings.artifact.token.default_ttl_seconds")
	maxRaw := get("settings.artifact.token.max_ttl_seconds")
	if defaultRaw != nil && maxRaw != nil {
		defaultTTL, defaultErr := parseStrictInt(defaultRaw)
		maxTTL, maxErr := parseStrictInt(maxRaw)
		if defaultErr == nil && maxErr == nil && defaultTTL > maxTTL {
			appendValidationError(errs, "settings.artifact.token.default_ttl_seconds must be <= settings.artifact.token.max_ttl_seconds")
		}
	}

	if enforce, ok := parseStrictBool(get("settings.artifact.token.enforce_max_downloads")); ok && enforce {
		if addr, err := parseStrictString(get("settings.db.redis.addr")); err != nil || strings.TrimSpace(addr) == "" {
			appendValidationError(errs, "settings.db.redis.addr is required when settings.artifact.token.enforce_max_downloads is on")
		}
	}
}

// validateRequiredString validates that key is configured as a non-empty string.
func validateRequiredString(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		appendValidationError(errs, "%s is required", key)
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil || strings.TrimSpace(value) == "" {
		appendValidationError(errs, "%s must be a non-empty string", key)
	}
}

// validateOptionalHostPort validates an optionally configured host:port key.
func validateOptionalHostPort(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string", key)
		return
	}

	if _, port, err := net.SplitHostPort(strings.TrimSpace(value)); err != nil || port == "" {
		appendValidationError(errs, "%s must be host:port", key)
	}
}

// toStringSlice accepts yaml lists of strings.
func toStringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// optional returns the raw value of key, ok is false when the key is unset.
func optional(get configGetter, key string) (any, bool) {
	raw := get(key)
	return raw, raw != nil
}

func validateOptionalBool(get configGetter, key string, errs *[]string) {
	raw, ok := optional(get, key)
	if !ok {
		return
	}

	if _, parsed := parseStrictBool(raw); !parsed {
		appendValidationError(errs, "%s must be a boolean", key)
	}
}

func validateOptionalIntMin(get configGetter, key string, min int, errs *[]string) {
	validateOptionalInt64Min(get, key, int64(min), errs)
}

// validateOptionalInt64Min rejects non integers and values below min.
func validateOptionalInt64Min(get configGetter, key string, min int64, errs *[]string) {
	raw, ok := optional(get, key)
	if !ok {
		return
	}

	value, err := parseStrictInt64(raw)
	switch {
	case err != nil:
		appendValidationError(errs, "%s must be an integer", key)
	case value < min:
		appendValidationError(errs, "%s must be >= %d", key, min)
	}
}

// validateOptionalURL requires an absolute url with scheme and host.
func validateOptionalURL(get configGetter, key string, errs *[]string) {
	raw, ok := optional(get, key)
	if !ok {
		return
	}

	value, err := parseStrictString(raw)
	if err != nil {
		appendValidationError(errs, "%s must be a string URL", key)
		return
	}
	value = strings.TrimSpace(value)
	if value == "" {
		appendValidationError(errs, "%s must not be empty", key)
		return
	}

	if parsed, err := url.Parse(value); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		appendValidationError(errs, "%s must be a valid absolute URL", key)
	}
}

func validateOptionalStringNonEmpty(get configGetter, key string, errs *[]string) {
	raw, ok := optional(get, key)
	if !ok {
		return
	}

	value, err := parseStrictString(raw)
	switch {
	case err != nil:
		appendValidationError(errs, "%s must be a string", key)
	case strings.TrimSpace(value) == "":
		appendValidationError(errs, "%s must not be empty", key)
	}
}

// parseStrictBool accepts yaml booleans, 0/1 numbers and true/false/yes/no strings.
func parseStrictBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int, int64, float64:
		n, err := parseStrictInt64(v)
		if err != nil {
			return false, false
		}
		return n != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}

	return false, false
}

func parseStrictInt(value any) (int, error) {
	n, err := parseStrictInt64(value)
	return int(n), err
}

// parseStrictInt64 accepts integers, whole floats (yaml/json numbers) and numeric strings.
func parseStrictInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if math.Trunc(v) != v {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse %q", v)
		}
		return n, nil
	default:
		return 0, errors.Errorf("unsupported int type %T", value)
	}
}

func parseStrictString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.Errorf("unsupported string type %T", value)
	}
}

func appendValidationError(errs *[]string, format string, args ...any) {
	if errs == nil {
		return
	}
	*errs = append(*errs, fmt.Sprintf(format, args...))
}
