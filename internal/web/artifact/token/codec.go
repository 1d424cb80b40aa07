// Package token mints and checks download capability tokens.
//
// A token is the base64url encoding of its own JSON payload. Nothing is
// stored server side, so whoever holds the string holds the grant.
package token

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
)

const randomBytes = 32

// Payload is the full grant carried inside an encoded token.
type Payload struct {
	Token          string    `json:"token"`
	UserID         string    `json:"userId"`
	PluginName     string    `json:"pluginName"`
	ExpiresAt      time.Time `json:"expiresAt"`
	MaxDownloads   int       `json:"maxDownloads"`
	DownloadCount  int       `json:"downloadCount"`
	IPRestrictions []string  `json:"ipRestrictions"`
	IssuedAt       time.Time `json:"issuedAt"`
	IssuedBy       string    `json:"issuedBy"`
}

// IssueOption are the caller supplied grant constraints, zero values pick defaults.
type IssueOption struct {
	ExpiresIn      time.Duration
	MaxDownloads   int
	IPRestrictions []string
}

// Clock returns the current time.
type Clock func() time.Time

// Codec issues, encodes and decodes tokens.
type Codec struct {
	defaultTTL time.Duration
	maxTTL     time.Duration
	clock      Clock
	rand       io.Reader
}

// NewCodec creates a codec, ttl values <= 0 fall back to 1h default and 24h max.
func NewCodec(defaultTTL, maxTTL time.Duration) *Codec {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}
	if defaultTTL > maxTTL {
		defaultTTL = maxTTL
	}

	return &Codec{
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		clock:      time.Now,
		rand:       rand.Reader,
	}
}

// WithClock replaces the time source, used by tests.
func (c *Codec) WithClock(clock Clock) *Codec {
	if clock != nil {
		c.clock = clock
	}
	return c
}

// Issue mints a new token for (userID, pluginName) on behalf of issuer.
func (c *Codec) Issue(userID, pluginName string, opt IssueOption, issuer *model.Principal) (string, *Payload, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(pluginName) == "" {
		return "", nil, model.NewError(model.ErrCodeInvalidArgument, "userId and pluginName are required")
	}

	ttl := opt.ExpiresIn
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	maxDownloads := opt.MaxDownloads
	if maxDownloads < 1 {
		maxDownloads = 1
	}

	ipRestrictions := make([]string, 0, len(opt.IPRestrictions))
	for _, ip := range opt.IPRestrictions {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if !validRestriction(ip) {
			return "", nil, model.NewError(model.ErrCodeInvalidArgument, "invalid ip restriction "+ip)
		}
		ipRestrictions = append(ipRestrictions, ip)
	}

	raw := make([]byte, randomBytes)
	if _, err := io.ReadFull(c.rand, raw); err != nil {
		return "", nil, errors.Wrap(err, "read random token")
	}

	now := c.clock().UTC()
	payload := &Payload{
		Token:          hex.EncodeToString(raw),
		UserID:         userID,
		PluginName:     pluginName,
		ExpiresAt:      now.Add(ttl),
		MaxDownloads:   maxDownloads,
		IPRestrictions: ipRestrictions,
		IssuedAt:       now,
	}
	if issuer != nil {
		payload.IssuedBy = issuer.UserID
	}

	encoded, err := Encode(payload)
	if err != nil {
		return "", nil, err
	}

	return encoded, payload, nil
}

// Encode serializes payload into its transport form.
func Encode(payload *Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal token payload")
	}

	return base64.RawURLEncoding.EncodeToString(body), nil
}

// Decode parses an encoded token, every failure is a MALFORMED error.
func Decode(encoded string) (*Payload, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, malformed("token is empty", nil)
	}

	// padded input from older clients is accepted
	body, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, malformed("token is not valid base64url", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	payload := new(Payload)
	if err = dec.Decode(payload); err != nil {
		return nil, malformed("token payload is not valid", err)
	}
	if _, err = dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed("token payload has trailing data", err)
	}

	switch {
	case payload.Token == "":
		return nil, malformed("token field is missing", nil)
	case payload.UserID == "" || payload.PluginName == "":
		return nil, malformed("token owner is missing", nil)
	case payload.ExpiresAt.IsZero():
		return nil, malformed("token expiry is missing", nil)
	}

	return payload, nil
}

func malformed(msg string, cause error) error {
	return model.NewError(model.ErrCodeMalformed, msg).
		WithHint("request a new download link").
		WithCause(cause)
}
