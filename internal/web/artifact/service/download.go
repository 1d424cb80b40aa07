package service

import (
	"context"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/token"
)

// Download modes
const (
	ModeDirect = "direct"
	ModeSecure = "secure"
)

// Download is an opened artifact, exactly one of Local and Proxy is set.
// Proxy bodies must be closed by the caller.
type Download struct {
	Local *model.Binary
	Proxy *http.Response
}

// Close releases the proxied response, if any.
func (d *Download) Close() error {
	if d == nil || d.Proxy == nil {
		return nil
	}

	return d.Proxy.Body.Close()
}

// OpenDirect opens the artifact for its owner.
func (s *Service) OpenDirect(ctx context.Context, p *model.Principal,
	userID, pluginName, rangeHeader string) (*Download, error) {
	if err := model.Authorize(p, userID); err != nil {
		return nil, err
	}

	return s.open(ctx, ModeDirect, userID, pluginName, rangeHeader)
}

// IssuedToken is a freshly minted download grant.
type IssuedToken struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt"`
	DownloadURL  string    `json:"downloadUrl"`
	MaxDownloads int       `json:"maxDownloads"`
}

// IssueToken mints a download token for the owner of the artifact.
func (s *Service) IssueToken(ctx context.Context, p *model.Principal,
	userID, pluginName string, opt token.IssueOption) (*IssuedToken, error) {
	if err := model.Authorize(p, userID); err != nil {
		return nil, err
	}

	encoded, payload, err := s.codec.Issue(userID, pluginName, opt, p)
	if err != nil {
		return nil, err
	}

	tokensIssuedTotal.Inc()
	s.loggerFromContext(ctx).Info("download token issued",
		zap.String("user_id", userID),
		zap.String("plugin_name", pluginName),
		zap.String("issued_by", payload.IssuedBy),
		zap.Time("expires_at", payload.ExpiresAt),
		zap.Int("max_downloads", payload.MaxDownloads))

	return &IssuedToken{
		Token:        encoded,
		ExpiresAt:    payload.ExpiresAt,
		DownloadURL:  s.urls.Secure(userID, pluginName, encoded),
		MaxDownloads: payload.MaxDownloads,
	}, nil
}

// OpenSecure opens the artifact for whoever presents a valid token,
// no session is needed.
func (s *Service) OpenSecure(ctx context.Context, encoded, userID, pluginName,
	clientIP, rangeHeader string) (*Download, error) {
	logger := s.loggerFromContext(ctx)

	payload, err := token.Decode(encoded)
	if err != nil {
		tokenRejectionsTotal.WithLabelValues(string(model.ErrCodeMalformed)).Inc()
		return nil, err
	}

	reject := func(outcome token.Outcome) error {
		tokenRejectionsTotal.WithLabelValues(string(outcome)).Inc()
		logger.Info("download token rejected",
			zap.String("user_id", userID),
			zap.String("plugin_name", pluginName),
			zap.String("client_ip", clientIP),
			zap.String("outcome", string(outcome)))
		return outcome.Err()
	}

	outcome := token.Validate(payload, token.RequestContext{
		UserID:     userID,
		PluginName: pluginName,
		ClientIP:   clientIP,
		Now:        s.clock(),
	})
	if outcome != token.Valid {
		return nil, reject(outcome)
	}

	dl, err := s.open(ctx, ModeSecure, userID, pluginName, rangeHeader)
	if err != nil {
		return nil, err
	}

	// only downloads that can actually be served are counted
	if outcome, err = token.Redeem(ctx, s.ledger, payload); err != nil {
		_ = dl.Close()
		return nil, model.ErrStorageUnavailable(errors.Wrap(err, "redeem token"))
	}
	if outcome != token.Valid {
		_ = dl.Close()
		return nil, reject(outcome)
	}

	return dl, nil
}

// open serves from the local store, or proxies the backend when the artifact
// is definitively absent locally. Local storage errors are never papered over.
func (s *Service) open(ctx context.Context, mode, userID, pluginName, rangeHeader string) (*Download, error) {
	_, bin, err := s.store.GetBinary(ctx, userID, pluginName)
	if err == nil {
		downloadsTotal.WithLabelValues(mode, model.SourceLocal).Inc()
		return &Download{Local: bin}, nil
	}
	if !model.IsCode(err, model.ErrCodeNotFound) || !s.hasBackend() {
		return nil, err
	}

	resp, err := s.backend.Download(ctx, userID, pluginName, rangeHeader)
	if err != nil {
		return nil, err
	}

	downloadsTotal.WithLabelValues(mode, model.SourceBackend).Inc()
	return &Download{Proxy: resp}, nil
}
