package service

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/token"
)

// Availability is the answer to an info query, it has the same shape
// whether the artifact exists or not.
type Availability struct {
	model.Info
	DownloadURL       string     `json:"downloadUrl"`
	SecureDownloadURL string     `json:"secureDownloadUrl"`
	TemporaryToken    string     `json:"temporaryToken,omitempty"`
	TokenExpiresAt    *time.Time `json:"tokenExpiresAt,omitempty"`
}

// Availability describes the artifact of (userID, pluginName).
//
// The local store is asked first, the backend only when the artifact is
// definitively absent locally. When neither knows it a placeholder is returned.
// includeToken mints a default token for available artifacts.
func (s *Service) Availability(ctx context.Context, p *model.Principal,
	userID, pluginName string, includeToken bool) (*Availability, error) {
	if err := model.Authorize(p, userID); err != nil {
		return nil, err
	}

	info, err := s.lookupInfo(ctx, userID, pluginName)
	if err != nil {
		return nil, err
	}

	out := &Availability{
		Info:              *info,
		DownloadURL:       s.urls.Direct(userID, pluginName),
		SecureDownloadURL: s.urls.Secure(userID, pluginName, ""),
	}

	if includeToken && info.Available {
		issued, err := s.IssueToken(ctx, p, userID, pluginName, token.IssueOption{})
		if err != nil {
			return nil, errors.Wrap(err, "issue temporary token")
		}

		out.TemporaryToken = issued.Token
		out.TokenExpiresAt = &issued.ExpiresAt
		out.SecureDownloadURL = issued.DownloadURL
	}

	return out, nil
}

func (s *Service) lookupInfo(ctx context.Context, userID, pluginName string) (*model.Info, error) {
	logger := s.loggerFromContext(ctx)

	info, err := s.store.GetInfo(ctx, userID, pluginName)
	switch {
	case err == nil:
		return info, nil
	case !model.IsCode(err, model.ErrCodeNotFound):
		return nil, err
	}

	if s.hasBackend() {
		info, err = s.backend.Info(ctx, userID, pluginName)
		switch {
		case err == nil:
			return info, nil
		case model.IsCode(err, model.ErrCodeNotFound):
		default:
			logger.Warn("load artifact info from backend",
				zap.String("user_id", userID),
				zap.String("plugin_name", pluginName),
				zap.Error(err))
		}
	}

	return model.PlaceholderInfo(userID, pluginName), nil
}

// Exists reports whether the artifact can be downloaded from either source.
func (s *Service) Exists(ctx context.Context, p *model.Principal, userID, pluginName string) (bool, error) {
	if err := model.Authorize(p, userID); err != nil {
		return false, err
	}

	ok, err := s.store.Exists(ctx, userID, pluginName)
	if err != nil {
		return false, err
	}
	if ok || !s.hasBackend() {
		return ok, nil
	}

	info, err := s.backend.Info(ctx, userID, pluginName)
	if err != nil {
		if !model.IsCode(err, model.ErrCodeNotFound) {
			s.loggerFromContext(ctx).Warn("probe artifact on backend",
				zap.String("user_id", userID),
				zap.String("plugin_name", pluginName),
				zap.Error(err))
		}
		return false, nil
	}

	return info.Available, nil
}

// List describes every artifact of userID, the backend list is used
// only when the local store has none.
func (s *Service) List(ctx context.Context, p *model.Principal, userID string) ([]*model.Info, error) {
	if err := model.Authorize(p, userID); err != nil {
		return nil, err
	}

	infos, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(infos) != 0 || !s.hasBackend() {
		return infos, nil
	}

	remote, err := s.backend.List(ctx, userID)
	if err != nil {
		s.loggerFromContext(ctx).Warn("list artifacts on backend",
			zap.String("user_id", userID), zap.Error(err))
		return infos, nil
	}

	return remote, nil
}
