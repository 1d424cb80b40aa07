// Package service implements the artifact distribution gateway.
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/dao"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/token"
	"github.com/Laisky/plugin-artifact-gateway/library/log"
)

// Clock returns the current time in UTC.
type Clock func() time.Time

// ArtifactStore is the local artifact store, *dao.Store implements it.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, in dao.PutInput) (*model.Artifact, error)
	Exists(ctx context.Context, userID, pluginName string) (bool, error)
	GetInfo(ctx context.Context, userID, pluginName string) (*model.Info, error)
	GetBinary(ctx context.Context, userID, pluginName string) (*model.Artifact, *model.Binary, error)
	ListForUser(ctx context.Context, userID string) ([]*model.Info, error)
	Delete(ctx context.Context, userID, pluginName string) error
}

// Backend is the external build backend, *backend.Client implements it.
type Backend interface {
	Download(ctx context.Context, userID, pluginName, rangeHeader string) (*http.Response, error)
	Info(ctx context.Context, userID, pluginName string) (*model.Info, error)
	List(ctx context.Context, userID string) ([]*model.Info, error)
}

// Option tunes the gateway.
type Option struct {
	MaxUploadBytes  int64
	ComputeChecksum bool
}

// Service is the artifact distribution gateway.
type Service struct {
	store   ArtifactStore
	backend Backend
	codec   *token.Codec
	ledger  token.Ledger
	urls    URLBuilder
	opt     Option
	logger  logSDK.Logger
	clock   Clock
}

// New creates the gateway. backend and ledger are optional,
// without a ledger maxDownloads is advisory only.
func New(store ArtifactStore, backend Backend, codec *token.Codec, ledger token.Ledger,
	urls URLBuilder, opt Option, clock Clock) (*Service, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	if opt.MaxUploadBytes <= 0 {
		opt.MaxUploadBytes = 64 << 20
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		store:   store,
		backend: backend,
		codec:   codec,
		ledger:  ledger,
		urls:    urls,
		opt:     opt,
		logger:  log.Logger.Named("artifact_gateway"),
		clock:   clock,
	}, nil
}

// MaxUploadBytes is the largest accepted upload.
func (s *Service) MaxUploadBytes() int64 {
	return s.opt.MaxUploadBytes
}

// loggerFromContext returns the request scoped logger when available.
func (s *Service) loggerFromContext(ctx context.Context) logSDK.Logger {
	if ctx != nil {
		if ctxLogger := gmw.GetLogger(ctx); ctxLogger != nil {
			return ctxLogger
		}
	}

	return s.logger
}

// hasBackend is false when no build backend is configured.
func (s *Service) hasBackend() bool {
	return s.backend != nil
}
