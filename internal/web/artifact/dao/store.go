package dao

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/google/uuid"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
	"github.com/Laisky/plugin-artifact-gateway/library/db/s3"
)

// BlobStore keeps artifact binaries, *s3.Bucket implements it.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// StoreOption configures a Store.
type StoreOption struct {
	// KeyPrefix prefixes every object key.
	KeyPrefix   string
	Timeout     time.Duration
	BlobTimeout time.Duration
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// Store is the artifact store, records live in a RecordRepo and binaries in a BlobStore.
type Store struct {
	records RecordRepo
	blobs   BlobStore
	opt     StoreOption
}

// NewStore creates a new artifact store.
func NewStore(records RecordRepo, blobs BlobStore, opt StoreOption) (*Store, error) {
	if records == nil || blobs == nil {
		return nil, errors.New("records and blobs are required")
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}
	if opt.BlobTimeout <= 0 {
		opt.BlobTimeout = 60 * time.Second
	}
	if opt.Clock == nil {
		opt.Clock = func() time.Time { return time.Now().UTC() }
	}
	opt.KeyPrefix = strings.Trim(opt.KeyPrefix, "/")

	return &Store{records: records, blobs: blobs, opt: opt}, nil
}

// PutInput is one compiled artifact to store.
type PutInput struct {
	UserID     string
	PluginName string
	Binary     []byte
	FileName   string
	// Checksum is stored as given, empty means unknown.
	Checksum string
	Metadata *model.Metadata
}

// PutArtifact stores in as the live artifact of (UserID, PluginName), replacing the old one.
//
// The blob is written under a fresh key before the record is swapped,
// so a cancelled call never leaves a record pointing at a missing object.
func (s *Store) PutArtifact(ctx context.Context, in PutInput) (*model.Artifact, error) {
	logger := gmw.GetLogger(ctx)
	if err := validateKey(in.UserID, in.PluginName); err != nil {
		return nil, err
	}
	if len(in.Binary) == 0 {
		return nil, model.NewError(model.ErrCodeInvalidArgument, "artifact binary is empty")
	}

	fileName := strings.TrimSpace(in.FileName)
	if fileName == "" {
		fileName = in.PluginName + ".jar"
	}

	now := s.opt.Clock()
	rec := &model.Artifact{
		UserID:      in.UserID,
		PluginName:  in.PluginName,
		ObjectKey:   s.objectKey(in.UserID, in.PluginName),
		FileName:    path.Base(fileName),
		FileSize:    int64(len(in.Binary)),
		Checksum:    strings.ToLower(strings.TrimSpace(in.Checksum)),
		ContentType: model.ContentTypeJAR,
		CompiledAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Metadata != nil {
		rec.Metadata = *in.Metadata
	}

	blobCtx, cancel := context.WithTimeout(ctx, s.opt.BlobTimeout)
	defer cancel()
	if err := s.blobs.Put(blobCtx, rec.ObjectKey, in.Binary, rec.ContentType); err != nil {
		return nil, model.ErrStorageUnavailable(errors.Wrap(err, "upload artifact binary"))
	}

	recCtx, recCancel := context.WithTimeout(ctx, s.opt.Timeout)
	defer recCancel()
	previous, err := s.records.Replace(recCtx, rec)
	if err != nil {
		s.removeBlob(ctx, rec.ObjectKey)
		return nil, model.ErrStorageUnavailable(errors.Wrap(err, "save artifact record"))
	}

	if previous != nil && previous.ObjectKey != "" && previous.ObjectKey != rec.ObjectKey {
		s.removeBlob(ctx, previous.ObjectKey)
	}

	logger.Info("artifact stored",
		zap.String("user_id", rec.UserID),
		zap.String("plugin_name", rec.PluginName),
		zap.String("object_key", rec.ObjectKey),
		zap.Int64("file_size", rec.FileSize))
	return rec, nil
}

// Exists reports whether a live artifact with a non-empty binary exists.
func (s *Store) Exists(ctx context.Context, userID, pluginName string) (bool, error) {
	rec, err := s.find(ctx, userID, pluginName)
	if err != nil {
		if model.IsCode(err, model.ErrCodeNotFound) {
			return false, nil
		}
		return false, err
	}

	return rec.HasBinary(), nil
}

// GetRecord loads the live record without its binary.
func (s *Store) GetRecord(ctx context.Context, userID, pluginName string) (*model.Artifact, error) {
	rec, err := s.find(ctx, userID, pluginName)
	if err != nil {
		return nil, err
	}
	if !rec.HasBinary() {
		return nil, model.ErrNotFound(userID, pluginName)
	}

	return rec, nil
}

// GetInfo returns the normalized description of the live artifact, the blob is never read.
func (s *Store) GetInfo(ctx context.Context, userID, pluginName string) (*model.Info, error) {
	rec, err := s.GetRecord(ctx, userID, pluginName)
	if err != nil {
		return nil, err
	}

	return model.InfoFromArtifact(rec), nil
}

// GetBinary loads the live artifact together with its bytes.
func (s *Store) GetBinary(ctx context.Context, userID, pluginName string) (*model.Artifact, *model.Binary, error) {
	rec, err := s.GetRecord(ctx, userID, pluginName)
	if err != nil {
		return nil, nil, err
	}

	blobCtx, cancel := context.WithTimeout(ctx, s.opt.BlobTimeout)
	defer cancel()
	data, err := s.blobs.Get(blobCtx, rec.ObjectKey)
	if err != nil {
		if errors.Is(err, s3.ErrObjectNotFound) {
			gmw.GetLogger(ctx).Warn("artifact record points at missing object",
				zap.String("object_key", rec.ObjectKey))
			return nil, nil, model.ErrNotFound(userID, pluginName)
		}
		return nil, nil, model.ErrStorageUnavailable(errors.Wrap(err, "load artifact binary"))
	}

	return rec, &model.Binary{
		Data:        data,
		FileName:    rec.FileName,
		Size:        int64(len(data)),
		ContentType: rec.ContentType,
		Checksum:    rec.Checksum,
	}, nil
}

// ListForUser returns the normalized descriptions of every live artifact of userID.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*model.Info, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.NewError(model.ErrCodeInvalidArgument, "userId is required")
	}

	ctx2, cancel := context.WithTimeout(ctx, s.opt.Timeout)
	defer cancel()
	recs, err := s.records.ListLive(ctx2, userID)
	if err != nil {
		return nil, model.ErrStorageUnavailable(err)
	}

	infos := make([]*model.Info, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, model.InfoFromArtifact(rec))
	}

	return infos, nil
}

// Delete soft deletes the live artifact and drops its binary.
func (s *Store) Delete(ctx context.Context, userID, pluginName string) error {
	if err := validateKey(userID, pluginName); err != nil {
		return err
	}

	ctx2, cancel := context.WithTimeout(ctx, s.opt.Timeout)
	defer cancel()
	rec, err := s.records.SoftDelete(ctx2, userID, pluginName, s.opt.Clock())
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return model.ErrNotFound(userID, pluginName)
		}
		return model.ErrStorageUnavailable(err)
	}

	if rec.ObjectKey != "" {
		s.removeBlob(ctx, rec.ObjectKey)
	}

	return nil
}

func (s *Store) find(ctx context.Context, userID, pluginName string) (*model.Artifact, error) {
	if err := validateKey(userID, pluginName); err != nil {
		return nil, err
	}

	ctx2, cancel := context.WithTimeout(ctx, s.opt.Timeout)
	defer cancel()
	rec, err := s.records.FindLive(ctx2, userID, pluginName)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, model.ErrNotFound(userID, pluginName)
		}
		return nil, model.ErrStorageUnavailable(err)
	}

	return rec, nil
}

// removeBlob is best effort, a leftover object only costs space.
func (s *Store) removeBlob(ctx context.Context, key string) {
	ctx2, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opt.BlobTimeout)
	defer cancel()
	if err := s.blobs.Remove(ctx2, key); err != nil {
		gmw.GetLogger(ctx).Warn("remove artifact object",
			zap.String("object_key", key), zap.Error(err))
	}
}

func (s *Store) objectKey(userID, pluginName string) string {
	key := fmt.Sprintf("%s/%s/%s.jar", userID, pluginName, uuid.NewString())
	if s.opt.KeyPrefix == "" {
		return key
	}

	return s.opt.KeyPrefix + "/" + key
}

func validateKey(userID, pluginName string) error {
	for name, v := range map[string]string{"userId": userID, "pluginName": pluginName} {
		v = strings.TrimSpace(v)
		if v == "" {
			return model.NewError(model.ErrCodeInvalidArgument, name+" is required")
		}
		if strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
			return model.NewError(model.ErrCodeInvalidArgument, name+" contains illegal characters")
		}
	}

	return nil
}

// Checksum returns the lowercase hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
