package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Laisky/zap"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/dao"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/integrity"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
)

// UploadInput is one compiled artifact handed in by the compile pipeline.
type UploadInput struct {
	UserID     string
	PluginName string
	FileName   string
	Binary     []byte
	// Checksum is the client supplied sha256, optional.
	Checksum string
	Metadata *model.Metadata
}

// Upload stores a compiled artifact, replacing the previous one.
func (s *Service) Upload(ctx context.Context, p *model.Principal, in UploadInput) (*model.Info, error) {
	logger := s.loggerFromContext(ctx)
	if err := model.Authorize(p, in.UserID); err != nil {
		return nil, err
	}
	if int64(len(in.Binary)) > s.opt.MaxUploadBytes {
		return nil, model.NewError(model.ErrCodePayloadTooLarge,
			fmt.Sprintf("artifact exceeds %d bytes", s.opt.MaxUploadBytes))
	}

	checksum := strings.ToLower(strings.TrimSpace(in.Checksum))
	if checksum != "" || s.opt.ComputeChecksum {
		actual := dao.Checksum(in.Binary)
		if checksum != "" && checksum != actual {
			return nil, model.NewError(model.ErrCodeInvalidArgument,
				fmt.Sprintf("checksum mismatch: header says %s, body hashes to %s", checksum, actual)).
				WithHint("the upload was corrupted in transit, retry it")
		}
		checksum = actual
	}

	if report := integrity.Verify(in.Binary, nil, in.FileName); !report.IsValid {
		logger.Warn("uploaded artifact looks corrupted",
			zap.String("user_id", in.UserID),
			zap.String("plugin_name", in.PluginName),
			zap.Strings("indicators", report.CorruptionIndicators))
	}

	rec, err := s.store.PutArtifact(ctx, dao.PutInput{
		UserID:     in.UserID,
		PluginName: in.PluginName,
		Binary:     in.Binary,
		FileName:   in.FileName,
		Checksum:   checksum,
		Metadata:   in.Metadata,
	})
	if err != nil {
		return nil, err
	}

	uploadsTotal.Inc()
	return model.InfoFromArtifact(rec), nil
}

// Delete soft deletes the artifact.
func (s *Service) Delete(ctx context.Context, p *model.Principal, userID, pluginName string) error {
	if err := model.Authorize(p, userID); err != nil {
		return err
	}

	return s.store.Delete(ctx, userID, pluginName)
}

// VerifyIntegrity runs the integrity checks over the stored binary,
// a recorded checksum that no longer matches is one more indicator.
func (s *Service) VerifyIntegrity(ctx context.Context, p *model.Principal,
	userID, pluginName string) (*integrity.Report, error) {
	if err := model.Authorize(p, userID); err != nil {
		return nil, err
	}

	rec, bin, err := s.store.GetBinary(ctx, userID, pluginName)
	if err != nil {
		return nil, err
	}

	report := integrity.Verify(bin.Data, &rec.FileSize, rec.FileName)
	if rec.Checksum != "" && rec.Checksum != report.Checksum {
		report.CorruptionIndicators = append(report.CorruptionIndicators,
			fmt.Sprintf("Checksum mismatch: expected %s, got %s", rec.Checksum, report.Checksum))
		report.IsValid = false
	}

	return report, nil
}
