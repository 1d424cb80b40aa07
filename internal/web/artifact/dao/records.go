// Package dao persists artifact records in mongo and binaries in object storage.
package dao

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"go.mongodb.org/mongo-driver/bson"
	mongoLib "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
	"github.com/Laisky/plugin-artifact-gateway/library/db/mongo"
)

const colArtifacts = "plugin_artifacts"

// ErrRecordNotFound is returned when no live record matches.
var ErrRecordNotFound = errors.New("artifact record not found")

// RecordRepo stores artifact metadata records.
type RecordRepo interface {
	// FindLive loads the live record of (userID, pluginName).
	FindLive(ctx context.Context, userID, pluginName string) (*model.Artifact, error)
	// Replace upserts rec as the live record and returns the record it replaced, if any.
	Replace(ctx context.Context, rec *model.Artifact) (previous *model.Artifact, err error)
	// ListLive returns every live record of userID.
	ListLive(ctx context.Context, userID string) ([]*model.Artifact, error)
	// SoftDelete marks the live record deleted and returns it.
	SoftDelete(ctx context.Context, userID, pluginName string, at time.Time) (*model.Artifact, error)
}

// MongoRecords is the mongo implementation of RecordRepo.
type MongoRecords struct {
	db mongo.DB
}

// NewMongoRecords create new records dao
func NewMongoRecords(db mongo.DB) *MongoRecords {
	return &MongoRecords{db: db}
}

func (d *MongoRecords) GetArtifactsCol() *mongoLib.Collection {
	return d.db.GetCol(colArtifacts)
}

func liveFilter(userID, pluginName string) bson.M {
	return bson.M{
		"user_id":     userID,
		"plugin_name": pluginName,
		"is_deleted":  false,
	}
}

// FindLive implements RecordRepo.
func (d *MongoRecords) FindLive(ctx context.Context, userID, pluginName string) (*model.Artifact, error) {
	rec := new(model.Artifact)
	err := d.GetArtifactsCol().
		FindOne(ctx, liveFilter(userID, pluginName)).
		Decode(rec)
	if err != nil {
		if mongo.NotFound(err) {
			return nil, ErrRecordNotFound
		}
		return nil, errors.Wrapf(err, "find artifact %s/%s", userID, pluginName)
	}

	return rec, nil
}

// Replace implements RecordRepo, the whole document is overwritten except created_at.
//
// Two concurrent first uploads may race on the upsert, the loser hits the
// unique index and is retried once as a plain update so the last write wins.
func (d *MongoRecords) Replace(ctx context.Context, rec *model.Artifact) (previous *model.Artifact, err error) {
	previous, err = d.replace(ctx, rec)
	if mongo.IsDuplicateKey(err) {
		previous, err = d.replace(ctx, rec)
	}

	return previous, err
}

func (d *MongoRecords) replace(ctx context.Context, rec *model.Artifact) (*model.Artifact, error) {
	previous := new(model.Artifact)
	err := d.GetArtifactsCol().
		FindOneAndUpdate(ctx,
			liveFilter(rec.UserID, rec.PluginName),
			bson.M{
				"$set": bson.M{
					"object_key":   rec.ObjectKey,
					"file_name":    rec.FileName,
					"file_size":    rec.FileSize,
					"checksum":     rec.Checksum,
					"content_type": rec.ContentType,
					"compiled_at":  rec.CompiledAt,
					"metadata":     rec.Metadata,
					"updated_at":   rec.UpdatedAt,
				},
				"$setOnInsert": bson.M{
					"user_id":     rec.UserID,
					"plugin_name": rec.PluginName,
					"is_deleted":  false,
					"created_at":  rec.CreatedAt,
				},
			},
			options.FindOneAndUpdate().
				SetUpsert(true).
				SetReturnDocument(options.Before),
		).
		Decode(previous)
	if err != nil {
		if mongo.NotFound(err) {
			return nil, nil
		}
		if mongo.IsDuplicateKey(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "replace artifact %s/%s", rec.UserID, rec.PluginName)
	}

	return previous, nil
}

// ListLive implements RecordRepo, newest compile first.
func (d *MongoRecords) ListLive(ctx context.Context, userID string) ([]*model.Artifact, error) {
	cur, err := d.GetArtifactsCol().Find(ctx,
		bson.M{"user_id": userID, "is_deleted": false},
		options.Find().SetSort(bson.D{{Key: "compiled_at", Value: -1}}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list artifacts of %s", userID)
	}

	var recs []*model.Artifact
	if err = cur.All(ctx, &recs); err != nil {
		return nil, errors.Wrapf(err, "decode artifacts of %s", userID)
	}

	return recs, nil
}

// SoftDelete implements RecordRepo.
func (d *MongoRecords) SoftDelete(ctx context.Context, userID, pluginName string, at time.Time) (*model.Artifact, error) {
	rec := new(model.Artifact)
	err := d.GetArtifactsCol().
		FindOneAndUpdate(ctx,
			liveFilter(userID, pluginName),
			bson.M{"$set": bson.M{
				"is_deleted": true,
				"deleted_at": at,
				"updated_at": at,
			}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).
		Decode(rec)
	if err != nil {
		if mongo.NotFound(err) {
			return nil, ErrRecordNotFound
		}
		return nil, errors.Wrapf(err, "delete artifact %s/%s", userID, pluginName)
	}

	return rec, nil
}

// EnsureIndexes creates the unique live-key index and the listing index.
func (d *MongoRecords) EnsureIndexes(ctx context.Context) error {
	_, err := d.GetArtifactsCol().Indexes().CreateMany(ctx, []mongoLib.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "plugin_name", Value: 1}},
			Options: options.Index().
				SetName("uniq_live_artifact").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_deleted": false}),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "compiled_at", Value: -1}},
			Options: options.Index().SetName("user_compiled_at"),
		},
	})
	if err != nil {
		return errors.Wrap(err, "create artifact indexes")
	}

	return nil
}
