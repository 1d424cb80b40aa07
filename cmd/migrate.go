package cmd

import (
	"context"

	"github.com/Laisky/errors/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	artifactConfig "github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/config"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/dao"
	"github.com/Laisky/plugin-artifact-gateway/library/log"
)

var migrateCMD = &cobra.Command{
	Use:   "migrate",
	Short: "migrate",
	Long:  `create artifact indexes and the object storage bucket`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		if err := initialize(cmd.Context(), cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := migrate(cmd.Context()); err != nil {
			log.Logger.Panic("migrate", zap.Error(err))
		}

		log.Logger.Info("migrate done")
	},
}

// indexEnsurer and bucketEnsurer are satisfied by
// *dao.MongoRecords and *s3.Bucket.
type indexEnsurer interface {
	EnsureIndexes(ctx context.Context) error
}

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

func migrate(ctx context.Context) error {
	deps, err := openDependencies(ctx, artifactConfig.LoadSettingsFromConfig())
	if err != nil {
		return errors.WithStack(err)
	}
	defer deps.Close(context.Background())

	return runMigrations(ctx, dao.NewMongoRecords(deps.mongo), deps.bucket)
}

func runMigrations(ctx context.Context, records indexEnsurer, bucket bucketEnsurer) error {
	pool, gctx := errgroup.WithContext(ctx)
	pool.Go(func() error {
		return errors.Wrap(records.EnsureIndexes(gctx), "ensure artifact indexes")
	})
	pool.Go(func() error {
		return errors.Wrap(bucket.EnsureBucket(gctx), "ensure bucket")
	})

	return pool.Wait()
}

func init() {
	rootCMD.AddCommand(migrateCMD)
}
