package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Laisky/plugin-artifact-gateway/internal/web"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/backend"
	artifactConfig "github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/config"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/controller"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/dao"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/service"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/token"
	"github.com/Laisky/plugin-artifact-gateway/library/db/mongo"
	rlibs "github.com/Laisky/plugin-artifact-gateway/library/db/redis"
	"github.com/Laisky/plugin-artifact-gateway/library/db/s3"
	"github.com/Laisky/plugin-artifact-gateway/library/jwt"
	"github.com/Laisky/plugin-artifact-gateway/library/log"
)

var apiCMD = &cobra.Command{
	Use:   "api",
	Short: "api",
	Long:  `artifact distribution API`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		if err := initialize(cmd.Context(), cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := runAPI(ctx); err != nil {
			log.Logger.Panic("run api", zap.Error(err))
		}
	},
}

// dependencies are the storage handles opened for the api.
type dependencies struct {
	mongo  mongo.DB
	bucket *s3.Bucket
	redis  *rlibs.DB
}

func (d *dependencies) Close(ctx context.Context) {
	if d.mongo != nil {
		if err := d.mongo.Close(ctx); err != nil {
			log.Logger.Warn("close mongo", zap.Error(err))
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			log.Logger.Warn("close redis", zap.Error(err))
		}
	}
}

func openDependencies(ctx context.Context, settings artifactConfig.Settings) (*dependencies, error) {
	deps := new(dependencies)

	var err error
	if deps.mongo, err = mongo.NewDB(ctx, mongo.DialInfo{
		Addr:   gconfig.Shared.GetString("settings.db.artifact.addr"),
		DBName: gconfig.Shared.GetString("settings.db.artifact.db"),
		User:   gconfig.Shared.GetString("settings.db.artifact.user"),
		Pwd:    gconfig.Shared.GetString("settings.db.artifact.pwd"),
		AuthDB: gconfig.Shared.GetString("settings.db.artifact.auth_db"),
	}); err != nil {
		return nil, errors.Wrap(err, "connect artifact mongo")
	}

	if deps.bucket, err = s3.NewBucket(s3.DialInfo{
		Endpoint:  gconfig.Shared.GetString("settings.s3.endpoint"),
		AccessKey: gconfig.Shared.GetString("settings.s3.access_key"),
		SecretKey: gconfig.Shared.GetString("settings.s3.secret_key"),
		Bucket:    gconfig.Shared.GetString("settings.s3.bucket"),
		UseSSL:    gconfig.Shared.GetBool("settings.s3.use_ssl"),
	}); err != nil {
		deps.Close(ctx)
		return nil, errors.Wrap(err, "new s3 bucket")
	}

	// redis backs the redemption ledger and the backend info cache
	needRedis := settings.Token.EnforceMaxDownloads ||
		(settings.Backend.BaseURL != "" && settings.Backend.CacheTTL > 0)
	if addr := gconfig.Shared.GetString("settings.db.redis.addr"); addr != "" && needRedis {
		deps.redis = rlibs.NewDB(&redis.Options{
			Addr:     addr,
			Password: gconfig.Shared.GetString("settings.db.redis.pwd"),
			DB:       gconfig.Shared.GetInt("settings.db.redis.db"),
		})
		if err = deps.redis.Ping(ctx); err != nil {
			deps.Close(ctx)
			return nil, errors.Wrap(err, "ping redis")
		}
	}

	return deps, nil
}

// buildService wires the artifact store, backend, codec and ledger.
func buildService(deps *dependencies, settings artifactConfig.Settings) (*service.Service, error) {
	store, err := dao.NewStore(dao.NewMongoRecords(deps.mongo), deps.bucket, dao.StoreOption{
		KeyPrefix:   settings.Store.KeyPrefix,
		Timeout:     settings.Store.Timeout,
		BlobTimeout: settings.Store.BlobTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new artifact store")
	}

	var build service.Backend
	if settings.Backend.BaseURL != "" {
		var cache backend.Cache
		if deps.redis != nil {
			cache = deps.redis
		}
		cli, err := backend.New(backend.Option{
			BaseURL:         settings.Backend.BaseURL,
			Timeout:         settings.Backend.Timeout,
			DownloadTimeout: settings.Backend.DownloadTimeout,
			CacheTTL:        settings.Backend.CacheTTL,
		}, cache)
		if err != nil {
			return nil, errors.Wrap(err, "new build backend client")
		}
		build = cli
	}

	var ledger token.Ledger
	if settings.Token.EnforceMaxDownloads {
		if deps.redis == nil {
			return nil, errors.New("enforce_max_downloads requires settings.db.redis.addr")
		}
		ledger = token.NewRedisLedger(deps.redis)
	}

	return service.New(
		store,
		build,
		token.NewCodec(settings.Token.DefaultTTL, settings.Token.MaxTTL),
		ledger,
		service.NewURLBuilder(settings.PublicBaseURL),
		service.Option{
			MaxUploadBytes:  settings.MaxUploadBytes,
			ComputeChecksum: settings.ComputeChecksum,
		},
		nil,
	)
}

func runAPI(ctx context.Context) error {
	settings := artifactConfig.LoadSettingsFromConfig()

	deps, err := openDependencies(ctx, settings)
	if err != nil {
		return errors.WithStack(err)
	}
	defer deps.Close(context.Background())

	svc, err := buildService(deps, settings)
	if err != nil {
		return errors.WithStack(err)
	}

	j, err := jwt.New([]byte(settings.Secret))
	if err != nil {
		return errors.Wrap(err, "new jwt")
	}

	engine, err := web.NewServer(controller.New(svc), j, web.ServerOption{
		AllowedOrigins: settings.AllowedOrigins,
		TrustedProxies: settings.TrustedProxies,
		Debug:          gconfig.Shared.GetBool("debug"),
	})
	if err != nil {
		return errors.Wrap(err, "new server")
	}

	listen := settings.Listen
	if flag := gconfig.Shared.GetString("listen"); flag != "" {
		listen = flag
	}

	return web.RunServer(ctx, listen, engine)
}

func init() {
	apiCMD.Flags().String("listen", "", "override settings.web.listen, like `localhost:8080`")
	rootCMD.AddCommand(apiCMD)
}
