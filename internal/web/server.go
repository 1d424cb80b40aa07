// Package web gin server
package web

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/controller"
	"github.com/Laisky/plugin-artifact-gateway/library/jwt"
	"github.com/Laisky/plugin-artifact-gateway/library/log"
)

// ServerOption configures NewServer.
type ServerOption struct {
	// AllowedOrigins are exact origins ("https://dash.example.com")
	// or wildcard hosts ("*.example.com").
	AllowedOrigins []string
	// TrustedProxies are the proxy IPs or CIDRs whose X-Forwarded-For is believed.
	// Empty trusts none, the client IP is then the socket peer.
	TrustedProxies []string
	Debug          bool
}

// NewServer builds the gin engine serving the artifact routes.
func NewServer(ctl *controller.Controller, j *jwt.JWT, opt ServerOption) (*gin.Engine, error) {
	if !opt.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	server := gin.New()
	// handlers hand *gin.Context to the service layer as a context.Context,
	// it must carry the request deadline and cancellation.
	server.ContextWithFallback = true
	// token ip restrictions rely on ClientIP, it must not follow spoofed headers
	if err := server.SetTrustedProxies(opt.TrustedProxies); err != nil {
		return nil, errors.Wrap(err, "set trusted proxies")
	}
	server.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(log.Logger.Level().String()),
			gmw.WithLogger(log.Logger.Named("gin")),
		),
		allowCORS(opt.AllowedOrigins),
		controller.Authenticate(j),
	)

	if err := gmw.EnableMetric(server); err != nil {
		return nil, errors.Wrap(err, "enable metric server")
	}

	server.GET("/health", newStatusHandler())
	server.HEAD("/health", newStatusHandler())
	ctl.Register(server)

	return server, nil
}

// RunServer serves engine on addr until ctx is done.
func RunServer(ctx context.Context, addr string, engine http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Logger.Error("shutdown http server", zap.Error(err))
		}
	}()

	log.Logger.Info("listening on http", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server exit")
	}

	return nil
}

func newStatusHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Allow", "GET, HEAD")
		if ctx.Request.Method == http.MethodHead {
			ctx.Status(http.StatusOK)
			return
		}

		ctx.String(http.StatusOK, "ok")
	}
}

// originMatcher reports whether a browser origin may call the API.
type originMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

func newOriginMatcher(allowed []string) originMatcher {
	m := originMatcher{exact: map[string]struct{}{}}
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		switch {
		case o == "":
		case strings.HasPrefix(o, "*."):
			m.suffixes = append(m.suffixes, o[1:])
		default:
			m.exact[o] = struct{}{}
		}
	}

	return m
}

func (m originMatcher) allow(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false
	}
	if _, ok := m.exact[strings.ToLower(origin)]; ok {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if net.ParseIP(host) != nil {
		return false
	}
	for _, suffix := range m.suffixes {
		// "*.example.com" also covers "example.com"
		if strings.HasSuffix(host, suffix) || host == suffix[1:] {
			return true
		}
	}

	return false
}

func allowCORS(allowed []string) gin.HandlerFunc {
	matcher := newOriginMatcher(allowed)
	return func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")

		if matcher.allow(origin) {
			ctx.Header("Access-Control-Allow-Origin", origin)
			ctx.Header("Access-Control-Allow-Credentials", "true")
			ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, Range, X-File-Name, X-Checksum-Sha256")
			ctx.Header("Access-Control-Expose-Headers", "Content-Disposition, Content-Length, Content-Range, ETag, X-Checksum-Sha256")
			ctx.Header("Access-Control-Max-Age", "86400") // 24 hours
			ctx.Header("Vary", "Origin")

			if ctx.Request.Method == http.MethodOptions {
				ctx.AbortWithStatus(http.StatusNoContent)
				return
			}
		} else if origin != "" && ctx.Request.Method == http.MethodOptions {
			// deny preflight from unknown origins
			ctx.AbortWithStatus(http.StatusForbidden)
			return
		}

		ctx.Next()
	}
}
