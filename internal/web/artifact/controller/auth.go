package controller

import (
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
	"github.com/Laisky/plugin-artifact-gateway/library/jwt"
)

const (
	ctxKeyPrincipal = "artifact_principal"
	// authCookieName is read when no Authorization header is present.
	authCookieName = "token"
)

// Authenticate attaches the dashboard session principal, when the request carries one.
// Requests without a valid session continue anonymously, owner-only
// handlers reject them later.
func Authenticate(j *jwt.JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			if cookie, err := c.Cookie(authCookieName); err == nil {
				raw = cookie
			}
		}
		if raw == "" || j == nil {
			c.Next()
			return
		}

		claims, err := j.Parse(raw)
		if err != nil {
			gmw.GetLogger(c).Debug("ignore invalid session token", zap.Error(err))
			c.Next()
			return
		}

		c.Set(ctxKeyPrincipal, &model.Principal{
			UserID:  claims.UserID,
			IsAdmin: claims.IsAdmin,
		})
		c.Next()
	}
}

// PrincipalFromContext returns the session principal, nil for anonymous requests.
func PrincipalFromContext(c *gin.Context) *model.Principal {
	v, ok := c.Get(ctxKeyPrincipal)
	if !ok {
		return nil
	}

	p, _ := v.(*model.Principal)
	return p
}
