// Package controller exposes the artifact gateway over HTTP.
package controller

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/service"
	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/token"
)

// Controller holds the artifact HTTP handlers.
type Controller struct {
	svc *service.Service
}

// New creates a controller over svc.
func New(svc *service.Service) *Controller {
	return &Controller{svc: svc}
}

// Register mounts every artifact route on r.
func (ctl *Controller) Register(r gin.IRouter) {
	g := r.Group("/artifact")
	g.GET("/:userId", ctl.List)
	g.GET("/:userId/:pluginName", ctl.DirectDownload)
	g.PUT("/:userId/:pluginName", ctl.Upload)
	g.DELETE("/:userId/:pluginName", ctl.Delete)
	g.GET("/:userId/:pluginName/info", ctl.Info)
	g.GET("/:userId/:pluginName/exists", ctl.Exists)
	g.GET("/:userId/:pluginName/verify", ctl.Verify)
	g.POST("/:userId/:pluginName/token", ctl.IssueToken)
	g.GET("/:userId/:pluginName/secure", ctl.SecureDownload)
}

func keyParams(c *gin.Context) (userID, pluginName string) {
	return c.Param("userId"), c.Param("pluginName")
}

// Info answers the availability query.
func (ctl *Controller) Info(c *gin.Context) {
	userID, pluginName := keyParams(c)
	includeToken, _ := strconv.ParseBool(c.Query("includeToken"))

	out, err := ctl.svc.Availability(c, PrincipalFromContext(c), userID, pluginName, includeToken)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

// Exists answers the existence probe.
func (ctl *Controller) Exists(c *gin.Context) {
	userID, pluginName := keyParams(c)

	ok, err := ctl.svc.Exists(c, PrincipalFromContext(c), userID, pluginName)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"exists": ok})
}

// List returns every artifact of the user.
func (ctl *Controller) List(c *gin.Context) {
	infos, err := ctl.svc.List(c, PrincipalFromContext(c), c.Param("userId"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"artifacts": infos})
}

// DirectDownload streams the artifact to its owner.
func (ctl *Controller) DirectDownload(c *gin.Context) {
	userID, pluginName := keyParams(c)

	dl, err := ctl.svc.OpenDirect(c, PrincipalFromContext(c), userID, pluginName, c.GetHeader("Range"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer dl.Close() // nolint: errcheck

	writeDownload(c, dl, pluginName)
}

type issueTokenRequest struct {
	// ExpiresIn is in seconds
	ExpiresIn      int64    `json:"expiresIn"`
	MaxDownloads   int      `json:"maxDownloads"`
	IPRestrictions []string `json:"ipRestrictions"`
}

// IssueToken mints a download token.
func (ctl *Controller) IssueToken(c *gin.Context) {
	userID, pluginName := keyParams(c)

	req := new(issueTokenRequest)
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
			abortWithError(c, model.NewError(model.ErrCodeInvalidArgument, "invalid token request body"))
			return
		}
	}
	if req.ExpiresIn < 0 || req.MaxDownloads < 0 {
		abortWithError(c, model.NewError(model.ErrCodeInvalidArgument,
			"expiresIn and maxDownloads must not be negative"))
		return
	}

	issued, err := ctl.svc.IssueToken(c, PrincipalFromContext(c), userID, pluginName, token.IssueOption{
		ExpiresIn:      time.Duration(req.ExpiresIn) * time.Second,
		MaxDownloads:   req.MaxDownloads,
		IPRestrictions: req.IPRestrictions,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, issued)
}

// SecureDownload streams the artifact to whoever holds a valid token.
func (ctl *Controller) SecureDownload(c *gin.Context) {
	userID, pluginName := keyParams(c)

	dl, err := ctl.svc.OpenSecure(c, c.Query("token"), userID, pluginName,
		c.ClientIP(), c.GetHeader("Range"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer dl.Close() // nolint: errcheck

	writeDownload(c, dl, pluginName)
}

// Verify runs the integrity check over the stored binary.
func (ctl *Controller) Verify(c *gin.Context) {
	userID, pluginName := keyParams(c)

	report, err := ctl.svc.VerifyIntegrity(c, PrincipalFromContext(c), userID, pluginName)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !report.IsValid {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   string(model.ErrCodeIntegrityFailed),
			"message": "stored artifact failed the integrity check",
			"hint":    "recompile your plugin",
			"report":  report,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

// Upload stores a compiled artifact, the body is either the raw jar
// or a multipart form with a "file" part.
func (ctl *Controller) Upload(c *gin.Context) {
	userID, pluginName := keyParams(c)
	logger := gmw.GetLogger(c)
	// owner check first so strangers cannot make us read large bodies
	if err := model.Authorize(PrincipalFromContext(c), userID); err != nil {
		abortWithError(c, err)
		return
	}

	limit := ctl.svc.MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	var (
		in  = service.UploadInput{UserID: userID, PluginName: pluginName}
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "multipart/form-data" {
		err = readMultipartUpload(c, &in)
	} else {
		in.Binary, err = io.ReadAll(c.Request.Body)
		in.FileName = firstNonEmpty(c.GetHeader("X-File-Name"), c.Query("fileName"))
		in.Metadata = metadataFrom(c.Query)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, model.NewError(model.ErrCodePayloadTooLarge,
				fmt.Sprintf("artifact exceeds %d bytes", limit)))
			return
		}
		logger.Debug("read upload body", zap.Error(err))
		abortWithError(c, model.NewError(model.ErrCodeInvalidArgument, "cannot read upload body"))
		return
	}
	in.Checksum = c.GetHeader("X-Checksum-Sha256")

	info, err := ctl.svc.Upload(c, PrincipalFromContext(c), in)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, info)
}

func readMultipartUpload(c *gin.Context, in *service.UploadInput) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return errors.Wrap(err, "read form file")
	}

	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "open form file")
	}
	defer f.Close() // nolint: errcheck

	if in.Binary, err = io.ReadAll(f); err != nil {
		return errors.Wrap(err, "read form file")
	}

	in.FileName = firstNonEmpty(c.PostForm("fileName"), fh.Filename)
	in.Metadata = metadataFrom(c.PostForm)
	return nil
}

// metadataFrom reads optional metadata fields, nil when none is given.
func metadataFrom(get func(string) string) *model.Metadata {
	meta := &model.Metadata{
		Version:          strings.TrimSpace(get("version")),
		Author:           strings.TrimSpace(get("author")),
		Description:      strings.TrimSpace(get("description")),
		MinecraftVersion: strings.TrimSpace(get("minecraftVersion")),
	}
	for _, dep := range strings.Split(get("dependencies"), ",") {
		if dep = strings.TrimSpace(dep); dep != "" {
			meta.Dependencies = append(meta.Dependencies, dep)
		}
	}

	if meta.Version == "" && meta.Author == "" && meta.Description == "" &&
		meta.MinecraftVersion == "" && len(meta.Dependencies) == 0 {
		return nil
	}

	return meta
}

// Delete soft deletes the artifact.
func (ctl *Controller) Delete(c *gin.Context) {
	userID, pluginName := keyParams(c)

	if err := ctl.svc.Delete(c, PrincipalFromContext(c), userID, pluginName); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// hopHeaders are connection scoped and never relayed.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func writeDownload(c *gin.Context, dl *service.Download, pluginName string) {
	if dl.Proxy != nil {
		relay(c, dl.Proxy)
		return
	}

	bin := dl.Local
	fileName := bin.FileName
	if fileName == "" {
		fileName = pluginName + ".jar"
	}
	contentType := bin.ContentType
	if contentType == "" {
		contentType = model.ContentTypeJAR
	}

	h := c.Writer.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", "attachment; filename="+strconv.Quote(fileName))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("ETag", strconv.Quote(fileName))
	if bin.Checksum != "" {
		h.Set("X-Checksum-Sha256", bin.Checksum)
	}

	// serves Range requests and sets Content-Length
	http.ServeContent(c.Writer, c.Request, fileName, time.Time{}, bytes.NewReader(bin.Data))
}

// relay copies the backend response verbatim.
func relay(c *gin.Context, resp *http.Response) {
	for k, vals := range resp.Header {
		if _, skip := hopHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		for _, v := range vals {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)

	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		gmw.GetLogger(c).Warn("relay backend download", zap.Error(err))
	}
}
