// Package backend talks to the external build backend that compiles plugins.
package backend

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
	"github.com/Laisky/plugin-artifact-gateway/library/db/redis"
)

// Cache stores backend lookups, the redis wrapper implements it.
type Cache interface {
	SetItem(ctx context.Context, key, val string, ttl time.Duration) error
	GetItem(ctx context.Context, key string) (string, error)
}

// Option configures a Client.
type Option struct {
	BaseURL         string
	Timeout         time.Duration
	DownloadTimeout time.Duration
	// CacheTTL <= 0 disables the info cache.
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

// Client is the build backend client.
type Client struct {
	base  *url.URL
	opt   Option
	cli   *http.Client
	cache Cache
}

// New creates a backend client, cache may be nil.
func New(opt Option, cache Cache) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opt.BaseURL), "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse backend url %q", opt.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("backend url must be http(s), got %q", opt.BaseURL)
	}

	if opt.Timeout <= 0 {
		opt.Timeout = 60 * time.Second
	}
	if opt.DownloadTimeout <= 0 {
		opt.DownloadTimeout = 120 * time.Second
	}
	cli := opt.HTTPClient
	if cli == nil {
		// deadlines come from the request context
		cli = &http.Client{}
	}

	return &Client{base: base, opt: opt, cli: cli, cache: cache}, nil
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.Join(parts, "/")
	return u.String()
}

// Download starts fetching the compiled binary. rangeHeader is forwarded when not empty.
//
// The caller must close the response body, which also releases the download deadline.
// A 404 from the backend becomes a NOT_FOUND error, every other status is returned as is.
func (c *Client) Download(ctx context.Context, userID, pluginName, rangeHeader string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opt.DownloadTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("plugin", "download", userID, pluginName), nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "new download request")
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		cancel()
		return nil, classify(ctx, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		cancel()
		return nil, model.ErrNotFound(userID, pluginName)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// Info loads the backend description of one artifact, served from cache when possible.
func (c *Client) Info(ctx context.Context, userID, pluginName string) (*model.Info, error) {
	logger := gmw.GetLogger(ctx)
	cacheKey := redis.KeyPrefixBackendInfo + userID + "/" + pluginName
	if info := c.loadCache(ctx, cacheKey); info != nil {
		return info, nil
	}

	var doc map[string]any
	if err := c.getJSON(ctx, c.endpoint("plugin", "info", userID, pluginName), &doc); err != nil {
		if model.IsCode(err, model.ErrCodeNotFound) {
			return nil, model.ErrNotFound(userID, pluginName)
		}
		return nil, err
	}

	info := model.InfoFromBackend(userID, pluginName, unwrapData(doc))
	if c.cache != nil && c.opt.CacheTTL > 0 {
		if payload, err := json.Marshal(info); err == nil {
			if err = c.cache.SetItem(ctx, cacheKey, string(payload), c.opt.CacheTTL); err != nil {
				logger.Warn("cache backend info", zap.String("key", cacheKey), zap.Error(err))
			}
		}
	}

	return info, nil
}

// List loads the backend descriptions of every artifact of userID.
func (c *Client) List(ctx context.Context, userID string) ([]*model.Info, error) {
	var raw any
	if err := c.getJSON(ctx, c.endpoint("plugin", "list", userID), &raw); err != nil {
		if model.IsCode(err, model.ErrCodeNotFound) {
			return []*model.Info{}, nil
		}
		return nil, err
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, k := range []string{"plugins", "data", "items"} {
			if list, ok := v[k].([]any); ok {
				items = list
				break
			}
		}
	}

	infos := make([]*model.Info, 0, len(items))
	for _, item := range items {
		doc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := firstString(doc, "pluginName", "plugin_name", "name")
		if name == "" {
			continue
		}
		infos = append(infos, model.InfoFromBackend(userID, name, doc))
	}

	return infos, nil
}

func (c *Client) loadCache(ctx context.Context, key string) *model.Info {
	if c.cache == nil || c.opt.CacheTTL <= 0 {
		return nil
	}

	// any failure, including a missing key, is a miss
	val, err := c.cache.GetItem(ctx, key)
	if err != nil || val == "" {
		return nil
	}

	info := new(model.Info)
	if err = json.Unmarshal([]byte(val), info); err != nil {
		return nil
	}

	return info
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opt.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cli.Do(req)
	if err != nil {
		return classify(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.NewError(model.ErrCodeNotFound, "not found on build backend")
	case resp.StatusCode != http.StatusOK:
		return model.ErrBackendUnavailable(errors.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return classify(ctx, err)
		}
		return model.ErrBackendUnavailable(errors.Wrap(err, "decode backend response"))
	}

	return nil
}

// classify maps a transport failure to TIMEOUT or BACKEND_UNAVAILABLE.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.ErrTimeout(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrTimeout(err)
	}

	return model.ErrBackendUnavailable(err)
}

// unwrapData returns the inner object of {success, data: {...}} envelopes.
func unwrapData(doc map[string]any) map[string]any {
	if inner, ok := doc["data"].(map[string]any); ok {
		return inner
	}
	return doc
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := doc[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
