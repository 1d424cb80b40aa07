package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
)

type memCache struct {
	items map[string]string
	ttl   time.Duration
}

func (m *memCache) SetItem(_ context.Context, key, val string, ttl time.Duration) error {
	if m.items == nil {
		m.items = map[string]string{}
	}
	m.items[key] = val
	m.ttl = ttl
	return nil
}

func (m *memCache) GetItem(_ context.Context, key string) (string, error) {
	val, ok := m.items[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return val, nil
}

func newTestClient(t *testing.T, handler http.Handler, opt Option, cache Cache) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opt.BaseURL = srv.URL + "/"
	cli, err := New(opt, cache)
	require.NoError(t, err)
	return cli
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Option{BaseURL: "ftp://example.com"}, nil)
	require.Error(t, err)
	_, err = New(Option{BaseURL: ""}, nil)
	require.Error(t, err)
}

func TestDownloadRelaysRange(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plugin/download/u1/my plugin" || r.Header.Get("Range") != "bytes=0-3" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-3/10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("PK\x03\x04"))
	})
	cli := newTestClient(t, handler, Option{}, nil)

	resp, err := cli.Download(context.Background(), "u1", "my plugin", "bytes=0-3")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, "bytes 0-3/10", resp.Header.Get("Content-Range"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("PK\x03\x04"), body)
}

func TestDownloadNotFound(t *testing.T) {
	cli := newTestClient(t, http.NotFoundHandler(), Option{}, nil)

	_, err := cli.Download(context.Background(), "u1", "p1", "")
	require.True(t, model.IsCode(err, model.ErrCodeNotFound))
}

func TestDownloadTimeout(t *testing.T) {
	release := make(chan struct{})
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), Option{DownloadTimeout: 50 * time.Millisecond}, nil)
	defer close(release)

	_, err := cli.Download(context.Background(), "u1", "p1", "")
	require.True(t, model.IsCode(err, model.ErrCodeTimeout), "got %v", err)
}

func TestDownloadUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	cli, err := New(Option{BaseURL: addr}, nil)
	require.NoError(t, err)

	_, err = cli.Download(context.Background(), "u1", "p1", "")
	require.True(t, model.IsCode(err, model.ErrCodeBackendUnavailable), "got %v", err)
}

func TestInfoNormalizesAndCaches(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/plugin/info/u1/p1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"file_name":"p1.jar","size":1004,"version":"3.1.0"}}`))
	})
	cache := &memCache{}
	cli := newTestClient(t, mux, Option{CacheTTL: time.Minute}, cache)

	for i := 0; i < 2; i++ {
		info, err := cli.Info(context.Background(), "u1", "p1")
		require.NoError(t, err)
		require.True(t, info.Available)
		require.Equal(t, model.SourceBackend, info.Source)
		require.Equal(t, "p1.jar", info.FileName)
		require.Equal(t, int64(1004), info.FileSize)
		require.Equal(t, "3.1.0", info.Metadata.Version)
		require.Equal(t, model.DefaultAuthor, info.Metadata.Author)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
	require.Equal(t, time.Minute, cache.ttl)
}

func TestInfoErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/plugin/info/u1/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/plugin/info/u1/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/plugin/info/u1/garbage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	})
	cli := newTestClient(t, mux, Option{}, nil)

	_, err := cli.Info(context.Background(), "u1", "missing")
	require.True(t, model.IsCode(err, model.ErrCodeNotFound))
	_, err = cli.Info(context.Background(), "u1", "broken")
	require.True(t, model.IsCode(err, model.ErrCodeBackendUnavailable))
	_, err = cli.Info(context.Background(), "u1", "garbage")
	require.True(t, model.IsCode(err, model.ErrCodeBackendUnavailable))
}

func TestList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/plugin/list/u1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"plugins":[{"name":"a","fileSize":10},{"pluginName":"b","author":"alex"},{"nameless":true},"junk"]}`))
	})
	mux.HandleFunc("/plugin/list/u2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"plugin_name":"c"}]`))
	})
	cli := newTestClient(t, mux, Option{}, nil)

	infos, err := cli.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "a", infos[0].PluginName)
	require.Equal(t, int64(10), infos[0].FileSize)
	require.Equal(t, "alex", infos[1].Metadata.Author)

	infos, err = cli.List(context.Background(), "u2")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "u2", infos[0].UserID)

	infos, err = cli.List(context.Background(), "u3")
	require.NoError(t, err)
	require.Empty(t, infos)
}
