package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/offline-catalog-worker/internal/cache"
	"github.com/JakeFAU/offline-catalog-worker/internal/clock/system"
	"github.com/JakeFAU/offline-catalog-worker/internal/fetcher/network"
	"github.com/JakeFAU/offline-catalog-worker/internal/lifecycle"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
	"github.com/JakeFAU/offline-catalog-worker/internal/router"
	"github.com/JakeFAU/offline-catalog-worker/internal/storage/memory"
	"github.com/JakeFAU/offline-catalog-worker/internal/strategy"
)

type originLog struct {
	mu     sync.Mutex
	ranges map[string]string
	bodies map[string]string
}

func (o *originLog) record(r *http.Request, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ranges[r.URL.Path] = r.Header.Get("Range")
	o.bodies[r.URL.Path] = body
}

func (o *originLog) rangeFor(path string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ranges[path]
}

func (o *originLog) bodyFor(path string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bodies[path]
}

type proxyRig struct {
	origin *httptest.Server
	log    *originLog
	tiers  *cache.Manager
	group  *lifecycle.Group
	api    *Server
}

func newProxyRig(t *testing.T) *proxyRig {
	t.Helper()
	log := &originLog{ranges: map[string]string{}, bodies: map[string]string{}}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.record(r, string(body))
		switch r.URL.Path {
		case "/movie.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("Content-Range", "bytes 0-3/100")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("moov"))
		case "/offline.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<h1>offline</h1>"))
		case "/asset/192.png", "/img/poster.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png:" + r.URL.Path))
		case "/api/like":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("liked"))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("page:" + r.URL.Path))
		}
	}))
	t.Cleanup(origin.Close)

	scope := origin.URL + "/"
	tiers := cache.NewManager(memory.NewTierStore(), cache.TierConfig{Prefix: "tfstream", Version: "v1"}, nil)
	fetcher := network.NewWithClient(network.Config{Scope: scope}, origin.Client())
	group := lifecycle.New(nil)
	engine := strategy.New(tiers, fetcher, group, system.New(), nil)
	rt := router.New(router.DefaultRoutes(origin.URL+"/offline.html", origin.URL+"/asset/192.png"), engine, fetcher, nil)
	api := NewServer(Deps{Router: rt}, Config{Origin: scope, MaxBodyBytes: 1 << 20}, nil)
	return &proxyRig{origin: origin, log: log, tiers: tiers, group: group, api: api}
}

func (p *proxyRig) get(t *testing.T, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	p.api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestInterceptForwardsRangeForVideoUntouched(t *testing.T) {
	t.Parallel()
	rig := newProxyRig(t)

	rec := rig.get(t, "/movie.mp4", http.Header{"Range": {"bytes=0-3"}})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "moov", rec.Body.String())
	require.Equal(t, "bytes 0-3/100", rec.Header().Get("Content-Range"))
	require.Equal(t, string(offline.CategoryVideo), rec.Header().Get(HeaderCategory))
	require.Equal(t, string(strategy.SourceNetwork), rec.Header().Get(HeaderSource))
	require.Equal(t, "bytes=0-3", rig.log.rangeFor("/movie.mp4"))

	rig.group.Wait()
	_, err := rig.tiers.Match(context.Background(), rig.origin.URL+"/movie.mp4")
	require.ErrorIs(t, err, offline.ErrNotFound)
}

func TestInterceptServesImagesFromCacheOnceStored(t *testing.T) {
	t.Parallel()
	rig := newProxyRig(t)

	first := rig.get(t, "/img/poster.png", nil)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, string(strategy.SourceNetwork), first.Header().Get(HeaderSource))
	rig.group.Wait()

	rig.origin.Close()
	second := rig.get(t, "/img/poster.png", nil)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "png:/img/poster.png", second.Body.String())
	require.Equal(t, string(strategy.SourceCache), second.Header().Get(HeaderSource))
	require.Equal(t, string(offline.CategoryImage), second.Header().Get(HeaderCategory))
}

func TestInterceptFallsBackToOfflineDocument(t *testing.T) {
	t.Parallel()
	rig := newProxyRig(t)
	html := http.Header{"Accept": {"text/html"}}

	require.Equal(t, http.StatusOK, rig.get(t, "/offline.html", html).Code)
	rig.group.Wait()

	rig.origin.Close()
	rec := rig.get(t, "/watch/42", html)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "<h1>offline</h1>", rec.Body.String())
	require.Equal(t, string(strategy.SourceFallback), rec.Header().Get(HeaderSource))
	require.Equal(t, string(offline.CategoryNavigation), rec.Header().Get(HeaderCategory))
}

func TestInterceptSynthesizesUnavailableForOfflineVideo(t *testing.T) {
	t.Parallel()
	rig := newProxyRig(t)
	rig.origin.Close()

	rec := rig.get(t, "/movie.mp4", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, string(strategy.SourceSynthetic), rec.Header().Get(HeaderSource))
}

func TestInterceptPassesWritesThrough(t *testing.T) {
	t.Parallel()
	rig := newProxyRig(t)

	req := httptest.NewRequest(http.MethodPost, "/api/like", strings.NewReader(`{"slug":"x"}`))
	rec := httptest.NewRecorder()
	rig.api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "liked", rec.Body.String())
	require.Equal(t, string(offline.CategoryBypass), rec.Header().Get(HeaderCategory))
	require.Equal(t, `{"slug":"x"}`, rig.log.bodyFor("/api/like"))

	rig.group.Wait()
	_, err := rig.tiers.Match(context.Background(), rig.origin.URL+"/api/like")
	require.ErrorIs(t, err, offline.ErrNotFound)
}

func TestInterceptHeadOmitsBody(t *testing.T) {
	t.Parallel()
	rig := newProxyRig(t)

	req := httptest.NewRequest(http.MethodHead, "/img/poster.png", nil)
	rec := httptest.NewRecorder()
	rig.api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())
	rig.group.Wait()
	_, err := rig.tiers.Match(context.Background(), rig.origin.URL+"/img/poster.png")
	require.ErrorIs(t, err, offline.ErrNotFound)
}
