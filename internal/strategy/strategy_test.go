package strategy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashour158/Desk-sub003/internal/fallback"
	"github.com/Ashour158/Desk-sub003/internal/partition"
	"github.com/Ashour158/Desk-sub003/internal/route"
)

const offlinePageURL = "https://app.example.com/offline.html"

// countingHandler wraps a handler and counts how often it is invoked.
type countingHandler struct {
	mu      sync.Mutex
	calls   int
	handler http.HandlerFunc
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	h.handler(w, r)
}

func (h *countingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func textHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func slowHandler(delay time.Duration, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		_, _ = io.WriteString(w, body)
	}
}

// setupExecutor wires an executor over a real in-memory store, a real
// fallback resolver, and a live test server.
func setupExecutor(t *testing.T, handler http.Handler) (*Executor, *partition.Store, *httptest.Server) {
	t.Helper()

	ctx := context.Background()
	store, err := partition.NewStore(ctx,
		partition.Config{Prefix: "helpdesk", Version: "1.0.0"},
		billy.NewMemory(), "/cache", nil)
	require.NoError(t, err)
	require.NoError(t, store.Install(ctx))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resolver, err := fallback.NewResolver(store, offlinePageURL, nil)
	require.NoError(t, err)

	exec, err := NewExecutor(store, srv.Client(), resolver, nil)
	require.NoError(t, err)
	t.Cleanup(exec.Wait)

	return exec, store, srv
}

func seedEntry(t *testing.T, store *partition.Store, role partition.Role, rawURL, body string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	rec.Body.WriteString(body)
	require.NoError(t, store.Put(context.Background(), role, req, rec.Result()))
}

func clientRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return req
}

func bodyOf(t *testing.T, res *http.Response) string {
	t.Helper()

	require.NotNil(t, res)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(data)
}

func matchBody(t *testing.T, store *partition.Store, role partition.Role, req *http.Request) (string, bool) {
	t.Helper()

	res, ok := store.Match(context.Background(), role, req)
	if !ok {
		return "", false
	}
	return bodyOf(t, res), true
}

func TestCacheFirst_ServesFromCacheWithoutNetwork(t *testing.T) {
	counter := &countingHandler{handler: textHandler(http.StatusOK, "network value")}
	exec, store, srv := setupExecutor(t, counter)

	req := clientRequest(t, srv.URL+"/static/app.js")
	seedEntry(t, store, partition.RoleStatic, srv.URL+"/static/app.js", "cached value")

	decision := route.Decision{Policy: route.PolicyCacheFirst, Role: partition.RoleStatic}
	res := exec.Do(context.Background(), decision, req)

	assert.Equal(t, "cached value", bodyOf(t, res))
	assert.Equal(t, 0, counter.Calls(), "cache-first hits must not touch the network")
}

func TestCacheFirst_FetchesAndCachesOnMiss(t *testing.T) {
	counter := &countingHandler{handler: textHandler(http.StatusOK, "fresh")}
	exec, _, srv := setupExecutor(t, counter)

	req := clientRequest(t, srv.URL+"/static/app.css")
	decision := route.Decision{Policy: route.PolicyCacheFirst, Role: partition.RoleStatic}

	res := exec.Do(context.Background(), decision, req)
	assert.Equal(t, "fresh", bodyOf(t, res))
	assert.Equal(t, 1, counter.Calls())

	// The fetched value is now cached: a second call stays off the network.
	res = exec.Do(context.Background(), decision, req)
	assert.Equal(t, "fresh", bodyOf(t, res))
	assert.Equal(t, 1, counter.Calls())
}

func TestCacheFirst_NonSuccessReturnedUncached(t *testing.T) {
	counter := &countingHandler{handler: textHandler(http.StatusNotFound, "missing")}
	exec, store, srv := setupExecutor(t, counter)

	req := clientRequest(t, srv.URL+"/static/gone.js")
	decision := route.Decision{Policy: route.PolicyCacheFirst, Role: partition.RoleStatic}

	res := exec.Do(context.Background(), decision, req)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "missing", bodyOf(t, res))

	_, ok := store.Match(context.Background(), partition.RoleStatic, req)
	assert.False(t, ok, "non-2xx responses must not be cached")

	// Without a cached value every call goes back to the network.
	res = exec.Do(context.Background(), decision, req)
	closeBody(res)
	assert.Equal(t, 2, counter.Calls())
}

func TestCacheFirst_StoredErrorResponseStillCounts(t *testing.T) {
	counter := &countingHandler{handler: textHandler(http.StatusOK, "network value")}
	exec, store, srv := setupExecutor(t, counter)

	// A previously stored 404 is still "found" by the initial read.
	req := clientRequest(t, srv.URL+"/static/legacy.js")
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusNotFound)
	rec.Body.WriteString("stored error")
	require.NoError(t, store.Put(context.Background(), partition.RoleStatic, req, rec.Result()))

	decision := route.Decision{Policy: route.PolicyCacheFirst, Role: partition.RoleStatic}
	res := exec.Do(context.Background(), decision, req)

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "stored error", bodyOf(t, res))
	assert.Equal(t, 0, counter.Calls())
}

func TestCacheFirst_TransportFailureFallsBack(t *testing.T) {
	exec, _, srv := setupExecutor(t, textHandler(http.StatusOK, "unreachable"))
	req := clientRequest(t, srv.URL+"/static/app.js")
	srv.Close()

	decision := route.Decision{Policy: route.PolicyCacheFirst, Role: partition.RoleStatic}
	res := exec.Do(context.Background(), decision, req)

	require.NotNil(t, res)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(bodyOf(t, res)), &payload))
	assert.Equal(t, "Offline", payload["error"])
}

func TestNetworkFirst_SuccessIsCachedAndReturned(t *testing.T) {
	exec, store, srv := setupExecutor(t, textHandler(http.StatusOK, `{"tickets":[]}`))

	req := clientRequest(t, srv.URL+"/api/tickets")
	decision := route.Decision{
		Policy:  route.PolicyNetworkFirst,
		Role:    partition.RoleAPI,
		Timeout: time.Second,
	}

	res := exec.Do(context.Background(), decision, req)
	assert.Equal(t, `{"tickets":[]}`, bodyOf(t, res))

	cached, ok := matchBody(t, store, partition.RoleAPI, req)
	require.True(t, ok)
	assert.Equal(t, `{"tickets":[]}`, cached)
}

func TestNetworkFirst_TimeoutReturnsCachedValue(t *testing.T) {
	exec, store, srv := setupExecutor(t, slowHandler(500*time.Millisecond, "eventual network value"))

	req := clientRequest(t, srv.URL+"/api/tickets")
	seedEntry(t, store, partition.RoleAPI, srv.URL+"/api/tickets", "cached tickets")

	decision := route.Decision{
		Policy:  route.PolicyNetworkFirst,
		Role:    partition.RoleAPI,
		Timeout: 50 * time.Millisecond,
	}

	res := exec.Do(context.Background(), decision, req)
	assert.Equal(t, "cached tickets", bodyOf(t, res),
		"the timeout must win over the slow network and serve the cached value")
}

func TestNetworkFirst_NonSuccess(t *testing.T) {
	t.Run("prefers cached value", func(t *testing.T) {
		exec, store, srv := setupExecutor(t, textHandler(http.StatusInternalServerError, "boom"))

		req := clientRequest(t, srv.URL+"/api/tickets")
		seedEntry(t, store, partition.RoleAPI, srv.URL+"/api/tickets", "cached tickets")

		decision := route.Decision{
			Policy:  route.PolicyNetworkFirst,
			Role:    partition.RoleAPI,
			Timeout: time.Second,
		}

		res := exec.Do(context.Background(), decision, req)
		assert.Equal(t, "cached tickets", bodyOf(t, res))
	})

	t.Run("returns the real response on a cache miss", func(t *testing.T) {
		exec, _, srv := setupExecutor(t, textHandler(http.StatusInternalServerError, "boom"))

		req := clientRequest(t, srv.URL+"/api/tickets")
		decision := route.Decision{
			Policy:  route.PolicyNetworkFirst,
			Role:    partition.RoleAPI,
			Timeout: time.Second,
		}

		res := exec.Do(context.Background(), decision, req)
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode,
			"a real server error beats the synthetic offline response")
		assert.Equal(t, "boom", bodyOf(t, res))
	})
}

func TestNetworkFirst_TotalFailureFallsBack(t *testing.T) {
	exec, _, srv := setupExecutor(t, textHandler(http.StatusOK, "unreachable"))
	req := clientRequest(t, srv.URL+"/api/tickets")
	srv.Close()

	decision := route.Decision{
		Policy:  route.PolicyNetworkFirst,
		Role:    partition.RoleAPI,
		Timeout: time.Second,
	}

	res := exec.Do(context.Background(), decision, req)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestStaleWhileRevalidate_HitIsNonBlocking(t *testing.T) {
	const refreshDelay = 250 * time.Millisecond
	exec, store, srv := setupExecutor(t, slowHandler(refreshDelay, "fresh page"))

	req := clientRequest(t, srv.URL+"/tickets")
	seedEntry(t, store, partition.RoleDynamic, srv.URL+"/tickets", "stale page")

	decision := route.Decision{Policy: route.PolicyStaleWhileRevalidate, Role: partition.RoleDynamic}

	start := time.Now()
	res := exec.Do(context.Background(), decision, req)
	elapsed := time.Since(start)

	assert.Equal(t, "stale page", bodyOf(t, res))
	assert.Less(t, elapsed, refreshDelay,
		"a cache hit must return before the background refresh settles")

	// After the background fetch settles, the cache reflects the new value.
	assert.Eventually(t, func() bool {
		cached, ok := store.Match(context.Background(), partition.RoleDynamic, req)
		if !ok {
			return false
		}
		defer cached.Body.Close()
		data, err := io.ReadAll(cached.Body)
		return err == nil && string(data) == "fresh page"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStaleWhileRevalidate_MissAwaitsNetwork(t *testing.T) {
	counter := &countingHandler{handler: textHandler(http.StatusOK, "first load")}
	exec, store, srv := setupExecutor(t, counter)

	req := clientRequest(t, srv.URL+"/tickets")
	decision := route.Decision{Policy: route.PolicyStaleWhileRevalidate, Role: partition.RoleDynamic}

	res := exec.Do(context.Background(), decision, req)
	assert.Equal(t, "first load", bodyOf(t, res))
	assert.Equal(t, 1, counter.Calls())

	cached, ok := matchBody(t, store, partition.RoleDynamic, req)
	require.True(t, ok)
	assert.Equal(t, "first load", cached)
}

func TestStaleWhileRevalidate_RefreshIsDeduplicated(t *testing.T) {
	counter := &countingHandler{handler: slowHandler(300*time.Millisecond, "fresh")}
	exec, store, srv := setupExecutor(t, counter)

	req := clientRequest(t, srv.URL+"/tickets")
	seedEntry(t, store, partition.RoleDynamic, srv.URL+"/tickets", "stale")

	decision := route.Decision{Policy: route.PolicyStaleWhileRevalidate, Role: partition.RoleDynamic}

	for i := 0; i < 5; i++ {
		res := exec.Do(context.Background(), decision, req)
		assert.Equal(t, "stale", bodyOf(t, res))
	}

	exec.Wait()
	assert.Equal(t, 1, counter.Calls(),
		"concurrent refreshes of the same key must collapse into one fetch")
}

func TestStaleWhileRevalidate_MissWithFailingNetworkFallsBack(t *testing.T) {
	exec, _, srv := setupExecutor(t, textHandler(http.StatusOK, "unreachable"))
	req := clientRequest(t, srv.URL+"/tickets")
	srv.Close()

	decision := route.Decision{Policy: route.PolicyStaleWhileRevalidate, Role: partition.RoleDynamic}
	res := exec.Do(context.Background(), decision, req)

	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestDefaultPolicy(t *testing.T) {
	t.Run("success is cached and returned", func(t *testing.T) {
		exec, store, srv := setupExecutor(t, textHandler(http.StatusOK, "report"))

		req := clientRequest(t, srv.URL+"/export/report.pdf")
		decision := route.Decision{Policy: route.PolicyDefault, Role: partition.RoleCore}

		res := exec.Do(context.Background(), decision, req)
		assert.Equal(t, "report", bodyOf(t, res))

		cached, ok := matchBody(t, store, partition.RoleCore, req)
		require.True(t, ok)
		assert.Equal(t, "report", cached)
	})

	t.Run("network failure uses the cache", func(t *testing.T) {
		exec, store, srv := setupExecutor(t, textHandler(http.StatusOK, "unused"))

		req := clientRequest(t, srv.URL+"/export/report.pdf")
		seedEntry(t, store, partition.RoleCore, srv.URL+"/export/report.pdf", "cached report")
		srv.Close()

		decision := route.Decision{Policy: route.PolicyDefault, Role: partition.RoleCore}
		res := exec.Do(context.Background(), decision, req)

		assert.Equal(t, "cached report", bodyOf(t, res))
	})

	t.Run("total failure falls back", func(t *testing.T) {
		exec, _, srv := setupExecutor(t, textHandler(http.StatusOK, "unused"))

		req := clientRequest(t, srv.URL+"/export/report.pdf")
		srv.Close()

		decision := route.Decision{Policy: route.PolicyDefault, Role: partition.RoleCore}
		res := exec.Do(context.Background(), decision, req)

		assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	})
}

func TestClassifyFetchError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code platformerrors.ErrorCode
	}{
		{name: "deadline maps to timeout", err: context.DeadlineExceeded, code: platformerrors.CodeTimeout},
		{name: "cancellation maps to unavailable", err: context.Canceled, code: platformerrors.CodeUnavailable},
		{name: "anything else maps to network", err: io.ErrUnexpectedEOF, code: platformerrors.CodeNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyFetchError(tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.code, platformerrors.GetCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
