package microservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-opsdash/pkg/microservice"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dashboardFixture struct {
	server  *microservice.DashboardServer
	healthy *poll.Item[int]
	broken  *poll.Item[int]
	calls   *atomic.Int32
}

func newDashboardFixture(t *testing.T) *dashboardFixture {
	t.Helper()
	registry := poll.NewRegistry()
	calls := &atomic.Int32{}

	healthy, err := poll.New[int]("redis/cache-01/dbsize", time.Minute, func(context.Context) (int, error) {
		calls.Add(1)
		return 42, nil
	}, poll.WithRegistry(registry))
	require.NoError(t, err)
	broken, err := poll.New[int]("sql/waits", time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("connection refused")
	}, poll.WithRegistry(registry))
	require.NoError(t, err)

	scheduler, err := poll.NewScheduler(poll.NewSchedulerDefaults(), poll.WithRegistry(registry))
	require.NoError(t, err)

	server, err := microservice.NewDashboardServer(zerolog.Nop(), ":0", registry, scheduler)
	require.NoError(t, err)
	return &dashboardFixture{server: server, healthy: healthy, broken: broken, calls: calls}
}

func (f *dashboardFixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Mux().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestDashboardServer_ListPolls(t *testing.T) {
	ctx := context.Background()
	f := newDashboardFixture(t)
	_, err := f.healthy.Get(ctx)
	require.NoError(t, err)
	_, _ = f.broken.RefreshWait(ctx)

	t.Run("All items sorted by name", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/polls")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var statuses []poll.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
		require.Len(t, statuses, 2)
		assert.Equal(t, "redis/cache-01/dbsize", statuses[0].Name)
		assert.True(t, statuses[0].HasValue)
		assert.Equal(t, "sql/waits", statuses[1].Name)
		assert.Contains(t, statuses[1].LastError, "connection refused")
	})

	t.Run("Failing filter", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/polls?failing=true")

		require.Equal(t, http.StatusOK, rec.Code)
		var statuses []poll.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
		require.Len(t, statuses, 1)
		assert.Equal(t, "sql/waits", statuses[0].Name)
	})

	t.Run("Single item", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/polls/"+f.healthy.Handle().String())

		require.Equal(t, http.StatusOK, rec.Code)
		var status poll.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, f.healthy.Handle(), status.Handle)
	})
}

func TestDashboardServer_Refresh(t *testing.T) {
	f := newDashboardFixture(t)

	t.Run("Refresh all", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/polls/refresh")

		require.Equal(t, http.StatusAccepted, rec.Code)
		var body map[string]int
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body["triggered"])
		require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
	})

	t.Run("Refresh one", func(t *testing.T) {
		before := f.calls.Load()
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/polls/%s/refresh", f.healthy.Handle()))

		require.Equal(t, http.StatusAccepted, rec.Code)
		require.Eventually(t, func() bool { return f.calls.Load() > before }, time.Second, 10*time.Millisecond)
	})
}

func TestDashboardServer_Clear(t *testing.T) {
	ctx := context.Background()
	f := newDashboardFixture(t)
	_, err := f.healthy.Get(ctx)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/polls/%s/clear", f.healthy.Handle()))

	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := f.healthy.Peek()
	assert.False(t, ok)
	var status poll.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.HasValue)
	assert.True(t, status.Stale)
}

func TestDashboardServer_Errors(t *testing.T) {
	f := newDashboardFixture(t)

	testCases := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{name: "Unknown handle refresh", method: http.MethodPost, path: "/api/polls/6f1c2a9e-3b7d-4c55-9a0e-1d2f3c4b5a69/refresh", code: http.StatusNotFound},
		{name: "Unknown handle clear", method: http.MethodPost, path: "/api/polls/6f1c2a9e-3b7d-4c55-9a0e-1d2f3c4b5a69/clear", code: http.StatusNotFound},
		{name: "Malformed handle", method: http.MethodPost, path: "/api/polls/not-a-uuid/clear", code: http.StatusBadRequest},
		{name: "Wrong method", method: http.MethodDelete, path: "/api/polls", code: http.StatusMethodNotAllowed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestNewDashboardServer_Validation(t *testing.T) {
	registry := poll.NewRegistry()
	scheduler, err := poll.NewScheduler(poll.NewSchedulerDefaults(), poll.WithRegistry(registry))
	require.NoError(t, err)

	_, err = microservice.NewDashboardServer(zerolog.Nop(), ":0", nil, scheduler)
	assert.Error(t, err)
	_, err = microservice.NewDashboardServer(zerolog.Nop(), ":0", registry, nil)
	assert.Error(t, err)
}

func TestBaseServer_StartAndShutdown(t *testing.T) {
	// Arrange
	server := microservice.NewBaseServer(zerolog.Nop(), ":0")

	// Act
	require.NoError(t, server.Start())
	port := server.GetHTTPPort()

	// Assert
	assert.NotEqual(t, ":0", port)
	resp, err := http.Get("http://localhost" + port + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
}
