package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cvautomation/pkg/log"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/server"
	"cvautomation/pkg/system"
	"cvautomation/plugins"
)

func startLogger(t *testing.T) *log.Logger {
	t.Helper()
	l := log.NewMockLogger()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Start(ctx))
	t.Cleanup(cancel)
	return l
}

func TestPluginsListsRegisteredDescriptors(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, plugins.RegisterAll(reg))

	srv := server.New(reg, startLogger(t), nil)
	api := &API{Server: srv, Registry: reg, System: system.New(t.TempDir(), startLogger(t))}

	rr := httptest.NewRecorder()
	api.Plugins().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/plugins", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var out []pluginInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.NotEmpty(t, out)
}

func TestStatusReturnsJSON(t *testing.T) {
	reg := plugin.NewRegistry()
	srv := server.New(reg, startLogger(t), nil)
	sys := system.New(t.TempDir(), startLogger(t))
	api := &API{Server: srv, Registry: reg, System: sys}

	rr := httptest.NewRecorder()
	api.Status().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestAccessLogRecordsRequest(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	zapLogger := zap.New(core)

	handler := AccessLog(zapLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/foo", nil))

	require.Equal(t, http.StatusTeapot, rr.Code)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "http request", entry.Message)
}
