package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httprunner/devicehub"
	"github.com/httprunner/devicehub/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *devicehub.Registry) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "devicehub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bridge := devicehub.NewBridgeClient(devicehub.BridgeConfig{Path: "/nonexistent/adb"})
	registry := devicehub.NewRegistry(store)
	locks := devicehub.NewLockManager(store, bridge)
	broadcaster := devicehub.NewBroadcaster()
	runner := devicehub.NewLocalTaskRunner(1)
	t.Cleanup(runner.Close)
	executor := devicehub.ExecutorFunc(func(ctx context.Context, execution *devicehub.Execution, report devicehub.ReportFunc) (string, error) {
		return "", nil
	})
	orchestrator := devicehub.NewOrchestrator(store, runner, executor, broadcaster)

	srv := NewServer(Config{Addr: ":0", PollInterval: time.Minute}, bridge, registry, locks, orchestrator, broadcaster)
	return srv, registry
}

func seedDevice(t *testing.T, registry *devicehub.Registry, id string) {
	t.Helper()
	_, err := registry.Reconcile(context.Background(), []devicehub.DeviceInfo{
		{DeviceID: id, Status: devicehub.DeviceStatusOnline},
	})
	require.NoError(t, err)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListDevicesEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, resp := doJSON(t, srv, http.MethodGet, "/api/devices", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestLockEndpointConflictMapping(t *testing.T) {
	srv, registry := newTestServer(t)
	seedDevice(t, registry, "emulator-5554")

	rec, resp := doJSON(t, srv, http.MethodPost, "/api/devices/emulator-5554/lock", gin.H{"owner": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)

	// Second lock on the same device is a conflict, not a server error.
	rec, resp = doJSON(t, srv, http.MethodPost, "/api/devices/emulator-5554/lock", gin.H{"owner": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)

	// Unlock by a non-owner is also a conflict.
	rec, _ = doJSON(t, srv, http.MethodPost, "/api/devices/emulator-5554/unlock", gin.H{"owner": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Force release needs no owner.
	rec, _ = doJSON(t, srv, http.MethodPost, "/api/devices/emulator-5554/release", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLockUnknownDeviceNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := doJSON(t, srv, http.MethodPost, "/api/devices/ghost/lock", gin.H{"owner": "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLockMissingOwnerBadRequest(t *testing.T) {
	srv, registry := newTestServer(t)
	seedDevice(t, registry, "emulator-5554")
	rec, _ := doJSON(t, srv, http.MethodPost, "/api/devices/emulator-5554/lock", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitAndStopExecution(t *testing.T) {
	srv, registry := newTestServer(t)
	seedDevice(t, registry, "emulator-5554")

	rec, resp := doJSON(t, srv, http.MethodPost, "/api/executions", devicehub.SubmitRequest{
		TestCaseID: "tc-1", DeviceID: "emulator-5554", Owner: "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	require.True(t, resp.Success)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var execution devicehub.Execution
	require.NoError(t, json.Unmarshal(raw, &execution))
	require.NotZero(t, execution.ID)
	path := fmt.Sprintf("/api/executions/%d", execution.ID)

	// The single-worker runner finishes quickly; poll until terminal.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, resp = doJSON(t, srv, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		raw, _ = json.Marshal(resp.Data)
		require.NoError(t, json.Unmarshal(raw, &execution))
		if execution.Status.Terminal() {
			break
		}
		require.True(t, time.Now().Before(deadline), "execution never reached a terminal state")
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, devicehub.ExecutionSuccess, execution.Status)

	// Stopping a finished execution is a state conflict.
	rec, _ = doJSON(t, srv, http.MethodPost, path+"/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitAgainstForeignLockConflicts(t *testing.T) {
	srv, registry := newTestServer(t)
	seedDevice(t, registry, "emulator-5554")

	rec, _ := doJSON(t, srv, http.MethodPost, "/api/devices/emulator-5554/lock", gin.H{"owner": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := doJSON(t, srv, http.MethodPost, "/api/executions", devicehub.SubmitRequest{
		TestCaseID: "tc-1", DeviceID: "emulator-5554", Owner: "alice",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)
}

func TestGetExecutionInvalidID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := doJSON(t, srv, http.MethodGet, "/api/executions/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetExecutionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := doJSON(t, srv, http.MethodGet, "/api/executions/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
