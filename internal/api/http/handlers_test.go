package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viable-systems/warden/internal/infrastructure/logging"
	"github.com/viable-systems/warden/internal/infrastructure/monitoring"
	"github.com/viable-systems/warden/internal/sandbox"
	"github.com/viable-systems/warden/tests/helpers/testutil"
)

func newTestRouter(t *testing.T, engine *sandbox.Engine) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var (
		executor sandbox.Executor
		runner   Runner
		name     = "none"
	)
	if engine != nil {
		executor, runner, name = engine, engine, "wasm"
	} else {
		executor = sandbox.NewUnimplemented()
	}

	h := NewHandlers(executor, runner, name, "test-instance", sandbox.BuiltinProfiles(), "pure", monitoring.NewMetrics(), logging.NewDefault())

	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/profiles", h.Profiles)
	router.POST("/execute", h.Execute)
	router.POST("/validate", h.Validate)
	return router
}

func newWasmRouter(t *testing.T) *gin.Engine {
	t.Helper()
	eng, err := sandbox.NewEngine(context.Background(), sandbox.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return newTestRouter(t, eng)
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func executeBody(module []byte, function string, args ...sandbox.Value) ExecuteRequest {
	return ExecuteRequest{
		Module:   base64.StdEncoding.EncodeToString(module),
		Function: function,
		Args:     args,
	}
}

func TestExecute(t *testing.T) {
	router := newWasmRouter(t)

	t.Run("Success", func(t *testing.T) {
		w := postJSON(router, "/execute", executeBody(testutil.AddModule(), "add", sandbox.I32(20), sandbox.I32(22)))
		assert.Equal(t, http.StatusOK, w.Code)

		var resp ExecuteResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.OK)
		assert.NotEmpty(t, resp.ID)
		require.NotNil(t, resp.Value)
		got, ok := resp.Value.AsI32()
		require.True(t, ok)
		assert.Equal(t, int32(42), got)
		assert.Nil(t, resp.Error)
	})

	t.Run("Gzip Encoding", func(t *testing.T) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(testutil.AddModule())
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		body := ExecuteRequest{
			Module:   base64.StdEncoding.EncodeToString(buf.Bytes()),
			Encoding: "gzip",
			Function: "add",
			Args:     []sandbox.Value{sandbox.I32(1), sandbox.I32(2)},
		}
		w := postJSON(router, "/execute", body)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Missing Fields", func(t *testing.T) {
		w := postJSON(router, "/execute", map[string]string{"function": "add"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Bad Base64", func(t *testing.T) {
		w := postJSON(router, "/execute", ExecuteRequest{Module: "not-base64!!!", Function: "add"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown Encoding", func(t *testing.T) {
		body := executeBody(testutil.AddModule(), "add")
		body.Encoding = "zstd"
		w := postJSON(router, "/execute", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown Profile", func(t *testing.T) {
		body := executeBody(testutil.AddModule(), "add", sandbox.I32(1), sandbox.I32(2))
		body.Profile = "trusted"
		w := postJSON(router, "/execute", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Malformed Module", func(t *testing.T) {
		w := postJSON(router, "/execute", executeBody([]byte{0x00, 0x61, 0x73, 0x6d}, "main"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp ExecuteResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.OK)
		require.NotNil(t, resp.Error)
		assert.Equal(t, string(sandbox.InvalidModule), resp.Error.Kind)
	})

	t.Run("Function Not Found", func(t *testing.T) {
		w := postJSON(router, "/execute", executeBody(testutil.AddModule(), "subtract"))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Trap", func(t *testing.T) {
		w := postJSON(router, "/execute", executeBody(testutil.TrapModule(), "boom"))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var resp ExecuteResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, string(sandbox.ExecutionTrap), resp.Error.Kind)
	})

	t.Run("Timeout Override", func(t *testing.T) {
		body := executeBody(testutil.SpinModule(), "spin")
		body.TimeoutMS = 100
		w := postJSON(router, "/execute", body)
		assert.Equal(t, http.StatusRequestTimeout, w.Code)
	})
}

func TestExecuteWithoutEngine(t *testing.T) {
	router := newTestRouter(t, nil)

	w := postJSON(router, "/execute", executeBody(testutil.AddModule(), "add", sandbox.I32(1), sandbox.I32(2)))
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(sandbox.NotImplemented), resp.Error.Kind)
}

func TestValidate(t *testing.T) {
	router := newWasmRouter(t)

	t.Run("Valid", func(t *testing.T) {
		w := postJSON(router, "/validate", ValidateRequest{
			Module: base64.StdEncoding.EncodeToString(testutil.AddModule()),
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Invalid", func(t *testing.T) {
		w := postJSON(router, "/validate", ValidateRequest{
			Module: base64.StdEncoding.EncodeToString([]byte{0x00, 0x61, 0x73, 0x6d}),
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("No Engine", func(t *testing.T) {
		bare := newTestRouter(t, nil)
		w := postJSON(bare, "/validate", ValidateRequest{
			Module: base64.StdEncoding.EncodeToString(testutil.AddModule()),
		})
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})
}

func TestProfiles(t *testing.T) {
	router := newWasmRouter(t)

	req := httptest.NewRequest("GET", "/profiles", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Default  string                          `json:"default"`
		Profiles map[string]sandbox.Capabilities `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pure", resp.Default)
	assert.Contains(t, resp.Profiles, "pure")
	assert.Contains(t, resp.Profiles, "clocked")
}

func TestHealth(t *testing.T) {
	router := newWasmRouter(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "wasm", resp["engine"])
}

func TestDecodeModule(t *testing.T) {
	t.Run("Plain", func(t *testing.T) {
		module, err := DecodeModule(base64.StdEncoding.EncodeToString([]byte("abc")), "")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), module)
	})

	t.Run("Gzip", func(t *testing.T) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write([]byte("abc"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		module, err := DecodeModule(base64.StdEncoding.EncodeToString(buf.Bytes()), "gzip")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), module)
	})

	t.Run("Corrupt Gzip", func(t *testing.T) {
		_, err := DecodeModule(base64.StdEncoding.EncodeToString([]byte("abc")), "gzip")
		testutil.RequireKind(t, err, sandbox.InvalidModule)
	})
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind sandbox.ErrorKind
		want int
	}{
		{sandbox.InvalidModule, http.StatusBadRequest},
		{sandbox.ArityMismatch, http.StatusBadRequest},
		{sandbox.TypeMismatch, http.StatusBadRequest},
		{sandbox.FunctionNotFound, http.StatusNotFound},
		{sandbox.ResourceExceeded, http.StatusRequestTimeout},
		{sandbox.ExecutionTrap, http.StatusUnprocessableEntity},
		{sandbox.NotImplemented, http.StatusNotImplemented},
		{sandbox.Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForKind(tt.kind), string(tt.kind))
	}
}
