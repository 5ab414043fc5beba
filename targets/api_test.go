package targets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/retrack/retrack/config"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/retrack/retrack/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIExecutor_SingleRequestNoScripts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":9}`))
	}))
	defer srv.Close()

	exec := NewAPIExecutor(sandbox.New(config.SandboxConfig{TimeoutMs: 1000, MaxCallStack: 256}))
	target := model.APITarget{Requests: []model.APIRequest{{URL: srv.URL, Method: http.MethodGet}}}

	out, err := exec.Execute(context.Background(), target, nil, 5*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":9}`, string(out))
}

func TestAPIExecutor_ExtractorReducesFinalResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price": 9}`))
	}))
	defer srv.Close()

	exec := NewAPIExecutor(sandbox.New(config.SandboxConfig{TimeoutMs: 1000, MaxCallStack: 256}))
	target := model.APITarget{
		Requests:  []model.APIRequest{{URL: srv.URL, Method: http.MethodGet}},
		Extractor: `var parsed = JSON.parse(context.body); return parsed.price;`,
	}

	out, err := exec.Execute(context.Background(), target, nil, 5*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `9`, string(out))
}

func TestAPIExecutor_ServerFaultIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exec := NewAPIExecutor(sandbox.New(config.SandboxConfig{TimeoutMs: 1000, MaxCallStack: 256}))
	target := model.APITarget{Requests: []model.APIRequest{{URL: srv.URL, Method: http.MethodGet}}}

	_, err := exec.Execute(context.Background(), target, nil, 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, retrackerr.Transient, retrackerr.KindOf(err))
}

func TestAPIExecutor_NoRequestsIsValidationError(t *testing.T) {
	exec := NewAPIExecutor(sandbox.New(config.SandboxConfig{TimeoutMs: 1000, MaxCallStack: 256}))
	_, err := exec.Execute(context.Background(), model.APITarget{}, nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, retrackerr.Validation, retrackerr.KindOf(err))
}

func TestRawOrNil(t *testing.T) {
	assert.Nil(t, rawOrNil(nil))
	assert.Equal(t, float64(1), rawOrNil(json.RawMessage(`1`)))
}
