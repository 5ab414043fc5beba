package scraperclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_SuccessReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"title":"hello"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	out, err := c.Extract(context.Background(), Request{Extractor: "return document.title", TimeoutMs: 5000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"hello"}`, string(out))
}

func TestExtract_PostsToWebPageExecuteEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Extract(context.Background(), Request{Extractor: "x", TimeoutMs: 5000})
	require.NoError(t, err)
	assert.Equal(t, "/api/web_page/execute", gotPath)
}

func TestExtract_ServerFaultIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Extract(context.Background(), Request{Extractor: "x", TimeoutMs: 5000})
	require.Error(t, err)
	assert.Equal(t, retrackerr.Transient, retrackerr.KindOf(err))
}

func TestExtract_ScriptViolationIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		body, _ := json.Marshal(map[string]string{"message": "forbidden import: fs"})
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Extract(context.Background(), Request{Extractor: "x", TimeoutMs: 5000})
	require.Error(t, err)
	assert.Equal(t, retrackerr.Terminal, retrackerr.KindOf(err))
}

func TestExtract_TimeoutMessageClassifiedAsScriptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestTimeout)
		body, _ := json.Marshal(map[string]string{"message": "execution was terminated due to timeout 5000ms"})
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Extract(context.Background(), Request{Extractor: "x", TimeoutMs: 5000})
	require.Error(t, err)
	assert.Equal(t, retrackerr.ScriptTimeout, retrackerr.KindOf(err))
}
