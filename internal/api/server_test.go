package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/index"
	"github.com/engramdev/engram/internal/logstore"
	"github.com/engramdev/engram/internal/snapshot"
	"github.com/engramdev/engram/internal/synthesis"
	"github.com/engramdev/engram/pkg/types"
)

func testServer(t *testing.T) (*Server, *index.Index) {
	t.Helper()
	dir := t.TempDir()

	store, err := logstore.New(dir, slog.Default())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Snapshot.Dir = dir + "/snapshots"

	ix := index.New(embedding.NewHashEmbedder(16), synthesis.NewSimulator(),
		index.OptionsFromConfig(cfg.Reasoning), slog.Default())
	snaps := snapshot.NewManager(cfg.Snapshot.Dir, cfg.Snapshot.Retention, slog.Default())

	return NewServer(store, ix, snaps, nil, cfg, slog.Default()), ix
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAppendAndValidate(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/v1/records", appendRequest{
		File:    "work.log",
		Section: "STATE",
		Fields: []types.Field{
			{Key: "task", Value: "migrate cursor storage"},
			{Key: "status", Value: "in_progress"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode(t, w)["line"])

	w = doJSON(t, h, http.MethodGet, "/v1/validate?file=work.log", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["clean"])
}

func TestAppendRejectsMissingFile(t *testing.T) {
	srv, _ := testServer(t)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/records", appendRequest{Section: "STATE"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestQueryReturnsIngestedPrinciple(t *testing.T) {
	srv, ix := testServer(t)
	require.NoError(t, ix.Ingest(context.Background(), types.Candidate{
		Principle: types.Principle{
			ID:         "p1",
			Statement:  "always run migrations inside a transaction",
			Confidence: 0.9,
			Status:     types.PrincipleActive,
			CreatedAt:  time.Now().UTC(),
		},
	}))

	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/query", queryRequest{
		Query:            "how should migrations run",
		IncludeReasoning: true,
		Iterations:       2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res index.SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Principles, 1)
	assert.Equal(t, "p1", res.Principles[0].ID)
	require.NotNil(t, res.Reasoning)
	assert.NotEmpty(t, res.Reasoning.Steps)
}

func TestQueryRejectsEmptyQuery(t *testing.T) {
	srv, _ := testServer(t)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/query", queryRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetPrincipleNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/v1/principles/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found_error", decode(t, w)["type"])
}

func TestSnapshotAndRestore(t *testing.T) {
	srv, ix := testServer(t)
	h := srv.Handler()
	require.NoError(t, ix.Ingest(context.Background(), types.Candidate{
		Principle: types.Principle{
			ID:         "p1",
			Statement:  "prefer additive schema changes",
			Confidence: 0.8,
			Status:     types.PrincipleActive,
			CreatedAt:  time.Now().UTC(),
		},
	}))

	w := doJSON(t, h, http.MethodPost, "/v1/snapshots/work", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	ix.Reset()

	w = doJSON(t, h, http.MethodPost, "/v1/snapshots/work/restore", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err := ix.Get("p1")
	assert.NoError(t, err)
}

func TestIntegrityAndStats(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodGet, "/v1/integrity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["clean"])

	w = doJSON(t, h, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "index")
}

func TestExtractWithoutPipeline(t *testing.T) {
	srv, _ := testServer(t)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/extract", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
