package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/internal/store"
)

func newServeTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestOpsRouter_Health(t *testing.T) {
	st := newServeTestStore(t)
	srv := httptest.NewServer(opsRouter(st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOpsRouter_Jobs(t *testing.T) {
	st := newServeTestStore(t)
	job, err := st.CreateJob(context.Background(), model.Job{
		CustomerName: "Dana Whitfield",
		Email:        "dana@example.com",
		SubmittedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(opsRouter(st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var jobs []model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)

	one, err := http.Get(srv.URL + "/jobs/" + job.ID)
	require.NoError(t, err)
	defer one.Body.Close()
	assert.Equal(t, http.StatusOK, one.StatusCode)

	missing, err := http.Get(srv.URL + "/jobs/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestOpsRouter_Snapshot(t *testing.T) {
	st := newServeTestStore(t)
	srv := httptest.NewServer(opsRouter(st))
	defer srv.Close()

	// No active snapshot reports the configuration problem.
	resp, err := http.Get(srv.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, st.SaveSnapshot(context.Background(), &model.Snapshot{
		Catalog: []model.CatalogEntry{{Code: "X1", Name: "One", UnitPrice: decimal.NewFromInt(10)}},
	}, true))

	resp2, err := http.Get(srv.URL + "/snapshot")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Equal(t, float64(1), body["catalog_entries"])
	assert.Equal(t, float64(1), body["version"])
}
