package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/sink"
)

func seededServer(t *testing.T) *Server {
	t.Helper()
	metrics.Init()

	mem := sink.NewMemory()
	err := mem.StoreRun(context.Background(),
		records.CollectionRun{ID: "run-1", Status: records.RunStatusSucceeded, Clusters: 1},
		[]records.EntityCluster{{
			ID: "cl-1",
			Canonical: records.NormalizedRecord{
				ID:       "cl-1",
				ParcelID: "023-045",
				Owner:    "SMITH JOHN A",
			},
			Confidence: 1.0,
		}},
	)
	require.NoError(t, err)
	return NewServer(mem, zap.NewNop())
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := doGet(t, seededServer(t), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	rec := doGet(t, seededServer(t), "/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Runs []records.CollectionRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Runs, 1)
	require.Equal(t, "run-1", payload.Runs[0].ID)
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	s := seededServer(t)

	rec := doGet(t, s, "/v1/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(t, s, "/v1/runs/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListClusters(t *testing.T) {
	t.Parallel()

	s := seededServer(t)

	rec := doGet(t, s, "/v1/runs/run-1/clusters")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Clusters []records.EntityCluster `json:"clusters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Clusters, 1)
	require.Equal(t, "023-045", payload.Clusters[0].Canonical.ParcelID)

	rec = doGet(t, s, "/v1/runs/nope/clusters")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCluster(t *testing.T) {
	t.Parallel()

	s := seededServer(t)

	rec := doGet(t, s, "/v1/clusters/cl-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Cluster records.EntityCluster `json:"cluster"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "SMITH JOHN A", payload.Cluster.Canonical.Owner)

	rec = doGet(t, s, "/v1/clusters/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := doGet(t, seededServer(t), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "leads_")
}