package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaevo/internal/domain"
	"schemaevo/internal/service/evolution"
)

type mockEngine struct {
	EvaluateFn       func(ctx context.Context, id string, s domain.Schema, opts evolution.EvaluateOptions) (*evolution.EvaluationResult, error)
	GetHistoryFn     func(ctx context.Context, id string, limit int) ([]domain.HistoryEntry, error)
	GetImpactFn      func(ctx context.Context, id string, maxDepth int) (*evolution.ImpactReport, error)
	VersionMappingFn func(ctx context.Context, id string) (map[string]string, error)
	ListDatasetsFn   func(ctx context.Context, page domain.PageRequest) ([]string, int64, error)
}

func (m *mockEngine) Evaluate(ctx context.Context, id string, s domain.Schema, opts evolution.EvaluateOptions) (*evolution.EvaluationResult, error) {
	if m.EvaluateFn == nil {
		panic("mockEngine.Evaluate called but not set")
	}
	return m.EvaluateFn(ctx, id, s, opts)
}

func (m *mockEngine) GetHistory(ctx context.Context, id string, limit int) ([]domain.HistoryEntry, error) {
	if m.GetHistoryFn == nil {
		panic("mockEngine.GetHistory called but not set")
	}
	return m.GetHistoryFn(ctx, id, limit)
}

func (m *mockEngine) GetImpact(ctx context.Context, id string, maxDepth int) (*evolution.ImpactReport, error) {
	if m.GetImpactFn == nil {
		panic("mockEngine.GetImpact called but not set")
	}
	return m.GetImpactFn(ctx, id, maxDepth)
}

func (m *mockEngine) VersionMapping(ctx context.Context, id string) (map[string]string, error) {
	if m.VersionMappingFn == nil {
		panic("mockEngine.VersionMapping called but not set")
	}
	return m.VersionMappingFn(ctx, id)
}

func (m *mockEngine) ListDatasets(ctx context.Context, page domain.PageRequest) ([]string, int64, error) {
	if m.ListDatasetsFn == nil {
		panic("mockEngine.ListDatasets called but not set")
	}
	return m.ListDatasetsFn(ctx, page)
}

type mockLineage struct {
	edges []domain.LineageEdge
}

func (m *mockLineage) InsertEdge(_ context.Context, e *domain.LineageEdge) (*domain.LineageEdge, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	out := *e
	out.ID = "edge-1"
	m.edges = append(m.edges, out)
	return &out, nil
}

func (m *mockLineage) DeleteEdge(_ context.Context, id string) error {
	for i, e := range m.edges {
		if e.ID == id {
			m.edges = append(m.edges[:i], m.edges[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound("lineage edge %q not found", id)
}

func (m *mockLineage) ListEdges(_ context.Context, _ domain.PageRequest) ([]domain.LineageEdge, int64, error) {
	return m.edges, int64(len(m.edges)), nil
}

func newTestServer(t *testing.T, engine Engine, lin LineageStore, onChange func(string)) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(engine, lin, onChange, nil).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestEvaluate(t *testing.T) {
	var gotID string
	var gotOpts evolution.EvaluateOptions
	engine := &mockEngine{
		EvaluateFn: func(_ context.Context, id string, s domain.Schema, opts evolution.EvaluateOptions) (*evolution.EvaluationResult, error) {
			gotID, gotOpts = id, opts
			require.Len(t, s.Fields, 1)
			return &evolution.EvaluationResult{DatasetID: id, NoOp: !opts.Force && id == "same"}, nil
		},
	}
	srv := newTestServer(t, engine, &mockLineage{}, nil)
	doc := `{"fields": [{"name": "id", "type": {"kind": "long"}}]}`

	resp, body := do(t, http.MethodPost, srv.URL+"/datasets/orders/evaluate?force=true", doc)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "orders", body["datasetId"])
	assert.Equal(t, "orders", gotID)
	assert.True(t, gotOpts.Force)

	resp, _ = do(t, http.MethodPost, srv.URL+"/datasets/same/evaluate", doc)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		body       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{name: "malformed document", body: `{"columns": []}`, wantStatus: http.StatusUnprocessableEntity, wantKind: "malformed"},
		{name: "bad force flag", query: "?force=maybe", body: `{}`, wantStatus: http.StatusBadRequest, wantKind: "validation"},
		{
			name: "busy", body: `{"fields": []}`,
			err:        &domain.ConcurrentEvaluationError{DatasetID: "orders", RetryAfter: 2 * time.Second},
			wantStatus: http.StatusTooManyRequests, wantKind: "busy",
		},
		{name: "timeout", body: `{"fields": []}`, err: context.DeadlineExceeded, wantStatus: http.StatusGatewayTimeout, wantKind: "timeout"},
		{name: "internal", body: `{"fields": []}`, err: errors.New("disk on fire"), wantStatus: http.StatusInternalServerError, wantKind: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &mockEngine{
				EvaluateFn: func(context.Context, string, domain.Schema, evolution.EvaluateOptions) (*evolution.EvaluationResult, error) {
					return nil, tt.err
				},
			}
			srv := newTestServer(t, engine, &mockLineage{}, nil)

			resp, body := do(t, http.MethodPost, srv.URL+"/datasets/orders/evaluate"+tt.query, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantKind, body["kind"])
			if tt.wantKind == "busy" {
				assert.Equal(t, "2", resp.Header.Get("Retry-After"))
			}
			if tt.wantKind == "internal" {
				assert.Equal(t, "internal error", body["message"])
			}
		})
	}
}

func TestReadEndpoints(t *testing.T) {
	engine := &mockEngine{
		GetHistoryFn: func(_ context.Context, id string, limit int) ([]domain.HistoryEntry, error) {
			assert.Equal(t, 3, limit)
			return nil, nil
		},
		GetImpactFn: func(_ context.Context, id string, maxDepth int) (*evolution.ImpactReport, error) {
			if id == "ghost" {
				return nil, domain.ErrNotFound("dataset %q not found", id)
			}
			assert.Equal(t, 2, maxDepth)
			return &evolution.ImpactReport{DatasetID: id}, nil
		},
		VersionMappingFn: func(context.Context, string) (map[string]string, error) {
			return map[string]string{"S-1": "1.0.0"}, nil
		},
		ListDatasetsFn: func(_ context.Context, page domain.PageRequest) ([]string, int64, error) {
			assert.Equal(t, 1, page.Limit())
			return []string{"a"}, 3, nil
		},
	}
	srv := newTestServer(t, engine, &mockLineage{}, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/datasets/orders/history?limit=3", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["history"])

	resp, body = do(t, http.MethodGet, srv.URL+"/datasets/orders/impact?max_depth=2", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["impact"])

	resp, body = do(t, http.MethodGet, srv.URL+"/datasets/ghost/impact", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])

	resp, body = do(t, http.MethodGet, srv.URL+"/datasets/orders/versions", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"S-1": "1.0.0"}, body["versions"])

	resp, body = do(t, http.MethodGet, srv.URL+"/datasets?max_results=1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["nextPageToken"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/datasets?max_results=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLineageEndpoints(t *testing.T) {
	var changed []string
	lin := &mockLineage{}
	srv := newTestServer(t, &mockEngine{}, lin, func(id string) { changed = append(changed, id) })

	resp, body := do(t, http.MethodPost, srv.URL+"/lineage/edges",
		`{"upstreamId": "orders", "downstreamId": "revenue"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "TRANSFORMED", body["edgeType"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/lineage/edges", `{"upstreamId": "a", "downstreamId": "a"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/lineage/edges", `{"upstream": "a"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/lineage/edges", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["edges"], 1)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/lineage/edges/edge-1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/lineage/edges/edge-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, []string{"orders", ""}, changed)
}

func TestHTTPStatusFromDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: domain.ErrNotFound("gone"), want: http.StatusNotFound},
		{name: "no prior snapshot", err: &domain.NoPriorSnapshotError{DatasetID: "x"}, want: http.StatusNotFound},
		{name: "validation", err: domain.ErrValidation("bad"), want: http.StatusBadRequest},
		{name: "malformed", err: domain.ErrMalformed("a", "bad"), want: http.StatusUnprocessableEntity},
		{name: "conflict", err: domain.ErrConflict("dup"), want: http.StatusConflict},
		{name: "busy", err: &domain.ConcurrentEvaluationError{}, want: http.StatusTooManyRequests},
		{name: "generic", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatusFromDomainError(tt.err))
		})
	}
}
