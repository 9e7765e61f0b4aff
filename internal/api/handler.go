// Package api serves the schema evolution engine over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"schemaevo/internal/domain"
	"schemaevo/internal/extract"
	"schemaevo/internal/service/evolution"
)

// maxSchemaBytes bounds an evaluation request body.
const maxSchemaBytes = 4 << 20

// Engine is the part of the evolution service the handlers call.
type Engine interface {
	Evaluate(ctx context.Context, datasetID string, schema domain.Schema, opts evolution.EvaluateOptions) (*evolution.EvaluationResult, error)
	GetHistory(ctx context.Context, datasetID string, limit int) ([]domain.HistoryEntry, error)
	GetImpact(ctx context.Context, datasetID string, maxDepth int) (*evolution.ImpactReport, error)
	VersionMapping(ctx context.Context, datasetID string) (map[string]string, error)
	ListDatasets(ctx context.Context, page domain.PageRequest) ([]string, int64, error)
}

// LineageStore manages lineage edges.
type LineageStore interface {
	InsertEdge(ctx context.Context, edge *domain.LineageEdge) (*domain.LineageEdge, error)
	DeleteEdge(ctx context.Context, id string) error
	ListEdges(ctx context.Context, page domain.PageRequest) ([]domain.LineageEdge, int64, error)
}

// Handler implements the HTTP endpoints.
type Handler struct {
	engine  Engine
	lineage LineageStore
	// onLineageChange is called with the upstream id after an edge was added,
	// or with "" after one was removed.
	onLineageChange func(upstreamID string)
	logger          *slog.Logger
}

// NewHandler creates a Handler. onLineageChange may be nil.
func NewHandler(engine Engine, lineage LineageStore, onLineageChange func(string), logger *slog.Logger) *Handler {
	if onLineageChange == nil {
		onLineageChange = func(string) {}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{engine: engine, lineage: lineage, onLineageChange: onLineageChange, logger: logger}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/datasets", h.ListDatasets)
	r.Route("/datasets/{datasetID}", func(r chi.Router) {
		r.Post("/evaluate", h.Evaluate)
		r.Get("/history", h.GetHistory)
		r.Get("/impact", h.GetImpact)
		r.Get("/versions", h.GetVersions)
	})
	r.Get("/lineage/edges", h.ListEdges)
	r.Post("/lineage/edges", h.CreateEdge)
	r.Delete("/lineage/edges/{edgeID}", h.DeleteEdge)
}

// Evaluate accepts a schema document for a dataset. A committed evaluation
// answers 201, an unchanged schema 200.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r, "force")
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSchemaBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, domain.ErrValidation("schema document exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, domain.ErrValidation("read body: %v", err))
		return
	}
	schema, err := extract.ParseSchemaDocument(body)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.Evaluate(r.Context(), chi.URLParam(r, "datasetID"), schema, evolution.EvaluateOptions{Force: force})
	if err != nil {
		h.logFailure(r, "evaluate", err)
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.NoOp {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// GetHistory lists snapshots newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.engine.GetHistory(r.Context(), chi.URLParam(r, "datasetID"), limit)
	if err != nil {
		h.logFailure(r, "history", err)
		writeError(w, err)
		return
	}
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// GetImpact reports the downstream impact of the latest change.
func (h *Handler) GetImpact(w http.ResponseWriter, r *http.Request) {
	maxDepth, err := intParam(r, "max_depth")
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.engine.GetImpact(r.Context(), chi.URLParam(r, "datasetID"), maxDepth)
	if err != nil {
		h.logFailure(r, "impact", err)
		writeError(w, err)
		return
	}
	if report.Entries == nil {
		report.Entries = []domain.ImpactEntry{}
	}
	writeJSON(w, http.StatusOK, report)
}

// GetVersions returns the cloud label to semantic version mapping.
func (h *Handler) GetVersions(w http.ResponseWriter, r *http.Request) {
	mapping, err := h.engine.VersionMapping(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": mapping})
}

// ListDatasets pages through datasets with history.
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, total, err := h.engine.ListDatasets(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasets":      ids,
		"nextPageToken": domain.NextPageToken(page.Offset(), page.Limit(), total),
	})
}

// ListEdges pages through lineage edges.
func (h *Handler) ListEdges(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	edges, total, err := h.lineage.ListEdges(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	if edges == nil {
		edges = []domain.LineageEdge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"edges":         edges,
		"nextPageToken": domain.NextPageToken(page.Offset(), page.Limit(), total),
	})
}

// CreateEdge records a lineage edge.
func (h *Handler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	var edge domain.LineageEdge
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSchemaBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&edge); err != nil {
		writeError(w, domain.ErrValidation("invalid lineage edge: %v", err))
		return
	}
	if edge.EdgeType == "" {
		edge.EdgeType = domain.EdgeTransformed
	}
	out, err := h.lineage.InsertEdge(r.Context(), &edge)
	if err != nil {
		writeError(w, err)
		return
	}
	h.onLineageChange(out.UpstreamID)
	writeJSON(w, http.StatusCreated, out)
}

// DeleteEdge removes a lineage edge.
func (h *Handler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	if err := h.lineage.DeleteEdge(r.Context(), chi.URLParam(r, "edgeID")); err != nil {
		writeError(w, err)
		return
	}
	h.onLineageChange("")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logFailure(r *http.Request, op string, err error) {
	if httpStatusFromDomainError(err) < http.StatusInternalServerError {
		return
	}
	h.logger.ErrorContext(r.Context(), "request failed",
		"op", op, "dataset", chi.URLParam(r, "datasetID"), "error", err)
}

func pageFromQuery(r *http.Request) (domain.PageRequest, error) {
	maxResults, err := intParam(r, "max_results")
	if err != nil {
		return domain.PageRequest{}, err
	}
	p := domain.PageRequest{MaxResults: maxResults, PageToken: r.URL.Query().Get("page_token")}
	return p, p.Validate()
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.ErrValidation("%s must be a non-negative integer", name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, domain.ErrValidation("%s must be a boolean", name)
	}
	return b, nil
}
