package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/docparse"
	"github.com/fyrsmithlabs/ingestd/internal/docstore"
	"github.com/fyrsmithlabs/ingestd/internal/ingest"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/tableindex"
	"github.com/fyrsmithlabs/ingestd/internal/testcases"
	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
	"github.com/fyrsmithlabs/ingestd/internal/vectorstore"
)

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, docparse.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, docparse.ErrEncrypted),
		errors.Is(err, docparse.ErrEmptyText),
		errors.Is(err, docparse.ErrCorrupted),
		errors.Is(err, ingest.ErrProcessingFailed),
		errors.Is(err, retrieval.ErrNoQuery):
		return http.StatusUnprocessableEntity
	case errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, retrieval.ErrNoWorkItems),
		errors.Is(err, tableindex.ErrNoTables):
		return http.StatusNotFound
	case errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, vectorindex.ErrNoNamespaces),
		errors.Is(err, vectorstore.ErrInvalidNamespace):
		return http.StatusBadRequest
	case errors.Is(err, retrieval.ErrNoLLM),
		errors.Is(err, retrieval.ErrNoSQL),
		errors.Is(err, retrieval.ErrNoWorkItemSource),
		errors.Is(err, docparse.ErrPDFToolNotFound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, err error, result any) error {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: err.Error(), Result: result})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reports which backends are configured and the namespaces
// of the index.
func (s *Server) handleStatus(c echo.Context) error {
	configured := func(ok bool) string {
		if ok {
			return "configured"
		}
		return "disabled"
	}
	resp := StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Services: map[string]string{
			"ingest":     configured(s.services.Ingestor != nil),
			"documents":  configured(s.services.Documents != nil),
			"tables":     configured(s.services.Indexer != nil),
			"retrieval":  configured(s.services.Retriever != nil),
			"namespaces": configured(s.services.Namespaces != nil),
			"testcases":  configured(s.services.TestCases != nil),
		},
	}
	if s.services.Namespaces != nil {
		namespaces, err := s.services.Namespaces.ListNamespaces(c.Request().Context())
		if err != nil {
			resp.Status = "degraded"
			resp.Services["namespaces"] = "error: " + err.Error()
		} else {
			resp.Namespaces = namespaces
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleUploadDocument ingests a multipart upload. Form fields: file,
// namespace, metadata (a JSON object), project, labels and components
// (comma separated).
func (s *Server) handleUploadDocument(c echo.Context) error {
	if s.services.Ingestor == nil {
		return unavailable("document ingestion")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}

	metadata := map[string]any{}
	if raw := c.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "metadata must be a JSON object")
		}
	}
	if v := c.FormValue("project"); v != "" {
		metadata["project"] = v
	}
	if v := splitCSV(c.FormValue("labels")); len(v) > 0 {
		metadata["labels"] = v
	}
	if v := splitCSV(c.FormValue("components")); len(v) > 0 {
		metadata["components"] = v
	}

	doc := ingest.Document{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Data:        data,
		Metadata:    metadata,
	}
	res, err := s.services.Ingestor.Ingest(c.Request().Context(), doc, c.FormValue("namespace"))
	if err != nil {
		return s.fail(c, err, res)
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	if s.services.Documents == nil {
		return unavailable("document store")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	docs, err := s.services.Documents.List(c.Request().Context(), c.QueryParam("name"), limit)
	if err != nil {
		return s.fail(c, err, nil)
	}
	if docs == nil {
		docs = []docstore.FileInfo{}
	}
	return c.JSON(http.StatusOK, DocumentListResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) handleDownloadDocument(c echo.Context) error {
	if s.services.Documents == nil {
		return unavailable("document store")
	}
	data, info, err := s.services.Documents.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err, nil)
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", info.Filename))
	return c.Blob(http.StatusOK, contentType, data)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	if s.services.Documents == nil {
		return unavailable("document store")
	}
	if err := s.services.Documents.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err, nil)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListTables(c echo.Context) error {
	if s.services.Tables == nil {
		return unavailable("relational store")
	}
	tables, err := s.services.Tables.Tables(c.Request().Context())
	if err != nil {
		return s.fail(c, err, nil)
	}
	if tables == nil {
		tables = []string{}
	}
	return c.JSON(http.StatusOK, TablesResponse{Tables: tables, Count: len(tables)})
}

func (s *Server) handleIndexAllTables(c echo.Context) error {
	if s.services.Indexer == nil {
		return unavailable("table indexer")
	}
	var req IndexTablesRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}

	res, err := s.services.Indexer.IndexAllTables(c.Request().Context(), tableindex.AllOptions{
		Namespace:     req.Namespace,
		ChunkSize:     req.ChunkSize,
		LimitPerTable: req.LimitPerTable,
		ExcludeTables: req.ExcludeTables,
	})
	if err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleIndexTable(c echo.Context) error {
	if s.services.Indexer == nil {
		return unavailable("table indexer")
	}
	var req IndexTableRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}

	res := s.services.Indexer.IndexTable(c.Request().Context(), c.Param("name"), tableindex.Options{
		Namespace: req.Namespace,
		ChunkSize: req.ChunkSize,
		Limit:     req.Limit,
	})
	if res.Status == tableindex.StatusError {
		return c.JSON(http.StatusUnprocessableEntity, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleQuery(c echo.Context) error {
	if s.services.Retriever == nil {
		return unavailable("retrieval")
	}
	var body QueryRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req, err := body.toRequest()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := s.services.Retriever.Search(c.Request().Context(), req)
	if err != nil {
		return s.fail(c, err, nil)
	}
	resp := QueryResponse{
		Status:       "success",
		Chunks:       res.Chunks,
		TotalResults: len(res.Chunks),
		Queried:      res.Queried,
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, f.Namespace)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAnswer(c echo.Context) error {
	if s.services.Retriever == nil {
		return unavailable("retrieval")
	}
	var body AnswerRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	question := body.Question
	if question == "" {
		question = body.Text
	}
	req, err := body.toRequest()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := s.services.Retriever.Answer(c.Request().Context(), question, retrieval.AnswerOptions{
		Request:    req,
		IncludeSQL: body.IncludeSQL,
	})
	if err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleWorkItems(c echo.Context) error {
	if s.services.Retriever == nil {
		return unavailable("retrieval")
	}
	label := c.QueryParam("label")
	if label == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "label query parameter is required")
	}
	topK := 0
	if raw := c.QueryParam("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "top_k must be a positive integer")
		}
		topK = n
	}

	res, err := s.services.Retriever.ContextForLabel(c.Request().Context(), label, topK)
	if err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleDeleteNamespace(c echo.Context) error {
	if s.services.Namespaces == nil {
		return unavailable("vector index")
	}
	ns := c.Param("ns")
	if err := s.services.Namespaces.DeleteNamespace(c.Request().Context(), ns); err != nil {
		return s.fail(c, err, nil)
	}
	s.logger.Info("namespace deleted via api", zap.String("namespace", ns))
	return c.NoContent(http.StatusNoContent)
}

// bindOptional binds a JSON body when one is present.
func bindOptional(c echo.Context, v any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// handleGenerateTestCases runs test-case generation for a label. Stories
// that fail are reported in the result; the request fails only when
// retrieval does.
func (s *Server) handleGenerateTestCases(c echo.Context) error {
	if s.services.TestCases == nil {
		return unavailable("test case generation")
	}
	var body testcases.Request
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(body.Label) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "label is required")
	}
	if body.Limit < 0 || body.TopK < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit and top_k must not be negative")
	}

	res, err := s.services.TestCases.Generate(c.Request().Context(), body)
	if err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, res)
}
