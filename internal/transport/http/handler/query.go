package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"zenocloud/internal/app"
	"zenocloud/internal/rag"
	"zenocloud/internal/transport/http/response"
)

type QueryUseCase interface {
	Query(ctx context.Context, caller app.Caller, query string) (*rag.Answer, error)
	Summarize(ctx context.Context, caller app.Caller, in app.SummarizeInput) (*rag.Summary, error)
	Search(ctx context.Context, caller app.Caller, query string) ([]app.SearchHit, error)
}

type QueryHandler struct {
	queries QueryUseCase
}

type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

type SummarizeRequest struct {
	FileName string `json:"fileName"`
	FileID   uint   `json:"fileId"`
}

func NewQueryHandler(queries QueryUseCase) *QueryHandler {
	return &QueryHandler{queries: queries}
}

func (h *QueryHandler) Query(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "query is required")
		return
	}

	answer, err := h.queries.Query(c.Request.Context(), caller, req.Query)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	response.OK(c, answer)
}

func (h *QueryHandler) Summarize(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	var req SummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	summary, err := h.queries.Summarize(c.Request.Context(), caller, app.SummarizeInput{
		FileID:   req.FileID,
		FileName: req.FileName,
	})
	if err != nil {
		writeQueryError(c, err)
		return
	}
	response.OK(c, summary)
}

// Search handles GET /search?q= and returns the best matching files.
func (h *QueryHandler) Search(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	q := c.Query("q")
	if q == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing query")
		return
	}

	hits, err := h.queries.Search(c.Request.Context(), caller, q)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	if hits == nil {
		hits = []app.SearchHit{}
	}
	response.OK(c, hits)
}

func writeQueryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrFileNotFound):
		response.Error(c, http.StatusNotFound, response.CodeFileNotFound, err.Error())
	case errors.Is(err, app.ErrNoEmbeddings):
		response.Error(c, http.StatusNotFound, response.CodeNoEmbeddings, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeQueryFailed, "query processing failed")
	}
}
