package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	exportdomain "github.com/smallbiznis/fiscalsync/internal/export/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
)

type createExportRequest struct {
	CompanyID       string `json:"company_id"`
	Category        string `json:"category"`
	From            string `json:"from"`
	To              string `json:"to"`
	IncludeManifest bool   `json:"include_manifest"`
	// Inline builds the archive within the request instead of leaving it to
	// the scheduler.
	Inline bool `json:"inline"`
}

func (s *Server) CreateExport(c *gin.Context) {
	var req createExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	from, to, err := parseTimeRange(req.From, req.To)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	job, err := s.exports.Create(ctx, exportdomain.CreateExportRequest{
		AccountID:       accountID(c),
		CompanyID:       strings.TrimSpace(req.CompanyID),
		Category:        strings.TrimSpace(req.Category),
		From:            from,
		To:              to,
		IncludeManifest: req.IncludeManifest,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if req.Inline {
		job, err = s.exports.Process(ctx, job.ID.String())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": job.View()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": job.View()})
}

func (s *Server) ListExports(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CompanyID string `form:"company_id"`
		Status    string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.exports.List(c.Request.Context(), exportdomain.ListExportRequest{
		Pagination: query.Pagination,
		AccountID:  accountID(c),
		CompanyID:  strings.TrimSpace(query.CompanyID),
		Status:     strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetExport(c *gin.Context) {
	job, err := s.exports.Get(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job.View()})
}

func (s *Server) DownloadExport(c *gin.Context) {
	body, job, err := s.exports.Download(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, job.FileSize, "application/zip", body, map[string]string{
		"Content-Disposition": attachment("export-" + job.ID.String() + ".zip"),
	})
}
