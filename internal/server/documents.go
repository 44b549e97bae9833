package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
)

func (s *Server) ListDocuments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CompanyID string `form:"company_id"`
		Category  string `form:"category"`
		Direction string `form:"direction"`
		From      string `form:"from"`
		To        string `form:"to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	from, to, err := parseTimeRange(query.From, query.To)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.documents.List(c.Request.Context(), docdomain.ListDocumentRequest{
		Pagination: query.Pagination,
		AccountID:  accountID(c),
		CompanyID:  strings.TrimSpace(query.CompanyID),
		Category:   strings.TrimSpace(query.Category),
		Direction:  strings.TrimSpace(query.Direction),
		From:       from,
		To:         to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DocumentStats(c *gin.Context) {
	var query struct {
		CompanyID string `form:"company_id"`
		Category  string `form:"category"`
		Direction string `form:"direction"`
		From      string `form:"from"`
		To        string `form:"to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	from, to, err := parseTimeRange(query.From, query.To)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.documents.Stats(c.Request.Context(), docdomain.StatsRequest{
		AccountID: accountID(c),
		CompanyID: strings.TrimSpace(query.CompanyID),
		Category:  strings.TrimSpace(query.Category),
		Direction: strings.TrimSpace(query.Direction),
		From:      from,
		To:        to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDocument(c *gin.Context) {
	resp, err := s.documents.Get(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDocumentEvents(c *gin.Context) {
	resp, err := s.documents.Events(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DownloadDocumentXML(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := s.documents.Get(ctx, accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	content, err := s.documents.Content(ctx, accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", attachment(doc.Reference()+".xml"))
	c.Data(http.StatusOK, "application/xml", content)
}

func (s *Server) RenderDocumentPDF(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := s.documents.Get(ctx, accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	pdf, err := s.documents.Render(ctx, accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", attachment(doc.Reference()+".pdf"))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}
