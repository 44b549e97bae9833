package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/fiscalsync/internal/observability/context"
	"github.com/smallbiznis/fiscalsync/internal/ratelimit"
	syncdomain "github.com/smallbiznis/fiscalsync/internal/sync/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"go.uber.org/zap"
)

type triggerSyncRequest struct {
	Scope string `json:"scope" binding:"required"`
}

// TriggerSync runs one pass inline. A pass that started but failed still
// returns its finalized run next to the error.
func (s *Server) TriggerSync(c *gin.Context) {
	var req triggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	companyID := c.Param("id")
	scope := strings.TrimSpace(req.Scope)
	ctx := obscontext.WithCompanyID(c.Request.Context(), companyID)
	if !s.allowTrigger(c, companyID, scope) {
		return
	}

	run, err := s.sync.Trigger(ctx, syncdomain.TriggerRequest{
		AccountID: accountID(c),
		CompanyID: companyID,
		Scope:     scope,
	})
	if err != nil {
		if run.ID == 0 {
			AbortWithError(c, err)
			return
		}
		_ = c.Error(err)
		status, payload := mapError(err)
		c.AbortWithStatusJSON(status, gin.H{"data": run, "error": payload})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": run})
}

// allowTrigger aborts with 429 once the manual allowance is spent. A limiter
// backend failure lets the request through.
func (s *Server) allowTrigger(c *gin.Context, companyID, scope string) bool {
	res, err := s.limiter.Allow(c.Request.Context(), accountID(c), companyID, scope)
	if err != nil {
		s.log.Warn("sync trigger limiter unavailable", zap.Error(err))
		return true
	}
	if res.Allowed {
		return true
	}
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	AbortWithError(c, ratelimit.ErrLimited)
	return false
}

func (s *Server) ListSyncRuns(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CompanyID string `form:"company_id"`
		Scope     string `form:"scope"`
		Status    string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.sync.List(c.Request.Context(), syncdomain.ListSyncRunRequest{
		Pagination: query.Pagination,
		AccountID:  accountID(c),
		CompanyID:  strings.TrimSpace(query.CompanyID),
		Scope:      strings.TrimSpace(query.Scope),
		Status:     strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSyncRun(c *gin.Context) {
	resp, err := s.sync.Get(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
