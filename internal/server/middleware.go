package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fiscalsync/internal/audit/domain"
	obscontext "github.com/smallbiznis/fiscalsync/internal/observability/context"
)

const (
	HeaderAccount     = "X-Account-Id"
	contextAccountKey = "account_id"
)

// AccountRequired resolves the tenant from X-Account-Id. There is no
// authentication here; the header is trusted as sent by the gateway.
func AccountRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := strings.TrimSpace(c.GetHeader(HeaderAccount))
		if accountID == "" {
			AbortWithError(c, ErrMissingAccount)
			return
		}

		c.Set(contextAccountKey, accountID)
		ctx := obscontext.WithAccountID(c.Request.Context(), accountID)
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeUser), accountID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func accountID(c *gin.Context) string {
	return c.GetString(contextAccountKey)
}
