package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"fieldgate/logger"
	"fieldgate/middleware/security"
	"fieldgate/module/model"
	"fieldgate/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HistoryReader is the read side of the chat service.
type HistoryReader interface {
	History(ctx context.Context, workerID string, limit int) ([]model.ChatMessage, error)
}

// History serves GET /api/chat/:workerId/messages. It expects
// security.Middleware in front of it; workers may only read their own
// conversation.
func History(svc HistoryReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := security.IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("no identity"))
			return
		}
		workerID := strings.TrimSpace(c.Param("workerId"))
		if who.IsWorker() && workerID != who.ID {
			c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrForbidden.WithDetail("not your conversation"))
			return
		}

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail("limit"))
				return
			}
			limit = n
		}

		msgs, err := svc.History(c.Request.Context(), workerID, limit)
		if err != nil {
			ce, ok := errs.As(err)
			if !ok {
				ce = errs.ErrServerInternal.WithDetail("")
			}
			status := http.StatusInternalServerError
			switch ce.Code {
			case errs.CodeBadRequest:
				status = http.StatusBadRequest
			case errs.CodeUpstreamUnavailable:
				status = http.StatusServiceUnavailable
			}
			logger.Warn("[History] read failed", zap.String("worker", workerID), zap.Error(err))
			c.AbortWithStatusJSON(status, ce)
			return
		}
		if msgs == nil {
			msgs = []model.ChatMessage{}
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	}
}
