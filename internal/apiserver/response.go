package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/chat-relay/go-chat-v2/pkg/errors"
	"github.com/chat-relay/go-chat-v2/pkg/logger"
)

// 统一响应辅助 (所有 handler 共用)。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "not_found", "message": message}})
}

func serverError(c *gin.Context, err error) {
	logger.Error("apiserver: internal error",
		logger.FieldError, err,
		logger.FieldPath, c.Request.URL.Path,
	)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "internal_error", "message": "internal server error"}})
}

// writeDomainError 按哨兵错误映射 HTTP 状态。
func writeDomainError(c *gin.Context, err error) {
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		notFound(c, err.Error())
	case apperrors.Is(err, apperrors.ErrInvalidInput):
		badRequest(c, "invalid_input", err.Error())
	case apperrors.Is(err, apperrors.ErrNoTarget):
		badRequest(c, "no_target", err.Error())
	default:
		serverError(c, err)
	}
}
