// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

// fail 将错误映射为状态码与用户可见的信息，5xx 记为 error，其余记为 warn。
func fail(c *gin.Context, action string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s: error: %v", action, err)
	} else {
		log.Warnf("%s: error: %v", action, err)
	}
	c.JSON(status, gin.H{"code": status, "message": apperr.Message(err), "data": nil})
}

func badRequest(c *gin.Context, action string, err error) {
	log.Warnf("%s: Invalid request payload, error: %v", action, err)
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Invalid request payload", "data": nil})
}
