// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"time"

	"ai-tutor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

const maxLoggedBody = 2048

// 请求体中的密码和 token 在写日志前被替换
var secretFields = regexp.MustCompile(`("(?:password|oldPassword|newPassword|refreshToken|token|apiKey)"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// WebSocket 地址 /chat/<jwt> 中的 token 段
var secretPath = regexp.MustCompile(`^(/chat/)[^/]+`)

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if w.body.Len() < maxLoggedBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// 只记录 JSON 请求体，敏感字段被替换，过长的内容被截断。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var requestBody []byte
		if c.Request.Body != nil && isJSON(c.ContentType()) {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		responseBody := ""
		if isJSON(c.Writer.Header().Get("Content-Type")) {
			responseBody = RedactBody(blw.body.String())
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", RedactPath(c.Request.URL.Path),
			"requestBody", RedactBody(string(requestBody)),
			"responseBody", responseBody,
		)
	}
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}

// RedactPath 隐藏路径中携带的 token。
func RedactPath(path string) string {
	return secretPath.ReplaceAllString(path, `$1***`)
}

// RedactBody 替换敏感字段并截断过长的内容。
func RedactBody(body string) string {
	body = secretFields.ReplaceAllString(body, `$1"***"`)
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody] + "...(truncated)"
	}
	return body
}
