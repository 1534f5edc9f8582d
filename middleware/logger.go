package middleware

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// sensitiveQueryParams 不写入访问日志的查询参数
var sensitiveQueryParams = []string{"access_token"}

// RequestLogger 与 gin 默认日志格式一致，但会隐藏查询参数中的 token
func RequestLogger() gin.HandlerFunc {
	return requestLogger(gin.DefaultWriter)
}

func requestLogger(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: out,
		Formatter: func(p gin.LogFormatterParams) string {
			return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
				p.TimeStamp.Format("2006/01/02 - 15:04:05"),
				p.StatusCode,
				p.Latency,
				p.ClientIP,
				p.Method,
				redactQuery(p.Path),
				p.ErrorMessage,
			)
		},
	})
}

// redactQuery 将路径中敏感查询参数的值替换为 REDACTED
func redactQuery(path string) string {
	base, rawQuery, ok := strings.Cut(path, "?")
	if !ok {
		return path
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return base + "?REDACTED"
	}
	changed := false
	for _, key := range sensitiveQueryParams {
		if values.Has(key) {
			values.Set(key, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return path
	}
	return base + "?" + values.Encode()
}
