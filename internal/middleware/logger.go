package middleware

import (
	"bytes"
	"github.com/gin-gonic/gin"
	"io"
	"time"
	"tradeflow/internal/consts"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/utils"
)

// 请求体只记录前面一部分
const maxLoggedBody = 2048

func Logger(c *gin.Context) {
	// 请求前
	t := time.Now()
	reqPath := c.Request.URL.Path
	reqId := c.GetString(consts.RequestId)
	method := c.Request.Method
	ip := c.ClientIP()
	requestBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		requestBody = []byte{}
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))

	body := requestBody
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody]
	}
	logger.Info("[Request Start]",
		logger.Pair(consts.RequestId, reqId),
		logger.Pair("host", ip),
		logger.Pair("path", reqPath),
		logger.Pair("method", method),
		logger.Pair("body", utils.ValidUTF8String(string(body))))

	c.Next()
	// 请求后
	latency := time.Since(t)
	logger.Info("[Request End]",
		logger.Pair(consts.RequestId, reqId),
		logger.Pair("path", reqPath),
		logger.Pair("status", c.Writer.Status()),
		logger.Pair("cost", latency))
}
