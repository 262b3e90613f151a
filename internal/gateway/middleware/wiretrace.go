package middleware

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"sync/atomic"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
)

// wireTraceBodyLimit caps how much of a body is reproduced in a trace
// entry. Bodies are forwarded in full regardless.
const wireTraceBodyLimit = 64 * 1024

// bodylessMethods are request methods whose bodies are not traced.
var bodylessMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"OPTIONS": true,
}

// bodyCaptureWriter tees the response body into a buffer, up to the
// trace body limit.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCaptureWriter) Write(p []byte) (int, error) {
	if remaining := wireTraceBodyLimit - w.buf.Len(); remaining > 0 {
		if len(p) <= remaining {
			w.buf.Write(p)
		} else {
			w.buf.Write(p[:remaining])
		}
	}
	return w.ResponseWriter.Write(p)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	if remaining := wireTraceBodyLimit - w.buf.Len(); remaining > 0 {
		if len(s) <= remaining {
			w.buf.WriteString(s)
		} else {
			w.buf.WriteString(s[:remaining])
		}
	}
	return w.ResponseWriter.WriteString(s)
}

// WireTrace returns a middleware that logs every request and its
// response with a shared sequence number, so a paired
// "TRACE REQ-n" / "TRACE RSP-n" can be followed through the logs.
// Bodies that are not valid UTF-8 are base64 encoded.
func WireTrace(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	var seq atomic.Int64

	return func(c *gin.Context) {
		n := seq.Add(1) - 1

		reqFields := []observability.Field{
			observability.String("url", c.Request.URL.String()),
			observability.String("method", c.Request.Method),
			observability.Any("headers", c.Request.Header),
			observability.Any("parameters", c.Request.URL.Query()),
		}

		if !bodylessMethods[c.Request.Method] && c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err == nil {
				c.Request.Body = io.NopCloser(bytes.NewReader(body))
				reqFields = append(reqFields, observability.String("body", safeDecode(body)))
			}
		}

		logger.Info(fmt.Sprintf("TRACE REQ-%d", n), reqFields...)

		capture := &bodyCaptureWriter{ResponseWriter: c.Writer}
		c.Writer = capture

		c.Next()

		respBody := "No Body"
		if capture.buf.Len() > 0 {
			respBody = safeDecode(capture.buf.Bytes())
		}

		logger.Info(fmt.Sprintf("TRACE RSP-%d", n),
			observability.Int("status", capture.Status()),
			observability.String("body", respBody))
	}
}

// safeDecode renders a body for logging, truncated to the trace body
// limit.
func safeDecode(body []byte) string {
	if len(body) > wireTraceBodyLimit {
		body = body[:wireTraceBodyLimit]
	}
	if utf8.Valid(body) {
		return string(body)
	}
	return base64.StdEncoding.EncodeToString(body)
}
