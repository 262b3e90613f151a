package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/os-climate/osc-dm-proxy-srv/internal/config"
)

// corsContext holds pre-computed values for the CORS middleware.
type corsContext struct {
	cfg              config.CORSConfig
	allowAllOrigins  bool
	allowMethodsStr  string
	allowHeadersStr  string
	maxAgeStr        string
	allowCredentials bool
}

func newCORSContext(cfg config.CORSConfig) *corsContext {
	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	}
	if len(cfg.AllowHeaders) == 0 {
		cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	}

	allowAllOrigins := false
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			allowAllOrigins = true
			break
		}
	}

	return &corsContext{
		cfg:              cfg,
		allowAllOrigins:  allowAllOrigins,
		allowMethodsStr:  strings.Join(cfg.AllowMethods, ", "),
		allowHeadersStr:  strings.Join(cfg.AllowHeaders, ", "),
		maxAgeStr:        strconv.Itoa(int(cfg.MaxAge.Duration().Seconds())),
		allowCredentials: cfg.AllowCredentials,
	}
}

func (ctx *corsContext) setCommonHeaders(c *gin.Context, origin string) {
	if ctx.allowAllOrigins && !ctx.allowCredentials {
		c.Header("Access-Control-Allow-Origin", "*")
	} else {
		c.Header("Access-Control-Allow-Origin", origin)
	}

	if ctx.allowCredentials {
		c.Header("Access-Control-Allow-Credentials", "true")
	}
}

func (ctx *corsContext) setPreflightHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Methods", ctx.allowMethodsStr)
	c.Header("Access-Control-Allow-Headers", ctx.allowHeadersStr)
	c.Header("Access-Control-Max-Age", ctx.maxAgeStr)
}

// CORS returns a middleware that handles cross-origin requests per
// the proxy CORS configuration. Requests from disallowed origins pass
// through without CORS headers; the browser enforces the denial.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	ctx := newCORSContext(cfg)

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin == "" {
			c.Next()
			return
		}

		allowed := ctx.allowAllOrigins
		if !allowed {
			allowed = isOriginAllowed(origin, ctx.cfg.AllowOrigins)
		}

		if !allowed {
			c.Next()
			return
		}

		ctx.setCommonHeaders(c, origin)

		if c.Request.Method == http.MethodOptions {
			ctx.setPreflightHeaders(c)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// isOriginAllowed checks the origin against the allowed list,
// honoring leading or trailing wildcard entries such as
// "http://*.example.com".
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if allowed == origin {
			return true
		}

		if strings.Contains(allowed, "*") {
			pattern := strings.ReplaceAll(allowed, "*", "")
			if strings.HasPrefix(allowed, "*") && strings.HasSuffix(origin, pattern) {
				return true
			}
			if strings.HasSuffix(allowed, "*") && strings.HasPrefix(origin, pattern) {
				return true
			}
		}
	}
	return false
}
