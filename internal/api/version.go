// Package api provides API version negotiation for TrustSignal services
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAPIVersion carries the API version on requests and responses.
	HeaderAPIVersion = "X-API-Version"

	// DefaultAPIVersion is used when the caller does not negotiate one.
	DefaultAPIVersion = "1.0"
)

// VersionMiddleware stamps every response with the served API version and
// rejects requests negotiating an unsupported one with 406.
func VersionMiddleware(version string, supported []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(HeaderAPIVersion, version)

		if requested := c.GetHeader(HeaderAPIVersion); requested != "" {
			if !isVersionSupported(requested, supported) {
				c.AbortWithStatusJSON(http.StatusNotAcceptable, gin.H{
					"error":              "unsupported_api_version",
					"message":            "Requested API version is not supported",
					"supported_versions": supported,
				})
				return
			}
			c.Set("api_version", requested)
		} else {
			c.Set("api_version", version)
		}

		c.Next()
	}
}

// isVersionSupported accepts both "1" and "1.0" style version values.
func isVersionSupported(version string, supported []string) bool {
	for _, v := range supported {
		if v == version || strings.HasPrefix(v, version+".") {
			return true
		}
	}
	return false
}

// GetVersion extracts the negotiated API version from the gin context.
func GetVersion(c *gin.Context) string {
	if v, exists := c.Get("api_version"); exists {
		if version, ok := v.(string); ok {
			return version
		}
	}
	return DefaultAPIVersion
}

// StandardVersionMiddleware returns the middleware for the v1 scoring API.
func StandardVersionMiddleware() gin.HandlerFunc {
	return VersionMiddleware("1.0", []string{"1.0", "1"})
}
