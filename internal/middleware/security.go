package middleware

import "github.com/gin-gonic/gin"

// DefaultContentSecurityPolicy restricts resources to same origin; the
// authorization QR code is served as a same-origin PNG.
const DefaultContentSecurityPolicy = "default-src 'self'; img-src 'self' data:; connect-src 'self' ws: wss:"

// SecurityHeaders applies response headers against clickjacking and MIME
// sniffing. HSTS is left to a TLS-terminating proxy since the service usually
// listens on a plain LAN address.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", DefaultContentSecurityPolicy)
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Next()
	}
}
