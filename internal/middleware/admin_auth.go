package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/adhtanjung/productphoto/internal/utils"
)

// AdminAuth guards the job-management and processor-lifecycle routes with
// a single shared bearer token (spec §6 ambient addition: the core has
// no end-user authentication, but an admin API cannot be left open).
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.SendError(c, http.StatusUnauthorized, "missing or malformed Authorization header", nil)
			return
		}

		given := parts[1]
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			utils.SendError(c, http.StatusUnauthorized, "invalid admin token", nil)
			return
		}

		c.Next()
	}
}
